package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dotstate/dotstate/pkg/backup"
	"github.com/dotstate/dotstate/pkg/config"
	"github.com/dotstate/dotstate/pkg/logging"
	"github.com/dotstate/dotstate/pkg/manifest"
	"github.com/dotstate/dotstate/pkg/paths"
	"github.com/dotstate/dotstate/pkg/profiles"
	"github.com/dotstate/dotstate/pkg/symlink"
	"github.com/dotstate/dotstate/pkg/tracking"
)

// Status classifies a diagnostic result.
type Status string

const (
	StatusPass    Status = "pass"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Fix actions applied by Fix. Each is a narrow, idempotent repair that
// never deletes user data.
const (
	FixSyncActivation = "Sync activation state"
	FixPruneTracking  = "Clean up missing symlinks from tracking"
	FixReactivate     = "Re-activate profile"
)

// Result is one diagnostic finding.
type Result struct {
	Category  string `json:"category"`
	Message   string `json:"message"`
	Status    Status `json:"status"`
	Fixable   bool   `json:"fixable"`
	FixAction string `json:"fix_action,omitempty"`
}

// RepoInspector is the read-only git surface the doctor consumes.
type RepoInspector interface {
	HasUncommittedChanges(ctx context.Context) (bool, error)
	RemoteURL(ctx context.Context, name string) (string, error)
}

// Doctor runs consistency checks across the config, manifest, tracking
// ledger and filesystem. All checks are read-only; repairs only happen
// through Fix.
type Doctor struct {
	paths paths.Paths
	cfg   *config.Config
	vcs   RepoInspector
	log   zerolog.Logger
}

// New creates a doctor. vcs may be nil, in which case the git checks
// are limited to repository detection.
func New(p paths.Paths, cfg *config.Config, vcs RepoInspector) *Doctor {
	return &Doctor{paths: p, cfg: cfg, vcs: vcs, log: logging.GetLogger("doctor")}
}

// Run executes the six check categories in order and returns every
// finding.
func (d *Doctor) Run(ctx context.Context) []Result {
	var results []Result
	results = append(results, d.checkConfig()...)
	results = append(results, d.checkActivation()...)
	results = append(results, d.checkManifest()...)
	results = append(results, d.checkTracking()...)
	results = append(results, d.checkGit(ctx)...)
	results = append(results, d.checkPermissions()...)
	return results
}

// HasErrors reports whether any result is an Error.
func HasErrors(results []Result) bool {
	for _, r := range results {
		if r.Status == StatusError {
			return true
		}
	}
	return false
}

func pass(category, message string) Result {
	return Result{Category: category, Message: message, Status: StatusPass}
}

func warn(category, message, fix string) Result {
	return Result{Category: category, Message: message, Status: StatusWarning, Fixable: fix != "", FixAction: fix}
}

func fail(category, message, fix string) Result {
	return Result{Category: category, Message: message, Status: StatusError, Fixable: fix != "", FixAction: fix}
}

func (d *Doctor) checkConfig() []Result {
	var results []Result

	if _, err := os.Stat(d.paths.ConfigFilePath()); err == nil {
		results = append(results, pass("Config", "Configuration file exists"))
	} else {
		results = append(results, fail("Config", "Configuration file missing", ""))
	}

	if _, err := os.Stat(d.cfg.RepoPath); err == nil {
		results = append(results, pass("Config", "Repository path exists"))
	} else {
		results = append(results, fail("Config",
			fmt.Sprintf("Repository path not found: %s", d.cfg.RepoPath), ""))
	}

	return results
}

func (d *Doctor) checkActivation() []Result {
	if !d.cfg.ProfileActivated {
		return []Result{pass("Activation", "No profile currently active")}
	}

	results := []Result{pass("Activation",
		fmt.Sprintf("Profile %q is marked as active in config", d.cfg.ActiveProfile))}

	ledger, err := tracking.Load(d.paths.TrackingFilePath())
	if err != nil {
		return append(results, fail("Activation",
			fmt.Sprintf("Cannot read tracking ledger: %v", err), ""))
	}

	switch {
	case ledger.ActiveProfile == d.cfg.ActiveProfile:
		results = append(results, pass("Activation", "Tracking file matches active profile"))
	case ledger.ActiveProfile == "":
		// The ledger reflects real filesystem actions, so it is
		// believed over the config.
		results = append(results, warn("Activation",
			"Config says active, but tracking file says inactive", FixSyncActivation))
	default:
		results = append(results, warn("Activation",
			fmt.Sprintf("Profile mismatch: config=%q, tracking=%q",
				d.cfg.ActiveProfile, ledger.ActiveProfile), ""))
	}

	return results
}

func (d *Doctor) checkManifest() []Result {
	m, err := manifest.Load(d.cfg.RepoPath)
	if err != nil {
		return []Result{fail("Manifest", fmt.Sprintf("Failed to load manifest: %v", err), "")}
	}

	results := []Result{pass("Manifest",
		fmt.Sprintf("Manifest loaded (%d profiles, %d common files)",
			len(m.Profiles), len(m.Common.SyncedFiles)))}

	if d.cfg.ActiveProfile == "" {
		return results
	}

	profile := m.Profile(d.cfg.ActiveProfile)
	if profile == nil {
		return append(results, fail("Manifest",
			fmt.Sprintf("Active profile %q not found in manifest", d.cfg.ActiveProfile), ""))
	}
	results = append(results, pass("Manifest", "Active profile exists in manifest"))

	var missing []string
	profileDir := filepath.Join(d.cfg.RepoPath, profile.Name)
	for _, rel := range profile.SyncedFiles {
		if _, err := os.Lstat(filepath.Join(profileDir, filepath.FromSlash(rel))); err != nil {
			missing = append(missing, rel)
		}
	}
	if len(missing) == 0 {
		results = append(results, pass("Manifest",
			fmt.Sprintf("All %d profile files exist in storage", len(profile.SyncedFiles))))
	} else {
		results = append(results, fail("Manifest",
			fmt.Sprintf("%d files missing from storage: %s", len(missing), strings.Join(missing, ", ")), ""))
	}

	return results
}

func (d *Doctor) checkTracking() []Result {
	ledger, err := tracking.Load(d.paths.TrackingFilePath())
	if err != nil {
		return []Result{fail("Tracking", fmt.Sprintf("Cannot read tracking ledger: %v", err), "")}
	}

	if !d.cfg.ProfileActivated {
		if len(ledger.Symlinks) > 0 {
			return []Result{warn("Tracking",
				fmt.Sprintf("%d files tracked but no profile is active", len(ledger.Symlinks)), "")}
		}
		return nil
	}

	if len(ledger.Symlinks) == 0 {
		return []Result{warn("Tracking",
			"No symlinks tracked, but profile is active", FixReactivate)}
	}

	results := []Result{pass("Tracking", fmt.Sprintf("%d files tracked", len(ledger.Symlinks)))}

	missing := 0
	for _, entry := range ledger.Symlinks {
		if _, err := os.Lstat(entry.Target); err != nil {
			missing++
		}
	}
	if missing > 0 {
		results = append(results, warn("Tracking",
			fmt.Sprintf("%d tracked symlinks are missing from disk", missing), FixPruneTracking))
	} else {
		results = append(results, pass("Tracking", "All tracked symlinks exist on disk"))
	}

	m, err := manifest.Load(d.cfg.RepoPath)
	if err != nil {
		return results
	}
	expected := make(map[string]bool)
	if profile := m.Profile(d.cfg.ActiveProfile); profile != nil {
		for _, rel := range profile.SyncedFiles {
			expected[rel] = true
		}
	}
	for _, rel := range m.Common.SyncedFiles {
		expected[rel] = true
	}

	var untracked []string
	for rel := range expected {
		tracked := false
		for _, entry := range ledger.Symlinks {
			if strings.HasSuffix(entry.Source, filepath.FromSlash(rel)) {
				tracked = true
				break
			}
		}
		if !tracked {
			untracked = append(untracked, rel)
		}
	}
	if len(untracked) > 0 {
		results = append(results, fail("Tracking",
			fmt.Sprintf("%d expected files are not tracked (including %s)",
				len(untracked), untracked[0]), FixReactivate))
	} else if len(expected) > 0 {
		results = append(results, pass("Tracking", "All expected files (profile + common) are tracked"))
	}

	return results
}

func (d *Doctor) checkGit(ctx context.Context) []Result {
	if !paths.IsGitRepo(d.cfg.RepoPath) {
		return []Result{warn("Git", "Not a git repository", "")}
	}

	results := []Result{pass("Git", "Valid git repository")}
	if d.vcs == nil {
		return results
	}

	if url, err := d.vcs.RemoteURL(ctx, "origin"); err != nil {
		results = append(results, warn("Git", "No remote configured", ""))
	} else {
		results = append(results, pass("Git", fmt.Sprintf("Remote 'origin': %s", url)))
	}

	if dirty, err := d.vcs.HasUncommittedChanges(ctx); err == nil {
		if dirty {
			results = append(results, warn("Git", "Uncommitted changes in repository", ""))
		} else {
			results = append(results, pass("Git", "Working tree clean"))
		}
	}

	return results
}

func (d *Doctor) checkPermissions() []Result {
	probe := filepath.Join(d.cfg.RepoPath, ".write_test")
	if err := os.WriteFile(probe, []byte("test"), 0644); err != nil {
		return []Result{fail("Permissions", fmt.Sprintf("Repository not writable: %v", err), "")}
	}
	_ = os.Remove(probe)
	return []Result{pass("Permissions", "Repository is writable")}
}

// Fix applies the repair for every fixable non-Pass result and returns
// a report of what was done.
func (d *Doctor) Fix(ctx context.Context, results []Result) []Result {
	applied := make(map[string]bool)
	var report []Result

	for _, r := range results {
		if !r.Fixable || r.Status == StatusPass || applied[r.FixAction] {
			continue
		}
		applied[r.FixAction] = true

		var err error
		switch r.FixAction {
		case FixSyncActivation:
			err = d.fixSyncActivation()
		case FixPruneTracking:
			err = d.fixPruneTracking()
		case FixReactivate:
			err = d.fixReactivate()
		default:
			continue
		}

		if err != nil {
			report = append(report, fail("Fix", fmt.Sprintf("%s: %v", r.FixAction, err), ""))
		} else {
			report = append(report, pass("Fix", r.FixAction))
		}
	}

	return report
}

func (d *Doctor) fixSyncActivation() error {
	d.cfg.ProfileActivated = false
	d.log.Info().Msg("Marking profile as inactive to match tracking state")
	return d.cfg.Save(d.paths.ConfigFilePath())
}

func (d *Doctor) fixPruneTracking() error {
	ledger, err := tracking.Load(d.paths.TrackingFilePath())
	if err != nil {
		return err
	}
	dropped := ledger.Filter(func(entry tracking.Entry) bool {
		_, err := os.Lstat(entry.Target)
		return err == nil
	})
	if dropped == 0 {
		return nil
	}
	d.log.Info().Int("dropped", dropped).Msg("Pruned missing symlinks from tracking")
	return ledger.Save(d.paths.TrackingFilePath())
}

func (d *Doctor) fixReactivate() error {
	if d.cfg.ActiveProfile == "" {
		return fmt.Errorf("no active profile set")
	}
	// Backups stay off during repair so it can run repeatedly.
	engine, err := symlink.NewEngine(d.paths, backup.NewStore(d.paths.BackupRoot(), false))
	if err != nil {
		return err
	}
	svc := profiles.NewService(d.paths, engine)
	_, err = svc.Activate(d.cfg.ActiveProfile)
	return err
}
