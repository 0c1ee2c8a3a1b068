// Package symlink places and removes the managed symlinks. The engine is
// the only code that touches symlink targets in the home directory, and
// it refuses to touch anything the tracking ledger does not claim.
package symlink

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dotstate/dotstate/pkg/backup"
	"github.com/dotstate/dotstate/pkg/errors"
	"github.com/dotstate/dotstate/pkg/fsutil"
	"github.com/dotstate/dotstate/pkg/logging"
	"github.com/dotstate/dotstate/pkg/paths"
	"github.com/dotstate/dotstate/pkg/tracking"
)

// OpStatus is the outcome of a single symlink operation.
type OpStatus string

const (
	StatusSuccess OpStatus = "success"
	StatusSkipped OpStatus = "skipped"
	StatusFailed  OpStatus = "failed"
)

// Op records one symlink create or remove.
type Op struct {
	Source    string
	Target    string
	Backup    *string
	Status    OpStatus
	Reason    string
	Timestamp time.Time
}

// RemoveMode controls what happens at the target after a symlink is
// taken down.
type RemoveMode int

const (
	// RestoreFromRepo puts the repo's copy back at the target. The repo
	// wins over any recorded backup.
	RestoreFromRepo RemoveMode = iota
	// RemoveOnly leaves nothing at the target.
	RemoveOnly
)

// SwitchReport summarizes a profile switch.
type SwitchReport struct {
	Removed []Op
	Created []Op
	Errors  []OpError
	// RollbackPerformed is always false: a failed switch is left
	// partially applied and reported, not rolled back. Re-running the
	// switch resumes it.
	RollbackPerformed bool
}

// OpError pairs a target path with what went wrong there.
type OpError struct {
	Target  string
	Message string
}

// SwitchPreview lists what a switch would do without doing it.
type SwitchPreview struct {
	WillRemove []string
	WillCreate [][2]string // target, source
	Conflicts  []string
}

// EnsureReport summarizes an idempotent reconciliation pass.
type EnsureReport struct {
	Created []Op
	Skipped []Op
	Errors  []OpError
}

// Engine creates and removes managed symlinks, keeping the tracking
// ledger in step with the filesystem.
type Engine struct {
	paths  paths.Paths
	store  *backup.Store
	ledger *tracking.Ledger
}

// NewEngine loads the tracking ledger and returns an engine.
func NewEngine(p paths.Paths, store *backup.Store) (*Engine, error) {
	ledger, err := tracking.Load(p.TrackingFilePath())
	if err != nil {
		return nil, err
	}
	return &Engine{paths: p, store: store, ledger: ledger}, nil
}

// Ledger exposes the in-memory ledger, mainly for diagnostics.
func (e *Engine) Ledger() *tracking.Ledger { return e.ledger }

// ActiveProfile returns the ledger's active profile, "" when none.
func (e *Engine) ActiveProfile() string { return e.ledger.ActiveProfile }

// SaveLedger persists the ledger.
func (e *Engine) SaveLedger() error {
	return e.ledger.Save(e.paths.TrackingFilePath())
}

// IsOurs reports whether target is a symlink the ledger claims.
func (e *Engine) IsOurs(target string) bool {
	if !e.ledger.Claims(target) {
		return false
	}
	info, err := os.Lstat(target)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

// Create places a symlink target -> source, handling whatever already
// sits at the target. Anything displaced is backed up into the session
// under logicalName. The session may be nil, in which case nothing is
// backed up.
//
// An existing symlink that already resolves to source is left alone and
// reported as skipped. A dangling symlink is removed without a backup.
func (e *Engine) Create(source, target, logicalName string, session *backup.Session) Op {
	logger := logging.GetLogger("symlink")
	op := Op{Source: source, Target: target, Timestamp: time.Now().UTC()}

	if _, err := os.Lstat(source); err != nil {
		op.Status = StatusFailed
		op.Reason = "source missing"
		return op
	}

	info, err := os.Lstat(target)
	switch {
	case err == nil && info.Mode()&os.ModeSymlink != 0:
		linkDest, readErr := os.Readlink(target)
		if readErr != nil {
			op.Status = StatusFailed
			op.Reason = "failed to read existing symlink: " + readErr.Error()
			return op
		}
		resolved := linkDest
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(filepath.Dir(target), resolved)
		}
		if sameFile(resolved, source) {
			op.Status = StatusSkipped
			op.Reason = "already correct"
			return op
		}
		if _, statErr := os.Lstat(resolved); statErr == nil {
			// link points somewhere real, save what it points at
			if session != nil {
				if backupPath, backupErr := session.Backup(resolved, logicalName); backupErr != nil {
					logger.Warn().Err(backupErr).Str("path", resolved).Msg("Backup failed, continuing")
				} else if backupPath != "" {
					op.Backup = &backupPath
				}
			}
		}
		if rmErr := os.Remove(target); rmErr != nil {
			op.Status = StatusFailed
			op.Reason = "failed to remove existing symlink: " + rmErr.Error()
			return op
		}

	case err == nil:
		// regular file or directory in the way
		if session != nil {
			if backupPath, backupErr := session.Backup(target, logicalName); backupErr != nil {
				logger.Warn().Err(backupErr).Str("path", target).Msg("Backup failed, continuing")
			} else if backupPath != "" {
				op.Backup = &backupPath
			}
		}
		var rmErr error
		if info.IsDir() {
			rmErr = os.RemoveAll(target)
		} else {
			rmErr = os.Remove(target)
		}
		if rmErr != nil {
			op.Status = StatusFailed
			op.Reason = "failed to remove existing target: " + rmErr.Error()
			return op
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		op.Status = StatusFailed
		op.Reason = "failed to create parent directory: " + err.Error()
		return op
	}
	if err := os.Symlink(source, target); err != nil {
		op.Status = StatusFailed
		op.Reason = "failed to create symlink: " + err.Error()
		return op
	}

	logger.Debug().Str("target", target).Str("source", source).Msg("Symlink created")
	op.Status = StatusSuccess
	return op
}

// sameFile reports whether two paths canonicalize to the same file.
func sameFile(a, b string) bool {
	ca, errA := filepath.EvalSymlinks(a)
	cb, errB := filepath.EvalSymlinks(b)
	return errA == nil && errB == nil && ca == cb
}

// Remove takes down one tracked symlink. Targets that are gone or are
// not symlinks we own are skipped, never touched.
func (e *Engine) Remove(entry tracking.Entry, mode RemoveMode) Op {
	logger := logging.GetLogger("symlink")
	op := Op{Source: entry.Source, Target: entry.Target, Backup: entry.Backup, Timestamp: time.Now().UTC()}

	if _, err := os.Lstat(entry.Target); err != nil {
		op.Status = StatusSkipped
		op.Reason = "already gone"
		return op
	}
	if !e.IsOurs(entry.Target) {
		op.Status = StatusSkipped
		op.Reason = "not ours"
		return op
	}

	if err := os.Remove(entry.Target); err != nil {
		op.Status = StatusFailed
		op.Reason = "failed to remove symlink: " + err.Error()
		return op
	}

	if mode == RestoreFromRepo {
		switch {
		case exists(entry.Source):
			if err := fsutil.CopyAny(entry.Source, entry.Target); err != nil {
				op.Status = StatusFailed
				op.Reason = "failed to restore from repo: " + err.Error()
				return op
			}
		case entry.Backup != nil && exists(*entry.Backup):
			if err := os.Rename(*entry.Backup, entry.Target); err != nil {
				op.Status = StatusFailed
				op.Reason = "failed to restore backup: " + err.Error()
				return op
			}
		default:
			logger.Warn().Str("target", entry.Target).Msg("Nothing to restore, target left absent")
		}
	}

	op.Status = StatusSuccess
	return op
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// ActivateProfile creates symlinks for every profile file and every
// common file, records successes in the ledger and marks the profile
// active. Files are processed in the order given.
func (e *Engine) ActivateProfile(profile string, files, commonFiles []string) ([]Op, error) {
	session := e.store.OpenSession()
	var ops []Op

	for _, rel := range files {
		ops = append(ops, e.createTracked(e.paths.ProfileFilePath(profile, rel), rel, session))
	}
	for _, rel := range commonFiles {
		ops = append(ops, e.createTracked(e.paths.CommonFilePath(rel), rel, session))
	}

	e.ledger.ActiveProfile = profile
	if err := e.SaveLedger(); err != nil {
		return ops, err
	}

	logger := logging.GetLogger("symlink")
	logger.Info().
		Str("profile", profile).
		Int("operations", len(ops)).
		Msg("Profile activated")
	return ops, nil
}

func (e *Engine) createTracked(source, rel string, session *backup.Session) Op {
	target := e.paths.HomeFilePath(rel)
	op := e.Create(source, target, paths.NormalizeRel(rel), session)
	if op.Status == StatusSuccess {
		e.ledger.Append(tracking.Entry{
			Target:    target,
			Source:    source,
			CreatedAt: op.Timestamp,
			Backup:    op.Backup,
		})
	}
	return op
}

// AddLink places one tracked symlink and persists the ledger.
func (e *Engine) AddLink(source, rel string, session *backup.Session) (Op, error) {
	op := e.createTracked(source, rel, session)
	if op.Status == StatusFailed {
		return op, errors.New(errors.ErrSymlinkCreate, op.Reason)
	}
	return op, e.SaveLedger()
}

// Untrack drops the ledger entry for target and persists. The symlink
// itself must already have been dealt with by the caller.
func (e *Engine) Untrack(target string) error {
	e.ledger.Remove(target)
	return e.SaveLedger()
}

// Deactivate removes every ledger entry sourced from the profile's repo
// directory or the common pool, drops the entries and clears the active
// profile.
func (e *Engine) Deactivate(profile string, mode RemoveMode) ([]Op, error) {
	profilePrefix := e.paths.ProfileDir(profile) + string(filepath.Separator)
	commonPrefix := e.paths.CommonDir() + string(filepath.Separator)

	var ops []Op
	for _, entry := range e.ledger.Symlinks {
		if strings.HasPrefix(entry.Source, profilePrefix) || strings.HasPrefix(entry.Source, commonPrefix) {
			ops = append(ops, e.Remove(entry, mode))
		}
	}

	e.ledger.Filter(func(entry tracking.Entry) bool {
		return !strings.HasPrefix(entry.Source, profilePrefix) && !strings.HasPrefix(entry.Source, commonPrefix)
	})
	e.ledger.ActiveProfile = ""

	if err := e.SaveLedger(); err != nil {
		return ops, err
	}
	return ops, nil
}

// Switch deactivates one profile and activates another. A failure during
// activation is reported, not rolled back; re-running the switch picks
// up where it stopped.
func (e *Engine) Switch(from, to string, toFiles, commonFiles []string) (*SwitchReport, error) {
	report := &SwitchReport{}

	removed, err := e.Deactivate(from, RestoreFromRepo)
	report.Removed = removed
	if err != nil {
		return report, err
	}

	created, err := e.ActivateProfile(to, toFiles, commonFiles)
	report.Created = created
	for _, op := range created {
		if op.Status == StatusFailed {
			report.Errors = append(report.Errors, OpError{Target: op.Target, Message: op.Reason})
		}
	}
	return report, err
}

// PreviewSwitch reports what Switch would do, reading only.
func (e *Engine) PreviewSwitch(from, to string, toFiles, commonFiles []string) *SwitchPreview {
	preview := &SwitchPreview{}

	profilePrefix := e.paths.ProfileDir(from) + string(filepath.Separator)
	commonPrefix := e.paths.CommonDir() + string(filepath.Separator)
	for _, entry := range e.ledger.Symlinks {
		if strings.HasPrefix(entry.Source, profilePrefix) || strings.HasPrefix(entry.Source, commonPrefix) {
			preview.WillRemove = append(preview.WillRemove, entry.Target)
		}
	}

	addCreate := func(source, rel string) {
		target := e.paths.HomeFilePath(rel)
		if info, err := os.Lstat(target); err == nil {
			if info.Mode()&os.ModeSymlink == 0 && !e.ledger.Claims(target) {
				preview.Conflicts = append(preview.Conflicts, target)
			}
		}
		preview.WillCreate = append(preview.WillCreate, [2]string{target, source})
	}
	for _, rel := range toFiles {
		addCreate(e.paths.ProfileFilePath(to, rel), rel)
	}
	for _, rel := range commonFiles {
		addCreate(e.paths.CommonFilePath(rel), rel)
	}
	return preview
}

// EnsureProfileSymlinks reconciles the profile's symlinks, creating any
// that are missing. Links already in place are reported as skipped.
func (e *Engine) EnsureProfileSymlinks(profile string, files []string) (*EnsureReport, error) {
	return e.ensure(func(rel string) string {
		return e.paths.ProfileFilePath(profile, rel)
	}, files)
}

// EnsureCommonSymlinks reconciles the common pool's symlinks.
func (e *Engine) EnsureCommonSymlinks(files []string) (*EnsureReport, error) {
	return e.ensure(e.paths.CommonFilePath, files)
}

func (e *Engine) ensure(sourceFor func(string) string, files []string) (*EnsureReport, error) {
	session := e.store.OpenSession()
	report := &EnsureReport{}

	for _, rel := range files {
		op := e.createTracked(sourceFor(rel), rel, session)
		switch op.Status {
		case StatusSuccess:
			report.Created = append(report.Created, op)
		case StatusSkipped:
			report.Skipped = append(report.Skipped, op)
		case StatusFailed:
			report.Errors = append(report.Errors, OpError{Target: op.Target, Message: op.Reason})
		}
	}

	if err := e.SaveLedger(); err != nil {
		return report, err
	}
	return report, nil
}

// RenameProfile rewrites every ledger entry sourced under the old
// profile directory to the new one and repoints the links on disk. The
// repo directory must already have been renamed.
func (e *Engine) RenameProfile(oldName, newName string) error {
	oldPrefix := e.paths.ProfileDir(oldName) + string(filepath.Separator)
	newDir := e.paths.ProfileDir(newName)

	for i := range e.ledger.Symlinks {
		entry := &e.ledger.Symlinks[i]
		if !strings.HasPrefix(entry.Source, oldPrefix) {
			continue
		}
		newSource := filepath.Join(newDir, strings.TrimPrefix(entry.Source, oldPrefix))
		if err := os.Remove(entry.Target); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, errors.ErrFileAccess, "failed to remove symlink %s", entry.Target)
		}
		if err := os.Symlink(newSource, entry.Target); err != nil {
			return errors.Wrapf(err, errors.ErrSymlinkCreate, "failed to recreate symlink %s", entry.Target)
		}
		entry.Source = newSource
	}

	if e.ledger.ActiveProfile == oldName {
		e.ledger.ActiveProfile = newName
	}
	return e.SaveLedger()
}
