// Package profiles implements profile lifecycle operations: create,
// rename, delete, switch and activation. Profile definitions live in the
// repository manifest; the active profile is machine-local state.
package profiles

import (
	"os"
	"path/filepath"

	"github.com/dotstate/dotstate/pkg/errors"
	"github.com/dotstate/dotstate/pkg/fsutil"
	"github.com/dotstate/dotstate/pkg/logging"
	"github.com/dotstate/dotstate/pkg/manifest"
	"github.com/dotstate/dotstate/pkg/paths"
	"github.com/dotstate/dotstate/pkg/symlink"
)

// SwitchResult summarizes a profile switch for the caller.
type SwitchResult struct {
	RemovedCount int
	CreatedCount int
	Errors       []symlink.OpError
	Packages     []manifest.Package
}

// ActivationResult reports an initial activation. Packages are returned
// so the caller can kick off a package probe.
type ActivationResult struct {
	SuccessCount int
	Packages     []manifest.Package
}

// Service performs profile operations against one repository.
type Service struct {
	paths  paths.Paths
	engine *symlink.Engine
}

// NewService returns a profile service.
func NewService(p paths.Paths, engine *symlink.Engine) *Service {
	return &Service{paths: p, engine: engine}
}

// List returns all profiles from the manifest.
func (s *Service) List() ([]manifest.Profile, error) {
	m, err := manifest.LoadOrBackfill(s.paths.RepoRoot())
	if err != nil {
		return nil, err
	}
	return m.Profiles, nil
}

// Get returns one profile, or a ProfileNotFound error.
func (s *Service) Get(name string) (*manifest.Profile, error) {
	m, err := manifest.LoadOrBackfill(s.paths.RepoRoot())
	if err != nil {
		return nil, err
	}
	p := m.Profile(name)
	if p == nil {
		return nil, errors.Newf(errors.ErrProfileNotFound, "profile '%s' not found", name)
	}
	return p, nil
}

// Create makes a new profile directory and manifest entry. When copyFrom
// names an existing profile, its files and synced list are carried over.
// Returns the sanitized name actually used.
func (s *Service) Create(name string, description *string, copyFrom string) (string, error) {
	logger := logging.GetLogger("profiles")
	repoRoot := s.paths.RepoRoot()

	sanitized := SanitizeName(name)
	if sanitized == "" {
		return "", errors.New(errors.ErrInvalidProfileName, "profile name cannot be empty")
	}

	m, err := manifest.LoadOrBackfill(repoRoot)
	if err != nil {
		return "", err
	}
	if err := ValidateName(sanitized, m.ProfileNames()); err != nil {
		return "", err
	}

	profileDir := s.paths.ProfileDir(sanitized)
	if _, err := os.Stat(profileDir); err != nil {
		if err := os.MkdirAll(profileDir, 0o755); err != nil {
			return "", errors.Wrapf(err, errors.ErrDirCreate, "failed to create profile directory %s", profileDir)
		}
	} else {
		logger.Warn().Str("profile", sanitized).Msg("Profile folder already exists, adopting it")
	}

	var syncedFiles []string
	if copyFrom != "" {
		source := m.Profile(copyFrom)
		if source == nil {
			return "", errors.Newf(errors.ErrProfileNotFound, "profile '%s' not found", copyFrom)
		}
		for _, rel := range source.SyncedFiles {
			srcFile := s.paths.ProfileFilePath(copyFrom, rel)
			destFile := s.paths.ProfileFilePath(sanitized, rel)
			if _, err := os.Lstat(srcFile); err != nil {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(destFile), 0o755); err != nil {
				return "", errors.Wrapf(err, errors.ErrDirCreate, "failed to create profile subdirectory")
			}
			if err := fsutil.CopyAny(srcFile, destFile); err != nil {
				return "", err
			}
		}
		syncedFiles = append(syncedFiles, source.SyncedFiles...)
	}

	m.AddProfile(sanitized, description)
	if err := m.UpdateSyncedFiles(sanitized, syncedFiles); err != nil {
		return "", err
	}
	if err := m.Save(repoRoot); err != nil {
		return "", err
	}

	logger.Info().Str("profile", sanitized).Msg("Profile created")
	return sanitized, nil
}

// Rename changes a profile's name, moving its repo directory. When the
// profile is active the engine repoints its symlinks too. Returns the
// sanitized new name.
func (s *Service) Rename(oldName, newName string, isActive bool) (string, error) {
	logger := logging.GetLogger("profiles")
	repoRoot := s.paths.RepoRoot()

	sanitized := SanitizeName(newName)
	if sanitized == "" {
		return "", errors.New(errors.ErrInvalidProfileName, "profile name cannot be empty")
	}

	m, err := manifest.LoadOrBackfill(repoRoot)
	if err != nil {
		return "", err
	}
	var others []string
	for _, name := range m.ProfileNames() {
		if name != oldName {
			others = append(others, name)
		}
	}
	if err := ValidateName(sanitized, others); err != nil {
		return "", err
	}
	if !m.HasProfile(oldName) {
		return "", errors.Newf(errors.ErrProfileNotFound, "profile '%s' not found", oldName)
	}

	oldDir := s.paths.ProfileDir(oldName)
	if _, err := os.Stat(oldDir); err == nil {
		if err := os.Rename(oldDir, s.paths.ProfileDir(sanitized)); err != nil {
			return "", errors.Wrapf(err, errors.ErrFileAccess, "failed to rename profile directory")
		}
	}

	if err := m.RenameProfile(oldName, sanitized); err != nil {
		return "", err
	}
	if err := m.Save(repoRoot); err != nil {
		return "", err
	}

	if isActive {
		if err := s.engine.RenameProfile(oldName, sanitized); err != nil {
			// the rename itself succeeded, the links are repaired by doctor
			logger.Error().Err(err).Msg("Failed to update symlinks after rename")
		}
	}

	logger.Info().Str("from", oldName).Str("to", sanitized).Msg("Profile renamed")
	return sanitized, nil
}

// Delete removes a profile's directory and manifest entry. The active
// profile cannot be deleted.
func (s *Service) Delete(name, activeName string) error {
	if name == activeName {
		return errors.Newf(errors.ErrCannotDeleteActive,
			"cannot delete active profile '%s', switch to another profile first", name)
	}

	repoRoot := s.paths.RepoRoot()
	m, err := manifest.LoadOrBackfill(repoRoot)
	if err != nil {
		return err
	}
	if !m.RemoveProfile(name) {
		return errors.Newf(errors.ErrProfileNotFound, "profile '%s' not found", name)
	}

	profileDir := s.paths.ProfileDir(name)
	if _, err := os.Stat(profileDir); err == nil {
		if err := os.RemoveAll(profileDir); err != nil {
			return errors.Wrapf(err, errors.ErrFileAccess, "failed to remove profile directory %s", profileDir)
		}
	}

	if err := m.Save(repoRoot); err != nil {
		return err
	}
	logger := logging.GetLogger("profiles")
	logger.Info().Str("profile", name).Msg("Profile deleted")
	return nil
}

// Switch deactivates the old profile and activates the target. Common
// symlinks are recreated for the target. Switching to the already-active
// profile is a no-op.
func (s *Service) Switch(oldName, targetName string) (*SwitchResult, error) {
	m, err := manifest.LoadOrBackfill(s.paths.RepoRoot())
	if err != nil {
		return nil, err
	}
	target := m.Profile(targetName)
	if target == nil {
		return nil, errors.Newf(errors.ErrProfileNotFound, "profile '%s' not found", targetName)
	}
	if oldName == targetName {
		return &SwitchResult{Packages: target.Packages}, nil
	}

	report, err := s.engine.Switch(oldName, targetName, target.SyncedFiles, m.Common.SyncedFiles)
	if err != nil {
		return nil, err
	}

	logger := logging.GetLogger("profiles")
	logger.Info().
		Str("from", oldName).
		Str("to", targetName).
		Int("removed", len(report.Removed)).
		Int("created", len(report.Created)).
		Msg("Profile switched")

	return &SwitchResult{
		RemovedCount: len(report.Removed),
		CreatedCount: len(report.Created),
		Errors:       report.Errors,
		Packages:     target.Packages,
	}, nil
}

// Activate performs the initial activation of a profile, creating its
// symlinks and the common pool's.
func (s *Service) Activate(name string) (*ActivationResult, error) {
	m, err := manifest.LoadOrBackfill(s.paths.RepoRoot())
	if err != nil {
		return nil, err
	}
	profile := m.Profile(name)
	if profile == nil {
		return nil, errors.Newf(errors.ErrProfileNotFound, "profile '%s' not found", name)
	}

	ops, err := s.engine.ActivateProfile(name, profile.SyncedFiles, m.Common.SyncedFiles)
	if err != nil {
		return nil, err
	}

	count := 0
	for _, op := range ops {
		if op.Status == symlink.StatusSuccess {
			count++
		}
	}
	return &ActivationResult{SuccessCount: count, Packages: profile.Packages}, nil
}

// EnsureProfileSymlinks reconciles missing symlinks for a profile, used
// after pulling from remote.
func (s *Service) EnsureProfileSymlinks(name string) (*symlink.EnsureReport, error) {
	m, err := manifest.LoadOrBackfill(s.paths.RepoRoot())
	if err != nil {
		return nil, err
	}
	profile := m.Profile(name)
	if profile == nil {
		return nil, errors.Newf(errors.ErrProfileNotFound, "profile '%s' not found", name)
	}
	return s.engine.EnsureProfileSymlinks(name, profile.SyncedFiles)
}

// EnsureCommonSymlinks reconciles missing symlinks for the common pool.
func (s *Service) EnsureCommonSymlinks() (*symlink.EnsureReport, error) {
	m, err := manifest.LoadOrBackfill(s.paths.RepoRoot())
	if err != nil {
		return nil, err
	}
	return s.engine.EnsureCommonSymlinks(m.Common.SyncedFiles)
}
