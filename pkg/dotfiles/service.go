// Package dotfiles implements the sync service: moving files between the
// home directory and the repository while keeping the manifest, the
// tracking ledger and the filesystem in agreement.
//
// The cardinal rule is copy first, delete later. A failure halfway
// through an add can leave a stray file in the repo but never a broken
// file in the home directory.
package dotfiles

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/dotstate/dotstate/pkg/backup"
	"github.com/dotstate/dotstate/pkg/errors"
	"github.com/dotstate/dotstate/pkg/fsutil"
	"github.com/dotstate/dotstate/pkg/logging"
	"github.com/dotstate/dotstate/pkg/manifest"
	"github.com/dotstate/dotstate/pkg/paths"
	"github.com/dotstate/dotstate/pkg/symlink"
)

// Outcome classifies the result of a sync operation.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeAlreadySynced    Outcome = "already_synced"
	OutcomeNotSynced        Outcome = "not_synced"
	OutcomeValidationFailed Outcome = "validation_failed"
)

// Result is the outcome of an add or remove, with the reason when
// validation refused it.
type Result struct {
	Outcome Outcome
	Reason  string
}

func success() Result { return Result{Outcome: OutcomeSuccess} }

// Dotfile is one row of a scan: a candidate or synced path with its
// current sync state.
type Dotfile struct {
	Path        string
	Description string
	Exists      bool
	Synced      bool
	IsCommon    bool
	IsCustom    bool
}

// Service coordinates manifest, ledger, backups and the symlink engine
// for single-file sync operations.
type Service struct {
	paths  paths.Paths
	engine *symlink.Engine
	store  *backup.Store
}

// NewService returns a sync service.
func NewService(p paths.Paths, engine *symlink.Engine, store *backup.Store) *Service {
	return &Service{paths: p, engine: engine, store: store}
}

// Add brings home/<rel> under sync for the given profile: the file is
// copied into the repo and replaced by a symlink, and the manifest is
// updated.
func (s *Service) Add(profile, fullPath, rel string) (Result, error) {
	return s.add(fullPath, rel, profile, false)
}

// AddToCommon is Add targeting the common pool instead of a profile.
func (s *Service) AddToCommon(profile, fullPath, rel string) (Result, error) {
	return s.add(fullPath, rel, profile, true)
}

func (s *Service) add(fullPath, rel, profile string, toCommon bool) (Result, error) {
	logger := logging.GetLogger("sync")
	rel = paths.NormalizeRel(rel)
	repoRoot := s.paths.RepoRoot()

	m, err := manifest.LoadOrBackfill(repoRoot)
	if err != nil {
		return Result{}, err
	}

	synced := s.syncedSet(m, profile)
	if synced[rel] {
		logger.Debug().Str("path", rel).Msg("Already synced")
		return Result{Outcome: OutcomeAlreadySynced}, nil
	}

	if v := validateBeforeSync(rel, fullPath, synced, repoRoot); !v.IsSafe {
		logger.Warn().Str("path", rel).Str("reason", v.Reason).Msg("Validation failed")
		return Result{Outcome: OutcomeValidationFailed, Reason: v.Reason}, nil
	}

	// follow a symlinked source to the real file
	source := fullPath
	if info, err := os.Lstat(fullPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		resolved, err := filepath.EvalSymlinks(fullPath)
		if err != nil {
			return Result{Outcome: OutcomeValidationFailed, Reason: "cannot resolve symlink: " + err.Error()}, nil
		}
		if paths.IsInside(resolved, repoRoot) {
			return Result{Outcome: OutcomeValidationFailed,
				Reason: "symlink resolves into the storage repository: " + resolved}, nil
		}
		source = resolved
	}

	var repoDest string
	if toCommon {
		repoDest = s.paths.CommonFilePath(rel)
	} else {
		repoDest = s.paths.ProfileFilePath(profile, rel)
	}
	target := s.paths.HomeFilePath(rel)

	if v := validateSymlinkCreation(source, repoDest, target); !v.IsSafe {
		logger.Warn().Str("path", rel).Str("reason", v.Reason).Msg("Symlink validation failed")
		return Result{Outcome: OutcomeValidationFailed, Reason: v.Reason}, nil
	}

	logger.Info().Str("path", rel).Str("profile", profile).Bool("common", toCommon).Msg("Adding file to sync")

	// copy first, delete later
	if err := os.MkdirAll(filepath.Dir(repoDest), 0o755); err != nil {
		return Result{}, errors.Wrapf(err, errors.ErrDirCreate, "failed to create repo directory")
	}
	if err := fsutil.CopyAny(source, repoDest); err != nil {
		return Result{}, err
	}

	session := s.store.OpenSession()
	if _, err := s.engine.AddLink(repoDest, rel, session); err != nil {
		return Result{}, err
	}

	if toCommon {
		m.AddCommonFile(rel)
	} else {
		m.AddProfile(profile, nil)
		p := m.Profile(profile)
		if err := m.UpdateSyncedFiles(profile, append(p.SyncedFiles, rel)); err != nil {
			return Result{}, err
		}
	}
	if err := m.Save(repoRoot); err != nil {
		return Result{}, err
	}

	return success(), nil
}

// Remove takes rel out of sync for the profile: the symlink is replaced
// by the repo's copy of the file, the repo copy is deleted and the
// manifest and ledger entries are dropped.
func (s *Service) Remove(profile, rel string) (Result, error) {
	return s.remove(rel, profile, false)
}

// RemoveFromCommon is Remove against the common pool.
func (s *Service) RemoveFromCommon(rel string) (Result, error) {
	return s.remove(rel, "", true)
}

func (s *Service) remove(rel, profile string, fromCommon bool) (Result, error) {
	logger := logging.GetLogger("sync")
	rel = paths.NormalizeRel(rel)
	repoRoot := s.paths.RepoRoot()

	m, err := manifest.LoadOrBackfill(repoRoot)
	if err != nil {
		return Result{}, err
	}

	var repoFile string
	if fromCommon {
		if !m.IsCommonFile(rel) {
			return Result{Outcome: OutcomeNotSynced}, nil
		}
		repoFile = s.paths.CommonFilePath(rel)
	} else {
		p := m.Profile(profile)
		if p == nil || !containsString(p.SyncedFiles, rel) {
			return Result{Outcome: OutcomeNotSynced}, nil
		}
		repoFile = s.paths.ProfileFilePath(profile, rel)
	}

	logger.Info().Str("path", rel).Bool("common", fromCommon).Msg("Removing file from sync")

	target := s.paths.HomeFilePath(rel)
	if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(target); err != nil {
			return Result{}, errors.Wrapf(err, errors.ErrFileAccess, "failed to remove symlink %s", target)
		}
		if exists(repoFile) {
			if err := fsutil.CopyAny(repoFile, target); err != nil {
				return Result{}, err
			}
		}
	}

	// only this entry, never more
	if err := s.engine.Untrack(target); err != nil {
		return Result{}, err
	}

	if exists(repoFile) {
		if err := os.RemoveAll(repoFile); err != nil {
			return Result{}, errors.Wrapf(err, errors.ErrFileAccess, "failed to remove %s from repo", repoFile)
		}
	}

	if fromCommon {
		m.RemoveCommonFile(rel)
	} else {
		p := m.Profile(profile)
		var remaining []string
		for _, f := range p.SyncedFiles {
			if f != rel {
				remaining = append(remaining, f)
			}
		}
		if err := m.UpdateSyncedFiles(profile, remaining); err != nil {
			return Result{}, err
		}
	}
	if err := m.Save(repoRoot); err != nil {
		return Result{}, err
	}

	return success(), nil
}

// MoveToCommon moves rel from the profile's tree into the common pool,
// repoints the managed symlink and purges rel from the listed profiles
// so no profile and the common pool both claim it.
func (s *Service) MoveToCommon(profile, rel string, cleanupProfiles []string) error {
	rel = paths.NormalizeRel(rel)
	repoRoot := s.paths.RepoRoot()

	m, err := manifest.LoadOrBackfill(repoRoot)
	if err != nil {
		return err
	}
	p := m.Profile(profile)
	if p == nil {
		return errors.Newf(errors.ErrProfileNotFound, "profile '%s' not found", profile)
	}
	if !containsString(p.SyncedFiles, rel) {
		return errors.Newf(errors.ErrNotSynced, "file '%s' is not synced in profile '%s'", rel, profile)
	}
	if m.IsCommonFile(rel) {
		return errors.Newf(errors.ErrAlreadySynced, "file '%s' is already in common", rel)
	}

	oldPath := s.paths.ProfileFilePath(profile, rel)
	newPath := s.paths.CommonFilePath(rel)
	if err := s.moveRepoFile(oldPath, newPath); err != nil {
		return err
	}

	if err := s.relink(newPath, rel); err != nil {
		return err
	}

	if err := m.MoveToCommon(profile, rel); err != nil {
		return err
	}
	for _, other := range cleanupProfiles {
		if other == profile {
			continue
		}
		if op := m.Profile(other); op != nil && containsString(op.SyncedFiles, rel) {
			var remaining []string
			for _, f := range op.SyncedFiles {
				if f != rel {
					remaining = append(remaining, f)
				}
			}
			if err := m.UpdateSyncedFiles(other, remaining); err != nil {
				return err
			}
			// drop the now-shadowed per-profile copy
			os.RemoveAll(s.paths.ProfileFilePath(other, rel))
		}
	}
	return m.Save(repoRoot)
}

// MoveFromCommon moves rel out of the common pool into the profile's
// tree and repoints the managed symlink.
func (s *Service) MoveFromCommon(profile, rel string) error {
	rel = paths.NormalizeRel(rel)
	repoRoot := s.paths.RepoRoot()

	m, err := manifest.LoadOrBackfill(repoRoot)
	if err != nil {
		return err
	}
	if !m.IsCommonFile(rel) {
		return errors.Newf(errors.ErrNotSynced, "file '%s' is not in common", rel)
	}
	if !m.HasProfile(profile) {
		return errors.Newf(errors.ErrProfileNotFound, "profile '%s' not found", profile)
	}

	oldPath := s.paths.CommonFilePath(rel)
	newPath := s.paths.ProfileFilePath(profile, rel)
	if err := s.moveRepoFile(oldPath, newPath); err != nil {
		return err
	}

	if err := s.relink(newPath, rel); err != nil {
		return err
	}

	if err := m.MoveFromCommon(profile, rel); err != nil {
		return err
	}
	return m.Save(repoRoot)
}

func (s *Service) moveRepoFile(oldPath, newPath string) error {
	if !exists(oldPath) {
		return errors.Newf(errors.ErrMissingSource, "repo file missing: %s", oldPath)
	}
	if exists(newPath) {
		return errors.Newf(errors.ErrTargetOccupied, "destination already exists in repository: %s", newPath)
	}
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrDirCreate, "failed to create repo directory")
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to move %s to %s", oldPath, newPath)
	}
	return nil
}

// relink repoints the managed symlink at rel to a new repo location. No
// backup session: the link being replaced is one we manage.
func (s *Service) relink(newSource, rel string) error {
	_, err := s.engine.AddLink(newSource, rel, nil)
	return err
}

// ScanDotfiles lists the curated candidates, the user's custom files and
// everything currently synced, annotated with sync state.
func (s *Service) ScanDotfiles(profile string, customFiles []string) ([]Dotfile, error) {
	m, err := manifest.LoadOrBackfill(s.paths.RepoRoot())
	if err != nil {
		return nil, err
	}

	profileSynced := map[string]bool{}
	if p := m.Profile(profile); p != nil {
		for _, f := range p.SyncedFiles {
			profileSynced[f] = true
		}
	}
	commonSynced := map[string]bool{}
	for _, f := range m.Common.SyncedFiles {
		commonSynced[f] = true
	}

	seen := map[string]bool{}
	var out []Dotfile
	add := func(rel, description string, custom bool) {
		rel = paths.NormalizeRel(rel)
		if rel == "" || seen[rel] {
			return
		}
		seen[rel] = true
		out = append(out, Dotfile{
			Path:        rel,
			Description: description,
			Exists:      exists(s.paths.HomeFilePath(rel)),
			Synced:      profileSynced[rel],
			IsCommon:    commonSynced[rel],
			IsCustom:    custom,
		})
	}

	for _, c := range DefaultCandidates {
		add(c.Path, c.Description, false)
	}
	for _, rel := range customFiles {
		add(rel, "", true)
	}
	var syncedOnly []string
	for rel := range profileSynced {
		syncedOnly = append(syncedOnly, rel)
	}
	for rel := range commonSynced {
		syncedOnly = append(syncedOnly, rel)
	}
	sort.Strings(syncedOnly)
	for _, rel := range syncedOnly {
		add(rel, "", IsCustomFile(rel))
	}
	return out, nil
}

// syncedSet is the union of the profile's synced files and the common
// pool, the set an add must not collide with.
func (s *Service) syncedSet(m *manifest.Manifest, profile string) map[string]bool {
	set := map[string]bool{}
	if p := m.Profile(profile); p != nil {
		for _, f := range p.SyncedFiles {
			set[f] = true
		}
	}
	for _, f := range m.Common.SyncedFiles {
		set[f] = true
	}
	return set
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
