// Package manifest manages the profile manifest stored at the repository
// root. The manifest is the repo-side source of truth for which profiles
// exist, which files each one syncs and which packages it declares. It
// travels with the repository so every machine sees the same profiles.
package manifest

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/dotstate/dotstate/pkg/errors"
	"github.com/dotstate/dotstate/pkg/logging"
	"github.com/dotstate/dotstate/pkg/paths"
)

// Manager identifies a package manager.
type Manager string

const (
	ManagerBrew   Manager = "brew"
	ManagerApt    Manager = "apt"
	ManagerYum    Manager = "yum"
	ManagerDnf    Manager = "dnf"
	ManagerPacman Manager = "pacman"
	ManagerSnap   Manager = "snap"
	ManagerCargo  Manager = "cargo"
	ManagerNpm    Manager = "npm"
	ManagerPip    Manager = "pip"
	ManagerPip3   Manager = "pip3"
	ManagerGem    Manager = "gem"
	ManagerCustom Manager = "custom"
)

// Managers lists every supported manager.
var Managers = []Manager{
	ManagerBrew, ManagerApt, ManagerYum, ManagerDnf, ManagerPacman,
	ManagerSnap, ManagerCargo, ManagerNpm, ManagerPip, ManagerPip3,
	ManagerGem, ManagerCustom,
}

// ParseManager returns the manager for a user-supplied name.
func ParseManager(s string) (Manager, error) {
	m := Manager(strings.ToLower(s))
	for _, known := range Managers {
		if m == known {
			return m, nil
		}
	}
	return "", errors.Newf(errors.ErrPackageInvalid, "unknown package manager '%s'", s)
}

// Package is a dependency declared by a profile.
type Package struct {
	Name        string  `toml:"name"`
	Description *string `toml:"description,omitempty"`
	Manager     Manager `toml:"manager"`
	// PackageName is the name in the manager's namespace. Unset for
	// custom packages.
	PackageName *string `toml:"package_name,omitempty"`
	// BinaryName is the binary probed for on PATH.
	BinaryName string `toml:"binary_name"`
	// InstallCommand is only set for custom packages; managed packages
	// derive theirs from the manager.
	InstallCommand *string `toml:"install_command,omitempty"`
	// ExistenceCheck optionally overrides the PATH probe.
	ExistenceCheck *string `toml:"existence_check,omitempty"`
	// ManagerCheck is an optional manager-native fallback check,
	// e.g. "brew list eza".
	ManagerCheck *string `toml:"manager_check,omitempty"`
}

// Validate checks the package invariant: managed packages need a package
// name, custom packages need an install command.
func (p *Package) Validate() error {
	if p.Name == "" {
		return errors.New(errors.ErrPackageInvalid, "package name is required")
	}
	if p.Manager == ManagerCustom {
		if p.InstallCommand == nil || *p.InstallCommand == "" {
			return errors.Newf(errors.ErrPackageInvalid,
				"custom package '%s' requires an install command", p.Name)
		}
		return nil
	}
	if _, err := ParseManager(string(p.Manager)); err != nil {
		return err
	}
	if p.PackageName == nil || *p.PackageName == "" {
		return errors.Newf(errors.ErrPackageInvalid,
			"package '%s' requires a package name for manager '%s'", p.Name, p.Manager)
	}
	return nil
}

// CommonSection lists files shared across all profiles.
type CommonSection struct {
	SyncedFiles []string `toml:"synced_files"`
}

// Profile is one profile's entry in the manifest.
type Profile struct {
	Name        string    `toml:"name"`
	Description *string   `toml:"description,omitempty"`
	SyncedFiles []string  `toml:"synced_files"`
	Packages    []Package `toml:"packages,omitempty"`
}

// ReservedNames are names that can never be used for a profile. The
// comparison is case-insensitive.
var ReservedNames = []string{paths.CommonDirName}

// IsReservedName reports whether a profile name is reserved.
func IsReservedName(name string) bool {
	lower := strings.ToLower(name)
	for _, r := range ReservedNames {
		if lower == r {
			return true
		}
	}
	return false
}

// Version is the manifest schema version.
const Version = 1

// Manifest is the profile manifest.
type Manifest struct {
	Version  int           `toml:"version"`
	Common   CommonSection `toml:"common"`
	Profiles []Profile     `toml:"profiles"`
}

// Load reads the manifest from the repository. A missing file yields an
// empty manifest; a malformed one is an error. Synced file lists are
// sorted so ordering stays stable across machines.
func Load(repoRoot string) (*Manifest, error) {
	manifestPath := filepath.Join(repoRoot, paths.ManifestFile)

	data, err := os.ReadFile(manifestPath)
	if os.IsNotExist(err) {
		return &Manifest{Version: Version}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "failed to read profile manifest %s", manifestPath)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, errors.ErrMalformedStore, "failed to parse profile manifest %s", manifestPath)
	}

	sort.Strings(m.Common.SyncedFiles)
	for i := range m.Profiles {
		sort.Strings(m.Profiles[i].SyncedFiles)
	}
	return &m, nil
}

// LoadOrBackfill loads the manifest and reconciles it with the repo's
// directory layout. A missing file is reconstructed entirely; profile
// directories the parsed manifest does not list (added out-of-band, or
// pulled from a machine whose manifest predates them) are appended.
// Any change is saved so the next load is direct.
func LoadOrBackfill(repoRoot string) (*Manifest, error) {
	m, err := Load(repoRoot)
	if err != nil {
		return nil, err
	}

	scanned := backfillFromRepo(repoRoot)
	changed := false
	for _, p := range scanned.Profiles {
		if m.Profile(p.Name) == nil {
			m.Profiles = append(m.Profiles, p)
			changed = true
		}
	}
	if len(m.Common.SyncedFiles) == 0 && len(scanned.Common.SyncedFiles) > 0 {
		m.Common.SyncedFiles = scanned.Common.SyncedFiles
		changed = true
	}

	if changed && len(m.Profiles) > 0 {
		if err := m.Save(repoRoot); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// backfillFromRepo reconstructs a manifest from profile folders found at
// the repo root. Used for repos created before the manifest existed.
func backfillFromRepo(repoRoot string) *Manifest {
	logger := logging.GetLogger("manifest")
	m := &Manifest{}

	entries, err := os.ReadDir(repoRoot)
	if err != nil {
		return m
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || name == "target" || name == "node_modules" {
			continue
		}

		dir := filepath.Join(repoRoot, name)
		if !dirHasEntries(dir) {
			continue
		}

		if name == paths.CommonDirName {
			m.Common.SyncedFiles = scanFolderFiles(dir)
		} else {
			logger.Debug().Str("profile", name).Msg("Backfilling profile from repo folder")
			m.AddProfile(name, nil)
		}
	}
	return m
}

func dirHasEntries(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

// scanFolderFiles lists every file under dir as a slash-separated path
// relative to dir, sorted.
func scanFolderFiles(dir string) []string {
	var files []string
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(files)
	return files
}

// Save writes the manifest atomically to the repository root. The
// schema version is stamped on every write.
func (m *Manifest) Save(repoRoot string) error {
	manifestPath := filepath.Join(repoRoot, paths.ManifestFile)

	m.Version = Version
	data, err := toml.Marshal(m)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to serialize profile manifest")
	}

	tmpPath := manifestPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return errors.Wrapf(err, errors.ErrFileWrite, "failed to write temp manifest %s", tmpPath)
	}
	if err := os.Rename(tmpPath, manifestPath); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, errors.ErrFileWrite, "failed to rename temp manifest to %s", manifestPath)
	}
	return nil
}

// Profile returns the named profile, or nil.
func (m *Manifest) Profile(name string) *Profile {
	for i := range m.Profiles {
		if m.Profiles[i].Name == name {
			return &m.Profiles[i]
		}
	}
	return nil
}

// HasProfile reports whether the named profile exists.
func (m *Manifest) HasProfile(name string) bool {
	return m.Profile(name) != nil
}

// ProfileNames returns the names of all profiles in manifest order.
func (m *Manifest) ProfileNames() []string {
	names := make([]string, 0, len(m.Profiles))
	for _, p := range m.Profiles {
		names = append(names, p.Name)
	}
	return names
}

// AddProfile appends a profile. Adding an existing name is a no-op.
func (m *Manifest) AddProfile(name string, description *string) {
	if m.HasProfile(name) {
		return
	}
	m.Profiles = append(m.Profiles, Profile{
		Name:        name,
		Description: description,
		SyncedFiles: []string{},
		Packages:    []Package{},
	})
}

// RemoveProfile deletes a profile. Returns true if it existed.
func (m *Manifest) RemoveProfile(name string) bool {
	for i := range m.Profiles {
		if m.Profiles[i].Name == name {
			m.Profiles = append(m.Profiles[:i], m.Profiles[i+1:]...)
			return true
		}
	}
	return false
}

// RenameProfile changes a profile's name in place.
func (m *Manifest) RenameProfile(oldName, newName string) error {
	p := m.Profile(oldName)
	if p == nil {
		return errors.Newf(errors.ErrProfileNotFound, "profile '%s' not found in manifest", oldName)
	}
	p.Name = newName
	return nil
}

// UpdateSyncedFiles replaces a profile's file list, sorted.
func (m *Manifest) UpdateSyncedFiles(profileName string, syncedFiles []string) error {
	p := m.Profile(profileName)
	if p == nil {
		return errors.Newf(errors.ErrProfileNotFound, "profile '%s' not found in manifest", profileName)
	}
	sorted := append([]string(nil), syncedFiles...)
	sort.Strings(sorted)
	p.SyncedFiles = sorted
	return nil
}

// UpdatePackages replaces a profile's package list.
func (m *Manifest) UpdatePackages(profileName string, packages []Package) error {
	p := m.Profile(profileName)
	if p == nil {
		return errors.Newf(errors.ErrProfileNotFound, "profile '%s' not found in manifest", profileName)
	}
	p.Packages = packages
	return nil
}

// AddCommonFile adds a path to the common section, keeping it sorted.
func (m *Manifest) AddCommonFile(rel string) {
	for _, f := range m.Common.SyncedFiles {
		if f == rel {
			return
		}
	}
	m.Common.SyncedFiles = append(m.Common.SyncedFiles, rel)
	sort.Strings(m.Common.SyncedFiles)
}

// RemoveCommonFile removes a path from the common section. Returns true
// if it was present.
func (m *Manifest) RemoveCommonFile(rel string) bool {
	for i, f := range m.Common.SyncedFiles {
		if f == rel {
			m.Common.SyncedFiles = append(m.Common.SyncedFiles[:i], m.Common.SyncedFiles[i+1:]...)
			return true
		}
	}
	return false
}

// IsCommonFile reports whether a path is in the common section.
func (m *Manifest) IsCommonFile(rel string) bool {
	for _, f := range m.Common.SyncedFiles {
		if f == rel {
			return true
		}
	}
	return false
}

// MoveToCommon moves a path from a profile's list into the common section.
func (m *Manifest) MoveToCommon(profileName, rel string) error {
	p := m.Profile(profileName)
	if p == nil {
		return errors.Newf(errors.ErrProfileNotFound, "profile '%s' not found in manifest", profileName)
	}
	for i, f := range p.SyncedFiles {
		if f == rel {
			p.SyncedFiles = append(p.SyncedFiles[:i], p.SyncedFiles[i+1:]...)
			break
		}
	}
	m.AddCommonFile(rel)
	return nil
}

// MoveFromCommon moves a path from the common section into a profile.
func (m *Manifest) MoveFromCommon(profileName, rel string) error {
	if !m.RemoveCommonFile(rel) {
		return errors.Newf(errors.ErrNotSynced, "file '%s' not found in common section", rel)
	}
	p := m.Profile(profileName)
	if p == nil {
		return errors.Newf(errors.ErrProfileNotFound, "profile '%s' not found in manifest", profileName)
	}
	for _, f := range p.SyncedFiles {
		if f == rel {
			return nil
		}
	}
	p.SyncedFiles = append(p.SyncedFiles, rel)
	sort.Strings(p.SyncedFiles)
	return nil
}
