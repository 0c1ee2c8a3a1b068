// Package paths provides centralized path handling for dotstate.
// It resolves the home directory, config directory, repository layout
// and backup root, and provides a consistent API for all path
// operations in the codebase.
package paths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dotstate/dotstate/pkg/errors"
)

// Environment variable names
const (
	// EnvTestHome overrides the home directory (tests only)
	EnvTestHome = "DOTSTATE_TEST_HOME"

	// EnvTestConfigDir overrides the config directory (tests only)
	EnvTestConfigDir = "DOTSTATE_TEST_CONFIG_DIR"

	// EnvTestBackupDir overrides the backup root (tests only)
	EnvTestBackupDir = "DOTSTATE_TEST_BACKUP_DIR"

	// EnvHome is the standard home directory variable
	EnvHome = "HOME"
)

// Default directories and files
// IMPORTANT: These constants define dotstate's store layout and are NOT
// user-configurable. They must remain consistent across installations.
const (
	// DotstateDirName is the directory name for dotstate-specific files
	DotstateDirName = "dotstate"

	// ManifestFile is the name of the profile manifest stored at the repo root
	ManifestFile = ".dotstate-profiles.toml"

	// TrackingFile is the name of the symlink tracking ledger
	TrackingFile = "symlinks.json"

	// ConfigFile is the name of the local config file
	ConfigFile = "config.toml"

	// CommonDirName is the repo directory holding the common pool
	CommonDirName = "common"

	// DefaultRepoDirName is the default storage directory under the config dir
	DefaultRepoDirName = "storage"
)

// Paths provides centralized path management for dotstate
type Paths interface {
	HomeDir() string
	ConfigDir() string
	ConfigFilePath() string
	TrackingFilePath() string
	BackupRoot() string
	RepoRoot() string
	ProfileDir(profileName string) string
	CommonDir() string
	ManifestPath() string
	ProfileFilePath(profileName, rel string) string
	CommonFilePath(rel string) string
	HomeFilePath(rel string) string
}

type paths struct {
	home       string
	configDir  string
	backupRoot string
	repoRoot   string
}

// New creates a new Paths instance rooted at the given repository path.
// If repoRoot is empty, the default location under the config directory
// is used. Test overrides are honored for home, config dir and backups.
func New(repoRoot string) (Paths, error) {
	home, err := HomeDir()
	if err != nil {
		return nil, err
	}

	p := &paths{home: home}

	if configDir := os.Getenv(EnvTestConfigDir); configDir != "" {
		p.configDir = ExpandHome(configDir)
	} else {
		p.configDir = filepath.Join(home, ".config", DotstateDirName)
	}

	if backupDir := os.Getenv(EnvTestBackupDir); backupDir != "" {
		p.backupRoot = ExpandHome(backupDir)
	} else {
		p.backupRoot = filepath.Join(home, ".local", "share", DotstateDirName, "backups")
	}

	if repoRoot == "" {
		p.repoRoot = filepath.Join(p.configDir, DefaultRepoDirName)
	} else {
		abs, err := filepath.Abs(ExpandHome(repoRoot))
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrFileAccess, "failed to resolve repository root")
		}
		p.repoRoot = abs
	}

	return p, nil
}

// HomeDir returns the user's home directory, honoring the test override.
func HomeDir() (string, error) {
	if home := os.Getenv(EnvTestHome); home != "" {
		return home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		if home := os.Getenv(EnvHome); home != "" {
			return home, nil
		}
		return "", errors.Wrapf(err, errors.ErrFileAccess, "failed to get home directory")
	}
	return home, nil
}

func (p *paths) HomeDir() string    { return p.home }
func (p *paths) ConfigDir() string  { return p.configDir }
func (p *paths) BackupRoot() string { return p.backupRoot }
func (p *paths) RepoRoot() string   { return p.repoRoot }

// ConfigFilePath returns the path to the local config file
func (p *paths) ConfigFilePath() string {
	return filepath.Join(p.configDir, ConfigFile)
}

// TrackingFilePath returns the path to the symlink tracking ledger
func (p *paths) TrackingFilePath() string {
	return filepath.Join(p.configDir, TrackingFile)
}

// ProfileDir returns the repo directory for the named profile
func (p *paths) ProfileDir(profileName string) string {
	return filepath.Join(p.repoRoot, profileName)
}

// CommonDir returns the repo directory for the common pool
func (p *paths) CommonDir() string {
	return filepath.Join(p.repoRoot, CommonDirName)
}

// ManifestPath returns the path to the profile manifest in the repo
func (p *paths) ManifestPath() string {
	return filepath.Join(p.repoRoot, ManifestFile)
}

// ProfileFilePath maps a home-relative path into a profile's repo tree
func (p *paths) ProfileFilePath(profileName, rel string) string {
	return filepath.Join(p.ProfileDir(profileName), filepath.FromSlash(NormalizeRel(rel)))
}

// CommonFilePath maps a home-relative path into the common pool
func (p *paths) CommonFilePath(rel string) string {
	return filepath.Join(p.CommonDir(), filepath.FromSlash(NormalizeRel(rel)))
}

// HomeFilePath maps a home-relative path into the home directory
func (p *paths) HomeFilePath(rel string) string {
	return filepath.Join(p.home, filepath.FromSlash(NormalizeRel(rel)))
}

// ExpandHome expands ~ to the home directory
func ExpandHome(path string) string {
	if path == "" {
		return path
	}

	if path[0] == '~' {
		home, err := HomeDir()
		if err != nil {
			return path
		}

		if len(path) == 1 {
			return home
		}

		if path[1] == '/' || path[1] == filepath.Separator {
			return filepath.Join(home, path[2:])
		}

		// ~something (not the user's home)
		return path
	}

	return path
}

// NormalizeRel normalizes a home-relative path: strips a leading "./"
// and rewrites backslashes to forward slashes. No unicode normalization.
func NormalizeRel(rel string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	rel = strings.TrimPrefix(rel, "./")
	return rel
}

// FormatForDisplay shortens a path for display, substituting ~ for home
func FormatForDisplay(path string) string {
	home, err := HomeDir()
	if err != nil {
		return path
	}
	if path == home {
		return "~"
	}
	if rel, err := filepath.Rel(home, path); err == nil && !strings.HasPrefix(rel, "..") {
		return "~/" + filepath.ToSlash(rel)
	}
	return path
}

// IsGitRepo reports whether path is a directory with a .git entry.
// A .git file also counts (submodule layout).
func IsGitRepo(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	_, err = os.Lstat(filepath.Join(path, ".git"))
	return err == nil
}

// IsSafeToAdd checks whether a path may be added to sync at all.
// It rejects the home directory itself, the filesystem root, the
// storage repository, anything inside the storage repository and any
// ancestor of the storage repository. Returns false with a reason when
// unsafe.
func IsSafeToAdd(path, repoRoot string) (bool, string) {
	home, err := HomeDir()
	if err == nil && path == home {
		return false, "cannot add the home directory itself"
	}

	if path == string(filepath.Separator) {
		return false, "cannot add the root directory"
	}

	if path == repoRoot {
		return false, "cannot add the storage repository"
	}

	if IsInside(path, repoRoot) {
		return false, "cannot add a file inside the storage repository"
	}

	if rel, err := filepath.Rel(path, repoRoot); err == nil && !strings.HasPrefix(rel, "..") && rel != "." {
		return false, "cannot add a parent directory of the storage repository"
	}

	return true, ""
}

// IsInside reports whether path is inside (or equal to) root.
func IsInside(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}
