// Package config manages dotstate's local configuration file.
//
// The config file holds machine-local settings only (repository location,
// active profile name, backup preference). Profile definitions live in the
// repository manifest so they travel with the repo.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"

	"github.com/dotstate/dotstate/pkg/errors"
	"github.com/dotstate/dotstate/pkg/logging"
	"github.com/dotstate/dotstate/pkg/manifest"
	"github.com/dotstate/dotstate/pkg/paths"
)

// CurrentVersion is the config schema version. Files without a version
// field are treated as v0 and migrated on load.
const CurrentVersion = 1

// EnvGitHubToken overrides the token stored in the config file.
const EnvGitHubToken = "DOTSTATE_GITHUB_TOKEN"

// RepoMode says how the storage repository was set up, which decides how
// sync operations authenticate.
type RepoMode string

const (
	// RepoModeGitHub means the repo was created through the GitHub API
	// and sync uses the stored token.
	RepoModeGitHub RepoMode = "GitHub"

	// RepoModeLocal means the user supplied the repo and sync relies on
	// the system git credentials.
	RepoModeLocal RepoMode = "Local"
)

// DefaultRepoName is the repository name used when creating storage on GitHub.
const DefaultRepoName = "dotstate-storage"

// DefaultBranch is the branch sync operations target unless configured.
const DefaultBranch = "main"

// GitHubConfig identifies the remote storage repository.
type GitHubConfig struct {
	Owner string  `toml:"owner"`
	Repo  string  `toml:"repo"`
	Token *string `toml:"token,omitempty"`
}

// UpdateConfig controls the background release check.
type UpdateConfig struct {
	CheckEnabled       bool  `toml:"check_enabled"`
	CheckIntervalHours int64 `toml:"check_interval_hours"`
}

// Config is the local configuration.
type Config struct {
	Version          int           `toml:"version"`
	RepoMode         RepoMode      `toml:"repo_mode"`
	GitHub           *GitHubConfig `toml:"github,omitempty"`
	ActiveProfile    string        `toml:"active_profile"`
	RepoPath         string        `toml:"repo_path"`
	RepoName         string        `toml:"repo_name"`
	DefaultBranch    string        `toml:"default_branch"`
	BackupEnabled    bool          `toml:"backup_enabled"`
	ProfileActivated bool          `toml:"profile_activated"`
	CustomFiles      []string      `toml:"custom_files"`
	Updates          UpdateConfig  `toml:"updates"`
	Theme            string        `toml:"theme"`
	IconSet          string        `toml:"icon_set"`
}

// Default returns a config with all defaults applied. The repo path points
// at the standard storage location under the config directory.
func Default(p paths.Paths) *Config {
	return &Config{
		Version:          CurrentVersion,
		RepoMode:         RepoModeGitHub,
		ActiveProfile:    "",
		RepoPath:         filepath.Join(p.ConfigDir(), paths.DefaultRepoDirName),
		RepoName:         DefaultRepoName,
		DefaultBranch:    DefaultBranch,
		BackupEnabled:    true,
		ProfileActivated: true,
		CustomFiles:      []string{},
		Updates:          UpdateConfig{CheckEnabled: true, CheckIntervalHours: 24},
		Theme:            "dark",
		IconSet:          "auto",
	}
}

// LoadOrCreate loads the config file, creating it with defaults when it
// does not exist. Old schema versions are migrated in place; an empty
// active profile is filled in from the repository manifest when possible.
func LoadOrCreate(p paths.Paths) (*Config, error) {
	logger := logging.GetLogger("config")
	configPath := p.ConfigFilePath()

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		logger.Info().Str("path", configPath).Msg("Config not found, creating default")
		cfg := Default(p)
		cfg.adoptActiveProfile()
		if err := cfg.Save(configPath); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "failed to read config file %s", configPath)
	}

	cfg := Default(p)
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, errors.ErrMalformedStore, "failed to parse config file %s", configPath)
	}

	if cfg.Version < CurrentVersion {
		oldVersion := cfg.Version
		logger.Info().Int("from", oldVersion).Int("to", CurrentVersion).Msg("Migrating config")
		cfg.migrate()
		if err := migrateFile(configPath, oldVersion, func() error {
			return cfg.Save(configPath)
		}); err != nil {
			return nil, err
		}
	}

	if cfg.RepoName == "" {
		cfg.RepoName = DefaultRepoName
	}
	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = DefaultBranch
	}

	if cfg.ActiveProfile == "" {
		if cfg.adoptActiveProfile() {
			if err := cfg.Save(configPath); err != nil {
				return nil, err
			}
		}
	}

	logger.Debug().Str("path", configPath).Msg("Config loaded")
	return cfg, nil
}

// adoptActiveProfile fills in the active profile from the repository
// manifest when the repo already exists. Returns true if a profile was set.
func (c *Config) adoptActiveProfile() bool {
	if _, err := os.Stat(c.RepoPath); err != nil {
		return false
	}
	m, err := manifest.LoadOrBackfill(c.RepoPath)
	if err != nil || len(m.Profiles) == 0 {
		return false
	}
	c.ActiveProfile = m.Profiles[0].Name
	return true
}

// Save writes the config atomically with owner-only permissions.
func (c *Config) Save(configPath string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to serialize config")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrDirCreate, "failed to create config directory")
	}

	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return errors.Wrapf(err, errors.ErrFileWrite, "failed to write temp config %s", tmpPath)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, errors.ErrFileWrite, "failed to set config permissions")
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, errors.ErrFileWrite, "failed to rename temp config to %s", configPath)
	}
	return nil
}

// IsRepoConfigured reports whether the storage repository is usable.
func (c *Config) IsRepoConfigured() bool {
	switch c.RepoMode {
	case RepoModeGitHub:
		return c.GitHub != nil
	case RepoModeLocal:
		return paths.IsGitRepo(c.RepoPath)
	}
	return false
}

// ResetToUnconfigured clears repository state after a failed setup so the
// next attempt starts clean. Local preferences are kept.
func (c *Config) ResetToUnconfigured() {
	c.GitHub = nil
	c.ActiveProfile = ""
	c.ProfileActivated = false
	c.RepoName = DefaultRepoName
}

// GitHubToken returns the token for GitHub operations. The environment
// variable takes priority over the stored token.
func (c *Config) GitHubToken() string {
	if token := os.Getenv(EnvGitHubToken); token != "" {
		return token
	}
	if c.GitHub != nil && c.GitHub.Token != nil {
		return *c.GitHub.Token
	}
	return ""
}

// AddCustomFile records a user-added path so it shows up as a candidate
// later even after it is removed from sync. Returns true if added.
func (c *Config) AddCustomFile(rel string) bool {
	rel = paths.NormalizeRel(rel)
	for _, existing := range c.CustomFiles {
		if existing == rel {
			return false
		}
	}
	c.CustomFiles = append(c.CustomFiles, rel)
	return true
}

func (c *Config) migrate() {
	if c.Version == 0 {
		// v0 had no version field, the schema is otherwise identical
		c.Version = 1
	}
}

// migrateFile backs up the file before saving a migrated version. The
// backup is removed on success and left behind for manual recovery when
// the save fails.
func migrateFile(path string, oldVersion int, save func() error) error {
	backupPath := path + ".backup-v" + strconv.Itoa(oldVersion)

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to read %s before migration", path)
	}
	if err := os.WriteFile(backupPath, data, 0o600); err != nil {
		return errors.Wrapf(err, errors.ErrFileWrite, "failed to create migration backup %s", backupPath)
	}

	if err := save(); err != nil {
		return errors.Wrapf(err, errors.ErrFileWrite, "failed to save migrated file %s", path)
	}

	os.Remove(backupPath)
	return nil
}
