package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvTestHome, home)
	t.Setenv(EnvTestConfigDir, "")
	t.Setenv(EnvTestBackupDir, "")

	p, err := New("")
	require.NoError(t, err)

	assert.Equal(t, home, p.HomeDir())
	assert.Equal(t, filepath.Join(home, ".config", "dotstate"), p.ConfigDir())
	assert.Equal(t, filepath.Join(home, ".local", "share", "dotstate", "backups"), p.BackupRoot())
	assert.Equal(t, filepath.Join(home, ".config", "dotstate", "storage"), p.RepoRoot())
	assert.Equal(t, filepath.Join(p.ConfigDir(), "config.toml"), p.ConfigFilePath())
	assert.Equal(t, filepath.Join(p.ConfigDir(), "symlinks.json"), p.TrackingFilePath())
	assert.Equal(t, filepath.Join(p.RepoRoot(), ".dotstate-profiles.toml"), p.ManifestPath())
}

func TestNew_TestOverrides(t *testing.T) {
	home := t.TempDir()
	configDir := t.TempDir()
	backupDir := t.TempDir()
	t.Setenv(EnvTestHome, home)
	t.Setenv(EnvTestConfigDir, configDir)
	t.Setenv(EnvTestBackupDir, backupDir)

	p, err := New("")
	require.NoError(t, err)

	assert.Equal(t, configDir, p.ConfigDir())
	assert.Equal(t, backupDir, p.BackupRoot())
}

func TestNew_ExplicitRepoRoot(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvTestHome, home)

	p, err := New("~/dots")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "dots"), p.RepoRoot())
	assert.Equal(t, filepath.Join(home, "dots", "work"), p.ProfileDir("work"))
	assert.Equal(t, filepath.Join(home, "dots", "common"), p.CommonDir())
}

func TestFilePathMapping(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvTestHome, home)

	p, err := New("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(p.RepoRoot(), "work", ".config", "nvim"),
		p.ProfileFilePath("work", ".config/nvim"))
	assert.Equal(t, filepath.Join(p.RepoRoot(), "common", ".gitconfig"),
		p.CommonFilePath("./.gitconfig"))
	assert.Equal(t, filepath.Join(home, ".zshrc"), p.HomeFilePath(".zshrc"))
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvTestHome, home)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"tilde only", "~", home},
		{"tilde slash", "~/dotfiles", filepath.Join(home, "dotfiles")},
		{"no tilde", "/etc/passwd", "/etc/passwd"},
		{"tilde user", "~other/x", "~other/x"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandHome(tt.input))
		})
	}
}

func TestNormalizeRel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"./.zshrc", ".zshrc"},
		{".config\\nvim", ".config/nvim"},
		{".config/nvim", ".config/nvim"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeRel(tt.input))
	}
}

func TestFormatForDisplay(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvTestHome, home)

	assert.Equal(t, "~", FormatForDisplay(home))
	assert.Equal(t, "~/.zshrc", FormatForDisplay(filepath.Join(home, ".zshrc")))
	assert.Equal(t, "/etc/passwd", FormatForDisplay("/etc/passwd"))
}

func TestIsSafeToAdd(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvTestHome, home)
	repo := filepath.Join(home, ".config", "dotstate", "storage")

	tests := []struct {
		name string
		path string
		safe bool
	}{
		{"home itself", home, false},
		{"root", string(filepath.Separator), false},
		{"repo itself", repo, false},
		{"file inside repo", filepath.Join(repo, "work", ".zshrc"), false},
		{"ancestor of repo", filepath.Join(home, ".config"), false},
		{"regular dotfile", filepath.Join(home, ".zshrc"), true},
		{"sibling of repo", filepath.Join(home, ".config", "nvim"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			safe, reason := IsSafeToAdd(tt.path, repo)
			assert.Equal(t, tt.safe, safe)
			if !tt.safe {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestIsGitRepo(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, IsGitRepo(dir))

	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	assert.True(t, IsGitRepo(dir))

	fileRepo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(fileRepo, ".git"), []byte("gitdir: x"), 0o644))
	assert.True(t, IsGitRepo(fileRepo))
}

func TestIsInside(t *testing.T) {
	assert.True(t, IsInside("/a/b/c", "/a/b"))
	assert.True(t, IsInside("/a/b", "/a/b"))
	assert.False(t, IsInside("/a/x", "/a/b"))
}
