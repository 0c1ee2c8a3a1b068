package dotfiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsInsideSyncedDirectory(t *testing.T) {
	synced := map[string]bool{".config/nvim": true, "dotdir": true}

	tests := []struct {
		name string
		rel  string
		want bool
	}{
		{"direct child", ".config/nvim/init.vim", true},
		{"deep child", ".config/nvim/lua/opts.lua", true},
		{"sibling", ".config/kitty/kitty.conf", false},
		{"top level", ".zshrc", false},
		{"dot variant", ".dotdir/file", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isInsideSyncedDirectory(tt.rel, synced))
		})
	}
}

func TestDirectoryContainsSyncedFiles(t *testing.T) {
	synced := map[string]bool{".config/nvim/init.vim": true}

	assert.True(t, directoryContainsSyncedFiles(".config/nvim", synced))
	assert.True(t, directoryContainsSyncedFiles(".config", synced))
	assert.False(t, directoryContainsSyncedFiles(".config/kitty", synced))
}

func TestContainsGitRepo(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	assert.False(t, containsGitRepo(sub))

	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	assert.True(t, containsGitRepo(sub), "ancestor .git is detected")
}

func TestContainsNestedGitRepo(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "vendor", "dep"), 0o755))
	assert.False(t, containsNestedGitRepo(dir))

	require.NoError(t, os.Mkdir(filepath.Join(dir, "vendor", "dep", ".git"), 0o755))
	assert.True(t, containsNestedGitRepo(dir))
}

func TestValidateSymlinkCreation(t *testing.T) {
	home := t.TempDir()
	repo := t.TempDir()

	source := filepath.Join(home, ".zshrc")
	require.NoError(t, os.WriteFile(source, []byte("x"), 0o644))

	repoDest := filepath.Join(repo, "default", ".zshrc")
	target := filepath.Join(home, ".zshrc")

	assert.True(t, validateSymlinkCreation(source, repoDest, target).IsSafe)

	// occupied repo destination is refused
	require.NoError(t, os.MkdirAll(filepath.Dir(repoDest), 0o755))
	require.NoError(t, os.WriteFile(repoDest, []byte("y"), 0o644))
	v := validateSymlinkCreation(source, repoDest, target)
	assert.False(t, v.IsSafe)
	assert.Contains(t, v.Reason, "already exists")

	// missing source is refused
	v = validateSymlinkCreation(filepath.Join(home, ".nope"), filepath.Join(repo, "d", ".nope"), target)
	assert.False(t, v.IsSafe)
}
