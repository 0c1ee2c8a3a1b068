package profiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotstate/dotstate/pkg/backup"
	"github.com/dotstate/dotstate/pkg/errors"
	"github.com/dotstate/dotstate/pkg/manifest"
	"github.com/dotstate/dotstate/pkg/paths"
	"github.com/dotstate/dotstate/pkg/symlink"
)

type testEnv struct {
	paths   paths.Paths
	service *Service
	engine  *symlink.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv(paths.EnvTestHome, t.TempDir())
	t.Setenv(paths.EnvTestConfigDir, t.TempDir())
	t.Setenv(paths.EnvTestBackupDir, t.TempDir())

	p, err := paths.New("")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(p.RepoRoot(), 0o755))

	engine, err := symlink.NewEngine(p, backup.NewStore(p.BackupRoot(), true))
	require.NoError(t, err)

	return &testEnv{paths: p, service: NewService(p, engine), engine: engine}
}

func (env *testEnv) seedProfile(t *testing.T, name string, files map[string]string) {
	t.Helper()
	m, err := manifest.LoadOrBackfill(env.paths.RepoRoot())
	require.NoError(t, err)
	m.AddProfile(name, nil)
	var rels []string
	for rel, content := range files {
		path := env.paths.ProfileFilePath(name, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		rels = append(rels, rel)
	}
	require.NoError(t, m.UpdateSyncedFiles(name, rels))
	require.NoError(t, m.Save(env.paths.RepoRoot()))
}

func TestValidateName(t *testing.T) {
	existing := []string{"work"}

	tests := []struct {
		name    string
		input   string
		wantErr errors.ErrorCode
	}{
		{"valid", "laptop", ""},
		{"valid with separators", "work-2_new", ""},
		{"empty", "  ", errors.ErrInvalidProfileName},
		{"too long", string(make([]byte, 51)), errors.ErrInvalidProfileName},
		{"bad characters", "my profile!", errors.ErrInvalidProfileName},
		{"reserved common", "Common", errors.ErrInvalidProfileName},
		{"reserved backup", "backup", errors.ErrInvalidProfileName},
		{"duplicate case-insensitive", "WORK", errors.ErrProfileExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input, existing)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.IsErrorCode(err, tt.wantErr), "got %v", err)
			}
		})
	}
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "my-profile", SanitizeName("  my profile "))
	assert.Equal(t, "work_2", SanitizeName("work?2"))
	assert.Len(t, SanitizeName(string(make([]rune, 80))), MaxNameLength)
}

func TestCreate(t *testing.T) {
	env := newTestEnv(t)

	name, err := env.service.Create("My Laptop", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "My-Laptop", name)

	info, err := os.Stat(env.paths.ProfileDir(name))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	profiles, err := env.service.List()
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, name, profiles[0].Name)
}

func TestCreate_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.Create("work", nil, "")
	require.NoError(t, err)

	_, err = env.service.Create("Work", nil, "")
	assert.True(t, errors.IsErrorCode(err, errors.ErrProfileExists))
}

func TestCreate_CopyFrom(t *testing.T) {
	env := newTestEnv(t)
	env.seedProfile(t, "work", map[string]string{
		".zshrc":       "work zsh",
		".config/nvim": "init",
	})

	name, err := env.service.Create("laptop", nil, "work")
	require.NoError(t, err)

	data, err := os.ReadFile(env.paths.ProfileFilePath(name, ".zshrc"))
	require.NoError(t, err)
	assert.Equal(t, "work zsh", string(data))

	p, err := env.service.Get(name)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".zshrc", ".config/nvim"}, p.SyncedFiles)
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	env.seedProfile(t, "work", map[string]string{".zshrc": "z"})
	env.seedProfile(t, "old", map[string]string{".vimrc": "v"})

	err := env.service.Delete("old", "work")
	require.NoError(t, err)

	_, err = os.Stat(env.paths.ProfileDir("old"))
	assert.True(t, os.IsNotExist(err))

	_, err = env.service.Get("old")
	assert.True(t, errors.IsErrorCode(err, errors.ErrProfileNotFound))
}

func TestDelete_ActiveRefused(t *testing.T) {
	env := newTestEnv(t)
	env.seedProfile(t, "work", map[string]string{".zshrc": "z"})

	err := env.service.Delete("work", "work")
	assert.True(t, errors.IsErrorCode(err, errors.ErrCannotDeleteActive))

	_, statErr := os.Stat(env.paths.ProfileDir("work"))
	require.NoError(t, statErr)
}

func TestActivate(t *testing.T) {
	env := newTestEnv(t)
	env.seedProfile(t, "work", map[string]string{".zshrc": "z", ".vimrc": "v"})

	result, err := env.service.Activate("work")
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, "work", env.engine.ActiveProfile())

	for _, rel := range []string{".zshrc", ".vimrc"} {
		linkDest, err := os.Readlink(env.paths.HomeFilePath(rel))
		require.NoError(t, err)
		assert.Equal(t, env.paths.ProfileFilePath("work", rel), linkDest)
	}
}

func TestSwitch(t *testing.T) {
	env := newTestEnv(t)
	env.seedProfile(t, "work", map[string]string{".zshrc": "work"})
	env.seedProfile(t, "play", map[string]string{".zshrc": "play"})

	_, err := env.service.Activate("work")
	require.NoError(t, err)

	result, err := env.service.Switch("work", "play")
	require.NoError(t, err)
	assert.Equal(t, 1, result.RemovedCount)
	assert.Equal(t, 1, result.CreatedCount)
	assert.Empty(t, result.Errors)

	linkDest, err := os.Readlink(env.paths.HomeFilePath(".zshrc"))
	require.NoError(t, err)
	assert.Equal(t, env.paths.ProfileFilePath("play", ".zshrc"), linkDest)
}

func TestSwitch_SameProfileNoOp(t *testing.T) {
	env := newTestEnv(t)
	env.seedProfile(t, "work", map[string]string{".zshrc": "z"})

	result, err := env.service.Switch("work", "work")
	require.NoError(t, err)
	assert.Zero(t, result.RemovedCount)
	assert.Zero(t, result.CreatedCount)
}

func TestRename_ActiveRepointsSymlinks(t *testing.T) {
	env := newTestEnv(t)
	env.seedProfile(t, "work", map[string]string{".zshrc": "z"})
	_, err := env.service.Activate("work")
	require.NoError(t, err)

	newName, err := env.service.Rename("work", "office", true)
	require.NoError(t, err)
	assert.Equal(t, "office", newName)

	_, err = os.Stat(env.paths.ProfileDir("work"))
	assert.True(t, os.IsNotExist(err))

	linkDest, err := os.Readlink(env.paths.HomeFilePath(".zshrc"))
	require.NoError(t, err)
	assert.Equal(t, env.paths.ProfileFilePath("office", ".zshrc"), linkDest)
	assert.Equal(t, "office", env.engine.ActiveProfile())
}

func TestEnsureProfileSymlinks(t *testing.T) {
	env := newTestEnv(t)
	env.seedProfile(t, "work", map[string]string{".zshrc": "z"})

	report, err := env.service.EnsureProfileSymlinks("work")
	require.NoError(t, err)
	assert.Len(t, report.Created, 1)

	report, err = env.service.EnsureProfileSymlinks("work")
	require.NoError(t, err)
	assert.Empty(t, report.Created)
	assert.Len(t, report.Skipped, 1)
}
