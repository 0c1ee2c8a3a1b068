package symlink

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotstate/dotstate/pkg/backup"
	"github.com/dotstate/dotstate/pkg/paths"
	"github.com/dotstate/dotstate/pkg/tracking"
)

type testEnv struct {
	paths  paths.Paths
	engine *Engine
	home   string
	repo   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	home := t.TempDir()
	t.Setenv(paths.EnvTestHome, home)
	t.Setenv(paths.EnvTestConfigDir, t.TempDir())
	t.Setenv(paths.EnvTestBackupDir, t.TempDir())

	p, err := paths.New("")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(p.RepoRoot(), 0o755))

	engine, err := NewEngine(p, backup.NewStore(p.BackupRoot(), true))
	require.NoError(t, err)

	return &testEnv{paths: p, engine: engine, home: home, repo: p.RepoRoot()}
}

// repoFile creates a file under repo/<profile>/<rel> and returns its path.
func (env *testEnv) repoFile(t *testing.T, profile, rel, content string) string {
	t.Helper()
	path := env.paths.ProfileFilePath(profile, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (env *testEnv) homeFile(t *testing.T, rel, content string) string {
	t.Helper()
	path := env.paths.HomeFilePath(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCreate_EmptyTarget(t *testing.T) {
	env := newTestEnv(t)
	source := env.repoFile(t, "work", ".zshrc", "export A=1")
	target := env.paths.HomeFilePath(".zshrc")

	session := env.engine.store.OpenSession()
	op := env.engine.Create(source, target, ".zshrc", session)

	assert.Equal(t, StatusSuccess, op.Status)
	assert.Nil(t, op.Backup)

	linkDest, err := os.Readlink(target)
	require.NoError(t, err)
	assert.Equal(t, source, linkDest)
}

func TestCreate_SourceMissing(t *testing.T) {
	env := newTestEnv(t)
	op := env.engine.Create(
		filepath.Join(env.repo, "work", ".nope"),
		env.paths.HomeFilePath(".nope"), ".nope", nil)

	assert.Equal(t, StatusFailed, op.Status)
	assert.Equal(t, "source missing", op.Reason)
}

func TestCreate_AlreadyCorrectIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	source := env.repoFile(t, "work", ".zshrc", "x")
	target := env.paths.HomeFilePath(".zshrc")
	require.NoError(t, os.Symlink(source, target))

	op := env.engine.Create(source, target, ".zshrc", env.engine.store.OpenSession())

	assert.Equal(t, StatusSkipped, op.Status)
	assert.Equal(t, "already correct", op.Reason)
	assert.Nil(t, op.Backup)
}

func TestCreate_RelativeLinkAlreadyCorrect(t *testing.T) {
	env := newTestEnv(t)
	source := env.repoFile(t, "work", ".zshrc", "x")
	target := env.paths.HomeFilePath(".zshrc")

	rel, err := filepath.Rel(env.home, source)
	require.NoError(t, err)
	require.NoError(t, os.Symlink(rel, target))

	op := env.engine.Create(source, target, ".zshrc", nil)
	assert.Equal(t, StatusSkipped, op.Status)
}

func TestCreate_RegularFileBackedUpThenReplaced(t *testing.T) {
	env := newTestEnv(t)
	source := env.repoFile(t, "work", ".zshrc", "new")
	target := env.homeFile(t, ".zshrc", "old")

	op := env.engine.Create(source, target, ".zshrc", env.engine.store.OpenSession())

	require.Equal(t, StatusSuccess, op.Status)
	require.NotNil(t, op.Backup)

	saved, err := os.ReadFile(*op.Backup)
	require.NoError(t, err)
	assert.Equal(t, "old", string(saved))

	linkDest, err := os.Readlink(target)
	require.NoError(t, err)
	assert.Equal(t, source, linkDest)
}

func TestCreate_DirectoryBackedUpRecursively(t *testing.T) {
	env := newTestEnv(t)
	source := env.repoFile(t, "work", ".config/nvim/init.vim", "set nu")
	sourceDir := filepath.Dir(source)
	target := env.paths.HomeFilePath(".config/nvim")
	require.NoError(t, os.MkdirAll(target, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "old.vim"), []byte("old"), 0o644))

	op := env.engine.Create(sourceDir, target, ".config/nvim", env.engine.store.OpenSession())

	require.Equal(t, StatusSuccess, op.Status)
	require.NotNil(t, op.Backup)

	saved, err := os.ReadFile(filepath.Join(*op.Backup, "old.vim"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(saved))
}

func TestCreate_WrongSymlinkBacksUpPointedTo(t *testing.T) {
	env := newTestEnv(t)
	source := env.repoFile(t, "work", ".zshrc", "new")
	other := env.homeFile(t, ".zshrc.other", "elsewhere")
	target := env.paths.HomeFilePath(".zshrc")
	require.NoError(t, os.Symlink(other, target))

	op := env.engine.Create(source, target, ".zshrc", env.engine.store.OpenSession())

	require.Equal(t, StatusSuccess, op.Status)
	require.NotNil(t, op.Backup)

	saved, err := os.ReadFile(*op.Backup)
	require.NoError(t, err)
	assert.Equal(t, "elsewhere", string(saved))

	// the pointed-to file itself is not deleted
	_, err = os.Stat(other)
	require.NoError(t, err)
}

func TestCreate_DanglingSymlinkRemovedWithoutBackup(t *testing.T) {
	env := newTestEnv(t)
	source := env.repoFile(t, "work", ".zshrc", "new")
	target := env.paths.HomeFilePath(".zshrc")
	require.NoError(t, os.Symlink(filepath.Join(env.home, "gone"), target))

	op := env.engine.Create(source, target, ".zshrc", env.engine.store.OpenSession())

	require.Equal(t, StatusSuccess, op.Status)
	assert.Nil(t, op.Backup)
}

func TestRemove_AlreadyGone(t *testing.T) {
	env := newTestEnv(t)
	op := env.engine.Remove(tracking.Entry{
		Target: env.paths.HomeFilePath(".zshrc"),
		Source: filepath.Join(env.repo, "work", ".zshrc"),
	}, RemoveOnly)

	assert.Equal(t, StatusSkipped, op.Status)
	assert.Equal(t, "already gone", op.Reason)
}

func TestRemove_NotOursIsNeverTouched(t *testing.T) {
	env := newTestEnv(t)
	// a regular file sits at the target, the ledger does not own it
	target := env.homeFile(t, ".zshrc", "user data")

	op := env.engine.Remove(tracking.Entry{
		Target: target,
		Source: filepath.Join(env.repo, "work", ".zshrc"),
	}, RestoreFromRepo)

	assert.Equal(t, StatusSkipped, op.Status)
	assert.Equal(t, "not ours", op.Reason)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "user data", string(data))
}

func TestRemove_RestoreFromRepoWinsOverBackup(t *testing.T) {
	env := newTestEnv(t)
	source := env.repoFile(t, "work", ".zshrc", "repo content")
	backupFile := env.homeFile(t, ".zshrc.bak", "backup content")
	target := env.paths.HomeFilePath(".zshrc")
	require.NoError(t, os.Symlink(source, target))

	env.engine.ledger.Append(tracking.Entry{Target: target, Source: source, Backup: &backupFile})

	op := env.engine.Remove(*env.engine.ledger.EntryFor(target), RestoreFromRepo)

	require.Equal(t, StatusSuccess, op.Status)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "repo content", string(data))
}

func TestRemove_FallsBackToBackup(t *testing.T) {
	env := newTestEnv(t)
	source := filepath.Join(env.repo, "work", ".zshrc") // never created
	backupFile := env.homeFile(t, ".zshrc.bak", "backup content")
	target := env.paths.HomeFilePath(".zshrc")
	require.NoError(t, os.Symlink(source, target))

	env.engine.ledger.Append(tracking.Entry{Target: target, Source: source, Backup: &backupFile})

	op := env.engine.Remove(*env.engine.ledger.EntryFor(target), RestoreFromRepo)

	require.Equal(t, StatusSuccess, op.Status)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "backup content", string(data))

	// the backup was moved, not copied
	_, err = os.Lstat(backupFile)
	assert.True(t, os.IsNotExist(err))
}

func TestRemove_RemoveOnly(t *testing.T) {
	env := newTestEnv(t)
	source := env.repoFile(t, "work", ".zshrc", "x")
	target := env.paths.HomeFilePath(".zshrc")
	require.NoError(t, os.Symlink(source, target))
	env.engine.ledger.Append(tracking.Entry{Target: target, Source: source})

	op := env.engine.Remove(*env.engine.ledger.EntryFor(target), RemoveOnly)

	require.Equal(t, StatusSuccess, op.Status)
	_, err := os.Lstat(target)
	assert.True(t, os.IsNotExist(err))
}

func TestActivateProfile(t *testing.T) {
	env := newTestEnv(t)
	env.repoFile(t, "work", ".zshrc", "z")
	env.repoFile(t, "work", ".vimrc", "v")
	env.repoFile(t, "common", ".gitconfig", "g")

	ops, err := env.engine.ActivateProfile("work", []string{".zshrc", ".vimrc"}, []string{".gitconfig"})
	require.NoError(t, err)
	require.Len(t, ops, 3)

	for _, rel := range []string{".zshrc", ".vimrc", ".gitconfig"} {
		target := env.paths.HomeFilePath(rel)
		info, err := os.Lstat(target)
		require.NoError(t, err, rel)
		assert.NotZero(t, info.Mode()&os.ModeSymlink, rel)
		assert.True(t, env.engine.IsOurs(target), rel)
	}
	assert.Equal(t, "work", env.engine.ActiveProfile())

	// ledger was persisted
	loaded, err := tracking.Load(env.paths.TrackingFilePath())
	require.NoError(t, err)
	assert.Len(t, loaded.Symlinks, 3)
	assert.Equal(t, "work", loaded.ActiveProfile)
}

func TestDeactivate_OwnershipRespected(t *testing.T) {
	env := newTestEnv(t)
	env.repoFile(t, "work", ".zshrc", "z")
	_, err := env.engine.ActivateProfile("work", []string{".zshrc"}, nil)
	require.NoError(t, err)

	// a same-named symlink the ledger does not own
	foreign := env.homeFile(t, "other-tool-file", "f")
	foreignLink := env.paths.HomeFilePath(".foreign")
	require.NoError(t, os.Symlink(foreign, foreignLink))

	ops, err := env.engine.Deactivate("work", RemoveOnly)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, StatusSuccess, ops[0].Status)

	// foreign link untouched
	_, err = os.Lstat(foreignLink)
	require.NoError(t, err)

	assert.Empty(t, env.engine.ActiveProfile())
	assert.Empty(t, env.engine.ledger.Symlinks)
}

func TestEnsureProfileSymlinks_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	env.repoFile(t, "work", ".zshrc", "z")
	env.repoFile(t, "work", ".vimrc", "v")
	files := []string{".zshrc", ".vimrc"}

	first, err := env.engine.EnsureProfileSymlinks("work", files)
	require.NoError(t, err)
	assert.Len(t, first.Created, 2)
	assert.Empty(t, first.Errors)

	second, err := env.engine.EnsureProfileSymlinks("work", files)
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	assert.Len(t, second.Skipped, 2)
	assert.Empty(t, second.Errors)
}

func TestEnsure_CreatesOnlyMissing(t *testing.T) {
	env := newTestEnv(t)
	env.repoFile(t, "work", ".zshrc", "z")
	_, err := env.engine.EnsureProfileSymlinks("work", []string{".zshrc"})
	require.NoError(t, err)

	// a new file arrives in the repo, e.g. after a pull
	env.repoFile(t, "work", ".tmux.conf", "t")

	report, err := env.engine.EnsureProfileSymlinks("work", []string{".tmux.conf", ".zshrc"})
	require.NoError(t, err)
	require.Len(t, report.Created, 1)
	assert.Equal(t, env.paths.HomeFilePath(".tmux.conf"), report.Created[0].Target)
	assert.Len(t, report.Skipped, 1)
}

func TestSwitch(t *testing.T) {
	env := newTestEnv(t)
	env.repoFile(t, "work", ".zshrc", "work zsh")
	env.repoFile(t, "play", ".zshrc", "play zsh")
	env.repoFile(t, "play", ".vimrc", "play vim")
	env.repoFile(t, "common", ".gitconfig", "g")

	_, err := env.engine.ActivateProfile("work", []string{".zshrc"}, []string{".gitconfig"})
	require.NoError(t, err)

	report, err := env.engine.Switch("work", "play", []string{".zshrc", ".vimrc"}, []string{".gitconfig"})
	require.NoError(t, err)
	assert.False(t, report.RollbackPerformed)
	assert.Empty(t, report.Errors)
	assert.Len(t, report.Removed, 2)
	assert.Len(t, report.Created, 3)

	linkDest, err := os.Readlink(env.paths.HomeFilePath(".zshrc"))
	require.NoError(t, err)
	assert.Equal(t, env.paths.ProfileFilePath("play", ".zshrc"), linkDest)
	assert.Equal(t, "play", env.engine.ActiveProfile())
}

func TestSwitch_FailureReportedNotRolledBack(t *testing.T) {
	env := newTestEnv(t)
	env.repoFile(t, "work", ".zshrc", "w")
	env.repoFile(t, "play", ".vimrc", "v")

	_, err := env.engine.ActivateProfile("work", []string{".zshrc"}, nil)
	require.NoError(t, err)

	// .zshrc has no source in the play profile
	report, err := env.engine.Switch("work", "play", []string{".zshrc", ".vimrc"}, nil)
	require.NoError(t, err)
	assert.False(t, report.RollbackPerformed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, env.paths.HomeFilePath(".zshrc"), report.Errors[0].Target)

	// the part that could succeed did
	_, err = os.Readlink(env.paths.HomeFilePath(".vimrc"))
	require.NoError(t, err)
}

func TestPreviewSwitch(t *testing.T) {
	env := newTestEnv(t)
	env.repoFile(t, "work", ".zshrc", "w")
	env.repoFile(t, "play", ".vimrc", "v")
	_, err := env.engine.ActivateProfile("work", []string{".zshrc"}, nil)
	require.NoError(t, err)

	// unmanaged file in the way of the new profile
	env.homeFile(t, ".vimrc", "user vim")

	preview := env.engine.PreviewSwitch("work", "play", []string{".vimrc"}, nil)
	assert.Equal(t, []string{env.paths.HomeFilePath(".zshrc")}, preview.WillRemove)
	require.Len(t, preview.WillCreate, 1)
	assert.Equal(t, env.paths.HomeFilePath(".vimrc"), preview.WillCreate[0][0])
	assert.Equal(t, []string{env.paths.HomeFilePath(".vimrc")}, preview.Conflicts)
}

func TestRenameProfile(t *testing.T) {
	env := newTestEnv(t)
	env.repoFile(t, "work", ".zshrc", "z")
	_, err := env.engine.ActivateProfile("work", []string{".zshrc"}, nil)
	require.NoError(t, err)

	// rename the repo directory first, as the profile service does
	require.NoError(t, os.Rename(env.paths.ProfileDir("work"), env.paths.ProfileDir("office")))
	require.NoError(t, env.engine.RenameProfile("work", "office"))

	oldPrefix := env.paths.ProfileDir("work") + string(filepath.Separator)
	for _, entry := range env.engine.ledger.Symlinks {
		assert.NotContains(t, entry.Source, oldPrefix)
	}
	assert.Equal(t, "office", env.engine.ActiveProfile())

	linkDest, err := os.Readlink(env.paths.HomeFilePath(".zshrc"))
	require.NoError(t, err)
	assert.Equal(t, env.paths.ProfileFilePath("office", ".zshrc"), linkDest)
}
