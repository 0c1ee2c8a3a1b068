package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotstate/dotstate/pkg/backup"
	"github.com/dotstate/dotstate/pkg/config"
	"github.com/dotstate/dotstate/pkg/manifest"
	"github.com/dotstate/dotstate/pkg/paths"
	"github.com/dotstate/dotstate/pkg/symlink"
	"github.com/dotstate/dotstate/pkg/tracking"
)

type env struct {
	paths paths.Paths
	cfg   *config.Config
}

func setup(t *testing.T) *env {
	t.Helper()
	home := t.TempDir()
	t.Setenv(paths.EnvTestHome, home)
	t.Setenv(paths.EnvTestConfigDir, filepath.Join(home, ".config", "dotstate"))
	t.Setenv(paths.EnvTestBackupDir, filepath.Join(home, "backups"))

	p, err := paths.New("")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(p.RepoRoot(), 0755))

	cfg, err := config.LoadOrCreate(p)
	require.NoError(t, err)
	cfg.RepoPath = p.RepoRoot()
	cfg.ProfileActivated = false
	require.NoError(t, cfg.Save(p.ConfigFilePath()))

	return &env{paths: p, cfg: cfg}
}

func seedProfile(t *testing.T, e *env, name string, files ...string) {
	t.Helper()
	m, err := manifest.Load(e.cfg.RepoPath)
	require.NoError(t, err)
	m.AddProfile(name, nil)
	require.NoError(t, m.UpdateSyncedFiles(name, files))
	require.NoError(t, m.Save(e.cfg.RepoPath))

	for _, rel := range files {
		path := filepath.Join(e.cfg.RepoPath, name, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("content"), 0644))
	}
}

func activate(t *testing.T, e *env, name string) {
	t.Helper()
	engine, err := symlink.NewEngine(e.paths, backup.NewStore(e.paths.BackupRoot(), false))
	require.NoError(t, err)
	m, err := manifest.Load(e.cfg.RepoPath)
	require.NoError(t, err)
	profile := m.Profile(name)
	require.NotNil(t, profile)
	_, err = engine.ActivateProfile(name, profile.SyncedFiles, m.Common.SyncedFiles)
	require.NoError(t, err)

	e.cfg.ActiveProfile = name
	e.cfg.ProfileActivated = true
	require.NoError(t, e.cfg.Save(e.paths.ConfigFilePath()))
}

func resultsFor(results []Result, category string) []Result {
	var out []Result
	for _, r := range results {
		if r.Category == category {
			out = append(out, r)
		}
	}
	return out
}

func TestHealthySetupAllPass(t *testing.T) {
	e := setup(t)
	seedProfile(t, e, "work", ".zshrc", ".vimrc")
	activate(t, e, "work")

	d := New(e.paths, e.cfg, nil)
	results := d.Run(context.Background())

	assert.False(t, HasErrors(results))
	for _, r := range results {
		assert.NotEqual(t, StatusError, r.Status, "unexpected error: %s", r.Message)
	}
}

func TestMissingRepoPathIsError(t *testing.T) {
	e := setup(t)
	e.cfg.RepoPath = filepath.Join(t.TempDir(), "nope")

	d := New(e.paths, e.cfg, nil)
	results := d.Run(context.Background())

	assert.True(t, HasErrors(results))
	cfg := resultsFor(results, "Config")
	require.Len(t, cfg, 2)
	assert.Equal(t, StatusError, cfg[1].Status)
}

func TestDeletedSymlinkDetectedAndPruned(t *testing.T) {
	e := setup(t)
	seedProfile(t, e, "work", ".zshrc", ".vimrc")
	activate(t, e, "work")

	// Remove one tracked symlink behind the tool's back.
	require.NoError(t, os.Remove(filepath.Join(e.paths.HomeDir(), ".zshrc")))

	d := New(e.paths, e.cfg, nil)
	results := d.Run(context.Background())

	var pruneFix *Result
	for i, r := range results {
		if r.FixAction == FixPruneTracking {
			pruneFix = &results[i]
		}
	}
	require.NotNil(t, pruneFix, "expected a fixable warning about missing symlinks")
	assert.Equal(t, StatusWarning, pruneFix.Status)
	assert.True(t, pruneFix.Fixable)

	report := d.Fix(context.Background(), results)
	require.NotEmpty(t, report)

	ledger, err := tracking.Load(e.paths.TrackingFilePath())
	require.NoError(t, err)
	for _, entry := range ledger.Symlinks {
		_, err := os.Lstat(entry.Target)
		assert.NoError(t, err, "pruned ledger should only hold existing targets")
	}
}

func TestActivationDriftFixFlipsConfig(t *testing.T) {
	e := setup(t)
	seedProfile(t, e, "work", ".zshrc")

	// Config claims active but nothing was ever activated.
	e.cfg.ActiveProfile = "work"
	e.cfg.ProfileActivated = true
	require.NoError(t, e.cfg.Save(e.paths.ConfigFilePath()))

	d := New(e.paths, e.cfg, nil)
	results := d.Run(context.Background())

	found := false
	for _, r := range results {
		if r.FixAction == FixSyncActivation {
			found = true
		}
	}
	require.True(t, found)

	d.Fix(context.Background(), results)

	reloaded, err := config.LoadOrCreate(e.paths)
	require.NoError(t, err)
	assert.False(t, reloaded.ProfileActivated)
}

func TestUntrackedExpectedFileTriggersReactivate(t *testing.T) {
	e := setup(t)
	seedProfile(t, e, "work", ".zshrc")
	activate(t, e, "work")

	// Grow the manifest without activating the new file.
	m, err := manifest.Load(e.cfg.RepoPath)
	require.NoError(t, err)
	require.NoError(t, m.UpdateSyncedFiles("work", []string{".zshrc", ".gitconfig"}))
	require.NoError(t, m.Save(e.cfg.RepoPath))
	repoFile := filepath.Join(e.cfg.RepoPath, "work", ".gitconfig")
	require.NoError(t, os.WriteFile(repoFile, []byte("cfg"), 0644))

	d := New(e.paths, e.cfg, nil)
	results := d.Run(context.Background())

	var reactivate *Result
	for i, r := range results {
		if r.FixAction == FixReactivate {
			reactivate = &results[i]
		}
	}
	require.NotNil(t, reactivate)
	assert.Equal(t, StatusError, reactivate.Status)

	report := d.Fix(context.Background(), results)
	require.NotEmpty(t, report)
	for _, r := range report {
		assert.Equal(t, StatusPass, r.Status, "fix failed: %s", r.Message)
	}

	// The missing link now exists and is tracked.
	link := filepath.Join(e.paths.HomeDir(), ".gitconfig")
	fi, err := os.Lstat(link)
	require.NoError(t, err)
	assert.Equal(t, os.ModeSymlink, fi.Mode()&os.ModeSymlink)

	ledger, err := tracking.Load(e.paths.TrackingFilePath())
	require.NoError(t, err)
	found := false
	for _, entry := range ledger.Symlinks {
		if entry.Target == link {
			found = true
			assert.WithinDuration(t, time.Now(), entry.CreatedAt, time.Minute)
		}
	}
	assert.True(t, found)
}

func TestInactiveWithStaleLedgerWarns(t *testing.T) {
	e := setup(t)
	seedProfile(t, e, "work", ".zshrc")
	activate(t, e, "work")

	e.cfg.ProfileActivated = false
	require.NoError(t, e.cfg.Save(e.paths.ConfigFilePath()))

	d := New(e.paths, e.cfg, nil)
	results := d.Run(context.Background())

	trackingResults := resultsFor(results, "Tracking")
	require.NotEmpty(t, trackingResults)
	assert.Equal(t, StatusWarning, trackingResults[0].Status)
}
