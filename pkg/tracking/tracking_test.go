package tracking

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingIsEmpty(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "symlinks.json"))
	require.NoError(t, err)
	assert.Equal(t, Version, l.Version)
	assert.Empty(t, l.Symlinks)
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symlinks.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "symlinks.json")
	backup := "/backups/20240101T000000Z/.zshrc"

	l := &Ledger{ActiveProfile: "work"}
	l.Append(Entry{
		Target:    "/home/user/.zshrc",
		Source:    "/repo/work/.zshrc",
		CreatedAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Backup:    &backup,
	})
	require.NoError(t, l.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "work", loaded.ActiveProfile)
	require.Len(t, loaded.Symlinks, 1)
	assert.Equal(t, "/home/user/.zshrc", loaded.Symlinks[0].Target)
	require.NotNil(t, loaded.Symlinks[0].Backup)
	assert.Equal(t, backup, *loaded.Symlinks[0].Backup)
	assert.True(t, loaded.Symlinks[0].CreatedAt.Equal(l.Symlinks[0].CreatedAt))
}

func TestAppend_ReplacesSameTarget(t *testing.T) {
	l := &Ledger{}
	l.Append(Entry{Target: "/home/u/.zshrc", Source: "/repo/a/.zshrc"})
	l.Append(Entry{Target: "/home/u/.vimrc", Source: "/repo/a/.vimrc"})
	l.Append(Entry{Target: "/home/u/.zshrc", Source: "/repo/b/.zshrc"})

	require.Len(t, l.Symlinks, 2)
	assert.Equal(t, "/repo/b/.zshrc", l.EntryFor("/home/u/.zshrc").Source)
}

func TestRemoveAndClaims(t *testing.T) {
	l := &Ledger{}
	l.Append(Entry{Target: "/home/u/.zshrc"})

	assert.True(t, l.Claims("/home/u/.zshrc"))
	assert.True(t, l.Remove("/home/u/.zshrc"))
	assert.False(t, l.Claims("/home/u/.zshrc"))
	assert.False(t, l.Remove("/home/u/.zshrc"))
}

func TestFilter_PreservesOrder(t *testing.T) {
	l := &Ledger{}
	l.Append(Entry{Target: "a", Source: "/repo/work/a"})
	l.Append(Entry{Target: "b", Source: "/old/gone/b"})
	l.Append(Entry{Target: "c", Source: "/repo/work/c"})

	dropped := l.Filter(func(e Entry) bool {
		return strings.HasPrefix(e.Source, "/repo")
	})

	assert.Equal(t, 1, dropped)
	require.Len(t, l.Symlinks, 2)
	assert.Equal(t, "a", l.Symlinks[0].Target)
	assert.Equal(t, "c", l.Symlinks[1].Target)
}
