// Package backup manages timestamped backup sessions. Every sync or
// activation operation that displaces user files gets its own session
// directory under the backup root. Backups are only ever written, never
// deleted; cleanup is left to the user.
package backup

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dotstate/dotstate/pkg/errors"
	"github.com/dotstate/dotstate/pkg/fsutil"
	"github.com/dotstate/dotstate/pkg/logging"
)

// sessionTimeFormat names session directories by their UTC creation time.
const sessionTimeFormat = "2006-01-02T15-04-05Z"

// Store creates backup sessions under a root directory.
type Store struct {
	root    string
	enabled bool
	now     func() time.Time
}

// NewStore returns a store rooted at root. When enabled is false every
// backup call is a silent no-op and entries report no backup path.
func NewStore(root string, enabled bool) *Store {
	return &Store{root: root, enabled: enabled, now: time.Now}
}

// Root returns the backup root directory.
func (s *Store) Root() string { return s.root }

// Enabled reports whether backups are being written.
func (s *Store) Enabled() bool { return s.enabled }

// Session is one backup session. The session directory is created lazily
// on the first backup so aborted operations leave no empty directories.
type Session struct {
	store   *Store
	dir     string
	created bool
}

// OpenSession starts a new session. No directory is created yet.
func (s *Store) OpenSession() *Session {
	dir := filepath.Join(s.root, s.now().UTC().Format(sessionTimeFormat))
	return &Session{store: s, dir: dir}
}

// Dir returns the session directory path. It may not exist yet.
func (sess *Session) Dir() string { return sess.dir }

func (sess *Session) ensure() error {
	if sess.created {
		return nil
	}
	if err := os.MkdirAll(sess.store.root, 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrDirCreate, "failed to create backup root")
	}
	// Two sessions in the same second get distinct directories.
	dir := sess.dir
	for i := 1; ; i++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return errors.Wrapf(err, errors.ErrDirCreate, "failed to create backup session directory %s", dir)
		}
		dir = sess.dir + "-" + strconv.Itoa(i)
	}
	sess.dir = dir
	sess.created = true
	return nil
}

// Backup copies path into the session under name and returns the backup
// location. Directories are copied recursively, symlinks inside them are
// recreated as links. Returns "" with no error when backups are disabled.
func (sess *Session) Backup(path, name string) (string, error) {
	if !sess.store.enabled {
		return "", nil
	}
	if err := sess.ensure(); err != nil {
		return "", err
	}

	dest := filepath.Join(sess.dir, name)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", errors.Wrapf(err, errors.ErrDirCreate, "failed to create backup parent directory")
	}

	if err := fsutil.CopyAny(path, dest); err != nil {
		return "", err
	}

	logger := logging.GetLogger("backup")
	logger.Debug().Str("path", path).Str("backup", dest).Msg("Backed up")
	return dest, nil
}
