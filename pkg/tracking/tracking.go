// Package tracking persists the symlink ledger. The ledger records every
// symlink dotstate has created and is the source of truth for ownership:
// removal and repair operations only ever touch targets the ledger claims.
package tracking

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/dotstate/dotstate/pkg/errors"
	"github.com/dotstate/dotstate/pkg/logging"
)

// Version is the ledger schema version.
const Version = 1

// Entry is one tracked symlink.
type Entry struct {
	// Target is the symlink location in the home directory.
	Target string `json:"target"`
	// Source is the file in the repository the link points to.
	Source string `json:"source"`
	// CreatedAt is when the link was created.
	CreatedAt time.Time `json:"created_at"`
	// Backup is where the displaced original was saved, if any.
	Backup *string `json:"backup,omitempty"`
}

// Ledger is the tracked symlink state for this machine.
type Ledger struct {
	Version       int     `json:"version"`
	ActiveProfile string  `json:"active_profile"`
	Symlinks      []Entry `json:"symlinks"`
}

// Load reads the ledger from path. A missing file yields an empty ledger.
func Load(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Ledger{Version: Version, Symlinks: []Entry{}}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "failed to read tracking file %s", path)
	}

	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, errors.Wrapf(err, errors.ErrMalformedStore, "failed to parse tracking file %s", path)
	}
	if l.Symlinks == nil {
		l.Symlinks = []Entry{}
	}
	return &l, nil
}

// Save writes the ledger atomically.
func (l *Ledger) Save(path string) error {
	l.Version = Version

	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to serialize tracking data")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrDirCreate, "failed to create tracking directory")
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return errors.Wrapf(err, errors.ErrFileWrite, "failed to write temp tracking file %s", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, errors.ErrFileWrite, "failed to rename temp tracking file to %s", path)
	}

	logger := logging.GetLogger("tracking")
	logger.Debug().Str("path", path).Int("entries", len(l.Symlinks)).Msg("Tracking data saved")
	return nil
}

// EntryFor returns the ledger entry claiming target, or nil.
func (l *Ledger) EntryFor(target string) *Entry {
	for i := range l.Symlinks {
		if l.Symlinks[i].Target == target {
			return &l.Symlinks[i]
		}
	}
	return nil
}

// Claims reports whether the ledger owns target.
func (l *Ledger) Claims(target string) bool {
	return l.EntryFor(target) != nil
}

// Append records a new entry, replacing any previous entry for the same
// target.
func (l *Ledger) Append(e Entry) {
	l.Remove(e.Target)
	l.Symlinks = append(l.Symlinks, e)
}

// Remove drops the entry for target, preserving the order of the rest.
// Returns true if an entry was removed.
func (l *Ledger) Remove(target string) bool {
	for i := range l.Symlinks {
		if l.Symlinks[i].Target == target {
			l.Symlinks = append(l.Symlinks[:i], l.Symlinks[i+1:]...)
			return true
		}
	}
	return false
}

// Filter keeps only the entries keep returns true for, preserving order.
// Returns the number of entries dropped.
func (l *Ledger) Filter(keep func(Entry) bool) int {
	kept := l.Symlinks[:0]
	for _, e := range l.Symlinks {
		if keep(e) {
			kept = append(kept, e)
		}
	}
	dropped := len(l.Symlinks) - len(kept)
	l.Symlinks = kept
	return dropped
}
