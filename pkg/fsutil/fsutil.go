// Package fsutil holds the copy primitives shared by backup, symlink
// repair and sync. Copies never remove the source; callers that need
// move semantics delete after a verified copy.
package fsutil

import (
	"io"
	"os"
	"path/filepath"

	"github.com/dotstate/dotstate/pkg/errors"
)

// CopyAny copies src to dest. Regular files are copied with their
// permission bits, directories recursively, symlinks are recreated as
// links with the same contents.
func CopyAny(src, dest string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to stat %s", src)
	}
	return copyAny(src, dest, info)
}

func copyAny(src, dest string, info os.FileInfo) error {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		linkDest, err := os.Readlink(src)
		if err != nil {
			return errors.Wrapf(err, errors.ErrFileAccess, "failed to read symlink %s", src)
		}
		if err := os.Symlink(linkDest, dest); err != nil {
			return errors.Wrapf(err, errors.ErrSymlinkCreate, "failed to recreate symlink at %s", dest)
		}
		return nil
	case info.IsDir():
		return CopyDir(src, dest)
	default:
		return CopyFile(src, dest, info.Mode().Perm())
	}
}

// CopyDir recursively copies the tree rooted at src into dest.
func CopyDir(src, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrDirCreate, "failed to create directory %s", dest)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to read directory %s", src)
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return errors.Wrapf(err, errors.ErrFileAccess, "failed to stat %s", entry.Name())
		}
		if err := copyAny(filepath.Join(src, entry.Name()), filepath.Join(dest, entry.Name()), info); err != nil {
			return err
		}
	}
	return nil
}

// CopyFile copies a regular file, creating dest with the given mode.
func CopyFile(src, dest string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to open %s", src)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileCreate, "failed to create %s", dest)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, errors.ErrFileWrite, "failed to copy %s to %s", src, dest)
	}
	if err := out.Close(); err != nil {
		return errors.Wrapf(err, errors.ErrFileWrite, "failed to flush %s", dest)
	}
	return nil
}
