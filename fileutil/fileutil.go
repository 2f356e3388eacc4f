package fileutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// IsDir returns true if a directory with the given path exists.
func IsDir(filename string) bool {
	info, err := os.Stat(filename)
	return err == nil && info.IsDir()
}

// IsRegular reports whether a regular file exists at the given path. It
// returns false and no error if nothing exists there. It returns an error if
// the path cannot be examined or names something other than a regular file.
func IsRegular(filename string) (bool, error) {
	info, err := os.Stat(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("not a regular file: path=%s mode=%s", filename, info.Mode())
	}
	return true, nil
}

// IsPathSegment reports whether s can be joined onto a directory without
// leaving it: a non-empty name other than "." or ".." with no separators.
func IsPathSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`)
}

// WriteExclusive copies r into a new file at dst. The data is first written
// to a hidden temporary file in the same directory, which is hard-linked into
// place only after the copy completes. Thus dst either does not exist or holds
// the complete contents of r. It fails with an error satisfying
// errors.Is(err, fs.ErrExist) if dst already exists; an existing file is never
// overwritten. It returns the number of bytes copied.
func WriteExclusive(dst string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer func() {
		if err := os.Remove(tmpName); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.WithError(err).Warnf("failed to remove temporary file: path=%s", tmpName)
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return n, err
	}

	// CreateTemp uses 0600.
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return n, err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return n, err
	}

	if err := tmp.Close(); err != nil {
		return n, err
	}

	// Unlike rename, link refuses to replace an existing file.
	if err := os.Link(tmpName, dst); err != nil {
		return n, err
	}

	return n, nil
}
