package storage

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FileStore keeps each checkpoint in a plain-text file holding the decimal
// height. Files are replaced atomically.
type FileStore struct {
	dir string
}

// NewFileStore stores checkpoints under dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "checkpoint dir %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(key string) string {
	if key == "" {
		key = DefaultKey
	}
	return filepath.Join(f.dir, key)
}

// LoadCursor reads the checkpoint file. A missing file means no checkpoint.
func (f *FileStore) LoadCursor(key string) (uint64, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "read checkpoint")
	}
	h, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "corrupt checkpoint %s", f.path(key))
	}
	return h, true, nil
}

// SaveCursor writes to a temp file in the same directory and renames it
// over the checkpoint.
func (f *FileStore) SaveCursor(key string, height uint64) error {
	target := f.path(key)
	tmp, err := os.CreateTemp(f.dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create checkpoint temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strconv.FormatUint(height, 10)); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write checkpoint")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close checkpoint")
	}
	return errors.Wrap(os.Rename(tmp.Name(), target), "replace checkpoint")
}

// Close implements the Persistence interface.
func (f *FileStore) Close() error {
	return nil
}
