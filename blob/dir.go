package blob

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// Dir is a Store backed by a local directory. Keys map to file names inside
// the directory; nested paths are rejected by the OS rules of the platform.
type Dir struct {
	root string
}

// NewDir creates the directory if needed and returns a Store over it.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, errors.Wrapf(err, "failed to create blob directory %s", root)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) path(key string) string {
	return filepath.Join(d.root, key)
}

func (d *Dir) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(d.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to stat %s", key)
}

func (d *Dir) Read(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(d.path(key))
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrNotExist, key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", key)
	}
	return data, nil
}

func (d *Dir) Write(_ context.Context, key string, data []byte) error {
	// Write to a temp file and rename so that readers never observe a
	// partially written session string.
	tmp, err := os.CreateTemp(d.root, "."+key+".tmp*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file for %s", key)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write %s", key)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to sync %s", key)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", key)
	}
	if err := os.Rename(tmp.Name(), d.path(key)); err != nil {
		return errors.Wrapf(err, "failed to rename temp file for %s", key)
	}
	return nil
}

func (d *Dir) Touch(ctx context.Context, key string) error {
	return d.Write(ctx, key, nil)
}

func (d *Dir) Remove(_ context.Context, key string) error {
	if err := os.Remove(d.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %s", key)
	}
	return nil
}

func (d *Dir) Glob(_ context.Context, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(d.root, pattern))
	if err != nil {
		return nil, errors.Wrapf(err, "bad glob pattern %q", pattern)
	}
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		keys = append(keys, filepath.Base(m))
	}
	sort.Strings(keys)
	return keys, nil
}
