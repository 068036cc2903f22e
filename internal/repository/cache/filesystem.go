package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FilesystemStore lays tiles out as <dir>/<dataset>/<z>/<x>/<y>.
type FilesystemStore struct {
	dir string
}

func NewFilesystemStore(dir string) (*FilesystemStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create tile dir: %w", err)
	}
	return &FilesystemStore{dir: dir}, nil
}

var _ TileStore = (*FilesystemStore)(nil)

func (c *FilesystemStore) Get(_ context.Context, k TileKey) (data []byte, ok bool, err error) {
	defer func(start time.Time) { observe("filesystem", "get", start, err) }(time.Now())

	content, err := os.ReadFile(c.path(k))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return content, true, nil
}

func (c *FilesystemStore) Set(_ context.Context, k TileKey, v []byte) (err error) {
	defer func(start time.Time) { observe("filesystem", "set", start, err) }(time.Now())

	p := c.path(k)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, v, 0o644)
}

func (c *FilesystemStore) Close() error {
	return nil
}

func (c *FilesystemStore) path(k TileKey) string {
	return filepath.Join(c.dir, k.Dataset, fmt.Sprint(k.Z), fmt.Sprint(k.X), fmt.Sprint(k.Y))
}
