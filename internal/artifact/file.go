package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
)

// FileStore keeps each container as a directory under root.
type FileStore struct {
	root   string
	logger zerolog.Logger
}

// NewFileStore creates root if needed.
func NewFileStore(root string, logger zerolog.Logger) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("artifact root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact root: %w", err)
	}
	return &FileStore{root: root, logger: logger}, nil
}

// Put writes through a temp file and renames it into place.
func (s *FileStore) Put(_ context.Context, container, name string, r io.Reader) error {
	if err := validate(container, name); err != nil {
		return err
	}
	dst := filepath.Join(s.root, container, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating container: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing %s/%s: %w", container, name, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("renaming %s/%s: %w", container, name, err)
	}

	s.logger.Debug().Str("container", container).Str("name", name).Int64("bytes", n).Msg("artifact stored")
	return nil
}

// Get opens an artifact for reading.
func (s *FileStore) Get(_ context.Context, container, name string) (io.ReadCloser, error) {
	if err := validate(container, name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.root, container, filepath.FromSlash(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, container, name)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// List returns the artifact names in container, sorted.
func (s *FileStore) List(_ context.Context, container string) ([]string, error) {
	if err := validate(container, "x"); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, container)
	var names []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Base(p)[0] == '.' {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }
