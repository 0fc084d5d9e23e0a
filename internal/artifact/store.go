// Package artifact stores pipeline files (extracts, feature tables, models,
// encoders, predictions) in named containers.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// Containers used by the pipeline.
const (
	ContainerRaw         = "raw"
	ContainerProcessed   = "processed"
	ContainerModelInput  = "model-input"
	ContainerModels      = "models"
	ContainerPredictions = "predictions"
)

var (
	ErrNotFound    = errors.New("artifact not found")
	ErrInvalidName = errors.New("invalid artifact name")
)

// Store is a flat key-value store of blobs grouped by container.
type Store interface {
	Put(ctx context.Context, container, name string, r io.Reader) error
	Get(ctx context.Context, container, name string) (io.ReadCloser, error)
	List(ctx context.Context, container string) ([]string, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open returns the store for backend rooted at location: a directory for
// "file", a database path for "sqlite".
func Open(backend, location string, logger zerolog.Logger) (Store, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(location, logger)
	case BackendSQLite:
		return OpenSQLite(location, logger)
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", backend)
	}
}

// PutBytes stores b.
func PutBytes(ctx context.Context, s Store, container, name string, b []byte) error {
	return s.Put(ctx, container, name, bytes.NewReader(b))
}

// GetBytes reads a whole artifact.
func GetBytes(ctx context.Context, s Store, container, name string) ([]byte, error) {
	rc, err := s.Get(ctx, container, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

var containerPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

func validate(container, name string) error {
	if !containerPattern.MatchString(container) {
		return fmt.Errorf("%w: container %q", ErrInvalidName, container)
	}
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") ||
		path.Clean(name) != name || strings.HasPrefix(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
