package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/containerd/errdefs"
)

// Serves bundles from a local directory, one file per identifier.
//
// This is the default backend for single-machine deployments: producers
// drop compressed bundles into the directory and hand the file name to the
// build API.
type DirStore struct {
	dir string // Directory holding bundle files.
}

// Creates a store rooted at the given directory.
//
// The directory is created if it does not exist.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("bundle dir %s: %w", dir, err)
	}
	return &DirStore{dir: dir}, nil
}

// Opens the bundle file named by id.
//
// Identifiers must be local relative paths; anything escaping the store
// directory is rejected.
func (s *DirStore) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	if id == "" || !filepath.IsLocal(id) {
		return nil, fmt.Errorf("bundle id %q: %w", id, errdefs.ErrInvalidArgument)
	}

	f, err := os.Open(filepath.Join(s.dir, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("bundle %q: %w", id, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("bundle %q: %w", id, errdefs.ErrUnavailable)
	}

	return f, nil
}
