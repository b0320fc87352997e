package blob

import (
	"context"
	"io"
)

// Provides read access to stored source bundles.
//
// Identifiers are opaque strings; implementations must not assume any
// structure beyond what they need to locate the bytes. Download failures
// carry an errdefs class so callers can distinguish a missing bundle
// (errdefs.IsNotFound) from an unreachable store (errdefs.IsUnavailable).
type Store interface {

	// Opens the bundle with the given identifier for reading. The caller
	// owns the returned reader and must close it.
	Download(ctx context.Context, id string) (io.ReadCloser, error)
}
