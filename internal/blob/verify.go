package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"
)

// Wraps a store and verifies content-addressed bundles as they stream.
//
// Identifiers that parse as an OCI digest ("sha256:...") are treated as the
// expected content address: the downloaded bytes are hashed during the read
// and the final EOF is replaced with an error when the digest does not
// match. Identifiers without digest syntax pass through unverified.
func Verified(s Store) Store {
	return &verifiedStore{inner: s}
}

type verifiedStore struct {
	inner Store
}

func (s *verifiedStore) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	rc, err := s.inner.Download(ctx, id)
	if err != nil {
		return nil, err
	}

	dgst, err := digest.Parse(id)
	if err != nil {
		return rc, nil
	}

	return &verifyReader{rc: rc, dgst: dgst, verifier: dgst.Verifier()}, nil
}

// Wraps an [io.ReadCloser] and checks the content digest on the first EOF.
//
// Every chunk is fed to the verifier as it passes through. Once EOF is
// reached with a mismatched digest, the EOF is converted into an error so
// the consumer never treats truncated or corrupted content as a complete
// bundle. Non-EOF errors are returned unchanged.
type verifyReader struct {
	rc       io.ReadCloser
	dgst     digest.Digest
	verifier digest.Verifier
}

func (r *verifyReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if n > 0 {
		r.verifier.Write(p[:n])
	}
	if err == io.EOF && !r.verifier.Verified() {
		return n, fmt.Errorf("bundle content does not match digest %s", r.dgst)
	}
	return n, err
}

func (r *verifyReader) Close() error {
	return r.rc.Close()
}
