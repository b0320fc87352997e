package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/containerd/errdefs"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Connection settings for an S3-compatible object store.
type ObjectConfig struct {
	Endpoint  string // Host:port of the object store.
	Bucket    string // Bucket holding bundle objects.
	AccessKey string // Access key id.
	SecretKey string // Secret access key.
	Region    string // Optional bucket region.
	Secure    bool   // Use TLS for the connection.
}

// Serves bundles from an S3-compatible object store, one object per
// identifier.
type ObjectStore struct {
	client *minio.Client // S3 client.
	bucket string        // Bucket holding bundle objects.
}

// Creates a store backed by the configured bucket.
//
// The connection is lazy; a bad endpoint surfaces on the first download.
func NewObjectStore(cfg ObjectConfig) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("object store %s: %w", cfg.Endpoint, err)
	}

	return &ObjectStore{client: client, bucket: cfg.Bucket}, nil
}

// Opens the object named by id.
//
// The object is stat'ed before the stream is handed out so that a missing
// bundle is reported here rather than on the first read.
func (s *ObjectStore) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	if id == "" {
		return nil, fmt.Errorf("bundle id is empty: %w", errdefs.ErrInvalidArgument)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(id, err)
	}

	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, translate(id, err)
	}

	return obj, nil
}

// Maps object store errors onto errdefs classes.
func translate(id string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("bundle %q: %w", id, errdefs.ErrNotFound)
	case "AccessDenied":
		return fmt.Errorf("bundle %q: %s: %w", id, resp.Code, errdefs.ErrPermissionDenied)
	default:
		return fmt.Errorf("bundle %q: %v: %w", id, err, errdefs.ErrUnavailable)
	}
}
