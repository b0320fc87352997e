package bundle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/emberhq/kilnd/internal/blob"
	"github.com/emberhq/kilnd/internal/paths"
)

// Name of the source subdirectory inside a build working directory.
const srcDirName = "src"

// Downloads a bundle and expands it into a build context.
//
// The bundle is fetched from the store, treated as a gzip-compressed tar
// archive, and expanded under {workDir}/src. The working directory and the
// source directory are created with standard permissions. Nothing is
// deleted on failure; the caller owns cleanup of the working directory.
func Prepare(ctx context.Context, store blob.Store, workDir, bundleID string) (string, error) {
	srcDir := filepath.Join(workDir, srcDirName)
	if err := os.MkdirAll(srcDir, paths.DefaultDirMode); err != nil {
		return "", fmt.Errorf("%w: %w", ErrExtract, err)
	}

	rc, err := store.Download(ctx, bundleID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownload, err)
	}
	defer rc.Close()

	if err := extract(ctx, rc, srcDir); err != nil {
		return "", fmt.Errorf("%w: %w", ErrExtract, err)
	}

	slog.Debug("bundle expanded", "bundle", bundleID, "dir", srcDir)

	return srcDir, nil
}
