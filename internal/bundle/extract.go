package bundle

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/emberhq/kilnd/internal/paths"
)

// Expands a gzip-compressed tar stream into dest.
//
// Entry names are validated against path traversal: every entry must stay
// inside dest, and symlink targets must resolve inside it as well. Entry
// types other than directories, regular files, and symlinks are skipped.
func extract(ctx context.Context, r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("not a gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("corrupt archive: %w", err)
		}

		target, err := securePath(dest, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, paths.DefaultDirMode); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, header); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := writeSymlink(dest, target, header.Linkname); err != nil {
				return err
			}
		}
	}
}

// Writes one regular file entry, creating parent directories as needed.
func writeEntry(target string, tr *tar.Reader, header *tar.Header) error {
	if err := os.MkdirAll(filepath.Dir(target), paths.DefaultDirMode); err != nil {
		return err
	}

	mode := header.FileInfo().Mode().Perm()
	if mode == 0 {
		mode = paths.DefaultFileMode
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, tr); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// Creates a symlink after checking that its target stays inside the root.
func writeSymlink(root, target, linkname string) error {
	resolved := linkname
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(target), linkname)
	}
	if !strings.HasPrefix(filepath.Clean(resolved)+string(os.PathSeparator), filepath.Clean(root)+string(os.PathSeparator)) {
		return fmt.Errorf("symlink %q escapes the build context", linkname)
	}

	if err := os.MkdirAll(filepath.Dir(target), paths.DefaultDirMode); err != nil {
		return err
	}

	return os.Symlink(linkname, target)
}

// Joins an archive entry name onto the root, rejecting traversal.
func securePath(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." {
		return root, nil
	}
	if filepath.IsAbs(clean) || !filepath.IsLocal(clean) {
		return "", fmt.Errorf("archive entry %q escapes the build context", name)
	}
	return filepath.Join(root, clean), nil
}
