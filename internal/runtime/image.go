package runtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
)

// Identity and size of a built image, as reported by the tool.
type ImageInfo struct {
	ID        string // Content-addressed image id.
	SizeBytes int64  // Image size in bytes.
}

// Resolves an image tag to its id and size.
//
// A tag the tool does not know wraps errdefs.ErrNotFound.
func (d *Docker) Inspect(ctx context.Context, tag string) (ImageInfo, error) {
	res, err := d.run(ctx, nil, "image", "inspect", "--format", "{{.Id}} {{.Size}}", tag)
	if err != nil {
		return ImageInfo{}, err
	}
	if res.exitCode != 0 {
		if strings.Contains(res.stderr, "No such image") {
			return ImageInfo{}, fmt.Errorf("image %s: %w", tag, errdefs.ErrNotFound)
		}
		return ImageInfo{}, &ExitError{Op: "inspect", Code: res.exitCode, Detail: res.stderrTail()}
	}

	return parseInspect(res.stdout)
}

// Parses "id size" inspect output.
func parseInspect(out string) (ImageInfo, error) {
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return ImageInfo{}, fmt.Errorf("unexpected inspect output %q", strings.TrimSpace(out))
	}

	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("unexpected inspect size %q: %w", fields[1], err)
	}

	return ImageInfo{ID: fields[0], SizeBytes: size}, nil
}

// Applies an additional tag to an existing image.
func (d *Docker) Tag(ctx context.Context, src, dst string) error {
	return d.exec(ctx, "tag", "tag", src, dst)
}

// Uploads a tag to its registry, streaming progress to onOutput.
func (d *Docker) Push(ctx context.Context, ref string, onOutput OutputFunc) error {
	return d.stream(ctx, "", "push", onOutput, "push", ref)
}

// Authenticates against a registry.
//
// The password travels over stdin, never through the argument list, and
// the resulting credential lands in the daemon's private configuration
// directory.
func (d *Docker) Login(ctx context.Context, server, username, password string) error {
	res, err := d.run(ctx, strings.NewReader(password),
		"login", server, "--username", username, "--password-stdin")
	if err != nil {
		return err
	}
	if res.exitCode != 0 {
		return &ExitError{Op: "login", Code: res.exitCode, Detail: res.stderrTail()}
	}
	return nil
}

// Deletes an image tag from the tool's local store.
//
// Unknown tags wrap errdefs.ErrNotFound so sweepers can ignore them.
func (d *Docker) Remove(ctx context.Context, tag string) error {
	res, err := d.run(ctx, nil, "image", "rm", "--force", tag)
	if err != nil {
		return err
	}
	if res.exitCode != 0 {
		if strings.Contains(res.stderr, "No such image") {
			return fmt.Errorf("image %s: %w", tag, errdefs.ErrNotFound)
		}
		return &ExitError{Op: "remove", Code: res.exitCode, Detail: res.stderrTail()}
	}
	return nil
}

// Runs a short operation where any non-zero exit is an error.
func (d *Docker) exec(ctx context.Context, op string, args ...string) error {
	res, err := d.run(ctx, nil, args...)
	if err != nil {
		return err
	}
	if res.exitCode != 0 {
		return &ExitError{Op: op, Code: res.exitCode, Detail: res.stderrTail()}
	}
	return nil
}
