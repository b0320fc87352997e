package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Describes one supervised build invocation.
type BuildInput struct {
	ID         string            // Operation id; keys the process table for Terminate.
	Tag        string            // Image tag to produce.
	ContextDir string            // Build context directory.
	RecipePath string            // Recipe path relative to ContextDir.
	Platform   string            // Normalized target platform; empty leaves the tool's default.
	Target     string            // Multi-stage target name; empty builds the final stage.
	BuildArgs  map[string]string // Build arguments passed through to the recipe.
	Labels     map[string]string // Labels stamped on the produced image.
}

// Runs the build operation for the given input.
//
// Both output streams are forwarded to onOutput in arrival order. The
// process is registered under the input id so a concurrent Terminate or
// context cancellation ends it gracefully. Returns the context error when
// the context ended the build, an [*ExitError] when the tool exited
// non-zero, and nil on success.
func (d *Docker) Build(ctx context.Context, in BuildInput, onOutput OutputFunc) error {
	return d.stream(ctx, in.ID, "build", onOutput, buildArgs(in)...)
}

// Composes the argument list for a build invocation.
//
// Map-backed options are emitted in sorted key order so that identical
// inputs always produce the identical invocation.
func buildArgs(in BuildInput) []string {
	args := []string{"build",
		"--file", filepath.Join(in.ContextDir, in.RecipePath),
		"--tag", in.Tag,
	}

	if in.Platform != "" {
		args = append(args, "--platform", in.Platform)
	}
	if in.Target != "" {
		args = append(args, "--target", in.Target)
	}
	for _, k := range sortedKeys(in.BuildArgs) {
		args = append(args, "--build-arg", fmt.Sprintf("%s=%s", k, in.BuildArgs[k]))
	}
	for _, k := range sortedKeys(in.Labels) {
		args = append(args, "--label", fmt.Sprintf("%s=%s", k, in.Labels[k]))
	}

	return append(args, in.ContextDir)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Derives the image tag for a build id.
//
// The tag is assigned when the build record is created and never changes.
// Identifiers are sanitized so any opaque id yields a valid reference.
func BuildTag(id string) string {
	return fmt.Sprintf("kilnd/build-%s:latest", sanitizeRef(id))
}

// Reduces a string to characters valid in an image reference path.
func sanitizeRef(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}

	out := strings.Trim(b.String(), "-._")
	if out == "" {
		return "untagged"
	}
	return out
}
