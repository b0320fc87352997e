package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/distribution/reference"
)

// Publishes a successful build's image to a registry and returns the
// qualified tag it was pushed as.
//
// Fails with [ErrNotFound] for unknown ids, [ErrInvalidInput] when the
// registry is missing required fields, and [ErrInvalidState] unless the
// build's status is success. The login, tag, and push operations run only
// after all gates pass. The build record itself is never mutated; the
// qualified tag is a derived artifact.
func (o *Orchestrator) Push(ctx context.Context, id string, reg Registry) (string, error) {
	rec := o.lookup(id)
	if rec == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := reg.validate(); err != nil {
		return "", err
	}
	if st := rec.currentStatus(); st != StatusSuccess {
		return "", fmt.Errorf("%w: push requires a successful build, status is %q", ErrInvalidState, st)
	}

	namespace := reg.Namespace
	if namespace == "" {
		namespace = o.namespace
	}

	qualified, err := qualifiedTag(reg.Address, namespace, rec.imageTag)
	if err != nil {
		return "", err
	}

	if err := o.engine.Login(ctx, reg.Address, reg.Username, reg.Password); err != nil {
		return "", fmt.Errorf("registry login: %w", err)
	}
	if err := o.engine.Tag(ctx, rec.imageTag, qualified); err != nil {
		return "", fmt.Errorf("tag %s: %w", qualified, err)
	}
	if err := o.engine.Push(ctx, qualified, func(chunk string) {
		slog.Debug("push output", "id", id, "chunk", strings.TrimSpace(chunk))
	}); err != nil {
		return "", fmt.Errorf("push %s: %w", qualified, err)
	}

	return qualified, nil
}

// Composes the registry-qualified tag {address}/{namespace}/{name}:{tag}
// from a build's local image tag.
func qualifiedTag(address, namespace, imageTag string) (string, error) {
	name, version := splitLocalTag(imageTag)

	qualified := fmt.Sprintf("%s/%s/%s:%s", address, namespace, name, version)
	if _, err := reference.ParseNamed(qualified); err != nil {
		return "", fmt.Errorf("%w: reference %q: %w", ErrInvalidInput, qualified, err)
	}
	return qualified, nil
}

// Splits a local image tag like "kilnd/build-x:latest" into its final
// path component and version.
func splitLocalTag(tag string) (name, version string) {
	name, version = tag, "latest"
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name, version = name[:i], name[i+1:]
	}
	return name, version
}
