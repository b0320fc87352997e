package orchestrator

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// Errors returned synchronously from orchestrator operations. Each wraps
// the errdefs class the caller surface maps to a transport status.
var (
	ErrCapacityExceeded = fmt.Errorf("build capacity exceeded: %w", errdefs.ErrResourceExhausted)
	ErrNotFound         = fmt.Errorf("build not found: %w", errdefs.ErrNotFound)
	ErrInvalidState     = fmt.Errorf("operation not valid for build state: %w", errdefs.ErrFailedPrecondition)
	ErrInvalidInput     = fmt.Errorf("invalid build request: %w", errdefs.ErrInvalidArgument)
)

// Terminal failure reasons recorded on a build. The record's error field
// carries the reason text; these sentinels let tests and callers match it.
var (
	ErrPreparation = errors.New("context preparation failed")
	ErrBuild       = errors.New("build failed")
	ErrTimeout     = errors.New("timed out")
	ErrCancelled   = errors.New("cancelled by caller")
)
