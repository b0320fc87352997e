package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/sync/semaphore"

	"github.com/emberhq/kilnd/internal/blob"
	"github.com/emberhq/kilnd/internal/bundle"
	"github.com/emberhq/kilnd/internal/recipe"
	"github.com/emberhq/kilnd/internal/runtime"
)

// The build tool operations the orchestrator drives. Implemented by
// [runtime.Docker]; tests substitute stubs.
type Engine interface {
	Build(ctx context.Context, in runtime.BuildInput, onOutput runtime.OutputFunc) error
	Inspect(ctx context.Context, tag string) (runtime.ImageInfo, error)
	Tag(ctx context.Context, src, dst string) error
	Push(ctx context.Context, ref string, onOutput runtime.OutputFunc) error
	Login(ctx context.Context, server, username, password string) error
	Remove(ctx context.Context, tag string) error
	Terminate(id string) bool
}

// Describes one build to start.
type Request struct {
	BundleID   string            // Content-addressed bundle to build from.
	Platform   string            // Target platform; empty builds for the host.
	RecipePath string            // Custom recipe path relative to the context root.
	Target     string            // Multi-stage target name; empty builds the final stage.
	BuildArgs  map[string]string // Build arguments passed through to the recipe.
	Labels     map[string]string // Extra labels stamped on the image.
	Push       *Registry         // When set, the image is pushed after a successful build.
}

// Names a registry and the credentials to publish with.
type Registry struct {
	Address   string // Registry host, e.g. "registry.example.com:5000".
	Namespace string // Repository namespace; empty uses the configured default.
	Username  string
	Password  string
}

// Checks the fields the push workflow requires.
func (reg Registry) validate() error {
	switch {
	case strings.TrimSpace(reg.Address) == "":
		return fmt.Errorf("%w: registry address is required", ErrInvalidInput)
	case reg.Username == "":
		return fmt.Errorf("%w: registry username is required", ErrInvalidInput)
	case reg.Password == "":
		return fmt.Errorf("%w: registry password is required", ErrInvalidInput)
	}
	return nil
}

// Configures an [Orchestrator]. Values are expected to come from a
// validated daemon configuration.
type Options struct {
	Engine        Engine
	Store         blob.Store
	WorkRoot      string        // Root under which per-build working directories are created.
	MaxBuilds     int           // Ceiling on concurrently non-terminal builds.
	BuildTimeout  time.Duration // Per-build deadline; 0 disables the timeout.
	Retention     time.Duration // Age past which terminal records are evicted.
	SweepInterval time.Duration // Pause between retention sweeps; 0 disables the sweeper.
	Namespace     string        // Default registry namespace for pushes.
}

// Owns the build records and drives each build through its lifecycle.
//
// All state is process-local; nothing survives a restart. Records are
// mutated only by the owning lifecycle goroutine and the cancel path,
// both of which serialize through per-record compare-and-set transitions.
type Orchestrator struct {
	engine        Engine
	store         blob.Store
	workRoot      string
	timeout       time.Duration
	retention     time.Duration
	sweepInterval time.Duration
	namespace     string

	sem *semaphore.Weighted

	mu      sync.RWMutex
	records map[string]*record

	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc

	now   func() time.Time // Clock, replaceable in tests.
	newID func() string    // Id generator, replaceable in tests.
}

// Creates an orchestrator from the given options.
func New(opts Options) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		engine:        opts.Engine,
		store:         opts.Store,
		workRoot:      opts.WorkRoot,
		timeout:       opts.BuildTimeout,
		retention:     opts.Retention,
		sweepInterval: opts.SweepInterval,
		namespace:     opts.Namespace,
		sem:           semaphore.NewWeighted(int64(opts.MaxBuilds)),
		records:       make(map[string]*record),
		baseCtx:       ctx,
		stop:          cancel,
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// Accepts a build request and returns the new build's id.
//
// The concurrency slot is reserved atomically with record creation:
// when the ceiling is reached the request is rejected with
// [ErrCapacityExceeded] and no record exists afterward. The build itself
// runs on a background goroutine; its outcome is observable via [Status].
func (o *Orchestrator) Start(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.BundleID) == "" {
		return "", fmt.Errorf("%w: bundle id is required", ErrInvalidInput)
	}
	if req.RecipePath != "" && !filepath.IsLocal(req.RecipePath) {
		return "", fmt.Errorf("%w: recipe path %q escapes the context root", ErrInvalidInput, req.RecipePath)
	}
	platform, err := runtime.NormalizePlatform(req.Platform)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	req.Platform = platform
	if req.Push != nil {
		if err := req.Push.validate(); err != nil {
			return "", err
		}
	}

	if !o.sem.TryAcquire(1) {
		return "", ErrCapacityExceeded
	}

	lctx, cancel := context.WithCancel(o.baseCtx)

	id := o.newID()
	rec := &record{
		id:        id,
		status:    StatusPending,
		imageTag:  runtime.BuildTag(id),
		startedAt: o.now(),
		workDir:   filepath.Join(o.workRoot, id),
		cancel:    cancel,
	}

	o.mu.Lock()
	o.records[id] = rec
	o.mu.Unlock()

	slog.Info("build accepted", "id", id, "bundle", req.BundleID, "tag", rec.imageTag)

	o.wg.Add(1)
	go o.lifecycle(lctx, rec, req)

	return id, nil
}

// Returns a snapshot of the build with the given id.
func (o *Orchestrator) Status(id string) (Build, error) {
	rec := o.lookup(id)
	if rec == nil {
		return Build{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.snapshot(), nil
}

// Returns snapshots of every known build, oldest first.
func (o *Orchestrator) List() []Build {
	o.mu.RLock()
	recs := make([]*record, 0, len(o.records))
	for _, rec := range o.records {
		recs = append(recs, rec)
	}
	o.mu.RUnlock()

	builds := make([]Build, 0, len(recs))
	for _, rec := range recs {
		builds = append(builds, rec.snapshot())
	}

	sort.Slice(builds, func(i, j int) bool {
		if builds[i].StartedAt.Equal(builds[j].StartedAt) {
			return builds[i].ID < builds[j].ID
		}
		return builds[i].StartedAt.Before(builds[j].StartedAt)
	})

	return builds
}

// Cancels the build with the given id.
//
// Returns false for unknown ids. Cancelling a terminal build changes
// nothing and reports true. Otherwise the record is marked failed with a
// cancellation reason, the working directory is removed, and the build's
// child process (when one is running) receives a termination request,
// all before the call returns. A build still in preparation never
// reaches building.
func (o *Orchestrator) Cancel(id string) bool {
	rec := o.lookup(id)
	if rec == nil {
		return false
	}

	if !o.fail(rec, ErrCancelled) {
		return true
	}

	rec.cancel()
	o.engine.Terminate(id)

	slog.Info("build cancelled", "id", id)
	return true
}

// Stops all in-flight builds and waits for their lifecycles to finish.
func (o *Orchestrator) Close() {
	o.stop()
	o.wg.Wait()
}

// Drives one build from context preparation to a terminal state.
//
// Every terminal path releases the concurrency slot exactly once and
// removes the working directory. Transitions lost to a concurrent cancel
// abandon the build without touching the record.
func (o *Orchestrator) lifecycle(ctx context.Context, rec *record, req Request) {
	defer o.wg.Done()
	defer rec.cancel()
	defer o.cleanup(rec)

	srcDir, err := bundle.Prepare(ctx, o.store, rec.workDir, req.BundleID)
	if err != nil {
		o.fail(rec, fmt.Errorf("%w: %w", ErrPreparation, err))
		return
	}

	recipePath, generated, err := recipe.Resolve(srcDir, req.RecipePath)
	if err != nil {
		o.fail(rec, fmt.Errorf("%w: %w", ErrPreparation, err))
		return
	}
	if generated {
		slog.Info("generated build recipe", "id", rec.id, "path", recipePath)
	}

	if !rec.toBuilding() {
		return
	}

	bctx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		bctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	err = o.engine.Build(bctx, runtime.BuildInput{
		ID:         rec.id,
		Tag:        rec.imageTag,
		ContextDir: srcDir,
		RecipePath: recipePath,
		Platform:   req.Platform,
		Target:     req.Target,
		BuildArgs:  req.BuildArgs,
		Labels:     o.imageLabels(req.Labels),
	}, rec.append)
	if err != nil {
		o.fail(rec, buildFailure(err))
		return
	}

	info, err := o.engine.Inspect(ctx, rec.imageTag)
	if err != nil {
		o.fail(rec, fmt.Errorf("%w: image inspection: %w", ErrBuild, err))
		return
	}

	if !o.succeed(rec, info) {
		return
	}

	if req.Push != nil {
		if ref, err := o.Push(ctx, rec.id, *req.Push); err != nil {
			slog.Error("push after build failed", "id", rec.id, "error", err)
		} else {
			slog.Info("image pushed", "id", rec.id, "ref", ref)
		}
	}
}

// Maps a build error to its terminal failure reason.
func buildFailure(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	}

	var exitErr *runtime.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: exit code %d", ErrBuild, exitErr.Code)
	}
	return fmt.Errorf("%w: %w", ErrBuild, err)
}

// Marks the record failed with the given reason.
//
// The winner of the terminal transition releases the concurrency slot and
// removes the working directory; losers report false and do nothing.
func (o *Orchestrator) fail(rec *record, reason error) bool {
	if !rec.fail(o.now(), reason) {
		return false
	}

	o.sem.Release(1)
	o.cleanup(rec)

	slog.Info("build failed", "id", rec.id, "reason", reason)
	return true
}

// Marks the record successful with the inspected image identity.
func (o *Orchestrator) succeed(rec *record, info runtime.ImageInfo) bool {
	if !rec.succeed(o.now(), info.ID, info.SizeBytes) {
		return false
	}

	o.sem.Release(1)
	o.cleanup(rec)

	slog.Info("build succeeded", "id", rec.id, "image", info.ID, "sizeBytes", info.SizeBytes)
	return true
}

// Removes the build's working directory. Idempotent. Failures are logged
// and never escalate into the build's own error state.
func (o *Orchestrator) cleanup(rec *record) {
	if rec.workDir == "" {
		return
	}
	if err := os.RemoveAll(rec.workDir); err != nil {
		slog.Warn("working directory cleanup failed", "id", rec.id, "dir", rec.workDir, "error", err)
	}
}

// Composes the labels stamped on a built image: standard OCI annotations
// overlaid with caller-supplied labels, which win on collision.
func (o *Orchestrator) imageLabels(custom map[string]string) map[string]string {
	labels := map[string]string{
		ocispec.AnnotationCreated: o.now().UTC().Format(time.RFC3339),
		ocispec.AnnotationVendor:  "emberhq",
	}
	maps.Copy(labels, custom)
	return labels
}

func (o *Orchestrator) lookup(id string) *record {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.records[id]
}
