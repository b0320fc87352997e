package orchestrator

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"

	"github.com/emberhq/kilnd/internal/runtime"
)

// Scriptable Engine: zero value succeeds every operation, emitting the
// build tool's usual milestone lines. Function fields override behavior.
type stubEngine struct {
	mu        sync.Mutex
	buildFn   func(ctx context.Context, in runtime.BuildInput, onOutput runtime.OutputFunc) error
	inspectFn func(ctx context.Context, tag string) (runtime.ImageInfo, error)
	removeFn  func(ctx context.Context, tag string) error

	builds     []runtime.BuildInput
	logins     []string
	tags       [][2]string
	pushes     []string
	removes    []string
	terminated []string
}

func (e *stubEngine) Build(ctx context.Context, in runtime.BuildInput, onOutput runtime.OutputFunc) error {
	e.mu.Lock()
	e.builds = append(e.builds, in)
	fn := e.buildFn
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, in, onOutput)
	}
	if onOutput != nil {
		onOutput("Sending build context to Docker daemon  2.048kB\n")
		onOutput("Step 1/2 : FROM scratch\n")
		onOutput("Successfully built 84c5f6e03bf0\n")
	}
	return nil
}

func (e *stubEngine) Inspect(ctx context.Context, tag string) (runtime.ImageInfo, error) {
	e.mu.Lock()
	fn := e.inspectFn
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, tag)
	}
	return runtime.ImageInfo{ID: "sha256:84c5f6e03bf0", SizeBytes: 1848}, nil
}

func (e *stubEngine) Tag(ctx context.Context, src, dst string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tags = append(e.tags, [2]string{src, dst})
	return nil
}

func (e *stubEngine) Push(ctx context.Context, ref string, onOutput runtime.OutputFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pushes = append(e.pushes, ref)
	return nil
}

func (e *stubEngine) Login(ctx context.Context, server, username, password string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logins = append(e.logins, server)
	return nil
}

func (e *stubEngine) Remove(ctx context.Context, tag string) error {
	e.mu.Lock()
	e.removes = append(e.removes, tag)
	fn := e.removeFn
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, tag)
	}
	return nil
}

func (e *stubEngine) Terminate(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.terminated = append(e.terminated, id)
	return true
}

func (e *stubEngine) buildCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.builds)
}

func (e *stubEngine) pushSequence() (logins, pushes []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.logins...), append([]string(nil), e.pushes...)
}

// In-memory blob store. When gate is non-nil, downloads block until the
// gate closes or the context ends.
type memStore struct {
	mu      sync.Mutex
	bundles map[string][]byte
	gate    chan struct{}
}

func (s *memStore) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	data, ok := s.bundles[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("bundle %s: %w", id, errdefs.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func bundleBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range names {
		content := files[name]
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

func defaultStore(t *testing.T) *memStore {
	t.Helper()
	return &memStore{bundles: map[string][]byte{
		"bundle-0001": bundleBytes(t, map[string]string{"Dockerfile": "FROM scratch\n"}),
	}}
}

func testOptions(t *testing.T, engine Engine, store *memStore) Options {
	t.Helper()
	return Options{
		Engine:        engine,
		Store:         store,
		WorkRoot:      t.TempDir(),
		MaxBuilds:     2,
		BuildTimeout:  time.Minute,
		Retention:     24 * time.Hour,
		SweepInterval: time.Hour,
		Namespace:     "library",
	}
}

// Returns a build stub that blocks until release closes or the build
// context ends, mirroring a long-running child process.
func blockingBuild(release <-chan struct{}) func(context.Context, runtime.BuildInput, runtime.OutputFunc) error {
	return func(ctx context.Context, _ runtime.BuildInput, _ runtime.OutputFunc) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func waitStatus(t *testing.T, o *Orchestrator, id string, want Status) Build {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		b, err := o.Status(id)
		if err != nil {
			t.Fatalf("Status(%s) failed: %v", id, err)
		}
		if b.Status == want {
			return b
		}
		if b.Status.Terminal() {
			t.Fatalf("status = %q (error %q), want %q", b.Status, b.Error, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %q", want)
	return Build{}
}

func assertWorkDirGone(t *testing.T, o *Orchestrator, id string) {
	t.Helper()

	dir := filepath.Join(o.workRoot, id)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("working directory %s still exists", dir)
}

func TestBuildSucceeds(t *testing.T) {
	release := make(chan struct{})
	eng := &stubEngine{buildFn: func(ctx context.Context, in runtime.BuildInput, onOutput runtime.OutputFunc) error {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		onOutput("Sending build context to Docker daemon  2.048kB\n")
		onOutput("Step 1/2 : FROM scratch\n")
		onOutput("Successfully built 84c5f6e03bf0\n")
		return nil
	}}

	o := New(testOptions(t, eng, defaultStore(t)))
	defer o.Close()

	id, err := o.Start(context.Background(), Request{BundleID: "bundle-0001"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	b, err := o.Status(id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if b.Status != StatusPending && b.Status != StatusBuilding {
		t.Fatalf("status = %q, want pending or building", b.Status)
	}
	if b.ImageTag == "" {
		t.Fatal("image tag not assigned at creation")
	}

	close(release)
	done := waitStatus(t, o, id, StatusSuccess)

	if done.Progress != 100 {
		t.Errorf("progress = %d, want 100", done.Progress)
	}
	if done.ImageID != "sha256:84c5f6e03bf0" {
		t.Errorf("imageId = %q, want %q", done.ImageID, "sha256:84c5f6e03bf0")
	}
	if done.ImageSizeBytes != 1848 {
		t.Errorf("imageSizeBytes = %d, want 1848", done.ImageSizeBytes)
	}
	if done.ImageTag != b.ImageTag {
		t.Errorf("image tag changed from %q to %q", b.ImageTag, done.ImageTag)
	}
	if done.EndedAt.IsZero() {
		t.Error("endedAt not set on terminal record")
	}
	if done.Error != "" {
		t.Errorf("error = %q, want empty", done.Error)
	}

	assertWorkDirGone(t, o, id)
}

func TestLogOrderPreserved(t *testing.T) {
	eng := &stubEngine{}
	o := New(testOptions(t, eng, defaultStore(t)))
	defer o.Close()

	id, err := o.Start(context.Background(), Request{BundleID: "bundle-0001"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	done := waitStatus(t, o, id, StatusSuccess)

	want := []string{
		"Sending build context to Docker daemon  2.048kB\n",
		"Step 1/2 : FROM scratch\n",
		"Successfully built 84c5f6e03bf0\n",
	}
	if len(done.Log) != len(want) {
		t.Fatalf("log has %d chunks, want %d: %q", len(done.Log), len(want), done.Log)
	}
	for i := range want {
		if done.Log[i] != want[i] {
			t.Errorf("log[%d] = %q, want %q", i, done.Log[i], want[i])
		}
	}
}

func TestStartRejectsOverCeiling(t *testing.T) {
	release := make(chan struct{})
	eng := &stubEngine{buildFn: blockingBuild(release)}

	o := New(testOptions(t, eng, defaultStore(t)))
	defer o.Close()

	id1, err := o.Start(context.Background(), Request{BundleID: "bundle-0001"})
	if err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	id2, err := o.Start(context.Background(), Request{BundleID: "bundle-0001"})
	if err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	_, err = o.Start(context.Background(), Request{BundleID: "bundle-0001"})
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("third Start err = %v, want ErrCapacityExceeded", err)
	}
	if !errdefs.IsResourceExhausted(err) {
		t.Errorf("err %v is not classified as resource exhausted", err)
	}

	if n := len(o.List()); n != 2 {
		t.Fatalf("List has %d records after rejected start, want 2", n)
	}

	close(release)
	waitStatus(t, o, id1, StatusSuccess)
	waitStatus(t, o, id2, StatusSuccess)

	// Terminal builds free their slots.
	if _, err := o.Start(context.Background(), Request{BundleID: "bundle-0001"}); err != nil {
		t.Fatalf("Start after completion failed: %v", err)
	}
}

func TestCeilingUnderConcurrentStarts(t *testing.T) {
	release := make(chan struct{})
	eng := &stubEngine{buildFn: blockingBuild(release)}

	o := New(testOptions(t, eng, defaultStore(t)))
	defer o.Close()
	defer close(release)

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Start(context.Background(), Request{BundleID: "bundle-0001"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var accepted, rejected int
	for err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrCapacityExceeded):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if accepted != 2 {
		t.Errorf("accepted = %d, want 2", accepted)
	}
	if rejected != attempts-2 {
		t.Errorf("rejected = %d, want %d", rejected, attempts-2)
	}
	if n := len(o.List()); n != 2 {
		t.Errorf("List has %d records, want 2", n)
	}
}

func TestBuildTimesOut(t *testing.T) {
	eng := &stubEngine{buildFn: blockingBuild(nil)}

	opts := testOptions(t, eng, defaultStore(t))
	opts.BuildTimeout = 50 * time.Millisecond
	o := New(opts)
	defer o.Close()

	id, err := o.Start(context.Background(), Request{BundleID: "bundle-0001"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	done := waitStatus(t, o, id, StatusFailed)
	if !strings.Contains(done.Error, "timed out") {
		t.Errorf("error = %q, want a timeout reason", done.Error)
	}
	if done.Progress != 0 {
		t.Errorf("progress = %d, want 0 on failure", done.Progress)
	}
	assertWorkDirGone(t, o, id)

	// The released slot is usable again.
	if _, err := o.Start(context.Background(), Request{BundleID: "bundle-0001"}); err != nil {
		t.Fatalf("Start after timeout failed: %v", err)
	}
}

func TestPreparationFailureFailsRecord(t *testing.T) {
	eng := &stubEngine{}
	o := New(testOptions(t, eng, defaultStore(t)))
	defer o.Close()

	id, err := o.Start(context.Background(), Request{BundleID: "missing-bundle"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	done := waitStatus(t, o, id, StatusFailed)
	if !strings.Contains(done.Error, "context preparation failed") {
		t.Errorf("error = %q, want a preparation reason", done.Error)
	}
	if eng.buildCount() != 0 {
		t.Error("build tool invoked despite preparation failure")
	}
	assertWorkDirGone(t, o, id)
}

func TestCustomRecipePathMissingFailsRecord(t *testing.T) {
	eng := &stubEngine{}
	o := New(testOptions(t, eng, defaultStore(t)))
	defer o.Close()

	id, err := o.Start(context.Background(), Request{
		BundleID:   "bundle-0001",
		RecipePath: "deploy/custom.Dockerfile",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	done := waitStatus(t, o, id, StatusFailed)
	if !strings.Contains(done.Error, "context preparation failed") {
		t.Errorf("error = %q, want a preparation reason", done.Error)
	}
	if eng.buildCount() != 0 {
		t.Error("build tool invoked despite recipe resolution failure")
	}
}

func TestStartValidation(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{
			name: "missing bundle id",
			req:  Request{},
		},
		{
			name: "absolute recipe path",
			req:  Request{BundleID: "b", RecipePath: "/etc/Dockerfile"},
		},
		{
			name: "escaping recipe path",
			req:  Request{BundleID: "b", RecipePath: "../outside"},
		},
		{
			name: "malformed platform",
			req:  Request{BundleID: "b", Platform: "not a platform!"},
		},
		{
			name: "push without credentials",
			req:  Request{BundleID: "b", Push: &Registry{Address: "registry.example.com"}},
		},
	}

	eng := &stubEngine{}
	o := New(testOptions(t, eng, defaultStore(t)))
	defer o.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Start(context.Background(), tt.req)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errdefs.IsInvalidArgument(err) {
				t.Errorf("err %v is not classified as invalid argument", err)
			}
		})
	}

	if n := len(o.List()); n != 0 {
		t.Errorf("List has %d records after rejected requests, want 0", n)
	}
}

func TestCancelDuringBuild(t *testing.T) {
	eng := &stubEngine{buildFn: blockingBuild(nil)}
	o := New(testOptions(t, eng, defaultStore(t)))
	defer o.Close()

	id, err := o.Start(context.Background(), Request{BundleID: "bundle-0001"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitStatus(t, o, id, StatusBuilding)

	if !o.Cancel(id) {
		t.Fatal("Cancel returned false for a running build")
	}

	b, err := o.Status(id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if b.Status != StatusFailed {
		t.Fatalf("status = %q immediately after cancel, want failed", b.Status)
	}
	if !strings.Contains(b.Error, "cancelled by caller") {
		t.Errorf("error = %q, want a cancellation reason", b.Error)
	}
	assertWorkDirGone(t, o, id)

	eng.mu.Lock()
	terminated := append([]string(nil), eng.terminated...)
	eng.mu.Unlock()
	if len(terminated) != 1 || terminated[0] != id {
		t.Errorf("terminated = %v, want [%s]", terminated, id)
	}
}

func TestCancelDuringPreparation(t *testing.T) {
	store := defaultStore(t)
	store.gate = make(chan struct{})

	eng := &stubEngine{}
	o := New(testOptions(t, eng, store))
	defer o.Close()

	id, err := o.Start(context.Background(), Request{BundleID: "bundle-0001"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	b, err := o.Status(id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if b.Status != StatusPending {
		t.Fatalf("status = %q before cancel, want pending", b.Status)
	}

	if !o.Cancel(id) {
		t.Fatal("Cancel returned false for a pending build")
	}

	// The build never reaches building and the tool is never invoked.
	time.Sleep(50 * time.Millisecond)
	b, err = o.Status(id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if b.Status != StatusFailed {
		t.Fatalf("status = %q after cancel, want failed", b.Status)
	}
	if eng.buildCount() != 0 {
		t.Error("build tool invoked despite cancellation during preparation")
	}
	assertWorkDirGone(t, o, id)
}

func TestCancelUnknownID(t *testing.T) {
	o := New(testOptions(t, &stubEngine{}, defaultStore(t)))
	defer o.Close()

	if o.Cancel("nope") {
		t.Fatal("Cancel returned true for an unknown id")
	}
}

func TestCancelTerminalIsIdempotent(t *testing.T) {
	eng := &stubEngine{}
	o := New(testOptions(t, eng, defaultStore(t)))
	defer o.Close()

	id, err := o.Start(context.Background(), Request{BundleID: "bundle-0001"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	before := waitStatus(t, o, id, StatusSuccess)

	if !o.Cancel(id) {
		t.Fatal("Cancel returned false for a terminal build")
	}

	after, err := o.Status(id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if after.Status != StatusSuccess {
		t.Errorf("status changed to %q after cancelling a terminal build", after.Status)
	}
	if after.ImageID != before.ImageID || !after.EndedAt.Equal(before.EndedAt) {
		t.Error("terminal record mutated by cancel")
	}
}

func TestListOrderedByStart(t *testing.T) {
	eng := &stubEngine{}
	o := New(testOptions(t, eng, defaultStore(t)))
	defer o.Close()

	ids := make([]string, 0, 2)
	for range 2 {
		id, err := o.Start(context.Background(), Request{BundleID: "bundle-0001"})
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		ids = append(ids, id)
		waitStatus(t, o, id, StatusSuccess)
	}

	builds := o.List()
	if len(builds) != 2 {
		t.Fatalf("List has %d records, want 2", len(builds))
	}
	if builds[0].ID != ids[0] || builds[1].ID != ids[1] {
		t.Errorf("List order = [%s %s], want [%s %s]", builds[0].ID, builds[1].ID, ids[0], ids[1])
	}
}

func TestBuildToolFailureRecordsExitCode(t *testing.T) {
	eng := &stubEngine{buildFn: func(ctx context.Context, _ runtime.BuildInput, onOutput runtime.OutputFunc) error {
		onOutput("Step 1/2 : FROM scratch\n")
		onOutput("error: no such instruction\n")
		return &runtime.ExitError{Op: "build", Code: 1}
	}}

	o := New(testOptions(t, eng, defaultStore(t)))
	defer o.Close()

	id, err := o.Start(context.Background(), Request{BundleID: "bundle-0001"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	done := waitStatus(t, o, id, StatusFailed)
	if !strings.Contains(done.Error, "build failed") || !strings.Contains(done.Error, "exit code 1") {
		t.Errorf("error = %q, want build failure with exit code", done.Error)
	}
	if len(done.Log) == 0 {
		t.Error("log not preserved on failure")
	}
}
