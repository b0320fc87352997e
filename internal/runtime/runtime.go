package runtime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	goruntime "runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
)

// Grace period between the termination signal and a forced kill. Covers
// both context cancellation and explicit Terminate calls, giving the tool
// time to release build state.
const killDelay = 10 * time.Second

// Drives the external container tool through child processes.
//
// Every operation is one invocation of the tool binary; the exit code and
// the standard streams are the entire contract. Long-running invocations
// (build, push) are registered in a per-id process table so they can be
// terminated on cancellation.
type Docker struct {
	binary    string // Tool binary name or path.
	configDir string // Isolated tool configuration directory; empty uses the caller's.

	mu    sync.Mutex           // Guards procs.
	procs map[string]*exec.Cmd // Running supervised processes by operation id.
}

// Creates a runtime driving the given tool binary.
//
// When configDir is non-empty it is exported as DOCKER_CONFIG for every
// invocation, so registry logins stay private to the daemon.
func New(binary, configDir string) *Docker {
	return &Docker{
		binary:    binary,
		configDir: configDir,
		procs:     make(map[string]*exec.Cmd),
	}
}

// Verifies the tool can be invoked and reach its backend.
//
// Returns the backend version on success. Failures wrap
// errdefs.ErrUnavailable so health checks can classify them.
func (d *Docker) Ping(ctx context.Context) (string, error) {
	res, err := d.run(ctx, nil, "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return "", fmt.Errorf("%s unavailable: %w: %w", d.binary, err, errdefs.ErrUnavailable)
	}
	if res.exitCode != 0 {
		return "", fmt.Errorf("%s unavailable: %s: %w", d.binary, res.stderrTail(), errdefs.ErrUnavailable)
	}
	return strings.TrimSpace(res.stdout), nil
}

// Requests graceful termination of the supervised process registered
// under id. Returns false when no such process is running.
func (d *Docker) Terminate(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cmd, ok := d.procs[id]
	if !ok || cmd.Process == nil {
		return false
	}

	cmd.Process.Signal(syscall.SIGTERM)
	return true
}

// Registers a started process under id.
func (d *Docker) register(id string, cmd *exec.Cmd) {
	if id == "" {
		return
	}
	d.mu.Lock()
	d.procs[id] = cmd
	d.mu.Unlock()
}

// Removes the process registered under id.
func (d *Docker) unregister(id string) {
	if id == "" {
		return
	}
	d.mu.Lock()
	delete(d.procs, id)
	d.mu.Unlock()
}

// Builds a child-process invocation of the tool.
//
// The process receives a termination signal instead of a kill when the
// context ends, then a forced kill after the grace period.
func (d *Docker) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, d.binary, args...)
	if d.configDir != "" {
		cmd.Env = mergeEnv(os.Environ(), []string{"DOCKER_CONFIG=" + d.configDir})
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killDelay
	return cmd
}

// Normalizes a target platform string like "linux/amd64".
//
// An empty platform stays empty, leaving the choice to the tool.
func NormalizePlatform(platform string) (string, error) {
	if platform == "" {
		return "", nil
	}

	p, err := platforms.Parse(platform)
	if err != nil {
		return "", fmt.Errorf("platform %q: %w: %w", platform, err, errdefs.ErrInvalidArgument)
	}

	return platforms.Format(p), nil
}

// Returns the OCI platform of the host.
func HostPlatform() string {
	return "linux/" + goruntime.GOARCH
}
