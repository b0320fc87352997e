package runtime

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Receives one log chunk per call.
//
// Chunks arrive in order within a single stream; ordering across the two
// streams follows scheduling and is not guaranteed.
type OutputFunc func(chunk string)

// Captured outcome of a completed tool invocation.
//
// A non-zero exit code is not an error at this layer; callers decide how
// to treat it per operation.
type execResult struct {
	exitCode int
	stdout   string
	stderr   string
}

// Returns the last non-empty stderr line, for compact error messages.
func (r *execResult) stderrTail() string {
	lines := strings.Split(strings.TrimSpace(r.stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "exit code only"
}

// Runs a tool invocation to completion, capturing both streams.
//
// stdin may be nil. Spawn failures and context expiry are returned as
// errors; everything else is reported through the result.
func (d *Docker) run(ctx context.Context, stdin io.Reader, args ...string) (*execResult, error) {
	cmd := d.command(ctx, args...)
	cmd.Stdin = stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	res := &execResult{stdout: stdout.String(), stderr: stderr.String()}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.exitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	return res, nil
}

// Runs a long-lived tool invocation, streaming both output streams
// chunk-wise to onOutput in arrival order.
//
// The process is registered under id for [Docker.Terminate] while it runs.
// Returns the context error when the context ended the process, an
// [*ExitError] on a non-zero exit, and nil on success.
func (d *Docker) stream(ctx context.Context, id, op string, onOutput OutputFunc, args ...string) error {
	cmd := d.command(ctx, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	d.register(id, cmd)
	defer d.unregister(id)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		forward(stdout, onOutput)
	}()
	go func() {
		defer wg.Done()
		forward(stderr, onOutput)
	}()

	wg.Wait()
	err = cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Op: op, Code: exitErr.ExitCode()}
	}

	return err
}

// Copies a stream to the output callback chunk by chunk.
//
// Chunk boundaries follow the pipe's read sizes rather than lines, so
// partial lines (progress output) reach the log without delay.
func forward(r io.Reader, onOutput OutputFunc) {
	if onOutput == nil {
		io.Copy(io.Discard, r)
		return
	}

	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			onOutput(string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// Merges override env vars on top of a base env slice.
func mergeEnv(base, overrides []string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for _, entry := range base {
		if k, v, ok := strings.Cut(entry, "="); ok {
			merged[k] = v
		}
	}
	for _, entry := range overrides {
		if k, v, ok := strings.Cut(entry, "="); ok {
			merged[k] = v
		}
	}

	result := make([]string, 0, len(merged))
	for k, v := range merged {
		result = append(result, k+"="+v)
	}
	return result
}
