package process

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mkaravaev/toolhost-mcp/internal/toolerror"
)

const (
	// defaultDrainWindow is how long the runner keeps reading from the output
	// pipes after the direct child has exited, to catch output from a
	// descendant that forked off but kept the pipes open.
	defaultDrainWindow = 50 * time.Millisecond

	// forceCloseGrace is how long the runner waits for the reader goroutines
	// to notice the forced pipe close before giving up on them entirely.
	forceCloseGrace = 5 * time.Millisecond

	// readBufSize is the chunk size used when draining a pipe.
	readBufSize = 4096
)

// CaptureResult is the raw output of one child invocation.
type CaptureResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Combined []byte
}

// AsError reports the capture as a *toolerror.ProcessError if the child
// exited non-zero, and nil otherwise. Callers that only care about
// stdout's own validity (e.g. on a zero exit code) can ignore it.
func (cr *CaptureResult) AsError(execPath string) error {
	if cr.ExitCode == 0 {
		return nil
	}

	return &toolerror.ProcessError{
		ExecPath: execPath,
		ExitCode: cr.ExitCode,
		Combined: string(cr.Combined),
	}
}

// Runner spawns tool-provider executables and captures their output.
//
// A zero-value Runner is usable; DrainWindow defaults to 50ms as spec.md §4.1
// requires. Runner is safe for concurrent use, though the dispatcher never
// calls it concurrently (spec.md forbids parallel tools/call execution).
type Runner struct {
	// DrainWindow is the grace period granted to output readers after the
	// direct child exits, before their buffers are snapshotted as final.
	DrainWindow time.Duration
}

// NewRunner returns a Runner configured with the default drain window.
func NewRunner() *Runner {
	return &Runner{DrainWindow: defaultDrainWindow}
}

func (r *Runner) drainWindow() time.Duration {
	if r.DrainWindow > 0 {
		return r.DrainWindow
	}

	return defaultDrainWindow
}

// RunList invokes the provider with subcommand "list" and no argument.
func (r *Runner) RunList(ctx context.Context, execPath string) (*CaptureResult, error) {
	return r.run(ctx, execPath, "list", nil)
}

// RunInstructions invokes the provider with subcommand "instructions" and no argument.
func (r *Runner) RunInstructions(ctx context.Context, execPath string) (*CaptureResult, error) {
	return r.run(ctx, execPath, "instructions", nil)
}

// RunCall invokes the provider with the tool name as subcommand and the
// serialized arguments as the second positional argument. argJSON is passed
// verbatim even if it is the empty string, per spec.md §4.1.
func (r *Runner) RunCall(ctx context.Context, execPath, toolName, argJSON string) (*CaptureResult, error) {
	return r.run(ctx, execPath, toolName, &argJSON)
}

// run is the shared implementation behind RunList/RunInstructions/RunCall.
// arg == nil means the invocation has exactly one positional argument
// (the subcommand); a non-nil arg (even "") adds a second positional argument.
func (r *Runner) run(ctx context.Context, execPath, subcommand string, arg *string) (*CaptureResult, error) {
	args := []string{subcommand}
	if arg != nil {
		args = append(args, *arg)
	}

	//nolint:gosec // G204: spawning a tool-provider executable with caller-controlled
	// positional arguments is the entire purpose of this server.
	cmd := exec.CommandContext(ctx, execPath, args...)
	cmd.Stdin = nil

	// Own pipes rather than cmd.StdoutPipe/StderrPipe: cmd.Wait closes those
	// as soon as the direct child exits, which would cut the drain window.
	stdoutPipe, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, &toolerror.CaptureError{ExecPath: execPath, Err: err}
	}

	stderrPipe, stderrW, err := os.Pipe()
	if err != nil {
		_, _ = stdoutPipe.Close(), stdoutW.Close()
		return nil, &toolerror.CaptureError{ExecPath: execPath, Err: err}
	}

	cmd.Stdout, cmd.Stderr = stdoutW, stderrW
	err = cmd.Start()
	_, _ = stdoutW.Close(), stderrW.Close()

	if err != nil {
		_, _ = stdoutPipe.Close(), stderrPipe.Close()
		return nil, &toolerror.CaptureError{ExecPath: execPath, Err: err}
	}

	var (
		mu          sync.Mutex
		stdoutBuf   bytes.Buffer
		stderrBuf   bytes.Buffer
		combinedBuf bytes.Buffer
	)

	var eg errgroup.Group

	eg.Go(func() error {
		drain(stdoutPipe, &stdoutBuf, &combinedBuf, &mu)

		return nil
	})

	eg.Go(func() error {
		drain(stderrPipe, &stderrBuf, &combinedBuf, &mu)

		return nil
	})

	readersDone := make(chan struct{})

	go func() {
		_ = eg.Wait()
		close(readersDone)
	}()

	waitDone := make(chan error, 1)

	go func() {
		waitDone <- cmd.Wait()
	}()

	var waitErr error

	select {
	case waitErr = <-waitDone:
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}

		waitErr = <-waitDone
	}

	// The direct child has exited (or been killed for context cancellation).
	// Grant the readers a short drain window to catch output from a
	// descendant that kept the pipes open, per spec.md §4.1.
	select {
	case <-readersDone:
	case <-time.After(r.drainWindow()):
	}

	// Force-close the pipes to unblock any reader still parked in a blocking
	// Read() call on a descendant-held pipe, then give the goroutines a
	// brief moment to actually observe the close before we stop waiting.
	_ = stdoutPipe.Close()
	_ = stderrPipe.Close()

	select {
	case <-readersDone:
	case <-time.After(forceCloseGrace):
	}

	mu.Lock()
	result := &CaptureResult{
		ExitCode: exitCode(cmd, waitErr),
		Stdout:   bytes.Clone(stdoutBuf.Bytes()),
		Stderr:   bytes.Clone(stderrBuf.Bytes()),
		Combined: bytes.Clone(combinedBuf.Bytes()),
	}
	mu.Unlock()

	return result, nil
}

// drain copies r into dst and combined (under mu) until EOF or a read error.
// A read error after the runner force-closes the pipe is expected and is not
// reported as a failure — the accumulated bytes are still valid.
func drain(r interface{ Read([]byte) (int, error) }, dst, combined *bytes.Buffer, mu *sync.Mutex) {
	buf := make([]byte, readBufSize)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			mu.Lock()
			dst.Write(buf[:n])
			combined.Write(buf[:n])
			mu.Unlock()
		}

		if err != nil {
			return
		}
	}
}

// exitCode derives a stable exit status from cmd.Wait()'s return value.
// A child killed by a signal reports 128+signal, the conventional shell
// encoding, per spec.md §4.1 ("implementation-defined but stable").
func exitCode(cmd *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		if cmd.ProcessState != nil {
			return cmd.ProcessState.ExitCode()
		}

		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}

		return exitErr.ExitCode()
	}

	// Spawn raced with context cancellation before an exit code was ever
	// observed (e.g. the process was killed before Wait() could report a
	// real ExitError). Treat as a generic failure.
	return -1
}
