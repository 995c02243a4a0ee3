package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync/atomic"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/cruciblehq/devimg/internal/pipeline"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Sequence counter for generating unique exec process identifiers.
var execSeq uint64

// Returns a unique exec process identifier.
func nextExecID() string {
	return fmt.Sprintf("exec-%d", atomic.AddUint64(&execSeq, 1))
}

// Runs a command directly (no shell) inside the build container.
//
// A non-zero exit code is reported in the result, not as an error.
func (s *Session) Exec(ctx context.Context, args []string, workdir string) (*pipeline.ExecResult, error) {
	var stdout bytes.Buffer
	exitCode, stderr, err := s.execCommand(s.leased(ctx), nil, &stdout, workdir, args...)
	if err != nil {
		return nil, err
	}

	return &pipeline.ExecResult{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr,
	}, nil
}

// Builds an OCI process spec for running a command inside the container.
//
// The base values (environment, user) come from the container's own spec,
// which carries the image config; only the arguments and working directory
// are replaced.
func (s *Session) buildProcessSpec(ctx context.Context, workdir string, args ...string) (*specs.Process, error) {
	if s.ctr == nil {
		return nil, ErrNoImage
	}

	spec, err := s.ctr.Spec(ctx)
	if err != nil {
		return nil, err
	}

	pspec := *spec.Process
	pspec.Terminal = false
	pspec.Args = args
	if workdir != "" {
		pspec.Cwd = workdir
	}

	return &pspec, nil
}

// Runs a command inside the container, returning the exit code and captured
// stderr. A non-zero exit code is not treated as an error.
func (s *Session) execCommand(ctx context.Context, stdin io.Reader, stdout io.Writer, workdir string, args ...string) (int, string, error) {
	pspec, err := s.buildProcessSpec(ctx, workdir, args...)
	if err != nil {
		return 0, "", crex.Wrap(ErrRuntime, err)
	}

	var stderr bytes.Buffer
	exitCode, err := s.execProcess(ctx, pspec, stdin, stdout, &stderr)
	if err != nil {
		return 0, "", err
	}
	return exitCode, stderr.String(), nil
}

// Starts a process inside the container's running task and waits for it.
//
// The process is attached to the task as an additional exec. Nil output
// streams are replaced with io.Discard. When stdin is provided, the process
// stdin is closed explicitly once the reader is exhausted, because the shim
// holds both ends of the stdin FIFO open and never propagates EOF itself.
func (s *Session) execProcess(ctx context.Context, pspec *specs.Process, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	task, err := s.ctr.Task(ctx, nil)
	if err != nil {
		return 0, crex.Wrap(ErrRuntime, err)
	}

	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	var stdinDone <-chan struct{}
	if stdin != nil {
		dr := newDoneReader(stdin)
		stdin = dr
		stdinDone = dr.done
	}

	process, err := task.Exec(ctx, nextExecID(), pspec, cio.NewCreator(
		cio.WithStreams(stdin, stdout, stderr),
	))
	if err != nil {
		return 0, crex.Wrap(ErrRuntime, err)
	}

	return awaitProcess(ctx, process, stdinDone)
}

// Waits for an exec process to exit and returns the exit code.
//
// Cancelling ctx kills the process. The process is always deleted before
// returning.
func awaitProcess(ctx context.Context, process containerd.Process, stdinDone <-chan struct{}) (int, error) {
	// Cleanup must run even when ctx is already cancelled.
	cleanup := context.WithoutCancel(ctx)
	defer process.Delete(cleanup, containerd.WithProcessKill)

	statusC, err := process.Wait(cleanup)
	if err != nil {
		return 0, crex.Wrap(ErrRuntime, err)
	}

	if err := process.Start(ctx); err != nil {
		return 0, crex.Wrap(ErrRuntime, err)
	}

	if stdinDone != nil {
		go func() {
			<-stdinDone
			process.CloseIO(cleanup, containerd.WithStdinCloser)
		}()
	}

	select {
	case exitStatus := <-statusC:
		code, _, err := exitStatus.Result()
		if err != nil {
			return 0, crex.Wrap(ErrRuntime, err)
		}
		return int(code), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
