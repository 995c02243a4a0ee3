package runtime

import (
	"context"
	"io"

	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/cruciblehq/devimg/internal/source"
)

// Creates a directory inside the container, including parents.
func (s *Session) MkdirAll(ctx context.Context, path string) error {
	return s.mustExec(s.leased(ctx), "mkdir", nil, "mkdir", "-p", path)
}

// Copies a source snapshot into dest inside the container.
//
// The snapshot is streamed as a tar archive to "tar xf - -C dest". Existing
// files at the same paths are overwritten.
func (s *Session) Copy(ctx context.Context, snap *source.Snapshot, dest string) error {
	ctx = s.leased(ctx)

	if err := s.mustExec(ctx, "mkdir", nil, "mkdir", "-p", dest); err != nil {
		return err
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(snap.WriteTar(pw))
	}()
	defer pr.Close()

	return s.mustExec(ctx, "tar extract", pr, "tar", "xf", "-", "-C", dest)
}

// Runs a command inside the container, returning an error that includes desc
// if the process exits with a non-zero code.
func (s *Session) mustExec(ctx context.Context, desc string, stdin io.Reader, args ...string) error {
	exitCode, stderr, err := s.execCommand(ctx, stdin, nil, "", args...)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return crex.Wrapf(ErrRuntime, "%s failed with exit code %d (%s)", desc, exitCode, stderr)
	}
	return nil
}
