package dagger

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	sdk "dagger.io/dagger"
	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/cruciblehq/devimg/internal/paths"
	"github.com/cruciblehq/devimg/internal/pipeline"
	"github.com/cruciblehq/devimg/internal/source"
	"github.com/opencontainers/go-digest"
)

// Filename of the OCI archive produced by Export.
const exportFilename = "image.tar"

// A build environment on a Dagger engine.
type Session struct {
	client   *sdk.Client    // Engine connection.
	id       string         // Build ID.
	platform string         // OCI platform (e.g., "linux/amd64").
	ctr      *sdk.Container // Current container state.
}

var _ pipeline.Session = (*Session)(nil)

// Resolves the base image for the session platform.
func (s *Session) Pull(ctx context.Context, ref, platform string) (pipeline.Image, error) {
	s.platform = platform

	ctr := s.client.Container(sdk.ContainerOpts{Platform: sdk.Platform(platform)}).From(ref)

	synced, err := ctr.Sync(ctx)
	if err != nil {
		return pipeline.Image{}, classifyPull(ref, err)
	}

	resolved, err := synced.ImageRef(ctx)
	if err != nil {
		return pipeline.Image{}, crex.Wrap(ErrEngine, err)
	}

	s.ctr = synced

	return pipeline.Image{
		Ref:      ref,
		Digest:   refDigest(resolved),
		Platform: platform,
	}, nil
}

// Maps a failed image resolution to the pipeline's error classes.
func classifyPull(ref string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "not found") ||
		strings.Contains(msg, "pull access denied") ||
		strings.Contains(msg, "insufficient_scope") {
		return crex.Wrapf(pipeline.ErrImageNotFound, "%s: %w", ref, err)
	}
	return crex.Wrapf(pipeline.ErrNetwork, "pull %s: %w", ref, err)
}

// Returns the digest part of a resolved reference ("name@sha256:..."), or
// the empty digest when there is none.
func refDigest(ref string) digest.Digest {
	_, d, ok := strings.Cut(ref, "@")
	if !ok {
		return ""
	}
	dgst, err := digest.Parse(d)
	if err != nil {
		return ""
	}
	return dgst
}

// Creates a directory inside the container and makes it the working
// directory for later steps.
func (s *Session) MkdirAll(ctx context.Context, path string) error {
	if s.ctr == nil {
		return ErrNoImage
	}

	next, err := s.ctr.WithExec([]string{"mkdir", "-p", path}).WithWorkdir(path).Sync(ctx)
	if err != nil {
		return crex.Wrap(ErrEngine, err)
	}
	s.ctr = next
	return nil
}

// Runs a command in workdir. The container state advances only when the
// command succeeds.
func (s *Session) Exec(ctx context.Context, args []string, workdir string) (*pipeline.ExecResult, error) {
	if s.ctr == nil {
		return nil, ErrNoImage
	}

	next := s.ctr.WithWorkdir(workdir).WithExec(args)

	stdout, err := next.Stdout(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if res, ok := execFailure(err); ok {
			return res, nil
		}
		return nil, crex.Wrap(ErrEngine, err)
	}

	stderr, err := next.Stderr(ctx)
	if err != nil {
		return nil, crex.Wrap(ErrEngine, err)
	}

	s.ctr = next
	return &pipeline.ExecResult{Stdout: stdout, Stderr: stderr}, nil
}

// Recovers exit code and output from the error the engine reports for a
// process that exited non-zero.
func execFailure(err error) (*pipeline.ExecResult, bool) {
	var execErr *sdk.ExecError
	if !errors.As(err, &execErr) {
		return nil, false
	}
	return &pipeline.ExecResult{
		ExitCode: execErr.ExitCode,
		Stdout:   execErr.Stdout,
		Stderr:   execErr.Stderr,
	}, true
}

// Copies the snapshot's host directory into dest, applying the snapshot's
// exclusion patterns.
func (s *Session) Copy(ctx context.Context, snap *source.Snapshot, dest string) error {
	if s.ctr == nil {
		return ErrNoImage
	}

	dir := s.client.Host().Directory(snap.Root(), sdk.HostDirectoryOpts{
		Exclude: snap.Patterns(),
	})

	next, err := s.ctr.WithDirectory(dest, dir).Sync(ctx)
	if err != nil {
		return crex.Wrap(ErrEngine, err)
	}
	s.ctr = next
	return nil
}

// Forces evaluation of the current state and records a layer without blob
// digests; the engine owns the layer content.
func (s *Session) Commit(ctx context.Context, step, command string) (pipeline.Layer, error) {
	if s.ctr == nil {
		return pipeline.Layer{}, ErrNoImage
	}

	next, err := s.ctr.Sync(ctx)
	if err != nil {
		return pipeline.Layer{}, crex.Wrap(ErrEngine, err)
	}
	s.ctr = next

	return pipeline.Layer{Step: step, Command: command}, nil
}

// Writes the container as an OCI archive to opts.Output.
//
// The engine has no local image store, so a tag is only recorded as the
// image name label.
func (s *Session) Export(ctx context.Context, opts pipeline.ExportOptions) (string, error) {
	if s.ctr == nil {
		return "", ErrNoImage
	}

	ctr := s.ctr
	if opts.Workdir != "" {
		ctr = ctr.WithWorkdir(opts.Workdir)
	}
	for k, v := range opts.Labels {
		ctr = ctr.WithLabel(k, v)
	}
	if opts.Tag != "" {
		ctr = ctr.WithLabel("org.opencontainers.image.ref.name", opts.Tag)
	}

	if err := os.MkdirAll(opts.Output, paths.DefaultDirMode); err != nil {
		return "", crex.Wrap(ErrEngine, err)
	}

	out, err := filepath.Abs(filepath.Join(opts.Output, exportFilename))
	if err != nil {
		return "", crex.Wrap(ErrEngine, err)
	}

	ok, err := ctr.Export(ctx, out)
	if err != nil {
		return "", crex.Wrap(ErrEngine, err)
	}
	if !ok {
		return "", crex.Wrapf(ErrEngine, "engine did not export %s", out)
	}

	slog.Info("image exported", "path", out)
	return out, nil
}

// Closes the engine connection.
func (s *Session) Close(ctx context.Context) error {
	if err := s.client.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return crex.Wrap(ErrEngine, err)
	}
	return nil
}
