package pipeline

import (
	"context"

	"github.com/cruciblehq/devimg/internal/source"
)

// Container engine operations the pipeline depends on.
//
// A session owns one build environment from Pull to Close. Commit records
// the filesystem changes made since the previous commit (or since Pull) as
// one layer. Implementations report a missing base image as
// [ErrImageNotFound] and other pull failures as [ErrNetwork].
type Session interface {
	Pull(ctx context.Context, ref, platform string) (Image, error)
	MkdirAll(ctx context.Context, path string) error
	Exec(ctx context.Context, args []string, workdir string) (*ExecResult, error)
	Copy(ctx context.Context, snap *source.Snapshot, dest string) error
	Commit(ctx context.Context, step, command string) (Layer, error)
	Export(ctx context.Context, opts ExportOptions) (string, error)
	Close(ctx context.Context) error
}

// Optionally implemented by sessions that can reuse committed layers.
//
// Restore replaces the session's current filesystem with the committed
// layer's snapshot. It must leave the session unchanged and return
// [ErrCacheMiss] when the layer is no longer available.
type Restorer interface {
	Restore(ctx context.Context, layer Layer) error
}

// Output of a command run inside the build environment.
type ExecResult struct {
	ExitCode int    // Exit code of the process.
	Stdout   string // Captured standard output.
	Stderr   string // Captured standard error.
}

// Describes the image produced by a successful build.
type ExportOptions struct {
	Output  string            // Directory receiving image.tar.
	Tag     string            // Optional image name to register in the engine.
	Workdir string            // Working directory recorded in the image config.
	Layers  []Layer           // Layers to append to the base, in order.
	Labels  map[string]string // Image config labels.
}
