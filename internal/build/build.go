package build

import (
	"context"
	"log/slog"
	"time"

	"github.com/cruciblehq/devimg/internal/config"
	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/cruciblehq/devimg/internal/paths"
	"github.com/cruciblehq/devimg/internal/pipeline"
	"github.com/google/uuid"
)

// Controls a build.
type Options struct {
	ID      string         // Build identifier. Generated when empty.
	Config  *config.Config // Validated build configuration.
	Context string         // Build context directory on the host.
	Cache   pipeline.Cache // Layer cache, nil to disable.
	NoCache bool           // Skip cache lookups.
}

// Runs a build while holding the lock for its target.
//
// Builds for the same target (tag or output directory) are serialized,
// whether they run in one process or several. The engine session is closed
// on every path, including failure and cancellation.
func Run(ctx context.Context, engine Engine, opts Options) (*pipeline.Result, error) {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}

	target := opts.Config.Target()
	lock, err := paths.AcquireLock(ctx, paths.LockFile(target))
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	slog.Debug("build lock acquired", "id", opts.ID, "target", target)

	sess, err := engine.NewSession(ctx, opts.ID, opts.Config.Platform)
	if err != nil {
		return nil, crex.Wrap(ErrEngine, err)
	}
	defer func() {
		// Cleanup still runs when the build was cancelled.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		if err := sess.Close(cctx); err != nil {
			slog.Warn("failed to close build session", "id", opts.ID, "error", err)
		}
	}()

	return pipeline.Run(ctx, sess, pipeline.Options{
		ID:      opts.ID,
		Config:  opts.Config,
		Context: opts.Context,
		Cache:   opts.Cache,
		NoCache: opts.NoCache,
	})
}
