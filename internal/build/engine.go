package build

import (
	"context"
	"io"

	"github.com/cruciblehq/devimg/internal/config"
	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/cruciblehq/devimg/internal/dagger"
	"github.com/cruciblehq/devimg/internal/pipeline"
	"github.com/cruciblehq/devimg/internal/runtime"
)

// Opens build sessions.
type Engine interface {
	NewSession(ctx context.Context, id, platform string) (pipeline.Session, error)
	Close() error
}

// Removes committed snapshots. Implemented by engines that keep their own
// layer snapshots.
type SnapshotRemover interface {
	RemoveSnapshots(ctx context.Context, names []string) (kept int, err error)
}

// Opens the engine selected by cfg.Engine.
//
// Dagger progress output is written to logOutput.
func OpenEngine(cfg *config.Config, logOutput io.Writer) (Engine, error) {
	switch cfg.Engine {
	case config.EngineDagger:
		return dagger.New(logOutput), nil
	case config.EngineContainerd, "":
		rt, err := runtime.New(cfg.Containerd.Address, cfg.Containerd.Namespace)
		if err != nil {
			return nil, crex.Wrap(ErrEngine, err)
		}
		return rt, nil
	default:
		return nil, crex.Wrapf(ErrEngine, "unknown engine %q", cfg.Engine)
	}
}
