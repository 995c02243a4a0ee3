package dagger

import (
	"context"
	"io"
	"log/slog"

	sdk "dagger.io/dagger"
	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/cruciblehq/devimg/internal/pipeline"
)

// Opens build sessions on a Dagger engine.
type Engine struct {
	logOutput io.Writer // Receives engine progress output, nil to discard.
}

// Creates an engine whose progress output goes to w.
func New(w io.Writer) *Engine {
	return &Engine{logOutput: w}
}

// Connects to the engine and returns a session for one build.
func (e *Engine) NewSession(ctx context.Context, id, platform string) (pipeline.Session, error) {
	var opts []sdk.ClientOpt
	if e.logOutput != nil {
		opts = append(opts, sdk.WithLogOutput(e.logOutput))
	}

	client, err := sdk.Connect(ctx, opts...)
	if err != nil {
		return nil, crex.Wrap(ErrConnect, err)
	}

	slog.Debug("dagger session opened", "id", id, "platform", platform)

	return &Session{client: client, id: id, platform: platform}, nil
}

// Sessions own their connections, so there is nothing to release.
func (e *Engine) Close() error {
	return nil
}
