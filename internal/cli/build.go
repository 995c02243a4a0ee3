package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/cruciblehq/devimg/internal/build"
	"github.com/cruciblehq/devimg/internal/cache"
	"github.com/cruciblehq/devimg/internal/client"
	"github.com/cruciblehq/devimg/internal/config"
	"github.com/cruciblehq/devimg/internal/paths"
	"github.com/cruciblehq/devimg/internal/pipeline"
	"github.com/cruciblehq/devimg/internal/protocol"
)

// Represents the 'devimg build' command.
type BuildCmd struct {
	RecipeFlags `embed:""`

	NoCache bool `help:"Rebuild every step instead of reusing cached layers."`
	Remote  bool `short:"r" env:"DEVIMG_REMOTE" help:"Run the build on the daemon."`
	JSON    bool `help:"Print the final build handle as JSON."`
}

// Executes the build command.
//
// Prints the path of the exported archive on success. Cancelling (e.g. via
// SIGINT) stops the build and releases the engine session.
func (c *BuildCmd) Run(ctx context.Context) error {
	cfg, dir, err := c.resolve()
	if err != nil {
		return err
	}

	var res *pipeline.Result
	if c.Remote {
		res, err = c.remote(ctx, cfg, dir)
	} else {
		res, err = c.local(ctx, cfg, dir)
	}
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Println(res.Output)
	return nil
}

// Builds in this process with its own engine connection.
func (c *BuildCmd) local(ctx context.Context, cfg *config.Config, dir string) (*pipeline.Result, error) {
	engine, err := build.OpenEngine(cfg, os.Stderr)
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	opts := build.Options{Config: cfg, Context: dir, NoCache: c.NoCache}

	if cfg.Cache {
		idx, err := cache.Open(paths.CacheDB())
		if err != nil {
			slog.Warn("layer cache unavailable, building without it", "error", err)
		} else {
			defer idx.Close()
			opts.Cache = idx
		}
	}

	return build.Run(ctx, engine, opts)
}

// Sends the build to the daemon.
func (c *BuildCmd) remote(ctx context.Context, cfg *config.Config, dir string) (*pipeline.Result, error) {
	res, err := client.New(RootCmd.Socket).Build(ctx, &protocol.BuildRequest{
		Context: dir,
		Config:  cfg,
		NoCache: c.NoCache,
	})
	if err != nil {
		return nil, err
	}
	return &pipeline.Result{Env: res.Env, Output: res.Output}, nil
}
