package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/cruciblehq/devimg/internal/config"
	"github.com/cruciblehq/devimg/internal/paths"
	"github.com/cruciblehq/devimg/internal/server"
)

// Represents the 'devimg serve' command.
type ServeCmd struct {
	Engine string `short:"e" env:"DEVIMG_ENGINE" help:"Build engine (containerd or dagger)." placeholder:"NAME"`
}

// Executes the serve command.
//
// Starts the daemon on a Unix domain socket and blocks until the context is
// cancelled (e.g. via SIGINT or SIGTERM) or a client requests shutdown.
func (c *ServeCmd) Run(ctx context.Context) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		SocketPath: RootCmd.Socket,
		Build:      cfg,
		LogOutput:  os.Stderr,
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		srv.Stop()
		return err
	}

	slog.Info("devimg daemon is running", "pid", os.Getpid())

	stopped := make(chan struct{})
	go func() {
		srv.Wait()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		return srv.Stop()
	case <-stopped:
		return nil
	}
}

// Loads the daemon-wide settings: engine, containerd connection and cache.
func (c *ServeCmd) config() (*config.Config, error) {
	files := []string{paths.ConfigFile()}
	if RootCmd.Config != "" {
		files = append(files, RootCmd.Config)
	}

	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}

	if c.Engine != "" {
		cfg.Engine = c.Engine
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
