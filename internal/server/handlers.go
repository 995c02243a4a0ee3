package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cruciblehq/devimg/internal"
	"github.com/cruciblehq/devimg/internal/build"
	"github.com/cruciblehq/devimg/internal/config"
	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/cruciblehq/devimg/internal/protocol"
)

// Handles a build command.
//
// The request carries a fully resolved configuration. It is validated again
// here because the daemon cannot trust the client to have done so. The
// daemon's own engine is used regardless of the engine the request names.
func (s *Server) handleBuild(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.BuildRequest](payload)
	if err != nil {
		s.respond(conn, protocol.CmdError, protocol.NewErrorResult(err))
		return
	}

	cfg, err := s.buildConfig(req)
	if err != nil {
		s.respond(conn, protocol.CmdError, protocol.NewErrorResult(err))
		return
	}

	opts := build.Options{
		ID:      req.ID,
		Config:  cfg,
		Context: req.Context,
		NoCache: req.NoCache,
	}
	if cfg.Cache {
		opts.Cache = s.cache
	}

	s.track(+1, 0, 0)
	slog.Info("build started", "context", req.Context, "target", cfg.Target())

	result, err := build.Run(ctx, s.engine, opts)
	if err != nil {
		s.track(-1, 0, 1)
		slog.Error("build failed", "context", req.Context, "error", err)
		s.respond(conn, protocol.CmdError, protocol.NewErrorResult(err))
		return
	}

	s.track(-1, 1, 0)
	slog.Info("build finished", "output", result.Output, "state", result.Env.State)

	s.respond(conn, protocol.CmdOK, &protocol.BuildResult{Output: result.Output, Env: result.Env})
}

// Checks a build request and returns its configuration.
func (s *Server) buildConfig(req *protocol.BuildRequest) (*config.Config, error) {
	if req.Config == nil {
		return nil, crex.Wrapf(config.ErrInvalidConfig, "build request carries no configuration")
	}
	if !filepath.IsAbs(req.Context) {
		return nil, crex.Wrapf(config.ErrInvalidConfig, "build context %q is not absolute", req.Context)
	}
	if !filepath.IsAbs(req.Config.Output) {
		return nil, crex.Wrapf(config.ErrInvalidConfig, "output directory %q is not absolute", req.Config.Output)
	}
	if req.Config.Engine != "" && req.Config.Engine != s.engineName {
		slog.Warn("ignoring requested engine", "requested", req.Config.Engine, "engine", s.engineName)
	}
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}
	return req.Config, nil
}

// Adjusts build counters.
func (s *Server) track(active, builds, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active += active
	s.builds += builds
	s.failed += failed
}

// Handles a status command.
func (s *Server) handleStatus(conn net.Conn) {
	s.mu.Lock()
	res := &protocol.StatusResult{
		Running: true,
		Version: internal.VersionString(),
		Pid:     os.Getpid(),
		Uptime:  time.Since(s.startedAt).Truncate(time.Second).String(),
		Engine:  s.engineName,
		Builds:  s.builds,
		Failed:  s.failed,
		Active:  s.active,
	}
	s.mu.Unlock()

	s.respond(conn, protocol.CmdOK, res)
}

// Handles a shutdown command.
func (s *Server) handleShutdown(conn net.Conn) {
	s.respond(conn, protocol.CmdOK, nil)
	slog.Info("shutdown requested")

	go s.Stop()
}
