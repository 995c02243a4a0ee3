package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cruciblehq/devimg/internal/build"
	"github.com/cruciblehq/devimg/internal/cache"
	"github.com/cruciblehq/devimg/internal/config"
	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/cruciblehq/devimg/internal/paths"
	"github.com/cruciblehq/devimg/internal/pipeline"
	"github.com/cruciblehq/devimg/internal/protocol"
)

const (

	// Group name used to grant socket access. Members of this group can
	// connect to the daemon socket without owning the process.
	socketGroup = "devimg"

	// File mode applied to the Unix socket. Owner and group get read-write
	// (required for connect); others get no access.
	socketMode = 0660
)

// Holds server configuration.
type Config struct {
	SocketPath string         // Override for the Unix socket path. Empty uses the default.
	Build      *config.Config // Engine and cache settings. Nil uses [config.Default].
	Engine     build.Engine   // Engine override. Opened from Build when nil.
	Cache      pipeline.Cache // Cache override. Opened at [paths.CacheDB] when nil and Build.Cache is set.
	LogOutput  io.Writer      // Engine progress output. Nil discards it.
}

// Listens on a Unix domain socket and dispatches commands.
type Server struct {
	socketPath string         // Path to the Unix socket file.
	engineName string         // Engine reported by status.
	engine     build.Engine   // Engine shared by all builds.
	cache      pipeline.Cache // Layer cache, nil when disabled.
	closers    []io.Closer    // Resources opened by [New], closed by [Server.Stop].
	listener   net.Listener   // Listener for incoming connections.
	startedAt  time.Time      // Timestamp when the server started.
	builds     int            // Builds completed successfully.
	failed     int            // Builds that returned an error.
	active     int            // Builds in progress.
	done       chan struct{}  // Channel to signal server shutdown.
	stopOnce   sync.Once      // Guards Stop.
	mu         sync.Mutex     // Mutex to protect shared state.
}

// Creates a new server instance.
//
// The engine and cache are opened immediately, so configuration errors
// surface before the socket exists. The socket is not opened until [Start]
// is called.
func New(cfg Config) (*Server, error) {
	bcfg := cfg.Build
	if bcfg == nil {
		bcfg = config.Default()
	}

	socketPath := cfg.SocketPath
	if socketPath == "" {
		socketPath = paths.Socket()
	}

	logOutput := cfg.LogOutput
	if logOutput == nil {
		logOutput = io.Discard
	}

	s := &Server{
		socketPath: socketPath,
		engineName: bcfg.Engine,
		engine:     cfg.Engine,
		cache:      cfg.Cache,
		done:       make(chan struct{}),
	}

	if s.engine == nil {
		engine, err := build.OpenEngine(bcfg, logOutput)
		if err != nil {
			return nil, crex.Wrap(ErrServer, err)
		}
		s.engine = engine
		s.closers = append(s.closers, engine)
	}

	if s.cache == nil && bcfg.Cache {
		idx, err := cache.Open(paths.CacheDB())
		if err != nil {
			s.close()
			return nil, crex.Wrap(ErrServer, err)
		}
		s.cache = idx
		s.closers = append(s.closers, idx)
	}

	return s, nil
}

// Opens the Unix socket and begins accepting connections.
func (s *Server) Start() error {
	listener, err := listen(s.socketPath)
	if err != nil {
		return err
	}

	s.listener = listener
	s.startedAt = time.Now()

	if err := writePID(); err != nil {
		slog.Warn("failed to write PID file", "error", err)
	}

	slog.Info("server listening on socket", "path", s.socketPath, "engine", s.engineName)

	go s.accept()
	return nil
}

// Creates the Unix socket listener, removes any stale socket from a previous
// run, and applies permissions.
func listen(socketPath string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), paths.DefaultDirMode); err != nil {
		return nil, crex.Wrap(ErrServer, err)
	}

	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, crex.Wrapf(ErrServer, "failed to listen on %s: %w", socketPath, err)
	}

	if err := setSocketPermissions(socketPath); err != nil {
		listener.Close()
		return nil, err
	}

	return listener, nil
}

// Restricts socket access to owner and group. Any user in the devimg group
// can also connect.
func setSocketPermissions(socketPath string) error {
	if err := os.Chmod(socketPath, socketMode); err != nil {
		return crex.Wrapf(ErrServer, "failed to chmod socket %s", socketPath)
	}

	if g, err := user.LookupGroup(socketGroup); err == nil {
		if gid, err := strconv.Atoi(g.Gid); err == nil {
			if err := os.Chown(socketPath, -1, gid); err != nil {
				slog.Warn("failed to chgrp socket", "group", socketGroup, "error", err)
			}
		}
	} else {
		slog.Debug("socket group not found, socket accessible to owner only", "group", socketGroup)
	}

	return nil
}

// Shuts down the server and cleans up resources.
//
// Safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		if s.listener != nil {
			s.listener.Close()
			os.Remove(s.socketPath)
			os.Remove(paths.PIDFile())
		}

		s.close()
		close(s.done)
	})
	return nil
}

// Closes the engine and cache if the server opened them.
func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			slog.Warn("failed to close server resource", "error", err)
		}
	}
	s.closers = nil
}

// Blocks until the server stops.
func (s *Server) Wait() {
	<-s.done
}

// Accepts connections in a loop until the server shuts down.
func (s *Server) accept() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("accept error", "error", err)
			continue
		}

		go s.handle(conn)
	}
}

// Processes a single connection.
//
// Reads one newline-delimited JSON message, dispatches the command, and
// writes the response. The connection is closed after one exchange.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)

	line, err := reader.ReadBytes('\n')
	if err != nil {
		slog.Error("read error", "error", err)
		return
	}

	env, payload, err := protocol.Decode(line)
	if err != nil {
		s.respond(conn, protocol.CmdError, protocol.NewErrorResult(err))
		return
	}

	slog.Debug("command received", "command", env.Command)

	ctx, cancel := contextWithDisconnect(context.Background(), reader)
	defer cancel()

	s.dispatch(ctx, conn, env.Command, payload)
}

// Routes a command to the appropriate handler.
func (s *Server) dispatch(ctx context.Context, conn net.Conn, cmd protocol.Command, payload json.RawMessage) {
	switch cmd {
	case protocol.CmdBuild:
		s.handleBuild(ctx, conn, payload)
	case protocol.CmdStatus:
		s.handleStatus(conn)
	case protocol.CmdShutdown:
		s.handleShutdown(conn)
	default:
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{
			Message: fmt.Sprintf("unknown command: %s", cmd),
		})
	}
}

// Writes a JSON envelope response to the connection.
func (s *Server) respond(conn net.Conn, cmd protocol.Command, payload any) {
	data, err := protocol.Encode(cmd, payload)
	if err != nil {
		slog.Error("encode response failed", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

// Writes the daemon PID to the PID file so the CLI can detect whether the
// daemon is already running.
func writePID() error {
	if err := os.MkdirAll(paths.Runtime(), paths.DefaultDirMode); err != nil {
		return err
	}
	return os.WriteFile(paths.PIDFile(), []byte(strconv.Itoa(os.Getpid())), paths.DefaultFileMode)
}

// Returns a derived context that is cancelled when the remote end of the
// connection closes.
//
// Detection works by reading from r in a background goroutine. The read blocks
// until the peer closes the connection, at which point it returns an error and
// the derived context is cancelled. The caller must ensure that no further data
// is expected on r for the lifetime of the returned context. The returned
// [context.CancelFunc] must always be called to release resources.
func contextWithDisconnect(parent context.Context, r io.Reader) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		buf := make([]byte, 1)
		r.Read(buf)
		cancel()
	}()

	return ctx, cancel
}
