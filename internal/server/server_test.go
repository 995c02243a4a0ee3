package server

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/cruciblehq/devimg/internal/client"
	"github.com/cruciblehq/devimg/internal/config"
	"github.com/cruciblehq/devimg/internal/paths"
	"github.com/cruciblehq/devimg/internal/pipeline"
	"github.com/cruciblehq/devimg/internal/protocol"
	"github.com/cruciblehq/devimg/internal/source"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"
)

// Session answering pip the way an editable install of "demo" would.
type stubSession struct {
	pullErr error
}

func (s *stubSession) Pull(ctx context.Context, ref, platform string) (pipeline.Image, error) {
	if s.pullErr != nil {
		return pipeline.Image{}, s.pullErr
	}
	return pipeline.Image{Ref: ref, Digest: digest.FromString(ref), Platform: platform}, nil
}

func (s *stubSession) MkdirAll(ctx context.Context, path string) error { return nil }

func (s *stubSession) Exec(ctx context.Context, args []string, workdir string) (*pipeline.ExecResult, error) {
	switch {
	case slices.Contains(args, "--version"):
		return &pipeline.ExecResult{Stdout: "pip 24.2 from /usr/local/lib/python3.11/site-packages/pip (python 3.11)\n"}, nil
	case slices.Contains(args, "show"):
		return &pipeline.ExecResult{Stdout: "Name: demo\nVersion: 0.1.0\nEditable project location: " + workdir + "\n"}, nil
	}
	return &pipeline.ExecResult{}, nil
}

func (s *stubSession) Copy(ctx context.Context, snap *source.Snapshot, dest string) error { return nil }

func (s *stubSession) Commit(ctx context.Context, step, command string) (pipeline.Layer, error) {
	return pipeline.Layer{Step: step, Command: command}, nil
}

func (s *stubSession) Export(ctx context.Context, opts pipeline.ExportOptions) (string, error) {
	return filepath.Join(opts.Output, "image.tar"), nil
}

func (s *stubSession) Close(ctx context.Context) error { return nil }

type stubEngine struct {
	mu      sync.Mutex
	pullErr error
	closed  bool
}

func (e *stubEngine) NewSession(ctx context.Context, id, platform string) (pipeline.Session, error) {
	return &stubSession{pullErr: e.pullErr}, nil
}

func (e *stubEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func startServer(t *testing.T, engine *stubEngine) (*Server, *client.Client) {
	t.Helper()
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	xdg.Reload()

	cfg := config.Default()
	cfg.Cache = false

	socket := filepath.Join(t.TempDir(), "devimg.sock")
	srv, err := New(Config{SocketPath: socket, Build: cfg, Engine: engine})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	return srv, client.New(socket)
}

func buildRequest(t *testing.T) *protocol.BuildRequest {
	t.Helper()

	dir := t.TempDir()
	pyproject := "[project]\nname = \"demo\"\nversion = \"0.1.0\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte(pyproject), 0o644))

	cfg := config.Default()
	cfg.Platform = "linux/amd64"
	cfg.Output = filepath.Join(dir, "dist")
	cfg.Cache = false
	return &protocol.BuildRequest{Context: dir, Config: cfg}
}

func TestStatus(t *testing.T) {
	srv, c := startServer(t, &stubEngine{})

	res, err := c.Status(context.Background())
	require.NoError(t, err)
	require.True(t, res.Running)
	require.Equal(t, os.Getpid(), res.Pid)
	require.Equal(t, config.EngineContainerd, res.Engine)
	require.Zero(t, res.Builds)

	pid, err := os.ReadFile(paths.PIDFile())
	require.NoError(t, err)
	require.NotEmpty(t, strings.TrimSpace(string(pid)))
	require.NotNil(t, srv.listener)
}

func TestBuild(t *testing.T) {
	_, c := startServer(t, &stubEngine{})
	req := buildRequest(t)

	res, err := c.Build(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(req.Config.Output, "image.tar"), res.Output)
	require.Equal(t, pipeline.StatePackageInstalled, res.Env.State)
	require.Equal(t, "demo", res.Env.Package.Name)
	require.Len(t, res.Env.Layers, 3)

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, status.Builds)
	require.Zero(t, status.Active)
}

func TestBuildFailureKind(t *testing.T) {
	_, c := startServer(t, &stubEngine{pullErr: pipeline.ErrImageNotFound})

	_, err := c.Build(context.Background(), buildRequest(t))
	require.ErrorIs(t, err, pipeline.ErrImageNotFound)

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, status.Failed)
}

func TestBuildRejectsRelativePaths(t *testing.T) {
	_, c := startServer(t, &stubEngine{})

	req := buildRequest(t)
	req.Context = "relative"
	_, err := c.Build(context.Background(), req)
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	req = buildRequest(t)
	req.Config.Output = "dist"
	_, err = c.Build(context.Background(), req)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestBuildRejectsUnpinnedBase(t *testing.T) {
	_, c := startServer(t, &stubEngine{})

	req := buildRequest(t)
	req.Config.Base = "python"
	_, err := c.Build(context.Background(), req)
	require.ErrorIs(t, err, config.ErrUnpinnedBase)
}

func TestShutdown(t *testing.T) {
	engine := &stubEngine{}
	srv, c := startServer(t, engine)

	require.NoError(t, c.Shutdown(context.Background()))

	done := make(chan struct{})
	go func() {
		srv.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	_, err := c.Status(context.Background())
	require.ErrorIs(t, err, client.ErrUnavailable)
}

func TestEngineOverrideNotClosed(t *testing.T) {
	engine := &stubEngine{}
	srv, _ := startServer(t, engine)

	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())
	require.False(t, engine.closed)
}
