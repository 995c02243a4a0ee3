package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/alecthomas/kong"
	"github.com/cruciblehq/devimg/internal/config"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_RUNTIME_DIR", filepath.Join(home, "run"))
	xdg.Reload()
	return home
}

func TestResolveLayering(t *testing.T) {
	home := isolate(t)
	writeFile(t, filepath.Join(home, "config", "devimg", "config.yaml"), "python: python3\nretry:\n  attempts: 2\n  interval: 1s\n")

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "devimg.yaml"), "workdir: /srv/app\npython: python3.11\n")

	f := &RecipeFlags{
		Context:  dir,
		Platform: "linux/arm64",
		Pip:      "23.3.1",
		Exclude:  []string{".git"},
	}

	cfg, ctxDir, err := f.resolve()
	require.NoError(t, err)
	require.Equal(t, dir, ctxDir)
	require.Equal(t, "/srv/app", cfg.Workdir)
	require.Equal(t, "python3.11", cfg.Python)
	require.Equal(t, 2, cfg.Retry.Attempts)
	require.Equal(t, time.Second, cfg.Retry.Interval)
	require.Equal(t, "linux/arm64", cfg.Platform)
	require.Equal(t, config.Installer{Mode: config.InstallerPinned, Version: "23.3.1"}, cfg.Installer)
	require.Equal(t, []string{".git"}, cfg.Source.Exclude)
	require.Equal(t, filepath.Join(dir, config.DefaultOutput), cfg.Output)
}

func TestResolveDefaultsCopyEverything(t *testing.T) {
	isolate(t)

	cfg, _, err := (&RecipeFlags{Context: t.TempDir()}).resolve()
	require.NoError(t, err)
	require.Empty(t, cfg.Source.Exclude)
	require.Empty(t, cfg.Source.IgnoreFile)
	require.Equal(t, config.InstallerLatest, cfg.Installer.Mode)
	require.Equal(t, config.DefaultWorkdir, cfg.Workdir)
}

func TestResolveRejectsUnpinnedBase(t *testing.T) {
	isolate(t)

	_, _, err := (&RecipeFlags{Context: t.TempDir(), Base: "python:latest"}).resolve()
	require.ErrorIs(t, err, config.ErrUnpinnedBase)
}

func TestResolveKeepsAbsoluteOutput(t *testing.T) {
	isolate(t)
	out := filepath.Join(t.TempDir(), "images")

	cfg, _, err := (&RecipeFlags{Context: t.TempDir(), Output: out}).resolve()
	require.NoError(t, err)
	require.Equal(t, out, cfg.Output)
}

func TestParseBuild(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	parser, err := kong.New(&RootCmd, kong.Name("devimg"))
	require.NoError(t, err)

	kctx, err := parser.Parse([]string{"build", dir, "--pip", "24.0", "-x", "*.pyc", "-x", "build/", "--no-cache", "-r"})
	require.NoError(t, err)
	require.Equal(t, "build", kctx.Selected().Name)

	cmd := RootCmd.Build
	require.Equal(t, dir, cmd.Context)
	require.Equal(t, "24.0", cmd.Pip)
	require.Equal(t, []string{"*.pyc", "build/"}, cmd.Exclude)
	require.True(t, cmd.NoCache)
	require.True(t, cmd.Remote)
}

func TestParsePruneDefault(t *testing.T) {
	parser, err := kong.New(&RootCmd, kong.Name("devimg"))
	require.NoError(t, err)

	_, err = parser.Parse([]string{"prune"})
	require.NoError(t, err)
	require.Equal(t, 7*24*time.Hour, RootCmd.Prune.OlderThan)
	require.False(t, RootCmd.Prune.KeepSnapshots)
}
