package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "docker.io/library/python:3.11-slim", cfg.Base)
	require.Equal(t, "/app", cfg.ProjectRoot())
	require.Equal(t, InstallerLatest, cfg.Installer.Mode)
	require.Empty(t, cfg.Source.Exclude, "default staging must copy everything")
	require.Empty(t, cfg.Source.IgnoreFile)
	require.Zero(t, cfg.Retry.Attempts, "default policy is a single attempt")
}

func TestLoadOverlaysFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	user := filepath.Join(dir, "user.yaml")
	project := filepath.Join(dir, "devimg.yaml")

	require.NoError(t, os.WriteFile(user, []byte(`
workdir: /srv
timeouts:
  pull: 1m
retry:
  attempts: 2
`), 0644))
	require.NoError(t, os.WriteFile(project, []byte(`
base: python:3.12-slim
installer:
  mode: pinned
  version: "24.2"
source:
  exclude: [".git", ".venv"]
cache: false
`), 0644))

	cfg, err := Load(user, filepath.Join(dir, "missing.yaml"), project)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "/srv", cfg.Workdir)
	require.Equal(t, "docker.io/library/python:3.12-slim", cfg.Base)
	require.Equal(t, time.Minute, cfg.Timeouts.Pull)
	require.Equal(t, 30*time.Minute, cfg.Timeouts.Install, "unset keys keep defaults")
	require.Equal(t, 2, cfg.Retry.Attempts)
	require.Equal(t, Installer{Mode: InstallerPinned, Version: "24.2"}, cfg.Installer)
	require.Equal(t, []string{".git", ".venv"}, cfg.Source.Exclude)
	require.False(t, cfg.Cache)
}

func TestLoadMalformedFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "devimg.yaml")
	require.NoError(t, os.WriteFile(file, []byte("base: [unterminated"), 0644))

	_, err := Load(file)
	require.ErrorIs(t, err, ErrReadConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:   "digest pins",
			mutate: func(c *Config) { c.Base = "python@sha256:" + sha },
		},
		{
			name:   "patch version tag",
			mutate: func(c *Config) { c.Base = "python:3.11.9-slim-bookworm" },
		},
		{
			name:    "latest tag",
			mutate:  func(c *Config) { c.Base = "python:latest" },
			wantErr: ErrUnpinnedBase,
		},
		{
			name:    "no tag",
			mutate:  func(c *Config) { c.Base = "python" },
			wantErr: ErrUnpinnedBase,
		},
		{
			name:    "major only",
			mutate:  func(c *Config) { c.Base = "python:3-slim" },
			wantErr: ErrUnpinnedBase,
		},
		{
			name:    "malformed reference",
			mutate:  func(c *Config) { c.Base = "Python:3.11" },
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "unknown engine",
			mutate:  func(c *Config) { c.Engine = "podman" },
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "relative workdir",
			mutate:  func(c *Config) { c.Workdir = "app" },
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "pinned without version",
			mutate:  func(c *Config) { c.Installer = Installer{Mode: InstallerPinned} },
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "latest with version",
			mutate:  func(c *Config) { c.Installer = Installer{Mode: InstallerLatest, Version: "24.0"} },
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "unknown installer mode",
			mutate:  func(c *Config) { c.Installer.Mode = "nightly" },
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "install path escapes",
			mutate:  func(c *Config) { c.Install.Path = "../other" },
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "absolute install path",
			mutate:  func(c *Config) { c.Install.Path = "/opt/pkg" },
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Timeouts.Install = -time.Second },
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Retry.Attempts = -1 },
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "bad platform",
			mutate:  func(c *Config) { c.Platform = "linux/amd64/v3/extra" },
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
		})
	}
}

func TestInstallPathIsCleaned(t *testing.T) {
	cfg := Default()
	cfg.Install.Path = "./src/pkg/"
	require.NoError(t, cfg.Validate())
	require.Equal(t, "src/pkg", cfg.Install.Path)
	require.Equal(t, "/app/src/pkg", cfg.ProjectRoot())
}

func TestTarget(t *testing.T) {
	cfg := Default()
	require.Equal(t, "output:dist", cfg.Target())

	cfg.Tag = "localhost/app:dev"
	require.Equal(t, "tag:localhost/app:dev", cfg.Target())
}

const sha = "4f53cda18c2baa0c0354bb5f9a3ecbe5ed12ab4d8e11ba873c2f11161202b945"
