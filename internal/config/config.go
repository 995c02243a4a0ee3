package config

import (
	"errors"
	"io/fs"
	"os"
	"path"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/cruciblehq/devimg/internal/crex"
	"gopkg.in/yaml.v3"
)

// Build engines.
const (
	EngineContainerd = "containerd"
	EngineDagger     = "dagger"
)

// Installer upgrade modes.
const (
	InstallerLatest = "latest" // Upgrade to the newest release on the index.
	InstallerPinned = "pinned" // Install exactly [Installer.Version].
)

// Defaults for a build with no configuration at all.
const (
	DefaultBase                = "python:3.11-slim"
	DefaultWorkdir             = "/app"
	DefaultPython              = "python"
	DefaultInstallPath         = "."
	DefaultOutput              = "dist"
	DefaultContainerdAddress   = "/run/containerd/containerd.sock"
	DefaultContainerdNamespace = "devimg"
)

// Full build configuration.
type Config struct {
	Engine     string     `yaml:"engine" json:"engine"`         // Build engine, [EngineContainerd] or [EngineDagger].
	Base       string     `yaml:"base" json:"base"`             // Version-pinned base image reference.
	Platform   string     `yaml:"platform" json:"platform"`     // Target OCI platform (e.g., "linux/amd64").
	Workdir    string     `yaml:"workdir" json:"workdir"`       // Absolute working directory inside the image.
	Python     string     `yaml:"python" json:"python"`         // Interpreter used to invoke pip.
	Installer  Installer  `yaml:"installer" json:"installer"`   // Installer upgrade policy.
	Source     Source     `yaml:"source" json:"source"`         // Source staging rules.
	Install    Install    `yaml:"install" json:"install"`       // Editable install target.
	Timeouts   Timeouts   `yaml:"timeouts" json:"timeouts"`     // Per-step timeouts for network-bound steps.
	Retry      Retry      `yaml:"retry" json:"retry"`           // Retry policy for network failures.
	Output     string     `yaml:"output" json:"output"`         // Directory receiving image.tar.
	Tag        string     `yaml:"tag" json:"tag"`               // Optional name for the image in the engine's store.
	Cache      bool       `yaml:"cache" json:"cache"`           // Whether step layers are reused across builds.
	Containerd Containerd `yaml:"containerd" json:"containerd"` // Containerd connection settings.
}

// Controls how the package installer is updated before installing.
type Installer struct {
	Mode    string `yaml:"mode" json:"mode"`       // [InstallerLatest] or [InstallerPinned].
	Version string `yaml:"version" json:"version"` // Exact pip version, required when pinned.
}

// Controls which files of the build context are staged.
//
// Both fields are empty by default: the whole context is copied.
type Source struct {
	Exclude    []string `yaml:"exclude" json:"exclude"`         // Docker-style ignore patterns.
	IgnoreFile string   `yaml:"ignore_file" json:"ignoreFile"` // Context-relative ignore file read in addition to Exclude.
}

// Editable install target.
type Install struct {
	Path string `yaml:"path" json:"path"` // Project root relative to the working directory.
}

// Upper bounds for the network-bound steps. Zero disables the bound.
type Timeouts struct {
	Pull    time.Duration `yaml:"pull" json:"pull"`
	Upgrade time.Duration `yaml:"upgrade" json:"upgrade"`
	Install time.Duration `yaml:"install" json:"install"`
}

// Retry policy for network failures. Zero attempts means a single try.
type Retry struct {
	Attempts int           `yaml:"attempts" json:"attempts"` // Additional attempts after the first.
	Interval time.Duration `yaml:"interval" json:"interval"` // Constant wait between attempts.
}

// Containerd connection settings.
type Containerd struct {
	Address   string `yaml:"address" json:"address"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// Returns the configuration used when no file or flag overrides a value.
//
// The defaults reproduce the plain recipe: python:3.11-slim, /app, upgrade
// pip to latest, copy everything, install ".".
func Default() *Config {
	return &Config{
		Engine:    EngineContainerd,
		Base:      DefaultBase,
		Platform:  "linux/" + goruntime.GOARCH,
		Workdir:   DefaultWorkdir,
		Python:    DefaultPython,
		Installer: Installer{Mode: InstallerLatest},
		Install:   Install{Path: DefaultInstallPath},
		Timeouts: Timeouts{
			Pull:    10 * time.Minute,
			Upgrade: 5 * time.Minute,
			Install: 30 * time.Minute,
		},
		Retry:  Retry{Interval: 2 * time.Second},
		Output: DefaultOutput,
		Cache:  true,
		Containerd: Containerd{
			Address:   DefaultContainerdAddress,
			Namespace: DefaultContainerdNamespace,
		},
	}
}

// Loads the defaults overlaid by each existing file in order.
//
// Missing files are skipped. Keys absent from a file keep the value set by
// earlier layers.
func Load(files ...string) (*Config, error) {
	cfg := Default()
	for _, file := range files {
		if err := cfg.overlay(file); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Decodes a YAML file on top of the receiver.
func (c *Config) overlay(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return crex.Wrap(ErrReadConfig, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return crex.Wrapf(ErrReadConfig, "%s: %w", file, err)
	}
	return nil
}

// Checks the configuration and normalizes the base reference and platform.
func (c *Config) Validate() error {
	switch c.Engine {
	case EngineContainerd, EngineDagger:
	default:
		return crex.Wrapf(ErrInvalidConfig, "unknown engine %q", c.Engine)
	}

	base, err := ValidateBase(c.Base)
	if err != nil {
		return err
	}
	c.Base = base

	platform, err := NormalizePlatform(c.Platform)
	if err != nil {
		return err
	}
	c.Platform = platform

	if !path.IsAbs(c.Workdir) {
		return crex.Wrapf(ErrInvalidConfig, "workdir %q must be absolute", c.Workdir)
	}
	c.Workdir = path.Clean(c.Workdir)

	if strings.TrimSpace(c.Python) == "" {
		return crex.Wrapf(ErrInvalidConfig, "python interpreter must be set")
	}

	if err := c.Installer.validate(); err != nil {
		return err
	}

	if err := c.Install.validate(); err != nil {
		return err
	}

	if c.Timeouts.Pull < 0 || c.Timeouts.Upgrade < 0 || c.Timeouts.Install < 0 {
		return crex.Wrapf(ErrInvalidConfig, "timeouts must not be negative")
	}

	if c.Retry.Attempts < 0 || c.Retry.Interval < 0 {
		return crex.Wrapf(ErrInvalidConfig, "retry attempts and interval must not be negative")
	}

	if c.Output == "" {
		return crex.Wrapf(ErrInvalidConfig, "output directory must be set")
	}

	return nil
}

func (i Installer) validate() error {
	switch i.Mode {
	case InstallerLatest:
		if i.Version != "" {
			return crex.Wrapf(ErrInvalidConfig, "installer version %q requires mode %q", i.Version, InstallerPinned)
		}
	case InstallerPinned:
		if i.Version == "" {
			return crex.Wrapf(ErrInvalidConfig, "installer mode %q requires a version", InstallerPinned)
		}
	default:
		return crex.Wrapf(ErrInvalidConfig, "unknown installer mode %q", i.Mode)
	}
	return nil
}

func (i *Install) validate() error {
	if i.Path == "" {
		i.Path = DefaultInstallPath
	}
	if path.IsAbs(i.Path) {
		return crex.Wrapf(ErrInvalidConfig, "install path %q must be relative to the working directory", i.Path)
	}
	clean := path.Clean(i.Path)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return crex.Wrapf(ErrInvalidConfig, "install path %q escapes the working directory", i.Path)
	}
	i.Path = clean
	return nil
}

// Returns the container path the editable install resolves to.
func (c *Config) ProjectRoot() string {
	return path.Join(c.Workdir, c.Install.Path)
}

// Returns the identity of the build target used for locking.
//
// A tagged build is identified by its tag, otherwise by its output directory.
func (c *Config) Target() string {
	if c.Tag != "" {
		return "tag:" + c.Tag
	}
	return "output:" + c.Output
}
