package cli

import (
	"path/filepath"

	"github.com/cruciblehq/devimg/internal/config"
	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/cruciblehq/devimg/internal/paths"
)

// Flags shared by commands that resolve a build configuration.
type RecipeFlags struct {
	Context    string   `arg:"" optional:"" default:"." type:"existingdir" help:"Build context directory."`
	Engine     string   `short:"e" env:"DEVIMG_ENGINE" help:"Build engine (containerd or dagger)." placeholder:"NAME"`
	Base       string   `help:"Version-pinned base image reference." placeholder:"REF"`
	Platform   string   `short:"p" help:"Target platform (e.g., linux/arm64)." placeholder:"OS/ARCH"`
	Workdir    string   `short:"w" help:"Working directory inside the image." placeholder:"DIR"`
	Python     string   `help:"Interpreter used to run pip." placeholder:"PATH"`
	Pip        string   `help:"Install exactly this pip version instead of upgrading to the latest." placeholder:"VERSION"`
	Path       string   `help:"Project root relative to the working directory." placeholder:"DIR"`
	Exclude    []string `short:"x" help:"Exclude context files matching the pattern (repeatable)." placeholder:"PATTERN"`
	IgnoreFile string   `help:"Context-relative file listing exclusion patterns." placeholder:"FILE"`
	Output     string   `short:"o" help:"Directory receiving image.tar." placeholder:"DIR"`
	Tag        string   `short:"t" help:"Name the image in the engine's store." placeholder:"NAME"`
}

// Loads and validates the configuration for a build of f.Context.
//
// Files are applied in order: user configuration, the context's devimg.yaml,
// then --config. Flags override all of them. A relative output directory is
// resolved against the context. Returns the configuration and the absolute
// context path.
func (f *RecipeFlags) resolve() (*config.Config, string, error) {
	dir, err := filepath.Abs(f.Context)
	if err != nil {
		return nil, "", crex.Wrap(config.ErrInvalidConfig, err)
	}

	files := []string{paths.ConfigFile(), paths.ProjectConfig(dir)}
	if RootCmd.Config != "" {
		files = append(files, RootCmd.Config)
	}

	cfg, err := config.Load(files...)
	if err != nil {
		return nil, "", err
	}

	f.apply(cfg)

	if !filepath.IsAbs(cfg.Output) {
		cfg.Output = filepath.Join(dir, cfg.Output)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, dir, nil
}

// Overrides cfg with every flag that was set.
func (f *RecipeFlags) apply(cfg *config.Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	set(&cfg.Engine, f.Engine)
	set(&cfg.Base, f.Base)
	set(&cfg.Platform, f.Platform)
	set(&cfg.Workdir, f.Workdir)
	set(&cfg.Python, f.Python)
	set(&cfg.Install.Path, f.Path)
	set(&cfg.Source.IgnoreFile, f.IgnoreFile)
	set(&cfg.Output, f.Output)
	set(&cfg.Tag, f.Tag)

	if f.Pip != "" {
		cfg.Installer = config.Installer{Mode: config.InstallerPinned, Version: f.Pip}
	}
	if len(f.Exclude) > 0 {
		cfg.Source.Exclude = append(cfg.Source.Exclude, f.Exclude...)
	}
}
