package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/cruciblehq/devimg/internal/config"
	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/cruciblehq/devimg/internal/metadata"
	"github.com/cruciblehq/devimg/internal/source"
	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"
)

// Step names.
const (
	StepBase      = "base"
	StepInstaller = "installer"
	StepSource    = "source"
	StepInstall   = "install"
)

// A single pipeline step.
type Step interface {
	Name() string                                                  // Stable identifier.
	Instruction() string                                           // Equivalent Dockerfile instruction(s).
	Target() State                                                 // State reached on success.
	Timeout() time.Duration                                        // Upper bound for one attempt, zero for none.
	Network() bool                                                 // Whether network failures may be retried.
	Layered() bool                                                 // Whether success commits a layer.
	Fingerprint(env Env) (string, error)                           // Cache input beyond the parent chain.
	Run(ctx context.Context, env Env, sess Session) (Env, error)  // Executes the step.
}

// Common step attributes.
type stepInfo struct {
	name    string
	target  State
	timeout time.Duration
	network bool
	layered bool
}

func (s stepInfo) Name() string           { return s.name }
func (s stepInfo) Target() State          { return s.target }
func (s stepInfo) Timeout() time.Duration { return s.timeout }
func (s stepInfo) Network() bool          { return s.network }
func (s stepInfo) Layered() bool          { return s.layered }

// Returns the pipeline for cfg, in execution order.
//
// The snapshot source is opened lazily by the source step so that an
// unreadable context fails at staging, after the earlier steps ran. A nil
// source is allowed when the steps are only rendered.
func Steps(cfg *config.Config, src *LazySnapshot) []Step {
	return []Step{
		&baseStep{
			stepInfo: stepInfo{name: StepBase, target: StateBaseReady, timeout: cfg.Timeouts.Pull, network: true},
			ref:      cfg.Base,
			platform: cfg.Platform,
			workdir:  cfg.Workdir,
		},
		&installerStep{
			stepInfo: stepInfo{name: StepInstaller, target: StateInstallerUpdated, timeout: cfg.Timeouts.Upgrade, network: true, layered: true},
			python:   cfg.Python,
			mode:     cfg.Installer.Mode,
			version:  cfg.Installer.Version,
			workdir:  cfg.Workdir,
		},
		&sourceStep{
			stepInfo: stepInfo{name: StepSource, target: StateSourceStaged, layered: true},
			src:      src,
			workdir:  cfg.Workdir,
		},
		&installStep{
			stepInfo: stepInfo{name: StepInstall, target: StatePackageInstalled, timeout: cfg.Timeouts.Install, network: true, layered: true},
			src:      src,
			python:   cfg.Python,
			path:     cfg.Install.Path,
			workdir:  cfg.Workdir,
			root:     cfg.ProjectRoot(),
		},
	}
}

// Error classes a session may report directly.
var sessionClasses = []error{ErrImageNotFound, ErrNetwork, ErrRuntime, ErrIO, context.Canceled, context.DeadlineExceeded}

// Keeps an error the session already classified and reports anything else
// as an engine fault. Only [ErrNetwork] is retried, so an unclassified
// failure is never mistaken for a transient one.
func engineError(err error) error {
	for _, class := range sessionClasses {
		if errors.Is(err, class) {
			return err
		}
	}
	return crex.Wrap(ErrRuntime, err)
}

// Pulls the pinned base image and prepares the working directory.
type baseStep struct {
	stepInfo
	ref      string
	platform string
	workdir  string
}

func (s *baseStep) Instruction() string {
	return fmt.Sprintf("FROM --platform=%s %s\nWORKDIR %s", s.platform, familiar(s.ref), s.workdir)
}

func (s *baseStep) Fingerprint(env Env) (string, error) {
	return "", nil
}

func (s *baseStep) Run(ctx context.Context, env Env, sess Session) (Env, error) {
	img, err := sess.Pull(ctx, s.ref, s.platform)
	if err != nil {
		return Env{}, engineError(err)
	}

	if err := sess.MkdirAll(ctx, s.workdir); err != nil {
		return Env{}, crex.Wrap(ErrIO, err)
	}

	next := env.clone()
	next.Base = img
	next.Workdir = s.workdir
	next.CacheKey = digest.FromString(strings.Join([]string{StepBase, img.Ref, img.Digest.String(), img.Platform, s.workdir}, "\x00"))
	return next, nil
}

// Brings pip to the newest or to an exact version.
type installerStep struct {
	stepInfo
	python  string
	mode    string
	version string
	workdir string
}

func (s *installerStep) args() []string {
	if s.mode == config.InstallerPinned {
		return pipArgs(s.python, "install", "pip=="+s.version)
	}
	return pipArgs(s.python, "install", "--upgrade", "pip")
}

func (s *installerStep) Instruction() string {
	return "RUN " + strings.Join(s.args(), " ")
}

func (s *installerStep) Fingerprint(env Env) (string, error) {
	return strings.Join(s.args(), " "), nil
}

func (s *installerStep) Run(ctx context.Context, env Env, sess Session) (Env, error) {
	res, err := sess.Exec(ctx, s.args(), s.workdir)
	if err != nil {
		return Env{}, crex.Wrap(ErrUpgrade, err)
	}
	if res.ExitCode != 0 {
		return Env{}, classifyPip(res, ErrUpgrade)
	}

	res, err = sess.Exec(ctx, pipArgs(s.python, "--version"), s.workdir)
	if err != nil {
		return Env{}, crex.Wrap(ErrUpgrade, err)
	}
	if res.ExitCode != 0 {
		return Env{}, classifyPip(res, ErrUpgrade)
	}

	version, err := parsePipVersion(res.Stdout)
	if err != nil {
		return Env{}, crex.Wrap(ErrUpgrade, err)
	}
	if s.mode == config.InstallerPinned && version != s.version {
		return Env{}, crex.Wrapf(ErrUpgrade, "pip reports version %s, want %s", version, s.version)
	}

	next := env.clone()
	next.Installer = version
	return next, nil
}

// Copies the build context into the working directory.
type sourceStep struct {
	stepInfo
	src     *LazySnapshot
	workdir string
}

func (s *sourceStep) Instruction() string {
	return "COPY . ."
}

func (s *sourceStep) Fingerprint(env Env) (string, error) {
	snap, err := s.src.Get()
	if err != nil {
		return "", err
	}
	return snap.Digest().String() + "\x00" + s.workdir, nil
}

func (s *sourceStep) Run(ctx context.Context, env Env, sess Session) (Env, error) {
	snap, err := s.src.Get()
	if err != nil {
		return Env{}, crex.Wrap(ErrIO, err)
	}

	if err := sess.Copy(ctx, snap, s.workdir); err != nil {
		return Env{}, crex.Wrap(ErrIO, err)
	}

	next := env.clone()
	next.Source = snap.Digest()
	next.Files = snap.Len()
	return next, nil
}

// Installs the staged project in editable mode.
type installStep struct {
	stepInfo
	src     *LazySnapshot
	python  string
	path    string
	workdir string
	root    string
}

func (s *installStep) args() []string {
	return pipArgs(s.python, "install", "-e", s.path)
}

func (s *installStep) Instruction() string {
	return "RUN " + strings.Join(s.args(), " ")
}

func (s *installStep) Fingerprint(env Env) (string, error) {
	return env.Source.String() + "\x00" + strings.Join(s.args(), " "), nil
}

func (s *installStep) Run(ctx context.Context, env Env, sess Session) (Env, error) {
	snap, err := s.src.Get()
	if err != nil {
		return Env{}, crex.Wrap(ErrIO, err)
	}

	pkg, err := metadata.Read(snap.FS(), s.path)
	if err != nil {
		return Env{}, crex.Wrap(ErrMetadata, err)
	}

	res, err := sess.Exec(ctx, s.args(), s.workdir)
	if err != nil {
		return Env{}, crex.Wrap(ErrRuntime, err)
	}
	if res.ExitCode != 0 {
		return Env{}, classifyPip(res, ErrDependencyResolution)
	}

	link, err := s.verify(ctx, sess, pkg.Name)
	if err != nil {
		return Env{}, err
	}

	// Registration fields are authoritative for whatever metadata left to
	// the build backend.
	if metadata.Normalize(pkg.Name) != metadata.Normalize(link.Name) || pkg.Version == "" {
		resolved := *pkg
		resolved.Name = link.Name
		if resolved.Version == "" {
			resolved.Version = link.Version
		}
		pkg = &resolved
	}

	next := env.clone()
	next.Package = pkg
	next.Link = link
	return next, nil
}

// Confirms that pip registered the package as an editable install rooted at
// the staged tree.
//
// A package whose name is known is looked up by name. When the name is
// unknown, or pip does not know the declared one, the editable installs
// are searched for the one rooted at the staged tree instead.
func (s *installStep) verify(ctx context.Context, sess Session, name string) (*Link, error) {
	if name == "" {
		return s.findEditable(ctx, sess)
	}

	res, err := sess.Exec(ctx, pipArgs(s.python, "show", name), s.workdir)
	if err != nil {
		return nil, crex.Wrap(ErrRuntime, err)
	}
	if res.ExitCode != 0 {
		slog.Debug("declared package not registered, searching editable installs", "package", name)
		return s.findEditable(ctx, sess)
	}

	link := parsePipShow(res.Stdout)
	if link.Project == "" {
		return nil, crex.Wrapf(ErrMetadata, "package %s is not installed in editable mode", name)
	}
	if path.Clean(link.Project) != s.root {
		return nil, crex.Wrapf(ErrMetadata, "package %s resolves to %s, want %s", name, link.Project, s.root)
	}

	return link, nil
}

// Returns the editable install whose project location is the staged tree.
func (s *installStep) findEditable(ctx context.Context, sess Session) (*Link, error) {
	res, err := sess.Exec(ctx, pipArgs(s.python, "list", "--editable", "--format=json"), s.workdir)
	if err != nil {
		return nil, crex.Wrap(ErrRuntime, err)
	}
	if res.ExitCode != 0 {
		return nil, crex.Wrapf(ErrMetadata, "listing editable installs: exit code %d: %s", res.ExitCode, tail(res.Stderr, 3))
	}

	links, err := parsePipList(res.Stdout)
	if err != nil {
		return nil, crex.Wrap(ErrMetadata, err)
	}
	for _, link := range links {
		if path.Clean(link.Project) == s.root {
			return link, nil
		}
	}
	return nil, crex.Wrapf(ErrMetadata, "no editable install is rooted at %s", s.root)
}

// Opens the build context snapshot on first use and memoizes the outcome.
type LazySnapshot struct {
	once sync.Once
	open func() (*source.Snapshot, error)
	snap *source.Snapshot
	err  error
}

// Creates a lazy snapshot of contextDir using the staging rules in cfg.
func NewLazySnapshot(contextDir string, cfg config.Source) *LazySnapshot {
	return &LazySnapshot{
		open: func() (*source.Snapshot, error) {
			return source.Open(contextDir, cfg.Exclude, cfg.IgnoreFile)
		},
	}
}

// Returns the snapshot, opening it on the first call.
func (l *LazySnapshot) Get() (*source.Snapshot, error) {
	l.once.Do(func() {
		l.snap, l.err = l.open()
	})
	return l.snap, l.err
}

// Shortens a normalized reference for display ("python:3.11-slim").
func familiar(ref string) string {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return ref
	}
	return reference.FamiliarString(named)
}
