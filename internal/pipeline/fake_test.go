package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/cruciblehq/devimg/internal/metadata"
	"github.com/cruciblehq/devimg/internal/source"
	"github.com/opencontainers/go-digest"
)

// Package index reachable from the fake session.
var fakeIndex = map[string]bool{
	"requests":            true,
	"urllib3":             true,
	"aiohttp":             true,
	"python-telegram-bot": true,
	"setuptools":          true,
}

const fakeLatestPip = "24.2"

// Mutable environment state, captured by each commit.
type fakeState struct {
	pip       string
	dirs      []string
	staged    *source.Snapshot
	installed map[string]*Link
}

func (s fakeState) clone() fakeState {
	s.dirs = slices.Clone(s.dirs)
	installed := make(map[string]*Link, len(s.installed))
	for k, v := range s.installed {
		installed[k] = v
	}
	s.installed = installed
	return s
}

// In-memory engine session that simulates pip.
type fakeSession struct {
	mu sync.Mutex

	images    map[string]digest.Digest // Known base images.
	state     fakeState                // Current filesystem.
	changes   []string                 // Mutations since the last commit.
	snapshots map[string]fakeState     // Committed filesystems by snapshot name.
	parent    string                   // Last committed snapshot.
	calls     []string                 // Every call, in order.
	execs     [][]string               // Exec arguments, in order.
	exported  *ExportOptions           // Last export, if any.
	failures  map[string]int           // Remaining network failures per pip subcommand.
	block     map[string]bool          // Pip subcommands that hang until cancelled.
	linkRoot  string                   // Overrides the editable location pip reports.
	built     string                   // Overrides the name the build backend computes.
	pullErr   error                    // Returned by every Pull when set.
	closed    bool                     // Whether Close was called.
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		images: map[string]digest.Digest{
			"docker.io/library/python:3.11-slim": digest.FromString("python:3.11-slim"),
		},
		state:     fakeState{pip: "23.0.1", installed: map[string]*Link{}},
		snapshots: map[string]fakeState{},
		failures:  map[string]int{},
		block:     map[string]bool{},
	}
}

func (f *fakeSession) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeSession) Pull(ctx context.Context, ref, platform string) (Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("pull %s", ref)
	if f.pullErr != nil {
		return Image{}, f.pullErr
	}
	dgst, ok := f.images[ref]
	if !ok {
		return Image{}, fmt.Errorf("%w: %s", ErrImageNotFound, ref)
	}
	f.parent = "base-" + dgst.Encoded()[:12]
	f.snapshots[f.parent] = f.state.clone()
	return Image{Ref: ref, Digest: dgst, Platform: platform}, nil
}

func (f *fakeSession) MkdirAll(ctx context.Context, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("mkdir %s", dir)
	f.state.dirs = append(f.state.dirs, dir)
	f.changes = append(f.changes, "mkdir "+dir)
	return nil
}

func (f *fakeSession) Exec(ctx context.Context, args []string, workdir string) (*ExecResult, error) {
	f.mu.Lock()
	f.record("exec %s", strings.Join(args, " "))
	f.execs = append(f.execs, slices.Clone(args))

	if len(args) < 4 || args[1] != "-m" || args[2] != "pip" {
		f.mu.Unlock()
		return &ExecResult{ExitCode: 127, Stderr: args[0] + ": not found"}, nil
	}
	sub := args[3]

	if f.block[sub] {
		f.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	defer f.mu.Unlock()

	if f.failures[sub] > 0 {
		f.failures[sub]--
		return &ExecResult{
			ExitCode: 1,
			Stderr:   "WARNING: Retrying after connection broken by 'NewConnectionError: Failed to establish a new connection: [Errno -3] Temporary failure in name resolution'\n",
		}, nil
	}

	switch sub {
	case "--version":
		return &ExecResult{Stdout: fmt.Sprintf("pip %s from /usr/local/lib/python3.11/site-packages/pip (python 3.11)\n", f.state.pip)}, nil
	case "install":
		return f.install(args[4:], workdir), nil
	case "show":
		return f.show(args[4]), nil
	case "list":
		return f.list(args[4:]), nil
	}
	return &ExecResult{ExitCode: 1, Stderr: "ERROR: unknown command \"" + sub + "\""}, nil
}

func (f *fakeSession) install(args []string, workdir string) *ExecResult {
	switch {
	case slices.Equal(args, []string{"--upgrade", "pip"}):
		f.state.pip = fakeLatestPip
		f.changes = append(f.changes, "pip "+fakeLatestPip)
		return &ExecResult{Stdout: "Successfully installed pip-" + fakeLatestPip + "\n"}
	case len(args) == 1 && strings.HasPrefix(args[0], "pip=="):
		f.state.pip = strings.TrimPrefix(args[0], "pip==")
		f.changes = append(f.changes, "pip "+f.state.pip)
		return &ExecResult{Stdout: "Successfully installed " + args[0] + "\n"}
	case len(args) == 2 && args[0] == "-e":
		return f.installEditable(args[1], workdir)
	}
	return &ExecResult{ExitCode: 2, Stderr: "ERROR: unsupported arguments"}
}

func (f *fakeSession) installEditable(dir, workdir string) *ExecResult {
	if f.state.staged == nil {
		return &ExecResult{ExitCode: 1, Stderr: fmt.Sprintf("ERROR: file:///%s does not appear to be a Python project: neither 'setup.py' nor 'pyproject.toml' found.", dir)}
	}

	pkg, err := metadata.Read(f.state.staged.FS(), dir)
	if err != nil {
		return &ExecResult{ExitCode: 1, Stderr: "ERROR: metadata-generation-failed\n" + err.Error()}
	}

	for _, req := range pkg.Requires {
		name := metadata.RequirementName(req)
		if !fakeIndex[metadata.Normalize(name)] {
			return &ExecResult{
				ExitCode: 1,
				Stderr: fmt.Sprintf("ERROR: Could not find a version that satisfies the requirement %s (from versions: none)\n"+
					"ERROR: No matching distribution found for %s\n", req, name),
			}
		}
	}

	project := path.Join(workdir, dir)
	if f.linkRoot != "" {
		project = f.linkRoot
	}
	// The backend computes what metadata could not resolve.
	name := pkg.Name
	switch {
	case f.built != "":
		name = f.built
	case name == "":
		name = path.Base(project)
	}
	version := pkg.Version
	if version == "" {
		version = "0.0.0"
	}

	f.state.installed[metadata.Normalize(name)] = &Link{
		Name:     name,
		Version:  version,
		Location: "/usr/local/lib/python3.11/site-packages",
		Project:  project,
	}
	f.changes = append(f.changes, "editable "+name+" "+project)
	return &ExecResult{Stdout: "Successfully installed " + name + "-" + version + "\n"}
}

func (f *fakeSession) list(args []string) *ExecResult {
	if !slices.Equal(args, []string{"--editable", "--format=json"}) {
		return &ExecResult{ExitCode: 2, Stderr: "ERROR: unsupported arguments"}
	}

	entries := []map[string]string{}
	for _, link := range f.state.installed {
		entries = append(entries, map[string]string{
			"name":                      link.Name,
			"version":                   link.Version,
			"location":                  link.Location,
			"editable_project_location": link.Project,
		})
	}
	slices.SortFunc(entries, func(a, b map[string]string) int {
		return strings.Compare(a["name"], b["name"])
	})

	out, err := json.Marshal(entries)
	if err != nil {
		return &ExecResult{ExitCode: 1, Stderr: err.Error()}
	}
	return &ExecResult{Stdout: string(out) + "\n"}
}

func (f *fakeSession) show(name string) *ExecResult {
	link, ok := f.state.installed[metadata.Normalize(name)]
	if !ok {
		return &ExecResult{ExitCode: 1, Stderr: "WARNING: Package(s) not found: " + name + "\n"}
	}
	return &ExecResult{Stdout: fmt.Sprintf("Name: %s\nVersion: %s\nSummary: \nLocation: %s\nEditable project location: %s\nRequires: \n",
		link.Name, link.Version, link.Location, link.Project)}
}

func (f *fakeSession) Copy(ctx context.Context, snap *source.Snapshot, dest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("copy %d entries to %s", snap.Len(), dest)
	f.state.staged = snap
	f.changes = append(f.changes, "copy "+snap.Digest().String()+" "+dest)
	return nil
}

func (f *fakeSession) Commit(ctx context.Context, step, command string) (Layer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("commit %s", step)
	diffID := digest.FromString(strings.Join(f.changes, "\n"))
	name := digest.FromString(f.parent + "\x00" + diffID.String()).Encoded()[:12]

	f.snapshots[name] = f.state.clone()
	f.parent = name
	f.changes = nil

	return Layer{
		Step:      step,
		Command:   command,
		MediaType: "application/vnd.oci.image.layer.v1.tar+gzip",
		Digest:    digest.FromString("blob:" + diffID.String()),
		DiffID:    diffID,
		Size:      int64(len(command)),
		Snapshot:  name,
	}, nil
}

func (f *fakeSession) Restore(ctx context.Context, layer Layer) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("restore %s", layer.Step)
	state, ok := f.snapshots[layer.Snapshot]
	if !ok {
		return fmt.Errorf("%w: snapshot %s", ErrCacheMiss, layer.Snapshot)
	}
	f.state = state.clone()
	f.parent = layer.Snapshot
	f.changes = nil
	return nil
}

func (f *fakeSession) Export(ctx context.Context, opts ExportOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("export")
	f.exported = &opts
	return filepath.Join(opts.Output, "image.tar"), nil
}

func (f *fakeSession) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

// Number of exec calls whose pip subcommand is sub.
func (f *fakeSession) execCount(sub string) int {
	n := 0
	for _, args := range f.execs {
		if len(args) > 3 && args[3] == sub {
			n++
		}
	}
	return n
}

// In-memory [Cache].
type memoryCache struct {
	mu      sync.Mutex
	entries map[digest.Digest]*CacheEntry
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[digest.Digest]*CacheEntry{}}
}

func (c *memoryCache) Lookup(ctx context.Context, key digest.Digest) (*CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	copied := *e
	return &copied, nil
}

func (c *memoryCache) Store(ctx context.Context, entry *CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	copied := *entry
	c.entries[entry.Key] = &copied
	return nil
}

func (c *memoryCache) steps() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var steps []string
	for _, e := range c.entries {
		steps = append(steps, e.Step)
	}
	slices.Sort(steps)
	return steps
}
