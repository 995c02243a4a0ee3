package internal

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const (

	// Program name, used for the CLI, logger group, and directory names.
	Name = "devimg"

	// Version reported by builds without linker flags.
	localVersion = "(local)"

	// Branch whose builds carry no stage suffix.
	mainBranch = "main"
)

var (
	version   = "" // Release version (e.g., "1.2.3"), set via -ldflags -X.
	stage     = "" // Git branch the release was built from.
	gitCommit = "" // Git commit hash.
)

// Identifies the running binary.
type BuildInfo struct {
	Version string // Release version without a "v" prefix, or "(local)".
	Stage   string // Branch the release was built from.
	Commit  string // Git commit hash, when known.
	Dirty   bool   // Whether a local build had uncommitted changes.
	Arch    string // GOARCH of the binary.
	Go      string // Go toolchain version.
}

// Returns the identity of the running binary.
//
// Release builds set version, stage and commit through linker flags. When
// any of them is missing the build is local, and the commit is taken from
// the VCS stamp the Go toolchain embeds, if present.
func Info() BuildInfo {
	info := BuildInfo{Arch: runtime.GOARCH, Go: runtime.Version()}

	v := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(version)), "v")
	s := strings.ToLower(strings.TrimSpace(stage))
	c := strings.TrimSpace(gitCommit)

	if v != "" && s != "" && c != "" {
		info.Version, info.Stage, info.Commit = v, s, c
		return info
	}

	info.Version = localVersion
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range bi.Settings {
			switch setting.Key {
			case "vcs.revision":
				info.Commit = setting.Value
			case "vcs.modified":
				info.Dirty = setting.Value == "true"
			}
		}
	}
	return info
}

// Whether the binary was built without release linker flags.
func (b BuildInfo) Local() bool {
	return b.Version == localVersion
}

// Formats the identity as "<version>+<stage> <commit> [<arch>]".
//
// Main-branch releases omit the stage. Local builds print "(local)",
// followed by a short commit when the toolchain recorded one.
func (b BuildInfo) String() string {
	if b.Local() {
		if b.Commit == "" {
			return localVersion
		}
		commit := b.Commit
		if len(commit) > 12 {
			commit = commit[:12]
		}
		if b.Dirty {
			commit += "-dirty"
		}
		return fmt.Sprintf("%s %s", localVersion, commit)
	}

	s := ""
	if b.Stage != mainBranch {
		s = "+" + b.Stage
	}
	return fmt.Sprintf("%s%s %s [%s]", b.Version, s, b.Commit, b.Arch)
}

// Returns [Info] formatted for display.
func VersionString() string {
	return Info().String()
}
