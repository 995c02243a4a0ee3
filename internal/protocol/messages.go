package protocol

import (
	"errors"

	"github.com/cruciblehq/devimg/internal/config"
	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/cruciblehq/devimg/internal/pipeline"
)

// Payload of [CmdBuild].
type BuildRequest struct {
	ID      string         `json:"id,omitempty"`      // Build identifier, generated by the daemon when empty.
	Context string         `json:"context"`           // Absolute build context path on the daemon host.
	Config  *config.Config `json:"config"`            // Fully resolved build configuration.
	NoCache bool           `json:"noCache,omitempty"` // Skip layer cache lookups.
}

// Reply to a successful [CmdBuild].
type BuildResult struct {
	Output string       `json:"output"` // Path of the exported archive.
	Env    pipeline.Env `json:"env"`    // Final environment handle.
}

// Reply to [CmdStatus].
type StatusResult struct {
	Running bool   `json:"running"` // Always true when the daemon answers.
	Version string `json:"version"` // Daemon version string.
	Pid     int    `json:"pid"`     // Daemon process ID.
	Uptime  string `json:"uptime"`  // Time since the daemon started.
	Engine  string `json:"engine"`  // Engine the daemon builds with.
	Builds  int    `json:"builds"`  // Builds completed successfully.
	Failed  int    `json:"failed"`  // Builds that failed.
	Active  int    `json:"active"`  // Builds in progress.
}

// Reply to a failed command.
type ErrorResult struct {
	Message string         `json:"message"`         // Human-readable error.
	Kind    string         `json:"kind,omitempty"`  // Error class, see [ErrorKind].
	Step    string         `json:"step,omitempty"`  // Failing pipeline step.
	State   pipeline.State `json:"state,omitempty"` // State the failing step started in.
}

// Error classes, checked in order.
var kinds = []struct {
	name string
	err  error
}{
	{"image-not-found", pipeline.ErrImageNotFound},
	{"network", pipeline.ErrNetwork},
	{"upgrade", pipeline.ErrUpgrade},
	{"io", pipeline.ErrIO},
	{"dependency-resolution", pipeline.ErrDependencyResolution},
	{"metadata", pipeline.ErrMetadata},
	{"runtime", pipeline.ErrRuntime},
	{"export", pipeline.ErrExport},
	{"unpinned-base", config.ErrUnpinnedBase},
	{"config", config.ErrInvalidConfig},
}

// Returns the error class name of err, or "" when it has none.
func ErrorKind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}

// Describes err for the wire.
func NewErrorResult(err error) *ErrorResult {
	res := &ErrorResult{Message: err.Error(), Kind: ErrorKind(err)}

	var stepErr *pipeline.StepError
	if errors.As(err, &stepErr) {
		res.Step = stepErr.Step
		res.State = stepErr.State
	}
	return res
}

// Rebuilds an error matching the sentinel named by Kind.
func (r *ErrorResult) Err() error {
	for _, k := range kinds {
		if k.name == r.Kind {
			return crex.Wrapf(k.err, "%s", r.Message)
		}
	}
	return errors.New(r.Message)
}
