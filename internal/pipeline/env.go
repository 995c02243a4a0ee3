package pipeline

import (
	"slices"

	"github.com/cruciblehq/devimg/internal/metadata"
	"github.com/opencontainers/go-digest"
)

// Handle describing the environment built so far.
//
// Env is a value. Steps receive a copy and return a new one; the slice is
// cloned before it is extended, so earlier handles are never affected by
// later steps.
type Env struct {
	ID        string            `json:"id"`                  // Build identifier.
	State     State             `json:"state"`               // Current pipeline state.
	FailedAt  State             `json:"failedAt,omitempty"`  // Originating state when State is failed.
	Base      Image             `json:"base"`                // Resolved base image.
	Workdir   string            `json:"workdir,omitempty"`   // Working directory inside the image.
	Installer string            `json:"installer,omitempty"` // Installed pip version.
	Source    digest.Digest     `json:"source,omitempty"`    // Digest of the staged source tree.
	Files     int               `json:"files,omitempty"`     // Number of staged entries.
	Package   *metadata.Package `json:"package,omitempty"`   // Declared package metadata.
	Link      *Link             `json:"link,omitempty"`      // Editable registration reported by pip.
	Layers    []Layer           `json:"layers,omitempty"`    // Layers committed on top of the base, in order.
	CacheKey  digest.Digest     `json:"cacheKey,omitempty"`  // Chain key of the last completed step.
}

// Resolved base image.
type Image struct {
	Ref      string        `json:"ref"`              // Reference as pulled.
	Digest   digest.Digest `json:"digest,omitempty"` // Manifest or index digest.
	Platform string        `json:"platform"`         // Platform the image was resolved for.
}

// Layer committed by a step.
type Layer struct {
	Step      string        `json:"step"`                // Step that produced the layer.
	Command   string        `json:"command"`             // Instruction recorded in the image history.
	MediaType string        `json:"mediaType,omitempty"` // Layer blob media type.
	Digest    digest.Digest `json:"digest,omitempty"`    // Compressed blob digest.
	DiffID    digest.Digest `json:"diffID,omitempty"`    // Uncompressed content digest.
	Size      int64         `json:"size,omitempty"`      // Blob size in bytes.
	Snapshot  string        `json:"snapshot,omitempty"`  // Engine snapshot holding the committed filesystem.
	Cached    bool          `json:"cached,omitempty"`    // Whether the layer was restored from the cache.
}

// Editable registration of the project package.
type Link struct {
	Name     string `json:"name"`              // Distribution name reported by pip.
	Version  string `json:"version,omitempty"` // Installed version.
	Location string `json:"location"`          // Site-packages directory holding the link.
	Project  string `json:"project"`           // Editable project location; the staged tree.
}

// Creates the handle for a build that has not started.
func NewEnv(id string) Env {
	return Env{ID: id, State: StateStart}
}

// Returns a copy that shares no mutable state with the receiver.
func (e Env) clone() Env {
	e.Layers = slices.Clone(e.Layers)
	return e
}

// Returns a copy with layer appended.
func (e Env) withLayer(layer Layer) Env {
	next := e.clone()
	next.Layers = append(next.Layers, layer)
	return next
}

// Returns a copy marked as failed from the receiver's state.
func (e Env) fail() Env {
	next := e.clone()
	next.FailedAt = e.State
	next.State = StateFailed
	return next
}

// Returns the layer committed by the named step, if any.
func (e Env) Layer(step string) (Layer, bool) {
	for _, l := range e.Layers {
		if l.Step == step {
			return l, true
		}
	}
	return Layer{}, false
}
