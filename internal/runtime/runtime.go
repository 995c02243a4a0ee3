package runtime

import (
	"context"
	"fmt"
	"log/slog"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/leases"
	"github.com/containerd/errdefs"
	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/cruciblehq/devimg/internal/pipeline"
)

const (

	// Snapshotter used for build filesystems.
	snapshotter = "overlayfs"

	// OCI runtime shim for running containers.
	ociRuntime = "io.containerd.runc.v2"

	// Label that exempts content and snapshots from garbage collection.
	gcRootLabel = "containerd.io/gc.root"
)

// Manages the containerd client and opens build sessions.
type Runtime struct {
	client *containerd.Client // Containerd client for managing containers and images.
}

// Creates a runtime connected to the containerd socket at the given address.
//
// The namespace scopes all containerd operations to a single tenant. The
// runtime must be closed when no longer needed.
func New(address, namespace string) (*Runtime, error) {
	client, err := containerd.New(address, containerd.WithDefaultNamespace(namespace))
	if err != nil {
		return nil, crex.Wrap(ErrRuntime, err)
	}
	return &Runtime{client: client}, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Opens a build session for the given build ID and platform.
//
// The session holds a containerd lease for its lifetime, so intermediate
// content and active snapshots are released when it closes. Committed step
// layers are labelled as GC roots and outlive the session until pruned.
func (rt *Runtime) NewSession(ctx context.Context, id, platform string) (pipeline.Session, error) {
	lctx, done, err := rt.client.WithLease(ctx)
	if err != nil {
		return nil, crex.Wrap(ErrRuntime, err)
	}

	lease, _ := leases.FromContext(lctx)
	slog.Debug("session opened", "id", id, "lease", lease, "platform", platform)

	return &Session{
		client:   rt.client,
		id:       id,
		platform: platform,
		lease:    lease,
		release:  done,
	}, nil
}

// Removes committed step snapshots.
//
// Snapshots that no longer exist are skipped. A snapshot that still has
// children (a later step committed on top of it) is left in place and
// reported in the returned count of kept snapshots.
func (rt *Runtime) RemoveSnapshots(ctx context.Context, names []string) (kept int, err error) {
	sn := rt.client.SnapshotService(snapshotter)

	// Children are committed after their parents, so removing in reverse
	// order frees parents whose children are also being pruned.
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		if name == "" {
			continue
		}
		err := sn.Remove(ctx, name)
		switch {
		case err == nil, errdefs.IsNotFound(err):
		case errdefs.IsFailedPrecondition(err):
			slog.Debug("snapshot still referenced", "snapshot", name)
			kept++
		default:
			return kept, crex.Wrap(ErrRuntime, fmt.Errorf("remove snapshot %s: %w", name, err))
		}
	}
	return kept, nil
}
