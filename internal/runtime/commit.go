package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/containerd/containerd/v2/core/content"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/containerd/v2/core/snapshots"
	"github.com/containerd/containerd/v2/pkg/rootfs"
	"github.com/containerd/errdefs"
	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/cruciblehq/devimg/internal/pipeline"
	"github.com/opencontainers/image-spec/identity"
)

// Records the filesystem changes since the previous commit as one layer.
//
// The container is stopped, the active snapshot is diffed against its parent
// into a compressed layer blob, and the snapshot is committed under the chain
// ID of the resulting layer stack. Blob and snapshot are labelled as GC roots
// so the layer cache can restore them in later sessions. A new container is
// then started on top of the committed snapshot.
func (s *Session) Commit(ctx context.Context, step, command string) (pipeline.Layer, error) {
	ctx = s.leased(ctx)

	if s.ctr == nil {
		return pipeline.Layer{}, ErrNoImage
	}

	if err := s.stop(ctx); err != nil {
		return pipeline.Layer{}, crex.Wrap(ErrRuntime, err)
	}

	sn := s.client.SnapshotService(snapshotter)
	cs := s.client.ContentStore()

	desc, err := rootfs.CreateDiff(ctx, s.active, sn, s.client.DiffService())
	if err != nil {
		return pipeline.Layer{}, crex.Wrap(ErrRuntime, err)
	}

	diffID, err := images.GetDiffID(ctx, cs, desc)
	if err != nil {
		return pipeline.Layer{}, crex.Wrap(ErrRuntime, err)
	}

	chain := append(s.chain[:len(s.chain):len(s.chain)], diffID)
	name := identity.ChainID(chain).String()
	root := gcRoot()

	if err := sn.Commit(ctx, name, s.active, snapshots.WithLabels(root)); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			return pipeline.Layer{}, crex.Wrap(ErrRuntime, err)
		}
		// Identical content was committed by an earlier build.
		if err := sn.Remove(ctx, s.active); err != nil && !errdefs.IsNotFound(err) {
			return pipeline.Layer{}, crex.Wrap(ErrRuntime, err)
		}
	}
	s.active = ""

	if _, err := cs.Update(ctx, content.Info{Digest: desc.Digest, Labels: root}, "labels."+gcRootLabel); err != nil {
		return pipeline.Layer{}, crex.Wrap(ErrRuntime, err)
	}

	s.chain = chain
	s.parent = name

	if err := s.start(ctx); err != nil {
		return pipeline.Layer{}, err
	}

	slog.Debug("layer committed", "step", step, "diffID", diffID, "size", desc.Size, "snapshot", name)

	return pipeline.Layer{
		Step:      step,
		Command:   command,
		MediaType: desc.MediaType,
		Digest:    desc.Digest,
		DiffID:    diffID,
		Size:      desc.Size,
		Snapshot:  name,
	}, nil
}

// Returns the label set marking a resource as a GC root.
func gcRoot() map[string]string {
	return map[string]string{gcRootLabel: time.Now().UTC().Format(time.RFC3339)}
}
