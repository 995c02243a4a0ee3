package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/leases"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/oci"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/cruciblehq/devimg/internal/pipeline"
	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/identity"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// A build environment backed by containerd.
//
// The session keeps one running container at a time. Its root filesystem is
// an active snapshot on top of the last committed layer; each commit turns
// the active snapshot into a committed one and starts a fresh container on
// top of it.
type Session struct {
	client   *containerd.Client          // Containerd client.
	id       string                      // Build ID, prefix for container and snapshot keys.
	platform string                      // OCI platform (e.g., "linux/amd64").
	lease    string                      // Lease protecting intermediate resources.
	release  func(context.Context) error // Releases the lease.
	image    containerd.Image            // Pulled base image.
	chain    []digest.Digest             // Diff IDs of the base and committed layers.
	parent   string                      // Committed snapshot under the active one.
	active   string                      // Active snapshot key.
	ctr      containerd.Container        // Running build container.
	seq      int                         // Counter for container and snapshot keys.
}

var (
	_ pipeline.Session  = (*Session)(nil)
	_ pipeline.Restorer = (*Session)(nil)
)

// Attaches the session lease to ctx.
func (s *Session) leased(ctx context.Context) context.Context {
	if s.lease == "" {
		return ctx
	}
	return leases.WithLease(ctx, s.lease)
}

// Pulls and unpacks the base image, then starts the build container.
//
// A reference the registry does not know is reported as
// [pipeline.ErrImageNotFound] and other registry failures as
// [pipeline.ErrNetwork]. Failures after the image is fetched are engine
// faults ([ErrRuntime]).
func (s *Session) Pull(ctx context.Context, ref, platform string) (pipeline.Image, error) {
	ctx = s.leased(ctx)

	p, err := platforms.Parse(platform)
	if err != nil {
		return pipeline.Image{}, crex.Wrap(ErrRuntime, err)
	}

	img, err := s.client.Pull(ctx, ref,
		containerd.WithPullUnpack,
		containerd.WithPullSnapshotter(snapshotter),
		containerd.WithPlatformMatcher(platforms.Only(p)),
	)
	if err != nil {
		return pipeline.Image{}, classifyPull(ref, err)
	}

	diffIDs, err := img.RootFS(ctx)
	if err != nil {
		return pipeline.Image{}, crex.Wrap(ErrRuntime, err)
	}

	s.platform = platforms.Format(p)
	s.image = img
	s.chain = diffIDs
	s.parent = identity.ChainID(diffIDs).String()

	if err := s.start(ctx); err != nil {
		return pipeline.Image{}, err
	}

	slog.Debug("base image ready", "ref", ref, "digest", img.Target().Digest, "layers", len(diffIDs))

	return pipeline.Image{
		Ref:      ref,
		Digest:   img.Target().Digest,
		Platform: s.platform,
	}, nil
}

// Maps a pull failure to the pipeline's error classes.
func classifyPull(ref string, err error) error {
	if errdefs.IsNotFound(err) || isAccessDenied(err) {
		return crex.Wrapf(pipeline.ErrImageNotFound, "%s: %w", ref, err)
	}
	return crex.Wrapf(pipeline.ErrNetwork, "pull %s: %w", ref, err)
}

// Registries answer an unknown repository with an authorization error rather
// than a 404.
func isAccessDenied(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "pull access denied") ||
		strings.Contains(msg, "insufficient_scope") ||
		strings.Contains(msg, "repository does not exist")
}

// Prepares an active snapshot on the current parent and starts a container
// with a long-running task (sleep infinity) on it.
func (s *Session) start(ctx context.Context) error {
	if s.image == nil {
		return ErrNoImage
	}

	s.seq++
	s.active = fmt.Sprintf("devimg/%s/%d", s.id, s.seq)

	sn := s.client.SnapshotService(snapshotter)
	if _, err := sn.Prepare(ctx, s.active, s.parent); err != nil {
		return crex.Wrap(ErrRuntime, err)
	}

	ctr, err := s.client.NewContainer(ctx, containerID(s.id, s.seq),
		containerd.WithImage(s.image),
		containerd.WithSnapshotter(snapshotter),
		containerd.WithSnapshot(s.active),
		containerd.WithRuntime(ociRuntime, nil),
		containerd.WithNewSpec(
			oci.WithDefaultSpecForPlatform(s.platform),
			oci.WithImageConfig(s.image),
			oci.WithHostNamespace(specs.NetworkNamespace),
			oci.WithHostResolvconf,
			oci.WithProcessArgs("sleep", "infinity"),
		),
	)
	if err != nil {
		sn.Remove(ctx, s.active)
		return crex.Wrap(ErrRuntime, err)
	}

	if err := startTask(ctx, ctr); err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return crex.Wrap(ErrRuntime, err)
	}

	s.ctr = ctr
	return nil
}

// Starts the container's long-running task with no attached IO.
func startTask(ctx context.Context, ctr containerd.Container) error {
	task, err := ctr.NewTask(ctx, cio.NullIO)
	if err != nil {
		return err
	}
	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		return err
	}
	return nil
}

// Kills the running task and deletes the container, keeping its snapshot.
func (s *Session) stop(ctx context.Context) error {
	if s.ctr == nil {
		return nil
	}

	if task, err := s.ctr.Task(ctx, nil); err == nil {
		task.Kill(ctx, syscall.SIGKILL)
		if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
			return err
		}
	}

	if err := s.ctr.Delete(ctx); err != nil && !errdefs.IsNotFound(err) {
		return err
	}

	s.ctr = nil
	return nil
}

// Replaces the build filesystem with a committed step snapshot.
//
// The snapshot must sit directly on the current chain and its layer blob
// must still be in the content store; otherwise [pipeline.ErrCacheMiss] is
// returned and the session is left untouched.
func (s *Session) Restore(ctx context.Context, layer pipeline.Layer) error {
	ctx = s.leased(ctx)

	if s.image == nil {
		return ErrNoImage
	}

	chain := append(s.chain[:len(s.chain):len(s.chain)], layer.DiffID)
	if identity.ChainID(chain).String() != layer.Snapshot {
		return crex.Wrapf(pipeline.ErrCacheMiss, "snapshot %s is not on the current chain", layer.Snapshot)
	}

	if _, err := s.client.SnapshotService(snapshotter).Stat(ctx, layer.Snapshot); err != nil {
		if errdefs.IsNotFound(err) {
			return crex.Wrap(pipeline.ErrCacheMiss, err)
		}
		return crex.Wrap(ErrRuntime, err)
	}

	if _, err := s.client.ContentStore().Info(ctx, layer.Digest); err != nil {
		if errdefs.IsNotFound(err) {
			return crex.Wrap(pipeline.ErrCacheMiss, err)
		}
		return crex.Wrap(ErrRuntime, err)
	}

	if err := s.discard(ctx); err != nil {
		return crex.Wrap(ErrRuntime, err)
	}

	s.chain = chain
	s.parent = layer.Snapshot

	return s.start(ctx)
}

// Stops the container and removes the active snapshot.
func (s *Session) discard(ctx context.Context) error {
	if err := s.stop(ctx); err != nil {
		return err
	}
	if s.active != "" {
		err := s.client.SnapshotService(snapshotter).Remove(ctx, s.active)
		if err != nil && !errdefs.IsNotFound(err) {
			return err
		}
		s.active = ""
	}
	return nil
}

// Destroys the build container and releases the session lease.
//
// Committed snapshots are kept; they belong to the layer cache.
func (s *Session) Close(ctx context.Context) error {
	err := s.discard(s.leased(ctx))
	if err != nil {
		slog.Warn("failed to clean up build container", "id", s.id, "error", err)
	}

	if s.release != nil {
		if rerr := s.release(ctx); rerr != nil && err == nil {
			err = rerr
		}
	}

	if err != nil {
		return crex.Wrap(ErrRuntime, err)
	}
	return nil
}

// Produces a containerd container ID for the n-th container of a build.
func containerID(id string, n int) string {
	return fmt.Sprintf("devimg-%s-%d", id, n)
}
