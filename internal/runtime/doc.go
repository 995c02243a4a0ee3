// Package runtime runs builds against containerd.
//
// A [Runtime] connects to a containerd daemon and opens one [Session] per
// build. A session pulls and unpacks the base image for the target platform
// and keeps a single build container running on an active snapshot. Commands
// are executed inside it as additional task processes, and source trees are
// copied in as tar streams.
//
// Each [Session.Commit] diffs the active snapshot into a layer blob, commits
// the snapshot under the chain ID of the layer stack, and restarts the
// container on top of it. Blobs and committed snapshots carry a GC root
// label, so the layer cache can [Session.Restore] them in a later build.
// [Session.Export] appends the committed layers to the base manifest and
// writes an OCI archive, optionally tagging the result in the image store.
//
// Everything else a session creates is held by a containerd lease and
// released on Close.
//
// Example usage:
//
//	rt, err := runtime.New("/run/containerd/containerd.sock", "devimg")
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	sess, err := rt.NewSession(ctx, "build-1", "linux/amd64")
//	if err != nil {
//	    return err
//	}
//	defer sess.Close(ctx)
//
//	result, err := pipeline.Run(ctx, sess, pipeline.Options{Config: cfg, Context: "."})
package runtime
