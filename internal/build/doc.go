// Package build ties a configured build to an engine.
//
// [Run] takes the exclusive lock for the build target, opens an engine
// session, runs the pipeline, and always closes the session, so the build
// container and its active snapshot never outlive the build. [OpenEngine]
// selects containerd or Dagger from the configuration, and [Prune] expires
// layer cache entries together with the snapshots they reference.
//
// Example usage:
//
//	eng, err := build.OpenEngine(cfg, os.Stderr)
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	result, err := build.Run(ctx, eng, build.Options{
//	    Config:  cfg,
//	    Context: ".",
//	    Cache:   idx,
//	})
//	if err != nil {
//	    return err
//	}
package build
