// Package pipeline runs the editable-install build.
//
// A build is a fixed, strictly sequential list of steps:
//
//	base       pull the pinned base image and create the working directory
//	installer  bring pip up to date (latest) or to an exact version (pinned)
//	source     copy the build context into the working directory
//	install    pip install -e against the staged tree and verify the link
//
// Each step takes an [Env] (an immutable handle describing the environment
// built so far) and returns a new one. Side effects go through a [Session],
// which abstracts the container engine; the runtime and dagger packages
// provide implementations, and tests substitute an in-memory fake.
//
// Steps after base commit one layer each, so a successful build yields the
// base layers followed by installer, source, and install layers, in that
// order. Any failure stops the pipeline: the handle moves to [StateFailed],
// nothing is exported, and the error is a [*StepError] that matches one of
// the sentinels in errors.go. Committed layers are recorded in a [Cache]
// keyed by a digest chain, so a later build with the same inputs can restore
// them instead of re-running the step.
//
// Example usage:
//
//	result, err := pipeline.Run(ctx, sess, pipeline.Options{
//	    Config:  cfg,
//	    Context: ".",
//	    Cache:   store,
//	})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(result.Output)
package pipeline
