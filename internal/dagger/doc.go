// Package dagger runs builds on a Dagger engine.
//
// An [Engine] connects to Dagger (starting a local engine through the SDK if
// needed) and opens one [Session] per build. The session holds an immutable
// container value that each successful step replaces; Dagger's own cache
// makes re-running an unchanged step cheap, so the session does not restore
// layers from the devimg layer cache and commits carry no blob digests.
//
// Example usage:
//
//	eng := dagger.New(os.Stderr)
//	sess, err := eng.NewSession(ctx, "build-1", "linux/amd64")
//	if err != nil {
//	    return err
//	}
//	defer sess.Close(ctx)
package dagger
