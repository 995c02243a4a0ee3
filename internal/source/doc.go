// Package source captures the build context as a staged snapshot.
//
// A [Snapshot] is the ordered set of files, directories, and symlinks under
// a build context root, optionally filtered by docker-style ignore patterns.
// The walk is lexical, so two snapshots of identical trees list identical
// entries. Each snapshot carries a content digest computed from entry paths,
// modes, and file contents (modification times and ownership are ignored),
// which identifies the tree for layer caching and determinism checks.
//
// A snapshot streams itself as a tar archive for copying into a container,
// and exposes a filtered [fs.FS] view so that readers see exactly the files
// that were staged.
//
// Example usage:
//
//	snap, err := source.Open(".", []string{".git", ".venv"}, "")
//	if err != nil {
//	    return err
//	}
//
//	pr, pw := io.Pipe()
//	go func() { pw.CloseWithError(snap.WriteTar(pw)) }()
//	err = ctr.CopyTo(ctx, pr, "/app")
package source
