package source

import (
	"io/fs"
	"os"
)

// Returns a read-only view of the build context restricted to staged paths.
//
// Excluded paths report [fs.ErrNotExist], so metadata readers observe the
// same tree the container receives.
func (s *Snapshot) FS() fs.FS {
	return &snapshotFS{snap: s, base: os.DirFS(s.root)}
}

type snapshotFS struct {
	snap *Snapshot
	base fs.FS
}

func (f *snapshotFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if name != "." && !f.snap.Contains(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return f.base.Open(name)
}
