// Wraps errors under package-level sentinels.
//
// Every package in devimg declares its failure classes as sentinel errors in
// an errors.go file. Wrap and Wrapf attach a cause to a sentinel so callers
// can test for the class with [errors.Is] while the message still carries the
// underlying detail.
//
//	if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
//	    return crex.Wrap(ErrIO, err)
//	}
package crex
