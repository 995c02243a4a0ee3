package paths

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cruciblehq/devimg/internal/crex"
	"golang.org/x/sys/unix"
)

// How often a blocked [AcquireLock] retries.
const lockPollInterval = 100 * time.Millisecond

var ErrLock = errors.New("cannot acquire lock")

// Exclusive advisory lock on a file.
//
// The lock is held on an open file description, so two acquisitions conflict
// even within a single process.
type Lock struct {
	f *os.File
}

// Acquires an exclusive lock on path, creating the file and its directory if
// needed. Blocks until the lock is free or ctx is done.
func AcquireLock(ctx context.Context, path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), DefaultDirMode); err != nil {
		return nil, crex.Wrap(ErrLock, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, DefaultFileMode)
	if err != nil {
		return nil, crex.Wrap(ErrLock, err)
	}

	waiting := false
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &Lock{f: f}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			f.Close()
			return nil, crex.Wrap(ErrLock, err)
		}

		if !waiting {
			slog.Info("waiting for lock", "path", path)
			waiting = true
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// Releases the lock. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil

	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		f.Close()
		return crex.Wrap(ErrLock, err)
	}
	return f.Close()
}
