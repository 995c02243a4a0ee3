package paths

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks", "target.lock")

	first, err := AcquireLock(context.Background(), path)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*lockPollInterval)
	defer cancel()

	if _, err := AcquireLock(ctx, path); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second AcquireLock = %v, want deadline exceeded", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	second, err := AcquireLock(context.Background(), path)
	if err != nil {
		t.Fatalf("AcquireLock after release: %v", err)
	}
	second.Release()
}

func TestAcquireLockWaits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "target.lock")

	held, err := AcquireLock(context.Background(), path)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	go func() {
		time.Sleep(2 * lockPollInterval)
		held.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := AcquireLock(ctx, path)
	if err != nil {
		t.Fatalf("AcquireLock did not wait for release: %v", err)
	}
	l.Release()
}
