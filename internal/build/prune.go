package build

import (
	"context"
	"log/slog"
	"time"

	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/cruciblehq/devimg/internal/pipeline"
)

// Cache index operations needed by [Prune].
type PruneIndex interface {
	Prune(ctx context.Context, before time.Time) ([]*pipeline.CacheEntry, error)
}

// Outcome of a prune.
type PruneResult struct {
	Entries   int `json:"entries"`   // Cache entries removed.
	Snapshots int `json:"snapshots"` // Snapshots released.
	Kept      int `json:"kept"`      // Snapshots still referenced by newer layers.
}

// Removes cache entries not used since now-olderThan, then releases their
// snapshots when remover is non-nil.
func Prune(ctx context.Context, idx PruneIndex, remover SnapshotRemover, olderThan time.Duration) (*PruneResult, error) {
	entries, err := idx.Prune(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return nil, crex.Wrap(ErrPrune, err)
	}

	res := &PruneResult{Entries: len(entries)}

	var names []string
	for _, e := range entries {
		if e.Layer.Snapshot != "" {
			names = append(names, e.Layer.Snapshot)
		}
	}

	if remover != nil && len(names) > 0 {
		kept, err := remover.RemoveSnapshots(ctx, names)
		if err != nil {
			return nil, crex.Wrap(ErrPrune, err)
		}
		res.Snapshots = len(names) - kept
		res.Kept = kept
	}

	slog.Info("cache pruned", "entries", res.Entries, "snapshots", res.Snapshots, "kept", res.Kept)
	return res, nil
}
