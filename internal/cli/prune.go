package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cruciblehq/devimg/internal/build"
	"github.com/cruciblehq/devimg/internal/cache"
	"github.com/cruciblehq/devimg/internal/config"
	"github.com/cruciblehq/devimg/internal/paths"
)

// Represents the 'devimg prune' command.
type PruneCmd struct {
	OlderThan     time.Duration `default:"168h" help:"Remove entries not used within this duration." placeholder:"DURATION"`
	KeepSnapshots bool          `help:"Only remove index entries, leaving engine snapshots in place."`
}

// Executes the prune command.
//
// Entries are removed from the cache index first; the containerd snapshots
// they pinned are then released unless a newer layer still builds on them.
func (c *PruneCmd) Run(ctx context.Context) error {
	idx, err := cache.Open(paths.CacheDB())
	if err != nil {
		return err
	}
	defer idx.Close()

	var remover build.SnapshotRemover
	if !c.KeepSnapshots {
		files := []string{paths.ConfigFile()}
		if RootCmd.Config != "" {
			files = append(files, RootCmd.Config)
		}
		cfg, err := config.Load(files...)
		if err != nil {
			return err
		}

		engine, err := build.OpenEngine(cfg, io.Discard)
		if err != nil {
			return err
		}
		defer engine.Close()

		remover, _ = engine.(build.SnapshotRemover)
	}

	res, err := build.Prune(ctx, idx, remover, c.OlderThan)
	if err != nil {
		return err
	}

	fmt.Printf("removed %d entries, released %d snapshots (%d still in use)\n", res.Entries, res.Snapshots, res.Kept)
	return nil
}
