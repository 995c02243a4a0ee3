// Package cache persists the layer cache index in SQLite.
//
// Each row maps a step's chain key to the layer the step committed and the
// environment handle it returned. The index implements [pipeline.Cache]; the
// layers themselves stay in the engine's snapshot store, so a row whose
// snapshot has been garbage collected simply misses on restore.
//
// The database runs in WAL mode with a single connection, which lets the
// daemon and a foreground build share the file.
//
// Example usage:
//
//	idx, err := cache.Open(paths.CacheDB())
//	if err != nil {
//	    return err
//	}
//	defer idx.Close()
//
//	stale, err := idx.Prune(ctx, time.Now().Add(-7*24*time.Hour))
package cache
