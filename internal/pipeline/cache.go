package pipeline

import (
	"context"
	"time"

	"github.com/opencontainers/go-digest"
)

// Index of committed step layers.
//
// Lookup returns [ErrCacheMiss] when no entry exists for key. Store replaces
// any existing entry with the same key.
type Cache interface {
	Lookup(ctx context.Context, key digest.Digest) (*CacheEntry, error)
	Store(ctx context.Context, entry *CacheEntry) error
}

// Outcome of a completed step, addressed by its chain key.
type CacheEntry struct {
	Key       digest.Digest // Chain key of the step.
	Step      string        // Step name.
	Layer     Layer         // Layer committed by the step.
	Env       Env           // Handle returned by the step, including Layer.
	CreatedAt time.Time     // When the entry was first stored.
	UsedAt    time.Time     // When the entry was last stored or looked up.
}

// Derives the cache key of a step from its parent's key.
//
// Two steps share a key only when every step before them ran with the same
// inputs, so a hit is valid for the whole chain.
func ChainKey(parent digest.Digest, step, fingerprint string) digest.Digest {
	return digest.FromString(parent.String() + "\x00" + step + "\x00" + fingerprint)
}
