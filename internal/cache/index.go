package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/cruciblehq/devimg/internal/paths"
	"github.com/cruciblehq/devimg/internal/pipeline"
	_ "github.com/mattn/go-sqlite3"
	"github.com/opencontainers/go-digest"
)

//go:embed schema.sql
var schemaSQL string

// Current schema version, recorded in PRAGMA user_version.
const schemaVersion = 1

// SQLite-backed [pipeline.Cache].
type Index struct {
	db  *sql.DB
	now func() time.Time // Clock, replaced in tests.
}

var _ pipeline.Cache = (*Index)(nil)

// Opens or creates the index at path, creating parent directories.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), paths.DefaultDirMode); err != nil {
		return nil, crex.Wrap(ErrOpen, err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, crex.Wrap(ErrOpen, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, crex.Wrap(ErrOpen, err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := setup(db); err != nil {
		db.Close()
		return nil, crex.Wrap(ErrOpen, err)
	}

	return &Index{db: db, now: time.Now}, nil
}

func setup(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	return err
}

// Closes the database.
func (x *Index) Close() error {
	if x.db == nil {
		return nil
	}
	return x.db.Close()
}

// Returns the entry stored under key and marks it as used.
//
// Returns [pipeline.ErrCacheMiss] when there is none.
func (x *Index) Lookup(ctx context.Context, key digest.Digest) (*pipeline.CacheEntry, error) {
	row := x.db.QueryRowContext(ctx,
		`SELECT key, step, layer, env, created_at, used_at FROM layers WHERE key = ?`,
		key.String(),
	)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pipeline.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	now := x.now().UTC()
	if _, err := x.db.ExecContext(ctx, `UPDATE layers SET used_at = ? WHERE key = ?`, now.UnixNano(), key.String()); err != nil {
		return nil, crex.Wrap(ErrQuery, err)
	}
	entry.UsedAt = now

	return entry, nil
}

// Inserts entry, replacing the layer and handle of an existing entry with the
// same key. The original creation time is kept.
func (x *Index) Store(ctx context.Context, entry *pipeline.CacheEntry) error {
	layer, err := json.Marshal(entry.Layer)
	if err != nil {
		return crex.Wrap(ErrCorrupt, err)
	}
	env, err := json.Marshal(entry.Env)
	if err != nil {
		return crex.Wrap(ErrCorrupt, err)
	}

	now := x.now().UTC().UnixNano()
	created := now
	if !entry.CreatedAt.IsZero() {
		created = entry.CreatedAt.UnixNano()
	}

	_, err = x.db.ExecContext(ctx, `
		INSERT INTO layers (key, step, snapshot, layer, env, created_at, used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			step = excluded.step,
			snapshot = excluded.snapshot,
			layer = excluded.layer,
			env = excluded.env,
			used_at = excluded.used_at`,
		entry.Key.String(), entry.Step, entry.Layer.Snapshot, string(layer), string(env), created, now,
	)
	if err != nil {
		return crex.Wrap(ErrQuery, err)
	}
	return nil
}

// Returns every entry, least recently used first.
func (x *Index) List(ctx context.Context) ([]*pipeline.CacheEntry, error) {
	return x.query(ctx, `SELECT key, step, layer, env, created_at, used_at FROM layers ORDER BY used_at ASC, key ASC`)
}

// Removes entries last used before the cutoff and returns them.
//
// The caller is responsible for releasing the snapshots the returned layers
// reference.
func (x *Index) Prune(ctx context.Context, before time.Time) ([]*pipeline.CacheEntry, error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, crex.Wrap(ErrQuery, err)
	}
	defer tx.Rollback()

	cutoff := before.UTC().UnixNano()
	rows, err := tx.QueryContext(ctx,
		`SELECT key, step, layer, env, created_at, used_at FROM layers WHERE used_at < ? ORDER BY used_at ASC, key ASC`,
		cutoff,
	)
	if err != nil {
		return nil, crex.Wrap(ErrQuery, err)
	}
	entries, err := collect(rows)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM layers WHERE used_at < ?`, cutoff); err != nil {
		return nil, crex.Wrap(ErrQuery, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, crex.Wrap(ErrQuery, err)
	}
	return entries, nil
}

func (x *Index) query(ctx context.Context, q string, args ...any) ([]*pipeline.CacheEntry, error) {
	rows, err := x.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, crex.Wrap(ErrQuery, err)
	}
	return collect(rows)
}

// Scans and closes rows.
func collect(rows *sql.Rows) ([]*pipeline.CacheEntry, error) {
	defer rows.Close()

	var entries []*pipeline.CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, crex.Wrap(ErrQuery, err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*pipeline.CacheEntry, error) {
	var (
		key, step, layer, env string
		created, used         int64
	)
	if err := s.Scan(&key, &step, &layer, &env, &created, &used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, crex.Wrap(ErrQuery, err)
	}

	entry := &pipeline.CacheEntry{
		Key:       digest.Digest(key),
		Step:      step,
		CreatedAt: time.Unix(0, created).UTC(),
		UsedAt:    time.Unix(0, used).UTC(),
	}
	if err := json.Unmarshal([]byte(layer), &entry.Layer); err != nil {
		return nil, crex.Wrapf(ErrCorrupt, "%s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(env), &entry.Env); err != nil {
		return nil, crex.Wrapf(ErrCorrupt, "%s: %w", key, err)
	}
	return entry, nil
}
