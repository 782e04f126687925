package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres keeps each collection as one jsonb row of store_collections
// (created by migrations/001_store_collections.sql).
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Backend() string { return "postgres" }

// Load implements Store.
func (p *Postgres) Load(ctx context.Context, name string) ([]json.RawMessage, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `SELECT records FROM store_collections WHERE name = $1`, name).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return []json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load collection %s: %w", name, err)
	}
	return decodeArray(raw), nil
}

// Save implements Store. All collections are upserted in one transaction.
func (p *Postgres) Save(ctx context.Context, collections ...Collection) error {
	encoded := make([][]byte, len(collections))
	for i, c := range collections {
		raw, err := encodeArray(c.Records)
		if err != nil {
			return fmt.Errorf("encode collection %s: %w", c.Name, err)
		}
		encoded[i] = raw
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, c := range collections {
		_, err := tx.Exec(ctx, `
			INSERT INTO store_collections (name, records, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (name) DO UPDATE SET records = EXCLUDED.records, updated_at = NOW()`,
			c.Name, encoded[i])
		if err != nil {
			return fmt.Errorf("save collection %s: %w", c.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Lock implements Store with session-level advisory locks held on a
// dedicated pooled connection until release.
func (p *Postgres) Lock(ctx context.Context, names ...string) (func(), error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrLockTimeout
		}
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	ordered := lockOrder(names)
	held := make([]string, 0, len(ordered))

	unlock := func() {
		// Unlock must run even if the caller's context is already done.
		uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_, _ = conn.Exec(uctx, `SELECT pg_advisory_unlock(hashtext($1))`, held[i])
		}
		conn.Release()
	}

	for _, name := range ordered {
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, name); err != nil {
			unlock()
			if ctx.Err() != nil {
				return nil, ErrLockTimeout
			}
			return nil, fmt.Errorf("lock collection %s: %w", name, err)
		}
		held = append(held, name)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		unlock()
	}, nil
}
