package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL   = 30 * time.Second
	lockRetryBackoff = 25 * time.Millisecond
)

// releaseScript deletes a lock key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis keeps each collection as a JSON array string under
// "<prefix>:collection:<name>" and implements Lock with SET NX tokens, so
// several server processes can share one store.
type Redis struct {
	client  goredis.UniversalClient
	prefix  string
	lockTTL time.Duration
}

// NewRedis wraps a connected client. An empty prefix defaults to "clinic".
func NewRedis(client goredis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "clinic"
	}
	return &Redis{client: client, prefix: prefix, lockTTL: defaultLockTTL}
}

// NewRedisFromURL parses a redis:// URL, connects and pings.
func NewRedisFromURL(ctx context.Context, url, prefix string) (*Redis, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedis(client, prefix), nil
}

func (r *Redis) Backend() string { return "redis" }

// Close closes the underlying client.
func (r *Redis) Close() error { return r.client.Close() }

// Ping checks the connection for the health endpoint.
func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *Redis) collectionKey(name string) string {
	return r.prefix + ":collection:" + name
}

func (r *Redis) lockKey(name string) string {
	return r.prefix + ":lock:" + name
}

// Load implements Store.
func (r *Redis) Load(ctx context.Context, name string) ([]json.RawMessage, error) {
	raw, err := r.client.Get(ctx, r.collectionKey(name)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return []json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load collection %s: %w", name, err)
	}
	return decodeArray(raw), nil
}

// Save implements Store inside a MULTI/EXEC transaction.
func (r *Redis) Save(ctx context.Context, collections ...Collection) error {
	encoded := make([][]byte, len(collections))
	for i, c := range collections {
		raw, err := encodeArray(c.Records)
		if err != nil {
			return fmt.Errorf("encode collection %s: %w", c.Name, err)
		}
		encoded[i] = raw
	}

	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, c := range collections {
			pipe.Set(ctx, r.collectionKey(c.Name), encoded[i], 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save collections: %w", err)
	}
	return nil
}

// Lock implements Store. Each lock carries a TTL so a crashed holder cannot
// wedge the collection forever.
func (r *Redis) Lock(ctx context.Context, names ...string) (func(), error) {
	ordered := lockOrder(names)
	token := uuid.NewString()
	held := make([]string, 0, len(ordered))

	unlock := func() {
		uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = releaseScript.Run(uctx, r.client, []string{r.lockKey(held[i])}, token).Err()
		}
	}

	for _, name := range ordered {
		if err := r.acquire(ctx, r.lockKey(name), token); err != nil {
			unlock()
			return nil, err
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

func (r *Redis) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(lockRetryBackoff)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.lockTTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ErrLockTimeout
			}
			return fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ErrLockTimeout
		case <-ticker.C:
		}
	}
}
