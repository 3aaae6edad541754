// Package redisstore is a cold tier on a Redis server.
package redisstore

import (
	"context"
	"time"

	"github.com/gomodule/redigo/redis"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/retry/transient"

	"github.com/alaamer12/true-storage/internal/storage"
)

// scanBatch is the COUNT hint for SCAN in Clear and Keys.
const scanBatch = 500

// Store implements storage.Backend on Redis.
//
// Every key is stored under prefix + key. Connection failures are tagged
// transient (see go.chromium.org/luci/common/retry/transient); the store does
// not retry on its own.
type Store struct {
	pool   *redis.Pool
	prefix string
	owned  bool
}

var _ storage.ClosableBackend = (*Store)(nil)

// Dial returns a store talking to the server at addr ("host:port").
func Dial(addr, prefix string) *Store {
	pool := &redis.Pool{
		MaxIdle:     8,
		IdleTimeout: 5 * time.Minute,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", addr)
		},
	}
	return &Store{pool: pool, prefix: prefix, owned: true}
}

// Wrap uses an existing pool. Close does not close it.
func Wrap(pool *redis.Pool, prefix string) *Store {
	return &Store{pool: pool, prefix: prefix}
}

func (s *Store) conn(ctx context.Context) (redis.Conn, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, storage.Mark(storage.ErrStorage, transient.Tag.Apply(err), "connecting to redis")
	}
	return conn, nil
}

func (s *Store) do(ctx context.Context, cmd string, args ...any) (any, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return redis.DoContext(conn, ctx, cmd, args...)
}

// Store implements storage.Backend.
func (s *Store) Store(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.do(ctx, "SET", s.prefix+key, value)
	return storage.Mark(storage.ErrStorage, err, "storing %q", key)
}

// Retrieve implements storage.Backend.
func (s *Store) Retrieve(ctx context.Context, key string) ([]byte, error) {
	value, err := redis.Bytes(s.do(ctx, "GET", s.prefix+key))
	switch {
	case errors.Is(err, redis.ErrNil):
		return nil, storage.Reason(storage.ErrNotFound, "key %q", key)
	case err != nil:
		return nil, storage.Mark(storage.ErrStorage, err, "retrieving %q", key)
	}
	return value, nil
}

// Delete implements storage.Backend. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.do(ctx, "DEL", s.prefix+key)
	return storage.Mark(storage.ErrStorage, err, "deleting %q", key)
}

// Clear implements storage.Backend. Only keys under the store's prefix are
// removed.
func (s *Store) Clear(ctx context.Context) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	err = s.scan(ctx, conn, func(keys []string) error {
		args := redis.Args{}.AddFlat(keys)
		_, err := redis.DoContext(conn, ctx, "DEL", args...)
		return err
	})
	return storage.Mark(storage.ErrStorage, err, "clearing %q", s.prefix)
}

// Keys returns the stored keys, without the prefix, in no particular order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var out []string
	err = s.scan(ctx, conn, func(keys []string) error {
		for _, k := range keys {
			out = append(out, k[len(s.prefix):])
		}
		return nil
	})
	if err != nil {
		return nil, storage.Mark(storage.ErrStorage, err, "listing %q", s.prefix)
	}
	return out, nil
}

// scan calls fn with every non-empty batch of keys matching the prefix.
func (s *Store) scan(ctx context.Context, conn redis.Conn, fn func(keys []string) error) error {
	cursor := "0"
	for {
		reply, err := redis.Values(redis.DoContext(conn, ctx, "SCAN", cursor, "MATCH", escapeGlob(s.prefix)+"*", "COUNT", scanBatch))
		if err != nil {
			return err
		}
		var keys []string
		if _, err := redis.Scan(reply, &cursor, &keys); err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if cursor == "0" {
			return nil
		}
	}
}

// Close implements io.Closer. It closes the pool if Dial created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.pool.Close()
}

// escapeGlob escapes the characters SCAN MATCH treats specially.
func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\', c)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
