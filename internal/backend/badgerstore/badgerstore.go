// Package badgerstore is a cold tier on an embedded Badger database.
package badgerstore

import (
	"context"

	"github.com/dgraph-io/badger/v3"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"github.com/alaamer12/true-storage/internal/storage"
)

// Options configures Open.
type Options struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string
	// InMemory keeps the database in memory only.
	InMemory bool
	// Prefix namespaces every key, so several stores can share a database.
	Prefix string
}

// Store implements storage.Backend on Badger.
type Store struct {
	db     *badger.DB
	prefix []byte
	owned  bool
}

var _ storage.ClosableBackend = (*Store)(nil)

// Open opens (or creates) the database described by opts.
//
// Badger's own logs go to the logger in ctx.
func Open(ctx context.Context, opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.WithLogger(logging.Get(ctx))

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, storage.Mark(storage.ErrStorage, err, "opening badger at %q", opts.Dir)
	}
	return &Store{db: db, prefix: []byte(opts.Prefix), owned: true}, nil
}

// Wrap uses an already open database. Close does not close it.
func Wrap(db *badger.DB, prefix string) *Store {
	return &Store{db: db, prefix: []byte(prefix)}
}

func (s *Store) key(k string) []byte {
	out := make([]byte, 0, len(s.prefix)+len(k))
	out = append(out, s.prefix...)
	return append(out, k...)
}

// Store implements storage.Backend.
func (s *Store) Store(ctx context.Context, key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(key), value)
	})
	return storage.Mark(storage.ErrStorage, err, "storing %q", key)
}

// Retrieve implements storage.Backend.
func (s *Store) Retrieve(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, storage.Reason(storage.ErrNotFound, "key %q", key)
	case err != nil:
		return nil, storage.Mark(storage.ErrStorage, err, "retrieving %q", key)
	}
	return value, nil
}

// Delete implements storage.Backend. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(key))
	})
	return storage.Mark(storage.ErrStorage, err, "deleting %q", key)
}

// Clear implements storage.Backend. Only keys under the store's prefix are
// dropped.
func (s *Store) Clear(ctx context.Context) error {
	var err error
	if len(s.prefix) == 0 {
		err = s.db.DropAll()
	} else {
		err = s.db.DropPrefix(s.prefix)
	}
	return storage.Mark(storage.ErrStorage, err, "clearing")
}

// Keys returns the stored keys, without the prefix, in byte order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			out = append(out, string(it.Item().Key()[len(s.prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, storage.Mark(storage.ErrStorage, err, "listing keys")
	}
	return out, nil
}

// Close implements io.Closer. It closes the database if Open opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return storage.Mark(storage.ErrStorage, s.db.Close(), "closing badger")
}
