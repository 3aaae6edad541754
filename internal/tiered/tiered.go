// Package tiered composes a hot in-memory cache with a durable cold backend.
//
// Writes go to both tiers (write-through). Reads are served from the hot tier
// and fall back to the cold tier, copying the value back into the hot tier
// on the way out (read-through). Since every write reaches the cold tier, the
// hot tier can drop entries at any time without losing data.
package tiered

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/tsmon/field"
	"go.chromium.org/luci/common/tsmon/metric"

	"github.com/alaamer12/true-storage/internal/cache"
	"github.com/alaamer12/true-storage/internal/storage"
)

// warmUpParallelism bounds concurrent cold fetches in WarmUp.
const warmUpParallelism = 8

var readsCounter = metric.NewCounter(
	"truestorage/tiered/reads",
	"Number of tiered reads, by the tier that answered.",
	nil,
	field.String("tier"), // hot | cold | miss
)

// Store is a two-tier key/value store.
//
// Its mutex only sequences the tier-to-tier steps of a write or a read-through
// so concurrent callers can't interleave them; the hot tier has its own
// locking.
type Store struct {
	mu   sync.Mutex
	hot  *cache.Store
	cold storage.Backend

	stats Stats
}

var _ storage.Backend = (*Store)(nil)

// Stats counts which tier answered reads.
type Stats struct {
	Hot      cache.Stats
	HotHits  int64
	ColdHits int64
	Misses   int64
}

// New composes hot and cold. The caller keeps ownership of both.
func New(hot *cache.Store, cold storage.Backend) *Store {
	return &Store{hot: hot, cold: cold}
}

// Hot is the hot tier.
func (s *Store) Hot() *cache.Store {
	return s.hot
}

// Cold is the cold tier.
func (s *Store) Cold() storage.Backend {
	return s.cold
}

// Store writes value to both tiers.
//
// If the hot write fails (e.g. storage.ErrBusy) nothing is written. If the
// cold write fails the key is dropped from the hot tier again, so the hot
// tier never holds a value the cold tier lacks.
func (s *Store) Store(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.hot.Set(key, value); err != nil {
		return errors.Annotate(err, "hot tier").Err()
	}
	if err := s.cold.Store(ctx, key, value); err != nil {
		s.hot.Delete(key)
		return errors.Annotate(err, "cold tier").Err()
	}
	return nil
}

// Retrieve reads key, trying the hot tier first.
//
// A cold hit is copied into the hot tier before returning. A key found in
// neither tier yields storage.ErrNotFound. A key leased in the hot tier
// yields storage.ErrBusy; the cold tier is not consulted.
func (s *Store) Retrieve(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok, err := s.hot.Get(key)
	switch {
	case err != nil:
		return nil, err
	case ok:
		s.stats.HotHits++
		readsCounter.Add(ctx, 1, "hot")
		return v, nil
	}

	v, err = s.cold.Retrieve(ctx, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.stats.Misses++
		readsCounter.Add(ctx, 1, "miss")
		return nil, err
	case err != nil:
		return nil, errors.Annotate(err, "cold tier").Err()
	}

	s.stats.ColdHits++
	readsCounter.Add(ctx, 1, "cold")
	if err := s.hot.Set(key, v); err != nil {
		// The value is still good; the hot tier just doesn't keep it.
		logging.WithError(err).Warningf(ctx, "failed to repopulate hot tier with %q", key)
	}
	return v, nil
}

// Delete removes key from both tiers.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hot.Delete(key)
	if err := s.cold.Delete(ctx, key); err != nil {
		return errors.Annotate(err, "cold tier").Err()
	}
	return nil
}

// Clear empties both tiers. Both are attempted even if one fails.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var merr errors.MultiError
	if err := s.hot.Clear(); err != nil {
		merr = append(merr, errors.Annotate(err, "hot tier").Err())
	}
	if err := s.cold.Clear(ctx); err != nil {
		merr = append(merr, errors.Annotate(err, "cold tier").Err())
	}
	return merr.AsError()
}

// WarmUp loads keys from the cold tier into the hot tier and returns how
// many were loaded.
//
// Keys are fetched concurrently and inserted in the order given, so with
// more keys than the hot tier holds, later keys evict earlier ones as usual.
// Keys missing from the cold tier and keys leased in the hot tier are
// skipped. Any other cold failure aborts the warm-up before anything is
// inserted.
//
// Writes and deletes wait for the warm-up to finish, so a value fetched from
// the cold tier never replaces a newer one in the hot tier.
func (s *Store) WarmUp(ctx context.Context, keys []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := make([][]byte, len(keys))
	found := make([]bool, len(keys))

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(warmUpParallelism)
	for i, key := range keys {
		eg.Go(func() error {
			v, err := s.cold.Retrieve(ectx, key)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				return nil
			case err != nil:
				return errors.Annotate(err, "warming up %q", key).Err()
			}
			values[i], found[i] = v, true
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}

	loaded := 0
	for i, key := range keys {
		if !found[i] {
			logging.Debugf(ctx, "warm-up: %q is not in the cold tier", key)
			continue
		}
		switch err := s.hot.Set(key, values[i]); {
		case errors.Is(err, storage.ErrBusy):
			logging.Debugf(ctx, "warm-up: %q is locked in the hot tier", key)
			continue
		case err != nil:
			return loaded, errors.Annotate(err, "warming up %q", key).Err()
		}
		loaded++
	}
	return loaded, nil
}

// Optimize keeps only the hot tier's capacity worth of most accessed entries
// and returns how many it dropped. Dropped entries stay in the cold tier.
func (s *Store) Optimize() int {
	return s.OptimizeTo(s.hot.Capacity())
}

// OptimizeTo is Optimize with an explicit number of entries to keep.
func (s *Store) OptimizeTo(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hot.Retain(n)
}

// Stats returns the read counters and the hot tier's own stats.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.Hot = s.hot.Stats()
	return st
}
