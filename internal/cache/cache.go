package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/danjacques/gofslock/fslock"
	"github.com/google/uuid"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"github.com/alaamer12/true-storage/internal/storage"
)

// ErrClosed is returned by mutations on a store after Close.
var ErrClosed = errors.New("cache is closed")

// stopTimeout bounds how long Close waits for the background worker.
const stopTimeout = 5 * time.Second

// Store is a concurrency-safe in-memory key/value store with TTL, LRU
// eviction, lease locks and optional snapshots.
//
// A single mutex guards the entry table and all bookkeeping. The lock
// manager, the background sweep and snapshot collection all go through it,
// so every operation is linearized.
//
// Ownership model:
// Store owns its background goroutine and the snapshot lock file. Call Close
// to stop the former and release the latter.
type Store struct {
	mu sync.RWMutex

	table   *table
	maxSize int
	ttl     time.Duration
	pending []Event // events queued under mu, dispatched by unlock
	stats   Stats
	closed  bool

	// Immutable after New.
	id      string
	verbose bool
	onEvent func(Event)
	path    string

	// Goroutine ownership.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cleanupEvery time.Duration
	backupEvery  time.Duration
	lastBackup   time.Time // owned by the worker goroutine

	fileLock fslock.Handle
}

// Stats is a point-in-time summary of store activity.
type Stats struct {
	Size        int
	Capacity    int
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
}

// New constructs a store, restores its snapshot (if configured and present)
// and starts background maintenance (if enabled).
//
// The context supplies the logger and clock for the lifetime of the store.
// A snapshot that exists but cannot be read fails construction with an error
// satisfying errors.Is(err, storage.ErrPersistence).
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Annotate(err, "invalid cache config").Err()
	}

	id := uuid.NewString()
	ctx = logging.SetField(ctx, "store", id)
	ctx, cancel := context.WithCancel(ctx)

	s := &Store{
		table:        newTable(cfg.MaxSize),
		maxSize:      cfg.MaxSize,
		ttl:          cfg.ExpirationTime,
		stats:        Stats{Capacity: cfg.MaxSize},
		id:           id,
		verbose:      cfg.EnableLogging,
		onEvent:      cfg.OnEvent,
		path:         cfg.PersistencePath,
		ctx:          ctx,
		cancel:       cancel,
		cleanupEvery: cfg.CleanupInterval,
		backupEvery:  cfg.BackupInterval,
	}

	if s.path != "" {
		if err := s.open(); err != nil {
			cancel()
			return nil, err
		}
	}
	s.lastBackup = s.now()

	if s.cleanupEvery > 0 {
		s.wg.Add(1)
		go s.maintenanceLoop()
	}

	return s, nil
}

// ID is a random identifier of this store instance, also attached to its logs.
func (s *Store) ID() string {
	return s.id
}

// Capacity is the configured maximum number of entries.
func (s *Store) Capacity() int {
	return s.maxSize
}

// Close stops the background worker, flushes a final snapshot and releases
// the snapshot file.
//
// The worker is given a bounded amount of time to exit; the final snapshot
// is written either way. Close is safe to call multiple times; only the first
// call reports the snapshot error.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	// Cancel outside the lock so shutdown doesn't block readers/writers.
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	// Wall clock on purpose: the bound must hold whatever clock the store runs on.
	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logging.Errorf(s.ctx, "cleanup worker did not stop within %s", stopTimeout)
	}

	if s.path == "" {
		return nil
	}
	err := s.Snapshot(s.path)
	if s.fileLock != nil {
		if uerr := s.fileLock.Unlock(); uerr != nil {
			logging.WithError(uerr).Warningf(s.ctx, "failed to release snapshot lock")
		}
	}
	return err
}

// Set writes/overwrites a key with the default TTL.
func (s *Store) Set(key string, value []byte) error {
	return s.SetTTL(key, value, 0)
}

// SetTTL writes/overwrites a key.
//
// ttl <= 0 means the store's default TTL. Writing resets the access count and
// makes the entry the most recently used one. If the store is full and key is
// new, the least recently used entry is evicted first. Writing a key held by
// an unexpired lease fails with storage.ErrBusy.
func (s *Store) SetTTL(key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}

	s.mu.Lock()
	defer s.unlock()

	if s.closed {
		return ErrClosed
	}

	now := s.now()
	e := entry{
		key:        key,
		value:      cloneBytes(value),
		expireAt:   now.Add(ttl),
		status:     Active,
		lastAccess: now,
	}

	if ref, ok := s.table.lookup(key); ok {
		n := s.table.at(ref)
		if n.leased(now) {
			opsCounter.Add(s.ctx, 1, "set", "busy")
			return storage.Reason(storage.ErrBusy, "set %q: locked until %s", key, n.lockExpire)
		}
		n.entry = e
		s.table.moveToBack(ref)
		opsCounter.Add(s.ctx, 1, "set", "ok")
		s.debugf("set %q, expires at %s", key, e.expireAt)
		return nil
	}

	if s.table.len() >= s.maxSize {
		s.evictLocked()
	}
	s.table.pushBack(e)
	opsCounter.Add(s.ctx, 1, "set", "ok")
	s.debugf("set %q, expires at %s", key, e.expireAt)
	return nil
}

// Get reads a key.
//
// A missing or expired key reports ok == false and no error; expired keys are
// removed on the spot. A key held by an unexpired lease fails with
// storage.ErrBusy. A hit makes the entry the most recently used one, bumps
// its access count and clears a lapsed lease.
//
// The returned slice is a copy owned by the caller.
func (s *Store) Get(key string) (value []byte, ok bool, err error) {
	s.mu.Lock()
	defer s.unlock()

	now := s.now()
	ref, found := s.table.lookup(key)
	if !found {
		s.stats.Misses++
		opsCounter.Add(s.ctx, 1, "get", "miss")
		return nil, false, nil
	}

	n := s.table.at(ref)
	if n.expired(now) {
		s.expireLocked(ref)
		s.stats.Misses++
		opsCounter.Add(s.ctx, 1, "get", "miss")
		return nil, false, nil
	}
	if n.leased(now) {
		opsCounter.Add(s.ctx, 1, "get", "busy")
		return nil, false, storage.Reason(storage.ErrBusy, "get %q: locked until %s", key, n.lockExpire)
	}
	if n.status == Locked {
		n.status = Active
		n.lockExpire = time.Time{}
		s.debugf("lease on %q lapsed", key)
	}

	n.accessCount++
	n.lastAccess = now
	s.table.moveToBack(ref)
	s.stats.Hits++
	opsCounter.Add(s.ctx, 1, "get", "hit")
	return cloneBytes(n.value), true, nil
}

// GetOr is Get that substitutes def on a miss.
func (s *Store) GetOr(key string, def []byte) ([]byte, error) {
	v, ok, err := s.Get(key)
	switch {
	case err != nil:
		return nil, err
	case !ok:
		return def, nil
	}
	return v, nil
}

// Fetch is Get that reports a miss as storage.ErrNotFound.
func (s *Store) Fetch(key string) ([]byte, error) {
	v, ok, err := s.Get(key)
	switch {
	case err != nil:
		return nil, err
	case !ok:
		return nil, storage.Reason(storage.ErrNotFound, "key %q", key)
	}
	return v, nil
}

// Contains reports whether key is resident and unexpired. It does not count
// as a use of the entry.
func (s *Store) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.table.lookup(key)
	return ok && !s.table.at(ref).expired(s.now())
}

// Delete removes a key if present and reports whether it was. It is
// idempotent and ignores leases. A closed store deletes nothing.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.unlock()

	if s.closed {
		return false
	}
	return s.deleteLocked(key)
}

// Remove is Delete that reports an absent key as storage.ErrNotFound.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.deleteLocked(key) {
		return storage.Reason(storage.ErrNotFound, "key %q", key)
	}
	return nil
}

// Clear empties the store.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.unlock()

	if s.closed {
		return ErrClosed
	}
	s.table.reset()
	s.debugf("cleared")
	return nil
}

// Len returns the number of resident, unexpired entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	count := 0
	s.table.ascend(func(_ int32, n *node) bool {
		if !n.expired(now) {
			count++
		}
		return true
	})
	return count
}

// Keys returns unexpired keys in MRU -> LRU order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]string, 0, s.table.len())
	s.table.descend(func(_ int32, n *node) bool {
		if !n.expired(now) {
			out = append(out, n.key)
		}
		return true
	})
	return out
}

// Item is a key and a copy of its value.
type Item struct {
	Key   string
	Value []byte
}

// Items returns the unexpired entries, most recently used first. Like Keys it
// doesn't count as a use and includes leased entries.
func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]Item, 0, s.table.len())
	s.table.descend(func(_ int32, n *node) bool {
		if !n.expired(now) {
			out = append(out, Item{Key: n.key, Value: cloneBytes(n.value)})
		}
		return true
	})
	return out
}

// Values returns the values of Items, in the same order.
func (s *Store) Values() [][]byte {
	items := s.Items()
	out := make([][]byte, len(items))
	for i, it := range items {
		out[i] = it.Value
	}
	return out
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.stats
	st.Size = s.table.len()
	return st
}

// Retain keeps at most n entries, choosing those with the highest access
// count (ties keep the more recently used entry), and drops the rest along
// with every expired entry. It returns the number of entries removed.
//
// Retained entries keep their relative recency order.
func (s *Store) Retain(n int) int {
	if n < 0 {
		n = 0
	}

	s.mu.Lock()
	defer s.unlock()

	removed := s.deleteExpiredLocked(s.now())

	type candidate struct {
		ref   int32
		count int64
		rank  int // higher is more recently used
	}
	cands := make([]candidate, 0, s.table.len())
	s.table.ascend(func(ref int32, nd *node) bool {
		cands = append(cands, candidate{ref: ref, count: nd.accessCount, rank: len(cands)})
		return true
	})
	if len(cands) <= n {
		return removed
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].count != cands[j].count {
			return cands[i].count > cands[j].count
		}
		return cands[i].rank > cands[j].rank
	})
	for _, c := range cands[n:] {
		e := s.table.remove(c.ref)
		s.noteLocked(Event{Kind: EventDropped, Key: e.key})
		removed++
	}
	return removed
}

func (s *Store) now() time.Time {
	return clock.Now(s.ctx)
}

func (s *Store) deleteLocked(key string) bool {
	ref, ok := s.table.lookup(key)
	if !ok {
		opsCounter.Add(s.ctx, 1, "delete", "miss")
		return false
	}
	s.table.remove(ref)
	opsCounter.Add(s.ctx, 1, "delete", "ok")
	s.debugf("deleted %q", key)
	return true
}

// evictLocked drops the least recently used entry.
func (s *Store) evictLocked() {
	ref, ok := s.table.front()
	if !ok {
		return
	}
	e := s.table.remove(ref)
	s.stats.Evictions++
	s.noteLocked(Event{Kind: EventEvicted, Key: e.key})
}

func (s *Store) expireLocked(ref int32) {
	e := s.table.remove(ref)
	s.stats.Expirations++
	s.noteLocked(Event{Kind: EventExpired, Key: e.key})
}

// deleteExpiredLocked removes all expired keys.
//
// This is O(n) and intentionally simple. A min-heap on expiry would make the
// sweep cheaper at the cost of extra bookkeeping on every write.
func (s *Store) deleteExpiredLocked(now time.Time) int {
	removed := 0
	s.table.ascend(func(ref int32, n *node) bool {
		if n.expired(now) {
			s.expireLocked(ref)
			removed++
		}
		return true
	})
	return removed
}
