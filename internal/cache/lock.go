package cache

import (
	"time"
)

// Lock places a lease of duration d on key.
//
// It fails (returns false) if the key is absent or expired, if it already
// holds an unexpired lease, if d is not positive or if the store is closed.
// Lock never blocks; callers treat false as "currently busy" and retry.
//
// While the lease holds, Get and Set on the key fail with storage.ErrBusy.
// There is no timer behind the lease: it lapses on the first access after it
// expires.
func (s *Store) Lock(key string, d time.Duration) bool {
	if d <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.unlock()

	if s.closed {
		return false
	}

	now := s.now()
	ref, ok := s.table.lookup(key)
	if !ok {
		opsCounter.Add(s.ctx, 1, "lock", "miss")
		return false
	}
	n := s.table.at(ref)
	if n.expired(now) {
		s.expireLocked(ref)
		opsCounter.Add(s.ctx, 1, "lock", "miss")
		return false
	}
	if n.leased(now) {
		opsCounter.Add(s.ctx, 1, "lock", "busy")
		return false
	}

	n.status = Locked
	n.lockExpire = now.Add(d)
	opsCounter.Add(s.ctx, 1, "lock", "ok")
	s.debugf("locked %q until %s", key, n.lockExpire)
	return true
}

// Unlock releases a lease before it expires. It reports whether key held an
// unexpired lease. Expired entries are expired as on any other access.
func (s *Store) Unlock(key string) bool {
	s.mu.Lock()
	defer s.unlock()

	if s.closed {
		return false
	}

	now := s.now()
	ref, ok := s.table.lookup(key)
	if !ok {
		return false
	}
	n := s.table.at(ref)
	if n.expired(now) {
		s.expireLocked(ref)
		return false
	}
	held := n.leased(now)
	n.status = Active
	n.lockExpire = time.Time{}
	return held
}

// Metadata returns bookkeeping for key without counting as a use.
//
// The reported status is the effective one: Expired if the TTL has passed
// (the entry is still resident until swept or read), Active if a lease has
// lapsed. The entry itself is not modified.
func (s *Store) Metadata(key string) (Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.table.lookup(key)
	if !ok {
		return Metadata{}, false
	}
	return s.table.at(ref).metadata(s.now()), true
}
