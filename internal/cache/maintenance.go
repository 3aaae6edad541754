package cache

import (
	"runtime/debug"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
)

// maintenanceLoop periodically removes expired entries and, when a backup is
// due, writes a snapshot.
//
// The wait goes through the store's clock and is interrupted by Close
// cancelling the store context, so shutdown does not wait out an interval.
// A failing pass is logged and the loop keeps going.
func (s *Store) maintenanceLoop() {
	defer s.wg.Done()

	logging.Debugf(s.ctx, "cleanup worker started, interval %s", s.cleanupEvery)
	defer logging.Debugf(s.ctx, "cleanup worker stopped")

	for {
		if tr := <-clock.After(s.ctx, s.cleanupEvery); tr.Incomplete() {
			return
		}
		if err := s.maintain(); err != nil {
			logging.WithError(err).Errorf(s.ctx, "cache maintenance pass failed")
		}
	}
}

// maintain runs one sweep and a snapshot if one is due.
//
// A panic in the pass is converted into an error so the loop survives it.
func (s *Store) maintain() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Reason("panic in maintenance: %v\n%s", r, debug.Stack()).Err()
		}
	}()

	removed := s.sweep()
	if removed > 0 {
		s.debugf("sweep removed %d expired entries", removed)
	}

	if s.path == "" || s.backupEvery <= 0 {
		return nil
	}
	now := s.now()
	if now.Sub(s.lastBackup) < s.backupEvery {
		return nil
	}
	s.lastBackup = now
	if err := s.Snapshot(s.path); err != nil {
		// Best effort: the store stays available, the next due backup retries.
		logging.WithError(err).Warningf(s.ctx, "periodic snapshot failed")
	}
	return nil
}

// sweep removes every expired entry and returns how many it removed.
func (s *Store) sweep() int {
	s.mu.Lock()
	defer s.unlock()

	removed := s.deleteExpiredLocked(s.now())
	s.noteLocked(Event{Kind: EventSwept, Count: removed})
	return removed
}
