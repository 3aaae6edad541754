package cache

import (
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/tsmon/field"
	"go.chromium.org/luci/common/tsmon/metric"
)

var (
	opsCounter = metric.NewCounter(
		"truestorage/cache/operations",
		"Number of cache operations, by operation and result.",
		nil,
		field.String("op"),     // get | set | delete | lock
		field.String("result"), // hit | miss | busy | ok
	)

	evictionsCounter = metric.NewCounter(
		"truestorage/cache/evictions",
		"Number of entries dropped without an explicit delete, by reason.",
		nil,
		field.String("reason"), // lru | expired | optimize
	)

	snapshotsCounter = metric.NewCounter(
		"truestorage/cache/snapshots",
		"Number of snapshot attempts, by result.",
		nil,
		field.String("result"), // success | failure
	)
)

// EventKind identifies what happened to the store.
type EventKind int

const (
	// EventEvicted is an LRU eviction on overflow.
	EventEvicted EventKind = iota + 1
	// EventExpired is a TTL removal, either lazy or by the sweep.
	EventExpired
	// EventDropped is a removal by Retain.
	EventDropped
	// EventSwept is emitted once per sweep; Count holds the number of
	// entries the sweep removed.
	EventSwept
	// EventSnapshot is a successful snapshot; Count holds the entry count.
	EventSnapshot
	// EventSnapshotFailed carries the snapshot error in Err.
	EventSnapshotFailed
)

func (k EventKind) String() string {
	switch k {
	case EventEvicted:
		return "evicted"
	case EventExpired:
		return "expired"
	case EventDropped:
		return "dropped"
	case EventSwept:
		return "swept"
	case EventSnapshot:
		return "snapshot"
	case EventSnapshotFailed:
		return "snapshot-failed"
	}
	return "unknown"
}

// Event is a structured notification about store maintenance.
type Event struct {
	Kind  EventKind
	Key   string
	Count int
	Err   error
}

// noteLocked queues ev for dispatch once the mutex is released.
func (s *Store) noteLocked(ev Event) {
	s.pending = append(s.pending, ev)
}

// unlock releases the write lock and dispatches queued events.
func (s *Store) unlock() {
	evs := s.pending
	s.pending = nil
	s.mu.Unlock()
	s.emit(evs...)
}

func (s *Store) emit(evs ...Event) {
	for _, ev := range evs {
		switch ev.Kind {
		case EventEvicted:
			evictionsCounter.Add(s.ctx, 1, "lru")
			s.debugf("evicted %q (least recently used)", ev.Key)
		case EventExpired:
			evictionsCounter.Add(s.ctx, 1, "expired")
			s.debugf("expired %q", ev.Key)
		case EventDropped:
			evictionsCounter.Add(s.ctx, 1, "optimize")
			s.debugf("dropped %q while retaining most accessed entries", ev.Key)
		case EventSnapshot:
			snapshotsCounter.Add(s.ctx, 1, "success")
			s.debugf("snapshot of %d entries written", ev.Count)
		case EventSnapshotFailed:
			snapshotsCounter.Add(s.ctx, 1, "failure")
		}
		if s.onEvent != nil {
			s.onEvent(ev)
		}
	}
}

func (s *Store) debugf(format string, args ...any) {
	if s.verbose {
		logging.Debugf(s.ctx, format, args...)
	}
}
