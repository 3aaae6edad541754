package cache

import (
	"time"

	"go.chromium.org/luci/common/errors"
)

// Status is the lifecycle state of an entry.
type Status int

const (
	// Active entries are readable and writable.
	Active Status = iota
	// Locked entries reject reads and writes until their lease expires.
	Locked
	// Expired entries are past their TTL and are never returned.
	Expired
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Locked:
		return "locked"
	case Expired:
		return "expired"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "active":
		*s = Active
	case "locked":
		*s = Locked
	case "expired":
		*s = Expired
	default:
		return errors.Reason("unknown entry status %q", string(b)).Err()
	}
	return nil
}

// entry is the value stored in a table node.
// The key is kept here because eviction starts from nodes, not from the index.
type entry struct {
	key         string
	value       []byte
	expireAt    time.Time
	lockExpire  time.Time // zero when not locked
	status      Status
	accessCount int64
	lastAccess  time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expireAt)
}

// leased reports whether the entry holds an unexpired lease.
func (e *entry) leased(now time.Time) bool {
	return e.status == Locked && now.Before(e.lockExpire)
}

// effectiveStatus is the status the entry would have on its next access.
func (e *entry) effectiveStatus(now time.Time) Status {
	switch {
	case e.expired(now):
		return Expired
	case e.leased(now):
		return Locked
	}
	return Active
}

// Metadata is a read-only view of an entry's bookkeeping.
type Metadata struct {
	Key         string
	Status      Status
	AccessCount int64
	ExpireAt    time.Time
	LockExpire  time.Time
	LastAccess  time.Time
	Size        int
}

func (e *entry) metadata(now time.Time) Metadata {
	md := Metadata{
		Key:         e.key,
		Status:      e.effectiveStatus(now),
		AccessCount: e.accessCount,
		ExpireAt:    e.expireAt,
		LastAccess:  e.lastAccess,
		Size:        len(e.value),
	}
	if md.Status == Locked {
		md.LockExpire = e.lockExpire
	}
	return md
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
