package cache

import (
	"encoding/base64"
	"encoding/json"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/danjacques/gofslock/fslock"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"github.com/alaamer12/true-storage/internal/storage"
)

// SnapshotEntry is one persisted entry.
//
// On disk a snapshot is a JSON object from key to entry, with the value as
// base64 and times as float seconds since the Unix epoch:
//
//	{"k": {"value": "...", "expire_at": 1700000000.5, "status": "active", "access_count": 3, "last_access": 1699999000.25}}
//
// Keys that are not valid UTF-8, or that start with escapedKeyPrefix, are
// stored under escapedKeyPrefix plus their base64 encoding and carry the
// exact key bytes in a "key" field.
type SnapshotEntry struct {
	Value       []byte
	ExpireAt    time.Time
	Status      Status
	AccessCount int64
	LastAccess  time.Time
}

const escapedKeyPrefix = "base64:"

type snapshotEntryJSON struct {
	Key         []byte  `json:"key,omitempty"`
	Value       []byte  `json:"value"`
	ExpireAt    float64 `json:"expire_at"`
	Status      Status  `json:"status"`
	AccessCount int64   `json:"access_count"`
	LastAccess  float64 `json:"last_access,omitempty"`
}

func encodeSnapshot(entries map[string]SnapshotEntry) ([]byte, error) {
	doc := make(map[string]snapshotEntryJSON, len(entries))
	for k, e := range entries {
		raw := snapshotEntryJSON{
			Value:       e.Value,
			ExpireAt:    toEpoch(e.ExpireAt),
			Status:      e.Status,
			AccessCount: e.AccessCount,
			LastAccess:  toEpoch(e.LastAccess),
		}
		name := k
		if !utf8.ValidString(k) || strings.HasPrefix(k, escapedKeyPrefix) {
			name = escapedKeyPrefix + base64.StdEncoding.EncodeToString([]byte(k))
			raw.Key = []byte(k)
		}
		doc[name] = raw
	}
	return json.Marshal(doc)
}

func decodeSnapshot(data []byte) (map[string]SnapshotEntry, error) {
	var doc map[string]snapshotEntryJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	entries := make(map[string]SnapshotEntry, len(doc))
	for name, raw := range doc {
		key := name
		if raw.Key != nil {
			key = string(raw.Key)
		}
		entries[key] = SnapshotEntry{
			Value:       raw.Value,
			ExpireAt:    fromEpoch(raw.ExpireAt),
			Status:      raw.Status,
			AccessCount: raw.AccessCount,
			LastAccess:  fromEpoch(raw.LastAccess),
		}
	}
	return entries, nil
}

func toEpoch(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func fromEpoch(f float64) time.Time {
	if f == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

// Snapshot writes all unexpired entries to path.
//
// The data goes to a temporary file in the same directory which is then
// renamed over path, so path always holds a complete snapshot. Errors satisfy
// errors.Is(err, storage.ErrPersistence).
func (s *Store) Snapshot(path string) error {
	entries := s.collect()
	if err := writeSnapshot(path, entries); err != nil {
		err = storage.Mark(storage.ErrPersistence, err, "writing snapshot %q", path)
		s.emit(Event{Kind: EventSnapshotFailed, Err: err})
		return err
	}
	s.emit(Event{Kind: EventSnapshot, Count: len(entries)})
	return nil
}

// ReadSnapshot loads a snapshot written by Store.Snapshot.
//
// Errors satisfy errors.Is(err, storage.ErrPersistence); a missing file also
// satisfies errors.Is(err, fs.ErrNotExist).
func ReadSnapshot(path string) (map[string]SnapshotEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, storage.Mark(storage.ErrPersistence, err, "reading snapshot %q", path)
	}
	entries, err := decodeSnapshot(data)
	if err != nil {
		return nil, storage.Mark(storage.ErrPersistence, err, "decoding snapshot %q", path)
	}
	return entries, nil
}

func (s *Store) collect() map[string]SnapshotEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make(map[string]SnapshotEntry, s.table.len())
	s.table.ascend(func(_ int32, n *node) bool {
		if n.expired(now) {
			return true
		}
		out[n.key] = SnapshotEntry{
			Value:       cloneBytes(n.value),
			ExpireAt:    n.expireAt,
			Status:      n.effectiveStatus(now),
			AccessCount: n.accessCount,
			LastAccess:  n.lastAccess,
		}
		return true
	})
	return out
}

func writeSnapshot(path string, entries map[string]SnapshotEntry) (err error) {
	data, err := encodeSnapshot(entries)
	if err != nil {
		return errors.Annotate(err, "encoding").Err()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// open takes the snapshot lock file for the lifetime of the store and
// restores the snapshot if there is one.
//
// The lock keeps a second store (in this or another process) from writing
// the same snapshot.
func (s *Store) open() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return storage.Mark(storage.ErrPersistence, err, "preparing snapshot directory")
	}
	h, err := fslock.Lock(s.path + ".lock")
	switch {
	case err == fslock.ErrLockHeld:
		return storage.Reason(storage.ErrPersistence, "snapshot %q is in use by another store", s.path)
	case err != nil:
		return storage.Mark(storage.ErrPersistence, err, "locking snapshot %q", s.path)
	}
	s.fileLock = h

	if err := s.restore(); err != nil {
		if uerr := h.Unlock(); uerr != nil {
			logging.WithError(uerr).Warningf(s.ctx, "failed to release snapshot lock")
		}
		s.fileLock = nil
		return err
	}
	return nil
}

// restore repopulates the store from its snapshot, oldest access first, so
// recency order survives the restart. Expired entries are skipped and leases
// are dropped: they belonged to the previous process.
func (s *Store) restore() error {
	entries, err := ReadSnapshot(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logging.Debugf(s.ctx, "no snapshot at %q, starting empty", s.path)
		return nil
	case err != nil:
		return err
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := entries[keys[i]].LastAccess, entries[keys[j]].LastAccess
		if !a.Equal(b) {
			return a.Before(b)
		}
		return keys[i] < keys[j]
	})

	s.mu.Lock()
	defer s.unlock()

	now := s.now()
	restored, skipped := 0, 0
	for _, k := range keys {
		se := entries[k]
		if now.After(se.ExpireAt) {
			skipped++
			continue
		}
		if s.table.len() >= s.maxSize {
			s.evictLocked()
		}
		s.table.pushBack(entry{
			key:         k,
			value:       se.Value,
			expireAt:    se.ExpireAt,
			status:      Active,
			accessCount: se.AccessCount,
			lastAccess:  se.LastAccess,
		})
		restored++
	}
	logging.Infof(s.ctx, "restored %d entries from %q, skipped %d expired", restored, s.path, skipped)
	return nil
}
