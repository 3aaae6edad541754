package cache

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.chromium.org/luci/common/clock/testclock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"

	"github.com/alaamer12/true-storage/internal/storage"
)

func TestSnapshot(t *testing.T) {
	t.Parallel()

	ftt.Run("snapshots", t, func(t *ftt.Test) {
		ctx, tc := testclock.UseTime(context.Background(), testEpoch)
		dir := t.TempDir()
		path := filepath.Join(dir, "state", "cache.json")

		cfg := testConfig(10)
		cfg.PersistencePath = path

		t.Run("round trip through Close and New", func(t *ftt.Test) {
			s, err := New(ctx, cfg)
			assert.Loosely(t, err, should.BeNil)
			mustSet(t, s, "a", "1")
			tc.Add(time.Second)
			mustSet(t, s, "b", "2")
			tc.Add(time.Second)
			mustSet(t, s, "c", "3")
			tc.Add(time.Second)
			s.Get("a")
			s.Get("a")
			assert.Loosely(t, s.Lock("c", time.Hour), should.BeTrue)
			assert.Loosely(t, s.Close(), should.BeNil)

			s2, err := New(ctx, cfg)
			assert.Loosely(t, err, should.BeNil)
			defer s2.Close()

			assert.Loosely(t, s2.Keys(), should.Match([]string{"a", "c", "b"}))

			md, ok := s2.Metadata("a")
			assert.Loosely(t, ok, should.BeTrue)
			assert.That(t, md.AccessCount, should.Equal(int64(2)))
			assert.That(t, md.ExpireAt, should.Match(testEpoch.Add(time.Minute)))

			t.Run("leases do not survive a restart", func(t *ftt.Test) {
				v, ok, err := s2.Get("c")
				assert.Loosely(t, err, should.BeNil)
				assert.Loosely(t, ok, should.BeTrue)
				assert.Loosely(t, v, should.Match([]byte("3")))
			})
		})

		t.Run("expired entries are not restored", func(t *ftt.Test) {
			s, err := New(ctx, cfg)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, s.SetTTL("short", []byte("v"), 5*time.Second), should.BeNil)
			mustSet(t, s, "long", "v")
			assert.Loosely(t, s.Close(), should.BeNil)

			tc.Add(10 * time.Second)
			s2, err := New(ctx, cfg)
			assert.Loosely(t, err, should.BeNil)
			defer s2.Close()

			assert.Loosely(t, s2.Keys(), should.Match([]string{"long"}))
		})

		t.Run("restore respects capacity", func(t *ftt.Test) {
			s, err := New(ctx, cfg)
			assert.Loosely(t, err, should.BeNil)
			for _, k := range []string{"a", "b", "c", "d"} {
				mustSet(t, s, k, k)
				tc.Add(time.Second)
			}
			assert.Loosely(t, s.Close(), should.BeNil)

			small := cfg
			small.MaxSize = 2
			s2, err := New(ctx, small)
			assert.Loosely(t, err, should.BeNil)
			defer s2.Close()

			assert.Loosely(t, s2.Keys(), should.Match([]string{"d", "c"}))
		})

		t.Run("file format", func(t *ftt.Test) {
			s, err := New(ctx, cfg)
			assert.Loosely(t, err, should.BeNil)
			mustSet(t, s, "k", "v")
			assert.Loosely(t, s.Close(), should.BeNil)

			raw, err := os.ReadFile(path)
			assert.Loosely(t, err, should.BeNil)
			var doc map[string]map[string]any
			assert.Loosely(t, json.Unmarshal(raw, &doc), should.BeNil)
			assert.That(t, doc["k"]["value"], should.Equal[any]("dg=="))
			assert.That(t, doc["k"]["status"], should.Equal[any]("active"))
			assert.That(t, doc["k"]["expire_at"], should.Equal[any](float64(testEpoch.Add(time.Minute).Unix())))

			entries, err := ReadSnapshot(path)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, entries["k"].Value, should.Match([]byte("v")))
			assert.Loosely(t, entries["k"].LastAccess.Equal(testEpoch), should.BeTrue)
		})

		t.Run("binary keys round trip", func(t *ftt.Test) {
			keys := []string{"bin\xff\xfekey", "bin\xff\xfdkey", "base64:plain", "plain"}
			s, err := New(ctx, cfg)
			assert.Loosely(t, err, should.BeNil)
			for i, k := range keys {
				mustSet(t, s, k, k)
				tc.Add(time.Duration(i+1) * time.Second)
			}
			assert.Loosely(t, s.Close(), should.BeNil)

			entries, err := ReadSnapshot(path)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, entries, should.HaveLength(4))

			s2, err := New(ctx, cfg)
			assert.Loosely(t, err, should.BeNil)
			defer s2.Close()
			for _, k := range keys {
				v, ok, err := s2.Get(k)
				assert.Loosely(t, err, should.BeNil)
				assert.Loosely(t, ok, should.BeTrue, truth.Explain("%q", k))
				assert.Loosely(t, v, should.Match([]byte(k)))
			}
		})

		t.Run("no temporary files are left behind", func(t *ftt.Test) {
			s, err := New(ctx, cfg)
			assert.Loosely(t, err, should.BeNil)
			mustSet(t, s, "k", "v")
			assert.Loosely(t, s.Snapshot(path), should.BeNil)
			assert.Loosely(t, s.Close(), should.BeNil)

			names, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp-*"))
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, names, should.BeEmpty)
		})

		t.Run("corrupt snapshot fails New", func(t *ftt.Test) {
			assert.Loosely(t, os.MkdirAll(filepath.Dir(path), 0o755), should.BeNil)
			assert.Loosely(t, os.WriteFile(path, []byte("{not json"), 0o644), should.BeNil)

			_, err := New(ctx, cfg)
			assert.Loosely(t, err, should.ErrLike(storage.ErrPersistence))

			t.Run("and releases the lock", func(t *ftt.Test) {
				assert.Loosely(t, os.Remove(path), should.BeNil)
				s, err := New(ctx, cfg)
				assert.Loosely(t, err, should.BeNil)
				assert.Loosely(t, s.Close(), should.BeNil)
			})
		})

		t.Run("a second store on the same path is rejected", func(t *ftt.Test) {
			s, err := New(ctx, cfg)
			assert.Loosely(t, err, should.BeNil)
			defer s.Close()

			_, err = New(ctx, cfg)
			assert.Loosely(t, err, should.ErrLike(storage.ErrPersistence))
			assert.Loosely(t, err, should.ErrLike("in use by another store"))
		})

		t.Run("ReadSnapshot on a missing file", func(t *ftt.Test) {
			_, err := ReadSnapshot(filepath.Join(dir, "nope.json"))
			assert.Loosely(t, errors.Is(err, fs.ErrNotExist), should.BeTrue)
			assert.Loosely(t, errors.Is(err, storage.ErrPersistence), should.BeTrue)
		})
	})
}

func TestEpochConversion(t *testing.T) {
	t.Parallel()

	ftt.Run("epoch seconds", t, func(t *ftt.Test) {
		ts := time.Date(2024, time.March, 1, 12, 0, 0, 250_000_000, time.UTC)
		assert.That(t, toEpoch(ts), should.Equal(float64(ts.Unix())+0.25))
		assert.Loosely(t, fromEpoch(toEpoch(ts)).Equal(ts), should.BeTrue)

		assert.That(t, toEpoch(time.Time{}), should.Equal(0.0))
		assert.Loosely(t, fromEpoch(0).IsZero(), should.BeTrue)
	})
}
