package badgerstore

import (
	"context"
	"testing"

	"go.chromium.org/luci/common/logging/memlogger"
	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"

	"github.com/alaamer12/true-storage/internal/storage"
)

func TestBadgerStore(t *testing.T) {
	t.Parallel()

	ftt.Run("badgerstore", t, func(t *ftt.Test) {
		ctx := memlogger.Use(context.Background())
		s, err := Open(ctx, Options{InMemory: true, Prefix: "cold/"})
		assert.Loosely(t, err, should.BeNil)
		t.Cleanup(func() { s.Close() })

		t.Run("store and retrieve", func(t *ftt.Test) {
			assert.Loosely(t, s.Store(ctx, "a", []byte("1")), should.BeNil)
			v, err := s.Retrieve(ctx, "a")
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, v, should.Match([]byte("1")))

			assert.Loosely(t, s.Store(ctx, "a", []byte("2")), should.BeNil)
			v, err = s.Retrieve(ctx, "a")
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, v, should.Match([]byte("2")))
		})

		t.Run("missing keys", func(t *ftt.Test) {
			_, err := s.Retrieve(ctx, "nope")
			assert.Loosely(t, err, should.ErrLike(storage.ErrNotFound))
			assert.Loosely(t, s.Delete(ctx, "nope"), should.BeNil)
		})

		t.Run("delete", func(t *ftt.Test) {
			assert.Loosely(t, s.Store(ctx, "a", []byte("1")), should.BeNil)
			assert.Loosely(t, s.Delete(ctx, "a"), should.BeNil)
			_, err := s.Retrieve(ctx, "a")
			assert.Loosely(t, err, should.ErrLike(storage.ErrNotFound))
		})

		t.Run("clear only touches the prefix", func(t *ftt.Test) {
			other := Wrap(s.db, "other/")
			assert.Loosely(t, other.Store(ctx, "x", []byte("keep")), should.BeNil)
			assert.Loosely(t, s.Store(ctx, "a", []byte("1")), should.BeNil)
			assert.Loosely(t, s.Store(ctx, "b", []byte("2")), should.BeNil)

			keys, err := s.Keys(ctx)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, keys, should.Match([]string{"a", "b"}))

			assert.Loosely(t, s.Clear(ctx), should.BeNil)

			keys, err = s.Keys(ctx)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, keys, should.BeEmpty)

			v, err := other.Retrieve(ctx, "x")
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, v, should.Match([]byte("keep")))
			assert.Loosely(t, other.Close(), should.BeNil)
		})
	})
}
