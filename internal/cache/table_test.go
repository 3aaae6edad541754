package cache

import (
	"testing"

	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"
)

func tableKeys(tb *table) []string {
	var out []string
	tb.ascend(func(_ int32, n *node) bool {
		out = append(out, n.key)
		return true
	})
	return out
}

func TestTable(t *testing.T) {
	t.Parallel()

	ftt.Run("table", t, func(t *ftt.Test) {
		tb := newTable(4)
		for _, k := range []string{"a", "b", "c"} {
			tb.pushBack(entry{key: k})
		}

		t.Run("keeps insertion order", func(t *ftt.Test) {
			assert.Loosely(t, tableKeys(tb), should.Match([]string{"a", "b", "c"}))
			ref, ok := tb.front()
			assert.Loosely(t, ok, should.BeTrue)
			assert.That(t, tb.at(ref).key, should.Equal("a"))
		})

		t.Run("moveToBack", func(t *ftt.Test) {
			ref, _ := tb.lookup("a")
			tb.moveToBack(ref)
			assert.Loosely(t, tableKeys(tb), should.Match([]string{"b", "c", "a"}))

			tb.moveToBack(ref)
			assert.Loosely(t, tableKeys(tb), should.Match([]string{"b", "c", "a"}))
		})

		t.Run("remove recycles slots", func(t *ftt.Test) {
			ref, _ := tb.lookup("b")
			e := tb.remove(ref)
			assert.That(t, e.key, should.Equal("b"))
			assert.That(t, tb.len(), should.Equal(2))
			_, ok := tb.lookup("b")
			assert.Loosely(t, ok, should.BeFalse)

			again := tb.pushBack(entry{key: "d"})
			assert.That(t, again, should.Equal(ref))
			assert.Loosely(t, tb.nodes, should.HaveLength(3))
			assert.Loosely(t, tableKeys(tb), should.Match([]string{"a", "c", "d"}))
		})

		t.Run("removing during iteration", func(t *ftt.Test) {
			tb.ascend(func(ref int32, n *node) bool {
				if n.key != "b" {
					tb.remove(ref)
				}
				return true
			})
			assert.Loosely(t, tableKeys(tb), should.Match([]string{"b"}))
		})

		t.Run("descend", func(t *ftt.Test) {
			var out []string
			tb.descend(func(_ int32, n *node) bool {
				out = append(out, n.key)
				return len(out) < 2
			})
			assert.Loosely(t, out, should.Match([]string{"c", "b"}))
		})

		t.Run("reset", func(t *ftt.Test) {
			tb.reset()
			assert.That(t, tb.len(), should.Equal(0))
			_, ok := tb.front()
			assert.Loosely(t, ok, should.BeFalse)

			tb.pushBack(entry{key: "x"})
			assert.Loosely(t, tableKeys(tb), should.Match([]string{"x"}))
		})
	})
}
