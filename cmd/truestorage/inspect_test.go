package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.chromium.org/luci/common/clock/testclock"
	"go.chromium.org/luci/common/logging/memlogger"
	"go.chromium.org/luci/common/system/environ"
	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"

	"github.com/alaamer12/true-storage/internal/backend/filestore"
	"github.com/alaamer12/true-storage/internal/cache"
	"github.com/alaamer12/true-storage/internal/env"
)

var testEpoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func TestPrintSnapshot(t *testing.T) {
	t.Parallel()

	ftt.Run("printSnapshot", t, func(t *ftt.Test) {
		entries := map[string]cache.SnapshotEntry{
			"old": {
				Value:      make([]byte, 2048),
				ExpireAt:   testEpoch.Add(-time.Minute),
				Status:     cache.Active,
				LastAccess: testEpoch.Add(-time.Hour),
			},
			"new": {
				Value:       []byte("v"),
				ExpireAt:    testEpoch.Add(time.Hour),
				Status:      cache.Locked,
				AccessCount: 4,
				LastAccess:  testEpoch.Add(-time.Second),
			},
		}

		var buf bytes.Buffer
		assert.Loosely(t, printSnapshot(&buf, entries, testEpoch), should.BeNil)

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		assert.Loosely(t, lines, should.HaveLength(4))
		assert.Loosely(t, strings.Fields(lines[0]), should.Match([]string{"KEY", "STATUS", "SIZE", "ACCESSES", "LAST", "ACCESS", "EXPIRES"}))
		assert.Loosely(t, strings.HasPrefix(lines[1], "new "), should.BeTrue)
		assert.Loosely(t, lines[1], should.ContainSubstring("locked"))
		assert.Loosely(t, lines[1], should.ContainSubstring("1 hour from now"))
		assert.Loosely(t, strings.HasPrefix(lines[2], "old "), should.BeTrue)
		assert.Loosely(t, lines[2], should.ContainSubstring("expired"))
		assert.Loosely(t, lines[2], should.ContainSubstring("2.0 kB"))
		assert.That(t, lines[3], should.Equal("2.0 kB in 2 entries"))
	})
}

func TestPurge(t *testing.T) {
	t.Parallel()

	ftt.Run("purge", t, func(t *ftt.Test) {
		ctx, _ := testclock.UseTime(context.Background(), testEpoch)
		ctx = memlogger.Use(ctx)

		dir := t.TempDir()
		coldDir := filepath.Join(dir, "cold")
		cold, err := filestore.New(coldDir)
		assert.Loosely(t, err, should.BeNil)
		assert.Loosely(t, cold.Store(ctx, "k", []byte("v")), should.BeNil)

		writeConfig := func(mode string) string {
			path := filepath.Join(dir, "truestorage.yaml")
			doc := "mode: " + mode + "\ncold:\n  kind: file\n  dir: " + coldDir + "\n"
			assert.Loosely(t, os.WriteFile(path, []byte(doc), 0o644), should.BeNil)
			return path
		}
		coldKeys := func() []string {
			keys, err := cold.Keys(ctx)
			assert.Loosely(t, err, should.BeNil)
			return keys
		}

		t.Run("clears the cold tier in dev mode", func(t *ftt.Test) {
			assert.Loosely(t, purge(ctx, writeConfig("dev"), environ.New(nil)), should.BeNil)
			assert.Loosely(t, coldKeys(), should.BeEmpty)
		})

		t.Run("refuses in prod mode", func(t *ftt.Test) {
			err := purge(ctx, writeConfig("prod"), environ.New(nil))
			assert.Loosely(t, err, should.ErrLike(env.ErrMode))
			assert.Loosely(t, coldKeys(), should.Match([]string{"k"}))
		})

		t.Run("the environment can change the mode", func(t *ftt.Test) {
			err := purge(ctx, writeConfig("test"), environ.New([]string{"TRUESTORAGE_MODE=stage"}))
			assert.Loosely(t, err, should.ErrLike(env.ErrMode))
		})
	})
}
