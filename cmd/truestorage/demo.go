package main

import (
	"context"
	"os"
	"time"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"github.com/alaamer12/true-storage/internal/backend/filestore"
	"github.com/alaamer12/true-storage/internal/cache"
	"github.com/alaamer12/true-storage/internal/codec"
	"github.com/alaamer12/true-storage/internal/tiered"
)

var cmdDemo = &subcommands.Command{
	UsageLine: "demo [-snapshot <path>] [-cold-dir <dir>]",
	ShortDesc: "walks through LRU eviction, TTL expiry, leases and tiering",
	LongDesc: `Walks through LRU eviction, TTL expiry, leases and tiering on small stores.

With -snapshot, the hot tier of the tiered part is restored from and saved to
the given file, so running the demo twice shows a restore.`,
	CommandRun: func() subcommands.CommandRun {
		r := &demoRun{}
		r.Flags.StringVar(&r.snapshot, "snapshot", "", "Snapshot file for the tiered hot tier.")
		r.Flags.StringVar(&r.coldDir, "cold-dir", "", "Directory for the cold tier (default: a temporary directory).")
		return r
	},
}

type demoRun struct {
	subcommands.CommandRunBase

	snapshot string
	coldDir  string
}

func (r *demoRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, r, env)
	if err := r.run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logging.Warningf(ctx, "interrupted")
			return 130
		}
		logging.WithError(err).Errorf(ctx, "demo failed")
		return 1
	}
	return 0
}

func (r *demoRun) run(ctx context.Context) error {
	if err := demoLRU(ctx); err != nil {
		return err
	}
	if err := demoTTL(ctx); err != nil {
		return err
	}
	if err := demoLease(ctx); err != nil {
		return err
	}
	return r.demoTiered(ctx)
}

func demoLRU(ctx context.Context) error {
	cfg := cache.DefaultConfig()
	cfg.MaxSize = 2
	cfg.EnableLogging = false
	cfg.OnEvent = func(ev cache.Event) {
		if ev.Kind == cache.EventEvicted {
			logging.Infof(ctx, "evicted %q as least recently used", ev.Key)
		}
	}
	c, err := cache.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	logging.Infof(ctx, "== LRU eviction (capacity 2)")
	if err := c.Set("a", []byte("A")); err != nil {
		return err
	}
	if err := c.Set("b", []byte("B")); err != nil {
		return err
	}
	// Touch "a" so "b" becomes the least recently used entry.
	if v, ok, err := c.Get("a"); err == nil && ok {
		logging.Infof(ctx, "get a = %q", v)
	}
	if err := c.Set("c", []byte("C")); err != nil {
		return err
	}
	logging.Infof(ctx, "keys (MRU->LRU): %q", c.Keys())
	return nil
}

func demoTTL(ctx context.Context) error {
	cfg := cache.DefaultConfig()
	cfg.CleanupInterval = 100 * time.Millisecond
	cfg.EnableLogging = false
	cfg.OnEvent = func(ev cache.Event) {
		if ev.Kind == cache.EventExpired {
			logging.Infof(ctx, "expired %q", ev.Key)
		}
	}
	c, err := cache.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	logging.Infof(ctx, "== TTL expiry (sweep every %s)", cfg.CleanupInterval)
	if err := c.SetTTL("ttl", []byte("short"), 200*time.Millisecond); err != nil {
		return err
	}
	if err := c.Set("stays", []byte("long")); err != nil {
		return err
	}
	logging.Infof(ctx, "keys: %q", c.Keys())

	// Long enough for the entry to expire and a sweep to pick it up.
	if tr := <-clock.After(ctx, 500*time.Millisecond); tr.Err != nil {
		return tr.Err
	}
	st := c.Stats()
	logging.Infof(ctx, "keys: %q, resident %d, expirations %d", c.Keys(), st.Size, st.Expirations)
	return nil
}

func demoLease(ctx context.Context) error {
	cfg := cache.DefaultConfig()
	cfg.CleanupInterval = 0
	cfg.EnableLogging = false
	c, err := cache.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	logging.Infof(ctx, "== leases")
	if err := c.Set("job", []byte("pending")); err != nil {
		return err
	}
	logging.Infof(ctx, "lock job for 1m: %v", c.Lock("job", time.Minute))
	logging.Infof(ctx, "lock job again: %v", c.Lock("job", time.Minute))
	if _, _, err := c.Get("job"); err != nil {
		logging.Infof(ctx, "get job: %s", err)
	}
	if md, ok := c.Metadata("job"); ok {
		logging.Infof(ctx, "job is %s until %s", md.Status, md.LockExpire.Format(time.RFC3339))
	}
	c.Unlock("job")
	v, _, err := c.Get("job")
	if err != nil {
		return err
	}
	logging.Infof(ctx, "after unlock, get job = %q", v)
	return nil
}

type session struct {
	User   string   `msgpack:"user"`
	Roles  []string `msgpack:"roles"`
	Visits int      `msgpack:"visits"`
}

func (r *demoRun) demoTiered(ctx context.Context) (err error) {
	dir := r.coldDir
	if dir == "" {
		if dir, err = os.MkdirTemp("", "truestorage-cold-"); err != nil {
			return err
		}
		defer os.RemoveAll(dir)
	}
	cold, err := filestore.New(dir)
	if err != nil {
		return err
	}
	defer cold.Close()

	cfg := cache.DefaultConfig()
	cfg.MaxSize = 2
	cfg.PersistencePath = r.snapshot
	cfg.EnableLogging = false
	hot, err := cache.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := hot.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if n := hot.Len(); n > 0 {
		logging.Infof(ctx, "restored %d entries from %s: %q", n, r.snapshot, hot.Keys())
	}

	logging.Infof(ctx, "== tiered store (hot capacity 2, cold tier in %s)", dir)
	ts := tiered.New(hot, cold)

	for i, user := range []string{"alice", "bob", "carol"} {
		blob, err := codec.Marshal(session{User: user, Roles: []string{"reader"}, Visits: i})
		if err != nil {
			return err
		}
		if err := ts.Store(ctx, "session/"+user, blob); err != nil {
			return err
		}
	}
	logging.Infof(ctx, "hot keys after 3 writes: %q", hot.Keys())

	blob, err := ts.Retrieve(ctx, "session/alice")
	if err != nil {
		return err
	}
	var s session
	if err := codec.Unmarshal(blob, &s); err != nil {
		return err
	}
	logging.Infof(ctx, "read-through session/alice = %+v, hot keys: %q", s, hot.Keys())

	if err := hot.Clear(); err != nil {
		return err
	}
	n, err := ts.WarmUp(ctx, []string{"session/bob", "session/carol", "session/nobody"})
	if err != nil {
		return err
	}
	logging.Infof(ctx, "warmed up %d keys, hot keys: %q", n, hot.Keys())

	for i := 0; i < 3; i++ {
		if _, err := ts.Retrieve(ctx, "session/carol"); err != nil {
			return err
		}
	}
	logging.Infof(ctx, "optimize to 1 entry dropped %d, hot keys: %q", ts.OptimizeTo(1), hot.Keys())

	st := ts.Stats()
	logging.Infof(ctx, "reads: %d hot, %d cold, %d missed", st.HotHits, st.ColdHits, st.Misses)
	return nil
}
