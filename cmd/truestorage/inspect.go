package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/logging"

	"github.com/alaamer12/true-storage/internal/cache"
)

var cmdInspect = &subcommands.Command{
	UsageLine: "inspect <snapshot.json>",
	ShortDesc: "lists the entries of a snapshot file",
	LongDesc: `Lists the entries of a snapshot file, most recently used first.

Entries past their expiry are shown as expired; a store would skip them on restore.`,
	CommandRun: func() subcommands.CommandRun {
		return &inspectRun{}
	},
}

type inspectRun struct {
	subcommands.CommandRunBase
}

func (r *inspectRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, r, env)
	if len(args) != 1 {
		logging.Errorf(ctx, "expecting exactly one snapshot path")
		return 1
	}
	entries, err := cache.ReadSnapshot(args[0])
	if err != nil {
		logging.WithError(err).Errorf(ctx, "failed to read snapshot")
		return 1
	}
	if err := printSnapshot(os.Stdout, entries, clock.Now(ctx)); err != nil {
		logging.WithError(err).Errorf(ctx, "failed to print snapshot")
		return 1
	}
	return 0
}

// printSnapshot writes entries as a table, most recently used first.
func printSnapshot(w io.Writer, entries map[string]cache.SnapshotEntry, now time.Time) error {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := entries[keys[i]].LastAccess, entries[keys[j]].LastAccess
		if !a.Equal(b) {
			return a.After(b)
		}
		return keys[i] < keys[j]
	})

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSTATUS\tSIZE\tACCESSES\tLAST ACCESS\tEXPIRES")
	var total uint64
	for _, k := range keys {
		e := entries[k]
		status := e.Status
		if now.After(e.ExpireAt) {
			status = cache.Expired
		}
		total += uint64(len(e.Value))
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			k,
			status,
			humanize.Bytes(uint64(len(e.Value))),
			e.AccessCount,
			relTime(e.LastAccess, now),
			relTime(e.ExpireAt, now),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s in %s\n", humanize.Bytes(total), pluralEntries(len(keys)))
	return err
}

func relTime(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func pluralEntries(n int) string {
	if n == 1 {
		return "1 entry"
	}
	return humanize.Comma(int64(n)) + " entries"
}
