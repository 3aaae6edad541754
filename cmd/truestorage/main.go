// Command truestorage demonstrates and administers true-storage caches.
//
//	truestorage demo                       walk through LRU, TTL, leases and tiering
//	truestorage inspect <snapshot.json>    list the entries of a snapshot
//	truestorage purge -config <file>       clear the configured cold tier (dev/test only)
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/logging/gologger"
)

// getApplication builds the CLI. Commands run under root, which carries
// cancellation, with the configured logger installed.
func getApplication(root context.Context, logConfig *logging.Config) *cli.Application {
	return &cli.Application{
		Name:  "truestorage",
		Title: "In-process LRU/TTL cache with snapshots and a durable cold tier",
		Context: func(context.Context) context.Context {
			return logConfig.Set(gologger.StdConfig.Use(root))
		},
		Commands: []*subcommands.Command{
			cmdDemo,
			cmdInspect,
			cmdPurge,
			{},
			subcommands.CmdHelp,
		},
	}
}

func mainImpl(ctx context.Context, args []string) int {
	logConfig := logging.Config{Level: logging.Info}

	fs := flag.NewFlagSet("flags", flag.ExitOnError)
	logConfig.AddFlags(fs)
	fs.Parse(args)

	return subcommands.Run(getApplication(ctx, &logConfig), fs.Args())
}

func main() {
	// Canceled on SIGINT/SIGTERM, which stops the demo early and lets stores
	// close cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(mainImpl(ctx, os.Args[1:]))
}
