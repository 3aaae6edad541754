package main

import (
	"context"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/system/environ"

	"github.com/alaamer12/true-storage/internal/config"
	"github.com/alaamer12/true-storage/internal/env"
)

var cmdPurge = &subcommands.Command{
	UsageLine: "purge -config <file>",
	ShortDesc: "clears the configured cold tier",
	LongDesc: `Clears the cold tier described by a configuration file.

Only allowed when the configured mode (after TRUESTORAGE_MODE) is dev or test.`,
	CommandRun: func() subcommands.CommandRun {
		r := &purgeRun{}
		r.Flags.StringVar(&r.configPath, "config", "", "Path to the YAML configuration file.")
		return r
	},
}

type purgeRun struct {
	subcommands.CommandRunBase

	configPath string
}

func (r *purgeRun) Run(a subcommands.Application, args []string, e subcommands.Env) int {
	ctx := cli.GetContext(a, r, e)
	if r.configPath == "" {
		logging.Errorf(ctx, "-config is required")
		return 1
	}
	if err := purge(ctx, r.configPath, environ.System()); err != nil {
		logging.WithError(err).Errorf(ctx, "purge failed")
		return 1
	}
	return 0
}

func purge(ctx context.Context, configPath string, sys environ.Env) error {
	f, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	mode, err := f.ParsedMode()
	if err != nil {
		return err
	}
	if err := f.ApplyEnv(env.FromEnviron(mode, sys)); err != nil {
		return err
	}
	if mode, err = f.ParsedMode(); err != nil {
		return err
	}
	if err := env.EnsureMode(mode, env.ModeDev, env.ModeTest); err != nil {
		return errors.Annotate(err, "refusing to purge").Err()
	}

	cold, err := f.OpenBackend(ctx)
	switch {
	case err != nil:
		return err
	case cold == nil:
		logging.Infof(ctx, "no cold tier configured, nothing to purge")
		return nil
	}
	defer func() {
		if err := cold.Close(); err != nil {
			logging.WithError(err).Warningf(ctx, "failed to close cold tier")
		}
	}()

	if err := cold.Clear(ctx); err != nil {
		return err
	}
	logging.Infof(ctx, "purged %s cold tier", f.Cold.Kind)
	return nil
}
