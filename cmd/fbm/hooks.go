package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"fbm/config"
	"fbm/misc"
	"fbm/state"
)

// initializeAppContext runs after command line has been parsed and before
// any command: it loads configuration, opens debug report and sets up logs.
func initializeAppContext(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.NArg() == 0 {
		// help will be shown, nothing to prepare
		return ctx, nil
	}

	var (
		env        = state.EnvFromContext(ctx)
		configFile = cmd.String("config")
		err        error
	)

	if env.Cfg, err = config.LoadConfiguration(configFile); err != nil {
		return ctx, fmt.Errorf("unable to prepare configuration: %w", err)
	}

	if cmd.Bool("debug") {
		if env.Rpt, err = env.Cfg.Reporting.Prepare(); err != nil {
			return ctx, fmt.Errorf("unable to prepare debug reporter: %w", err)
		}
		// processed configuration goes into report when user provided one,
		// defaults could always be reproduced with dumpconfig
		if len(configFile) > 0 {
			if data, err := config.Dump(env.Cfg); err == nil {
				env.Rpt.StoreData("config/"+filepath.Base(configFile), data)
			}
		}
	}

	if env.Log, err = env.Cfg.Logging.Prepare(env.Rpt); err != nil {
		return ctx, fmt.Errorf("unable to prepare logs: %w", err)
	}
	env.RedirectStdLog()

	env.Log.Debug("Program started",
		zap.Strings("args", os.Args),
		zap.String("ver", misc.GetVersion()),
		zap.String("runtime", runtime.Version()),
		zap.String("hash", misc.GetGitHash()))
	if env.Rpt != nil {
		env.Log.Info("Creating debug report", zap.String("location", env.Rpt.Name()))
	}
	if len(configFile) == 0 {
		env.Log.Info("Using defaults (no configuration file)")
	}
	return ctx, nil
}

// destroyAppContext is called when command is done no matter the outcome.
func destroyAppContext(ctx context.Context, cmd *cli.Command) (err error) {
	env := state.EnvFromContext(ctx)

	if env.Log != nil {
		env.Log.Debug("Program ended", zap.Duration("elapsed", env.Uptime()), zap.Strings("parsed args", cmd.Args().Slice()))
	}
	env.RestoreStdLog()

	// From now on log is synced and may be put into report, problems have to
	// go to stderr directly. Report references work directory (extracted
	// books, spilled bodies) so directory is removed last.
	defer env.RemoveWorkDir()

	if env.Rpt != nil {
		if e := env.Rpt.Close(); e != nil {
			err = multierr.Append(err, fmt.Errorf("unable to close debug report: %w", e))
		}
	}

	if env.Cfg == nil || len(env.Cfg.Logging.FileLogger.Destination) == 0 {
		return err
	}
	// nothing crashed - do not leave empty panic log behind
	debug.SetCrashOutput(nil, debug.CrashOptions{})
	panicLog := filepath.Join(filepath.Dir(env.Cfg.Logging.FileLogger.Destination), misc.GetAppName()+"-panic.log")
	if fi, e := os.Stat(panicLog); e == nil && fi.Size() == 0 {
		if e := os.Remove(panicLog); e != nil {
			err = multierr.Append(err, fmt.Errorf("unable to remove empty panic log file '%s': %w", panicLog, e))
		}
	}
	return err
}

// Errors returned by commands are logged here once instead of going through
// cli.Exit machinery. Set when error made it into the log.
var errWasHandled bool

// exitErrHandler is called before destroyAppContext, so log is still open.
func exitErrHandler(ctx context.Context, _ *cli.Command, err error) {
	if env := state.EnvFromContext(ctx); env.Log != nil {
		env.Log.Error("Program ended with error", zap.Error(err))
		errWasHandled = true
	}
}

func usageErrorHandler(_ context.Context, _ *cli.Command, err error, _ bool) error {
	// reported either by exitErrHandler or on exit directly to stderr
	return err
}

func subcommandNotFoundHandler(ctx context.Context, _ *cli.Command, name string) {
	if env := state.EnvFromContext(ctx); env.Log != nil {
		env.Log.Warn("Unknown command, nothing to do", zap.String("command", name))
	}
}
