package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"fbm/common"
	"fbm/config"
	"fbm/convert"
	"fbm/misc"
	"fbm/state"
)

const sourceHelp = `
SOURCE:
    path to fb2 file(s) to merge, following formats are supported:
        path to a file: "[path_to_file]file.fb2"
        path to a directory: "[path_to_directory]directory" - recursively collect all books under directory (symbolic links are not followed)
        path to archive with path inside archive to a particular fb2 file: "[path_to_archive]archive.zip[path_in_archive]/file.fb2"
        path to archive with path inside archive: "[path_to_archive]archive.zip[path_in_archive]" - recursively collect all books under archive path

    Books are taken in order of sources on the command line, directories and
    archives are visited in natural order of names. Use --sort and --order to
    change that. Archives inside archives are not supported.
`

// collectFlags are shared by commands which collect books.
func collectFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "use `TEXT` as title instead of deriving it from books"},
		&cli.StringFlag{Name: "sort", Value: common.SortModeGiven.String(),
			Usage: "order books by `MODE` (supported modes: " + strings.Join(common.SortModeNames(), ", ") + ")"},
		&cli.StringFlag{Name: "order", Usage: "comma separated `LIST` of 1-based positions (after sorting) to put first, e.g. 3,1,2"},
		&cli.StringFlag{Name: "force-zip-cp",
			Usage: "Force `ENCODING` for ALL non UTF-8 file names in processed archives (see IANA.org for character set names)"},
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:            misc.GetAppName(),
		Usage:           "merges fiction book (FB2) files into a single book",
		Version:         misc.GetVersion() + " (" + runtime.Version() + ") : " + misc.GetGitHash(),
		HideHelpCommand: true,
		Before:          initializeAppContext,
		After:           destroyAppContext,
		OnUsageError:    usageErrorHandler,
		ExitErrHandler:  exitErrHandler,
		CommandNotFound: subcommandNotFoundHandler,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, DefaultText: "", Usage: "load configuration from `FILE` (YAML)"},
			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "changes program behavior to help troubleshooting, produces report archive"},
		},
		Commands: []*cli.Command{
			{
				Name:         "merge",
				Usage:        "Merges FB2 file(s) into single book",
				OnUsageError: usageErrorHandler,
				Action:       convert.Run,
				Flags: append(collectFlags(),
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "destination `PATH`: directory or file with .fb2 extension"},
					&cli.BoolFlag{Name: "overwrite", Aliases: []string{"ow"}, Usage: "replace destination file if it exists"},
				),
				ArgsUsage: "SOURCE...",
				CustomHelpTemplate: cli.CommandHelpTemplate + sourceHelp + `
DESTINATION (--out):
    directory or file name with .fb2 extension, if absent - current working
    directory. In directory file name is derived from the title of merged book
    or from output_name_template when configured.
`,
			},
			{
				Name:               "title",
				Usage:              "Prints title merged book would have",
				OnUsageError:       usageErrorHandler,
				Action:             convert.Title,
				Flags:              collectFlags(),
				ArgsUsage:          "SOURCE...",
				CustomHelpTemplate: cli.CommandHelpTemplate + sourceHelp,
			},
			{
				Name:  "dumpconfig",
				Usage: "Dumps either default or actual configuration (YAML)",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "default", Usage: "output default embedded configuration"},
				},
				OnUsageError: usageErrorHandler,
				Action:       outputConfiguration,
				ArgsUsage:    "DESTINATION",
				CustomHelpTemplate: cli.CommandHelpTemplate + `
DESTINATION:
    file name to write configuration to, if absent - STDOUT

Produces file with actual "active" configuration values which is composition
of default values and values specified in configuration file. To see default
configuration embedded into the program use --default flag.
`,
			},
		},
	}
}

func main() {
	// allow graceful shutdown on interrupt, parsing runs in parallel
	ctx, stop := signal.NotifyContext(state.ContextWithEnv(context.Background()), os.Interrupt, syscall.SIGTERM)

	var err error
	// NOTE: os.Exit is called at the end of main to set exit code, make sure
	// there are no other deffered functions after that
	defer func() {
		stop()
		if err != nil {
			// log may be not set yet (argument parsing) or already closed
			if !errWasHandled {
				fmt.Fprintf(os.Stderr, "Program ended with error: %v\n", err)
			}
			os.Exit(1)
		}
	}()
	err = newApp().Run(ctx, os.Args)
}

func outputConfiguration(ctx context.Context, cmd *cli.Command) (err error) {
	env := state.EnvFromContext(ctx)
	if cmd.Args().Len() > 1 {
		env.Log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[1:]))
	}

	var (
		data []byte
		kind = "actual"
	)
	if cmd.Bool("default") {
		kind = "default"
		data, err = config.Prepare()
	} else {
		data, err = config.Dump(env.Cfg)
	}
	if err != nil {
		return fmt.Errorf("unable to get configuration: %w", err)
	}

	fname := cmd.Args().Get(0)
	if len(fname) == 0 {
		env.Log.Info("Outputting configuration", zap.String("state", kind), zap.String("file", "STDOUT"))
		_, err = cmd.Root().Writer.Write(data)
		return err
	}

	env.Log.Info("Outputting configuration", zap.String("state", kind), zap.String("file", fname))
	if err := os.WriteFile(fname, data, 0644); err != nil {
		return fmt.Errorf("unable to write configuration to '%s': %w", fname, err)
	}
	return nil
}
