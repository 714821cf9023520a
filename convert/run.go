// Package convert implements program commands: it collects sources, puts
// them in requested order and produces merged book.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/ianaindex"

	"fbm/collect"
	"fbm/common"
	"fbm/fb2"
	"fbm/merge"
	"fbm/state"
	"fbm/title"
)

// options are command line settings independent of CLI framework.
type options struct {
	override string
	mode     common.SortMode
	explicit []int
}

func prepareOptions(cmd *cli.Command, env *state.LocalEnv, log *zap.Logger) (*options, error) {
	opts := &options{override: cmd.String("title")}

	var err error
	if opts.mode, err = common.ParseSortMode(cmd.String("sort")); err != nil {
		log.Warn("Unknown sort mode requested, keeping given order", zap.Error(err))
		opts.mode = common.SortModeGiven
	}
	if opts.explicit, err = collect.ParseOrder(cmd.String("order")); err != nil {
		return nil, err
	}

	// Since zip "standard" does not define file name encoding we may need to
	// force archaic code page for old archives
	cp := cmd.String("force-zip-cp")
	if len(cp) > 0 {
		env.CodePage, err = ianaindex.IANA.Encoding(cp)
		if err != nil || env.CodePage == nil {
			log.Warn("Unknown character set specification. Ignoring...", zap.String("charset", cp), zap.Error(err))
			env.CodePage = nil
		} else {
			n, _ := ianaindex.IANA.Name(env.CodePage)
			log.Debug("Forcefully converting all non UTF-8 file names in archives", zap.String("charset", n))
		}
	}
	return opts, nil
}

// Run is merge command: all sources are merged into single book.
func Run(ctx context.Context, cmd *cli.Command) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("convert")

	srcs := cmd.Args().Slice()
	if len(srcs) == 0 {
		return errors.New("no input source has been specified")
	}

	dst := cmd.String("out")
	if len(dst) == 0 {
		if dst, err = os.Getwd(); err != nil {
			return fmt.Errorf("unable to get working directory: %w", err)
		}
	}
	if dst, err = filepath.Abs(dst); err != nil {
		return err
	}

	opts, err := prepareOptions(cmd, env, log)
	if err != nil {
		return err
	}
	env.Overwrite = cmd.Bool("overwrite")

	log.Info("Processing starting", zap.Strings("sources", srcs), zap.String("destination", dst), zap.Stringer("sort", opts.mode))
	defer func(start time.Time) {
		log.Info("Processing completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	_, err = process(ctx, srcs, dst, opts, env, log)
	return err
}

// Title is title command: prints collective title merge would use.
func Title(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("title")

	srcs := cmd.Args().Slice()
	if len(srcs) == 0 {
		return errors.New("no input source has been specified")
	}
	opts, err := prepareOptions(cmd, env, log)
	if err != nil {
		return err
	}
	return printTitle(ctx, cmd.Root().Writer, srcs, opts, env, log)
}

func printTitle(ctx context.Context, w io.Writer, srcs []string, opts *options, env *state.LocalEnv, log *zap.Logger) error {
	docs, err := collectDocuments(ctx, srcs, opts, env, log)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, resolveTitle(docs, opts.override, env))
	return err
}

func resolveTitle(docs []*fb2.Document, override string, env *state.LocalEnv) string {
	titles := make([]string, 0, len(docs))
	for _, doc := range docs {
		titles = append(titles, doc.Title)
	}
	return title.NewResolver(env.Cfg.Document.Merge.DefaultTitle).Resolve(titles, override)
}

// process handles the core merge logic independently of CLI framework and
// returns path of produced book.
func process(ctx context.Context, srcs []string, dst string, opts *options, env *state.LocalEnv, log *zap.Logger) (string, error) {
	docs, err := collectDocuments(ctx, srcs, opts, env, log)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	bookTitle := resolveTitle(docs, opts.override, env)
	outputName := buildOutputPath(bookTitle, docs, dst, env, time.Now())
	if err := prepareOutput(outputName, env.Overwrite, log); err != nil {
		return "", err
	}

	result, err := merge.NewMerger(&env.Cfg.Document, log).Merge(docs, opts.override, outputName)
	if err != nil {
		return "", fmt.Errorf("unable to merge documents: %w", err)
	}
	if len(result.Failed) > 0 {
		log.Warn("Some documents were replaced by notices", zap.Strings("documents", result.Failed))
	}

	// Store merge result for debugging
	if env.Rpt != nil {
		env.Rpt.Store("result/"+filepath.Base(outputName), outputName)
	}
	return outputName, nil
}

// collectDocuments finds, parses and orders documents. Sources which could
// not be used are reported, but do not stop processing while there is
// something to merge.
func collectDocuments(ctx context.Context, srcs []string, opts *options, env *state.LocalEnv, log *zap.Logger) ([]*fb2.Document, error) {
	workDir, err := env.WorkDir()
	if err != nil {
		return nil, err
	}
	c := collect.New(&env.Cfg.Document, workDir, env.CodePage, log)

	sources, err := c.Sources(ctx, srcs)
	if err != nil {
		if len(sources) == 0 {
			return nil, err
		}
		for _, e := range multierr.Errors(err) {
			log.Warn("Skipping source", zap.Error(e))
		}
	}

	docs, err := c.Parse(ctx, sources)
	if err != nil {
		return nil, err
	}
	if docs, err = collect.Order(docs, opts.mode, opts.explicit); err != nil {
		return nil, fmt.Errorf("unable to order documents: %w", err)
	}

	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		names = append(names, doc.Name)
		if env.Rpt != nil {
			env.Rpt.StoreData(fmt.Sprintf("documents/%03d-%s.txt", doc.Order, strings.ReplaceAll(filepath.Base(doc.Name), " ", "_")), []byte(doc.String()))
		}
	}
	log.Debug("Documents collected", zap.Strings("order", names))
	return docs, nil
}
