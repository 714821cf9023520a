// Package collect turns command line sources (files, directories and zip
// archives) into ordered list of parsed documents.
package collect

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/gosimple/slug"
	"github.com/maruel/natural"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding"

	"fbm/archive"
	"fbm/config"
	"fbm/fb2"
)

// Source is a single document to be parsed.
type Source struct {
	Path string // file on disk, archive entries are extracted into work directory
	Name string // what document is known as: used in messages, ordering and as title fallback
}

// Collector finds and parses documents.
type Collector struct {
	parser  *fb2.Parser
	walker  *archive.Walker
	workDir string
	log     *zap.Logger

	extracted int
}

// New returns collector. Archive entries are extracted into workDir, codePage
// (may be nil) is used to decode non UTF-8 names in archives.
func New(cfg *config.DocumentConfig, workDir string, codePage encoding.Encoding, log *zap.Logger) *Collector {
	return &Collector{
		parser:  fb2.NewParser(cfg, workDir, log),
		walker:  archive.NewWalker(codePage),
		workDir: workDir,
		log:     log.Named("collect"),
	}
}

func naturalCompare(a, b string) int {
	switch {
	case natural.Less(a, b):
		return -1
	case natural.Less(b, a):
		return 1
	default:
		return 0
	}
}

// Sources resolves every argument into documents keeping argument order.
// Problems with individual arguments are collected and returned together
// with whatever was found.
func (c *Collector) Sources(ctx context.Context, args []string) ([]Source, error) {
	var (
		sources []Source
		errs    error
	)
	for _, arg := range args {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := c.resolve(ctx, arg)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", arg, err))
			continue
		}
		sources = append(sources, found...)
	}
	if len(sources) == 0 && errs == nil {
		errs = errors.New("no documents found")
	}
	return sources, errs
}

// resolve handles single source which may be file, directory, archive or
// path inside archive.
func (c *Collector) resolve(ctx context.Context, arg string) ([]Source, error) {
	src, err := filepath.Abs(arg)
	if err != nil {
		return nil, err
	}

	var head, tail string
	for head = src; len(head) != 0; head, tail = filepath.Split(head) {
		head = strings.TrimSuffix(head, string(filepath.Separator))

		fi, err := os.Stat(head)
		if err != nil {
			// does not exists - probably path in archive
			continue
		}

		if fi.Mode().IsDir() {
			if len(tail) != 0 {
				// directory cannot have tail - it would be simple file
				return nil, fmt.Errorf("input source was not found (%s) => (%s)", head, strings.TrimPrefix(src, head))
			}
			var out []Source
			if err := c.walkDir(ctx, head, "", &out); err != nil {
				return nil, fmt.Errorf("unable to process directory: %w", err)
			}
			if len(out) == 0 {
				return nil, errors.New("no documents found in directory")
			}
			return out, nil
		}

		if !fi.Mode().IsRegular() {
			return nil, fmt.Errorf("unexpected path mode for (%s) => (%s)", head, strings.TrimPrefix(src, head))
		}

		isArchive, err := isArchiveFile(head)
		if err != nil {
			return nil, fmt.Errorf("unable to check archive type: %w", err)
		}
		if isArchive {
			// we need to look inside to see if path makes sense
			prefix := filepath.ToSlash(strings.TrimPrefix(strings.TrimPrefix(src, head), string(filepath.Separator)))
			var out []Source
			if err := c.walkArchive(ctx, head, prefix, filepath.Base(head), &out); err != nil {
				return nil, fmt.Errorf("unable to process archive: %w", err)
			}
			if len(out) == 0 {
				return nil, fmt.Errorf("no documents found in archive under %q", prefix)
			}
			return out, nil
		}

		if len(tail) != 0 {
			return nil, fmt.Errorf("input source was not found (%s) => (%s)", head, strings.TrimPrefix(src, head))
		}
		isBook, err := isBookFile(head)
		if err != nil {
			return nil, fmt.Errorf("unable to check file type: %w", err)
		}
		if !isBook {
			return nil, fmt.Errorf("input was not recognized as FB2 book (%s)", head)
		}
		return []Source{{Path: head, Name: filepath.Base(head)}}, nil
	}
	return nil, fmt.Errorf("input source was not found (%s)", src)
}

// walkDir visits directory tree in natural order. Archives found in the tree
// are looked into, symbolic links are not followed.
func (c *Collector) walkDir(ctx context.Context, dir, rel string, out *[]Source) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	slices.SortFunc(entries, func(a, b os.DirEntry) int {
		return naturalCompare(a.Name(), b.Name())
	})

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, name := filepath.Join(dir, e.Name()), filepath.Join(rel, e.Name())

		if e.IsDir() {
			if err := c.walkDir(ctx, path, name, out); err != nil {
				c.log.Warn("Skipping directory", zap.String("dir", path), zap.Error(err))
			}
			continue
		}
		if !e.Type().IsRegular() {
			continue
		}

		isArchive, err := isArchiveFile(path)
		if err != nil {
			c.log.Warn("Skipping file", zap.String("file", path), zap.Error(err))
			continue
		}
		if isArchive {
			if err := c.walkArchive(ctx, path, "", name, out); err != nil {
				c.log.Error("Unable to process archive", zap.String("file", path), zap.Error(err))
			}
			continue
		}

		isBook, err := isBookFile(path)
		if err != nil {
			c.log.Warn("Skipping file", zap.String("file", path), zap.Error(err))
			continue
		}
		if !isBook {
			c.log.Debug("Skipping file, not recognized as book or archive", zap.String("file", path))
			continue
		}
		*out = append(*out, Source{Path: path, Name: name})
	}
	return nil
}

// walkArchive extracts books under prefix into work directory. Entries are
// visited in natural order of their names.
func (c *Collector) walkArchive(ctx context.Context, path, prefix, rel string, out *[]Source) error {
	type entry struct {
		file *zip.File
		name string
	}
	var entries []entry

	err := c.walker.Walk(path, prefix, func(archive string, f *zip.File, name string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		isBook, err := isBookInArchive(f, name)
		if err != nil {
			c.log.Warn("Skipping file in archive", zap.String("archive", archive), zap.String("path", name), zap.Error(err))
			return nil
		}
		if !isBook {
			c.log.Debug("Skipping file, not recognized as book", zap.String("archive", archive), zap.String("file", name))
			return nil
		}
		entries = append(entries, entry{file: f, name: name})
		return nil
	})
	if err != nil {
		return err
	}

	// Walk closes archive when done, so reopen for extraction
	slices.SortStableFunc(entries, func(a, b entry) int {
		return naturalCompare(a.name, b.name)
	})
	wanted := make(map[string]bool, len(entries))
	for _, e := range entries {
		wanted[e.name] = true
	}
	extracted := make(map[string]string, len(entries))
	err = c.walker.Walk(path, prefix, func(_ string, f *zip.File, name string) error {
		if !wanted[name] {
			return nil
		}
		if _, done := extracted[name]; done {
			// duplicate entry name, first wins
			return nil
		}
		dst, err := c.extract(f, name)
		if err != nil {
			c.log.Error("Unable to extract file from archive", zap.String("archive", path), zap.String("file", name), zap.Error(err))
			return nil
		}
		extracted[name] = dst
		return nil
	})
	if err != nil {
		return err
	}

	for _, e := range entries {
		if dst, ok := extracted[e.name]; ok {
			*out = append(*out, Source{Path: dst, Name: filepath.Join(rel, filepath.FromSlash(e.name))})
			delete(extracted, e.name)
		}
	}
	return nil
}

func (c *Collector) extract(f *zip.File, name string) (string, error) {
	c.extracted++
	base := filepath.Base(filepath.FromSlash(name))
	stem := slug.Make(strings.TrimSuffix(base, filepath.Ext(base)))
	dst := filepath.Join(c.workDir, fmt.Sprintf("%04d-%s.fb2", c.extracted, stem))
	if err := archive.Extract(f, dst); err != nil {
		return "", err
	}
	c.log.Debug("Extracted", zap.String("file", name), zap.String("to", dst))
	return dst, nil
}

// Parse parses sources in parallel. Result keeps order of sources, Order of
// every document is set to its 1-based position.
func (c *Collector) Parse(ctx context.Context, sources []Source) ([]*fb2.Document, error) {
	docs := make([]*fb2.Document, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, src := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			docs[i] = c.parser.ParseFile(src.Path, src.Name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, doc := range docs {
		doc.Order = i + 1
	}
	return docs, nil
}
