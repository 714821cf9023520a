package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"fbm/config"
	"fbm/fb2"
	"fbm/state"
	"fbm/title"
)

const outputExt = ".fb2"

// buildOutputPath returns output file path. When dst names .fb2 file it is
// used as is, otherwise dst is a directory and file name comes either from
// user-defined template (which may introduce subdirectories) or from
// collective title. Name is cleaned up and if requested transliterated.
func buildOutputPath(bookTitle string, docs []*fb2.Document, dst string, env *state.LocalEnv, now time.Time) string {
	if strings.EqualFold(filepath.Ext(dst), outputExt) {
		return dst
	}

	defaultFile := cleanPathSegment(bookTitle, env) + outputExt
	if env.Cfg.Document.OutputNameTemplate == "" {
		return filepath.Join(dst, defaultFile)
	}

	expandedName := expandOutputNameTemplate(bookTitle, docs, env, now)
	if expandedName == "" {
		// fallback to default name if template expansion failed
		return filepath.Join(dst, defaultFile)
	}
	return assemblePathWithSubdirs(dst, expandedName, env)
}

func expandOutputNameTemplate(bookTitle string, docs []*fb2.Document, env *state.LocalEnv, now time.Time) string {
	titles := make([]string, 0, len(docs))
	for _, doc := range docs {
		titles = append(titles, doc.Title)
	}
	expandedName, err := fb2.ExpandTemplate(config.OutputNameTemplateFieldName, env.Cfg.Document.OutputNameTemplate, fb2.TemplateValues{
		Title:  bookTitle,
		Count:  len(docs),
		Titles: titles,
		Date:   now.Format(time.DateOnly),
	})
	if err != nil {
		env.Log.Warn("Unable to prepare output filename", zap.Error(err))
		return ""
	}
	return filepath.FromSlash(strings.TrimSpace(expandedName))
}

// assemblePathWithSubdirs takes an expanded template name (which may contain
// path separators for subdirectories) and assembles it into a full output path,
// cleaning and transliterating segments as needed
func assemblePathWithSubdirs(outDir, expandedName string, env *state.LocalEnv) string {
	pathSegments := splitAndCleanPath(expandedName)
	if len(pathSegments) == 0 {
		return filepath.Join(outDir, badName(env))
	}

	dirParts := make([]string, 0, len(pathSegments)+1)
	dirParts = append(dirParts, outDir)
	for _, segment := range pathSegments[:len(pathSegments)-1] {
		if segment == "." || segment == ".." {
			// template cannot escape destination directory
			continue
		}
		dirParts = append(dirParts, cleanPathSegment(segment, env))
	}
	dirParts = append(dirParts, cleanPathSegment(strings.TrimSuffix(pathSegments[len(pathSegments)-1], outputExt), env)+outputExt)
	return filepath.Join(dirParts...)
}

func badName(env *state.LocalEnv) string {
	return cleanPathSegment("", env) + outputExt
}

func splitAndCleanPath(path string) []string {
	path = strings.TrimSuffix(path, string(os.PathSeparator))
	segments := make([]string, 0, 8)

	for head, tail := filepath.Split(path); tail != ""; head, tail = filepath.Split(head) {
		segments = slices.Insert(segments, 0, tail)
		head = strings.TrimSuffix(head, string(os.PathSeparator))
		if head == "" {
			break
		}
	}
	return segments
}

func cleanPathSegment(segment string, env *state.LocalEnv) string {
	if env.Cfg.Document.FileNameTransliterate {
		segment = title.Transliterate(segment)
	}
	return config.CleanFileName(segment)
}

// prepareOutput makes sure file could be written at path: existing file is
// refused unless overwrite was requested, missing directories are created.
func prepareOutput(path string, overwrite bool, log *zap.Logger) error {
	fi, err := os.Stat(path)
	switch {
	case err == nil:
		if fi.IsDir() {
			return fmt.Errorf("output path is a directory: %s", path)
		}
		if !overwrite {
			return fmt.Errorf("output file already exists: %s", path)
		}
		log.Warn("Overwriting existing file", zap.String("file", path))
		if err := os.Remove(path); err != nil {
			return err
		}
	case !os.IsNotExist(err):
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("unable to create output directory: %w", err)
	}
	return nil
}
