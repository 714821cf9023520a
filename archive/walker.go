// Package archive builds Walk abstraction on top of "archive/zip".
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"golang.org/x/text/encoding"
)

// WalkFunc is called for every file in archive visited by Walker. The
// archive argument is path to archive passed to Walk, name is entry name
// converted to UTF-8. If an error is returned, processing stops.
type WalkFunc func(archive string, file *zip.File, name string) error

// Walker visits files in zip archives. Since zip "standard" does not define
// file name encoding old archives may need names decoded from archaic code
// page.
type Walker struct {
	codePage encoding.Encoding
}

// NewWalker returns walker, codePage may be nil.
func NewWalker(codePage encoding.Encoding) *Walker {
	return &Walker{codePage: codePage}
}

// Name returns entry name, entries not marked as UTF-8 are decoded when code
// page is set. Undecodable names are returned as is.
func (w *Walker) Name(f *zip.File) string {
	if w.codePage == nil || !f.NonUTF8 {
		return f.Name
	}
	if n, err := w.codePage.NewDecoder().String(f.Name); err == nil {
		return n
	}
	return f.Name
}

// Walk walks all files in the archive with (decoded) names starting with
// prefix, calling walkFn for each of them. Archives with path traversal
// components ("..") or absolute paths are refused to prevent Zip Slip.
func (w *Walker) Walk(archive, prefix string, walkFn WalkFunc) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		if r != nil {
			// insecure path reported by reader itself
			r.Close()
		}
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		name := w.Name(f)
		if !isSafePath(name) {
			return fmt.Errorf("zip entry %q: unsafe path (absolute or contains path traversal)", name)
		}
		if f.FileInfo().IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		if err := walkFn(archive, f, name); err != nil {
			return err
		}
	}
	return nil
}

// Extract writes content of archive entry into file dst. Nothing is left
// behind on failure.
func Extract(f *zip.File, dst string) (err error) {
	r, err := f.Open()
	if err != nil {
		return fmt.Errorf("unable to open archive entry %q: %w", f.Name, err)
	}
	defer r.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("unable to create file for archive entry: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, r); err != nil {
		return fmt.Errorf("unable to extract archive entry %q: %w", f.Name, err)
	}
	return nil
}

// isSafePath returns false for paths that could escape the extraction
// directory: absolute paths and those containing ".." components.
func isSafePath(name string) bool {
	if path.IsAbs(name) || strings.HasPrefix(name, `\`) {
		return false
	}
	for _, part := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return false
		}
	}
	return true
}
