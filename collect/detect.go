package collect

import (
	"archive/zip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"

	"fbm/fb2"
)

const (
	// enough to see root element after declaration and comments, UTF-16/32
	// sources included
	headSize    = 4096
	archiveHead = 262
)

var fb2Type = filetype.NewType("fb2", "application/x-fictionbook+xml")

func init() {
	filetype.AddMatcher(fb2Type, isFB2Head)
}

func isFB2Head(buf []byte) bool {
	text := fb2.SniffText(buf)
	return strings.Contains(text, "<FictionBook") || strings.Contains(text, ":FictionBook")
}

func hasFB2Ext(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".fb2")
}

func readHead(r io.Reader, size int) ([]byte, error) {
	buf := make([]byte, size)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf[:n], nil
}

func fileHead(path string, size int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readHead(f, size)
}

// isArchiveFile reports whether file is zip archive. Other archive formats
// are recognized but not supported.
func isArchiveFile(path string) (bool, error) {
	head, err := fileHead(path, archiveHead)
	if err != nil {
		return false, err
	}
	if !filetype.IsArchive(head) {
		return false, nil
	}
	// epub and friends are zip too, but matcher order is not stable
	return filetype.Is(head, "zip"), nil
}

// isBookFile reports whether file looks like FB2. Either extension or
// content is enough: broken books still have to be merged (as notices) and
// books are often stored with other extensions.
func isBookFile(path string) (bool, error) {
	head, err := fileHead(path, headSize)
	if err != nil {
		return false, err
	}
	return hasFB2Ext(path) || filetype.IsType(head, fb2Type), nil
}

// isBookInArchive is isBookFile for archive entries.
func isBookInArchive(f *zip.File, name string) (bool, error) {
	r, err := f.Open()
	if err != nil {
		return false, err
	}
	defer r.Close()

	head, err := readHead(r, headSize)
	if err != nil {
		return false, err
	}
	return hasFB2Ext(name) || filetype.IsType(head, fb2Type), nil
}
