//go:build !windows

package config

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// CleanFileName makes file name out of arbitrary text (book title usually):
// separators and control characters are dropped, leading dots are removed
// so result is never hidden, length is limited.
func CleanFileName(in string) string {
	out := strings.TrimLeft(cleanFileName(in, string(os.PathSeparator)+string(os.PathListSeparator)), ". ")
	if len(out) == 0 {
		out = badFileName
	}
	return out
}

// EnableColorOutput checks if colorized output is possible.
func EnableColorOutput(stream *os.File) bool {
	return term.IsTerminal(int(stream.Fd()))
}
