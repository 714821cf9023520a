// Package debug has helpers producing human readable dumps of program
// structures.
package debug

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// TreeWriter accumulates indented lines, two spaces per level.
type TreeWriter struct {
	w *strings.Builder
}

func NewTreeWriter() *TreeWriter {
	return &TreeWriter{
		w: &strings.Builder{},
	}
}

func (tw TreeWriter) String() string {
	return tw.w.String()
}

func (tw TreeWriter) indent(depth int) {
	for range depth {
		tw.w.WriteString("  ")
	}
}

func (tw TreeWriter) Line(depth int, format string, args ...any) {
	tw.indent(depth)
	fmt.Fprintf(tw.w, format, args...)
	tw.w.WriteByte('\n')
}

func (tw TreeWriter) TextBlock(depth int, label, value string) {
	tw.indent(depth)
	tw.w.WriteString(label)
	tw.w.WriteString(": ")
	tw.w.WriteString(encodeText(value))
	tw.w.WriteByte('\n')
}

// Excerpt is TextBlock for long values: only first limit runes are written
// followed by total length.
func (tw TreeWriter) Excerpt(depth int, label, value string, limit int) {
	n := utf8.RuneCountInString(value)
	if limit <= 0 || n <= limit {
		tw.TextBlock(depth, label, value)
		return
	}
	cut := value
	for i := range value {
		if limit == 0 {
			cut = value[:i]
			break
		}
		limit--
	}
	tw.indent(depth)
	fmt.Fprintf(tw.w, "%s: %s... (%d runes)\n", label, encodeText(cut), n)
}

func encodeText(raw string) string {
	if raw == "" {
		return raw
	}
	return strconv.Quote(raw)
}
