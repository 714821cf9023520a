package merge

import (
	"bufio"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/beevik/etree"
)

const indentUnit = "  "

// inline elements hold text flow, whitespace inside them is significant.
var inline = map[string]bool{
	"p": true, "v": true, "subtitle": true, "text-author": true,
	"td": true, "th": true, "a": true, "emphasis": true, "strong": true,
	"style": true, "strikethrough": true, "sub": true, "sup": true, "code": true,
}

// indent pretty prints element-only content. Elements with mixed content
// and inline elements are left untouched together with everything inside
// them.
func indent(el *etree.Element, depth int) {
	if len(el.Child) == 0 || inline[el.Tag] || hasText(el) {
		return
	}
	for i := len(el.Child) - 1; i >= 0; i-- {
		if cd, ok := el.Child[i].(*etree.CharData); ok && !cd.IsCData() && cd.IsWhitespace() {
			el.RemoveChildAt(i)
		}
	}
	children := slices.Clone(el.Child)
	for i := range children {
		el.InsertChildAt(2*i, etree.NewText(newline(depth+1)))
	}
	el.CreateText(newline(depth))

	for _, child := range children {
		if ce, ok := child.(*etree.Element); ok {
			indent(ce, depth+1)
		}
	}
}

func hasText(el *etree.Element) bool {
	for _, tok := range el.Child {
		if cd, ok := tok.(*etree.CharData); ok && (cd.IsCData() || !cd.IsWhitespace()) {
			return true
		}
	}
	return false
}

func newline(depth int) string {
	return "\n" + strings.Repeat(indentUnit, depth)
}

// writeFile writes tree into file at path. Partially written file is
// removed on any failure.
func writeFile(path string, tree *etree.Document) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create output file: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unable to write output file: %v", r)
		}
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("unable to close output file: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	w := bufio.NewWriter(f)
	if _, err = tree.WriteTo(w); err != nil {
		return fmt.Errorf("unable to write output file: %w", err)
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("unable to write output file: %w", err)
	}
	return nil
}
