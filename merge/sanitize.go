package merge

import (
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"fbm/fb2"
)

const fragmentTag = "fragment"

var tokenRe = regexp.MustCompile(`@@IMAGE_(.*?)@@`)

// readFragment reads document body wrapped into single element.
func readFragment(body string, log *zap.Logger) (*etree.Element, fb2.Fidelity, error) {
	text := "<" + fragmentTag + ">" + fb2.StripDeclaration(body) + "</" + fragmentTag + ">"
	tree, fidelity, err := fb2.ReadLenient(text, log)
	if err != nil {
		return nil, fidelity, err
	}
	return tree.Root(), fidelity, nil
}

// unwrapFictionBook handles raw documents which made it here whole: only
// their bodies are of interest.
func unwrapFictionBook(frag *etree.Element) *etree.Element {
	book := frag.FindElement(".//FictionBook")
	if book == nil {
		return frag
	}
	out := etree.NewElement(fragmentTag)
	fb2.MoveBodies(book, out)
	return out
}

// removeNoise drops binaries, processing instructions and directives.
func removeNoise(frag *etree.Element) {
	for _, el := range frag.FindElements(".//binary") {
		if parent := el.Parent(); parent != nil {
			parent.RemoveChild(el)
		}
	}
	eachElement(frag, func(el *etree.Element) {
		for i := len(el.Child) - 1; i >= 0; i-- {
			switch el.Child[i].(type) {
			case *etree.ProcInst, *etree.Directive:
				el.RemoveChildAt(i)
			}
		}
	})
}

func isBase64Rune(r rune) bool {
	return r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '+' || r == '/' || r == '='
}

// looksLikeBase64 reports whether text is long enough and consists mostly of
// base64 alphabet.
func looksLikeBase64(text string, minLength int, ratio float64) bool {
	n := utf8.RuneCountInString(text)
	if n <= minLength {
		return false
	}
	count := 0
	for _, r := range text {
		if isBase64Rune(r) {
			count++
		}
	}
	return float64(count)/float64(n) > ratio
}

// blankBinaryText empties character data which is leaked binary payload
// rather than text. Returns number of blanked nodes.
func blankBinaryText(frag *etree.Element, minLength int, ratio float64) int {
	blanked := 0
	eachElement(frag, func(el *etree.Element) {
		for _, tok := range el.Child {
			if cd, ok := tok.(*etree.CharData); ok && looksLikeBase64(cd.Data, minLength, ratio) {
				cd.Data = ""
				blanked++
			}
		}
	})
	return blanked
}

// rewriteTokens calls fn for every placeholder token found in attribute
// values and text of frag and puts in whatever fn returns.
func rewriteTokens(frag *etree.Element, fn func(tok, id string) string) {
	rewrite := func(s string) string {
		return tokenRe.ReplaceAllStringFunc(s, func(tok string) string {
			return fn(tok, tokenRe.FindStringSubmatch(tok)[1])
		})
	}
	eachElement(frag, func(el *etree.Element) {
		for i := range el.Attr {
			if strings.Contains(el.Attr[i].Value, "@@IMAGE_") {
				el.Attr[i].Value = rewrite(el.Attr[i].Value)
			}
		}
		for _, tok := range el.Child {
			if cd, ok := tok.(*etree.CharData); ok && strings.Contains(cd.Data, "@@IMAGE_") {
				cd.Data = rewrite(cd.Data)
			}
		}
	})
}

// resolveTokens turns placeholder tokens of document at position doc into
// references to global resources. Tokens are matched on parsed values, so
// ids with markup characters resolve the same as plain ones.
func resolveTokens(frag *etree.Element, table *ResourceTable, doc int) int {
	resolved := 0
	rewriteTokens(frag, func(tok, id string) string {
		global, ok := table.Lookup(doc, id)
		if !ok {
			return tok
		}
		resolved++
		return "#" + global
	})
	return resolved
}

// revertLeftovers turns placeholder tokens nothing was mapped to back into
// plain references.
func revertLeftovers(frag *etree.Element, log *zap.Logger) int {
	reverted := 0
	rewriteTokens(frag, func(_, id string) string {
		log.Warn("Unresolved image reference", zap.String("id", id))
		reverted++
		return "#" + id
	})
	return reverted
}

// prefixIDs makes ids of a document unique among its siblings. Only links
// pointing inside the same document are changed. Images pointing to merged
// resources are left alone even when some element shares the global id.
func prefixIDs(frag *etree.Element, prefix string, table *ResourceTable) {
	local := make(map[string]bool)
	eachElement(frag, func(el *etree.Element) {
		if attr := el.SelectAttr("id"); attr != nil && attr.Value != "" {
			local[attr.Value] = true
			attr.Value = prefix + attr.Value
		}
	})
	eachElement(frag, func(el *etree.Element) {
		for i := range el.Attr {
			attr := &el.Attr[i]
			if attr.Key != "href" {
				continue
			}
			id, ok := strings.CutPrefix(attr.Value, "#")
			if !ok || !local[id] || (el.Tag == "image" && table.IsGlobal(id)) {
				continue
			}
			attr.Value = "#" + prefix + id
		}
	})
}

// wrapLooseText puts text sitting directly in the section into paragraphs.
func wrapLooseText(frag *etree.Element) {
	for i, tok := range slices.Clone(frag.Child) {
		cd, ok := tok.(*etree.CharData)
		if !ok || cd.IsWhitespace() {
			continue
		}
		frag.RemoveChildAt(i)
		p := etree.NewElement("p")
		p.SetText(strings.TrimSpace(cd.Data))
		frag.InsertChildAt(i, p)
	}
}

// isEmpty reports whether fragment has neither elements nor text.
func isEmpty(frag *etree.Element) bool {
	for _, tok := range frag.Child {
		switch t := tok.(type) {
		case *etree.Element:
			return false
		case *etree.CharData:
			if !t.IsWhitespace() {
				return false
			}
		}
	}
	return true
}

func eachElement(el *etree.Element, fn func(*etree.Element)) {
	fn(el)
	for _, child := range el.ChildElements() {
		eachElement(child, fn)
	}
}
