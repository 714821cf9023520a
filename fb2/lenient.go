package fb2

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
)

// Fidelity tells how much of the source survived reading.
type Fidelity int

const (
	// FidelityExact - source was read by regular (permissive) reader.
	FidelityExact Fidelity = iota
	// FidelityRecovered - structure had to be repaired (unclosed or
	// mismatched elements), all content is present.
	FidelityRecovered
	// FidelityPartial - reading stopped at unrecoverable syntax error,
	// everything after it is lost.
	FidelityPartial
)

func (f Fidelity) String() string {
	switch f {
	case FidelityExact:
		return "exact"
	case FidelityRecovered:
		return "recovered"
	case FidelityPartial:
		return "partial"
	default:
		return "unknown"
	}
}

var errNoRoot = errors.New("no root element")

// NewTree returns etree document set up to be forgiving: old FB2s often
// do not follow XML standard, use HTML named entities and legacy encodings.
func NewTree() *etree.Document {
	doc := etree.NewDocument()
	doc.ReadSettings = etree.ReadSettings{
		CharsetReader: charset.NewReaderLabel,
		Entity:        xml.HTMLEntity,
		ValidateInput: false,
		Permissive:    true,
	}
	doc.WriteSettings = etree.WriteSettings{
		CanonicalText:    true,
		CanonicalAttrVal: true,
	}
	return doc
}

// ReadLenient reads UTF-8 text into tree. When regular reader gives up
// recovering tokenizer builds whatever it can. Error is returned only when
// there is no root element at all.
func ReadLenient(text string, log *zap.Logger) (*etree.Document, Fidelity, error) {
	doc := NewTree()
	if err := doc.ReadFromString(text); err == nil && doc.Root() != nil {
		return doc, FidelityExact, nil
	} else if err != nil {
		log.Debug("Regular XML reader failed, recovering", zap.Error(err))
	}
	return recoverTree(text, log)
}

// readBytes reads raw document bytes. Declared encoding is honored first,
// then bytes go through encoding recovery and are read as text.
func readBytes(data []byte, rec *Recovery, log *zap.Logger) (*etree.Document, Fidelity, string, error) {
	doc := NewTree()
	if detectUTF(data) == encUnknown {
		if err := doc.ReadFromBytes(data); err == nil && doc.Root() != nil {
			enc := declaredEncoding(data)
			if enc == "" {
				enc = "utf-8"
			}
			return doc, FidelityExact, enc, nil
		} else if err != nil {
			log.Debug("Unable to read document as declared", zap.Error(err))
		}
	}

	text, enc := rec.Decode(data)
	doc, fidelity, err := ReadLenient(forceUTF8Declaration(text), log)
	return doc, fidelity, enc, err
}

// recoverTree is a tolerant tree builder on top of raw XML tokens: end tags
// close the nearest matching open element (unmatched ones are ignored),
// elements left open at the end are closed. Syntax error stops reading and
// keeps what was built so far.
func recoverTree(text string, log *zap.Logger) (*etree.Document, Fidelity, error) {
	dec := xml.NewDecoder(strings.NewReader(text))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = charset.NewReaderLabel

	doc := NewTree()
	stack := []*etree.Element{&doc.Element}
	fidelity := FidelityRecovered

	for {
		tok, err := dec.RawToken()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("Document truncated at syntax error", zap.Int64("offset", dec.InputOffset()), zap.Error(err))
				fidelity = FidelityPartial
			}
			break
		}

		parent := stack[len(stack)-1]
		switch t := tok.(type) {
		case xml.StartElement:
			el := parent.CreateElement(qualifiedName(t.Name))
			for _, a := range t.Attr {
				el.CreateAttr(qualifiedName(a.Name), a.Value)
			}
			stack = append(stack, el)
		case xml.EndElement:
			name := qualifiedName(t.Name)
			for i := len(stack) - 1; i > 0; i-- {
				if stack[i].FullTag() == name {
					stack = stack[:i]
					break
				}
			}
		case xml.CharData:
			if len(stack) == 1 {
				// text outside of root is not interesting
				continue
			}
			parent.CreateText(string(t))
		case xml.Comment:
			parent.CreateComment(string(t))
		case xml.ProcInst:
			if len(stack) == 1 {
				doc.CreateProcInst(t.Target, string(t.Inst))
			}
		case xml.Directive:
			if len(stack) == 1 {
				doc.CreateDirective(string(t))
			}
		}
	}

	if doc.Root() == nil {
		return nil, FidelityPartial, errNoRoot
	}
	return doc, fidelity, nil
}

func qualifiedName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}
