package fb2

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"github.com/beevik/etree"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"fbm/config"
)

// Parser turns raw FB2 sources into documents ready to be merged. It never
// gives up on a source: whatever could not be parsed ends up as degraded
// document carrying decoded raw text.
type Parser struct {
	cfg     *config.DocumentConfig
	rec     *Recovery
	cls     *Classifier
	workDir string
	log     *zap.Logger
}

// NewParser creates parser. When configuration asks not to keep bodies in
// memory they are spilled into workDir.
func NewParser(cfg *config.DocumentConfig, workDir string, log *zap.Logger) *Parser {
	log = log.Named("parse")
	return &Parser{
		cfg:     cfg,
		rec:     NewRecovery(cfg.Encodings, cfg.Markers, log),
		cls:     NewClassifier(&cfg.Images),
		workDir: workDir,
		log:     log,
	}
}

// Classifier returns resource classifier parser uses.
func (p *Parser) Classifier() *Classifier {
	return p.cls
}

// ParseFile reads and parses file at path. Name is what document is known
// as, it may differ from path for extracted archive entries. Empty name
// means path.
func (p *Parser) ParseFile(path, name string) *Document {
	if name == "" {
		name = path
	}
	data, err := os.ReadFile(path)
	if err != nil {
		p.log.Warn("Unable to read document", zap.String("source", name), zap.String("path", path), zap.Error(err))
		return p.degrade(nil, name)
	}
	return p.Parse(data, name)
}

// Parse parses document data, name is used for messages and title fallback.
func (p *Parser) Parse(data []byte, name string) (doc *Document) {
	log := p.log.With(zap.String("source", name))

	defer func() {
		if r := recover(); r != nil {
			log.Error("Unable to parse document, using raw content", zap.Any("panic", r))
			doc = p.degrade(data, name)
		}
	}()

	tree, fidelity, enc, err := readBytes(data, p.rec, log)
	if err != nil {
		log.Warn("Unable to parse document, using raw content", zap.Error(err))
		return p.degrade(data, name)
	}
	if fidelity != FidelityExact {
		log.Warn("Document is malformed", zap.Stringer("fidelity", fidelity))
	}

	root := tree.Root()
	NormalizeNamespaces(root)

	doc = &Document{
		Name:     name,
		Title:    p.title(root, name),
		Encoding: enc,
		Fidelity: fidelity,
	}
	p.parseTitleInfo(root, doc, log)
	p.parseBinaries(root, doc, log)
	replaceReferences(root, doc, log)

	p.keepBody(doc, serializeBodies(root), log)

	log.Debug("Document parsed",
		zap.String("title", doc.Title),
		zap.String("encoding", doc.Encoding),
		zap.Int("resources", len(doc.resources)),
		zap.Stringer("lang", doc.Lang))
	return doc
}

// degrade produces document from raw data which could not be parsed.
func (p *Parser) degrade(data []byte, name string) *Document {
	doc := &Document{
		Name:     name,
		Title:    p.fallbackTitle(name),
		Fidelity: FidelityPartial,
		degraded: true,
	}
	if len(data) > 0 {
		doc.Body, doc.Encoding = p.rec.Decode(data)
	}
	return doc
}

func (p *Parser) fallbackTitle(name string) string {
	base := filepath.Base(name)
	if stem := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base))); stem != "" && stem != "." {
		return stem
	}
	return p.cfg.Untitled
}

func (p *Parser) title(root *etree.Element, name string) string {
	for _, el := range root.FindElements(".//book-title") {
		if t := strings.TrimSpace(el.Text()); t != "" && t != "Unknown Title" {
			return t
		}
	}
	if el := root.FindElement(".//title-info/book-title"); el != nil {
		if t := strings.TrimSpace(el.Text()); t != "" {
			return t
		}
	}
	return p.fallbackTitle(name)
}

func (p *Parser) parseTitleInfo(root *etree.Element, doc *Document, log *zap.Logger) {
	info := root.FindElement(".//description/title-info")
	if info == nil {
		log.Debug("Document has no title-info")
		return
	}
	for _, child := range info.ChildElements() {
		switch child.Tag {
		case "author":
			doc.Authors = append(doc.Authors, parseAuthor(child))
		case "lang":
			doc.Lang = parseBookLang(child.Text(), log)
		}
	}
}

func parseAuthor(el *etree.Element) Author {
	author := Author{}
	for _, child := range el.ChildElements() {
		switch child.Tag {
		case "first-name":
			author.FirstName = strings.TrimSpace(child.Text())
		case "middle-name":
			author.MiddleName = strings.TrimSpace(child.Text())
		case "last-name":
			author.LastName = strings.TrimSpace(child.Text())
		case "nickname":
			author.Nickname = strings.TrimSpace(child.Text())
		}
	}
	return author
}

func parseBookLang(in string, log *zap.Logger) language.Tag {
	lang := strings.TrimSpace(in)
	if lang == "" {
		return language.Und
	}

	tag, err := language.Parse(lang)
	if err == nil {
		return tag
	}

	// last resort - try names directly
	for _, supportedTag := range display.Supported.Tags() {
		if strings.EqualFold(display.Self.Name(supportedTag), lang) {
			return supportedTag
		}
	}
	log.Debug("Unable to parse book language", zap.String("lang", lang))
	return language.Und
}

// parseBinaries collects acceptable resources and removes every binary
// element from the tree, so none of them could leak into body.
func (p *Parser) parseBinaries(root *etree.Element, doc *Document, log *zap.Logger) {
	for _, el := range root.FindElements(".//binary") {
		if parent := el.Parent(); parent != nil {
			parent.RemoveChild(el)
		}

		id := strings.TrimSpace(el.SelectAttrValue("id", ""))
		if id == "" {
			log.Debug("Binary without id, skipping")
			continue
		}
		data, err := decodeBase64(el.Text())
		if err != nil {
			log.Debug("Unable to decode binary, skipping", zap.String("id", id), zap.Error(err))
			continue
		}
		if !p.cls.Accept(data) {
			log.Debug("Binary is not acceptable, skipping", zap.String("id", id), zap.Int("size", len(data)))
			continue
		}

		declared := el.SelectAttrValue("content-type", "")
		ext, mediaType := p.cls.Classify(data, declared)
		if !strings.EqualFold(declared, mediaType) {
			log.Debug("Binary content type corrected", zap.String("id", id), zap.String("declared", declared), zap.String("detected", mediaType))
		}
		res := &BinaryResource{
			ID:          id,
			ContentType: mediaType,
			Data:        data,
			Ext:         ext,
			Ref:         "#" + id,
		}
		if !doc.AddResource(res) {
			log.Debug("Duplicate binary id, keeping first", zap.String("id", id))
		}
	}
}

func decodeBase64(text string) ([]byte, error) {
	normalized := normalizeBase64(text)
	if normalized == "" {
		return nil, fmt.Errorf("empty payload")
	}
	data, err := base64.StdEncoding.DecodeString(normalized)
	if err != nil {
		// some producers do not bother with padding
		if data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(normalized, "=")); err != nil {
			return nil, err
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	return data, nil
}

func normalizeBase64(input string) string {
	var builder strings.Builder
	builder.Grow(len(input))
	for _, r := range input {
		if !unicode.IsSpace(r) {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

// replaceReferences puts tokens in place of image references to accepted
// resources. References to anything else are left alone.
func replaceReferences(root *etree.Element, doc *Document, log *zap.Logger) {
	for _, el := range root.FindElements(".//image") {
		for i := range el.Attr {
			attr := &el.Attr[i]
			if attr.Key != "href" {
				continue
			}
			attr.Space = "xlink"
			id, internal := strings.CutPrefix(strings.TrimSpace(attr.Value), "#")
			if !internal {
				continue
			}
			if res, ok := doc.Resource(id); ok {
				attr.Value = res.Token()
			} else {
				log.Debug("Image references unknown resource", zap.String("href", attr.Value))
			}
		}
	}
}

// NormalizeNamespaces renames whatever prefix document uses for xlink to
// "xlink" and drops prefixes bound to FB2 namespace, so body fragments read
// the same regardless of the source.
func NormalizeNamespaces(root *etree.Element) {
	xlinkPrefixes := map[string]bool{"xlink": true}
	fb2Prefixes := map[string]bool{}
	walkElements(root, func(el *etree.Element) {
		for _, attr := range el.Attr {
			if attr.Space != "xmlns" {
				continue
			}
			switch attr.Value {
			case NamespaceXLink:
				xlinkPrefixes[attr.Key] = true
			case NamespaceFB2:
				fb2Prefixes[attr.Key] = true
			}
		}
	})

	walkElements(root, func(el *etree.Element) {
		if fb2Prefixes[el.Space] {
			el.Space = ""
		}
		attrs := el.Attr[:0]
		for _, attr := range el.Attr {
			switch {
			case attr.Space == "xmlns" && fb2Prefixes[attr.Key]:
				continue
			case attr.Space == "xmlns" && xlinkPrefixes[attr.Key]:
				attr.Key = "xlink"
			case xlinkPrefixes[attr.Space]:
				attr.Space = "xlink"
			case fb2Prefixes[attr.Space]:
				attr.Space = ""
			}
			attrs = append(attrs, attr)
		}
		el.Attr = attrs
	})
}

func walkElements(el *etree.Element, fn func(*etree.Element)) {
	fn(el)
	for _, child := range el.ChildElements() {
		walkElements(child, fn)
	}
}

// serializeBodies renders content of all bodies.
func serializeBodies(root *etree.Element) string {
	frag := NewTree()
	MoveBodies(root, &frag.Element)
	text, err := frag.WriteToString()
	if err != nil {
		// writing into memory does not fail
		panic(err)
	}
	return text
}

// MoveBodies moves content of all bodies under root into dst. The first one
// is the main body and gives its children as is, others (notes, comments)
// are wrapped into sections titled with body name.
func MoveBodies(root, dst *etree.Element) {
	for i, body := range root.SelectElements("body") {
		if i == 0 {
			for _, tok := range slices.Clone(body.Child) {
				dst.AddChild(tok)
			}
			continue
		}
		section := dst.CreateElement("section")
		if name := strings.TrimSpace(body.SelectAttrValue("name", "")); name != "" {
			section.CreateElement("title").CreateElement("p").SetText(name)
		}
		for _, tok := range slices.Clone(body.Child) {
			section.AddChild(tok)
		}
	}
}

// keepBody either keeps body in memory or spills it into work directory.
func (p *Parser) keepBody(doc *Document, body string, log *zap.Logger) {
	if p.cfg.KeepInMemory || p.workDir == "" {
		doc.Body = body
		return
	}
	f, err := os.CreateTemp(p.workDir, "body-*.xml")
	if err == nil {
		_, err = f.WriteString(body)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		log.Warn("Unable to spill document body, keeping it in memory", zap.Error(err))
		doc.Body = body
		return
	}
	doc.Deferred = FileBody{Path: f.Name()}
}
