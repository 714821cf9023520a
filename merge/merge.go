// Package merge combines parsed FB2 documents into a single book.
package merge

import (
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"fbm/config"
	"fbm/fb2"
	"fbm/misc"
	"fbm/title"
)

// Result describes produced book.
type Result struct {
	Title     string
	Resources int      // number of merged binaries
	Sections  int      // one per document
	Failed    []string // documents replaced by notices
}

// Merger produces merged books. It keeps no state between calls.
type Merger struct {
	cfg *config.DocumentConfig
	cls *fb2.Classifier
	log *zap.Logger
	now func() time.Time
}

func NewMerger(cfg *config.DocumentConfig, log *zap.Logger) *Merger {
	return &Merger{
		cfg: cfg,
		cls: fb2.NewClassifier(&cfg.Images),
		log: log.Named("merge"),
		now: time.Now,
	}
}

// Merge writes documents in order into single book at outPath. Title is
// derived from document titles unless override is not blank. Failure of
// individual document results in notice in its section, any other failure
// is returned and no output is left behind.
func (m *Merger) Merge(docs []*fb2.Document, override, outPath string) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Merge panicked", zap.Any("panic", r))
			result, err = nil, fmt.Errorf("unable to merge documents: %v", r)
		}
	}()

	if len(docs) == 0 {
		return nil, errors.New("nothing to merge")
	}

	titles := make([]string, 0, len(docs))
	for _, doc := range docs {
		titles = append(titles, doc.Title)
	}
	bookTitle := title.NewResolver(m.cfg.Merge.DefaultTitle).Resolve(titles, override)

	table := buildTable(docs, m.cfg, m.cls, m.log)

	tree, result, err := m.build(docs, table, bookTitle, titles)
	if err != nil {
		return nil, err
	}
	if err := writeFile(outPath, tree); err != nil {
		return nil, err
	}

	m.log.Info("Documents merged",
		zap.String("title", result.Title),
		zap.String("to", outPath),
		zap.Int("sections", result.Sections),
		zap.Int("resources", result.Resources),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

func (m *Merger) build(docs []*fb2.Document, table *ResourceTable, bookTitle string, titles []string) (*etree.Document, *Result, error) {
	result := &Result{
		Title:     bookTitle,
		Resources: table.Len(),
		Sections:  len(docs),
	}

	tree := fb2.NewTree()
	tree.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	tree.CreateText("\n")

	root := tree.CreateElement("FictionBook")
	root.CreateAttr("xmlns", fb2.NamespaceFB2)
	root.CreateAttr("xmlns:xlink", fb2.NamespaceXLink)

	if err := m.description(root, docs, bookTitle, titles); err != nil {
		return nil, nil, err
	}
	if m.cfg.Merge.BinariesFirst {
		addBinaries(root, table)
	}

	body := root.CreateElement("body")
	for i, doc := range docs {
		ok, err := m.section(body.CreateElement("section"), i, doc, table)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			result.Failed = append(result.Failed, doc.Name)
		}
	}

	if !m.cfg.Merge.BinariesFirst {
		addBinaries(root, table)
	}

	indent(root, 0)
	tree.CreateText("\n")
	return tree, result, nil
}

func (m *Merger) description(root *etree.Element, docs []*fb2.Document, bookTitle string, titles []string) error {
	now := m.now()
	year := strconv.Itoa(now.Year())

	desc := root.CreateElement("description")
	info := desc.CreateElement("title-info")
	if m.cfg.Merge.Genre != "" {
		info.CreateElement("genre").SetText(m.cfg.Merge.Genre)
	}
	m.author(info)
	info.CreateElement("book-title").SetText(bookTitle)

	annotation := info.CreateElement("annotation")
	if m.cfg.Merge.AnnotationTemplate != "" {
		text, err := fb2.ExpandTemplate(config.AnnotationTemplateFieldName, m.cfg.Merge.AnnotationTemplate, fb2.TemplateValues{
			Title:  bookTitle,
			Count:  len(docs),
			Titles: titles,
			Date:   now.Format(time.DateOnly),
		})
		if err != nil {
			return err
		}
		annotation.CreateElement("p").SetText(text)
	}
	for i, t := range titles {
		annotation.CreateElement("p").SetText(fmt.Sprintf("%d. %s", i+1, t))
	}

	date := info.CreateElement("date")
	date.CreateAttr("value", year)
	date.SetText(year)

	if lang := sharedLanguage(docs); lang != language.Und {
		info.CreateElement("lang").SetText(lang.String())
	}

	docInfo := desc.CreateElement("document-info")
	m.author(docInfo)
	docInfo.CreateElement("program-used").SetText(misc.GetAppName() + " " + misc.GetVersion())
	date = docInfo.CreateElement("date")
	date.CreateAttr("value", now.Format(time.DateOnly))
	date.SetText(now.Format(time.DateOnly))

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	docInfo.CreateElement("id").SetText(id.String())
	docInfo.CreateElement("version").SetText("1.0")
	return nil
}

func (m *Merger) author(parent *etree.Element) {
	author := parent.CreateElement("author")
	if m.cfg.Merge.AuthorFirstName != "" {
		author.CreateElement("first-name").SetText(m.cfg.Merge.AuthorFirstName)
	}
	author.CreateElement("last-name").SetText(m.cfg.Merge.AuthorLastName)
}

// sharedLanguage returns the most common known language of documents, ties
// go to the one seen first.
func sharedLanguage(docs []*fb2.Document) language.Tag {
	counts := make(map[language.Tag]int)
	best := language.Und
	for _, doc := range docs {
		if doc.Lang == language.Und {
			continue
		}
		counts[doc.Lang]++
		if counts[doc.Lang] > counts[best] || best == language.Und {
			best = doc.Lang
		}
	}
	return best
}

func addBinaries(root *etree.Element, table *ResourceTable) {
	for _, res := range table.Resources() {
		bin := root.CreateElement("binary")
		bin.CreateAttr("id", res.ID)
		bin.CreateAttr("content-type", res.ContentType)
		bin.SetText(base64.StdEncoding.EncodeToString(res.Data))
	}
}

// section fills section with content of document at position i. When
// content could not be used notice is put in and false returned.
func (m *Merger) section(section *etree.Element, i int, doc *fb2.Document, table *ResourceTable) (bool, error) {
	log := m.log.With(zap.String("source", doc.Name))

	if err := doc.Materialize(); err != nil {
		log.Warn("Unable to load document body", zap.Error(err))
		return false, m.notice(section, config.FailedNoticeTemplateFieldName, m.cfg.Merge.FailedNoticeTemplate, i, doc)
	}
	if strings.TrimSpace(doc.Body) == "" {
		if doc.Degraded() {
			log.Warn("Document could not be read")
			return false, m.notice(section, config.FailedNoticeTemplateFieldName, m.cfg.Merge.FailedNoticeTemplate, i, doc)
		}
		log.Warn("Document has no content")
		return false, m.notice(section, config.MissingNoticeTemplateFieldName, m.cfg.Merge.MissingNoticeTemplate, i, doc)
	}

	frag, fidelity, err := readFragment(doc.Body, log)
	if err != nil || fidelity == fb2.FidelityPartial {
		log.Warn("Unable to read document body", zap.Stringer("fidelity", fidelity), zap.Error(err))
		return false, m.notice(section, config.FailedNoticeTemplateFieldName, m.cfg.Merge.FailedNoticeTemplate, i, doc)
	}

	fb2.NormalizeNamespaces(frag)
	frag = unwrapFictionBook(frag)
	removeNoise(frag)
	if n := blankBinaryText(frag, m.cfg.Sanitize.MinLength, m.cfg.Sanitize.Base64Ratio); n > 0 {
		log.Debug("Leaked binary data removed", zap.Int("nodes", n))
	}
	resolveTokens(frag, table, i)
	revertLeftovers(frag, log)
	if m.cfg.Merge.PrefixIDs {
		prefixIDs(frag, fmt.Sprintf("b%d_", i+1), table)
	}
	wrapLooseText(frag)

	if isEmpty(frag) {
		log.Warn("Document has no content")
		return false, m.notice(section, config.MissingNoticeTemplateFieldName, m.cfg.Merge.MissingNoticeTemplate, i, doc)
	}

	for _, tok := range slices.Clone(frag.Child) {
		section.AddChild(tok)
	}
	if m.cfg.Merge.SectionTitles && section.SelectElement("title") == nil {
		t := etree.NewElement("title")
		t.CreateElement("p").SetText(doc.Title)
		section.InsertChildAt(0, t)
	}
	return true, nil
}

func (m *Merger) notice(section *etree.Element, name config.TemplateFieldName, field string, i int, doc *fb2.Document) error {
	text, err := fb2.ExpandTemplate(name, field, fb2.TemplateValues{
		Index: i + 1,
		Title: doc.Title,
		Count: 1,
	})
	if err != nil {
		return err
	}
	if m.cfg.Merge.SectionTitles {
		section.CreateElement("title").CreateElement("p").SetText(doc.Title)
	}
	section.CreateElement("p").SetText(text)
	return nil
}
