package merge

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"fbm/fb2"
)

func TestMerge_SameImageIDs(t *testing.T) {
	cfg := testConfig(t)
	pic1, pic2 := pngBytes(t, 8, 8), jpegBytes(t, 16, 16)

	docs := []*fb2.Document{
		parseDoc(t, cfg, "", "saga1.fb2", fb2Source("Saga: Book 1",
			`<section><p>One</p><image l:href="#img1"/></section>`,
			binaryElement("img1", "image/png", pic1))),
		parseDoc(t, cfg, "", "saga2.fb2", fb2Source("Saga: Book 2",
			`<section><p>Two</p><image l:href="#img1"/></section>`,
			binaryElement("img1", "image/jpeg", pic2))),
	}

	out := filepath.Join(t.TempDir(), "merged.fb2")
	res, err := newTestMerger(t, cfg).Merge(docs, "", out)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if res.Title != "Saga" || res.Resources != 2 || res.Sections != 2 || len(res.Failed) != 0 {
		t.Errorf("Merge() = %+v", res)
	}

	root, text := readOutput(t, out)
	if !strings.HasPrefix(text, `<?xml version="1.0" encoding="UTF-8"?>`+"\n") {
		t.Errorf("output does not start with declaration:\n%s", text[:min(len(text), 80)])
	}
	if strings.Contains(text, "@@IMAGE_") {
		t.Errorf("placeholder tokens left in output:\n%s", text)
	}
	if got := root.SelectAttrValue("xmlns", ""); got != fb2.NamespaceFB2 {
		t.Errorf("xmlns = %q", got)
	}
	if got := root.SelectAttrValue("xmlns:xlink", ""); got != fb2.NamespaceXLink {
		t.Errorf("xmlns:xlink = %q", got)
	}
	if got := root.FindElement("./description/title-info/book-title"); got == nil || got.Text() != "Saga" {
		t.Errorf("book-title = %v", got)
	}
	if got := root.FindElement("./description/title-info/lang"); got == nil || got.Text() != "en" {
		t.Errorf("lang = %v", got)
	}

	bins := root.SelectElements("binary")
	if len(bins) != 2 {
		t.Fatalf("binaries = %d, want 2", len(bins))
	}
	want := []struct {
		id, ct string
		data   []byte
	}{
		{"img_0001", "image/png", pic1},
		{"img_0002", "image/jpeg", pic2},
	}
	for i, w := range want {
		if id := bins[i].SelectAttrValue("id", ""); id != w.id {
			t.Errorf("binary %d id = %q, want %q", i, id, w.id)
		}
		if ct := bins[i].SelectAttrValue("content-type", ""); ct != w.ct {
			t.Errorf("binary %d content-type = %q, want %q", i, ct, w.ct)
		}
		data, err := base64.StdEncoding.DecodeString(bins[i].Text())
		if err != nil || !bytes.Equal(data, w.data) {
			t.Errorf("binary %d payload differs (err %v)", i, err)
		}
	}

	secs := sections(t, root)
	if len(secs) != 2 {
		t.Fatalf("sections = %d, want 2", len(secs))
	}
	for i, sec := range secs {
		img := sec.FindElement(".//image")
		if img == nil {
			t.Fatalf("section %d has no image", i)
		}
		if href := img.SelectAttrValue("xlink:href", ""); href != "#"+want[i].id {
			t.Errorf("section %d image href = %q, want %q", i, href, "#"+want[i].id)
		}
	}
}

func TestMerge_FailedDocument(t *testing.T) {
	cfg := testConfig(t)
	docs := []*fb2.Document{
		parseDoc(t, cfg, "", "good.fb2", fb2Source("Good",
			`<section><p>Intact</p><image l:href="#pic"/></section>`,
			binaryElement("pic", "image/png", pngBytes(t, 8, 8)))),
		{Name: "bad.fb2", Title: "Broken", Body: "<p>ok</p>\x01<p>lost</p>"},
		{Name: "empty.fb2", Title: "Empty"},
	}

	out := filepath.Join(t.TempDir(), "merged.fb2")
	res, err := newTestMerger(t, cfg).Merge(docs, "", out)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if !slices.Equal(res.Failed, []string{"bad.fb2", "empty.fb2"}) {
		t.Errorf("Failed = %v", res.Failed)
	}

	root, _ := readOutput(t, out)
	secs := sections(t, root)
	if len(secs) != 3 {
		t.Fatalf("sections = %d, want 3", len(secs))
	}
	if p := paragraphs(secs[0].FindElement("./section")); !slices.Equal(p, []string{"Intact"}) {
		t.Errorf("good section paragraphs = %q", p)
	}
	if href := secs[0].FindElement(".//image").SelectAttrValue("xlink:href", ""); href != "#img_0001" {
		t.Errorf("good section image href = %q", href)
	}
	if p := paragraphs(secs[1]); !slices.Equal(p, []string{"[Failed to load book: Broken]"}) {
		t.Errorf("failed section paragraphs = %q", p)
	}
	if p := paragraphs(secs[2]); !slices.Equal(p, []string{"[Content of book 'Empty' is missing]"}) {
		t.Errorf("missing section paragraphs = %q", p)
	}
}

func TestMerge_LeakedBinaryText(t *testing.T) {
	cfg := testConfig(t)

	raw := make([]byte, 375)
	if _, err := rand.Read(raw); err != nil {
		t.Fatal(err)
	}
	enc := base64.StdEncoding.EncodeToString(raw)
	// 95% of base64 alphabet
	var leaked strings.Builder
	for i := 0; i < len(enc); i += 19 {
		leaked.WriteString(enc[i:min(i+19, len(enc))])
		leaked.WriteByte(' ')
	}
	prose := strings.Repeat("word and more ", 36)

	docs := []*fb2.Document{{
		Name:  "leak.fb2",
		Title: "Leak",
		Body:  "<section><p>" + leaked.String() + "</p><p>" + prose + "</p></section>",
	}}

	out := filepath.Join(t.TempDir(), "merged.fb2")
	if _, err := newTestMerger(t, cfg).Merge(docs, "", out); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	root, text := readOutput(t, out)
	if strings.Contains(text, enc[:19]) {
		t.Error("leaked binary text survived")
	}
	p := paragraphs(sections(t, root)[0].SelectElement("section"))
	if len(p) != 2 || p[0] != "" || p[1] != prose {
		t.Errorf("paragraphs = %q", p)
	}
}

func TestMerge_PrefixIDs(t *testing.T) {
	cfg := testConfig(t)
	body := `<section id="n1"><p><a l:href="#n1">self</a> <a l:href="#elsewhere">out</a></p><image l:href="#pic"/></section>`
	docs := []*fb2.Document{
		parseDoc(t, cfg, "", "a.fb2", fb2Source("Alpha", body, binaryElement("pic", "image/png", pngBytes(t, 8, 8)))),
		parseDoc(t, cfg, "", "b.fb2", fb2Source("Beta", body, binaryElement("pic", "image/png", pngBytes(t, 9, 9)))),
	}

	out := filepath.Join(t.TempDir(), "merged.fb2")
	if _, err := newTestMerger(t, cfg).Merge(docs, "", out); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	root, _ := readOutput(t, out)
	for i, sec := range sections(t, root) {
		prefix := []string{"b1_", "b2_"}[i]
		inner := sec.SelectElement("section")
		if id := inner.SelectAttrValue("id", ""); id != prefix+"n1" {
			t.Errorf("section %d id = %q", i, id)
		}
		links := inner.FindElements(".//a")
		if href := links[0].SelectAttrValue("xlink:href", ""); href != "#"+prefix+"n1" {
			t.Errorf("section %d internal link = %q", i, href)
		}
		if href := links[1].SelectAttrValue("xlink:href", ""); href != "#elsewhere" {
			t.Errorf("section %d dangling link = %q", i, href)
		}
		if href := inner.SelectElement("image").SelectAttrValue("xlink:href", ""); href != []string{"#img_0001", "#img_0002"}[i] {
			t.Errorf("section %d image href = %q", i, href)
		}
	}
}

func TestMerge_PrefixIDsKeepImageRefs(t *testing.T) {
	cfg := testConfig(t)
	// element id collides with global id the cover gets
	body := `<section id="img_0001"><p><a l:href="#img_0001">top</a></p><image l:href="#cover"/></section>`
	docs := []*fb2.Document{
		parseDoc(t, cfg, "", "a.fb2", fb2Source("Alpha", body, binaryElement("cover", "image/png", pngBytes(t, 8, 8)))),
	}

	out := filepath.Join(t.TempDir(), "merged.fb2")
	if _, err := newTestMerger(t, cfg).Merge(docs, "", out); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	root, _ := readOutput(t, out)
	inner := sections(t, root)[0].SelectElement("section")
	if id := inner.SelectAttrValue("id", ""); id != "b1_img_0001" {
		t.Errorf("section id = %q", id)
	}
	if href := inner.FindElement(".//a").SelectAttrValue("xlink:href", ""); href != "#b1_img_0001" {
		t.Errorf("internal link = %q", href)
	}
	if href := inner.SelectElement("image").SelectAttrValue("xlink:href", ""); href != "#img_0001" {
		t.Errorf("image href = %q", href)
	}
	if root.FindElement("binary[@id='img_0001']") == nil {
		t.Error("binary img_0001 is missing")
	}
}

func TestMerge_EscapedImageIDs(t *testing.T) {
	cfg := testConfig(t)
	body := `<section><p>text</p><image l:href="#a&amp;b"/><image l:href="#x&lt;y&quot;"/></section>`
	docs := []*fb2.Document{
		parseDoc(t, cfg, "", "a.fb2", fb2Source("Alpha", body,
			binaryElement("a&amp;b", "image/png", pngBytes(t, 8, 8)),
			`<binary id='x&lt;y&quot;' content-type="image/png">`+base64.StdEncoding.EncodeToString(pngBytes(t, 9, 9))+`</binary>`)),
	}

	out := filepath.Join(t.TempDir(), "merged.fb2")
	if _, err := newTestMerger(t, cfg).Merge(docs, "", out); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	root, text := readOutput(t, out)
	if strings.Contains(text, "@@IMAGE_") {
		t.Errorf("placeholder tokens left in output:\n%s", text)
	}
	images := root.FindElements(".//image")
	if len(images) != 2 {
		t.Fatalf("images = %d, want 2", len(images))
	}
	for i, want := range []string{"#img_0001", "#img_0002"} {
		if href := images[i].SelectAttrValue("xlink:href", ""); href != want {
			t.Errorf("image %d href = %q, want %q", i, href, want)
		}
		if root.FindElement("binary[@id='"+want[1:]+"']") == nil {
			t.Errorf("binary %s is missing", want[1:])
		}
	}
}

func TestMerge_SectionTitles(t *testing.T) {
	cfg := testConfig(t)
	docs := []*fb2.Document{
		{Name: "a.fb2", Title: "Untitled body", Body: "<p>text</p>"},
		{Name: "b.fb2", Title: "Has title", Body: "<title><p>Own</p></title><p>text</p>"},
	}

	out := filepath.Join(t.TempDir(), "merged.fb2")
	if _, err := newTestMerger(t, cfg).Merge(docs, "", out); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	root, _ := readOutput(t, out)
	secs := sections(t, root)
	if got := paragraphs(secs[0].SelectElement("title")); !slices.Equal(got, []string{"Untitled body"}) {
		t.Errorf("added title = %q", got)
	}
	if titles := secs[1].SelectElements("title"); len(titles) != 1 || paragraphs(titles[0])[0] != "Own" {
		t.Errorf("own title replaced or duplicated")
	}
}

func TestMerge_LeftoverTokens(t *testing.T) {
	cfg := testConfig(t)
	docs := []*fb2.Document{{
		Name:  "ghost.fb2",
		Title: "Ghost",
		Body:  `<p>see <image xlink:href="@@IMAGE_ghost@@"/></p>`,
	}}

	out := filepath.Join(t.TempDir(), "merged.fb2")
	if _, err := newTestMerger(t, cfg).Merge(docs, "", out); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	root, text := readOutput(t, out)
	if strings.Contains(text, "@@IMAGE_") {
		t.Errorf("placeholder tokens left in output:\n%s", text)
	}
	if href := root.FindElement(".//image").SelectAttrValue("xlink:href", ""); href != "#ghost" {
		t.Errorf("image href = %q", href)
	}
}

func TestMerge_UnwrapsWholeDocument(t *testing.T) {
	cfg := testConfig(t)
	docs := []*fb2.Document{{
		Name:  "raw.fb2",
		Title: "Raw",
		Body: fb2Source("Raw", `<section><p>Raw text</p><image l:href="#pic"/></section>`,
			binaryElement("pic", "image/png", pngBytes(t, 8, 8))),
	}}

	out := filepath.Join(t.TempDir(), "merged.fb2")
	res, err := newTestMerger(t, cfg).Merge(docs, "", out)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if res.Resources != 0 || len(res.Failed) != 0 {
		t.Errorf("Merge() = %+v", res)
	}
	root, _ := readOutput(t, out)
	sec := sections(t, root)[0]
	if sec.FindElement(".//description") != nil || sec.FindElement(".//binary") != nil || sec.FindElement(".//FictionBook") != nil {
		t.Error("document structure leaked into section")
	}
	if p := paragraphs(sec.SelectElement("section")); !slices.Equal(p, []string{"Raw text"}) {
		t.Errorf("paragraphs = %q", p)
	}
	if href := sec.FindElement(".//image").SelectAttrValue("xlink:href", ""); href != "#pic" {
		t.Errorf("image href = %q", href)
	}
	if len(root.SelectElements("binary")) != 0 {
		t.Error("unexpected binaries")
	}
}

func TestMerge_LooseText(t *testing.T) {
	cfg := testConfig(t)
	docs := []*fb2.Document{{Name: "plain.txt", Title: "Plain", Body: "just some text"}}

	out := filepath.Join(t.TempDir(), "merged.fb2")
	if _, err := newTestMerger(t, cfg).Merge(docs, "", out); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	root, _ := readOutput(t, out)
	if p := paragraphs(sections(t, root)[0]); !slices.Equal(p, []string{"just some text"}) {
		t.Errorf("paragraphs = %q", p)
	}
}

func TestMerge_Deferred(t *testing.T) {
	cfg := testConfig(t)
	cfg.KeepInMemory = false
	work := t.TempDir()

	doc := parseDoc(t, cfg, work, "deferred.fb2", fb2Source("Deferred", `<section><p>From disk</p></section>`))
	if doc.Deferred == nil {
		t.Fatal("body was not spilled")
	}

	out := filepath.Join(t.TempDir(), "merged.fb2")
	if _, err := newTestMerger(t, cfg).Merge([]*fb2.Document{doc}, "", out); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	root, _ := readOutput(t, out)
	if p := paragraphs(sections(t, root)[0].SelectElement("section")); !slices.Equal(p, []string{"From disk"}) {
		t.Errorf("paragraphs = %q", p)
	}
}

func TestMerge_DeferredMissing(t *testing.T) {
	cfg := testConfig(t)
	doc := &fb2.Document{Name: "gone.fb2", Title: "Gone", Deferred: fb2.FileBody{Path: filepath.Join(t.TempDir(), "nope.xml")}}

	out := filepath.Join(t.TempDir(), "merged.fb2")
	res, err := newTestMerger(t, cfg).Merge([]*fb2.Document{doc}, "", out)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if !slices.Equal(res.Failed, []string{"gone.fb2"}) {
		t.Errorf("Failed = %v", res.Failed)
	}
}

func TestMerge_Options(t *testing.T) {
	cfg := testConfig(t)
	cfg.Merge.BinariesFirst = false
	cfg.Merge.IDPrefix = "pic-"
	cfg.Merge.IDDigits = 2
	cfg.Images.MaxHeight = 8

	docs := []*fb2.Document{
		parseDoc(t, cfg, "", "a.fb2", fb2Source("Alpha", `<section><p>a</p><image l:href="#x"/></section>`,
			binaryElement("x", "image/jpeg", jpegBytes(t, 16, 16)))),
	}

	m := newTestMerger(t, cfg)
	m.now = func() time.Time { return time.Date(2031, 5, 4, 0, 0, 0, 0, time.UTC) }

	out := filepath.Join(t.TempDir(), "merged.fb2")
	res, err := m.Merge(docs, "My Omnibus", out)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if res.Title != "My Omnibus" {
		t.Errorf("Title = %q", res.Title)
	}

	root, _ := readOutput(t, out)
	children := root.ChildElements()
	last := children[len(children)-1]
	if last.Tag != "binary" || last.SelectAttrValue("id", "") != "pic-01" {
		t.Errorf("last element = <%s id=%q>", last.Tag, last.SelectAttrValue("id", ""))
	}
	data, err := base64.StdEncoding.DecodeString(last.Text())
	if err != nil {
		t.Fatal(err)
	}
	if w, h, ok := fb2.Dimensions(data); !ok || w != 8 || h != 8 {
		t.Errorf("image was not downscaled: %dx%d", w, h)
	}
	if got := root.FindElement("./description/title-info/book-title").Text(); got != "My Omnibus" {
		t.Errorf("book-title = %q", got)
	}
	if got := root.FindElement("./description/title-info/date").SelectAttrValue("value", ""); got != "2031" {
		t.Errorf("date = %q", got)
	}
	if got := root.FindElement("./description/document-info/date").Text(); got != "2031-05-04" {
		t.Errorf("document date = %q", got)
	}
	if id := root.FindElement("./description/document-info/id").Text(); len(id) != 36 {
		t.Errorf("document id = %q", id)
	}
	annotation := paragraphs(root.FindElement("./description/title-info/annotation"))
	if !slices.Equal(annotation, []string{"Combined collection of 1 books", "1. Alpha"}) {
		t.Errorf("annotation = %q", annotation)
	}
}

func TestMerge_Errors(t *testing.T) {
	cfg := testConfig(t)
	m := newTestMerger(t, cfg)

	if _, err := m.Merge(nil, "", filepath.Join(t.TempDir(), "x.fb2")); err == nil {
		t.Error("expected error for empty input")
	}

	out := filepath.Join(t.TempDir(), "missing", "merged.fb2")
	docs := []*fb2.Document{{Name: "a.fb2", Title: "A", Body: "<p>a</p>"}}
	if _, err := m.Merge(docs, "", out); err == nil {
		t.Error("expected error for unwritable output")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("partial output left behind: %v", err)
	}

	cfg.Merge.FailedNoticeTemplate = "{{ .Nope }}"
	out = filepath.Join(t.TempDir(), "merged.fb2")
	docs = []*fb2.Document{{Name: "bad.fb2", Title: "Bad", Body: "<p>\x01</p>"}}
	if _, err := newTestMerger(t, cfg).Merge(docs, "", out); err == nil {
		t.Error("expected template error")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("output written despite error: %v", err)
	}
}
