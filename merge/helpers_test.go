package merge

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"fbm/config"
	"fbm/fb2"
)

func testLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.WrapOptions(zap.AddCaller(), zap.AddCallerSkip(1)))
}

func testConfig(t *testing.T) *config.DocumentConfig {
	t.Helper()
	cfg, err := config.LoadConfiguration("")
	if err != nil {
		t.Fatalf("LoadConfiguration() error = %v", err)
	}
	return &cfg.Document
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x * 11), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, testImage(w, h)); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, testImage(w, h), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

func binaryElement(id, contentType string, data []byte) string {
	return fmt.Sprintf("<binary id=%q content-type=%q>%s</binary>", id, contentType, base64.StdEncoding.EncodeToString(data))
}

func fb2Source(title, body string, binaries ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<FictionBook xmlns="http://www.gribuser.ru/xml/fictionbook/2.0" xmlns:l="http://www.w3.org/1999/xlink">
<description><title-info><book-title>` + title + `</book-title><lang>en</lang></title-info></description>
<body>` + body + `</body>
` + strings.Join(binaries, "\n") + `
</FictionBook>`
}

func parseDoc(t *testing.T, cfg *config.DocumentConfig, workDir, name, src string) *fb2.Document {
	t.Helper()
	return fb2.NewParser(cfg, workDir, testLogger(t)).Parse([]byte(src), name)
}

func newTestMerger(t *testing.T, cfg *config.DocumentConfig) *Merger {
	t.Helper()
	return NewMerger(cfg, testLogger(t))
}

// readOutput returns root of produced book and its raw text.
func readOutput(t *testing.T, path string) (*etree.Element, string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unable to read output: %v", err)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		t.Fatalf("output is not well formed: %v\n%s", err, data)
	}
	if doc.Root() == nil || doc.Root().Tag != "FictionBook" {
		t.Fatalf("unexpected output root:\n%s", data)
	}
	return doc.Root(), string(data)
}

func sections(t *testing.T, root *etree.Element) []*etree.Element {
	t.Helper()
	body := root.SelectElement("body")
	if body == nil {
		t.Fatal("output has no body")
	}
	return body.SelectElements("section")
}

func paragraphs(el *etree.Element) []string {
	var out []string
	for _, p := range el.SelectElements("p") {
		out = append(out, p.Text())
	}
	return out
}
