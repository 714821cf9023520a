package fb2

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"fbm/config"
)

func testLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.WrapOptions(zap.AddCaller(), zap.AddCallerSkip(1)))
}

func testConfig() *config.DocumentConfig {
	return &config.DocumentConfig{
		Encodings:    []string{"utf-8", "windows-1251", "iso-8859-1"},
		Markers:      []string{"<?xml", "<FictionBook"},
		KeepInMemory: true,
		Untitled:     "Untitled",
		Images: config.ImagesConfig{
			MinSize:     50,
			JPEGQuality: 85,
		},
	}
}

func newTestParser(t *testing.T, cfg *config.DocumentConfig, workDir string) *Parser {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	return NewParser(cfg, workDir, testLogger(t))
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 13), B: 200, A: 255})
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

// binaryElement wraps base64 at 76 columns the way most producers do.
func binaryElement(id, contentType string, data []byte) string {
	enc := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for len(enc) > 76 {
		lines = append(lines, enc[:76])
		enc = enc[76:]
	}
	lines = append(lines, enc)
	return fmt.Sprintf("<binary id=%q content-type=%q>\n%s\n</binary>", id, contentType, strings.Join(lines, "\n"))
}

func fb2Source(title, body string, binaries ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<FictionBook xmlns="http://www.gribuser.ru/xml/fictionbook/2.0" xmlns:l="http://www.w3.org/1999/xlink">
<description><title-info><genre>prose</genre><author><first-name>Ivan</first-name><last-name>Petrov</last-name></author><book-title>` +
		title + `</book-title><lang>ru</lang></title-info></description>
<body>` + body + `</body>
` + strings.Join(binaries, "\n") + `
</FictionBook>`
}
