package fb2

import (
	"bytes"
	"image"
	"strings"

	"github.com/h2non/filetype"

	"fbm/config"
)

const (
	defaultExt       = ".jpg"
	defaultMediaType = "image/jpeg"
)

type signature struct {
	offset int
	magic  []byte
	ext    string
	mime   string
	// optional second mark, for containers like RIFF
	tagOffset int
	tag       []byte
}

// signatures are checked in order, first match wins.
var signatures = []signature{
	{magic: []byte{0xFF, 0xD8}, ext: ".jpg", mime: "image/jpeg"},
	{magic: []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, ext: ".png", mime: "image/png"},
	{magic: []byte("GIF8"), ext: ".gif", mime: "image/gif"},
	{magic: []byte("BM"), ext: ".bmp", mime: "image/bmp"},
	{magic: []byte("RIFF"), tagOffset: 8, tag: []byte("WEBP"), ext: ".webp", mime: "image/webp"},
	{magic: []byte{'I', 'I', '*', 0x00}, ext: ".tiff", mime: "image/tiff"},
	{magic: []byte{'M', 'M', 0x00, '*'}, ext: ".tiff", mime: "image/tiff"},
	{magic: []byte{0x00, 0x00, 0x01, 0x00}, ext: ".ico", mime: "image/x-icon"},
}

// declaredKeywords map declared content type fragments to normalized types.
var declaredKeywords = []struct {
	keywords []string
	ext      string
	mime     string
}{
	{[]string{"jpeg", "jpg"}, ".jpg", "image/jpeg"},
	{[]string{"png"}, ".png", "image/png"},
	{[]string{"gif"}, ".gif", "image/gif"},
	{[]string{"bmp"}, ".bmp", "image/bmp"},
	{[]string{"webp"}, ".webp", "image/webp"},
	{[]string{"tiff", "tif"}, ".tiff", "image/tiff"},
	{[]string{"svg"}, ".svg", "image/svg+xml"},
}

// decodable lists formats we have registered header decoders for.
var decodable = map[string]bool{
	".jpg": true, ".png": true, ".gif": true, ".bmp": true, ".tiff": true, ".webp": true,
}

func (s *signature) match(data []byte) bool {
	if !hasAt(data, s.offset, s.magic) {
		return false
	}
	return len(s.tag) == 0 || hasAt(data, s.tagOffset, s.tag)
}

func hasAt(data []byte, offset int, mark []byte) bool {
	return len(data) >= offset+len(mark) && bytes.Equal(data[offset:offset+len(mark)], mark)
}

func looksLikeSVG(data []byte) bool {
	head := data[:min(len(data), 1024)]
	head = bytes.TrimLeft(bytes.TrimPrefix(head, []byte("\xEF\xBB\xBF")), " \t\r\n")
	if bytes.HasPrefix(head, []byte("<svg")) {
		return true
	}
	return bytes.HasPrefix(head, []byte("<?xml")) && bytes.Contains(head, []byte("<svg"))
}

// Classifier figures out what binary payload really is. Declared content
// types in FB2 are often wrong, so data wins over declaration.
type Classifier struct {
	minSize        int
	checkDecodable bool
}

func NewClassifier(cfg *config.ImagesConfig) *Classifier {
	return &Classifier{
		minSize:        cfg.MinSize,
		checkDecodable: cfg.CheckDecodable,
	}
}

// Classify returns extension (with leading dot) and media type.
func (c *Classifier) Classify(data []byte, declared string) (string, string) {
	for i := range signatures {
		if signatures[i].match(data) {
			return signatures[i].ext, signatures[i].mime
		}
	}
	if looksLikeSVG(data) {
		return ".svg", "image/svg+xml"
	}
	if kind, err := filetype.Image(data); err == nil && kind != filetype.Unknown {
		return "." + kind.Extension, kind.MIME.Value
	}

	declared = strings.ToLower(declared)
	for _, dk := range declaredKeywords {
		for _, kw := range dk.keywords {
			if strings.Contains(declared, kw) {
				return dk.ext, dk.mime
			}
		}
	}
	return defaultExt, defaultMediaType
}

// Accept reports whether payload is worth keeping. Signature match is only
// advisory, unless strict checking is requested, then raster images must
// have decodable header.
func (c *Classifier) Accept(data []byte) bool {
	if len(data) < c.minSize {
		return false
	}
	if !c.checkDecodable {
		return true
	}
	ext, _ := c.Classify(data, "")
	if !decodable[ext] {
		return true
	}
	_, _, err := image.DecodeConfig(bytes.NewReader(data))
	return err == nil
}
