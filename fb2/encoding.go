package fb2

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
)

type srcEncoding int

const (
	encUnknown srcEncoding = iota
	encUTF8
	encUTF16BigEndian
	encUTF16LittleEndian
	encUTF32BigEndian
	encUTF32LittleEndian
)

func (e srcEncoding) String() string {
	switch e {
	case encUTF8:
		return "utf-8"
	case encUTF16BigEndian:
		return "utf-16be"
	case encUTF16LittleEndian:
		return "utf-16le"
	case encUTF32BigEndian:
		return "utf-32be"
	case encUTF32LittleEndian:
		return "utf-32le"
	default:
		return "unknown"
	}
}

func (e srcEncoding) decoder() *encoding.Decoder {
	switch e {
	case encUTF8:
		return unicode.UTF8BOM.NewDecoder()
	case encUTF16BigEndian:
		return unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
	case encUTF16LittleEndian:
		return unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
	case encUTF32BigEndian:
		return utf32.UTF32(utf32.BigEndian, utf32.ExpectBOM).NewDecoder()
	case encUTF32LittleEndian:
		return utf32.UTF32(utf32.LittleEndian, utf32.ExpectBOM).NewDecoder()
	default:
		// this should never happen
		panic("decoder requested for unknown encoding")
	}
}

func isUTF8BOM3(buf []byte) bool {
	return len(buf) >= 3 && buf[0] == 0xEF && buf[1] == 0xBB && buf[2] == 0xBF
}

func isUTF16BigEndianBOM2(buf []byte) bool {
	return len(buf) >= 2 && buf[0] == 0xFE && buf[1] == 0xFF
}

func isUTF16LittleEndianBOM2(buf []byte) bool {
	return len(buf) >= 2 && buf[0] == 0xFF && buf[1] == 0xFE
}

func isUTF32BigEndianBOM4(buf []byte) bool {
	return len(buf) >= 4 && buf[0] == 0x00 && buf[1] == 0x00 && buf[2] == 0xFE && buf[3] == 0xFF
}

func isUTF32LittleEndianBOM4(buf []byte) bool {
	return len(buf) >= 4 && buf[0] == 0xFF && buf[1] == 0xFE && buf[2] == 0x00 && buf[3] == 0x00
}

// detectUTF looks for byte order mark. UTF-32LE has to be checked before
// UTF-16LE since their marks share first two bytes.
func detectUTF(buf []byte) srcEncoding {
	switch {
	case isUTF8BOM3(buf):
		return encUTF8
	case isUTF32BigEndianBOM4(buf):
		return encUTF32BigEndian
	case isUTF32LittleEndianBOM4(buf):
		return encUTF32LittleEndian
	case isUTF16BigEndianBOM2(buf):
		return encUTF16BigEndian
	case isUTF16LittleEndianBOM2(buf):
		return encUTF16LittleEndian
	}
	return encUnknown
}

// SniffText returns beginning of the data as UTF-8 text good enough to look
// for ASCII markers. Data without byte order mark is returned as is, markers
// are readable in any single byte encoding.
func SniffText(head []byte) string {
	enc := detectUTF(head)
	if enc == encUnknown {
		return string(head)
	}
	out, err := enc.decoder().Bytes(head)
	if err != nil {
		// truncated multibyte sequence at the end of the buffer is expected
		return strings.ToValidUTF8(string(out), "")
	}
	return string(out)
}

var (
	declEncodingRe = regexp.MustCompile(`(?is)^(\s*<\?xml[^>]*?\bencoding\s*=\s*["'])([^"']*)(["'])`)
	declRe         = regexp.MustCompile(`(?s)^\s*<\?xml[^>]*?\?>`)
)

// declaredEncoding returns encoding name from XML declaration, if any.
func declaredEncoding(head []byte) string {
	if m := declEncodingRe.FindSubmatch(head); m != nil {
		return strings.ToLower(strings.TrimSpace(string(m[2])))
	}
	return ""
}

// forceUTF8Declaration makes declaration match already decoded text.
func forceUTF8Declaration(text string) string {
	return declEncodingRe.ReplaceAllString(text, "${1}UTF-8${3}")
}

// StripDeclaration removes byte order mark and XML declaration from the
// beginning of the text.
func StripDeclaration(text string) string {
	text = strings.TrimPrefix(text, "\uFEFF")
	return declRe.ReplaceAllString(text, "")
}

// Recovery turns bytes of unknown encoding into text. Byte order mark wins,
// otherwise configured encodings are tried in order and the first one which
// decodes cleanly and produces text with one of the expected markers is
// used.
type Recovery struct {
	encodings []string
	markers   []string
	log       *zap.Logger
}

func NewRecovery(encodings, markers []string, log *zap.Logger) *Recovery {
	return &Recovery{
		encodings: encodings,
		markers:   markers,
		log:       log.Named("encoding"),
	}
}

// Decode never fails: when nothing fits data is decoded as UTF-8 with invalid
// sequences replaced. Returns text and name of the encoding used.
func (r *Recovery) Decode(data []byte) (string, string) {
	if enc := detectUTF(data); enc != encUnknown {
		if out, err := enc.decoder().Bytes(data); err == nil {
			return string(out), enc.String()
		}
		r.log.Debug("Unable to decode data with byte order mark", zap.Stringer("bom", enc))
	}

	for _, name := range r.encodings {
		text, ok := r.tryEncoding(name, data)
		if !ok {
			continue
		}
		if !r.hasMarker(text) {
			r.log.Debug("Decoded text has no expected markers", zap.String("encoding", name))
			continue
		}
		return text, name
	}

	r.log.Debug("No suitable encoding found, replacing invalid sequences")
	return strings.ToValidUTF8(string(data), "\uFFFD"), "utf-8"
}

func (r *Recovery) tryEncoding(name string, data []byte) (string, bool) {
	if strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
		if !utf8.Valid(data) {
			return "", false
		}
		return string(bytes.TrimPrefix(data, []byte("\xEF\xBB\xBF"))), true
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		// names known to the index but not supported come back as nil without error
		r.log.Debug("Unsupported encoding requested", zap.String("encoding", name), zap.Error(err))
		return "", false
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	if bytes.ContainsRune(out, utf8.RuneError) {
		return "", false
	}
	return string(out), true
}

func (r *Recovery) hasMarker(text string) bool {
	if len(r.markers) == 0 {
		return true
	}
	for _, m := range r.markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
