package config

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxFileNameLen is in bytes, most file systems limit name to 255 bytes and
// we need room for extension and uniqueness suffixes.
const maxFileNameLen = 200

const badFileName = "_bad_file_name_"

func cleanFileName(in, forbidden string) string {
	out := strings.Map(func(sym rune) rune {
		if sym == utf8.RuneError || unicode.IsControl(sym) || strings.ContainsRune(forbidden, sym) {
			return -1
		}
		return sym
	}, in)
	out = strings.TrimSpace(out)

	if len(out) > maxFileNameLen {
		cut := maxFileNameLen
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = strings.TrimSpace(out[:cut])
	}
	if len(out) == 0 {
		out = badFileName
	}
	return out
}
