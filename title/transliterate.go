package title

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gosimple/unidecode"
)

// Transliterate replaces non-ASCII letters with their ASCII equivalents
// keeping words, spaces between them and capitalization, so result is still
// readable as a title: "Война и мир" -> "Voina i mir".
func Transliterate(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		words[i] = transliterateWord(word)
	}
	return strings.Join(words, " ")
}

func transliterateWord(word string) string {
	var b strings.Builder
	for _, r := range word {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
			continue
		}
		// soft and hard signs come out as quotes
		b.WriteString(strings.Trim(unidecode.Unidecode(string(r)), `'"`))
	}
	out := b.String()
	if out == "" {
		return word
	}
	if isAllUpper(word) {
		// multi-letter replacements come capitalized: Щ -> Shch
		return strings.ToUpper(out)
	}
	return out
}

// isAllUpper reports whether word has letters and all of them are upper case.
// Single letter words do not count.
func isAllUpper(word string) bool {
	letters := 0
	for _, r := range word {
		if unicode.IsLetter(r) {
			letters++
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return letters > 1
}
