// Package title derives a single collective title from titles of merged
// documents.
package title

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxListed = 3

var (
	noise = []*regexp.Regexp{
		// volume markers with number and everything after them, \b in Go is
		// ASCII only so it guards English words alone
		regexp.MustCompile(`(?i)(книга|том|часть|глава|серия|выпуск|\b(?:book|volume|vol|part|chapter|episode|series))\s*\d+[.,]?.*`),
		// any number and everything after it
		regexp.MustCompile(`\d+[.,]?\s*.*`),
		regexp.MustCompile(`\(.*?\)`),
		regexp.MustCompile(`\[.*?\]`),
	}
	separators    = []string{".", ":", "-", "–", "—"}
	beforeDigitRe = regexp.MustCompile(`^(.*?)\d`)
)

// BaseName strips volume numbering and annotations from a single title
// leaving what is likely the series name.
func BaseName(title string) string {
	clean := title
	for _, re := range noise {
		clean = re.ReplaceAllString(clean, "")
	}

	for _, sep := range separators {
		if before, _, found := strings.Cut(clean, sep); found {
			if before = strings.TrimSpace(before); before != "" {
				clean = before
				break
			}
		}
	}

	if utf8.RuneCountInString(strings.TrimSpace(clean)) < 3 {
		clean = shortFallback(title)
	}
	return strings.TrimSpace(clean)
}

func shortFallback(title string) string {
	if m := beforeDigitRe.FindStringSubmatch(title); m != nil {
		return strings.Trim(m[1], " .-")
	}
	if before, _, found := strings.Cut(title, "."); found {
		return before
	}
	if before, _, found := strings.Cut(title, ":"); found {
		return before
	}
	if words := strings.Fields(title); len(words) >= 2 {
		return words[0] + " " + words[1]
	}
	return title
}

// UniqueNames returns base names in order of appearance, compared case
// insensitively. When one name contains another only the longer one
// survives, taking the place of the first of them.
func UniqueNames(titles []string) []string {
	var names, lowered []string

	for _, t := range titles {
		name := BaseName(t)
		if name == "" {
			continue
		}
		low := strings.ToLower(name)

		keep, pos := true, -1
		for i := 0; i < len(lowered); i++ {
			existing := lowered[i]
			if !strings.Contains(low, existing) && !strings.Contains(existing, low) {
				continue
			}
			if len(low) <= len(existing) {
				keep = false
				break
			}
			// new name is more specific, it replaces existing one
			if pos < 0 {
				pos = i
				names[i], lowered[i] = name, low
				continue
			}
			names = append(names[:i], names[i+1:]...)
			lowered = append(lowered[:i], lowered[i+1:]...)
			i--
		}
		if keep && pos < 0 {
			names = append(names, name)
			lowered = append(lowered, low)
		}
	}
	return names
}

// Resolver produces collective title.
type Resolver struct {
	placeholder string
}

// NewResolver returns resolver using placeholder when nothing could be
// derived from titles.
func NewResolver(placeholder string) *Resolver {
	return &Resolver{placeholder: placeholder}
}

// Resolve returns override when it is not blank, otherwise title built
// from up to three unique base names.
func (r *Resolver) Resolve(titles []string, override string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}

	names := UniqueNames(titles)
	switch {
	case len(names) == 0:
		return r.placeholder
	case len(names) == 1:
		return names[0]
	case len(names) > maxListed:
		return strings.Join(names[:maxListed], ", ") + ", ..."
	default:
		return strings.Join(names, ", ")
	}
}
