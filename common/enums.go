// Package common keeps small enumerations shared by command line handling
// and collection code.
package common

import (
	"fmt"
	"strings"
)

// Specification of document ordering before merge.
// ENUM(given, name, title)
type SortMode int

const (
	// SortModeGiven keeps order in which documents were collected.
	SortModeGiven SortMode = iota
	// SortModeName orders documents by source names.
	SortModeName
	// SortModeTitle orders documents by their titles.
	SortModeTitle
)

var sortModeNames = []string{"given", "name", "title"}

// SortModeNames returns list of possible string values of SortMode.
func SortModeNames() []string {
	return append([]string(nil), sortModeNames...)
}

func (m SortMode) String() string {
	if m < 0 || int(m) >= len(sortModeNames) {
		return fmt.Sprintf("SortMode(%d)", int(m))
	}
	return sortModeNames[m]
}

// ParseSortMode attempts to convert string to SortMode, case insensitive.
func ParseSortMode(name string) (SortMode, error) {
	for i, n := range sortModeNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return SortMode(i), nil
		}
	}
	return SortModeGiven, fmt.Errorf("%s is not a valid SortMode, try [%s]", name, strings.Join(sortModeNames, ", "))
}

func (m SortMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *SortMode) UnmarshalText(text []byte) error {
	v, err := ParseSortMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
