package collect

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"fbm/common"
	"fbm/fb2"
)

// ParseOrder parses comma separated list of 1-based positions, e.g. "3,1,2".
// Empty string means no explicit order.
func ParseOrder(s string) ([]int, error) {
	var order []int
	for field := range strings.SplitSeq(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("bad position %q in order list: %w", field, err)
		}
		order = append(order, n)
	}
	return order, nil
}

// Order sorts documents according to mode and then moves documents listed in
// explicit (1-based positions after sorting) to the front in that order.
// Documents not listed keep their relative order. Order of every document is
// reassigned to its new 1-based position. Input slice is not modified.
func Order(docs []*fb2.Document, mode common.SortMode, explicit []int) ([]*fb2.Document, error) {
	sorted := slices.Clone(docs)

	switch mode {
	case common.SortModeGiven:
	case common.SortModeName:
		slices.SortStableFunc(sorted, func(a, b *fb2.Document) int {
			return naturalCompare(a.Name, b.Name)
		})
	case common.SortModeTitle:
		slices.SortStableFunc(sorted, func(a, b *fb2.Document) int {
			return naturalCompare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		})
	default:
		return nil, fmt.Errorf("unsupported sort mode %s", mode)
	}

	if len(explicit) > 0 {
		seen := make(map[int]bool, len(explicit))
		front := make([]*fb2.Document, 0, len(sorted))
		for _, pos := range explicit {
			if pos < 1 || pos > len(sorted) {
				return nil, fmt.Errorf("position %d is out of range [1, %d]", pos, len(sorted))
			}
			if seen[pos] {
				return nil, fmt.Errorf("position %d is listed more than once", pos)
			}
			seen[pos] = true
			front = append(front, sorted[pos-1])
		}
		for i, doc := range sorted {
			if !seen[i+1] {
				front = append(front, doc)
			}
		}
		sorted = front
	}

	for i, doc := range sorted {
		doc.Order = i + 1
	}
	return sorted, nil
}
