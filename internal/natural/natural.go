// Package natural orders strings the way people read codes and sequence
// numbers: digit runs compare by numeric value, so "2" sorts before "10".
package natural

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Sorter holds a numeric collator. Collators are not safe for concurrent
// use, so each goroutine needs its own Sorter.
type Sorter struct {
	c *collate.Collator
}

// New returns a case-insensitive numeric Sorter.
func New() *Sorter {
	return &Sorter{c: collate.New(language.English, collate.Numeric, collate.Loose)}
}

// Compare returns -1, 0 or +1.
func (s *Sorter) Compare(a, b string) int {
	return s.c.CompareString(a, b)
}

// Less reports whether a orders before b.
func (s *Sorter) Less(a, b string) bool {
	return s.Compare(a, b) < 0
}

// SortStableBy sorts items in place by key, keeping the input order of
// items whose keys compare equal.
func SortStableBy[T any](s *Sorter, items []T, key func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		return s.Less(key(items[i]), key(items[j]))
	})
}

// Strings sorts a copy of values.
func Strings(values []string) []string {
	out := append([]string(nil), values...)
	SortStableBy(New(), out, func(v string) string { return v })
	return out
}
