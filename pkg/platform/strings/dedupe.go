// Package strings provides string slice helpers shared by the merge stage.
package strings

import (
	"sort"
	"strings"
)

// DedupeAndTrim trims each value and drops empties and exact duplicates.
// Order of first occurrence is preserved.
func DedupeAndTrim(values []string) []string {
	return dedupeBy(values, func(s string) string { return s })
}

// DedupeFold is like DedupeAndTrim but compares case-insensitively and keeps
// the first spelling seen, so "Ann Lee" and "ANN LEE" collapse to "Ann Lee".
func DedupeFold(values []string) []string {
	return dedupeBy(values, strings.ToLower)
}

// SortedUnique trims, dedupes and sorts values. It never returns nil, so the
// result encodes as [] rather than null.
func SortedUnique(values []string) []string {
	out := DedupeAndTrim(values)
	if out == nil {
		out = []string{}
	}
	sort.Strings(out)
	return out
}

func dedupeBy(values []string, fold func(string) string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		k := fold(trimmed)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
