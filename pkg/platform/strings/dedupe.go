// Package strings holds small helpers for list-valued inputs such as
// comma-separated query parameters and eligibility rule values.
package strings

import (
	"strings"
)

// DedupeAndTrimLower trims and lowercases every value, dropping empties and
// repeats. First-seen order is kept.
//
//	DedupeAndTrimLower([]string{" Bonus", "promotional", "BONUS", ""})
//	// []string{"bonus", "promotional"}
func DedupeAndTrimLower(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
