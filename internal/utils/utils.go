package utils

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// ShortenString cuts s after l runes. l == 0 means no limit.
func ShortenString(s string, l int) string {
	r := []rune(s)
	if len(r) > l && l != 0 {
		return fmt.Sprintf("%s...", string(r[:l]))
	}
	return s
}

// ClosestString returns the candidate with the smallest levenshtein distance
// to target, and that distance. ok is false if there are no candidates.
func ClosestString(target string, candidates []string) (closest string, dist int, ok bool) {
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(target, c)
		if !ok || d < dist {
			closest, dist, ok = c, d, true
		}
	}
	return
}

// ReplaceNonDigits replaces every rune of s that is not a decimal digit
// with r.
func ReplaceNonDigits(s string, r rune) string {
	return strings.Map(func(c rune) rune {
		if c >= '0' && c <= '9' {
			return c
		}
		return r
	}, s)
}

// CollapseSpace trims s and folds every run of whitespace into one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// FirstContained returns the first of needles that occurs in haystack.
// Whitespace runs on both sides are collapsed before comparing.
func FirstContained(haystack string, needles []string) (string, bool) {
	h := CollapseSpace(haystack)
	for _, n := range needles {
		cn := CollapseSpace(n)
		if cn == "" {
			continue
		}
		if strings.Contains(h, cn) {
			return n, true
		}
	}
	return "", false
}
