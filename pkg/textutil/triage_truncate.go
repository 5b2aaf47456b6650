// Package textutil holds small text helpers shared by the prompt builders and notifiers.
package textutil

import "unicode/utf8"

// Truncate returns at most max runes of s. No ellipsis is appended.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
