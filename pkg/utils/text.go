// Package utils holds small helpers shared by the CLI, server and watcher.
package utils

import "strings"

const ellipsis = "..."

// Truncate cuts s to maxLen runes and appends an ellipsis when anything was dropped.
// A non-positive maxLen disables truncation.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + ellipsis
}

// SingleLine collapses every run of whitespace in s to one space, then truncates.
func SingleLine(s string, maxLen int) string {
	return Truncate(strings.Join(strings.Fields(s), " "), maxLen)
}
