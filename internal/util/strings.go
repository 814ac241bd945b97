// Package util provides small shared helpers used across the codebase.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Truncate truncates a string to maxLen runes, adding "..." if truncated.
// It does not account for ANSI escape codes; for captured terminal text
// use TruncateANSI instead.
func Truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// TruncateANSI truncates a string to maxWidth visual columns, adding "..."
// if truncated. Escape sequences are preserved, so it is safe for pane
// captures that still carry color codes.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "...")
}

// StripANSI removes escape sequences from captured pane text so pattern
// matching and fingerprinting see only the rendered characters.
func StripANSI(s string) string {
	return ansi.Strip(s)
}

// TailLines returns the last n non-empty lines of text, preserving order.
func TailLines(text string, n int) []string {
	lines := strings.Split(text, "\n")
	result := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(result) < n; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			result = append([]string{line}, result...)
		}
	}
	return result
}
