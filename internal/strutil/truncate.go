// Package strutil provides rune-safe string helpers.
package strutil

// Prefix returns the first n runes of s. Multi-byte characters are never split.
func Prefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Truncate shortens s to maxLen runes and marks the cut with "...".
// Used for log previews of message content.
func Truncate(s string, maxLen int) string {
	if s == "" || maxLen <= 0 {
		return ""
	}
	if p := Prefix(s, maxLen); p != s {
		return p + "..."
	}
	return s
}
