package common

import "strings"

// MaskSecret renders a secret safe for logs: short values disappear
// entirely, longer ones keep the first two characters as a hint.
func MaskSecret(s string) string {
	if len(s) < 6 {
		return "[REDACTED]"
	}
	return s[:2] + strings.Repeat("*", 6)
}

// MaskLogin keeps enough of a portal username to recognize it in logs
// without reproducing it whole.
func MaskLogin(s string) string {
	if len(s) <= 4 {
		return "[REDACTED]"
	}
	return s[:3] + "***" + s[len(s)-1:]
}
