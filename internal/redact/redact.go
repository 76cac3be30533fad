// Package redact scrubs common credential shapes from free text before it
// is written to telemetry. Redaction is an invariant applied to every
// stderr/stdout/diff excerpt field, not an opt-in convenience.
package redact

import "regexp"

// patterns matches credential shapes in priority order: API-key prefixes,
// cloud access-key IDs, and PEM-armored private key blocks.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{10,}`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{10,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`),
}

const mask = "[REDACTED]"

// Text applies every credential pattern to s, then truncates the result to
// maxLen runes, appending a truncation marker when truncation occurred. A
// maxLen of 0 means unbounded.
func Text(s string, maxLen int) string {
	redacted := s
	for _, p := range patterns {
		redacted = p.ReplaceAllString(redacted, mask)
	}
	if maxLen <= 0 {
		return redacted
	}
	runes := []rune(redacted)
	if len(runes) <= maxLen {
		return redacted
	}
	return string(runes[:maxLen]) + "…(truncated)"
}
