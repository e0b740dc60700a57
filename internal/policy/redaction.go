// Package policy scrubs user speech transcripts and upstream diagnostics
// before they reach the logs.
package policy

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)

	keyParamPattern = regexp.MustCompile(`(?i)([?&](?:key|api_key|access_token)=)[^&\s"']+`)
	bearerPattern   = regexp.MustCompile(`(?i)(bearer\s+)[a-z0-9._\-]+`)
)

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Cards before phones, otherwise long digit runs match the phone pattern.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// RedactSecrets masks credentials embedded in URLs and auth headers, such
// as the upstream API key carried in the live endpoint query string.
func RedactSecrets(input string) string {
	out := keyParamPattern.ReplaceAllString(input, "${1}[REDACTED]")
	return bearerPattern.ReplaceAllString(out, "${1}[REDACTED]")
}
