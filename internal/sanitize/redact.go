// Package sanitize scrubs agent transcript text: wrapper tags injected by
// the agent runtime, and credential-shaped strings that should never leave
// the machine in an archive.
package sanitize

import (
	"regexp"
	"strings"
)

var xmlTagPattern = regexp.MustCompile(
	`</?(?:local-command-(?:stdout|stderr|caveat)|command-(?:output|name|args|message)|` +
		`system-reminder|task-(?:id|notification)|persisted-output|thinking|tool-use-id|` +
		`tool|skill-name|plugin-id)[^>]*>`,
)

// secretPatterns match credential formats commonly pasted into sessions.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`),                 // API secret keys
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),                      // AWS access key ids
	regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`),                   // GitHub personal tokens
	regexp.MustCompile(`github_pat_[A-Za-z0-9_]{22,}`),          // GitHub fine-grained tokens
	regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,}`),          // Slack tokens
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{20,}=*`), // Authorization headers
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
}

const redactedMarker = "[REDACTED]"

// StripTags removes agent runtime XML wrapper tags from text.
func StripTags(text string) string {
	return strings.TrimSpace(xmlTagPattern.ReplaceAllString(text, ""))
}

// Redact masks credential-shaped substrings. The surrounding text is left
// intact so archived transcripts stay readable.
func Redact(text string) string {
	for _, p := range secretPatterns {
		text = p.ReplaceAllString(text, redactedMarker)
	}
	return text
}

// HasSecrets reports whether text contains anything Redact would mask.
func HasSecrets(text string) bool {
	for _, p := range secretPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
