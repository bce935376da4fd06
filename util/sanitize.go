package util

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var stripPolicy = bluemonday.StrictPolicy()

// StripMarkup removes every tag from untrusted remote text and collapses it
// to a single line.
func StripMarkup(text string) string {
	cleaned := stripPolicy.Sanitize(text)
	cleaned = html.UnescapeString(cleaned)
	return strings.Join(strings.Fields(cleaned), " ")
}

// NormalizeInput escapes user supplied text for inclusion in HTML content.
func NormalizeInput(text string) string {
	normalized := strings.ReplaceAll(text, "\n", " ")
	return html.EscapeString(normalized)
}
