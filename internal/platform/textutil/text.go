package textutil

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// PlainText strips markup, decodes entities, collapses whitespace and drops control characters.
// The result is cut to at most maxRunes runes when maxRunes is positive.
func PlainText(value string, maxRunes int) string {
	cleaned := html.UnescapeString(strictPolicy.Sanitize(value))
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, cleaned)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if maxRunes > 0 && utf8.RuneCountInString(cleaned) > maxRunes {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:maxRunes]))
	}
	return cleaned
}

// CleanMetadata trims keys and values and drops entries with empty keys or values.
// Gateways reject blank metadata values.
func CleanMetadata(values map[string]string) map[string]string {
	result := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
