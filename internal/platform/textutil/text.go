// Package textutil cleans free text and string maps before they are stored or sent downstream.
package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// CleanText strips markup, collapses whitespace and clips the result to max runes (0 keeps all).
// Customer supplied reasons end up in notifications and operator tooling, so no HTML survives.
func CleanText(value string, max int) string {
	stripped := html.UnescapeString(strictPolicy.Sanitize(value))
	cleaned := strings.Join(strings.Fields(stripped), " ")
	if max > 0 && utf8.RuneCountInString(cleaned) > max {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:max]))
	}
	return cleaned
}

// CleanAttributes trims keys and values, dropping entries whose key or value ends up empty.
// Values longer than maxValue bytes are cut at a rune boundary (0 keeps all).
func CleanAttributes(values map[string]string, maxValue int) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if maxValue > 0 && len(value) > maxValue {
			cut := maxValue
			for cut > 0 && !utf8.RuneStart(value[cut]) {
				cut--
			}
			value = value[:cut]
		}
		result[key] = value
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
