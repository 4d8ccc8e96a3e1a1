package observability

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

const defaultStringLimit = 256

var plainTextPolicy = bluemonday.StrictPolicy()

// sanitizeString drops control characters and limits string length to avoid log injection.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}

	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		cleaned = append(cleaned, r)
	}
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return string(cleaned)
}

// SanitizeRoute removes control characters and enforces length constraints on routes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod removes control characters in HTTP methods.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeText strips every HTML element from caller-supplied free text, such as
// customisation values and address lines, and trims it to limit runes. Entities produced by
// the policy are decoded again so "Fish & Chips" survives unchanged.
func SanitizeText(value string, limit int) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	stripped := html.UnescapeString(plainTextPolicy.Sanitize(value))
	return strings.TrimSpace(sanitizeString(stripped, limit))
}
