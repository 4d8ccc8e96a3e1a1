// Package textutil holds small string helpers shared by the order services.
package textutil

import (
	"slices"
	"strings"
)

// NormalizeStringMap trims keys and values and drops entries with empty keys. When allowed is
// non-empty only keys in that list survive. A result with no entries is nil.
func NormalizeStringMap(values map[string]string, allowed ...string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if len(allowed) > 0 && !slices.Contains(allowed, key) {
			continue
		}
		result[key] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
