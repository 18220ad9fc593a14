package textutil

import "strings"

// NormalizeStringMap trims keys and values and drops entries whose key
// becomes empty. Charge metadata arrives from Stripe with no whitespace
// guarantees, so lookups go through this first.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
