package search

import (
	"regexp"
	"strings"
)

var (
	vinPattern   = regexp.MustCompile(`(?i)^[A-HJ-NPR-Z0-9]{17}$`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s\-()]{10,}$`)
	idPattern    = regexp.MustCompile(`(?i)^[A-Z0-9\-]{8,}$`)
)

func IsVIN(query string) bool {
	return vinPattern.MatchString(strings.TrimSpace(query))
}

func IsPhoneNumber(query string) bool {
	return phonePattern.MatchString(strings.TrimSpace(query))
}

func IsID(query string) bool {
	return idPattern.MatchString(strings.TrimSpace(query))
}

// DetectEntities reports which identifier shapes the whole query has. The
// result is informational; it does not change how the query is scored.
func DetectEntities(query string) map[string]string {
	trimmed := strings.TrimSpace(query)
	out := map[string]string{}
	if trimmed == "" {
		return out
	}
	if IsVIN(trimmed) {
		out["vin"] = trimmed
	}
	if IsPhoneNumber(trimmed) {
		out["phone"] = trimmed
	}
	if IsID(trimmed) {
		out["id"] = trimmed
	}
	return out
}
