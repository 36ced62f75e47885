package search

import "strings"

// synonyms is read-only after package initialization.
var synonyms = map[string][]string{
	"car":     {"vehicle", "automobile", "auto"},
	"vehicle": {"car", "automobile", "auto"},
	"truck":   {"pickup", "lorry"},
	"suv":     {"sport utility vehicle", "sport-utility"},
}

// ExpandSynonyms appends the synonyms of each whitespace-separated term right
// after it. Terms keep their original order and repeats are dropped without
// regard to case.
func ExpandSynonyms(query string) string {
	var out []string
	seen := map[string]struct{}{}
	add := func(term string) {
		key := strings.ToLower(term)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, term)
	}
	for _, term := range strings.Fields(query) {
		add(term)
		for _, syn := range synonyms[strings.ToLower(term)] {
			add(syn)
		}
	}
	return strings.Join(out, " ")
}

// Synonyms returns the synonyms registered for a single term.
func Synonyms(term string) []string {
	return append([]string(nil), synonyms[strings.ToLower(strings.TrimSpace(term))]...)
}

// queryTerms splits an expanded query into distinct match terms.
func queryTerms(expanded string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, term := range strings.Fields(expanded) {
		key := strings.ToLower(term)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, term)
	}
	return out
}
