package inventory

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/labstock/labstock-backend/pkg/db/models"
)

const maxEditDistance = 3

// Filter returns the components matching the search query, preserving the
// input order. An empty or whitespace-only query returns all candidates.
func Filter(query string, components []models.Component) []models.Component {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return components
	}

	normalizedQuery := Normalize(trimmed)
	loweredQuery := strings.ToLower(trimmed)

	matched := make([]models.Component, 0, len(components))
	for _, component := range components {
		if matches(normalizedQuery, loweredQuery, component.Name, component.NormalizedName) {
			matched = append(matched, component)
		}
	}
	return matched
}

func matches(normalizedQuery, loweredQuery, displayName, key string) bool {
	if normalizedQuery != "" && strings.Contains(key, normalizedQuery) {
		return true
	}
	if strings.Contains(strings.ToLower(displayName), loweredQuery) {
		return true
	}
	if normalizedQuery == "" {
		return false
	}
	return withinEditDistance(normalizedQuery, key, editThreshold(normalizedQuery))
}

// editThreshold bounds typo tolerance both relative to the query length (30%)
// and by an absolute cap, so short queries stay strict and long queries do
// not become over-tolerant.
func editThreshold(normalizedQuery string) int {
	threshold := len(normalizedQuery) * 3 / 10
	if threshold > maxEditDistance {
		return maxEditDistance
	}
	return threshold
}

// withinEditDistance reports whether the query approximately occurs in the
// key: some window of the key whose length is within the limit of the query
// length must be reachable in at most limit edits. Comparing against windows
// rather than the whole key keeps long catalog names from inflating the
// distance of an otherwise close match.
func withinEditDistance(query, key string, limit int) bool {
	if limit <= 0 {
		return false
	}

	minLen := len(query) - limit
	if minLen < 1 {
		minLen = 1
	}
	maxLen := len(query) + limit
	if maxLen > len(key) {
		maxLen = len(key)
	}

	for size := minLen; size <= maxLen; size++ {
		for start := 0; start+size <= len(key); start++ {
			if levenshtein.ComputeDistance(query, key[start:start+size]) <= limit {
				return true
			}
		}
	}
	return false
}
