package store

import (
	"sort"
	"strings"

	"github.com/pbaille/prompttune/internal/domain"
)

// AllCategories is the category filter value that disables filtering
const AllCategories = "all"

// Matches reports whether r passes the term and category filters.
// The term is a case-insensitive substring of the title, the text or any
// tag; an empty term matches everything. An empty or "all" category
// matches everything, otherwise the category must match exactly.
func Matches(r domain.PromptRecord, term, category string) bool {
	if category != "" && !strings.EqualFold(category, AllCategories) && string(r.Category) != category {
		return false
	}
	if term == "" {
		return true
	}

	term = strings.ToLower(term)
	if strings.Contains(strings.ToLower(r.Title), term) ||
		strings.Contains(strings.ToLower(r.Text), term) {
		return true
	}
	for _, tag := range r.Tags {
		if strings.Contains(strings.ToLower(tag), term) {
			return true
		}
	}
	return false
}

func sortByUsage(records []domain.PromptRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].UsageCount > records[j].UsageCount
	})
}
