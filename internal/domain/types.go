package domain

import (
	"strings"
	"time"
)

// Category is the fixed classification of a prompt
type Category string

const (
	CategoryContent     Category = "Content"
	CategoryDevelopment Category = "Development"
	CategoryAnalytics   Category = "Analytics"
	CategoryMarketing   Category = "Marketing"
	CategoryBusiness    Category = "Business"
)

// Categories lists every accepted category in display order
var Categories = []Category{
	CategoryContent,
	CategoryDevelopment,
	CategoryAnalytics,
	CategoryMarketing,
	CategoryBusiness,
}

// Valid reports whether c is one of the enumerated categories
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// PromptRecord represents a stored prompt
type PromptRecord struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Category   Category  `json:"category"`
	Tags       []string  `json:"tags"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
	UsageCount int       `json:"usageCount"`
}

// Clone returns a copy that shares no memory with r
func (r PromptRecord) Clone() PromptRecord {
	out := r
	out.Tags = append([]string(nil), r.Tags...)
	if out.Tags == nil {
		out.Tags = []string{}
	}
	return out
}

// PromptInput carries the mutable fields of a record
type PromptInput struct {
	Title    string   `json:"title"`
	Category Category `json:"category"`
	Tags     []string `json:"tags"`
	Text     string   `json:"text"`
}

// Normalize trims the text fields and drops blank tags
func (in PromptInput) Normalize() PromptInput {
	out := PromptInput{
		Title:    strings.TrimSpace(in.Title),
		Category: Category(strings.TrimSpace(string(in.Category))),
		Text:     strings.TrimSpace(in.Text),
		Tags:     []string{},
	}
	for _, t := range in.Tags {
		if t = strings.TrimSpace(t); t != "" {
			out.Tags = append(out.Tags, t)
		}
	}
	return out
}

// Validate checks the required fields of a normalized input
func (in PromptInput) Validate() error {
	switch {
	case in.Title == "":
		return &ValidationError{Field: "title", Reason: "is required"}
	case in.Category == "":
		return &ValidationError{Field: "category", Reason: "is required"}
	case !in.Category.Valid():
		return &ValidationError{Field: "category", Reason: "must be one of " + CategoryList()}
	case in.Text == "":
		return &ValidationError{Field: "text", Reason: "is required"}
	}
	return nil
}

// CategoryList renders the categories as a comma separated string
func CategoryList() string {
	names := make([]string, len(Categories))
	for i, c := range Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

// ParseTags splits comma separated tag input
func ParseTags(raw string) []string {
	tags := []string{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// Analytics is the derived usage summary over the collection
type Analytics struct {
	TotalOptimizations int `json:"totalOptimizations"`
	SavedPrompts       int `json:"savedPrompts"`
	AvgLength          int `json:"avgLength"`
}
