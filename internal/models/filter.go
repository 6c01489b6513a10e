package models

import (
	"fmt"
	"net/url"
	"strings"
)

// FilterSet is the committed combination of search criteria governing the
// displayed results. Mutated only by explicit apply or reset actions; drafts
// are staged separately and committed atomically.
type FilterSet struct {
	Title       string `json:"title,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	Location    string `json:"location,omitempty"`
	Skills      string `json:"skills,omitempty"` // comma-joined skill names
	SourceID    string `json:"source_id,omitempty"`
}

// Normalized returns a copy with all fields trimmed and the skills list
// collapsed to a clean comma-joined form.
func (f FilterSet) Normalized() FilterSet {
	return FilterSet{
		Title:       strings.TrimSpace(f.Title),
		CompanyName: strings.TrimSpace(f.CompanyName),
		Location:    strings.TrimSpace(f.Location),
		Skills:      normalizeSkillsParam(f.Skills),
		SourceID:    strings.TrimSpace(f.SourceID),
	}
}

// IsZero reports whether no criteria are applied.
func (f FilterSet) IsZero() bool {
	return f == FilterSet{}
}

// Key returns a stable cache partition key for this filter combination.
func (f FilterSet) Key() string {
	n := f.Normalized()
	return strings.Join([]string{n.Title, n.CompanyName, n.Location, n.Skills, n.SourceID}, "\x1f")
}

// PageKey returns the cache key for one page of this filter combination.
func (f FilterSet) PageKey(limit, offset int) string {
	return fmt.Sprintf("%s\x1f%d\x1f%d", f.Key(), limit, offset)
}

// Values encodes the non-empty criteria as query parameters.
func (f FilterSet) Values() url.Values {
	params := url.Values{}
	n := f.Normalized()
	if n.Title != "" {
		params.Set("title", n.Title)
	}
	if n.CompanyName != "" {
		params.Set("company_name", n.CompanyName)
	}
	if n.Location != "" {
		params.Set("location", n.Location)
	}
	if n.Skills != "" {
		params.Set("skills", n.Skills)
	}
	if n.SourceID != "" {
		params.Set("source_id", n.SourceID)
	}
	return params
}

func normalizeSkillsParam(value string) string {
	parts := strings.Split(value, ",")
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	return strings.Join(clean, ",")
}
