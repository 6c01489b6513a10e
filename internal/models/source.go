package models

import (
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// JobSource is one scraper/source row as returned by the backend. The same
// logical source can appear under several ids.
type JobSource struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	BaseURL string `json:"base_url,omitempty"`
}

// SourceOption is a displayable source choice; duplicate rows sharing a
// case-insensitive name are merged into one option carrying all their ids.
type SourceOption struct {
	Key     string   `json:"key"`
	Name    string   `json:"name"`
	IDs     []string `json:"ids"`
	BaseURL string   `json:"base_url,omitempty"`
}

// NormalizeJobSource converts a raw decoded source row. Rows without a valid
// UUID id or a name are dropped.
func NormalizeJobSource(raw interface{}) *JobSource {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}

	src := &JobSource{
		ID:      strings.TrimSpace(firstString(m, "id", "source_id", "sourceId")),
		Name:    strings.TrimSpace(firstString(m, "name", "source_name", "sourceName")),
		BaseURL: strings.TrimSpace(firstString(m, "base_url", "baseUrl", "url")),
	}

	if src.Name == "" {
		return nil
	}
	if _, err := uuid.Parse(src.ID); err != nil {
		return nil
	}
	return src
}

// NormalizeJobSources unwraps the backend envelope (array, or a list under
// data/items/sources) into valid source rows.
func NormalizeJobSources(payload interface{}) []JobSource {
	data := unwrapData(payload)

	list, ok := data.([]interface{})
	if !ok {
		if m, isMap := data.(map[string]interface{}); isMap {
			list, ok = firstList(m, "data", "items", "sources")
		}
	}
	if !ok {
		return []JobSource{}
	}

	sources := make([]JobSource, 0, len(list))
	for _, raw := range list {
		if src := NormalizeJobSource(raw); src != nil {
			sources = append(sources, *src)
		}
	}
	return sources
}

// GroupJobSources merges sources by case-insensitive name into sorted display
// options. Name-based grouping is a heuristic carried from the backend data
// shape; ids under one option all map to the same displayed source.
func GroupJobSources(items []JobSource) []SourceOption {
	type group struct {
		names   []string
		ids     []string
		baseURL string
	}

	groups := make(map[string]*group)
	order := make([]string, 0, len(items))

	for _, item := range items {
		key := strings.ToLower(strings.TrimSpace(item.Name))
		if key == "" {
			continue
		}

		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
			order = append(order, key)
		}

		g.names = append(g.names, item.Name)
		if !containsString(g.ids, item.ID) {
			g.ids = append(g.ids, item.ID)
		}
		if g.baseURL == "" && item.BaseURL != "" {
			g.baseURL = item.BaseURL
		}
	}

	options := make([]SourceOption, 0, len(order))
	for _, key := range order {
		g := groups[key]
		name := pickDisplayName(g.names)
		if name == "" {
			name = key
		}
		options = append(options, SourceOption{
			Key:     key,
			Name:    name,
			IDs:     g.ids,
			BaseURL: g.baseURL,
		})
	}

	sort.Slice(options, func(i, j int) bool {
		return options[i].Name < options[j].Name
	})
	return options
}

// pickDisplayName prefers a variant that already carries capitalization,
// falling back to title-casing the first one.
func pickDisplayName(names []string) string {
	clean := make([]string, 0, len(names))
	for _, n := range names {
		if trimmed := strings.TrimSpace(n); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	if len(clean) == 0 {
		return ""
	}

	for _, n := range clean {
		if strings.IndexFunc(n, unicode.IsUpper) >= 0 {
			return n
		}
	}

	words := strings.Fields(clean[0])
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
