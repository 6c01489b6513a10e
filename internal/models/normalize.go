package models

import (
	"strconv"
	"strings"
)

// NormalizeJob converts a raw decoded backend record into a JobRecord,
// tolerating the field-name variants different scrapers emit. Returns nil for
// records that fail the ingestion invariant (missing id or title).
func NormalizeJob(raw interface{}) *JobRecord {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}

	job := &JobRecord{
		ID:          firstString(m, "job_id", "id", "_id"),
		Title:       firstString(m, "title", "job_title"),
		CompanyName: firstString(m, "company_name", "company", "companyName"),
		Location:    getString(m, "location"),
		Description: getString(m, "description"),
		SourceURL:   firstString(m, "source_url", "sourceUrl", "url"),
		PostedDate:  firstString(m, "posted_date", "postedDate"),
		CreatedAt:   firstString(m, "created_at", "createdAt"),
		Skills:      normalizeSkills(firstValue(m, "skills", "required_skills", "requiredSkills")),
	}

	if score, ok := getNumber(firstValue(m, "matching_score", "matchingScore", "score")); ok {
		job.MatchingScore = &score
	}

	if !job.Valid() {
		return nil
	}
	return job
}

// NormalizeResultPage unwraps the heterogeneous backend envelope (an array
// directly, or a list under data/items/jobs) into a ResultPage. Malformed
// records are dropped, never surfaced as errors.
func NormalizeResultPage(payload interface{}) ResultPage {
	data := unwrapData(payload)

	if list, ok := data.([]interface{}); ok {
		return ResultPage{Items: normalizeJobList(list)}
	}

	m, ok := data.(map[string]interface{})
	if !ok {
		return ResultPage{Items: []JobRecord{}}
	}

	var items []JobRecord
	if list, ok := firstList(m, "items", "jobs", "data"); ok {
		items = normalizeJobList(list)
	} else {
		items = []JobRecord{}
	}

	page := ResultPage{Items: items}
	if total, ok := getNumber(firstValue(m, "total", "count", "total_count")); ok {
		t := int(total)
		page.Total = &t
	}
	return page
}

// unwrapData peels the proxy envelope: responses arrive either bare or as
// {status, message, data}.
func unwrapData(payload interface{}) interface{} {
	if m, ok := payload.(map[string]interface{}); ok {
		if data, ok := m["data"]; ok {
			return data
		}
	}
	return payload
}

func normalizeJobList(list []interface{}) []JobRecord {
	items := make([]JobRecord, 0, len(list))
	for _, raw := range list {
		if job := NormalizeJob(raw); job != nil {
			items = append(items, *job)
		}
	}
	return items
}

func normalizeSkills(value interface{}) []string {
	switch v := value.(type) {
	case []interface{}:
		skills := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					skills = append(skills, trimmed)
				}
			}
		}
		return skills
	case string:
		parts := strings.Split(v, ",")
		skills := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				skills = append(skills, trimmed)
			}
		}
		return skills
	default:
		return []string{}
	}
}

// Helper functions for safe type conversion from map[string]interface{}
func getString(m map[string]interface{}, key string) string {
	if val, ok := m[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s := getString(m, key); s != "" {
			return s
		}
	}
	return ""
}

func firstValue(m map[string]interface{}, keys ...string) interface{} {
	for _, key := range keys {
		if val, ok := m[key]; ok && val != nil {
			return val
		}
	}
	return nil
}

func firstList(m map[string]interface{}, keys ...string) ([]interface{}, bool) {
	for _, key := range keys {
		if list, ok := m[key].([]interface{}); ok {
			return list, true
		}
	}
	return nil, false
}

func getNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
