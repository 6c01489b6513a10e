package models

// JobRecord is one job posting as rendered to the user. Records are immutable
// once cached; a refetch replaces them wholesale, never field-patches them.
type JobRecord struct {
	ID            string   `json:"id" badgerhold:"key"`
	Title         string   `json:"title"`
	CompanyName   string   `json:"company_name"`
	Location      string   `json:"location"`
	Description   string   `json:"description,omitempty"`
	Skills        []string `json:"skills"`
	MatchingScore *float64 `json:"matching_score,omitempty"`
	SourceURL     string   `json:"source_url,omitempty"`
	PostedDate    string   `json:"posted_date,omitempty"`
	CreatedAt     string   `json:"created_at,omitempty"`
}

// Valid reports whether the record may enter the cache. Records lacking an id
// or title are dropped at the ingestion boundary.
func (j *JobRecord) Valid() bool {
	return j != nil && j.ID != "" && j.Title != ""
}

// ResultPage is one page of job records for a (FilterSet, limit, offset) key.
// Total is nil when the backend did not report a count.
type ResultPage struct {
	Items []JobRecord `json:"items"`
	Total *int        `json:"total,omitempty"`
}
