package domain

import "time"

// OrderBy selects the sort key of a result page.
type OrderBy string

// Sort keys.
const (
	OrderByCreatedAt OrderBy = "created_at"
	OrderByScore     OrderBy = "score"
)

// ParseOrderBy returns the sort key, or def when s is not recognised.
func ParseOrderBy(s string, def OrderBy) OrderBy {
	switch OrderBy(s) {
	case OrderByCreatedAt, OrderByScore:
		return OrderBy(s)
	default:
		return def
	}
}

// ListRequest pages through stored knowledge. Results are descending
// unless Ascending is set.
type ListRequest struct {
	Limit     int
	Offset    int
	OrderBy   OrderBy
	Ascending bool
	Source    string
	Scope     Scope
}

// SearchRequest runs a similarity query. Like ListRequest, the zero
// value sorts best match first.
type SearchRequest struct {
	Query     string
	Limit     int
	Offset    int
	OrderBy   OrderBy
	Ascending bool
	Source    string
	Scope     Scope
}

// Item is one formatted result.
type Item struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"`
	Score      float64    `json:"score"`
	Source     string     `json:"source"`
	CreatedAt  time.Time  `json:"created_at"`
	Visibility Visibility `json:"visibility"`
	DocumentID int64      `json:"document_id,omitempty"`
	ChunkIndex int        `json:"chunk_index"`
	Title      string     `json:"title,omitempty"`
}

// ScoreSummary describes the scores of a page. Fields are nil for an empty page.
type ScoreSummary struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
	Avg *float64 `json:"avg"`
	P95 *float64 `json:"p95"`
}

// Page is the response of list and search.
type Page struct {
	Items        []Item         `json:"items"`
	Total        int            `json:"total"`
	Limit        int            `json:"limit"`
	Offset       int            `json:"offset"`
	SourceCounts map[string]int `json:"source_counts"`
	ScoreSummary ScoreSummary   `json:"score_summary"`

	// FilteredOut counts items hidden by the scope filter.
	FilteredOut int `json:"filtered_out"`

	// Fallback is true when the page was served from the relational store.
	Fallback bool `json:"fallback,omitempty"`
}
