package models

// SearchResult is a single document hit.
type SearchResult struct {
	Document *Document `json:"document"`
	// Score is exp(-distance) for semantic hits and the BM25 score for keyword hits.
	Score    float64 `json:"score"`
	Distance float64 `json:"distance,omitempty"`
	Rank     int     `json:"rank"`
	// Snippet is a short excerpt of the content around the first query term.
	Snippet string `json:"snippet,omitempty"`
}

// SearchResponse holds semantic hits and, when enabled, keyword hits.
type SearchResponse struct {
	SemanticResults []*SearchResult `json:"semantic_results"`
	KeywordResults  []*SearchResult `json:"keyword_results,omitempty"`
	TotalSemantic   int             `json:"total_semantic"`
	TotalKeyword    int             `json:"total_keyword"`
	QueryTime       int64           `json:"query_time_ms"`
	Query           string          `json:"query"`
}
