package domain

// SearchResult is one page of matches plus the index-wide hit count.
type SearchResult struct {
	Total int64        `json:"total"`
	Items []ScoredItem `json:"items"`
}
