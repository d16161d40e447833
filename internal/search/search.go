package search

import "context"

// Record is the searchable projection of one character.
type Record struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Notes string   `json:"notes"`
	Tags  []string `json:"tags"`
}

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Snippet string   `json:"snippet"`
	Tags    []string `json:"tags"`
}

// Query describes a search request. Tag narrows hits to characters carrying
// that tag label.
type Query struct {
	Text   string
	Tag    string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer keeps a search index in step with the character list.
type Indexer interface {
	ReplaceAll(ctx context.Context, records []Record) error
}

const defaultLimit = 20
