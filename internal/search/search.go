package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	ID             string `json:"id"`
	SubmissionName string `json:"submission_name"`
	TemplateName   string `json:"template_name"`
	Version        int    `json:"version"`
	FillerName     string `json:"fillerName,omitempty"`
	Snippet        string `json:"snippet,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	TemplateName string // empty = all templates
	Limit        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// SubmissionRecord is the data we index for a submission.
type SubmissionRecord struct {
	ID             string `json:"id"`
	SubmissionName string `json:"submission_name"`
	TemplateName   string `json:"template_name"`
	Version        int    `json:"version"`
	FillerName     string `json:"fillerName"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at"`
}
