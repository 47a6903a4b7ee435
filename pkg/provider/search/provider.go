// Package search defines the Provider interface for live web and research
// search backends.
//
// Search results enrich the turn-ahead context cache: a slow or failing
// search must never block a conversation turn, so callers wrap every Search
// call in a short deadline and treat an empty result as acceptable.
package search

import "context"

// Result is a single scored search hit.
type Result struct {
	// Title is the document or page title.
	Title string

	// URL is the source location.
	URL string

	// Content is the relevant text snippet.
	Content string

	// Score is the provider's relevance score, higher is better.
	Score float64
}

// Provider is the abstraction over any web/research search backend.
//
// Implementations must be safe for concurrent use and must respect context
// deadlines promptly; callers rely on short timeouts to bound tail latency.
type Provider interface {
	// Search runs query and returns up to maxResults scored hits, best first.
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}
