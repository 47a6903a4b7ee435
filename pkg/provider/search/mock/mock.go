// Package mock provides a test double for the search.Provider interface.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voxgate/voxgate/pkg/provider/search"
)

// Ensure Provider implements search.Provider at compile time.
var _ search.Provider = (*Provider)(nil)

// SearchCall records a single invocation of Search.
type SearchCall struct {
	Query      string
	MaxResults int
}

// Provider is a mock implementation of search.Provider.
type Provider struct {
	mu sync.Mutex

	// Results is returned by Search.
	Results []search.Result

	// Err, if non-nil, is returned by Search.
	Err error

	// Delay artificially delays Search, for timeout tests. The delay respects
	// context cancellation.
	Delay time.Duration

	// SearchCalls records every Search invocation in order.
	SearchCalls []SearchCall
}

// Search records the call and returns Results after an optional delay.
func (p *Provider) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	p.mu.Lock()
	p.SearchCalls = append(p.SearchCalls, SearchCall{Query: query, MaxResults: maxResults})
	delay := p.Delay
	results := make([]search.Result, len(p.Results))
	copy(results, p.Results)
	err := p.Err
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Calls returns a copy of the recorded Search invocations.
func (p *Provider) Calls() []SearchCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SearchCall, len(p.SearchCalls))
	copy(out, p.SearchCalls)
	return out
}
