package turncache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/pkg/memory"
	"github.com/voxgate/voxgate/pkg/provider/search"
)

// defaultSubTaskTimeout caps each retrieval sub-task so one slow source
// cannot delay the whole fetch. A sub-task that runs out of time contributes
// an empty result.
const defaultSubTaskTimeout = 2 * time.Second

const (
	defaultMemoryTopK    = 5
	defaultKnowledgeTopK = 5
	defaultHistoryLimit  = 10
	defaultWebResults    = 3
)

// Fetcher assembles [TurnContext] entries by querying the retrieval sources
// concurrently.
type Fetcher struct {
	memories  memory.MemoryStore
	knowledge memory.KnowledgeIndex
	history   memory.HistoryStore
	web       search.Provider // optional; nil disables web search

	subTaskTimeout time.Duration
}

// FetcherOption is a functional option for [NewFetcher].
type FetcherOption func(*Fetcher)

// WithSubTaskTimeout overrides the per-sub-task deadline. Defaults to 2s.
func WithSubTaskTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.subTaskTimeout = d
		}
	}
}

// WithWebSearch enables the optional live web search sub-task.
func WithWebSearch(p search.Provider) FetcherOption {
	return func(f *Fetcher) { f.web = p }
}

// NewFetcher creates a Fetcher over the given retrieval sources.
func NewFetcher(memories memory.MemoryStore, knowledge memory.KnowledgeIndex, history memory.HistoryStore, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		memories:       memories,
		knowledge:      knowledge,
		history:        history,
		subTaskTimeout: defaultSubTaskTimeout,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch runs memory search, knowledge retrieval, history fetch, and the
// optional web search concurrently and assembles a full [TurnContext].
//
// Each sub-task is capped at the configured timeout; a sub-task that misses
// its deadline contributes an empty result rather than failing the fetch.
// Only non-timeout errors propagate.
func (f *Fetcher) Fetch(ctx context.Context, key Key, query string, namespaces []string) (*TurnContext, error) {
	out := &TurnContext{LastQuery: query}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		subCtx, cancel := context.WithTimeout(egCtx, f.subTaskTimeout)
		defer cancel()
		entries, err := f.memories.Search(subCtx, key.UserID, query, defaultMemoryTopK)
		if err != nil {
			return subTaskErr("memory search", subCtx, err)
		}
		out.Memory = formatMemories(entries)
		return nil
	})

	eg.Go(func() error {
		subCtx, cancel := context.WithTimeout(egCtx, f.subTaskTimeout)
		defer cancel()
		snippets, err := f.knowledge.Query(subCtx, query, namespaces, defaultKnowledgeTopK)
		if err != nil {
			return subTaskErr("knowledge retrieval", subCtx, err)
		}
		out.Knowledge = formatSnippets(snippets)
		return nil
	})

	eg.Go(func() error {
		subCtx, cancel := context.WithTimeout(egCtx, f.subTaskTimeout)
		defer cancel()
		turns, err := f.history.RecentTurns(subCtx, key.UserID, key.AvatarID, defaultHistoryLimit)
		if err != nil {
			return subTaskErr("history fetch", subCtx, err)
		}
		out.History = turns
		return nil
	})

	if f.web != nil {
		eg.Go(func() error {
			subCtx, cancel := context.WithTimeout(egCtx, f.subTaskTimeout)
			defer cancel()
			results, err := f.web.Search(subCtx, query, defaultWebResults)
			if err != nil {
				return subTaskErr("web search", subCtx, err)
			}
			out.WebResults = formatSearchResults(results)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("turn cache: %w", err)
	}

	out.FetchedAt = time.Now()
	return out, nil
}

// subTaskErr swallows the error when the sub-task merely ran out of its own
// budget; the sub-task then contributes an empty result.
func subTaskErr(task string, subCtx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && subCtx.Err() != nil {
		return nil
	}
	return fmt.Errorf("%s: %w", task, err)
}

// Refresher runs background cache refreshes after each turn.
type Refresher struct {
	cache   *Cache
	fetcher *Fetcher
}

// NewRefresher creates a Refresher writing into cache via fetcher.
func NewRefresher(cache *Cache, fetcher *Fetcher) *Refresher {
	return &Refresher{cache: cache, fetcher: fetcher}
}

// RefreshAsync launches a background fetch for the key and stores the result
// for the next turn. Errors are logged and discarded; a failed refresh never
// corrupts the existing entry. The refresh runs detached from the request
// context so a client disconnect does not abort it.
func (r *Refresher) RefreshAsync(ctx context.Context, key Key, query string, namespaces []string) {
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		entry, err := r.fetcher.Fetch(bgCtx, key, query, namespaces)
		if err != nil {
			observe.Logger(bgCtx).Warn("background cache refresh failed",
				"user_id", key.UserID,
				"avatar_id", key.AvatarID,
				"error", err)
			return
		}
		r.cache.Put(key, entry)
	}()
}

// Refresh performs a synchronous fetch-and-store for the key.
func (r *Refresher) Refresh(ctx context.Context, key Key, query string, namespaces []string) error {
	entry, err := r.fetcher.Fetch(ctx, key, query, namespaces)
	if err != nil {
		return err
	}
	r.cache.Put(key, entry)
	return nil
}

// ─── formatting ─────────────────────────────────────────────────────────────

func formatMemories(entries []memory.Entry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(e.Text)
	}
	return b.String()
}

func formatSnippets(snippets []memory.Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	var b strings.Builder
	for i, s := range snippets {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(s.Content)
	}
	return b.String()
}

func formatSearchResults(results []search.Result) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if r.Title != "" {
			b.WriteString(r.Title)
			b.WriteString(": ")
		}
		b.WriteString(r.Content)
	}
	return b.String()
}
