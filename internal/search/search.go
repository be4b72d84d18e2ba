package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"snoosync/internal/domain"
)

type Client interface {
	SearchSubreddits(ctx context.Context, q string) (domain.Listing[domain.Subreddit], error)
}

type Result struct {
	Query      string
	Subreddits []domain.Subreddit
	Err        error
}

// Searcher turns keystrokes into subreddit searches: input is debounced, a
// newer query cancels the request of an older one, and results are cached.
type Searcher struct {
	ctx       context.Context
	client    Client
	cache     *resultCache
	debouncer *Debouncer
	results   chan Result
	now       func() time.Time
	log       *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// New creates a Searcher bound to ctx; cancelling ctx stops all searches.
func New(ctx context.Context, client Client, quiet time.Duration, log *slog.Logger) *Searcher {
	s := &Searcher{
		ctx:     ctx,
		client:  client,
		cache:   newResultCache(resultCacheMaxEntries),
		results: make(chan Result, 1),
		now:     time.Now,
		log:     log,
	}
	s.debouncer = NewDebouncer(quiet, s.search)

	return s
}

// Results delivers the outcome of each search that was not superseded.
func (s *Searcher) Results() <-chan Result {
	return s.results
}

func (s *Searcher) Type(query string) {
	s.debouncer.Input(query)
}

// Search runs query immediately and returns its result.
func (s *Searcher) Search(ctx context.Context, query string) ([]domain.Subreddit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	if subreddits, ok := s.cache.get(query, s.now()); ok {
		return subreddits, nil
	}

	listing, err := s.client.SearchSubreddits(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search subreddits: %w", err)
	}

	now := s.now()
	s.cache.set(query, listing.Values, now.Add(resultCacheTTL), now)

	return listing.Values, nil
}

func (s *Searcher) Close() {
	s.debouncer.Stop()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.inflight.Wait()
}

func (s *Searcher) search(query string) {
	ctx, cancel := context.WithCancel(s.ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()

	s.inflight.Go(func() {
		defer cancel()

		subreddits, err := s.Search(ctx, query)
		if ctx.Err() != nil {
			s.log.DebugContext(ctx, "Search is superseded",
				"query", query)

			return
		}

		if err != nil {
			s.log.WarnContext(ctx, "Failed to search subreddits",
				"error", err,
				"query", query)
		}

		s.deliver(Result{Query: query, Subreddits: subreddits, Err: err})
	})
}

// deliver keeps only the newest undelivered result.
func (s *Searcher) deliver(result Result) {
	for {
		select {
		case s.results <- result:
			return
		default:
		}

		select {
		case <-s.results:
		default:
		}
	}
}
