package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"snoosync/internal/api"
	"snoosync/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNotFound = errors.New("not found")

type memoryStore struct {
	mu    sync.Mutex
	subs  map[string]domain.Subscription
	posts map[string]map[string]domain.Post
	reads map[string]time.Time
}

func newMemoryStore(subs ...domain.Subscription) *memoryStore {
	m := &memoryStore{
		subs:  make(map[string]domain.Subscription),
		posts: make(map[string]map[string]domain.Post),
		reads: make(map[string]time.Time),
	}

	for _, sub := range subs {
		m.subs[sub.ID] = sub
	}

	return m
}

func (m *memoryStore) GetSubscriptions(context.Context) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := make([]domain.Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}

	return subs, nil
}

func (m *memoryStore) GetSubscription(_ context.Context, id string) (domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok {
		return domain.Subscription{}, errNotFound
	}

	watermarks := make(map[domain.Period]*time.Time, len(sub.LastFetchedAt))
	for p, at := range sub.LastFetchedAt {
		watermarks[p] = at
	}
	sub.LastFetchedAt = watermarks

	return sub, nil
}

func (m *memoryStore) CreateSubscription(_ context.Context, sub domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subs[sub.ID] = sub

	return nil
}

func (m *memoryStore) DeleteSubscription(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.subs, id)
	delete(m.posts, id)

	return nil
}

func (m *memoryStore) UpdatePriority(_ context.Context, id string, priority int, reset bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok {
		return errNotFound
	}

	sub.Priority = priority
	if reset {
		sub.ResetWatermarks()
	}
	m.subs[id] = sub

	return nil
}

func (m *memoryStore) MergeFetch(
	_ context.Context,
	id string,
	period domain.Period,
	posts []domain.Post,
	fetchedAt time.Time,
) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok {
		return 0, errNotFound
	}

	if m.posts[id] == nil {
		m.posts[id] = make(map[string]domain.Post)
	}

	inserted := 0
	for _, post := range posts {
		if _, read := m.reads[post.ContentHash]; read {
			continue
		}

		if _, exists := m.posts[id][post.ID]; !exists {
			m.posts[id][post.ID] = post
			inserted++
		}
	}

	sub.SetWatermark(period, fetchedAt)
	sub.PostCount = len(m.posts[id])
	m.subs[id] = sub

	return inserted, nil
}

func (m *memoryStore) RecordRead(_ context.Context, contentHash string, readAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reads[contentHash] = readAt

	return nil
}

func (m *memoryStore) PruneReadMetadata(context.Context) (int64, error) {
	return 0, nil
}

type topCall struct {
	subreddit string
	period    domain.Period
	limit     int
}

type fakeFetcher struct {
	mu      sync.Mutex
	calls   []topCall
	err     error
	block   bool
	started chan struct{}
	remote  []domain.Subreddit
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{started: make(chan struct{}, 8)}
}

func (f *fakeFetcher) TopPosts(
	ctx context.Context,
	subreddit string,
	period domain.Period,
	limit int,
) (domain.Listing[domain.Post], error) {
	f.mu.Lock()
	f.calls = append(f.calls, topCall{subreddit: subreddit, period: period, limit: limit})
	block, err := f.block, f.err
	f.mu.Unlock()

	f.started <- struct{}{}

	if block {
		<-ctx.Done()
		return domain.Listing[domain.Post]{}, ctx.Err()
	}

	if err != nil {
		return domain.Listing[domain.Post]{}, err
	}

	prefix := subreddit + "-" + string(period)

	return domain.Listing[domain.Post]{Values: []domain.Post{
		{ID: prefix + "-1", ContentHash: prefix + "-hash-1"},
		{ID: prefix + "-2", ContentHash: prefix + "-hash-2"},
	}}, nil
}

func (f *fakeFetcher) AllMySubreddits(context.Context) ([]domain.Subreddit, error) {
	return f.remote, nil
}

func (f *fakeFetcher) topCalls() []topCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]topCall(nil), f.calls...)
}

func newTestScheduler(store Store, fetcher Fetcher, now time.Time) *Scheduler {
	s := New(context.Background(), Config{}, store, fetcher, slog.New(slog.DiscardHandler))
	s.now = func() time.Time { return now }

	return s
}

func TestUpdateIfNeededFetchesEveryDuePeriod(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemoryStore(domain.NewSubscription("a", "golang"))
	fetcher := newFakeFetcher()
	s := newTestScheduler(store, fetcher, now)

	inserted, err := s.UpdateIfNeeded(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 8, inserted)

	assert.Equal(t, []topCall{
		{subreddit: "golang", period: domain.PeriodAll, limit: 2},
		{subreddit: "golang", period: domain.PeriodYear, limit: 2},
		{subreddit: "golang", period: domain.PeriodMonth, limit: 2},
		{subreddit: "golang", period: domain.PeriodWeek, limit: 2},
	}, fetcher.topCalls())

	sub, err := store.GetSubscription(ctx, "a")
	require.NoError(t, err)

	for _, p := range domain.Periods {
		assert.False(t, sub.NeedsUpdate(p, now), p)
	}

	inserted, err = s.UpdateIfNeeded(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.Len(t, fetcher.topCalls(), 4)
	assert.Equal(t, StatusIdle, s.Status("a"))

	// A day later only the week tier is due again.
	s.now = func() time.Time { return now.Add(24 * time.Hour) }

	_, err = s.UpdateIfNeeded(ctx, "a")
	require.NoError(t, err)

	calls := fetcher.topCalls()
	require.Len(t, calls, 5)
	assert.Equal(t, domain.PeriodWeek, calls[4].period)
}

func TestUpdateIfNeededStopsAtCachedPostCeiling(t *testing.T) {
	sub := domain.NewSubscription("a", "golang")
	sub.PostCount = DefaultMaxCachedPosts

	fetcher := newFakeFetcher()
	s := newTestScheduler(newMemoryStore(sub), fetcher, time.Now())

	inserted, err := s.UpdateIfNeeded(context.Background(), "a")
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.Empty(t, fetcher.topCalls())
}

func TestUpdateIfNeededSkipsReadContent(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(domain.NewSubscription("a", "golang"))
	fetcher := newFakeFetcher()
	s := newTestScheduler(store, fetcher, time.Now())

	require.NoError(t, s.MarkRead(ctx, "golang-all-hash-1"))

	_, err := s.UpdateIfNeeded(ctx, "a")
	require.NoError(t, err)

	sub, err := store.GetSubscription(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 7, sub.PostCount)
}

func TestUpdateIfNeededAllowsOneFetchPerSubscription(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(domain.NewSubscription("a", "golang"))
	fetcher := newFakeFetcher()
	fetcher.block = true
	s := newTestScheduler(store, fetcher, time.Now())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.UpdateIfNeeded(ctx, "a")
		errCh <- err
	}()

	<-fetcher.started
	assert.Equal(t, StatusLoading, s.Status("a"))

	inserted, err := s.UpdateIfNeeded(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.Len(t, fetcher.topCalls(), 1)

	s.supersede("a")
	require.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, StatusIdle, s.Status("a"))
}

func TestUpdateIfNeededReportsRateLimitStatus(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.err = &api.RateLimitedError{Interval: 9 * time.Second}
	s := newTestScheduler(newMemoryStore(domain.NewSubscription("a", "golang")), fetcher, time.Now())

	_, err := s.UpdateIfNeeded(context.Background(), "a")
	require.Error(t, err)
	assert.Equal(t, StatusRateLimited, s.Status("a"))

	fetcher.err = &api.StatusError{Code: 500}

	_, err = s.UpdateIfNeeded(context.Background(), "a")
	require.Error(t, err)
	assert.Equal(t, StatusFailed, s.Status("a"))
}

func TestSetPriorityRaiseResetsWatermarks(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemoryStore(domain.NewSubscription("a", "golang"))
	fetcher := newFakeFetcher()
	s := newTestScheduler(store, fetcher, now)

	_, err := s.UpdateIfNeeded(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, s.SetPriority(ctx, "a", 1))

	sub, err := store.GetSubscription(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, sub.Priority)

	for _, p := range domain.Periods {
		assert.True(t, sub.NeedsUpdate(p, now), p)
	}

	_, err = s.UpdateIfNeeded(ctx, "a")
	require.NoError(t, err)

	calls := fetcher.topCalls()
	require.Len(t, calls, 8)
	assert.Equal(t, 4, calls[4].limit)

	require.NoError(t, s.SetPriority(ctx, "a", 0))

	sub, err = store.GetSubscription(ctx, "a")
	require.NoError(t, err)
	assert.False(t, sub.NeedsUpdate(domain.PeriodAll, now))

	require.Error(t, s.SetPriority(ctx, "a", 3))
}

func TestForceRefreshSupersedesRunningFetch(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(domain.NewSubscription("a", "golang"))
	fetcher := newFakeFetcher()
	fetcher.block = true
	s := newTestScheduler(store, fetcher, time.Now())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.UpdateIfNeeded(ctx, "a")
		errCh <- err
	}()

	<-fetcher.started

	fetcher.mu.Lock()
	fetcher.block = false
	fetcher.mu.Unlock()

	inserted, err := s.ForceRefresh(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 8, inserted)
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestSyncSubscriptions(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(
		domain.NewSubscription("a", "golang"),
		domain.NewSubscription("b", "java"),
	)
	fetcher := newFakeFetcher()
	fetcher.remote = []domain.Subreddit{
		{ID: "a", Name: "golang"},
		{ID: "c", Name: "rust"},
	}
	s := newTestScheduler(store, fetcher, time.Now())

	created, deleted, err := s.SyncSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, deleted)

	subs, err := store.GetSubscriptions(ctx)
	require.NoError(t, err)

	names := make([]string, 0, len(subs))
	for _, sub := range subs {
		names = append(names, sub.Name)
	}
	assert.ElementsMatch(t, []string{"golang", "rust"}, names)
}

func TestUpdateAllCollectsErrors(t *testing.T) {
	store := newMemoryStore(
		domain.NewSubscription("a", "golang"),
		domain.NewSubscription("b", "rust"),
	)
	fetcher := newFakeFetcher()
	fetcher.err = errors.New("boom")
	s := newTestScheduler(store, fetcher, time.Now())

	err := s.UpdateAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "golang")
	assert.Contains(t, err.Error(), "rust")
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	s := New(context.Background(), Config{Spec: "not a spec"}, newMemoryStore(), newFakeFetcher(),
		slog.New(slog.DiscardHandler))

	require.Error(t, s.Start())
}
