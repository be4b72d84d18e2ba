package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"snoosync/internal/api"
	"snoosync/internal/domain"
)

const (
	DefaultSpec        = "@every 1m"
	DefaultConcurrency = 4

	// DefaultMaxCachedPosts stops fetching for a subscription while that
	// many posts are stored locally.
	DefaultMaxCachedPosts = 100

	Timezone              = "UTC"
	TimezoneOffsetSeconds = 0
	tickTimeout           = 15 * time.Minute
)

type Status string

const (
	StatusIdle        Status = "idle"
	StatusLoading     Status = "loading"
	StatusRateLimited Status = "rate_limited"
	StatusFailed      Status = "failed"
)

type Store interface {
	GetSubscriptions(ctx context.Context) ([]domain.Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (domain.Subscription, error)
	CreateSubscription(ctx context.Context, sub domain.Subscription) error
	DeleteSubscription(ctx context.Context, subscriptionID string) error
	UpdatePriority(ctx context.Context, subscriptionID string, priority int, resetWatermarks bool) error
	MergeFetch(
		ctx context.Context,
		subscriptionID string,
		period domain.Period,
		posts []domain.Post,
		fetchedAt time.Time,
	) (int, error)
	RecordRead(ctx context.Context, contentHash string, readAt time.Time) error
	PruneReadMetadata(ctx context.Context) (int64, error)
}

type Fetcher interface {
	TopPosts(ctx context.Context, subreddit string, period domain.Period, limit int) (domain.Listing[domain.Post], error)
	AllMySubreddits(ctx context.Context) ([]domain.Subreddit, error)
}

type Config struct {
	Spec           string
	Concurrency    int
	MaxCachedPosts int
}

type fetch struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Scheduler struct {
	ctx     context.Context
	cron    *cron.Cron
	store   Store
	fetcher Fetcher
	now     func() time.Time
	log     *slog.Logger

	spec           string
	concurrency    int
	maxCachedPosts int

	mu       sync.Mutex
	inflight map[string]*fetch
	statuses map[string]Status
}

func New(ctx context.Context, cfg Config, store Store, fetcher Fetcher, log *slog.Logger) *Scheduler {
	c := cron.New(cron.WithLocation(time.FixedZone(Timezone, TimezoneOffsetSeconds)))

	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	if cfg.MaxCachedPosts <= 0 {
		cfg.MaxCachedPosts = DefaultMaxCachedPosts
	}

	return &Scheduler{
		ctx:            ctx,
		cron:           c,
		store:          store,
		fetcher:        fetcher,
		now:            time.Now,
		log:            log,
		spec:           cfg.Spec,
		concurrency:    cfg.Concurrency,
		maxCachedPosts: cfg.MaxCachedPosts,
		inflight:       make(map[string]*fetch),
		statuses:       make(map[string]Status),
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.tick); err != nil {
		return fmt.Errorf("add cron func: %w", err)
	}

	s.cron.Start()

	return nil
}

// Stop halts the cron and waits for a running tick to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(s.ctx, tickTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err())
		return
	default:
	}

	if err := s.UpdateAll(ctx); err != nil {
		s.log.ErrorContext(ctx, "Failed to update subscriptions",
			"error", err)
	}

	pruned, err := s.store.PruneReadMetadata(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to prune read metadata",
			"error", err)
		return
	}

	if pruned > 0 {
		s.log.InfoContext(ctx, "Pruned read metadata",
			"count", pruned)
	}
}

// UpdateAll runs UpdateIfNeeded for every subscription with bounded
// concurrency. One failing subscription does not stop the others.
func (s *Scheduler) UpdateAll(ctx context.Context) error {
	subs, err := s.store.GetSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("get subscriptions: %w", err)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)

	g.SetLimit(s.concurrency)

	for _, sub := range subs {
		g.Go(func() error {
			if _, err := s.UpdateIfNeeded(ctx, sub.ID); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("update %s: %w", sub.Name, err))
				mu.Unlock()
			}

			return nil
		})
	}

	_ = g.Wait()

	return errors.Join(errs...)
}

// UpdateIfNeeded fetches every due period of the subscription and returns
// the number of new posts. It is a no-op while another fetch for the same
// subscription is running or the local post ceiling is reached.
func (s *Scheduler) UpdateIfNeeded(ctx context.Context, subscriptionID string) (int, error) {
	ctx, f, ok := s.begin(ctx, subscriptionID)
	if !ok {
		s.log.DebugContext(ctx, "Update is already in flight",
			"subscriptionID", subscriptionID)

		return 0, nil
	}
	defer s.end(subscriptionID, f)

	total := 0

	for range domain.Periods {
		sub, err := s.store.GetSubscription(ctx, subscriptionID)
		if err != nil {
			s.setStatus(subscriptionID, StatusFailed)
			return total, fmt.Errorf("get subscription: %w", err)
		}

		if sub.PostCount >= s.maxCachedPosts {
			s.log.DebugContext(ctx, "Skipping update, enough posts are cached",
				"subscription", sub.Name,
				"postCount", sub.PostCount)
			break
		}

		now := s.now()

		period, due := sub.NextUpdate(now)
		if due.After(now) {
			break
		}

		inserted, err := s.fetchPeriod(ctx, sub, period)
		if err != nil {
			return total, err
		}

		total += inserted
	}

	s.setStatus(subscriptionID, StatusIdle)

	return total, nil
}

func (s *Scheduler) fetchPeriod(ctx context.Context, sub domain.Subscription, period domain.Period) (int, error) {
	s.setStatus(sub.ID, StatusLoading)

	listing, err := s.fetcher.TopPosts(ctx, sub.Name, period, sub.FetchCount())
	if err != nil {
		switch {
		case ctx.Err() != nil:
			s.setStatus(sub.ID, StatusIdle)
		case api.IsRateLimited(err):
			s.setStatus(sub.ID, StatusRateLimited)
		default:
			s.setStatus(sub.ID, StatusFailed)
		}

		return 0, fmt.Errorf("fetch top posts for %s: %w", period, err)
	}

	for i := range listing.Values {
		if listing.Values[i].Subreddit == "" {
			listing.Values[i].Subreddit = sub.Name
		}
	}

	inserted, err := s.store.MergeFetch(ctx, sub.ID, period, listing.Values, s.now())
	if err != nil {
		s.setStatus(sub.ID, StatusFailed)
		return 0, fmt.Errorf("merge fetch: %w", err)
	}

	s.log.InfoContext(ctx, "Fetched subscription period",
		"subscription", sub.Name,
		"period", period,
		"received", len(listing.Values),
		"inserted", inserted)

	return inserted, nil
}

// ForceRefresh cancels a running fetch of the subscription, forgets its
// watermarks and fetches again.
func (s *Scheduler) ForceRefresh(ctx context.Context, subscriptionID string) (int, error) {
	s.supersede(subscriptionID)

	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return 0, fmt.Errorf("get subscription: %w", err)
	}

	if err = s.store.UpdatePriority(ctx, subscriptionID, sub.Priority, true); err != nil {
		return 0, fmt.Errorf("reset watermarks: %w", err)
	}

	return s.UpdateIfNeeded(ctx, subscriptionID)
}

// SetPriority stores the new priority. Raising it supersedes a running
// fetch, since every period is due again.
func (s *Scheduler) SetPriority(ctx context.Context, subscriptionID string, priority int) error {
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}

	raised, err := sub.SetPriority(priority)
	if err != nil {
		return err
	}

	if raised {
		s.supersede(subscriptionID)
	}

	if err = s.store.UpdatePriority(ctx, subscriptionID, priority, raised); err != nil {
		return fmt.Errorf("update priority: %w", err)
	}

	return nil
}

func (s *Scheduler) Subscribe(ctx context.Context, subreddit domain.Subreddit) error {
	if err := s.store.CreateSubscription(ctx, domain.NewSubscription(subreddit.ID, subreddit.Name)); err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}

	return nil
}

func (s *Scheduler) Unsubscribe(ctx context.Context, subscriptionID string) error {
	s.supersede(subscriptionID)

	if err := s.store.DeleteSubscription(ctx, subscriptionID); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}

	s.mu.Lock()
	delete(s.statuses, subscriptionID)
	s.mu.Unlock()

	return nil
}

// SyncSubscriptions mirrors the remote subscription list locally.
func (s *Scheduler) SyncSubscriptions(ctx context.Context) (int, int, error) {
	remote, err := s.fetcher.AllMySubreddits(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("get remote subscriptions: %w", err)
	}

	local, err := s.store.GetSubscriptions(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("get local subscriptions: %w", err)
	}

	localIDs := make(map[string]struct{}, len(local))
	for _, sub := range local {
		localIDs[sub.ID] = struct{}{}
	}

	remoteIDs := make(map[string]struct{}, len(remote))
	created := 0

	for _, subreddit := range remote {
		remoteIDs[subreddit.ID] = struct{}{}

		if _, ok := localIDs[subreddit.ID]; ok {
			continue
		}

		if err = s.Subscribe(ctx, subreddit); err != nil {
			return created, 0, err
		}

		created++
	}

	deleted := 0

	for _, sub := range local {
		if _, ok := remoteIDs[sub.ID]; ok {
			continue
		}

		if err = s.Unsubscribe(ctx, sub.ID); err != nil {
			return created, deleted, err
		}

		deleted++
	}

	s.log.InfoContext(ctx, "Synced subscriptions",
		"remote", len(remote),
		"created", created,
		"deleted", deleted)

	return created, deleted, nil
}

// MarkRead records that the content was read, so posts sharing the content
// hash are not stored again under any subscription.
func (s *Scheduler) MarkRead(ctx context.Context, contentHash string) error {
	if err := s.store.RecordRead(ctx, contentHash, s.now()); err != nil {
		return fmt.Errorf("record read: %w", err)
	}

	return nil
}

func (s *Scheduler) Status(subscriptionID string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status, ok := s.statuses[subscriptionID]; ok {
		return status
	}

	return StatusIdle
}

func (s *Scheduler) setStatus(subscriptionID string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statuses[subscriptionID] = status
}

func (s *Scheduler) begin(ctx context.Context, subscriptionID string) (context.Context, *fetch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inflight[subscriptionID]; ok {
		return ctx, nil, false
	}

	ctx, cancel := context.WithCancel(ctx)
	f := &fetch{cancel: cancel, done: make(chan struct{})}
	s.inflight[subscriptionID] = f

	return ctx, f, true
}

func (s *Scheduler) end(subscriptionID string, f *fetch) {
	f.cancel()

	s.mu.Lock()
	if s.inflight[subscriptionID] == f {
		delete(s.inflight, subscriptionID)
	}
	s.mu.Unlock()

	close(f.done)
}

// supersede cancels the running fetch of the subscription and waits for it
// to finish.
func (s *Scheduler) supersede(subscriptionID string) {
	s.mu.Lock()
	f, ok := s.inflight[subscriptionID]
	s.mu.Unlock()

	if !ok {
		return
	}

	f.cancel()
	<-f.done
}
