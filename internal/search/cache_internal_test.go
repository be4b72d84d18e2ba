package search

import (
	"testing"
	"time"

	"snoosync/internal/domain"
)

func subreddits(names ...string) []domain.Subreddit {
	out := make([]domain.Subreddit, 0, len(names))
	for _, name := range names {
		out = append(out, domain.Subreddit{ID: "id-" + name, Name: name})
	}

	return out
}

func TestResultCacheGetSet(t *testing.T) {
	cache := newResultCache(2)
	if cache == nil {
		t.Fatalf("expected cache instance")
	}

	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	cache.set("Golang ", subreddits("golang"), now.Add(time.Hour), now)

	got, ok := cache.get("golang", now)
	if !ok {
		t.Fatalf("expected cached result to be present")
	}

	if len(got) != 1 || got[0].Name != "golang" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestResultCacheExpiresEntries(t *testing.T) {
	cache := newResultCache(2)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	cache.set("go", subreddits("golang"), now.Add(time.Minute), now)

	if _, ok := cache.get("go", now.Add(2*time.Minute)); ok {
		t.Fatalf("expected cache entry to expire")
	}

	if len(cache.entries) != 0 {
		t.Fatalf("expected expired cache entry to be removed")
	}
}

func TestResultCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache := newResultCache(2)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	expiresAt := now.Add(time.Hour)

	cache.set("a", subreddits("a"), expiresAt, now)
	cache.set("b", subreddits("b"), expiresAt, now)

	if _, ok := cache.get("a", now); !ok {
		t.Fatalf("expected entry a to exist before eviction check")
	}

	cache.set("c", subreddits("c"), expiresAt, now)

	if _, ok := cache.get("a", now); !ok {
		t.Fatalf("expected entry a to remain after evicting least recently used")
	}

	if _, ok := cache.get("b", now); ok {
		t.Fatalf("expected entry b to be evicted")
	}

	if _, ok := cache.get("c", now); !ok {
		t.Fatalf("expected entry c to be cached")
	}
}

func TestResultCacheDisabled(t *testing.T) {
	cache := newResultCache(0)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	cache.set("a", subreddits("a"), now.Add(time.Hour), now)

	if _, ok := cache.get("a", now); ok {
		t.Fatalf("expected disabled cache to miss")
	}
}

func TestResultCacheIgnoresForeignElements(t *testing.T) {
	cache := newResultCache(2)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	cache.entries["go"] = cache.order.PushFront("not an entry")

	if _, ok := cache.get("go", now); ok {
		t.Fatalf("expected foreign element to miss")
	}

	cache.set("go", subreddits("golang"), now.Add(time.Hour), now)
	cache.set("rust", subreddits("rust"), now.Add(time.Hour), now)

	if _, ok := cache.get("rust", now); !ok {
		t.Fatalf("expected entry rust to be cached")
	}
}
