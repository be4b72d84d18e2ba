package search

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"snoosync/internal/domain"
)

const (
	resultCacheMaxEntries = 256
	resultCacheTTL        = 5 * time.Minute
)

// resultCache is an expiring LRU cache of search results keyed by the
// normalized query.
type resultCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
}

type resultCacheEntry struct {
	key        string
	subreddits []domain.Subreddit
	expiresAt  time.Time
}

func newResultCache(maxEntries int) *resultCache {
	if maxEntries <= 0 {
		return nil
	}

	return &resultCache{
		entries:    make(map[string]*list.Element, maxEntries),
		order:      list.New(),
		maxEntries: maxEntries,
	}
}

func cacheKey(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

func (c *resultCache) get(query string, now time.Time) ([]domain.Subreddit, bool) {
	key := cacheKey(query)
	if c == nil || key == "" {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	entry, ok := elem.Value.(*resultCacheEntry)
	if !ok {
		return nil, false
	}

	if now.After(entry.expiresAt) {
		c.removeElement(elem)

		return nil, false
	}

	c.order.MoveToFront(elem)

	return entry.subreddits, true
}

func (c *resultCache) set(query string, subreddits []domain.Subreddit, expiresAt time.Time, now time.Time) {
	key := cacheKey(query)
	if c == nil || key == "" || !expiresAt.After(now) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry, castOk := elem.Value.(*resultCacheEntry)
		if !castOk {
			return
		}

		entry.subreddits = subreddits
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)

		return
	}

	c.entries[key] = c.order.PushFront(&resultCacheEntry{
		key:        key,
		subreddits: subreddits,
		expiresAt:  expiresAt,
	})

	c.evictExpiredLocked(now)
	c.enforceSizeLimitLocked()
}

func (c *resultCache) evictExpiredLocked(now time.Time) {
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()

		if entry, ok := elem.Value.(*resultCacheEntry); ok && now.After(entry.expiresAt) {
			c.removeElement(elem)
		}

		elem = prev
	}
}

func (c *resultCache) enforceSizeLimitLocked() {
	for len(c.entries) > c.maxEntries {
		elem := c.order.Back()
		if elem == nil {
			return
		}

		c.removeElement(elem)
	}
}

func (c *resultCache) removeElement(elem *list.Element) {
	entry, ok := elem.Value.(*resultCacheEntry)
	if !ok {
		return
	}

	delete(c.entries, entry.key)
	c.order.Remove(elem)
}
