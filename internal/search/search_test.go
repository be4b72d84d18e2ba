package search

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"snoosync/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncerFiresLatestInputOnce(t *testing.T) {
	fired := make(chan string, 4)
	d := NewDebouncer(30*time.Millisecond, func(input string) { fired <- input })
	defer d.Stop()

	d.Input("g")
	d.Input("go")
	d.Input("gol")

	select {
	case got := <-fired:
		assert.Equal(t, "gol", got)
	case <-time.After(time.Second):
		t.Fatal("debouncer did not fire")
	}

	select {
	case got := <-fired:
		t.Fatalf("unexpected second fire: %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncerStopDropsPendingInput(t *testing.T) {
	fired := make(chan string, 1)
	d := NewDebouncer(20*time.Millisecond, func(input string) { fired <- input })

	d.Input("go")
	d.Stop()
	d.Input("rust")

	select {
	case got := <-fired:
		t.Fatalf("unexpected fire after stop: %q", got)
	case <-time.After(80 * time.Millisecond):
	}
}

type fakeClient struct {
	mu      sync.Mutex
	queries []string
}

func (f *fakeClient) SearchSubreddits(_ context.Context, q string) (domain.Listing[domain.Subreddit], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, q)

	return domain.Listing[domain.Subreddit]{Values: subreddits(q + "-result")}, nil
}

func (f *fakeClient) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.queries...)
}

func TestSearcherDebouncesAndCaches(t *testing.T) {
	client := &fakeClient{}
	s := New(context.Background(), client, 20*time.Millisecond, slog.New(slog.DiscardHandler))
	defer s.Close()

	s.Type("g")
	s.Type("go")

	select {
	case result := <-s.Results():
		require.NoError(t, result.Err)
		assert.Equal(t, "go", result.Query)
		require.Len(t, result.Subreddits, 1)
		assert.Equal(t, "go-result", result.Subreddits[0].Name)
	case <-time.After(time.Second):
		t.Fatal("no search result")
	}

	got, err := s.Search(context.Background(), " Go ")
	require.NoError(t, err)
	assert.Equal(t, "go-result", got[0].Name)
	assert.Equal(t, []string{"go"}, client.calls())
}

func TestSearcherSkipsBlankQuery(t *testing.T) {
	client := &fakeClient{}
	s := New(context.Background(), client, time.Millisecond, slog.New(slog.DiscardHandler))
	defer s.Close()

	got, err := s.Search(context.Background(), "   ")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, client.calls())
}
