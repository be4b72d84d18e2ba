package payload

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"snoosync/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const postListingJSON = `{
  "kind": "Listing",
  "data": {
    "after": "t3_next",
    "before": null,
    "children": [
      {"kind": "t3", "data": {
        "id": "p1", "subreddit": "golang", "title": " Go 1.30 ", "author": "gopher",
        "score": 42, "num_comments": 7, "created_utc": 1700000000, "edited": false,
        "saved": true, "likes": true, "url": "https://www.example.com/post.html",
        "is_self": false, "selftext": "", "thumbnail": "https://thumbs.example.com/p1.jpg",
        "crosspost_parent_list": [{"id": "orig", "subreddit": "programming"}],
        "secure_media": {"reddit_video": {"hls_url": "https://v.redd.it/p1/HLS.m3u8", "fallback_url": "https://v.redd.it/p1/720.mp4", "width": 1280, "height": 720}},
        "preview": {"images": [{"source": {"url": "https://i.redd.it/p1.jpg", "width": 10, "height": 10}}]}
      }},
      {"kind": "t3", "data": "not an object"},
      {"kind": "t1", "data": {"id": "c1"}},
      {"kind": "t3", "data": {
        "id": "p2", "title": "Ask", "author": "someone", "created_utc": 1700000100.5,
        "edited": 1700000200, "likes": false, "is_self": true,
        "selftext": "see https://go.dev/doc and https://go.dev/doc", "thumbnail": "self",
        "url": "https://www.reddit.com/r/golang/comments/p2/ask/"
      }}
    ]
  }
}`

func newTestDecoder() *Decoder {
	return NewDecoder(slog.New(slog.DiscardHandler))
}

func TestDecoderPostsDropsInvalidItems(t *testing.T) {
	listing, err := newTestDecoder().Posts(context.Background(), []byte(postListingJSON))
	require.NoError(t, err)

	assert.Equal(t, "t3_next", listing.After)
	assert.Empty(t, listing.Before)
	require.Len(t, listing.Values, 2)

	first := listing.Values[0]
	assert.Equal(t, "p1", first.ID)
	assert.Equal(t, "Go 1.30", first.Title)
	assert.Equal(t, "example.com/post", first.ContentHash)
	assert.Equal(t, domain.VoteUp, first.UserVote)
	assert.True(t, first.SavedByUser)
	assert.Nil(t, first.EditedAt)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), first.CreatedAt)
	assert.Equal(t, "orig", first.CrosspostOriginID)
	assert.Equal(t, "programming", first.CrosspostOriginSubreddit)
	assert.Equal(t, "https://thumbs.example.com/p1.jpg", first.ThumbnailURL)

	require.NotNil(t, first.PreviewMedia)
	assert.True(t, first.PreviewMedia.IsVideo)
	assert.Equal(t, []string{"https://v.redd.it/p1/HLS.m3u8"}, first.PreviewMedia.URLs)
	require.NotNil(t, first.PreviewMedia.Width)
	assert.Equal(t, 1280, *first.PreviewMedia.Width)

	second := listing.Values[1]
	assert.Equal(t, domain.VoteDown, second.UserVote)
	require.NotNil(t, second.EditedAt)
	assert.Equal(t, time.Unix(1700000200, 0).UTC(), *second.EditedAt)
	assert.Empty(t, second.ThumbnailURL)
	assert.Equal(t, []string{"https://go.dev/doc"}, second.Links)
	assert.Len(t, second.ContentHash, 32)
}

func TestDecoderPostsRejectsWrongEnvelope(t *testing.T) {
	_, err := newTestDecoder().Posts(context.Background(), []byte(`{"kind": "t3", "data": {}}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidJSON))

	_, err = newTestDecoder().Posts(context.Background(), []byte(`[`))
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestResolveMediaPrefersAnimatedVariant(t *testing.T) {
	raw := &rawPost{
		ID: "p",
		Preview: &rawPreview{Images: []rawImage{
			{Source: rawImageSource{URL: "https://i.redd.it/a.jpg", Width: 100, Height: 50}},
			{Source: rawImageSource{URL: "https://i.redd.it/b.jpg", Width: 30, Height: 30}},
		}},
	}
	raw.Preview.Images[0].Variants.MP4 = &rawImageVariant{
		Source: rawImageSource{URL: "https://i.redd.it/a.mp4", Width: 200, Height: 100},
	}

	media := newTestDecoder().resolveMedia(context.Background(), raw)
	require.NotNil(t, media)
	assert.True(t, media.IsVideo)
	assert.Equal(t, []string{"https://i.redd.it/a.mp4", "https://i.redd.it/b.jpg"}, media.URLs)
	assert.Equal(t, 200, *media.Width)
	assert.Equal(t, 100, *media.Height)
}

func TestResolveMediaVideoFallbackURL(t *testing.T) {
	raw := &rawPost{
		ID: "p",
		Preview: &rawPreview{
			RedditVideoPreview: &rawVideo{FallbackURL: "https://v.redd.it/x/360.mp4"},
			Images:             []rawImage{{Source: rawImageSource{URL: "https://i.redd.it/a.jpg"}}},
		},
	}

	media := newTestDecoder().resolveMedia(context.Background(), raw)
	require.NotNil(t, media)
	assert.True(t, media.IsVideo)
	assert.Equal(t, []string{"https://v.redd.it/x/360.mp4"}, media.URLs)
	assert.Nil(t, media.Width)
}

func TestResolveMediaEmbedFallback(t *testing.T) {
	raw := &rawPost{
		ID: "p",
		SecureMediaEmbed: rawMediaEmbed{
			Content: `<iframe width="356" height="200" src="https://www.youtube.com/embed/xyz"></iframe>`,
			Width:   356,
			Height:  200,
		},
	}

	media := newTestDecoder().resolveMedia(context.Background(), raw)
	require.NotNil(t, media)
	assert.Equal(t, []string{"https://www.youtube.com/embed/xyz"}, media.URLs)

	assert.Nil(t, newTestDecoder().resolveMedia(context.Background(), &rawPost{ID: "none"}))
}

const commentsJSON = `[
  {"kind": "Listing", "data": {"children": [{"kind": "t3", "data": {"id": "p1", "title": "Post", "is_self": true, "selftext": "body"}}]}},
  {"kind": "Listing", "data": {"children": [
    {"kind": "t1", "data": {"id": "c1", "author": "alice", "body": "top", "created_utc": 1700000000, "likes": null,
      "replies": {"kind": "Listing", "data": {"children": [
        {"kind": "t1", "data": {"id": "c2", "author": "bob", "body": "reply", "created_utc": 1700000001, "replies": ""}},
        {"kind": "more", "data": {"id": "m1", "children": ["c3", "c4"]}}
      ]}}}},
    {"kind": "t1", "data": {"id": "c5", "author": "[deleted]", "body": "[deleted]", "created_utc": 1700000002, "replies": ""}},
    {"kind": "t1", "data": {"id": "c6", "author": "[deleted]", "body": "[removed]", "created_utc": 1700000003,
      "replies": {"kind": "Listing", "data": {"children": [
        {"kind": "t1", "data": {"id": "c7", "author": "carol", "body": "still here", "replies": ""}}
      ]}}}},
    {"kind": "more", "data": {"id": "bad", "children": [], "created": 1700000004}},
    {"kind": "more", "data": {"id": "_", "children": []}},
    {"kind": "t1", "data": {"id": "c8", "replies": ""}}
  ]}}
]`

func TestDecoderComments(t *testing.T) {
	result, err := newTestDecoder().Comments(context.Background(), []byte(commentsJSON))
	require.NoError(t, err)

	assert.Equal(t, "p1", result.Post.ID)

	comments := result.Comments.Values
	require.Len(t, comments, 2)

	top := comments[0]
	assert.Equal(t, "c1", top.ID)
	assert.Equal(t, domain.VoteNone, top.UserVote)
	require.NotNil(t, top.Replies)
	require.Len(t, top.Replies.Values, 2)
	assert.Equal(t, "c2", top.Replies.Values[0].ID)
	assert.Nil(t, top.Replies.Values[0].Replies)

	more := top.Replies.Values[1]
	assert.True(t, more.IsPlaceholder())
	assert.Equal(t, []string{"c3", "c4"}, more.UnloadedChildIDs)

	deletedParent := comments[1]
	assert.Equal(t, "c6", deletedParent.ID)
	require.NotNil(t, deletedParent.Replies)
	assert.Equal(t, "c7", deletedParent.Replies.Values[0].ID)
}

func TestDecodeCommentDiscardsAnomalousEmptyChildren(t *testing.T) {
	var logged []string
	d := NewDecoder(slog.New(&recordingHandler{messages: &logged}))

	_, ok := d.decodeComment(context.Background(), thing{
		Kind: kindMore,
		Data: []byte(`{"id": "x", "children": [], "created": 1700000000}`),
	})

	assert.False(t, ok)
	assert.Contains(t, logged, "Discarding anomalous comment with empty children")
}

func TestDecoderSubreddits(t *testing.T) {
	body := `{"kind": "Listing", "data": {"after": null, "children": [
	  {"kind": "t5", "data": {"id": "2qh1i", "display_name": "golang", "subscribers": 250000}},
	  {"kind": "t5", "data": {"id": "", "display_name": "broken"}},
	  {"kind": "t5", "data": {"id": "2qh0y", "display_name": "rust", "subscribers": null}}
	]}}`

	listing, err := newTestDecoder().Subreddits(context.Background(), []byte(body))
	require.NoError(t, err)
	require.Len(t, listing.Values, 2)

	assert.Equal(t, "golang", listing.Values[0].Name)
	require.NotNil(t, listing.Values[0].SubscriberCountEstimate)
	assert.Equal(t, 250000, *listing.Values[0].SubscriberCountEstimate)
	assert.Nil(t, listing.Values[1].SubscriberCountEstimate)
}

func TestDecoderEmpty(t *testing.T) {
	_, err := newTestDecoder().Empty(context.Background(), []byte(`{}`))
	require.NoError(t, err)

	_, err = newTestDecoder().Empty(context.Background(), []byte(`oops`))
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

type recordingHandler struct {
	messages *[]string
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	*h.messages = append(*h.messages, r.Message)
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }
