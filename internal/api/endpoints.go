package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"snoosync/internal/domain"
	"snoosync/internal/payload"
)

const (
	postKindPrefix = "t3_"

	subredditPageSize = 100
	searchLimit       = 25
)

type listingQuery struct {
	After string `url:"after,omitempty"`
	Limit int    `url:"limit,omitempty"`
}

type searchQuery struct {
	Query string `url:"q"`
	Limit int    `url:"limit,omitempty"`
}

type topQuery struct {
	Period domain.Period `url:"t"`
	Limit  int           `url:"limit"`
}

type commentsQuery struct {
	Article string `url:"article"`
	Sort    string `url:"sort"`
}

type voteForm struct {
	ID        string `url:"id"`
	Direction int    `url:"dir"`
}

type thingForm struct {
	ID string `url:"id"`
}

// MySubreddits returns one page of the user's subscriptions.
func (c *Client) MySubreddits(ctx context.Context, after string) (domain.Listing[domain.Subreddit], error) {
	return Send(ctx, c, Request[domain.Listing[domain.Subreddit]]{
		Path:   "/subreddits/mine/subscriber",
		Query:  listingQuery{After: after, Limit: subredditPageSize},
		Decode: c.decoder.Subreddits,
	})
}

// AllMySubreddits follows "after" until the last page.
func (c *Client) AllMySubreddits(ctx context.Context) ([]domain.Subreddit, error) {
	var (
		subreddits []domain.Subreddit
		after      string
		seen       = make(map[string]struct{})
	)

	for {
		page, err := c.MySubreddits(ctx, after)
		if err != nil {
			return nil, fmt.Errorf("get subreddits page: %w", err)
		}

		subreddits = append(subreddits, page.Values...)

		if page.After == "" {
			return subreddits, nil
		}

		if _, ok := seen[page.After]; ok {
			c.log.WarnContext(ctx, "Subreddit paging repeats a cursor",
				"after", page.After)

			return subreddits, nil
		}

		seen[page.After] = struct{}{}
		after = page.After
	}
}

func (c *Client) SearchSubreddits(ctx context.Context, q string) (domain.Listing[domain.Subreddit], error) {
	return Send(ctx, c, Request[domain.Listing[domain.Subreddit]]{
		Path:   "/subreddits/search",
		Query:  searchQuery{Query: q, Limit: searchLimit},
		Decode: c.decoder.Subreddits,
	})
}

func (c *Client) TopPosts(
	ctx context.Context,
	subreddit string,
	period domain.Period,
	limit int,
) (domain.Listing[domain.Post], error) {
	return Send(ctx, c, Request[domain.Listing[domain.Post]]{
		Path:   "/r/" + url.PathEscape(subreddit) + "/top",
		Query:  topQuery{Period: period, Limit: limit},
		Decode: c.decoder.Posts,
	})
}

func (c *Client) Comments(ctx context.Context, subreddit string, postID string) (payload.PostComments, error) {
	return Send(ctx, c, Request[payload.PostComments]{
		Path:   "/r/" + url.PathEscape(subreddit) + "/comments/" + url.PathEscape(postID),
		Query:  commentsQuery{Article: postID, Sort: "top"},
		Decode: c.decoder.Comments,
	})
}

func (c *Client) Vote(ctx context.Context, postID string, vote domain.Vote) error {
	if !vote.Valid() {
		return fmt.Errorf("invalid vote: %d", vote)
	}

	_, err := Send(ctx, c, Request[struct{}]{
		Method: http.MethodPost,
		Path:   "/api/vote",
		Form:   voteForm{ID: postKindPrefix + postID, Direction: int(vote)},
		Decode: c.decoder.Empty,
	})

	return err
}

// SetSaved saves or unsaves a post.
func (c *Client) SetSaved(ctx context.Context, postID string, saved bool) error {
	path := "/api/unsave"
	if saved {
		path = "/api/save"
	}

	_, err := Send(ctx, c, Request[struct{}]{
		Method: http.MethodPost,
		Path:   path,
		Form:   thingForm{ID: postKindPrefix + postID},
		Decode: c.decoder.Empty,
	})

	return err
}
