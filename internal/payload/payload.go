package payload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"snoosync/internal/domain"
)

const (
	kindListing   = "Listing"
	kindComment   = "t1"
	kindPost      = "t3"
	kindSubreddit = "t5"
	kindMore      = "more"
)

var ErrInvalidJSON = errors.New("invalid JSON")

type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type rawListing struct {
	After    *string `json:"after"`
	Before   *string `json:"before"`
	Children []thing `json:"children"`
}

// editedField holds reddit's "edited" value, which is either false or a
// unix timestamp.
type editedField struct {
	at *time.Time
}

func (e *editedField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("false")) || bytes.Equal(b, []byte("true")) || bytes.Equal(b, []byte("null")) {
		e.at = nil
		return nil
	}

	var seconds float64
	if err := json.Unmarshal(b, &seconds); err != nil {
		return fmt.Errorf("decode edited: %w", err)
	}

	at := unixTime(seconds)
	e.at = &at

	return nil
}

type Decoder struct {
	log *slog.Logger
}

func NewDecoder(log *slog.Logger) *Decoder {
	return &Decoder{log: log}
}

func (d *Decoder) Posts(ctx context.Context, body []byte) (domain.Listing[domain.Post], error) {
	return decodeListing(ctx, d, body, d.decodePost)
}

func (d *Decoder) Subreddits(ctx context.Context, body []byte) (domain.Listing[domain.Subreddit], error) {
	return decodeListing(ctx, d, body, d.decodeSubreddit)
}

// Comments decodes the two-listing array returned by the comments endpoint:
// the first listing holds the post itself, the second the comment forest.
func (d *Decoder) Comments(ctx context.Context, body []byte) (PostComments, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return PostComments{}, fmt.Errorf("%w: decode comments envelope: %w", ErrInvalidJSON, err)
	}

	if len(parts) != 2 {
		return PostComments{}, fmt.Errorf("%w: comments envelope has %d parts", ErrInvalidJSON, len(parts))
	}

	posts, err := decodeListing(ctx, d, parts[0], d.decodePost)
	if err != nil {
		return PostComments{}, fmt.Errorf("decode post listing: %w", err)
	}

	if len(posts.Values) == 0 {
		return PostComments{}, fmt.Errorf("%w: comments envelope has no post", ErrInvalidJSON)
	}

	comments, err := decodeListing(ctx, d, parts[1], d.decodeComment)
	if err != nil {
		return PostComments{}, fmt.Errorf("decode comment listing: %w", err)
	}

	return PostComments{Post: posts.Values[0], Comments: comments}, nil
}

// Empty accepts any JSON object; mutation endpoints answer with "{}".
func (d *Decoder) Empty(_ context.Context, body []byte) (struct{}, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return struct{}{}, nil
	}

	var v map[string]json.RawMessage
	if err := json.Unmarshal(body, &v); err != nil {
		return struct{}{}, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}

	return struct{}{}, nil
}

type PostComments struct {
	Post     domain.Post
	Comments domain.Listing[domain.Comment]
}

func decodeListing[T any](
	ctx context.Context,
	d *Decoder,
	body []byte,
	decodeItem func(context.Context, thing) (T, bool),
) (domain.Listing[T], error) {
	var envelope thing
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.Listing[T]{}, fmt.Errorf("%w: decode envelope: %w", ErrInvalidJSON, err)
	}

	if envelope.Kind != kindListing {
		return domain.Listing[T]{}, fmt.Errorf("%w: unexpected kind %q", ErrInvalidJSON, envelope.Kind)
	}

	return decodeListingData(ctx, d, envelope.Data, decodeItem)
}

func decodeListingData[T any](
	ctx context.Context,
	d *Decoder,
	data json.RawMessage,
	decodeItem func(context.Context, thing) (T, bool),
) (domain.Listing[T], error) {
	var raw rawListing
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Listing[T]{}, fmt.Errorf("%w: decode listing: %w", ErrInvalidJSON, err)
	}

	listing := domain.Listing[T]{
		After:  deref(raw.After),
		Before: deref(raw.Before),
		Values: make([]T, 0, len(raw.Children)),
	}

	dropped := 0
	for _, child := range raw.Children {
		value, ok := decodeItem(ctx, child)
		if !ok {
			dropped++
			continue
		}

		listing.Values = append(listing.Values, value)
	}

	if dropped > 0 {
		d.log.DebugContext(ctx, "Listing items are dropped",
			"dropped", dropped,
			"kept", len(listing.Values))
	}

	return listing, nil
}

func unixTime(seconds float64) time.Time {
	whole := int64(seconds)
	frac := int64((seconds - float64(whole)) * float64(time.Second))

	return time.Unix(whole, frac).UTC()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}

func voteFromLikes(likes *bool) domain.Vote {
	switch {
	case likes == nil:
		return domain.VoteNone
	case *likes:
		return domain.VoteUp
	default:
		return domain.VoteDown
	}
}
