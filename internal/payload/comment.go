package payload

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"snoosync/internal/domain"
)

type rawComment struct {
	ID         string          `json:"id"`
	Author     *string         `json:"author"`
	Body       *string         `json:"body"`
	Created    *float64        `json:"created"`
	CreatedUTC *float64        `json:"created_utc"`
	Edited     editedField     `json:"edited"`
	Score      int             `json:"score"`
	Likes      *bool           `json:"likes"`
	Replies    json.RawMessage `json:"replies"`
	Children   *[]string       `json:"children"`
}

// decodeComment applies the discard rules in order:
//  1. a node carrying a children list is a placeholder; an empty list with a
//     creation time is malformed, an empty list without one is a
//     continue-thread marker with nothing to load;
//  2. a comment without surviving replies whose author is missing or deleted
//     is dropped. Deleted comments with surviving replies are kept so the
//     thread stays navigable.
func (d *Decoder) decodeComment(ctx context.Context, t thing) (domain.Comment, bool) {
	if t.Kind != kindComment && t.Kind != kindMore {
		d.log.DebugContext(ctx, "Skipping non-comment listing item",
			"kind", t.Kind)

		return domain.Comment{}, false
	}

	var raw rawComment
	if err := json.Unmarshal(t.Data, &raw); err != nil {
		d.log.WarnContext(ctx, "Failed to decode comment",
			"error", err)

		return domain.Comment{}, false
	}

	createdAt := raw.createdAt()

	if raw.Children != nil {
		if len(*raw.Children) == 0 {
			if createdAt != nil {
				d.log.WarnContext(ctx, "Discarding anomalous comment with empty children",
					"commentID", raw.ID,
					"created", *createdAt)
			}

			return domain.Comment{}, false
		}

		return domain.Comment{
			ID:               raw.ID,
			UnloadedChildIDs: append([]string(nil), (*raw.Children)...),
		}, true
	}

	replies := d.decodeReplies(ctx, raw.ID, raw.Replies)

	author := ""
	if raw.Author != nil {
		author = *raw.Author
	}

	if replies == nil && (author == "" || author == domain.DeletedAuthor) {
		return domain.Comment{}, false
	}

	body := ""
	if raw.Body != nil {
		body = *raw.Body
	}

	return domain.Comment{
		ID:        raw.ID,
		Author:    author,
		Body:      body,
		CreatedAt: createdAt,
		EditedAt:  raw.Edited.at,
		Score:     raw.Score,
		UserVote:  voteFromLikes(raw.Likes),
		Replies:   replies,
	}, true
}

// decodeReplies returns nil when the comment has no surviving replies.
// Reddit sends an empty string instead of a listing for leaf comments.
func (d *Decoder) decodeReplies(
	ctx context.Context,
	commentID string,
	raw json.RawMessage,
) *domain.Listing[domain.Comment] {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}

	replies, err := decodeListing(ctx, d, raw, d.decodeComment)
	if err != nil {
		d.log.WarnContext(ctx, "Failed to decode comment replies",
			"error", err,
			"commentID", commentID)

		return nil
	}

	if len(replies.Values) == 0 {
		return nil
	}

	return &replies
}

func (c *rawComment) createdAt() *time.Time {
	seconds := c.CreatedUTC
	if seconds == nil {
		seconds = c.Created
	}

	if seconds == nil {
		return nil
	}

	at := unixTime(*seconds)

	return &at
}
