package domain

import (
	"time"
)

const DeletedAuthor = "[deleted]"

type Vote int

const (
	VoteDown Vote = -1
	VoteNone Vote = 0
	VoteUp   Vote = 1
)

func (v Vote) Valid() bool {
	return v >= VoteDown && v <= VoteUp
}

type Listing[T any] struct {
	After  string
	Before string
	Values []T
}

type PreviewMedia struct {
	URLs    []string
	IsVideo bool
	Width   *int
	Height  *int
}

type Post struct {
	ID                       string
	Subreddit                string
	ContentHash              string
	Title                    string
	Author                   string
	Score                    int
	CommentCount             int
	CreatedAt                time.Time
	EditedAt                 *time.Time
	SavedByUser              bool
	UserVote                 Vote
	URL                      string
	SelfText                 string
	ThumbnailURL             string
	CrosspostOriginID        string
	CrosspostOriginSubreddit string
	PreviewMedia             *PreviewMedia
	Links                    []string
}

// Comment is either a loaded comment or a placeholder carrying the IDs of
// children that still have to be requested.
type Comment struct {
	ID               string
	Author           string
	Body             string
	CreatedAt        *time.Time
	EditedAt         *time.Time
	Score            int
	UserVote         Vote
	Replies          *Listing[Comment]
	UnloadedChildIDs []string
}

func (c *Comment) IsPlaceholder() bool {
	return len(c.UnloadedChildIDs) > 0
}

type Subreddit struct {
	ID                      string
	Name                    string
	SubscriberCountEstimate *int
}

type ReadMetadata struct {
	ContentHash string
	ReadAt      *time.Time
}
