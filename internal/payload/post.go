package payload

import (
	"context"
	"encoding/json"
	"strings"

	"snoosync/internal/domain"

	"mvdan.cc/xurls/v2"
)

type rawPost struct {
	ID                  string        `json:"id"`
	Subreddit           string        `json:"subreddit"`
	Title               string        `json:"title"`
	Author              string        `json:"author"`
	Score               int           `json:"score"`
	NumComments         int           `json:"num_comments"`
	CreatedUTC          float64       `json:"created_utc"`
	Edited              editedField   `json:"edited"`
	Saved               bool          `json:"saved"`
	Likes               *bool         `json:"likes"`
	URL                 string        `json:"url"`
	IsSelf              bool          `json:"is_self"`
	SelfText            string        `json:"selftext"`
	Thumbnail           string        `json:"thumbnail"`
	CrosspostParentList []rawPost     `json:"crosspost_parent_list"`
	Preview             *rawPreview   `json:"preview"`
	Media               *rawMedia     `json:"media"`
	SecureMedia         *rawMedia     `json:"secure_media"`
	MediaEmbed          rawMediaEmbed `json:"media_embed"`
	SecureMediaEmbed    rawMediaEmbed `json:"secure_media_embed"`
}

var selfTextLinkRe = xurls.Strict()

func (d *Decoder) decodePost(ctx context.Context, t thing) (domain.Post, bool) {
	if t.Kind != kindPost {
		d.log.DebugContext(ctx, "Skipping non-post listing item",
			"kind", t.Kind)

		return domain.Post{}, false
	}

	var raw rawPost
	if err := json.Unmarshal(t.Data, &raw); err != nil {
		d.log.WarnContext(ctx, "Failed to decode post",
			"error", err)

		return domain.Post{}, false
	}

	if raw.ID == "" {
		d.log.WarnContext(ctx, "Skipping post without ID",
			"title", raw.Title)

		return domain.Post{}, false
	}

	post := domain.Post{
		ID:           raw.ID,
		Subreddit:    raw.Subreddit,
		ContentHash:  ContentHash(raw.IsSelf, raw.ID, raw.URL, raw.Title, raw.SelfText),
		Title:        strings.TrimSpace(raw.Title),
		Author:       raw.Author,
		Score:        raw.Score,
		CommentCount: raw.NumComments,
		CreatedAt:    unixTime(raw.CreatedUTC),
		EditedAt:     raw.Edited.at,
		SavedByUser:  raw.Saved,
		UserVote:     voteFromLikes(raw.Likes),
		URL:          raw.URL,
		SelfText:     raw.SelfText,
		ThumbnailURL: thumbnailURL(raw.Thumbnail),
		PreviewMedia: d.resolveMedia(ctx, &raw),
		Links:        selfTextLinks(raw.SelfText),
	}

	if len(raw.CrosspostParentList) > 0 {
		origin := raw.CrosspostParentList[0]
		post.CrosspostOriginID = origin.ID
		post.CrosspostOriginSubreddit = origin.Subreddit
	}

	return post, true
}

// thumbnailURL drops reddit's placeholder values such as "self", "default"
// and "nsfw".
func thumbnailURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return ""
	}

	return raw
}

func selfTextLinks(selfText string) []string {
	found := selfTextLinkRe.FindAllString(selfText, -1)
	if len(found) == 0 {
		return nil
	}

	links := make([]string, 0, len(found))
	seen := make(map[string]struct{}, len(found))

	for _, link := range found {
		if _, ok := seen[link]; ok {
			continue
		}

		seen[link] = struct{}{}
		links = append(links, link)
	}

	return links
}
