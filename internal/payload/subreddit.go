package payload

import (
	"context"
	"encoding/json"
	"strings"

	"snoosync/internal/domain"
)

type rawSubreddit struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Subscribers *int   `json:"subscribers"`
}

func (d *Decoder) decodeSubreddit(ctx context.Context, t thing) (domain.Subreddit, bool) {
	if t.Kind != kindSubreddit {
		return domain.Subreddit{}, false
	}

	var raw rawSubreddit
	if err := json.Unmarshal(t.Data, &raw); err != nil {
		d.log.WarnContext(ctx, "Failed to decode subreddit",
			"error", err)

		return domain.Subreddit{}, false
	}

	name := strings.TrimSpace(raw.DisplayName)
	if raw.ID == "" || name == "" {
		return domain.Subreddit{}, false
	}

	return domain.Subreddit{
		ID:                      raw.ID,
		Name:                    name,
		SubscriberCountEstimate: raw.Subscribers,
	}, true
}
