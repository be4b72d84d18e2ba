package payload

import (
	"context"
	"strings"

	"snoosync/internal/domain"

	"github.com/PuerkitoBio/goquery"
)

type rawPreview struct {
	Images             []rawImage `json:"images"`
	RedditVideoPreview *rawVideo  `json:"reddit_video_preview"`
}

type rawImage struct {
	Source   rawImageSource `json:"source"`
	Variants struct {
		MP4 *rawImageVariant `json:"mp4"`
		GIF *rawImageVariant `json:"gif"`
	} `json:"variants"`
}

type rawImageVariant struct {
	Source rawImageSource `json:"source"`
}

type rawImageSource struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type rawMedia struct {
	RedditVideo *rawVideo `json:"reddit_video"`
}

type rawVideo struct {
	HLSURL      string `json:"hls_url"`
	FallbackURL string `json:"fallback_url"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

type rawMediaEmbed struct {
	Content string `json:"content"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// resolveMedia picks the representative media of a post. Checks run in a
// fixed order: embedded video, image previews, then the embed iframe.
func (d *Decoder) resolveMedia(ctx context.Context, raw *rawPost) *domain.PreviewMedia {
	if media := videoMedia(raw); media != nil {
		return media
	}

	if media := imageMedia(raw.Preview); media != nil {
		return media
	}

	for _, embed := range []rawMediaEmbed{raw.SecureMediaEmbed, raw.MediaEmbed} {
		media, err := embedMedia(embed)
		if err != nil {
			d.log.DebugContext(ctx, "Failed to parse media embed",
				"error", err,
				"postID", raw.ID)

			continue
		}

		if media != nil {
			return media
		}
	}

	return nil
}

func videoMedia(raw *rawPost) *domain.PreviewMedia {
	var candidates []*rawVideo

	if raw.SecureMedia != nil {
		candidates = append(candidates, raw.SecureMedia.RedditVideo)
	}
	if raw.Media != nil {
		candidates = append(candidates, raw.Media.RedditVideo)
	}
	if raw.Preview != nil {
		candidates = append(candidates, raw.Preview.RedditVideoPreview)
	}

	for _, video := range candidates {
		if video == nil {
			continue
		}

		videoURL := strings.TrimSpace(video.HLSURL)
		if videoURL == "" {
			videoURL = strings.TrimSpace(video.FallbackURL)
		}
		if videoURL == "" {
			continue
		}

		return &domain.PreviewMedia{
			URLs:    []string{videoURL},
			IsVideo: true,
			Width:   positive(video.Width),
			Height:  positive(video.Height),
		}
	}

	return nil
}

func imageMedia(preview *rawPreview) *domain.PreviewMedia {
	if preview == nil || len(preview.Images) == 0 {
		return nil
	}

	var media *domain.PreviewMedia

	for _, image := range preview.Images {
		source, isVideo := pickImageVariant(image)
		if source.URL == "" {
			continue
		}

		if media == nil {
			media = &domain.PreviewMedia{
				IsVideo: isVideo,
				Width:   positive(source.Width),
				Height:  positive(source.Height),
			}
		}

		media.URLs = append(media.URLs, source.URL)
	}

	return media
}

// pickImageVariant prefers animated variants over the static source.
func pickImageVariant(image rawImage) (rawImageSource, bool) {
	if v := image.Variants.MP4; v != nil && v.Source.URL != "" {
		return v.Source, true
	}

	if v := image.Variants.GIF; v != nil && v.Source.URL != "" {
		return v.Source, false
	}

	return image.Source, false
}

func embedMedia(embed rawMediaEmbed) (*domain.PreviewMedia, error) {
	content := strings.TrimSpace(embed.Content)
	if content == "" {
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, err
	}

	src := strings.TrimSpace(doc.Find("iframe").First().AttrOr("src", ""))
	if src == "" {
		return nil, nil
	}

	return &domain.PreviewMedia{
		URLs:    []string{src},
		IsVideo: true,
		Width:   positive(embed.Width),
		Height:  positive(embed.Height),
	}, nil
}

func positive(v int) *int {
	if v <= 0 {
		return nil
	}

	return &v
}
