package payload

import (
	"crypto/md5" //nolint:gosec // dedup key, not a security boundary
	"encoding/hex"
	"net/url"
	"path"
	"strings"
)

const (
	minSelfTextHashLength = 3
	minHostLength         = 3
	minPathHashLength     = 3
)

// ContentHash derives the dedup key shared by posts pointing at the same
// content. It is computed once per decoded post.
func ContentHash(isSelf bool, id string, rawURL string, title string, selfText string) string {
	if isSelf {
		text := title + selfText
		if len(text) >= minSelfTextHashLength {
			sum := md5.Sum([]byte(text)) //nolint:gosec // see import
			return hex.EncodeToString(sum[:])
		}
	}

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return id
	}

	if !isSelf {
		host := strings.ToLower(u.Hostname())
		if len(host) >= minHostLength {
			host = strings.TrimPrefix(host, "www.")
			return host + strings.TrimSuffix(u.Path, path.Ext(u.Path))
		}
	}

	if len(u.Path) >= minPathHashLength {
		return u.Path
	}

	return id
}
