package payload_test

import (
	"crypto/md5" //nolint:gosec // reference value
	"encoding/hex"
	"testing"

	"snoosync/internal/payload"

	"github.com/stretchr/testify/assert"
)

func TestContentHashSelfPost(t *testing.T) {
	sum := md5.Sum([]byte("Hello" + "world")) //nolint:gosec // reference value
	want := hex.EncodeToString(sum[:])

	got := payload.ContentHash(true, "abc", "https://www.reddit.com/r/x/comments/abc/hello/", "Hello", "world")
	assert.Equal(t, want, got)
	assert.Equal(t, got, payload.ContentHash(true, "other", "https://www.reddit.com/r/y/comments/other/", "Hello", "world"))
}

func TestContentHashShortSelfPostFallsBackToPath(t *testing.T) {
	got := payload.ContentHash(true, "abc", "https://www.reddit.com/r/x/comments/abc/", "Hi", "")
	assert.Equal(t, "/r/x/comments/abc/", got)
}

func TestContentHashLinkPostNormalizesURL(t *testing.T) {
	urls := []string{
		"https://www.example.com/images/cat.jpg",
		"http://example.com/images/cat.png",
		"https://example.com/images/cat",
		"https://WWW.Example.com/images/cat.gifv",
	}

	for _, u := range urls {
		assert.Equal(t, "example.com/images/cat", payload.ContentHash(false, "abc", u, "t", ""), u)
	}
}

func TestContentHashShortHostUsesPath(t *testing.T) {
	assert.Equal(t, "/some/path", payload.ContentHash(false, "abc", "https://ab/some/path", "t", ""))
}

func TestContentHashStripsWWWAfterHostLengthCheck(t *testing.T) {
	assert.Equal(t, "ab/x/y", payload.ContentHash(false, "abc", "https://www.ab/x/y.html", "t", ""))
}

func TestContentHashFallsBackToID(t *testing.T) {
	assert.Equal(t, "abc", payload.ContentHash(false, "abc", "", "t", ""))
	assert.Equal(t, "abc", payload.ContentHash(true, "abc", "/", "", ""))
}
