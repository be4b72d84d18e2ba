package auth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// Authorizer runs the user-interactive part of the authorization-code flow:
// it sends the user to authURL and returns the code and state carried by the
// redirect.
type Authorizer interface {
	Authorize(ctx context.Context, authURL string) (code string, state string, err error)
}

// TerminalAuthorizer prints the authorization URL and reads the redirect URL
// the browser ended up on.
type TerminalAuthorizer struct {
	in  io.Reader
	out io.Writer
}

func NewTerminalAuthorizer(in io.Reader, out io.Writer) *TerminalAuthorizer {
	return &TerminalAuthorizer{in: in, out: out}
}

func (a *TerminalAuthorizer) Authorize(ctx context.Context, authURL string) (string, string, error) {
	if _, err := fmt.Fprintf(a.out, "Open this URL and approve access:\n\n%s\n\nPaste the URL you were redirected to: ", authURL); err != nil {
		return "", "", fmt.Errorf("write prompt: %w", err)
	}

	type result struct {
		line string
		err  error
	}

	lineCh := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(a.in).ReadString('\n')
		lineCh <- result{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", "", ctx.Err()
	case res := <-lineCh:
		if res.err != nil && !errors.Is(res.err, io.EOF) {
			return "", "", fmt.Errorf("read redirect URL: %w", res.err)
		}

		return ParseRedirect(res.line)
	}
}

// ParseRedirect extracts code and state from a redirect URL.
func ParseRedirect(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("parse redirect URL: %w", err)
	}

	q := u.Query()
	if reason := q.Get("error"); reason != "" {
		return "", "", fmt.Errorf("authorization denied: %s", reason)
	}

	code := q.Get("code")
	if code == "" {
		return "", "", errors.New("redirect URL has no code")
	}

	return code, q.Get("state"), nil
}
