package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-querystring/query"

	"snoosync/internal/payload"
	"snoosync/internal/ratelimiter"
)

const (
	// maxRateLimitRetries bounds re-issues after the first rate limited
	// attempt.
	maxRateLimitRetries = 2

	maxBodySize = 16 << 20
)

// Credentials is the part of the credential store the client depends on.
type Credentials interface {
	AccessToken() (string, bool)
	Reauthorize(ctx context.Context) error
}

type Config struct {
	BaseURL    string
	UserAgent  string
	HTTPClient *http.Client
}

type Client struct {
	baseURL     string
	userAgent   string
	httpClient  *http.Client
	credentials Credentials
	limiter     *ratelimiter.RateLimiter
	decoder     *payload.Decoder
	log         *slog.Logger
}

func New(
	cfg Config,
	credentials Credentials,
	limiter *ratelimiter.RateLimiter,
	decoder *payload.Decoder,
	log *slog.Logger,
) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:   cfg.UserAgent,
		httpClient:  httpClient,
		credentials: credentials,
		limiter:     limiter,
		decoder:     decoder,
		log:         log,
	}
}

func (c *Client) Decoder() *payload.Decoder {
	return c.decoder
}

// Request describes one API call. Query and Form are structs encoded with
// `url` tags; either may be nil.
type Request[T any] struct {
	Method string
	Path   string
	Query  any
	Form   any
	Decode func(ctx context.Context, body []byte) (T, error)
}

// Send performs req, reauthorizing once on 401 and waiting out at most
// maxRateLimitRetries rate limits. Any other error is returned unchanged.
func Send[T any](ctx context.Context, c *Client, req Request[T]) (T, error) {
	var zero T

	reauthorized := false
	rateLimitRetries := 0

	for {
		result, err := sendOnce(ctx, c, req)
		if err == nil {
			return result, nil
		}

		var rateLimited *RateLimitedError

		switch {
		case errors.Is(err, ErrUnauthorized) && !reauthorized:
			reauthorized = true

			c.log.InfoContext(ctx, "Access token is rejected, reauthorizing",
				"path", req.Path)

			if authErr := c.credentials.Reauthorize(ctx); authErr != nil {
				return zero, errors.Join(err, fmt.Errorf("reauthorize: %w", authErr))
			}
		case errors.As(err, &rateLimited) && rateLimitRetries < maxRateLimitRetries:
			rateLimitRetries++

			c.log.InfoContext(ctx, "Retrying rate limited request",
				"path", req.Path,
				"interval", rateLimited.Interval,
				"attempt", rateLimitRetries)

			if waitErr := sleep(ctx, rateLimited.Interval); waitErr != nil {
				return zero, errors.Join(err, waitErr)
			}
		default:
			return zero, err
		}
	}
}

// sleep waits the full rate limit interval. The limiter skips delays below
// its floor, which would retry a short reset immediately.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sendOnce[T any](ctx context.Context, c *Client, req Request[T]) (T, error) {
	var zero T

	token, ok := c.credentials.AccessToken()
	if !ok {
		return zero, ErrUninitialized
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return zero, fmt.Errorf("wait for rate limit: %w", err)
	}

	httpReq, err := c.newRequest(ctx, req.Method, req.Path, req.Query, req.Form)
	if err != nil {
		return zero, err
	}

	httpReq.Header.Set("Authorization", "Bearer "+token)

	body, err := c.do(ctx, httpReq)
	if err != nil {
		return zero, err
	}

	result, err := req.Decode(ctx, body)
	if err != nil {
		c.log.ErrorContext(ctx, "Failed to decode response",
			"error", err,
			"path", req.Path)

		if !errors.Is(err, ErrInvalidJSON) {
			err = fmt.Errorf("%w: %w", ErrInvalidJSON, err)
		}

		return zero, err
	}

	return result, nil
}

func (c *Client) newRequest(
	ctx context.Context,
	method string,
	path string,
	queryParams any,
	form any,
) (*http.Request, error) {
	if method == "" {
		method = http.MethodGet
	}

	values, err := query.Values(queryParams)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	values.Set("raw_json", "1")

	u := c.baseURL + path + "?" + values.Encode()

	var body io.Reader
	if form != nil {
		formValues, err := query.Values(form)
		if err != nil {
			return nil, fmt.Errorf("encode form: %w", err)
		}

		body = strings.NewReader(formValues.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	return httpReq, nil
}

// do sends the request and classifies the response status.
func (c *Client) do(ctx context.Context, httpReq *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			c.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"path", httpReq.URL.Path)
		}
	}()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}

		return body, nil
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case http.StatusTooManyRequests:
		interval, ok := ratelimiter.Interval(resp.Header)
		if !ok {
			c.log.WarnContext(ctx, "Rate limit response has no usable headers",
				"path", httpReq.URL.Path,
				"remaining", resp.Header.Get(ratelimiter.RemainingHeader),
				"reset", resp.Header.Get(ratelimiter.ResetHeader))

			return nil, &StatusError{Code: resp.StatusCode}
		}

		resumeAt := c.limiter.Backoff(interval)

		c.log.WarnContext(ctx, "Rate limit is hit",
			"path", httpReq.URL.Path,
			"interval", interval,
			"resumeAt", resumeAt)

		return nil, &RateLimitedError{Interval: interval}
	default:
		return nil, &StatusError{Code: resp.StatusCode}
	}
}
