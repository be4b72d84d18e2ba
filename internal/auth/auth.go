package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	AccessTokenKey   = "access_token"
	RefreshTokenKey  = "refresh_token"
	GrantDurationKey = "token_duration_seconds"
	ExpiresAtKey     = "token_expires_at"

	authorizePath = "/api/v1/authorize"
	tokenPath     = "/api/v1/access_token"

	observerBufferSize = 1
)

var (
	ErrNoAuthorizer  = errors.New("no interactive authorizer")
	ErrStateMismatch = errors.New("authorization state mismatch")
	ErrSuperseded    = errors.New("grant superseded")
)

type State int

const (
	StateUnauthenticated State = iota
	StateAuthorizing
	StateAuthorized
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthorizing:
		return "authorizing"
	case StateAuthorized:
		return "authorized"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

type Credential struct {
	AccessToken   string
	RefreshToken  string
	ExpiresAt     time.Time
	GrantDuration time.Duration
}

type ConfigStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSettings(ctx context.Context, values map[string]string) error
}

type Config struct {
	ClientID    string
	RedirectURL string
	Scopes      []string
	BaseURL     string
	DeviceID    string
	HTTPClient  *http.Client
}

// flight is the grant currently exchanging with the token endpoint. prev is
// the state before the first of a chain of superseding grants began.
type flight struct {
	key    string
	cancel context.CancelFunc
	prev   State
}

// Store owns the credential set. Every mutation goes through a grant; reads
// return copies.
type Store struct {
	oauth      *oauth2.Config
	deviceID   string
	httpClient *http.Client
	config     ConfigStore
	authorizer Authorizer

	flights singleflight.Group

	mu        sync.Mutex
	cred      Credential
	state     State
	inflight  *flight
	observers map[int]chan string
	nextObsID int

	now func() time.Time
	log *slog.Logger
}

func New(cfg Config, config ConfigStore, authorizer Authorizer, log *slog.Logger) *Store {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	return &Store{
		oauth: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   baseURL + authorizePath,
				TokenURL:  baseURL + tokenPath,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		deviceID:   cfg.DeviceID,
		httpClient: cfg.HTTPClient,
		config:     config,
		authorizer: authorizer,
		observers:  make(map[int]chan string),
		now:        time.Now,
		log:        log,
	}
}

// Load restores the persisted credential.
func (s *Store) Load(ctx context.Context) error {
	var cred Credential
	var errs []error

	if v, ok, err := s.config.GetSetting(ctx, AccessTokenKey); err != nil {
		errs = append(errs, fmt.Errorf("get access token: %w", err))
	} else if ok {
		cred.AccessToken = v
	}

	if v, ok, err := s.config.GetSetting(ctx, RefreshTokenKey); err != nil {
		errs = append(errs, fmt.Errorf("get refresh token: %w", err))
	} else if ok {
		cred.RefreshToken = v
	}

	if v, ok, err := s.config.GetSetting(ctx, GrantDurationKey); err != nil {
		errs = append(errs, fmt.Errorf("get grant duration: %w", err))
	} else if ok {
		seconds, parseErr := strconv.ParseInt(v, 10, 64)
		if parseErr != nil {
			errs = append(errs, fmt.Errorf("parse grant duration: %w", parseErr))
		} else {
			cred.GrantDuration = time.Duration(seconds) * time.Second
		}
	}

	if v, ok, err := s.config.GetSetting(ctx, ExpiresAtKey); err != nil {
		errs = append(errs, fmt.Errorf("get expiry: %w", err))
	} else if ok {
		at, parseErr := time.Parse(time.RFC3339, v)
		if parseErr != nil {
			errs = append(errs, fmt.Errorf("parse expiry: %w", parseErr))
		} else {
			cred.ExpiresAt = at
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.mu.Lock()
	s.cred = cred
	if cred.AccessToken != "" {
		s.state = StateAuthorized
	} else {
		s.state = StateUnauthenticated
	}
	s.mu.Unlock()

	s.log.InfoContext(ctx, "Credential is loaded",
		"hasAccessToken", cred.AccessToken != "",
		"hasRefreshToken", cred.RefreshToken != "",
		"expiresAt", cred.ExpiresAt)

	return nil
}

func (s *Store) AccessToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cred.AccessToken, s.cred.AccessToken != ""
}

func (s *Store) Credential() Credential {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cred
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Subscribe returns a channel receiving every newly granted access token.
// Slow observers only see the latest token.
func (s *Store) Subscribe() (<-chan string, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextObsID
	s.nextObsID++

	ch := make(chan string, observerBufferSize)
	s.observers[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if _, ok := s.observers[id]; ok {
			delete(s.observers, id)
			close(ch)
		}
	}
}

// SignInIfNeeded refreshes an existing user credential or runs the
// interactive authorization flow when there is none.
func (s *Store) SignInIfNeeded(ctx context.Context) error {
	cred := s.Credential()
	if cred.AccessToken != "" && cred.RefreshToken != "" {
		return s.RefreshIfNeeded(ctx)
	}

	if s.authorizer == nil {
		return ErrNoAuthorizer
	}

	prev := s.setState(StateAuthorizing)

	state, err := randomState()
	if err != nil {
		s.setState(prev)
		return fmt.Errorf("generate state: %w", err)
	}

	authURL := s.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("duration", "permanent"))

	code, gotState, err := s.authorizer.Authorize(ctx, authURL)
	if err != nil {
		s.setState(prev)
		return fmt.Errorf("authorize: %w", err)
	}

	if gotState != state {
		s.setState(prev)
		return ErrStateMismatch
	}

	if _, err = s.grant(ctx, AuthorizationCodeGrant(code, s.oauth.RedirectURL)); err != nil {
		s.restoreState(prev, err)
		return err
	}

	return nil
}

// RefreshIfNeeded refreshes once less than a quarter of the grant duration
// is left.
func (s *Store) RefreshIfNeeded(ctx context.Context) error {
	cred := s.Credential()
	if cred.AccessToken == "" && cred.RefreshToken == "" {
		return nil
	}

	timeUntilExpiry := cred.ExpiresAt.Sub(s.now())
	if timeUntilExpiry > cred.GrantDuration/4 {
		return nil
	}

	s.log.InfoContext(ctx, "Credential is about to expire",
		"timeUntilExpiry", timeUntilExpiry,
		"grantDuration", cred.GrantDuration)

	return s.renew(ctx, cred)
}

// Reauthorize renews the credential unconditionally after the API rejected
// it.
func (s *Store) Reauthorize(ctx context.Context) error {
	return s.renew(ctx, s.Credential())
}

func (s *Store) AuthorizeAnonymously(ctx context.Context) error {
	_, err := s.grant(ctx, AnonymousGrant(s.deviceID))

	return err
}

// renew uses the refresh token when there is one. Credentials without a
// refresh token come from the anonymous grant and are renewed the same way.
func (s *Store) renew(ctx context.Context, cred Credential) error {
	if cred.RefreshToken == "" {
		return s.AuthorizeAnonymously(ctx)
	}

	_, err := s.grant(ctx, RefreshGrant(cred.RefreshToken))

	return err
}

// grant coalesces identical concurrent grants into one exchange. Starting a
// grant with a different body cancels the one in flight. State transitions
// belong to the flight, so callers joining it never touch the state.
func (s *Store) grant(ctx context.Context, g GrantRequest) (Credential, error) {
	key := g.Key()

	ch := s.flights.DoChan(key, func() (_ any, err error) {
		flightCtx, cancel := s.beginFlight(ctx, g.Kind, key)
		defer func() { s.endFlight(key, cancel, err) }()

		tok, err := s.exchange(flightCtx, g)
		if err != nil {
			if flightCtx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrSuperseded, err)
			}

			return nil, err
		}

		return s.apply(flightCtx, key, tok)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			s.log.WarnContext(ctx, "Grant failed",
				"error", res.Err,
				"grant", g.Kind.String(),
				"shared", res.Shared)

			return Credential{}, res.Err
		}

		cred, _ := res.Val.(Credential)

		return cred, nil
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	}
}

func (s *Store) beginFlight(ctx context.Context, kind GrantKind, key string) (context.Context, context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state

	if s.inflight != nil {
		s.log.InfoContext(ctx, "Cancelling superseded grant",
			"grant", kind.String())

		s.inflight.cancel()
		prev = s.inflight.prev
	}

	if kind == GrantRefresh {
		s.state = StateRefreshing
	} else {
		s.state = StateAuthorizing
	}

	flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.inflight = &flight{key: key, cancel: cancel, prev: prev}

	return flightCtx, cancel
}

// endFlight restores the state saved by beginFlight when the grant failed.
// A superseded grant is no longer in flight and leaves the state alone.
func (s *Store) endFlight(key string, cancel context.CancelFunc, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight != nil && s.inflight.key == key {
		if err != nil {
			s.state = s.inflight.prev
		}

		s.inflight = nil
	}

	cancel()
}

// apply persists a granted token and publishes it. A missing refresh token
// keeps the previous one.
func (s *Store) apply(ctx context.Context, key string, tok *oauth2.Token) (Credential, error) {
	if tok.AccessToken == "" {
		return Credential{}, errors.New("grant returned empty access token")
	}

	now := s.now()

	duration := time.Duration(tok.ExpiresIn) * time.Second
	if duration <= 0 && !tok.Expiry.IsZero() {
		duration = tok.Expiry.Sub(now).Round(time.Second)
	}

	s.mu.Lock()
	if s.inflight == nil || s.inflight.key != key {
		s.mu.Unlock()
		return Credential{}, ErrSuperseded
	}

	cred := Credential{
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		ExpiresAt:     now.Add(duration),
		GrantDuration: duration,
	}
	if cred.RefreshToken == "" {
		cred.RefreshToken = s.cred.RefreshToken
	}
	s.mu.Unlock()

	values := map[string]string{
		AccessTokenKey:   cred.AccessToken,
		RefreshTokenKey:  cred.RefreshToken,
		GrantDurationKey: strconv.FormatInt(int64(duration/time.Second), 10),
		ExpiresAtKey:     cred.ExpiresAt.UTC().Format(time.RFC3339),
	}

	if err := s.config.SetSettings(ctx, values); err != nil {
		return Credential{}, fmt.Errorf("persist credential: %w", err)
	}

	s.mu.Lock()
	s.cred = cred
	s.state = StateAuthorized
	for _, ch := range s.observers {
		publish(ch, cred.AccessToken)
	}
	s.mu.Unlock()

	s.log.InfoContext(ctx, "Credential is granted",
		"expiresAt", cred.ExpiresAt,
		"hasRefreshToken", cred.RefreshToken != "")

	return cred, nil
}

func (s *Store) setState(state State) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	s.state = state

	return prev
}

// restoreState undoes a transition after a failed grant. A superseded grant
// leaves the state to the grant that replaced it.
func (s *Store) restoreState(prev State, err error) {
	if errors.Is(err, ErrSuperseded) {
		return
	}

	s.setState(prev)
}

func publish(ch chan string, token string) {
	select {
	case ch <- token:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	select {
	case ch <- token:
	default:
	}
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
