package auth

import (
	"context"
	"fmt"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const InstalledClientGrantType = "https://oauth.reddit.com/grants/installed_client"

type GrantKind int

const (
	GrantAnonymous GrantKind = iota
	GrantAuthorizationCode
	GrantRefresh
)

func (k GrantKind) String() string {
	switch k {
	case GrantAnonymous:
		return "anonymous"
	case GrantAuthorizationCode:
		return "authorization_code"
	case GrantRefresh:
		return "refresh_token"
	default:
		return "unknown"
	}
}

type GrantRequest struct {
	Kind         GrantKind
	Code         string
	RefreshToken string
	DeviceID     string
	RedirectURL  string
}

func AnonymousGrant(deviceID string) GrantRequest {
	return GrantRequest{Kind: GrantAnonymous, DeviceID: deviceID}
}

func AuthorizationCodeGrant(code string, redirectURL string) GrantRequest {
	return GrantRequest{Kind: GrantAuthorizationCode, Code: code, RedirectURL: redirectURL}
}

func RefreshGrant(refreshToken string) GrantRequest {
	return GrantRequest{Kind: GrantRefresh, RefreshToken: refreshToken}
}

// Values is the canonical form-encoded parameter set of the grant.
func (g GrantRequest) Values() url.Values {
	switch g.Kind {
	case GrantAnonymous:
		return url.Values{
			"grant_type": {InstalledClientGrantType},
			"device_id":  {g.DeviceID},
		}
	case GrantAuthorizationCode:
		return url.Values{
			"grant_type":   {"authorization_code"},
			"code":         {g.Code},
			"redirect_uri": {g.RedirectURL},
		}
	case GrantRefresh:
		return url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {g.RefreshToken},
		}
	default:
		return url.Values{}
	}
}

// Key identifies identical grant bodies; Encode sorts by parameter name.
func (g GrantRequest) Key() string {
	return g.Values().Encode()
}

func (s *Store) exchange(ctx context.Context, g GrantRequest) (*oauth2.Token, error) {
	if s.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}

	switch g.Kind {
	case GrantAuthorizationCode:
		tok, err := s.oauth.Exchange(ctx, g.Code)
		if err != nil {
			return nil, fmt.Errorf("exchange code: %w", err)
		}

		return tok, nil
	case GrantRefresh:
		tok, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: g.RefreshToken}).Token()
		if err != nil {
			return nil, fmt.Errorf("refresh token: %w", err)
		}

		return tok, nil
	case GrantAnonymous:
		cc := clientcredentials.Config{
			ClientID:       s.oauth.ClientID,
			TokenURL:       s.oauth.Endpoint.TokenURL,
			AuthStyle:      oauth2.AuthStyleInHeader,
			EndpointParams: g.Values(),
		}

		tok, err := cc.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("anonymous grant: %w", err)
		}

		return tok, nil
	default:
		return nil, fmt.Errorf("unknown grant kind: %d", g.Kind)
	}
}
