// Package oauthrefresh implements scheduler.TokenRefresher against the
// v1internal OAuth token endpoint using golang.org/x/oauth2's standard
// refresh-token grant, so an expiring access token is renewed transparently
// before a lease is handed out (spec.md §4.4's "Inputs" assumes a fresh
// token).
package oauthrefresh

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// Refresher renews access tokens via the OAuth2 refresh_token grant against
// a fixed token endpoint/client credentials pair.
type Refresher struct {
	config *oauth2.Config
}

// New builds a Refresher bound to the given OAuth client and token endpoint.
func New(clientID, clientSecret, tokenURL string) *Refresher {
	return &Refresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
	}
}

// Refresh exchanges refreshToken for a new access token.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return "", time.Time{}, err
	}
	return tok.AccessToken, tok.Expiry, nil
}
