package session

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/feichai0017/remi2ai/config"
)

// OAuth runs the authorization code flow against Google.
type OAuth struct {
	cfg *oauth2.Config
}

func NewOAuth(cfg *config.GoogleConfig) *OAuth {
	return &OAuth{cfg: &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
		Endpoint:     google.Endpoint,
	}}
}

// Configured reports whether client credentials are present.
func (o *OAuth) Configured() bool {
	return o != nil && o.cfg.ClientID != "" && o.cfg.ClientSecret != ""
}

func (o *OAuth) AuthURL(state string) string {
	return o.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for an access token and its expiry.
func (o *OAuth) Exchange(ctx context.Context, code string) (string, time.Time, error) {
	tok, err := o.cfg.Exchange(ctx, code)
	if err != nil {
		return "", time.Time{}, err
	}
	if tok.AccessToken == "" {
		return "", time.Time{}, errors.New("token response has no access token")
	}
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(time.Hour)
	}
	return tok.AccessToken, expiry, nil
}
