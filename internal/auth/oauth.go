// Package auth - federated login for LAUNCHPAD.
//
// Identity comes from Google OAuth; the control plane keeps no passwords.
// The OAuth state parameter is a short-lived signed token so the callback
// can reject forged or replayed flows without server-side state.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const stateTTL = 10 * time.Minute

var (
	ErrBadState     = errors.New("oauth state invalid or expired")
	ErrNoEmail      = errors.New("identity provider returned no verified email")
	ErrExchangeFail = errors.New("oauth code exchange failed")
)

// GoogleProvider drives the authorization-code flow against Google.
type GoogleProvider struct {
	oauth       *oauth2.Config
	stateSecret []byte
}

// NewGoogleProvider configures the provider.
func NewGoogleProvider(clientID, clientSecret, redirectURL, stateSecret string) *GoogleProvider {
	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		stateSecret: []byte(stateSecret),
	}
}

type stateClaims struct {
	jwt.RegisteredClaims
}

// LoginURL returns the provider redirect carrying a fresh signed state.
func (p *GoogleProvider) LoginURL() (string, error) {
	now := time.Now().UTC()
	claims := stateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "launchpad",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
	}
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.stateSecret)
	if err != nil {
		return "", fmt.Errorf("sign oauth state: %w", err)
	}
	return p.oauth.AuthCodeURL(state), nil
}

// VerifyState checks the callback's state signature and expiry.
func (p *GoogleProvider) VerifyState(state string) error {
	token, err := jwt.ParseWithClaims(state, &stateClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.stateSecret, nil
	})
	if err != nil || !token.Valid {
		return ErrBadState
	}
	return nil
}

// Identity is the subset of the provider's userinfo the platform keeps.
type Identity struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Exchange trades the authorization code for the caller's identity.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFail, err)
	}

	client := p.oauth.Client(ctx, token)
	resp, err := client.Get("https://www.googleapis.com/oauth2/v2/userinfo")
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch userinfo: unexpected status %d", resp.StatusCode)
	}

	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if id.Email == "" {
		return nil, ErrNoEmail
	}
	return &id, nil
}
