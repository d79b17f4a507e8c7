package credentials

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/ocx/gateway/internal/catalog"
)

// ProviderQuirks captures the per-provider deviations from vanilla
// RFC 6749 that OAuth2 in the wild actually requires: some providers
// reject PKCE, some need extra authorize-URL parameters to get a refresh
// token back, some use non-standard token endpoints for refresh.
//
// This is kept as a static data table rather than scattered
// if providerName == "x" branches through the manager, so adding a new
// provider's quirk is a single map entry. Only AuthorizeURL reads the
// table (DisablePKCE, ExtraAuthParams); EnsureFreshToken does not, so
// RefreshViaPostForm currently changes nothing.
type ProviderQuirks struct {
	DisablePKCE       bool
	ExtraAuthParams   map[string]string
	RefreshViaPostForm bool
}

var providerQuirks = map[string]ProviderQuirks{
	"google": {
		ExtraAuthParams: map[string]string{"access_type": "offline", "prompt": "consent"},
	},
	"slack": {
		DisablePKCE: true,
	},
	"hubspot": {
		RefreshViaPostForm: true,
	},
}

func quirksFor(appName string) ProviderQuirks {
	return providerQuirks[appName]
}

// OAuth2Manager runs the PKCE authorization-code flow and refreshes
// tokens ahead of their expiry.
type OAuth2Manager struct {
	store         catalog.Store
	stateSecret   []byte
	redirectBase  string
	refreshMargin time.Duration
	logger        *log.Logger
}

func NewOAuth2Manager(store catalog.Store, stateSecret, redirectBase string) *OAuth2Manager {
	return &OAuth2Manager{
		store:         store,
		stateSecret:   []byte(stateSecret),
		redirectBase:  redirectBase,
		refreshMargin: 2 * time.Minute,
		logger:        log.New(log.Writer(), "[OAUTH2] ", log.LstdFlags),
	}
}

// callbackStateClaims is signed into the "state" query parameter of the
// authorize URL so the callback handler can recover which (project, app,
// linked account) the code belongs to without server-side session state.
type callbackStateClaims struct {
	ProjectID string `json:"project_id"`
	AppName   string `json:"app_name"`
	OwnerID   string `json:"owner_id"`
	Verifier  string `json:"verifier"`
	jwt.RegisteredClaims
}

// AuthorizeURL builds the URL an agent's end user visits to grant access,
// generating a fresh PKCE code verifier/challenge pair unless the
// provider disables PKCE.
func (m *OAuth2Manager) AuthorizeURL(cfg *catalog.AppConfiguration, appName, projectID, ownerID, authURL, tokenURL string) (string, error) {
	quirks := quirksFor(appName)

	var verifier string
	var opts []oauth2.AuthCodeOption
	if !quirks.DisablePKCE {
		verifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	for k, v := range quirks.ExtraAuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	state, err := m.signState(callbackStateClaims{
		ProjectID: projectID,
		AppName:   appName,
		OwnerID:   ownerID,
		Verifier:  verifier,
	})
	if err != nil {
		return "", fmt.Errorf("sign oauth2 state: %w", err)
	}

	conf := &oauth2.Config{
		ClientID:     cfg.OAuth2ClientID,
		ClientSecret: cfg.OAuth2ClientSecret,
		Scopes:       cfg.Scopes,
		RedirectURL:  m.redirectBase + "/oauth2/callback",
		Endpoint:     oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL},
	}
	return conf.AuthCodeURL(state, opts...), nil
}

func (m *OAuth2Manager) signState(c callbackStateClaims) (string, error) {
	c.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(m.stateSecret)
}

// ParseState validates and decodes a callback's state parameter.
func (m *OAuth2Manager) ParseState(state string) (*callbackStateClaims, error) {
	claims := &callbackStateClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (interface{}, error) {
		return m.stateSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse oauth2 state: %w", err)
	}
	return claims, nil
}

// ExchangeCode trades an authorization code (plus PKCE verifier, if used)
// for a token and returns it; persisting it on the linked account is left
// to the caller.
func (m *OAuth2Manager) ExchangeCode(ctx context.Context, cfg *catalog.AppConfiguration, appName, authURL, tokenURL, code, verifier string) (*oauth2.Token, error) {
	conf := &oauth2.Config{
		ClientID:     cfg.OAuth2ClientID,
		ClientSecret: cfg.OAuth2ClientSecret,
		Scopes:       cfg.Scopes,
		RedirectURL:  m.redirectBase + "/oauth2/callback",
		Endpoint:     oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL},
	}

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	tok, err := conf.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("exchange oauth2 code: %w", err)
	}
	return tok, nil
}

// EnsureFreshToken returns a valid access token for acct, refreshing it
// first if it expires within the refresh margin.
func (m *OAuth2Manager) EnsureFreshToken(ctx context.Context, acct *catalog.LinkedAccount) (string, error) {
	accessToken, _ := acct.Credentials["access_token"].(string)
	refreshToken, _ := acct.Credentials["refresh_token"].(string)
	expiryStr, _ := acct.Credentials["expiry"].(string)

	expiry, _ := time.Parse(time.RFC3339, expiryStr)
	if time.Until(expiry) > m.refreshMargin {
		return accessToken, nil
	}
	if refreshToken == "" {
		return accessToken, nil
	}

	clientID, _ := acct.Credentials["client_id"].(string)
	clientSecret, _ := acct.Credentials["client_secret"].(string)
	tokenURL, _ := acct.Credentials["token_url"].(string)

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("refresh oauth2 token: %w", err)
	}

	acct.Credentials["access_token"] = tok.AccessToken
	if tok.RefreshToken != "" {
		acct.Credentials["refresh_token"] = tok.RefreshToken
	}
	acct.Credentials["expiry"] = tok.Expiry.Format(time.RFC3339)
	now := time.Now()
	acct.LastRefreshedAt = &now

	if err := m.store.UpsertLinkedAccount(ctx, acct); err != nil {
		m.logger.Printf("failed to persist refreshed token for account %d: %v", acct.ID, err)
	}

	return tok.AccessToken, nil
}

// randomVerifier is kept for callers that need a verifier without going
// through AuthorizeURL.
func randomVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func challengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
