// Package credentials brokers per-(project, app, linked account) secrets:
// no-auth and static API keys pass through untouched, OAuth2 handles
// PKCE authorization-code exchange plus refresh, and OAuth1.0a handles
// HMAC-SHA1 request signing over the three-legged token dance.
package credentials

import (
	"context"
	"fmt"
	"log"

	"github.com/ocx/gateway/internal/catalog"
	"github.com/ocx/gateway/internal/ocxerr"
)

// Broker resolves a LinkedAccount's stored credential into the concrete
// values an HTTP request needs: headers/query params to attach, or a
// signing function for OAuth1.0a.
type Broker struct {
	store    catalog.Store
	fbStore  catalog.FeedbackStore
	oauth2   *OAuth2Manager
	oauth1   *OAuth1Manager
	logger   *log.Logger
}

func NewBroker(store catalog.Store, fbStore catalog.FeedbackStore, oauth2 *OAuth2Manager, oauth1 *OAuth1Manager) *Broker {
	return &Broker{
		store:   store,
		fbStore: fbStore,
		oauth2:  oauth2,
		oauth1:  oauth1,
		logger:  log.New(log.Writer(), "[CREDENTIALS] ", log.LstdFlags),
	}
}

// Injection describes what the executor should add to an outgoing request
// to authenticate it. APIKey and OAuth2 populate Headers; NoAuth returns
// an empty Injection; Resolve never populates QueryParams. OAuth1 instead
// returns a SignFunc because the Authorization header for OAuth1.0a
// depends on the full request (method, URL, body) being signed.
type Injection struct {
	Headers     map[string]string
	QueryParams map[string]string
	SignFunc    SignFunc
}

// SignFunc computes the OAuth1.0a Authorization header for a fully
// composed request.
type SignFunc func(method, rawURL string, bodyParams map[string]string) (string, error)

// Resolve returns the Injection for the given linked account, refreshing
// an OAuth2 token first if it's within its expiry margin.
func (b *Broker) Resolve(ctx context.Context, projectID, appName, ownerID string) (*Injection, error) {
	acct, err := b.store.GetLinkedAccount(ctx, projectID, appName, ownerID)
	if err != nil {
		return nil, fmt.Errorf("resolve linked account: %w", err)
	}
	if acct == nil {
		return nil, ocxerr.NotFound("linked account")
	}
	if !acct.Enabled {
		return nil, ocxerr.Disabled("linked account")
	}

	switch acct.AuthMode {
	case catalog.AuthModeNoAuth:
		return &Injection{}, nil

	case catalog.AuthModeAPIKey:
		key, _ := acct.Credentials["api_key"].(string)
		headerName, _ := acct.Credentials["header_name"].(string)
		if headerName == "" {
			headerName = "Authorization"
		}
		return &Injection{Headers: map[string]string{headerName: key}}, nil

	case catalog.AuthModeOAuth2:
		token, err := b.oauth2.EnsureFreshToken(ctx, acct)
		if err != nil {
			return nil, ocxerr.OAuth2("refresh token", err)
		}
		return &Injection{Headers: map[string]string{"Authorization": "Bearer " + token}}, nil

	case catalog.AuthModeOAuth1:
		consumerKey, _ := acct.Credentials["consumer_key"].(string)
		consumerSecret, _ := acct.Credentials["consumer_secret"].(string)
		accessToken, _ := acct.Credentials["access_token"].(string)
		accessSecret, _ := acct.Credentials["access_token_secret"].(string)
		signer := b.oauth1
		return &Injection{
			SignFunc: func(method, rawURL string, bodyParams map[string]string) (string, error) {
				return signer.SignRequest(method, rawURL, bodyParams, consumerKey, consumerSecret, accessToken, accessSecret)
			},
		}, nil

	default:
		return nil, ocxerr.Internal(fmt.Sprintf("unknown auth mode %q", acct.AuthMode), nil)
	}
}
