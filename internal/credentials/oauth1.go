package credentials

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ocx/gateway/internal/catalog"
)

// OAuth1Manager implements the three-legged OAuth 1.0a dance (request
// token, user authorization, access token) and HMAC-SHA1 request signing
// for apps that never moved to OAuth2 (notably legacy Twitter-style APIs).
type OAuth1Manager struct {
	fbStore catalog.FeedbackStore
	tempTTL time.Duration
}

func NewOAuth1Manager(fbStore catalog.FeedbackStore, tempTTL time.Duration) *OAuth1Manager {
	if tempTTL <= 0 {
		tempTTL = 10 * time.Minute
	}
	return &OAuth1Manager{fbStore: fbStore, tempTTL: tempTTL}
}

// RequestTemporaryToken persists a request token and secret, already
// obtained from the provider's request-token endpoint by the caller, as an
// OAuth1 temp token expiring after the manager's TTL. It does not contact
// the provider itself.
func (m *OAuth1Manager) RequestTemporaryToken(ctx context.Context, projectID, appName, ownerID, consumerKey, consumerSecret, requestToken, requestTokenSecret string) (*catalog.OAuth1TempToken, error) {
	tmp := &catalog.OAuth1TempToken{
		ProjectID:            projectID,
		AppName:              appName,
		LinkedAccountOwnerID: ownerID,
		RequestToken:         requestToken,
		RequestTokenSecret:   requestTokenSecret,
		ExpiresAt:            time.Now().Add(m.tempTTL),
	}
	if err := m.fbStore.CreateOAuth1TempToken(ctx, tmp); err != nil {
		return nil, fmt.Errorf("persist oauth1 temp token: %w", err)
	}
	return tmp, nil
}

// CompleteAuthorization consumes the temp token stored by
// RequestTemporaryToken for requestToken, failing if it is unknown,
// already consumed, or expired. It does not check an oauth_verifier or
// perform the access-token exchange.
func (m *OAuth1Manager) CompleteAuthorization(ctx context.Context, requestToken string) (*catalog.OAuth1TempToken, error) {
	tmp, err := m.fbStore.ConsumeOAuth1TempToken(ctx, requestToken)
	if err != nil {
		return nil, fmt.Errorf("consume oauth1 temp token: %w", err)
	}
	if tmp == nil {
		return nil, fmt.Errorf("unknown or already-consumed request token")
	}
	if time.Now().After(tmp.ExpiresAt) {
		return nil, fmt.Errorf("request token expired")
	}
	return tmp, nil
}

// SignRequest computes the OAuth 1.0a HMAC-SHA1 Authorization header for
// a single request. bodyParams are the form-encoded body parameters (if
// any) that must be included in the signature base string per the spec;
// JSON and multipart bodies are not signed (only their params of type
// application/x-www-form-urlencoded are).
func (m *OAuth1Manager) SignRequest(method, rawURL string, bodyParams map[string]string, consumerKey, consumerSecret, accessToken, accessTokenSecret string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	nonce, err := generateNonce()
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	oauthParams := map[string]string{
		"oauth_consumer_key":     consumerKey,
		"oauth_nonce":            nonce,
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        timestamp,
		"oauth_version":          "1.0",
	}
	if accessToken != "" {
		oauthParams["oauth_token"] = accessToken
	}

	allParams := make(map[string]string)
	for k, v := range oauthParams {
		allParams[k] = v
	}
	for k, v := range bodyParams {
		allParams[k] = v
	}
	for k, vs := range u.Query() {
		if len(vs) > 0 {
			allParams[k] = vs[0]
		}
	}

	baseString := signatureBaseString(method, baseURL(u), allParams)
	signingKey := percentEncode(consumerSecret) + "&" + percentEncode(accessTokenSecret)

	mac := hmac.New(sha1.New, []byte(signingKey))
	mac.Write([]byte(baseString))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	oauthParams["oauth_signature"] = signature

	var parts []string
	keys := make([]string, 0, len(oauthParams))
	for k := range oauthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, percentEncode(k), percentEncode(oauthParams[k])))
	}

	return "OAuth " + strings.Join(parts, ", "), nil
}

func baseURL(u *url.URL) string {
	v := *u
	v.RawQuery = ""
	v.Fragment = ""
	return v.String()
}

// signatureBaseString builds the RFC 5849 §3.4.1 base string: uppercase
// method, percent-encoded base URL, and the percent-encoded, alphabetized
// parameter string, all joined by "&".
func signatureBaseString(method, baseURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs []string
	for _, k := range keys {
		pairs = append(pairs, percentEncode(k)+"="+percentEncode(params[k]))
	}
	paramString := strings.Join(pairs, "&")

	return strings.ToUpper(method) + "&" + percentEncode(baseURL) + "&" + percentEncode(paramString)
}

// percentEncode implements RFC 3986 unreserved-character encoding, which
// differs from url.QueryEscape (it must not encode '-', '.', '_', '~' but
// must encode everything else including spaces as %20, not '+').
func percentEncode(s string) string {
	var b strings.Builder
	for _, r := range []byte(s) {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') ||
			r == '-' || r == '.' || r == '_' || r == '~' {
			b.WriteByte(r)
		} else {
			fmt.Fprintf(&b, "%%%02X", r)
		}
	}
	return b.String()
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
