package triggers

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// googleJWKSURL serves Google's current OIDC signing keys, the same
// endpoint Pub/Sub push subscriptions' identity tokens are verified
// against.
const googleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksResponse struct {
	Keys []jwk `json:"keys"`
}

// GoogleKeyfunc fetches and caches Google's JWKS, refreshing it once the
// cache entry older than refreshEvery, so it satisfies jwt.Keyfunc
// without a round-trip on every single webhook delivery.
type GoogleKeyfunc struct {
	mu           sync.Mutex
	keys         map[string]*rsa.PublicKey
	fetchedAt    time.Time
	refreshEvery time.Duration
	httpClient   *http.Client
}

func NewGoogleKeyfunc() *GoogleKeyfunc {
	return &GoogleKeyfunc{
		keys:         make(map[string]*rsa.PublicKey),
		refreshEvery: time.Hour,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *GoogleKeyfunc) Keyfunc(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("token has no kid header")
	}

	key, err := g.lookup(kid)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (g *GoogleKeyfunc) lookup(kid string) (*rsa.PublicKey, error) {
	g.mu.Lock()
	stale := time.Since(g.fetchedAt) > g.refreshEvery
	key, ok := g.keys[kid]
	g.mu.Unlock()

	if ok && !stale {
		return key, nil
	}

	if err := g.refresh(); err != nil {
		if ok {
			return key, nil // serve the stale key rather than fail a valid delivery over a transient fetch error
		}
		return nil, err
	}

	g.mu.Lock()
	key, ok = g.keys[kid]
	g.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown signing key id %q", kid)
	}
	return key, nil
}

func (g *GoogleKeyfunc) refresh() error {
	resp, err := g.httpClient.Get(googleJWKSURL)
	if err != nil {
		return fmt.Errorf("fetch google jwks: %w", err)
	}
	defer resp.Body.Close()

	var parsed jwksResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode google jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(parsed.Keys))
	for _, k := range parsed.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := jwkToRSAPublicKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	g.mu.Lock()
	g.keys = keys
	g.fetchedAt = time.Now()
	g.mu.Unlock()
	return nil
}

func jwkToRSAPublicKey(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
