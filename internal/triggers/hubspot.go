package triggers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/ocx/gateway/internal/catalog"
	"github.com/ocx/gateway/internal/ocxerr"
)

// HubSpotConnector supports both signature schemes HubSpot has shipped:
// v1 (X-HubSpot-Signature, plain SHA-256 of clientSecret+body, no HMAC)
// and v2 (X-HubSpot-Signature-v2, HMAC-SHA256 over method+uri+body).
// Which one a delivery uses is determined by X-HubSpot-Signature-Version.
type HubSpotConnector struct{}

func NewHubSpotConnector() *HubSpotConnector { return &HubSpotConnector{} }

func (c *HubSpotConnector) Name() string { return "hubspot" }

func (c *HubSpotConnector) Register(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

func (c *HubSpotConnector) Renew(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

func (c *HubSpotConnector) Unregister(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

func (c *HubSpotConnector) Verify(ctx context.Context, trig *catalog.Trigger, r *http.Request, body []byte) (VerifyResult, error) {
	version := r.Header.Get("X-HubSpot-Signature-Version")

	var ok bool
	switch version {
	case "v2", "":
		sig := r.Header.Get("X-HubSpot-Signature-v2")
		if sig == "" {
			sig = r.Header.Get("X-HubSpot-Signature")
		}
		sourceString := r.Method + r.URL.String() + string(body)
		expected := signHMACSHA256([]byte(sourceString), trig.Secret)
		ok = constantTimeEqual(expected, sig)
	case "v1":
		sig := r.Header.Get("X-HubSpot-Signature")
		sum := sha256.Sum256(append([]byte(trig.Secret), body...))
		expected := hex.EncodeToString(sum[:])
		ok = constantTimeEqual(expected, sig)
	default:
		return VerifyResult{}, ocxerr.Validation("unknown hubspot signature version")
	}

	if !ok {
		return VerifyResult{}, ocxerr.SignatureInvalid()
	}

	dedup := r.Header.Get("X-Request-Id")
	if dedup == "" {
		dedup = extractJSONStringField(body, "eventId")
	}

	return VerifyResult{Valid: true, DedupKey: dedup, EventType: extractJSONStringField(body, "subscriptionType")}, nil
}
