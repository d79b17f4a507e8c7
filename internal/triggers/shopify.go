package triggers

import (
	"context"
	"net/http"

	"github.com/ocx/gateway/internal/catalog"
	"github.com/ocx/gateway/internal/ocxerr"
)

// ShopifyConnector verifies the base64 HMAC-SHA256 in X-Shopify-Hmac-SHA256
// and dedups on X-Shopify-Webhook-Id, matching Shopify's own documented
// retry-with-same-id behavior.
type ShopifyConnector struct{}

func NewShopifyConnector() *ShopifyConnector { return &ShopifyConnector{} }

func (c *ShopifyConnector) Name() string { return "shopify" }

func (c *ShopifyConnector) Register(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

func (c *ShopifyConnector) Renew(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

func (c *ShopifyConnector) Unregister(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

func (c *ShopifyConnector) Verify(ctx context.Context, trig *catalog.Trigger, r *http.Request, body []byte) (VerifyResult, error) {
	sigHeader := r.Header.Get("X-Shopify-Hmac-Sha256")
	if sigHeader == "" {
		return VerifyResult{}, ocxerr.SignatureInvalid()
	}

	mac := hmacSHA256Base64(body, trig.Secret)
	if !constantTimeEqual(mac, sigHeader) {
		return VerifyResult{}, ocxerr.SignatureInvalid()
	}

	dedup := r.Header.Get("X-Shopify-Webhook-Id")
	if dedup == "" {
		return VerifyResult{}, ocxerr.Validation("missing X-Shopify-Webhook-Id header")
	}

	return VerifyResult{
		Valid:     true,
		DedupKey:  dedup,
		EventType: r.Header.Get("X-Shopify-Topic"),
	}, nil
}
