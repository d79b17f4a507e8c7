package triggers

import (
	"context"
	"net/http"

	"github.com/ocx/gateway/internal/catalog"
	"github.com/ocx/gateway/internal/ocxerr"
)

// NotionConnector signs with the verification_token Notion issues once,
// out of band, when a webhook subscription is manually confirmed in the
// integration's dashboard — there is no programmatic subscribe/renew
// API, so Register/Renew/Unregister are no-ops and the operator is
// expected to have already pointed Notion at this gateway's webhook URL.
type NotionConnector struct{}

func NewNotionConnector() *NotionConnector { return &NotionConnector{} }

func (c *NotionConnector) Name() string { return "notion" }

func (c *NotionConnector) Register(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

func (c *NotionConnector) Renew(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

func (c *NotionConnector) Unregister(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

func (c *NotionConnector) Verify(ctx context.Context, trig *catalog.Trigger, r *http.Request, body []byte) (VerifyResult, error) {
	sigHeader := r.Header.Get("X-Notion-Signature")
	if sigHeader == "" {
		return VerifyResult{}, ocxerr.SignatureInvalid()
	}
	expected := "sha256=" + signHMACSHA256(body, trig.Secret)
	if !constantTimeEqual(expected, sigHeader) {
		return VerifyResult{}, ocxerr.SignatureInvalid()
	}

	eventID := extractJSONStringField(body, "id")
	if eventID == "" {
		return VerifyResult{}, ocxerr.Validation("missing event id in payload")
	}

	return VerifyResult{Valid: true, DedupKey: eventID, EventType: extractJSONStringField(body, "type")}, nil
}
