package triggers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ocx/gateway/internal/catalog"
	"github.com/ocx/gateway/internal/ocxerr"
)

// StripeConnector verifies the Stripe-Signature header, whose value is a
// comma-separated "t=<timestamp>,v1=<hex hmac>" pair computed over
// "<timestamp>.<payload>". Deliveries older than replayWindow are
// rejected as expired even if the signature is otherwise valid, closing
// the replay-attack window Stripe's own docs call out.
type StripeConnector struct {
	replayWindow time.Duration
}

func NewStripeConnector() *StripeConnector {
	return &StripeConnector{replayWindow: 5 * time.Minute}
}

func (c *StripeConnector) Name() string { return "stripe" }

func (c *StripeConnector) Register(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

func (c *StripeConnector) Renew(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

func (c *StripeConnector) Unregister(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

func (c *StripeConnector) Verify(ctx context.Context, trig *catalog.Trigger, r *http.Request, body []byte) (VerifyResult, error) {
	header := r.Header.Get("Stripe-Signature")
	if header == "" {
		return VerifyResult{}, ocxerr.SignatureInvalid()
	}

	var timestamp, v1 string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}
	if timestamp == "" || v1 == "" {
		return VerifyResult{}, ocxerr.SignatureInvalid()
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return VerifyResult{}, ocxerr.SignatureInvalid()
	}
	if time.Since(time.Unix(ts, 0)) > c.replayWindow {
		return VerifyResult{}, ocxerr.SignatureInvalid()
	}

	signedPayload := timestamp + "." + string(body)
	expected := signHMACSHA256([]byte(signedPayload), trig.Secret)
	if !constantTimeEqual(expected, v1) {
		return VerifyResult{}, ocxerr.SignatureInvalid()
	}

	eventID := extractJSONStringField(body, "id")
	eventType := extractJSONStringField(body, "type")
	if eventID == "" {
		return VerifyResult{}, ocxerr.Validation("missing event id in payload")
	}

	return VerifyResult{Valid: true, DedupKey: eventID, EventType: eventType}, nil
}
