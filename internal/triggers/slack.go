package triggers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ocx/gateway/internal/catalog"
	"github.com/ocx/gateway/internal/ocxerr"
)

// SlackConnector verifies the X-Slack-Signature header, computed as
// HMAC-SHA256 over "v0:<timestamp>:<body>" and prefixed "v0=". Slack's
// own guidance is to reject requests whose timestamp is more than five
// minutes old, which doubles as our replay-window check.
type SlackConnector struct {
	replayWindow time.Duration
}

func NewSlackConnector() *SlackConnector {
	return &SlackConnector{replayWindow: 5 * time.Minute}
}

func (c *SlackConnector) Name() string { return "slack" }

func (c *SlackConnector) Register(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

func (c *SlackConnector) Renew(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

func (c *SlackConnector) Unregister(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

func (c *SlackConnector) Verify(ctx context.Context, trig *catalog.Trigger, r *http.Request, body []byte) (VerifyResult, error) {
	timestampHeader := r.Header.Get("X-Slack-Request-Timestamp")
	sigHeader := r.Header.Get("X-Slack-Signature")
	if timestampHeader == "" || sigHeader == "" {
		return VerifyResult{}, ocxerr.SignatureInvalid()
	}

	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return VerifyResult{}, ocxerr.SignatureInvalid()
	}
	if time.Since(time.Unix(ts, 0)) > c.replayWindow {
		return VerifyResult{}, ocxerr.SignatureInvalid()
	}

	basestring := fmt.Sprintf("v0:%s:%s", timestampHeader, body)
	expected := "v0=" + signHMACSHA256([]byte(basestring), trig.Secret)
	if !constantTimeEqual(expected, sigHeader) {
		return VerifyResult{}, ocxerr.SignatureInvalid()
	}

	// Slack's URL verification handshake: respond with the provided
	// challenge instead of enqueuing anything.
	if challenge := extractJSONStringField(body, "challenge"); challenge != "" && extractJSONStringField(body, "type") == "url_verification" {
		return VerifyResult{
			Valid:         true,
			IsHandshake:   true,
			RespondStatus: http.StatusOK,
			RespondBody:   []byte(challenge),
		}, nil
	}

	eventID := extractJSONStringField(body, "event_id")
	if eventID == "" {
		return VerifyResult{}, ocxerr.Validation("missing event_id in payload")
	}

	return VerifyResult{Valid: true, DedupKey: eventID, EventType: extractJSONStringField(body, "type")}, nil
}
