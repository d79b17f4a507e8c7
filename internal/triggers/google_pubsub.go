package triggers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ocx/gateway/internal/catalog"
	"github.com/ocx/gateway/internal/ocxerr"
)

// GooglePubSubConnector verifies push deliveries authenticated by a
// Google-signed OIDC bearer token in the Authorization header, rather
// than a shared-secret HMAC: Pub/Sub push subscriptions sign every
// request with a service account identity token whose audience must
// match the subscription's configured audience.
//
// Google Calendar and Gmail both route their change notifications
// through a Pub/Sub push subscription, so this connector is shared by
// both event types.
type GooglePubSubConnector struct {
	audience  string
	keyLookup jwt.Keyfunc
}

func NewGooglePubSubConnector(audience string, keyLookup jwt.Keyfunc) *GooglePubSubConnector {
	return &GooglePubSubConnector{audience: audience, keyLookup: keyLookup}
}

func (c *GooglePubSubConnector) Name() string { return "google_pubsub" }

func (c *GooglePubSubConnector) Register(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

func (c *GooglePubSubConnector) Renew(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

func (c *GooglePubSubConnector) Unregister(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

type pubsubOIDCClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type pubsubPushEnvelope struct {
	Message struct {
		MessageID string `json:"messageId"`
		Data      string `json:"data"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func (c *GooglePubSubConnector) Verify(ctx context.Context, trig *catalog.Trigger, r *http.Request, body []byte) (VerifyResult, error) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return VerifyResult{}, ocxerr.SignatureInvalid()
	}
	tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

	claims := &pubsubOIDCClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, c.keyLookup, jwt.WithAudience(c.audience))
	if err != nil || !token.Valid {
		return VerifyResult{}, ocxerr.SignatureInvalid()
	}

	var envelope pubsubPushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return VerifyResult{}, ocxerr.Validation("malformed pubsub push envelope")
	}
	if envelope.Message.MessageID == "" {
		return VerifyResult{}, ocxerr.Validation("missing pubsub message id")
	}

	return VerifyResult{
		Valid:     true,
		DedupKey:  envelope.Message.MessageID,
		EventType: trig.EventType,
	}, nil
}
