package triggers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/ocx/gateway/internal/catalog"
	"github.com/ocx/gateway/internal/ocxerr"
)

// MicrosoftGraphConnector verifies deliveries by a token-echo scheme
// rather than a signature: Graph change notifications carry the
// clientState value we supplied at subscription time back in each
// notification's own body, and we compare it directly against what we
// stored on the Trigger.
type MicrosoftGraphConnector struct{}

func NewMicrosoftGraphConnector() *MicrosoftGraphConnector { return &MicrosoftGraphConnector{} }

func (c *MicrosoftGraphConnector) Name() string { return "microsoft_graph" }

func (c *MicrosoftGraphConnector) Register(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	// No Graph subscription is created here, and trig (including
	// ExpiresAt) is left as the caller set it.
	return nil
}

func (c *MicrosoftGraphConnector) Renew(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

func (c *MicrosoftGraphConnector) Unregister(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

type graphNotification struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientState    string `json:"clientState"`
	ChangeType     string `json:"changeType"`
	Resource       string `json:"resource"`
}

type graphNotificationEnvelope struct {
	Value []graphNotification `json:"value"`
}

// ValidationTokenHandler answers Microsoft Graph's subscription
// validation handshake: a GET (or POST with validationToken query param)
// that must be echoed back as text/plain within 10 seconds.
func ValidationTokenHandler(w http.ResponseWriter, r *http.Request) bool {
	token := r.URL.Query().Get("validationToken")
	if token == "" {
		return false
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, token)
	return true
}

func (c *MicrosoftGraphConnector) Verify(ctx context.Context, trig *catalog.Trigger, r *http.Request, body []byte) (VerifyResult, error) {
	var envelope graphNotificationEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return VerifyResult{}, ocxerr.Validation("malformed graph notification envelope")
	}
	if len(envelope.Value) == 0 {
		return VerifyResult{}, ocxerr.Validation("empty graph notification envelope")
	}

	for _, n := range envelope.Value {
		if n.ClientState != trig.Secret {
			return VerifyResult{}, ocxerr.SignatureInvalid()
		}
	}

	first := envelope.Value[0]
	return VerifyResult{
		Valid:     true,
		DedupKey:  r.Header.Get("Client-Request-Id") + ":" + first.Resource,
		EventType: first.ChangeType,
	}, nil
}
