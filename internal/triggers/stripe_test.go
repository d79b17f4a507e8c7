package triggers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/gateway/internal/catalog"
)

func TestStripeConnector_VerifyValidSignature(t *testing.T) {
	c := NewStripeConnector()
	trig := &catalog.Trigger{Secret: "whsec_test"}
	body := []byte(`{"id":"evt_123","type":"charge.succeeded"}`)
	ts := time.Now().Unix()

	signedPayload := fmt.Sprintf("%d.%s", ts, body)
	sig := signHMACSHA256([]byte(signedPayload), trig.Secret)
	header := fmt.Sprintf("t=%d,v1=%s", ts, sig)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe/t1", nil)
	req.Header.Set("Stripe-Signature", header)

	result, err := c.Verify(req.Context(), trig, req, body)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, "evt_123", result.DedupKey)
	assert.Equal(t, "charge.succeeded", result.EventType)
}

func TestStripeConnector_VerifyRejectsBadSignature(t *testing.T) {
	c := NewStripeConnector()
	trig := &catalog.Trigger{Secret: "whsec_test"}
	body := []byte(`{"id":"evt_123","type":"charge.succeeded"}`)
	ts := time.Now().Unix()

	header := fmt.Sprintf("t=%d,v1=%s", ts, "deadbeef")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe/t1", nil)
	req.Header.Set("Stripe-Signature", header)

	_, err := c.Verify(req.Context(), trig, req, body)
	assert.Error(t, err)
}

func TestStripeConnector_VerifyRejectsExpiredTimestamp(t *testing.T) {
	c := NewStripeConnector()
	trig := &catalog.Trigger{Secret: "whsec_test"}
	body := []byte(`{"id":"evt_123","type":"charge.succeeded"}`)
	ts := time.Now().Add(-10 * time.Minute).Unix() // outside the 5-minute replay window

	signedPayload := fmt.Sprintf("%d.%s", ts, body)
	sig := signHMACSHA256([]byte(signedPayload), trig.Secret)
	header := fmt.Sprintf("t=%d,v1=%s", ts, sig)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe/t1", nil)
	req.Header.Set("Stripe-Signature", header)

	_, err := c.Verify(req.Context(), trig, req, body)
	assert.Error(t, err)
}

func TestStripeConnector_VerifyRejectsMissingHeader(t *testing.T) {
	c := NewStripeConnector()
	trig := &catalog.Trigger{Secret: "whsec_test"}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe/t1", nil)

	_, err := c.Verify(req.Context(), trig, req, []byte(`{}`))
	assert.Error(t, err)
}
