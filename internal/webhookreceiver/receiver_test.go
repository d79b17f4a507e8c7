package webhookreceiver

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/gateway/internal/catalog"
	"github.com/ocx/gateway/internal/queue"
	"github.com/ocx/gateway/internal/ratelimit"
	"github.com/ocx/gateway/internal/triggers"
)

// fakeStore implements just enough of catalog.Store for the receiver's
// trigger lookup and dedup-insert path; every other method panics so an
// accidental dependency on unimplemented behavior fails loudly.
type fakeStore struct {
	catalog.Store
	trigger     *catalog.Trigger
	seenDedup   map[string]bool
	insertCalls int
}

func (s *fakeStore) GetTrigger(ctx context.Context, id string) (*catalog.Trigger, error) {
	if s.trigger == nil || s.trigger.ID != id {
		return nil, nil
	}
	return s.trigger, nil
}

func (s *fakeStore) InsertTriggerEvent(ctx context.Context, e *catalog.TriggerEvent) (bool, error) {
	s.insertCalls++
	if s.seenDedup == nil {
		s.seenDedup = make(map[string]bool)
	}
	if s.seenDedup[e.DedupKey] {
		return false, nil
	}
	s.seenDedup[e.DedupKey] = true
	return true, nil
}

type fakePublisher struct {
	events []queue.Event
}

func (p *fakePublisher) Publish(ctx context.Context, e queue.Event) error {
	p.events = append(p.events, e)
	return nil
}

func newTestReceiver(store *fakeStore, pub *fakePublisher) *Receiver {
	registry := triggers.NewRegistry()
	registry.Add(triggers.NewGitHubConnector())
	limiter := ratelimit.New(ratelimit.Config{Capacity: 1000, RefillRate: 1000, RefillEvery: time.Minute})
	triggerLimiter := ratelimit.New(ratelimit.Config{Capacity: 1000, RefillRate: 1000, RefillEvery: time.Minute})
	return New(store, registry, limiter, triggerLimiter, pub)
}

func signedGitHubRequest(t testing.TB, secret string, body []byte, delivery string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github/trig-1", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Delivery", delivery)
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", "sha256="+hmacSHA256Hex(body, secret))
	return req
}

func TestReceiver_DuplicateDeliveryIsAcknowledgedButNotRepublished(t *testing.T) {
	trig := &catalog.Trigger{ID: "trig-1", Status: catalog.TriggerStatusActive, Secret: "shh", EventType: "push"}
	store := &fakeStore{trigger: trig}
	pub := &fakePublisher{}
	rv := newTestReceiver(store, pub)

	r := mux.NewRouter()
	rv.RegisterRoutes(r)

	body := []byte(`{"ref":"refs/heads/main"}`)
	req1 := signedGitHubRequest(t, "shh", body, "delivery-1")
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, req1)
	require.Equal(t, http.StatusOK, w1.Code)

	req2 := signedGitHubRequest(t, "shh", body, "delivery-1") // same dedup key
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code)
	assert.JSONEq(t, `{"status":"ok","duplicate":true}`, w2.Body.String())

	assert.Len(t, pub.events, 1, "duplicate delivery must not be re-enqueued")
}

func TestReceiver_PerTriggerRateLimitRejectsIndependentlyOfProviderBucket(t *testing.T) {
	trig := &catalog.Trigger{ID: "trig-1", Status: catalog.TriggerStatusActive, Secret: "shh", EventType: "push"}
	store := &fakeStore{trigger: trig}
	pub := &fakePublisher{}

	registry := triggers.NewRegistry()
	registry.Add(triggers.NewGitHubConnector())
	limiter := ratelimit.New(ratelimit.Config{Capacity: 1000, RefillRate: 1000, RefillEvery: time.Minute})
	triggerLimiter := ratelimit.New(ratelimit.Config{Capacity: 1, RefillRate: 1, RefillEvery: time.Hour})
	rv := New(store, registry, limiter, triggerLimiter, pub)

	r := mux.NewRouter()
	rv.RegisterRoutes(r)

	body := []byte(`{"ref":"refs/heads/main"}`)
	req1 := signedGitHubRequest(t, "shh", body, "delivery-a")
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, req1)
	require.Equal(t, http.StatusOK, w1.Code)

	req2 := signedGitHubRequest(t, "shh", body, "delivery-b")
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
}

func TestReceiver_InvalidSignatureIsRejected(t *testing.T) {
	trig := &catalog.Trigger{ID: "trig-1", Status: catalog.TriggerStatusActive, Secret: "shh", EventType: "push"}
	store := &fakeStore{trigger: trig}
	pub := &fakePublisher{}
	rv := newTestReceiver(store, pub)

	r := mux.NewRouter()
	rv.RegisterRoutes(r)

	body := []byte(`{"ref":"refs/heads/main"}`)
	req := signedGitHubRequest(t, "wrong-secret", body, "delivery-2")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, pub.events)
}

func TestReceiver_UnknownTriggerLooksLikeSignatureFailure(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	rv := newTestReceiver(store, pub)

	r := mux.NewRouter()
	rv.RegisterRoutes(r)

	body := []byte(`{}`)
	req := signedGitHubRequest(t, "shh", body, "delivery-3")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func hmacSHA256Hex(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
