package webhookreceiver

import (
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/ocx/gateway/internal/catalog"
	"github.com/ocx/gateway/internal/ratelimit"
	"github.com/ocx/gateway/internal/triggers"
)

// BenchmarkReceiveWebhook measures the full receive path — rate limit
// check, trigger lookup, signature verification, dedup insert, publish —
// for a single-provider GitHub delivery.
func BenchmarkReceiveWebhook(b *testing.B) {
	trig := &catalog.Trigger{ID: "trig-1", Status: catalog.TriggerStatusActive, Secret: "shh", EventType: "push"}
	store := &fakeStore{trigger: trig}
	pub := &fakePublisher{}
	registry := triggers.NewRegistry()
	registry.Add(triggers.NewGitHubConnector())
	limiter := ratelimit.New(ratelimit.Config{Capacity: 1 << 30, RefillRate: 1 << 30, RefillEvery: time.Second})
	triggerLimiter := ratelimit.New(ratelimit.Config{Capacity: 1 << 30, RefillRate: 1 << 30, RefillEvery: time.Second})
	rv := New(store, registry, limiter, triggerLimiter, pub)

	r := mux.NewRouter()
	rv.RegisterRoutes(r)

	body := []byte(`{"ref":"refs/heads/main"}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := signedGitHubRequest(b, "shh", body, "delivery-bench-"+strconv.Itoa(i))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
	}
}
