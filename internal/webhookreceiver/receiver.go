// Package webhookreceiver implements the inbound HTTP surface triggers
// are delivered to: POST /webhooks/{provider}/{trigger_id}. It rate
// limits, resolves the trigger, verifies the delivery with the
// provider's connector, deduplicates, persists, and enqueues — all
// within the few seconds most providers allow before they consider the
// delivery timed out and retry it.
package webhookreceiver

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ocx/gateway/internal/catalog"
	"github.com/ocx/gateway/internal/queue"
	"github.com/ocx/gateway/internal/ratelimit"
	"github.com/ocx/gateway/internal/triggers"
)

const maxBodyBytes = 1 << 20 // 1 MiB

type Receiver struct {
	store          catalog.Store
	registry       *triggers.Registry
	limiter        ratelimit.Checker
	triggerLimiter ratelimit.Checker
	publisher      queue.Publisher
	logger         *log.Logger
}

// New wires the receiver's two rate-limit buckets: limiter is the global
// per-provider bucket, triggerLimiter is the narrower per-trigger_id
// bucket (10 rps, burst 20) that keeps one noisy trigger from starving
// every other delivery for the same provider.
func New(store catalog.Store, registry *triggers.Registry, limiter, triggerLimiter ratelimit.Checker, publisher queue.Publisher) *Receiver {
	return &Receiver{
		store:          store,
		registry:       registry,
		limiter:        limiter,
		triggerLimiter: triggerLimiter,
		publisher:      publisher,
		logger:         log.New(log.Writer(), "[WEBHOOK-RECV] ", log.LstdFlags),
	}
}

func (rv *Receiver) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/webhooks/{provider}/{trigger_id}", rv.handle).Methods(http.MethodPost, http.MethodGet)
}

func (rv *Receiver) handle(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	provider := vars["provider"]
	triggerID := vars["trigger_id"]

	decision := rv.limiter.Check("webhook:" + provider)
	if !decision.Allowed {
		w.Header().Set("Retry-After", decision.RetryAfter.String())
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return
	}
	if triggerDecision := rv.triggerLimiter.Check(triggerID); !triggerDecision.Allowed {
		w.Header().Set("Retry-After", triggerDecision.RetryAfter.String())
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return
	}

	connector, ok := rv.registry.Get(provider)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}

	// Microsoft Graph's subscription-validation handshake arrives as a
	// GET/POST with a validationToken query parameter before any real
	// notification, and must be answered before any other processing.
	if provider == "microsoft_graph" {
		if handled := triggers.ValidationTokenHandler(w, r); handled {
			return
		}
	}

	// The body is read before the trigger lookup so that an unknown or
	// inactive trigger still has its request drained.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	ctx := r.Context()
	trig, err := rv.store.GetTrigger(ctx, triggerID)
	if err != nil {
		rv.logger.Printf("failed to look up trigger %s: %v", triggerID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if trig == nil || trig.Status != catalog.TriggerStatusActive {
		// Deliberately the same shape as a signature failure: disclosing
		// "trigger not found" vs "signature invalid" would let an
		// attacker enumerate valid trigger IDs.
		writeError(w, http.StatusUnauthorized, "webhook verification failed")
		return
	}

	result, err := connector.Verify(ctx, trig, r, body)
	if err != nil {
		rv.logger.Printf("verification failed for trigger %s: %v", triggerID, err)
		writeError(w, http.StatusUnauthorized, "webhook verification failed")
		return
	}
	if !result.Valid {
		writeError(w, http.StatusUnauthorized, "webhook verification failed")
		return
	}
	if result.IsHandshake {
		if result.RespondStatus == 0 {
			result.RespondStatus = http.StatusOK
		}
		w.WriteHeader(result.RespondStatus)
		_, _ = w.Write(result.RespondBody)
		return
	}

	event := &catalog.TriggerEvent{
		TriggerID:  trig.ID,
		DedupKey:   result.DedupKey,
		Payload:    body,
		ReceivedAt: time.Now(),
	}

	created, err := rv.store.InsertTriggerEvent(ctx, event)
	if err != nil {
		rv.logger.Printf("failed to persist trigger event for trigger %s: %v", triggerID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !created {
		// Duplicate delivery (provider retry with the same dedup key):
		// acknowledge success without re-enqueuing.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "duplicate": true})
		return
	}

	eventType := result.EventType
	if eventType == "" {
		eventType = trig.EventType
	}

	publishErr := rv.publisher.Publish(ctx, queue.Event{
		TriggerID:  trig.ID,
		ProjectID:  trig.ProjectID,
		AppName:    trig.AppName,
		EventType:  eventType,
		Payload:    body,
		ReceivedAt: event.ReceivedAt,
	})
	if publishErr != nil {
		rv.logger.Printf("failed to enqueue trigger event for trigger %s: %v", triggerID, publishErr)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
