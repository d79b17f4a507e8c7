// Package triggers holds the per-provider webhook connectors: each
// implements the register/renew/unregister hooks (none of which contacts
// the provider's API) and knows how to verify an inbound delivery's
// authenticity.
package triggers

import (
	"context"
	"net/http"

	"github.com/ocx/gateway/internal/catalog"
)

// VerifyResult is what a Connector reports after inspecting an inbound
// delivery. Special-case responses (provider handshake/URL verification)
// are reported via RespondBody/RespondStatus so the receiver can answer
// inline without enqueuing anything.
type VerifyResult struct {
	Valid         bool
	DedupKey      string
	EventType     string
	IsHandshake   bool
	RespondStatus int
	RespondBody   []byte
}

// Connector is the per-provider integration surface for C6/C7.
type Connector interface {
	// Name is the provider slug used in the webhook URL path, e.g. "github".
	Name() string

	// Register prepares trig before it is persisted. No connector in this
	// package calls the provider's API: Register at most fills in local
	// fields such as ProviderSubscriptionID, and no remote subscription
	// is created.
	Register(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error

	// Renew is called for triggers close to expiry. Every connector in
	// this package returns nil without contacting the provider, so the
	// trigger's ExpiresAt is not extended.
	Renew(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error

	// Unregister is the counterpart of Register; like it, no connector in
	// this package contacts the provider.
	Unregister(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error

	// Verify authenticates an inbound delivery against trig's stored
	// secret/credentials and extracts the dedup key and event type.
	Verify(ctx context.Context, trig *catalog.Trigger, r *http.Request, body []byte) (VerifyResult, error)
}

// Registry maps provider name to Connector.
type Registry struct {
	connectors map[string]Connector
}

func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

func (r *Registry) Add(c Connector) {
	r.connectors[c.Name()] = c
}

func (r *Registry) Get(name string) (Connector, bool) {
	c, ok := r.connectors[name]
	return c, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.connectors))
	for n := range r.connectors {
		names = append(names, n)
	}
	return names
}
