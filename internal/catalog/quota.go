package catalog

import "context"

// QuotaEnforcer gates function-execution requests against a project's
// plan. Billing/quota plan lookup is out of scope for this gateway (see
// Non-goals), so NoopQuotaEnforcer is the only implementation wired in;
// the interface exists so a real enforcer can be dropped in later without
// touching the executor.
type QuotaEnforcer interface {
	CheckQuota(ctx context.Context, projectID string) error
}

type NoopQuotaEnforcer struct{}

func (NoopQuotaEnforcer) CheckQuota(ctx context.Context, projectID string) error { return nil }
