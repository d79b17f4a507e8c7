package triggers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ocx/gateway/internal/catalog"
	"github.com/ocx/gateway/internal/ocxerr"
)

// GitHubConnector verifies deliveries signed with GitHub's
// X-Hub-Signature-256 header (hex HMAC-SHA256 prefixed "sha256=") and
// deduplicates on the X-GitHub-Delivery header, which GitHub guarantees
// is unique per delivery attempt (including retries of the same event).
type GitHubConnector struct{}

func NewGitHubConnector() *GitHubConnector { return &GitHubConnector{} }

func (c *GitHubConnector) Name() string { return "github" }

func (c *GitHubConnector) Register(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	// No GitHub API call is made: only a local subscription ID is derived
	// from the project and event type. The webhook secret is not set here.
	trig.ProviderSubscriptionID = fmt.Sprintf("gh-hook-%s-%s", trig.ProjectID, trig.EventType)
	return nil
}

func (c *GitHubConnector) Renew(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil // GitHub repo hooks do not expire
}

func (c *GitHubConnector) Unregister(ctx context.Context, trig *catalog.Trigger, linked *catalog.LinkedAccount) error {
	return nil
}

func (c *GitHubConnector) Verify(ctx context.Context, trig *catalog.Trigger, r *http.Request, body []byte) (VerifyResult, error) {
	sigHeader := r.Header.Get("X-Hub-Signature-256")
	if !strings.HasPrefix(sigHeader, "sha256=") {
		return VerifyResult{}, ocxerr.SignatureInvalid()
	}
	expected := signHMACSHA256(body, trig.Secret)
	got := strings.TrimPrefix(sigHeader, "sha256=")
	if !constantTimeEqual(expected, got) {
		return VerifyResult{}, ocxerr.SignatureInvalid()
	}

	delivery := r.Header.Get("X-GitHub-Delivery")
	if delivery == "" {
		return VerifyResult{}, ocxerr.Validation("missing X-GitHub-Delivery header")
	}

	return VerifyResult{
		Valid:     true,
		DedupKey:  delivery,
		EventType: r.Header.Get("X-GitHub-Event"),
	}, nil
}
