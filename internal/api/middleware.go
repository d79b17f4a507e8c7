package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/ocx/gateway/internal/catalog"
)

type contextKey string

const (
	ctxKeyAgent   contextKey = "agent"
	ctxKeyProject contextKey = "project"
)

// authMiddleware resolves the bearer API key in the Authorization header
// to an Agent and its Project, rejecting disabled agents and keys that
// don't hash to a known agent. API keys are high-entropy random tokens,
// so a plain SHA-256 digest is looked up directly rather than bcrypt's
// salted-compare-per-candidate scheme, which only pays for itself against
// low-entropy secrets.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		key := strings.TrimPrefix(header, "Bearer ")
		if key == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		sum := sha256.Sum256([]byte(key))
		hash := hex.EncodeToString(sum[:])

		agent, err := s.store.GetAgentByAPIKeyHash(r.Context(), hash)
		if err != nil {
			s.logger.Printf("api key lookup failed: %v", err)
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if agent == nil || agent.Disabled {
			writeJSONError(w, http.StatusUnauthorized, "invalid api key")
			return
		}

		project, err := s.store.GetProject(r.Context(), agent.ProjectID)
		if err != nil || project == nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid api key")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyAgent, agent)
		ctx = context.WithValue(ctx, ctxKeyProject, project)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent := agentFromContext(r.Context())
		key := "agent:" + agent.ID
		decision := s.limiter.Check(key)
		if !decision.Allowed {
			w.Header().Set("Retry-After", decision.RetryAfter.String())
			if s.prom != nil {
				s.prom.ObserveRateLimitRejection(key)
			}
			writeJSONError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func agentFromContext(ctx context.Context) *catalog.Agent {
	agent, _ := ctx.Value(ctxKeyAgent).(*catalog.Agent)
	return agent
}

func projectFromContext(ctx context.Context) *catalog.Project {
	project, _ := ctx.Value(ctxKeyProject).(*catalog.Project)
	return project
}
