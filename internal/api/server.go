package api

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ocx/gateway/internal/catalog"
	"github.com/ocx/gateway/internal/credentials"
	"github.com/ocx/gateway/internal/executor"
	"github.com/ocx/gateway/internal/metrics"
	"github.com/ocx/gateway/internal/ratelimit"
	"github.com/ocx/gateway/internal/search"
	"github.com/ocx/gateway/internal/triggers"
	"github.com/ocx/gateway/internal/webhookreceiver"
)

// Server exposes the agent-facing REST surface: function discovery,
// execution, linked-account and app-configuration management, and
// trigger subscription management, all scoped by the calling Agent's
// API key.
type Server struct {
	store       catalog.Store
	fbStore     catalog.FeedbackStore
	search      *search.Engine
	stash       *search.StashStore
	broker      *credentials.Broker
	oauth2      *credentials.OAuth2Manager
	executor    *executor.Executor
	triggers    *triggers.Service
	limiter     ratelimit.Checker
	collector   *metrics.Collector
	prom        *metrics.PrometheusExporter
	webhookRecv *webhookreceiver.Receiver
	corsOrigins []string
	logger      *log.Logger
}

type Dependencies struct {
	Store        catalog.Store
	FeedbackStore catalog.FeedbackStore
	Search       *search.Engine
	Stash        *search.StashStore
	Broker       *credentials.Broker
	OAuth2       *credentials.OAuth2Manager
	Executor     *executor.Executor
	Triggers     *triggers.Service
	Limiter      ratelimit.Checker
	Collector    *metrics.Collector
	Prom         *metrics.PrometheusExporter
	WebhookRecv  *webhookreceiver.Receiver
	CORSOrigins  []string
}

func NewServer(deps Dependencies) *Server {
	return &Server{
		store:       deps.Store,
		fbStore:     deps.FeedbackStore,
		search:      deps.Search,
		stash:       deps.Stash,
		broker:      deps.Broker,
		oauth2:      deps.OAuth2,
		executor:    deps.Executor,
		triggers:    deps.Triggers,
		limiter:     deps.Limiter,
		collector:   deps.Collector,
		prom:        deps.Prom,
		webhookRecv: deps.WebhookRecv,
		corsOrigins: deps.CORSOrigins,
		logger:      log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.corsMiddleware)
	r.Use(s.metricsMiddleware)

	// Webhook receiver is mounted unauthenticated — providers don't carry
	// our API keys, only their own signatures.
	s.webhookRecv.RegisterRoutes(r)

	auth := r.PathPrefix("/v1").Subrouter()
	auth.Use(s.authMiddleware)
	auth.Use(s.rateLimitMiddleware)

	auth.HandleFunc("/functions/search", s.handleSearchFunctions).Methods(http.MethodPost)
	auth.HandleFunc("/functions/{app_name}/{function_name}/execute", s.handleExecuteFunction).Methods(http.MethodPost)
	auth.HandleFunc("/functions/{app_name}/{function_name}/feedback", s.handleFunctionFeedback).Methods(http.MethodPost)

	auth.HandleFunc("/apps", s.handleListApps).Methods(http.MethodGet)
	auth.HandleFunc("/apps/{app_name}/functions", s.handleListFunctions).Methods(http.MethodGet)
	auth.HandleFunc("/apps/{app_name}/configuration", s.handleUpsertAppConfiguration).Methods(http.MethodPut)
	auth.HandleFunc("/apps/{app_name}/configuration", s.handleDeleteAppConfiguration).Methods(http.MethodDelete)

	auth.HandleFunc("/linked-accounts", s.handleListLinkedAccounts).Methods(http.MethodGet)
	auth.HandleFunc("/linked-accounts/{app_name}/{owner_id}", s.handleUpsertLinkedAccount).Methods(http.MethodPut)
	auth.HandleFunc("/linked-accounts/{app_name}/{owner_id}", s.handleDeleteLinkedAccount).Methods(http.MethodDelete)
	auth.HandleFunc("/linked-accounts/{app_name}/{owner_id}/oauth2/authorize", s.handleOAuth2Authorize).Methods(http.MethodGet)

	auth.HandleFunc("/triggers", s.handleListTriggers).Methods(http.MethodGet)
	auth.HandleFunc("/triggers", s.handleCreateTrigger).Methods(http.MethodPost)
	auth.HandleFunc("/triggers/{trigger_id}", s.handleDeleteTrigger).Methods(http.MethodDelete)

	r.HandleFunc("/oauth2/callback", s.handleOAuth2Callback).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	return r
}

func (s *Server) Start(port string) error {
	addr := fmt.Sprintf(":%s", port)
	s.logger.Printf("gateway API listening on %s", addr)
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.corsOrigins) > 0 {
			origin = s.corsOrigins[0]
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := routeTemplate(r)
		elapsed := time.Since(start)
		isError := sw.status >= 400

		s.collector.Record(r.Method+" "+route, elapsed, isError)
		if s.prom != nil {
			s.prom.ObserveRequest(route, r.Method, fmt.Sprintf("%d", sw.status), elapsed)
		}
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
