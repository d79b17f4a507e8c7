package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/gateway/internal/catalog"
	"github.com/ocx/gateway/internal/executor"
	"github.com/ocx/gateway/internal/ocxerr"
	"github.com/ocx/gateway/internal/search"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics() http.Handler {
	return promhttp.Handler()
}

// allowedApps resolves the set of app names the project has configured,
// narrowed to the caller's requested subset, so search and execution
// never reach an app the project never opted into.
func (s *Server) allowedApps(r *http.Request, projectID string, requested []string) ([]string, error) {
	configs, err := s.store.ListAppConfigurations(r.Context(), projectID)
	if err != nil {
		return nil, err
	}
	configured := make(map[string]bool, len(configs))
	for _, c := range configs {
		configured[c.AppName] = true
	}
	if len(requested) == 0 {
		out := make([]string, 0, len(configured))
		for name := range configured {
			out = append(out, name)
		}
		return out, nil
	}
	out := make([]string, 0, len(requested))
	for _, name := range requested {
		if configured[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

type searchFunctionsRequest struct {
	Query string   `json:"query"`
	Apps  []string `json:"apps"`
	Limit int      `json:"limit"`
}

func (s *Server) handleSearchFunctions(w http.ResponseWriter, r *http.Request) {
	project := projectFromContext(r.Context())
	agent := agentFromContext(r.Context())

	var body searchFunctionsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Query == "" {
		writeJSONError(w, http.StatusBadRequest, "query is required")
		return
	}

	requested := body.Apps
	if len(requested) == 0 {
		requested = agent.AllowedApps
	} else if len(agent.AllowedApps) > 0 {
		requested = intersect(requested, agent.AllowedApps)
	}

	allowed, err := s.allowedApps(r, project.ID, requested)
	if err != nil {
		s.logger.Printf("resolve allowed apps failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	results, err := s.search.Search(r.Context(), search.Request{
		ProjectID:   project.ID,
		Query:       body.Query,
		AllowedApps: allowed,
		Limit:       body.Limit,
	})
	if err != nil {
		s.logger.Printf("search failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if s.stash != nil {
		s.stash.Put(agent.ID, body.Query, results)
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// intersect returns the elements of requested that also appear in allowed,
// preserving requested's order.
func intersect(requested, allowed []string) []string {
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}
	out := make([]string, 0, len(requested))
	for _, r := range requested {
		if set[r] {
			out = append(out, r)
		}
	}
	return out
}

type feedbackRequest struct {
	Query      string `json:"query"`
	FunctionID int64  `json:"function_id"`
	Selected   bool   `json:"selected"`
	Rank       int    `json:"rank"`
}

func (s *Server) handleFunctionFeedback(w http.ResponseWriter, r *http.Request) {
	project := projectFromContext(r.Context())
	agent := agentFromContext(r.Context())

	var body feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.fbStore.RecordSearchFeedback(r.Context(), &catalog.FunctionSearchFeedback{
		ProjectID:    project.ID,
		AgentID:      agent.ID,
		Query:        body.Query,
		FunctionID:   body.FunctionID,
		Selected:     body.Selected,
		Rank:         body.Rank,
		FeedbackType: catalog.FeedbackTypeExplicitSelection,
		WasHelpful:   body.Selected,
	})
	if err != nil {
		s.logger.Printf("record feedback failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

type executeFunctionRequest struct {
	OwnerID string         `json:"owner_id"`
	Args    map[string]any `json:"args"`
}

func (s *Server) handleExecuteFunction(w http.ResponseWriter, r *http.Request) {
	project := projectFromContext(r.Context())
	agent := agentFromContext(r.Context())
	vars := mux.Vars(r)
	appName, fnName := vars["app_name"], vars["function_name"]

	var body executeFunctionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	app, err := s.store.GetApp(r.Context(), appName)
	if err != nil {
		s.logger.Printf("get app failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if app == nil || !app.Enabled {
		writeDomainError(w, ocxerr.NotFound("app"))
		return
	}

	// Configuration check (§4.5 step 2): the project must have opted this
	// app in. A configuration has no enabled flag of its own; per-function
	// enablement is checked once the function is resolved below.
	cfg, err := s.store.GetAppConfiguration(r.Context(), project.ID, appName)
	if err != nil {
		s.logger.Printf("get app configuration failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if cfg == nil {
		writeDomainError(w, ocxerr.NotAllowed("app configuration not found"))
		return
	}

	// Authorization (§4.5 step 3): an empty allowed_apps list means the
	// agent is unrestricted across every app the project has configured.
	if len(agent.AllowedApps) > 0 && !containsString(agent.AllowedApps, appName) {
		writeDomainError(w, ocxerr.NotAllowed("app not allowed for this agent"))
		return
	}

	fn, err := s.store.GetFunction(r.Context(), appName, fnName)
	if err != nil {
		s.logger.Printf("get function failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if fn == nil {
		writeDomainError(w, ocxerr.NotFound("function"))
		return
	}
	if !cfg.AllFunctionsEnabled && !containsString(cfg.EnabledFunctions, fnName) {
		writeDomainError(w, ocxerr.Disabled("function"))
		return
	}

	baseURL, _ := app.AuthConfig["base_url"].(string)
	if baseURL == "" {
		writeDomainError(w, ocxerr.Internal("app has no base_url configured", nil))
		return
	}

	result, err := s.executor.Execute(r.Context(), executor.Invocation{
		ProjectID: project.ID,
		AppName:   appName,
		OwnerID:   body.OwnerID,
		BaseURL:   baseURL,
		Function:  fn,
		Agent:     agent,
		Args:      body.Args,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status_code": result.StatusCode,
		"body":        json.RawMessage(rawOrQuoted(result.Body)),
	})
}

// rawOrQuoted returns body as-is when it's valid JSON, otherwise as a
// JSON-quoted string, so the response field is always parseable
// regardless of what the upstream API actually returned.
func rawOrQuoted(body []byte) []byte {
	if json.Valid(body) {
		return body
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	cursor, limit := paginationParams(r)
	page, err := s.store.ListApps(r.Context(), cursor, limit)
	if err != nil {
		s.logger.Printf("list apps failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleListFunctions(w http.ResponseWriter, r *http.Request) {
	appName := mux.Vars(r)["app_name"]
	cursor, limit := paginationParams(r)
	page, err := s.store.ListFunctions(r.Context(), appName, cursor, limit)
	if err != nil {
		s.logger.Printf("list functions failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type upsertAppConfigurationRequest struct {
	AllFunctionsEnabled bool           `json:"all_functions_enabled"`
	EnabledFunctions    []string       `json:"enabled_functions"`
	OAuth2ClientID      string         `json:"oauth2_client_id"`
	OAuth2ClientSecret  string         `json:"oauth2_client_secret"`
	Scopes              []string       `json:"scopes"`
	Extra               map[string]any `json:"extra"`
}

func (s *Server) handleUpsertAppConfiguration(w http.ResponseWriter, r *http.Request) {
	project := projectFromContext(r.Context())
	appName := mux.Vars(r)["app_name"]

	var body upsertAppConfigurationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := &catalog.AppConfiguration{
		ProjectID:           project.ID,
		AppName:             appName,
		AllFunctionsEnabled: body.AllFunctionsEnabled,
		EnabledFunctions:    body.EnabledFunctions,
		OAuth2ClientID:      body.OAuth2ClientID,
		OAuth2ClientSecret:  body.OAuth2ClientSecret,
		Scopes:              body.Scopes,
		Extra:               body.Extra,
	}
	if err := s.store.UpsertAppConfiguration(r.Context(), cfg); err != nil {
		s.logger.Printf("upsert app configuration failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDeleteAppConfiguration(w http.ResponseWriter, r *http.Request) {
	project := projectFromContext(r.Context())
	appName := mux.Vars(r)["app_name"]
	if err := s.store.DeleteAppConfiguration(r.Context(), project.ID, appName); err != nil {
		s.logger.Printf("delete app configuration failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListLinkedAccounts(w http.ResponseWriter, r *http.Request) {
	project := projectFromContext(r.Context())
	cursor, limit := paginationParams(r)
	page, err := s.store.ListLinkedAccounts(r.Context(), project.ID, cursor, limit)
	if err != nil {
		s.logger.Printf("list linked accounts failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type upsertLinkedAccountRequest struct {
	AuthMode    catalog.AuthMode `json:"auth_mode"`
	Credentials map[string]any   `json:"credentials"`
	Enabled     *bool            `json:"enabled"`
}

// handleUpsertLinkedAccount covers the no_auth and api_key auth modes,
// where credential material is supplied directly, and rejects oauth2 and
// oauth1. oauth2 accounts are created by the authorize/callback flow
// below; this server exposes no oauth1 authorize/callback flow.
func (s *Server) handleUpsertLinkedAccount(w http.ResponseWriter, r *http.Request) {
	project := projectFromContext(r.Context())
	vars := mux.Vars(r)
	appName, ownerID := vars["app_name"], vars["owner_id"]

	var body upsertLinkedAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.AuthMode == catalog.AuthModeOAuth2 || body.AuthMode == catalog.AuthModeOAuth1 {
		writeJSONError(w, http.StatusBadRequest, "oauth2/oauth1 accounts are created via the authorize flow, not this endpoint")
		return
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}

	acct := &catalog.LinkedAccount{
		ProjectID:            project.ID,
		AppName:              appName,
		LinkedAccountOwnerID: ownerID,
		AuthMode:             body.AuthMode,
		Enabled:              enabled,
		Credentials:          body.Credentials,
	}
	if err := s.store.UpsertLinkedAccount(r.Context(), acct); err != nil {
		s.logger.Printf("upsert linked account failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleDeleteLinkedAccount(w http.ResponseWriter, r *http.Request) {
	project := projectFromContext(r.Context())
	vars := mux.Vars(r)
	if err := s.store.DeleteLinkedAccount(r.Context(), project.ID, vars["app_name"], vars["owner_id"]); err != nil {
		s.logger.Printf("delete linked account failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOAuth2Authorize(w http.ResponseWriter, r *http.Request) {
	project := projectFromContext(r.Context())
	vars := mux.Vars(r)
	appName, ownerID := vars["app_name"], vars["owner_id"]

	app, err := s.store.GetApp(r.Context(), appName)
	if err != nil || app == nil {
		writeDomainError(w, ocxerr.NotFound("app"))
		return
	}
	cfg, err := s.store.GetAppConfiguration(r.Context(), project.ID, appName)
	if err != nil || cfg == nil {
		writeDomainError(w, ocxerr.NotFound("app configuration"))
		return
	}

	authURL, _ := app.AuthConfig["auth_url"].(string)
	tokenURL, _ := app.AuthConfig["token_url"].(string)

	url, err := s.oauth2.AuthorizeURL(cfg, appName, project.ID, ownerID, authURL, tokenURL)
	if err != nil {
		s.logger.Printf("build oauth2 authorize url failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authorize_url": url})
}

func (s *Server) handleOAuth2Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeJSONError(w, http.StatusBadRequest, "missing code or state")
		return
	}

	claims, err := s.oauth2.ParseState(state)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid state")
		return
	}

	app, err := s.store.GetApp(r.Context(), claims.AppName)
	if err != nil || app == nil {
		writeDomainError(w, ocxerr.NotFound("app"))
		return
	}
	cfg, err := s.store.GetAppConfiguration(r.Context(), claims.ProjectID, claims.AppName)
	if err != nil || cfg == nil {
		writeDomainError(w, ocxerr.NotFound("app configuration"))
		return
	}

	authURL, _ := app.AuthConfig["auth_url"].(string)
	tokenURL, _ := app.AuthConfig["token_url"].(string)

	tok, err := s.oauth2.ExchangeCode(r.Context(), cfg, claims.AppName, authURL, tokenURL, code, claims.Verifier)
	if err != nil {
		s.logger.Printf("exchange oauth2 code failed: %v", err)
		writeJSONError(w, http.StatusBadGateway, "oauth2 exchange failed")
		return
	}

	acct := &catalog.LinkedAccount{
		ProjectID:            claims.ProjectID,
		AppName:              claims.AppName,
		LinkedAccountOwnerID: claims.OwnerID,
		AuthMode:             catalog.AuthModeOAuth2,
		Enabled:              true,
		Credentials: map[string]any{
			"access_token":  tok.AccessToken,
			"refresh_token": tok.RefreshToken,
			"expiry":        tok.Expiry.Format(time.RFC3339),
			"client_id":     cfg.OAuth2ClientID,
			"client_secret": cfg.OAuth2ClientSecret,
			"token_url":     tokenURL,
		},
	}
	if err := s.store.UpsertLinkedAccount(r.Context(), acct); err != nil {
		s.logger.Printf("persist oauth2 linked account failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}

type createTriggerRequest struct {
	AppName     string `json:"app_name"`
	OwnerID     string `json:"owner_id"`
	EventType   string `json:"event_type"`
	CallbackURL string `json:"callback_url"`
}

func (s *Server) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	project := projectFromContext(r.Context())

	var body createTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	trig, err := s.triggers.Create(r.Context(), project.ID, body.AppName, body.OwnerID, body.EventType, body.CallbackURL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trig)
}

func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	project := projectFromContext(r.Context())
	cursor, limit := paginationParams(r)
	page, err := s.triggers.List(r.Context(), project.ID, cursor, limit)
	if err != nil {
		s.logger.Printf("list triggers failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	project := projectFromContext(r.Context())
	triggerID := mux.Vars(r)["trigger_id"]
	if err := s.triggers.Delete(r.Context(), project.ID, triggerID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func paginationParams(r *http.Request) (catalog.Cursor, int) {
	cursor := catalog.Cursor(r.URL.Query().Get("cursor"))
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	return cursor, limit
}
