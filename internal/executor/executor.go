// Package executor composes and dispatches the actual third-party HTTP
// request for a resolved Function call, splitting the agent-supplied
// flat argument map across path, query, header, cookie and body
// locations and encoding the body per its content type.
package executor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ocx/gateway/internal/catalog"
	"github.com/ocx/gateway/internal/credentials"
	"github.com/ocx/gateway/internal/ocxerr"
	"github.com/ocx/gateway/internal/search"
)

// Executor composes and performs the upstream HTTP call for a Function
// invocation, injecting whatever credential material the broker resolves
// for the request's linked account.
type Executor struct {
	broker            *credentials.Broker
	quota             catalog.QuotaEnforcer
	instructionPolicy catalog.InstructionPolicy
	store             catalog.Store
	fbStore           catalog.FeedbackStore
	stash             *search.StashStore
	httpClient        *http.Client
	logger            *log.Logger
}

func New(broker *credentials.Broker) *Executor {
	return &Executor{
		broker:            broker,
		quota:             catalog.NoopQuotaEnforcer{},
		instructionPolicy: catalog.NoopInstructionPolicy{},
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy:       http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		},
		logger: log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags),
	}
}

// WithQuotaEnforcer overrides the default no-op quota check, letting a
// deployment plug in real plan/billing enforcement without touching the
// request-composition path.
func (e *Executor) WithQuotaEnforcer(q catalog.QuotaEnforcer) *Executor {
	e.quota = q
	return e
}

// WithInstructionPolicy overrides the default no-op custom-instructions
// check consulted before composing a function's request.
func (e *Executor) WithInstructionPolicy(p catalog.InstructionPolicy) *Executor {
	e.instructionPolicy = p
	return e
}

// WithPostHooks wires the dependencies step 9 needs: stamping
// linked_account.last_used_at and recording implicit search feedback when
// this execution's function was part of the agent's most recent search.
// Both stay nil (post-hooks become no-ops) until wired, so existing
// New(broker) call sites keep working untouched.
func (e *Executor) WithPostHooks(store catalog.Store, fbStore catalog.FeedbackStore, stash *search.StashStore) *Executor {
	e.store = store
	e.fbStore = fbStore
	e.stash = stash
	return e
}

// Invocation is one resolved call: the Function definition, the base URL
// of the target App, and the agent-supplied flat argument map.
type Invocation struct {
	ProjectID string
	AppName   string
	OwnerID   string
	BaseURL   string
	Function  *catalog.Function
	Agent     *catalog.Agent
	Args      map[string]any
}

// Result is the upstream response, passed back to the agent largely
// unmodified.
type Result struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// fileLikeBodyKeys are the body keys the content-type router treats as
// attachments even when their value isn't a long base64 string.
var fileLikeBodyKeys = map[string]bool{"attachment": true, "file": true, "upload": true}

// Execute composes the request per inv.Function's parameter locations,
// injects credentials, performs the call, and returns the raw response.
func (e *Executor) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	if err := catalog.ValidateManifest(inv.Function); err != nil {
		return nil, err
	}
	if err := e.quota.CheckQuota(ctx, inv.ProjectID); err != nil {
		return nil, err
	}
	if inv.Agent != nil && len(inv.Agent.CustomInstructions) > 0 {
		if instructions, ok := inv.Agent.CustomInstructions[inv.Function.Name]; ok {
			if err := e.instructionPolicy.Check(ctx, inv.Agent.ID, inv.Function.Name, instructions); err != nil {
				return nil, err
			}
		}
	}

	pathParams := map[string]string{}
	queryParams := url.Values{}
	headerParams := map[string]string{}
	cookieParams := map[string]string{}
	bodyParams := map[string]any{}

	for _, p := range inv.Function.Parameters {
		v, present := inv.Args[p.Name]
		if !present {
			if p.Required {
				return nil, ocxerr.Validation(fmt.Sprintf("missing required parameter %q", p.Name))
			}
			continue
		}
		switch p.Location {
		case "path":
			pathParams[p.Name] = fmt.Sprintf("%v", v)
		case "query":
			addQueryValue(queryParams, p.Name, v)
		case "header":
			headerParams[p.Name] = fmt.Sprintf("%v", v)
		case "cookie":
			cookieParams[p.Name] = fmt.Sprintf("%v", v)
		case "body":
			bodyParams[p.Name] = v
		}
	}

	path, err := fillPathTemplate(inv.Function.PathTemplate, pathParams)
	if err != nil {
		return nil, err
	}

	fullURL := strings.TrimRight(inv.BaseURL, "/") + path
	if len(queryParams) > 0 {
		fullURL += "?" + queryParams.Encode()
	}

	// protocol_data.headers are the manifest's defaults; whatever the
	// caller supplied as header-location parameters wins on collision.
	mergedHeaders := map[string]string{}
	for k, v := range inv.Function.Headers {
		mergedHeaders[k] = v
	}
	for k, v := range headerParams {
		mergedHeaders[k] = v
	}
	ctHeader, hasCT := headerLookup(mergedHeaders, "Content-Type")
	ctLower := strings.ToLower(ctHeader)

	var bodyReader io.Reader
	var contentType string
	var formBodyParams map[string]string // used only for OAuth1 signing

	if len(bodyParams) > 0 {
		switch {
		case strings.Contains(ctLower, "multipart/form-data") || (!hasCT && hasAttachmentLikeKey(bodyParams)):
			r, ct, err := buildMultipartBody(bodyParams)
			if err != nil {
				return nil, err
			}
			bodyReader = r
			contentType = ct

		case strings.Contains(ctLower, "application/x-www-form-urlencoded"):
			form := url.Values{}
			formBodyParams = map[string]string{}
			for k, v := range bodyParams {
				s := fmt.Sprintf("%v", v)
				form.Set(k, s)
				formBodyParams[k] = s
			}
			bodyReader = strings.NewReader(form.Encode())
			contentType = "application/x-www-form-urlencoded"

		default:
			raw, err := json.Marshal(bodyParams)
			if err != nil {
				return nil, fmt.Errorf("marshal json body: %w", err)
			}
			bodyReader = bytes.NewReader(raw)
			contentType = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, inv.Function.Method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range mergedHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range cookieParams {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}
	// The computed body encoding always wins over whatever Content-Type
	// the manifest or caller supplied, so a multipart boundary never gets
	// stomped by a stale preset header.
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	injection, err := e.broker.Resolve(ctx, inv.ProjectID, inv.AppName, inv.OwnerID)
	if err != nil {
		return nil, err
	}
	for k, v := range injection.Headers {
		req.Header.Set(k, v)
	}
	if len(injection.QueryParams) > 0 {
		q := req.URL.Query()
		for k, v := range injection.QueryParams {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}
	if injection.SignFunc != nil {
		authHeader, err := injection.SignFunc(req.Method, req.URL.String(), formBodyParams)
		if err != nil {
			return nil, ocxerr.OAuth1("sign request", err)
		}
		req.Header.Set("Authorization", authHeader)
	}

	resp, doErr := e.httpClient.Do(req)
	if doErr != nil {
		e.runPostHooks(ctx, inv, false)
		return nil, fmt.Errorf("execute upstream request: %w", doErr)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		e.runPostHooks(ctx, inv, false)
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	e.logger.Printf("executed function app=%s fn=%s status=%d", inv.AppName, inv.Function.Name, resp.StatusCode)

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	e.runPostHooks(ctx, inv, success)

	return &Result{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

// runPostHooks implements step 9: stamp linked_account.last_used_at and,
// when this function was part of the agent's most recently stashed search
// results, record implicit relevance feedback. Both are best-effort —
// neither failure is allowed to fail an otherwise-completed execution.
func (e *Executor) runPostHooks(ctx context.Context, inv Invocation, success bool) {
	if e.store != nil && inv.OwnerID != "" {
		if err := e.store.TouchLinkedAccountLastUsed(ctx, inv.ProjectID, inv.AppName, inv.OwnerID, time.Now()); err != nil {
			e.logger.Printf("touch linked account last_used_at failed: %v", err)
		}
	}
	if e.stash == nil || e.fbStore == nil || inv.Agent == nil {
		return
	}
	stashed, ok := e.stash.Take(inv.Agent.ID)
	if !ok {
		return
	}
	for rank, rf := range stashed.Results {
		if rf.Function.AppName != inv.AppName || rf.Function.Name != inv.Function.Name {
			continue
		}
		fb := &catalog.FunctionSearchFeedback{
			ProjectID:    inv.ProjectID,
			AgentID:      inv.Agent.ID,
			Query:        stashed.Query,
			FunctionID:   rf.Function.ID,
			Rank:         rank,
			FeedbackType: catalog.FeedbackTypeImplicitExecution,
			WasHelpful:   success,
		}
		if err := e.fbStore.RecordSearchFeedback(ctx, fb); err != nil {
			e.logger.Printf("record implicit feedback failed: %v", err)
		}
		return
	}
}

func addQueryValue(q url.Values, name string, v any) {
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			q.Add(name, fmt.Sprintf("%v", item))
		}
	default:
		q.Set(name, fmt.Sprintf("%v", v))
	}
}

func fillPathTemplate(tmpl string, params map[string]string) (string, error) {
	var b strings.Builder
	i := 0
	for i < len(tmpl) {
		if tmpl[i] == '{' {
			end := strings.IndexByte(tmpl[i:], '}')
			if end == -1 {
				return "", ocxerr.Internal("unterminated path template placeholder", nil)
			}
			name := tmpl[i+1 : i+end]
			val, ok := params[name]
			if !ok {
				return "", ocxerr.Validation(fmt.Sprintf("missing path parameter %q", name))
			}
			b.WriteString(url.PathEscape(val))
			i += end + 1
		} else {
			b.WriteByte(tmpl[i])
			i++
		}
	}
	return b.String(), nil
}

// headerLookup is a case-insensitive lookup against a plain
// map[string]string, since HTTP header names are case-insensitive but the
// manifest/caller maps aren't canonicalized the way http.Header is.
func headerLookup(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func hasAttachmentLikeKey(body map[string]any) bool {
	for k := range fileLikeBodyKeys {
		if _, ok := body[k]; ok {
			return true
		}
	}
	return false
}

// buildMultipartBody encodes body as multipart/form-data: entries whose
// key is one of the attachment-like names, or whose string value is
// longer than 100 chars, are attempted as base64-encoded file content;
// everything else becomes a plain form field. A value that looks
// file-like but isn't valid base64 falls back to a plain field rather
// than failing the whole request.
func buildMultipartBody(body map[string]any) (io.Reader, string, error) {
	filename := "file"
	if v, ok := body["filename"].(string); ok && v != "" {
		filename = v
	}

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for k, v := range body {
		if k == "filename" {
			continue
		}
		if s, ok := v.(string); ok && (fileLikeBodyKeys[k] || len(s) > 100) {
			if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
				part, err := mw.CreateFormFile(k, filename)
				if err != nil {
					return nil, "", fmt.Errorf("create multipart file part: %w", err)
				}
				if _, err := part.Write(raw); err != nil {
					return nil, "", fmt.Errorf("write multipart file part: %w", err)
				}
				continue
			}
		}
		if err := mw.WriteField(k, fmt.Sprintf("%v", v)); err != nil {
			return nil, "", fmt.Errorf("write multipart field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf, mw.FormDataContentType(), nil
}
