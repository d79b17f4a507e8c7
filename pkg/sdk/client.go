// Package sdk is the Go client library for the gateway's agent-facing
// API. An agent embeds this instead of hand-rolling HTTP calls against
// /v1: it carries the API key, the base URL, and typed request/response
// shapes for function search, execution, and account/trigger management.
//
// Quick start:
//
//	client := sdk.NewClient(sdk.Config{
//	    BaseURL: "https://gateway.example.com",
//	    APIKey:  os.Getenv("OCX_API_KEY"),
//	})
//
//	results, err := client.SearchFunctions(ctx, sdk.SearchFunctionsRequest{
//	    Query: "create a github issue",
//	})
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the SDK client configuration.
type Config struct {
	// BaseURL is the gateway's address, e.g. "https://gateway.example.com".
	BaseURL string

	// APIKey authenticates every request as a single Agent.
	APIKey string

	// Timeout bounds each HTTP call (default 30s).
	Timeout time.Duration

	// HTTPClient overrides the client used to make requests; mainly for tests.
	HTTPClient *http.Client
}

// Client is the gateway API client. One Client instance is scoped to one
// Agent's API key and is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ocx-sdk: marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("ocx-sdk: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ocx-sdk: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ocx-sdk: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &apiErr)
		if apiErr.Error == "" {
			apiErr.Error = string(respBody)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("ocx-sdk: decode response: %w", err)
	}
	return nil
}

// APIError is returned for any non-2xx gateway response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ocx-sdk: gateway returned %d: %s", e.StatusCode, e.Message)
}

// SearchFunctionsRequest is the body of POST /v1/functions/search.
type SearchFunctionsRequest struct {
	Query string   `json:"query"`
	Apps  []string `json:"apps,omitempty"`
	Limit int      `json:"limit,omitempty"`
}

// SearchFunctions finds candidate functions for a natural-language query,
// narrowed to the project's linked apps.
func (c *Client) SearchFunctions(ctx context.Context, req SearchFunctionsRequest) ([]RankedFunction, error) {
	var out SearchResult
	if err := c.do(ctx, http.MethodPost, "/v1/functions/search", req, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// ExecuteFunction invokes appName/functionName against ownerID's linked
// account, with args split across path/query/header/body per the
// function's parameter schema.
func (c *Client) ExecuteFunction(ctx context.Context, appName, functionName, ownerID string, args map[string]any) (*ExecuteResult, error) {
	req := map[string]any{"owner_id": ownerID, "args": args}
	var out ExecuteResult
	path := fmt.Sprintf("/v1/functions/%s/%s/execute", url.PathEscape(appName), url.PathEscape(functionName))
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordFeedback reports whether a search result was actually used, to
// improve ranking over time.
func (c *Client) RecordFeedback(ctx context.Context, query string, functionID int64, selected bool, rank int) error {
	req := map[string]any{"query": query, "function_id": functionID, "selected": selected, "rank": rank}
	return c.do(ctx, http.MethodPost, "/v1/functions/feedback", req, nil)
}

// ListApps returns the apps configured for the caller's project.
func (c *Client) ListApps(ctx context.Context, cursor string, limit int) (*Page[App], error) {
	var out Page[App]
	path := "/v1/apps" + pageQuery(cursor, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListFunctions returns appName's functions.
func (c *Client) ListFunctions(ctx context.Context, appName, cursor string, limit int) (*Page[Function], error) {
	var out Page[Function]
	path := fmt.Sprintf("/v1/apps/%s/functions%s", url.PathEscape(appName), pageQuery(cursor, limit))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpsertLinkedAccountRequest is the body of PUT /v1/linked-accounts/{app}/{owner}.
// Only no_auth and api_key modes go through this call; oauth2 accounts
// are linked via OAuth2AuthorizeURL below, and the SDK has no oauth1
// linking call.
type UpsertLinkedAccountRequest struct {
	AuthMode    string         `json:"auth_mode"`
	Credentials map[string]any `json:"credentials"`
	Enabled     *bool          `json:"enabled,omitempty"`
}

// UpsertLinkedAccount creates or updates a no_auth/api_key linked account.
func (c *Client) UpsertLinkedAccount(ctx context.Context, appName, ownerID string, req UpsertLinkedAccountRequest) (*LinkedAccount, error) {
	var out LinkedAccount
	path := fmt.Sprintf("/v1/linked-accounts/%s/%s", url.PathEscape(appName), url.PathEscape(ownerID))
	if err := c.do(ctx, http.MethodPut, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OAuth2AuthorizeURL fetches the URL the end user should be redirected to
// in order to link appName/ownerID via OAuth2.
func (c *Client) OAuth2AuthorizeURL(ctx context.Context, appName, ownerID string) (string, error) {
	var out struct {
		AuthorizeURL string `json:"authorize_url"`
	}
	path := fmt.Sprintf("/v1/linked-accounts/%s/%s/oauth2/authorize", url.PathEscape(appName), url.PathEscape(ownerID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.AuthorizeURL, nil
}

// CreateTriggerRequest is the body of POST /v1/triggers.
type CreateTriggerRequest struct {
	AppName              string `json:"app_name"`
	LinkedAccountOwnerID string `json:"owner_id"`
	EventType            string `json:"event_type"`
}

// CreateTrigger subscribes the project to appName's eventType stream for
// ownerID's linked account.
func (c *Client) CreateTrigger(ctx context.Context, req CreateTriggerRequest) (*Trigger, error) {
	var out Trigger
	if err := c.do(ctx, http.MethodPost, "/v1/triggers", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTriggers returns the project's trigger subscriptions.
func (c *Client) ListTriggers(ctx context.Context, cursor string, limit int) (*Page[Trigger], error) {
	var out Page[Trigger]
	path := "/v1/triggers" + pageQuery(cursor, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteTrigger cancels a trigger subscription.
func (c *Client) DeleteTrigger(ctx context.Context, triggerID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/triggers/"+url.PathEscape(triggerID), nil, nil)
}

func pageQuery(cursor string, limit int) string {
	v := url.Values{}
	if cursor != "" {
		v.Set("cursor", cursor)
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}
