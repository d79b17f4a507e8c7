// Package catalog holds the gateway's entity definitions and the storage
// interface every other component (search, credentials, executor, triggers)
// reads and writes through.
package catalog

import "time"

// AuthMode enumerates the credential brokerage strategies an App can use.
type AuthMode string

const (
	AuthModeNoAuth AuthMode = "no_auth"
	AuthModeAPIKey AuthMode = "api_key"
	AuthModeOAuth2 AuthMode = "oauth2"
	AuthModeOAuth1 AuthMode = "oauth1"
)

// App is a third-party API surface (e.g. "github", "slack") available to
// be linked into a project and invoked by agents.
type App struct {
	Name         string         `json:"name"`
	DisplayName  string         `json:"display_name"`
	Description  string         `json:"description"`
	AuthMode     AuthMode       `json:"auth_mode"`
	AuthConfig   map[string]any `json:"auth_config"`
	Categories   []string       `json:"categories"`
	Enabled      bool           `json:"enabled"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Function is a single invokable operation exposed by an App, expressed as
// a REST template plus JSON-schema-style parameter definitions.
type Function struct {
	ID             int64          `json:"id"`
	AppName        string         `json:"app_name"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Tags           []string       `json:"tags"`
	Method         string         `json:"method"`
	PathTemplate   string         `json:"path_template"`
	// Headers are protocol_data default headers (e.g. a fixed
	// Content-Type) merged under whatever headers the caller supplies;
	// caller-supplied values win on key collision.
	Headers        map[string]string `json:"headers,omitempty"`
	Parameters     []Parameter    `json:"parameters"`
	Visible        bool           `json:"visible"`
	Embedding      []float32      `json:"-"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Parameter is one argument of a Function, tagged with where in the HTTP
// request it belongs so the executor can split a flat argument map.
type Parameter struct {
	Name        string `json:"name"`
	Location    string `json:"location"` // path | query | header | cookie | body
	Type        string `json:"type"`     // string | number | boolean | array | object | file
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// AppConfiguration is a project's opt-in to an App, carrying the project's
// own OAuth2 client credentials or static API key when it supplies its own.
type AppConfiguration struct {
	ID               int64          `json:"id"`
	ProjectID        string         `json:"project_id"`
	AppName          string         `json:"app_name"`
	AllFunctionsEnabled bool        `json:"all_functions_enabled"`
	EnabledFunctions []string       `json:"enabled_functions"`
	OAuth2ClientID   string         `json:"oauth2_client_id,omitempty"`
	OAuth2ClientSecret string       `json:"-"`
	Scopes           []string       `json:"scopes"`
	Extra            map[string]any `json:"extra,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// LinkedAccount binds one agent's end-user identity to an App, holding the
// broker-managed credential material for that (project, app, linked_account)
// triple.
type LinkedAccount struct {
	ID               int64          `json:"id"`
	ProjectID        string         `json:"project_id"`
	AppName          string         `json:"app_name"`
	LinkedAccountOwnerID string     `json:"linked_account_owner_id"`
	AuthMode         AuthMode       `json:"auth_mode"`
	Enabled          bool           `json:"enabled"`
	Credentials      map[string]any `json:"-"` // stored as a JSON column; never serialized to API responses
	LastRefreshedAt  *time.Time     `json:"last_refreshed_at,omitempty"`
	LastUsedAt       *time.Time     `json:"last_used_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Agent is an API-key-authenticated caller of the gateway, scoped to a
// single Project.
type Agent struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Name        string    `json:"name"`
	APIKeyHash  string    `json:"-"`
	Disabled    bool      `json:"disabled"`
	// AllowedApps restricts which apps this agent may search/execute
	// against; empty means no restriction (every app the project has
	// configured is reachable).
	AllowedApps []string `json:"allowed_apps,omitempty"`
	// CustomInstructions maps a function name to an operator-supplied
	// instruction string consulted by the executor's instruction policy
	// before composing that function's request.
	CustomInstructions map[string]string `json:"custom_instructions,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// Project is the tenant boundary: every App/LinkedAccount/Agent/Trigger
// row is scoped to exactly one project_id.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TriggerStatus enumerates the lifecycle states of a Trigger registration.
type TriggerStatus string

const (
	TriggerStatusPending TriggerStatus = "pending"
	TriggerStatusActive  TriggerStatus = "active"
	TriggerStatusExpired TriggerStatus = "expired"
	TriggerStatusFailed  TriggerStatus = "failed"
)

// Trigger is an agent's subscription to a provider event stream, delivered
// to the gateway's webhook receiver and normalized before being queued.
type Trigger struct {
	ID               string         `json:"id"`
	ProjectID        string         `json:"project_id"`
	AppName          string         `json:"app_name"`
	LinkedAccountOwnerID string     `json:"linked_account_owner_id"`
	EventType        string         `json:"event_type"`
	Status           TriggerStatus  `json:"status"`
	ProviderSubscriptionID string   `json:"provider_subscription_id,omitempty"`
	Secret           string         `json:"-"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"`
	RegistrationAttempts int        `json:"registration_attempts"`
	CallbackURL      string         `json:"callback_url"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// TriggerEvent is one normalized delivery recorded for dedup and replay.
type TriggerEvent struct {
	ID           int64     `json:"id"`
	TriggerID    string    `json:"trigger_id"`
	DedupKey     string    `json:"dedup_key"`
	Payload      []byte    `json:"-"`
	ReceivedAt   time.Time `json:"received_at"`
	EnqueuedAt   *time.Time `json:"enqueued_at,omitempty"`
}

// OAuth1TempToken stores the unauthorized request token between the
// "request token" and "access token" steps of the OAuth 1.0a dance.
type OAuth1TempToken struct {
	ID               int64     `json:"id"`
	ProjectID        string    `json:"project_id"`
	AppName          string    `json:"app_name"`
	LinkedAccountOwnerID string `json:"linked_account_owner_id"`
	RequestToken     string    `json:"request_token"`
	RequestTokenSecret string  `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// FunctionSearchFeedback is one implicit or explicit relevance signal
// recorded against a search result, consumed by the reranker's future
// training passes (out of scope here, but the table is the write side).
// Explicit feedback (FeedbackTypeExplicitSelection) comes from an agent
// reporting which result it picked; implicit feedback
// (FeedbackTypeImplicitExecution) comes from the executor noticing a
// function it just ran was also a recent search result.
type FunctionSearchFeedback struct {
	ID           int64     `json:"id"`
	ProjectID    string    `json:"project_id"`
	AgentID      string    `json:"agent_id"`
	Query        string    `json:"query"`
	FunctionID   int64     `json:"function_id"`
	Selected     bool      `json:"selected"`
	Rank         int       `json:"rank"`
	FeedbackType string    `json:"feedback_type"`
	WasHelpful   bool      `json:"was_helpful"`
	CreatedAt    time.Time `json:"created_at"`
}

const (
	FeedbackTypeExplicitSelection = "explicit_selection"
	FeedbackTypeImplicitExecution = "implicit_execution"
)

// Cursor is an opaque pagination token. The Postgres store encodes it as
// base64(last_seen_id), matching the "page by primary key" convention used
// throughout the rest of this codebase's list endpoints.
type Cursor string

// Page is a single page of T plus the cursor to fetch the next one (empty
// when this was the last page).
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor Cursor `json:"next_cursor,omitempty"`
}
