package sdk

import (
	"encoding/json"
	"time"
)

// RankedFunction mirrors internal/search.RankedFunction: one candidate
// returned from a function search, already scored and ranked.
type RankedFunction struct {
	Function Function `json:"function"`
	Score    float64  `json:"score"`
}

// SearchResult is the decoded response body of POST /v1/functions/search.
type SearchResult struct {
	Results []RankedFunction `json:"results"`
}

// ExecuteResult is the decoded response body of a function execute call.
type ExecuteResult struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
}

// App mirrors internal/catalog.App as exposed over the API. The server's
// response also carries auth_config, which this type does not decode.
type App struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description"`
	AuthMode    string   `json:"auth_mode"`
	Categories  []string `json:"categories"`
	Enabled     bool     `json:"enabled"`
}

// Function mirrors internal/catalog.Function as exposed over the API.
type Function struct {
	ID           int64    `json:"id"`
	AppName      string   `json:"app_name"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Tags         []string `json:"tags"`
	Method       string   `json:"method"`
	PathTemplate string   `json:"path_template"`
}

// LinkedAccount mirrors internal/catalog.LinkedAccount as exposed over the API.
type LinkedAccount struct {
	ID                   int64     `json:"id"`
	AppName              string    `json:"app_name"`
	LinkedAccountOwnerID string    `json:"linked_account_owner_id"`
	AuthMode             string    `json:"auth_mode"`
	Enabled              bool      `json:"enabled"`
	CreatedAt            time.Time `json:"created_at"`
}

// Trigger mirrors internal/catalog.Trigger as exposed over the API.
type Trigger struct {
	ID        string `json:"id"`
	AppName   string `json:"app_name"`
	EventType string `json:"event_type"`
	Status    string `json:"status"`
}

// Page mirrors internal/catalog.Page, the cursor-paginated list envelope
// every list endpoint returns.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}
