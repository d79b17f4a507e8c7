package catalog

import (
	"context"
	"fmt"
	"time"

	supabase "github.com/supabase-community/supabase-go"
)

// SupabaseFeedbackStore backs the FeedbackStore interface with Supabase's
// fluent CRUD client. These tables have no ranked-search or transactional
// requirement, so they stay on the simpler client instead of raw SQL.
type SupabaseFeedbackStore struct {
	client *supabase.Client
}

// NewSupabaseFeedbackStore dials url with the service-role key.
func NewSupabaseFeedbackStore(url, serviceKey string) (*SupabaseFeedbackStore, error) {
	if url == "" || serviceKey == "" {
		return nil, fmt.Errorf("supabase url and service key must both be set")
	}
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseFeedbackStore{client: client}, nil
}

// searchFeedbackRow is the wire shape for the function_search_feedback
// table; FunctionSearchFeedback.ID is populated by Postgres on insert.
type searchFeedbackRow struct {
	ID           int64     `json:"id,omitempty"`
	ProjectID    string    `json:"project_id"`
	AgentID      string    `json:"agent_id"`
	Query        string    `json:"query"`
	FunctionID   int64     `json:"function_id"`
	Selected     bool      `json:"selected"`
	Rank         int       `json:"rank"`
	FeedbackType string    `json:"feedback_type"`
	WasHelpful   bool      `json:"was_helpful"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

func (s *SupabaseFeedbackStore) RecordSearchFeedback(ctx context.Context, fb *FunctionSearchFeedback) error {
	row := searchFeedbackRow{
		ProjectID:    fb.ProjectID,
		AgentID:      fb.AgentID,
		Query:        fb.Query,
		FunctionID:   fb.FunctionID,
		Selected:     fb.Selected,
		Rank:         fb.Rank,
		FeedbackType: fb.FeedbackType,
		WasHelpful:   fb.WasHelpful,
	}
	var result []searchFeedbackRow
	_, err := s.client.From("function_search_feedback").
		Insert(row, false, "", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("record search feedback: %w", err)
	}
	return nil
}

func (s *SupabaseFeedbackStore) ListSearchFeedback(ctx context.Context, projectID string, limit int) ([]FunctionSearchFeedback, error) {
	var rows []searchFeedbackRow
	_, err := s.client.From("function_search_feedback").
		Select("*", "", false).
		Eq("project_id", projectID).
		Limit(limit, "").
		Order("created_at", nil).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("list search feedback: %w", err)
	}

	out := make([]FunctionSearchFeedback, len(rows))
	for i, r := range rows {
		out[i] = FunctionSearchFeedback{
			ID: r.ID, ProjectID: r.ProjectID, AgentID: r.AgentID, Query: r.Query,
			FunctionID: r.FunctionID, Selected: r.Selected, Rank: r.Rank,
			FeedbackType: r.FeedbackType, WasHelpful: r.WasHelpful, CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

type oauth1TempTokenRow struct {
	ID                   int64     `json:"id,omitempty"`
	ProjectID            string    `json:"project_id"`
	AppName              string    `json:"app_name"`
	LinkedAccountOwnerID string    `json:"linked_account_owner_id"`
	RequestToken         string    `json:"request_token"`
	RequestTokenSecret   string    `json:"request_token_secret"`
	CreatedAt            time.Time `json:"created_at,omitempty"`
	ExpiresAt            time.Time `json:"expires_at"`
}

func (s *SupabaseFeedbackStore) CreateOAuth1TempToken(ctx context.Context, t *OAuth1TempToken) error {
	row := oauth1TempTokenRow{
		ProjectID: t.ProjectID, AppName: t.AppName, LinkedAccountOwnerID: t.LinkedAccountOwnerID,
		RequestToken: t.RequestToken, RequestTokenSecret: t.RequestTokenSecret, ExpiresAt: t.ExpiresAt,
	}
	var result []oauth1TempTokenRow
	_, err := s.client.From("oauth1_temp_tokens").
		Insert(row, false, "", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("create oauth1 temp token: %w", err)
	}
	return nil
}

// ConsumeOAuth1TempToken fetches and deletes the temp token matching
// requestToken in one logical operation: the OAuth 1.0a access-token
// exchange is single-use, so the row must not be returned twice.
func (s *SupabaseFeedbackStore) ConsumeOAuth1TempToken(ctx context.Context, requestToken string) (*OAuth1TempToken, error) {
	var rows []oauth1TempTokenRow
	_, err := s.client.From("oauth1_temp_tokens").
		Select("*", "", false).
		Eq("request_token", requestToken).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("fetch oauth1 temp token: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]

	var deleted []oauth1TempTokenRow
	_, err = s.client.From("oauth1_temp_tokens").
		Delete("", "").
		Eq("request_token", requestToken).
		ExecuteTo(&deleted)
	if err != nil {
		return nil, fmt.Errorf("delete oauth1 temp token: %w", err)
	}
	if len(deleted) == 0 {
		// Another caller consumed the row between the select and the delete.
		return nil, nil
	}

	return &OAuth1TempToken{
		ID: r.ID, ProjectID: r.ProjectID, AppName: r.AppName, LinkedAccountOwnerID: r.LinkedAccountOwnerID,
		RequestToken: r.RequestToken, RequestTokenSecret: r.RequestTokenSecret, CreatedAt: r.CreatedAt, ExpiresAt: r.ExpiresAt,
	}, nil
}

func (s *SupabaseFeedbackStore) DeleteExpiredOAuth1TempTokens(ctx context.Context) (int64, error) {
	var deleted []oauth1TempTokenRow
	_, err := s.client.From("oauth1_temp_tokens").
		Delete("", "").
		Lt("expires_at", time.Now().UTC().Format(time.RFC3339)).
		ExecuteTo(&deleted)
	if err != nil {
		return 0, fmt.Errorf("delete expired oauth1 temp tokens: %w", err)
	}
	return int64(len(deleted)), nil
}
