package catalog

import (
	"context"
	"time"
)

// Store is the full read/write surface the rest of the gateway uses to
// reach persisted state. PostgresStore backs the hot, vector-ranked
// App/Function/Trigger tables and is the only implementation of this
// interface. The feedback and OAuth1 temp-token tables live behind the
// separate FeedbackStore interface below, backed by SupabaseFeedbackStore.
type Store interface {
	// Apps
	GetApp(ctx context.Context, name string) (*App, error)
	ListApps(ctx context.Context, cursor Cursor, limit int) (Page[App], error)

	// Functions
	GetFunction(ctx context.Context, appName, name string) (*Function, error)
	ListFunctions(ctx context.Context, appName string, cursor Cursor, limit int) (Page[Function], error)
	SearchFunctionsByEmbedding(ctx context.Context, projectID string, embedding []float32, candidateIDs []int64, limit int) ([]Function, error)
	SearchFunctionsByLexical(ctx context.Context, projectID string, query string, limit int) ([]Function, error)

	// AppConfigurations
	GetAppConfiguration(ctx context.Context, projectID, appName string) (*AppConfiguration, error)
	UpsertAppConfiguration(ctx context.Context, cfg *AppConfiguration) error
	ListAppConfigurations(ctx context.Context, projectID string) ([]AppConfiguration, error)
	DeleteAppConfiguration(ctx context.Context, projectID, appName string) error

	// LinkedAccounts
	GetLinkedAccount(ctx context.Context, projectID, appName, ownerID string) (*LinkedAccount, error)
	UpsertLinkedAccount(ctx context.Context, acct *LinkedAccount) error
	ListLinkedAccounts(ctx context.Context, projectID string, cursor Cursor, limit int) (Page[LinkedAccount], error)
	DeleteLinkedAccount(ctx context.Context, projectID, appName, ownerID string) error
	// TouchLinkedAccountLastUsed stamps last_used_at at the given time,
	// called by the executor's post-hook after a successful dispatch.
	TouchLinkedAccountLastUsed(ctx context.Context, projectID, appName, ownerID string, at time.Time) error

	// Agents / Projects
	GetAgentByAPIKeyHash(ctx context.Context, hash string) (*Agent, error)
	GetProject(ctx context.Context, id string) (*Project, error)

	// Triggers
	CreateTrigger(ctx context.Context, t *Trigger) error
	GetTrigger(ctx context.Context, id string) (*Trigger, error)
	UpdateTrigger(ctx context.Context, t *Trigger) error
	DeleteTrigger(ctx context.Context, id string) error
	ListTriggers(ctx context.Context, projectID string, cursor Cursor, limit int) (Page[Trigger], error)
	ListTriggersByStatus(ctx context.Context, status TriggerStatus, limit int) ([]Trigger, error)
	ListTriggersExpiringBefore(ctx context.Context, cutoff time.Time, limit int) ([]Trigger, error)

	// TriggerEvents
	InsertTriggerEvent(ctx context.Context, e *TriggerEvent) (created bool, err error)
	MarkTriggerEventEnqueued(ctx context.Context, id int64) error
	DeleteTriggerEventsOlderThan(ctx context.Context, days int) (int64, error)
}

// FeedbackStore is the narrower surface backed by Supabase's fluent CRUD
// client: tables with no ranked-search or cosine-distance requirement.
type FeedbackStore interface {
	RecordSearchFeedback(ctx context.Context, fb *FunctionSearchFeedback) error
	ListSearchFeedback(ctx context.Context, projectID string, limit int) ([]FunctionSearchFeedback, error)

	CreateOAuth1TempToken(ctx context.Context, t *OAuth1TempToken) error
	ConsumeOAuth1TempToken(ctx context.Context, requestToken string) (*OAuth1TempToken, error)
	DeleteExpiredOAuth1TempTokens(ctx context.Context) (int64, error)
}
