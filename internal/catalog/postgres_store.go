package catalog

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresStore is the Store implementation backing App/Function/Trigger
// lookups, including the cosine-distance ANN ordering used by function
// search. Every multi-statement write goes through a single transaction.
type PostgresStore struct {
	db     *sql.DB
	logger *log.Logger
}

// NewPostgresStore opens dbURL and verifies connectivity before returning.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &PostgresStore{
		db:     db,
		logger: log.New(log.Writer(), "[CATALOG-PG] ", log.LstdFlags),
	}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func encodeCursor(id int64) Cursor {
	return Cursor(base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(id, 10))))
}

func decodeCursor(c Cursor) (int64, error) {
	if c == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(string(c))
	if err != nil {
		return 0, fmt.Errorf("decode cursor: %w", err)
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

func (s *PostgresStore) GetApp(ctx context.Context, name string) (*App, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, display_name, description, auth_mode, auth_config, categories, enabled, created_at, updated_at
		FROM apps WHERE name = $1`, name)

	var a App
	var authConfig, categories []byte
	if err := row.Scan(&a.Name, &a.DisplayName, &a.Description, &a.AuthMode, &authConfig, &categories, &a.Enabled, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get app %s: %w", name, err)
	}
	_ = json.Unmarshal(authConfig, &a.AuthConfig)
	_ = json.Unmarshal(categories, &a.Categories)
	return &a, nil
}

func (s *PostgresStore) ListApps(ctx context.Context, cursor Cursor, limit int) (Page[App], error) {
	lastID, err := decodeCursor(cursor)
	if err != nil {
		return Page[App]{}, err
	}
	if limit <= 0 {
		limit = 25
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, display_name, description, auth_mode, auth_config, categories, enabled, created_at, updated_at
		FROM apps WHERE id > $1 ORDER BY id ASC LIMIT $2`, lastID, limit+1)
	if err != nil {
		return Page[App]{}, fmt.Errorf("list apps: %w", err)
	}
	defer rows.Close()

	var apps []App
	var lastSeenID int64
	for rows.Next() {
		var a App
		var id int64
		var authConfig, categories []byte
		if err := rows.Scan(&id, &a.Name, &a.DisplayName, &a.Description, &a.AuthMode, &authConfig, &categories, &a.Enabled, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return Page[App]{}, fmt.Errorf("scan app: %w", err)
		}
		_ = json.Unmarshal(authConfig, &a.AuthConfig)
		_ = json.Unmarshal(categories, &a.Categories)
		apps = append(apps, a)
		if len(apps) <= limit {
			lastSeenID = id
		}
	}

	page := Page[App]{Items: apps}
	if len(apps) > limit {
		page.Items = apps[:limit]
		page.NextCursor = encodeCursor(lastSeenID)
	}
	return page, nil
}

func (s *PostgresStore) GetFunction(ctx context.Context, appName, name string) (*Function, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, app_name, name, description, tags, method, path_template, headers, parameters, visible, created_at, updated_at
		FROM functions WHERE app_name = $1 AND name = $2`, appName, name)

	var f Function
	var tags, headers, params []byte
	if err := row.Scan(&f.ID, &f.AppName, &f.Name, &f.Description, &tags, &f.Method, &f.PathTemplate, &headers, &params, &f.Visible, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get function %s.%s: %w", appName, name, err)
	}
	_ = json.Unmarshal(tags, &f.Tags)
	_ = json.Unmarshal(headers, &f.Headers)
	_ = json.Unmarshal(params, &f.Parameters)
	return &f, nil
}

func (s *PostgresStore) ListFunctions(ctx context.Context, appName string, cursor Cursor, limit int) (Page[Function], error) {
	lastID, err := decodeCursor(cursor)
	if err != nil {
		return Page[Function]{}, err
	}
	if limit <= 0 {
		limit = 25
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_name, name, description, tags, method, path_template, headers, parameters, visible, created_at, updated_at
		FROM functions WHERE app_name = $1 AND id > $2 ORDER BY id ASC LIMIT $3`, appName, lastID, limit+1)
	if err != nil {
		return Page[Function]{}, fmt.Errorf("list functions: %w", err)
	}
	defer rows.Close()

	var fns []Function
	for rows.Next() {
		var f Function
		var tags, headers, params []byte
		if err := rows.Scan(&f.ID, &f.AppName, &f.Name, &f.Description, &tags, &f.Method, &f.PathTemplate, &headers, &params, &f.Visible, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return Page[Function]{}, fmt.Errorf("scan function: %w", err)
		}
		_ = json.Unmarshal(tags, &f.Tags)
		_ = json.Unmarshal(headers, &f.Headers)
		_ = json.Unmarshal(params, &f.Parameters)
		fns = append(fns, f)
	}

	page := Page[Function]{Items: fns}
	if len(fns) > limit {
		page.Items = fns[:limit]
		page.NextCursor = encodeCursor(fns[limit-1].ID)
	}
	return page, nil
}

// SearchFunctionsByEmbedding orders candidateIDs (already access- and
// app-filtered) by cosine distance between the function's stored embedding
// and the query embedding, using pgvector's <=> operator expressed as raw
// SQL text, matching this codebase's existing preference for raw SQL over
// database/sql rather than a dedicated vector-client dependency.
func (s *PostgresStore) SearchFunctionsByEmbedding(ctx context.Context, projectID string, embedding []float32, candidateIDs []int64, limit int) ([]Function, error) {
	if len(candidateIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 30
	}

	placeholders := make([]string, len(candidateIDs))
	args := make([]interface{}, 0, len(candidateIDs)+2)
	args = append(args, vectorLiteral(embedding))
	for i, id := range candidateIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, app_name, name, description, tags, method, path_template, headers, parameters, visible, created_at, updated_at
		FROM functions
		WHERE id IN (%s)
		ORDER BY embedding <=> $1
		LIMIT $%d`, strings.Join(placeholders, ","), len(candidateIDs)+2)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search functions by embedding: %w", err)
	}
	defer rows.Close()

	var fns []Function
	for rows.Next() {
		var f Function
		var tags, headers, params []byte
		if err := rows.Scan(&f.ID, &f.AppName, &f.Name, &f.Description, &tags, &f.Method, &f.PathTemplate, &headers, &params, &f.Visible, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan function: %w", err)
		}
		_ = json.Unmarshal(tags, &f.Tags)
		_ = json.Unmarshal(headers, &f.Headers)
		_ = json.Unmarshal(params, &f.Parameters)
		fns = append(fns, f)
	}
	return fns, nil
}

// SearchFunctionsByLexical performs the pre-filter pass (plain ILIKE over
// name/description/tags) that narrows the candidate set before the vector
// pass runs, bounding how many rows the ANN step has to consider.
func (s *PostgresStore) SearchFunctionsByLexical(ctx context.Context, projectID string, query string, limit int) ([]Function, error) {
	if limit <= 0 {
		limit = 200
	}
	like := "%" + query + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_name, name, description, tags, method, path_template, headers, parameters, visible, created_at, updated_at
		FROM functions
		WHERE visible = true AND (name ILIKE $1 OR description ILIKE $1)
		LIMIT $2`, like, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search functions: %w", err)
	}
	defer rows.Close()

	var fns []Function
	for rows.Next() {
		var f Function
		var tags, headers, params []byte
		if err := rows.Scan(&f.ID, &f.AppName, &f.Name, &f.Description, &tags, &f.Method, &f.PathTemplate, &headers, &params, &f.Visible, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan function: %w", err)
		}
		_ = json.Unmarshal(tags, &f.Tags)
		_ = json.Unmarshal(headers, &f.Headers)
		_ = json.Unmarshal(params, &f.Parameters)
		fns = append(fns, f)
	}
	return fns, nil
}

func vectorLiteral(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (s *PostgresStore) GetAppConfiguration(ctx context.Context, projectID, appName string) (*AppConfiguration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, app_name, all_functions_enabled, enabled_functions, oauth2_client_id, oauth2_client_secret, scopes, extra, created_at
		FROM app_configurations WHERE project_id = $1 AND app_name = $2`, projectID, appName)

	var c AppConfiguration
	var enabledFns, scopes, extra []byte
	var clientID, clientSecret sql.NullString
	if err := row.Scan(&c.ID, &c.ProjectID, &c.AppName, &c.AllFunctionsEnabled, &enabledFns, &clientID, &clientSecret, &scopes, &extra, &c.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get app configuration: %w", err)
	}
	c.OAuth2ClientID = clientID.String
	c.OAuth2ClientSecret = clientSecret.String
	_ = json.Unmarshal(enabledFns, &c.EnabledFunctions)
	_ = json.Unmarshal(scopes, &c.Scopes)
	_ = json.Unmarshal(extra, &c.Extra)
	return &c, nil
}

func (s *PostgresStore) UpsertAppConfiguration(ctx context.Context, cfg *AppConfiguration) error {
	enabledFns, _ := json.Marshal(cfg.EnabledFunctions)
	scopes, _ := json.Marshal(cfg.Scopes)
	extra, _ := json.Marshal(cfg.Extra)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_configurations (project_id, app_name, all_functions_enabled, enabled_functions, oauth2_client_id, oauth2_client_secret, scopes, extra, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (project_id, app_name) DO UPDATE SET
			all_functions_enabled = EXCLUDED.all_functions_enabled,
			enabled_functions = EXCLUDED.enabled_functions,
			oauth2_client_id = EXCLUDED.oauth2_client_id,
			oauth2_client_secret = EXCLUDED.oauth2_client_secret,
			scopes = EXCLUDED.scopes,
			extra = EXCLUDED.extra`,
		cfg.ProjectID, cfg.AppName, cfg.AllFunctionsEnabled, enabledFns, cfg.OAuth2ClientID, cfg.OAuth2ClientSecret, scopes, extra)
	if err != nil {
		return fmt.Errorf("upsert app configuration: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAppConfigurations(ctx context.Context, projectID string) ([]AppConfiguration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, app_name, all_functions_enabled, enabled_functions, oauth2_client_id, oauth2_client_secret, scopes, extra, created_at
		FROM app_configurations WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list app configurations: %w", err)
	}
	defer rows.Close()

	var out []AppConfiguration
	for rows.Next() {
		var c AppConfiguration
		var enabledFns, scopes, extra []byte
		var clientID, clientSecret sql.NullString
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.AppName, &c.AllFunctionsEnabled, &enabledFns, &clientID, &clientSecret, &scopes, &extra, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan app configuration: %w", err)
		}
		c.OAuth2ClientID = clientID.String
		c.OAuth2ClientSecret = clientSecret.String
		_ = json.Unmarshal(enabledFns, &c.EnabledFunctions)
		_ = json.Unmarshal(scopes, &c.Scopes)
		_ = json.Unmarshal(extra, &c.Extra)
		out = append(out, c)
	}
	return out, nil
}

func (s *PostgresStore) DeleteAppConfiguration(ctx context.Context, projectID, appName string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM app_configurations WHERE project_id = $1 AND app_name = $2`, projectID, appName)
	if err != nil {
		return fmt.Errorf("delete app configuration: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLinkedAccount(ctx context.Context, projectID, appName, ownerID string) (*LinkedAccount, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, app_name, linked_account_owner_id, auth_mode, enabled, credentials, last_refreshed_at, last_used_at, created_at, updated_at
		FROM linked_accounts WHERE project_id = $1 AND app_name = $2 AND linked_account_owner_id = $3`, projectID, appName, ownerID)

	var a LinkedAccount
	var creds []byte
	if err := row.Scan(&a.ID, &a.ProjectID, &a.AppName, &a.LinkedAccountOwnerID, &a.AuthMode, &a.Enabled, &creds, &a.LastRefreshedAt, &a.LastUsedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get linked account: %w", err)
	}
	_ = json.Unmarshal(creds, &a.Credentials)
	return &a, nil
}

func (s *PostgresStore) UpsertLinkedAccount(ctx context.Context, acct *LinkedAccount) error {
	creds, _ := json.Marshal(acct.Credentials)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO linked_accounts (project_id, app_name, linked_account_owner_id, auth_mode, enabled, credentials, last_refreshed_at, last_used_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (project_id, app_name, linked_account_owner_id) DO UPDATE SET
			auth_mode = EXCLUDED.auth_mode,
			enabled = EXCLUDED.enabled,
			credentials = EXCLUDED.credentials,
			last_refreshed_at = EXCLUDED.last_refreshed_at,
			last_used_at = EXCLUDED.last_used_at,
			updated_at = now()`,
		acct.ProjectID, acct.AppName, acct.LinkedAccountOwnerID, acct.AuthMode, acct.Enabled, creds, acct.LastRefreshedAt, acct.LastUsedAt)
	if err != nil {
		return fmt.Errorf("upsert linked account: %w", err)
	}
	return nil
}

// TouchLinkedAccountLastUsed stamps last_used_at without disturbing any
// other column, letting the executor's post-hook record usage without a
// read-modify-write round trip through the full credential payload.
func (s *PostgresStore) TouchLinkedAccountLastUsed(ctx context.Context, projectID, appName, ownerID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE linked_accounts SET last_used_at = $4
		WHERE project_id = $1 AND app_name = $2 AND linked_account_owner_id = $3`,
		projectID, appName, ownerID, at)
	if err != nil {
		return fmt.Errorf("touch linked account last_used_at: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListLinkedAccounts(ctx context.Context, projectID string, cursor Cursor, limit int) (Page[LinkedAccount], error) {
	lastID, err := decodeCursor(cursor)
	if err != nil {
		return Page[LinkedAccount]{}, err
	}
	if limit <= 0 {
		limit = 25
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, app_name, linked_account_owner_id, auth_mode, enabled, credentials, last_refreshed_at, last_used_at, created_at, updated_at
		FROM linked_accounts WHERE project_id = $1 AND id > $2 ORDER BY id ASC LIMIT $3`, projectID, lastID, limit+1)
	if err != nil {
		return Page[LinkedAccount]{}, fmt.Errorf("list linked accounts: %w", err)
	}
	defer rows.Close()

	var accts []LinkedAccount
	for rows.Next() {
		var a LinkedAccount
		var creds []byte
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.AppName, &a.LinkedAccountOwnerID, &a.AuthMode, &a.Enabled, &creds, &a.LastRefreshedAt, &a.LastUsedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return Page[LinkedAccount]{}, fmt.Errorf("scan linked account: %w", err)
		}
		_ = json.Unmarshal(creds, &a.Credentials)
		accts = append(accts, a)
	}

	page := Page[LinkedAccount]{Items: accts}
	if len(accts) > limit {
		page.Items = accts[:limit]
		page.NextCursor = encodeCursor(accts[limit-1].ID)
	}
	return page, nil
}

func (s *PostgresStore) DeleteLinkedAccount(ctx context.Context, projectID, appName, ownerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM linked_accounts WHERE project_id = $1 AND app_name = $2 AND linked_account_owner_id = $3`, projectID, appName, ownerID)
	if err != nil {
		return fmt.Errorf("delete linked account: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAgentByAPIKeyHash(ctx context.Context, hash string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, api_key_hash, disabled, allowed_apps, custom_instructions, created_at
		FROM agents WHERE api_key_hash = $1`, hash)
	var a Agent
	var allowedApps, customInstructions []byte
	if err := row.Scan(&a.ID, &a.ProjectID, &a.Name, &a.APIKeyHash, &a.Disabled, &allowedApps, &customInstructions, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get agent by api key: %w", err)
	}
	_ = json.Unmarshal(allowedApps, &a.AllowedApps)
	_ = json.Unmarshal(customInstructions, &a.CustomInstructions)
	return &a, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM projects WHERE id = $1`, id)
	var p Project
	if err := row.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) CreateTrigger(ctx context.Context, t *Trigger) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO triggers (id, project_id, app_name, linked_account_owner_id, event_type, status, provider_subscription_id, secret, expires_at, registration_attempts, callback_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())`,
		t.ID, t.ProjectID, t.AppName, t.LinkedAccountOwnerID, t.EventType, t.Status, t.ProviderSubscriptionID, t.Secret, t.ExpiresAt, t.RegistrationAttempts, t.CallbackURL)
	if err != nil {
		return fmt.Errorf("create trigger: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTrigger(ctx context.Context, id string) (*Trigger, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, app_name, linked_account_owner_id, event_type, status, provider_subscription_id, secret, expires_at, registration_attempts, callback_url, created_at, updated_at
		FROM triggers WHERE id = $1`, id)
	return scanTrigger(row)
}

func scanTrigger(row *sql.Row) (*Trigger, error) {
	var t Trigger
	var subID sql.NullString
	if err := row.Scan(&t.ID, &t.ProjectID, &t.AppName, &t.LinkedAccountOwnerID, &t.EventType, &t.Status, &subID, &t.Secret, &t.ExpiresAt, &t.RegistrationAttempts, &t.CallbackURL, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan trigger: %w", err)
	}
	t.ProviderSubscriptionID = subID.String
	return &t, nil
}

func (s *PostgresStore) UpdateTrigger(ctx context.Context, t *Trigger) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE triggers SET status = $2, provider_subscription_id = $3, expires_at = $4, registration_attempts = $5, updated_at = now()
		WHERE id = $1`, t.ID, t.Status, t.ProviderSubscriptionID, t.ExpiresAt, t.RegistrationAttempts)
	if err != nil {
		return fmt.Errorf("update trigger: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTrigger(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM triggers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete trigger: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTriggers(ctx context.Context, projectID string, cursor Cursor, limit int) (Page[Trigger], error) {
	lastID, err := decodeCursor(cursor)
	if err != nil {
		return Page[Trigger]{}, err
	}
	if cursor == "" {
		// hashtext is a signed int4, so the first page starts below every value.
		lastID = -1 << 63
	}
	if limit <= 0 {
		limit = 25
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, app_name, linked_account_owner_id, event_type, status, provider_subscription_id, secret, expires_at, registration_attempts, callback_url, created_at, updated_at, hashtext(id)
		FROM triggers WHERE project_id = $1 AND hashtext(id) > $2::bigint ORDER BY hashtext(id) ASC LIMIT $3`, projectID, lastID, limit+1)
	if err != nil {
		return Page[Trigger]{}, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var triggers []Trigger
	var hashes []int64
	for rows.Next() {
		var t Trigger
		var subID sql.NullString
		var h int64
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.AppName, &t.LinkedAccountOwnerID, &t.EventType, &t.Status, &subID, &t.Secret, &t.ExpiresAt, &t.RegistrationAttempts, &t.CallbackURL, &t.CreatedAt, &t.UpdatedAt, &h); err != nil {
			return Page[Trigger]{}, fmt.Errorf("scan trigger: %w", err)
		}
		t.ProviderSubscriptionID = subID.String
		triggers = append(triggers, t)
		hashes = append(hashes, h)
	}

	page := Page[Trigger]{Items: triggers}
	if len(triggers) > limit {
		page.Items = triggers[:limit]
		page.NextCursor = encodeCursor(hashes[limit-1])
	}
	return page, nil
}

func (s *PostgresStore) ListTriggersByStatus(ctx context.Context, status TriggerStatus, limit int) ([]Trigger, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, app_name, linked_account_owner_id, event_type, status, provider_subscription_id, secret, expires_at, registration_attempts, callback_url, created_at, updated_at
		FROM triggers WHERE status = $1 LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list triggers by status: %w", err)
	}
	defer rows.Close()

	var triggers []Trigger
	for rows.Next() {
		var t Trigger
		var subID sql.NullString
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.AppName, &t.LinkedAccountOwnerID, &t.EventType, &t.Status, &subID, &t.Secret, &t.ExpiresAt, &t.RegistrationAttempts, &t.CallbackURL, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		t.ProviderSubscriptionID = subID.String
		triggers = append(triggers, t)
	}
	return triggers, nil
}

func (s *PostgresStore) ListTriggersExpiringBefore(ctx context.Context, cutoff time.Time, limit int) ([]Trigger, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, app_name, linked_account_owner_id, event_type, status, provider_subscription_id, secret, expires_at, registration_attempts, callback_url, created_at, updated_at
		FROM triggers WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < $1 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list expiring triggers: %w", err)
	}
	defer rows.Close()

	var triggers []Trigger
	for rows.Next() {
		var t Trigger
		var subID sql.NullString
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.AppName, &t.LinkedAccountOwnerID, &t.EventType, &t.Status, &subID, &t.Secret, &t.ExpiresAt, &t.RegistrationAttempts, &t.CallbackURL, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		t.ProviderSubscriptionID = subID.String
		triggers = append(triggers, t)
	}
	return triggers, nil
}

// InsertTriggerEvent inserts e, relying on a unique index over
// (trigger_id, dedup_key) to make duplicate deliveries a no-op: a
// conflicting insert is reported back to the caller as created=false
// rather than as an error, matching spec.md's "at-least-once delivery,
// dedup on our side" contract.
func (s *PostgresStore) InsertTriggerEvent(ctx context.Context, e *TriggerEvent) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trigger_events (trigger_id, dedup_key, payload, received_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (trigger_id, dedup_key) DO NOTHING`, e.TriggerID, e.DedupKey, e.Payload)
	if err != nil {
		return false, fmt.Errorf("insert trigger event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) MarkTriggerEventEnqueued(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE trigger_events SET enqueued_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark trigger event enqueued: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTriggerEventsOlderThan(ctx context.Context, days int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trigger_events WHERE received_at < now() - ($1 || ' days')::interval`, days)
	if err != nil {
		return 0, fmt.Errorf("delete old trigger events: %w", err)
	}
	return res.RowsAffected()
}
