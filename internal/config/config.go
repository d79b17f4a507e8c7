package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Gateway configuration with environment overrides
// =============================================================================

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings"`
	Search      SearchConfig      `yaml:"search"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Triggers    TriggersConfig    `yaml:"triggers"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Queue       QueueConfig       `yaml:"queue"`
	Redis       RedisConfig       `yaml:"redis"`
	Security    SecurityConfig    `yaml:"security"`
}

type ServerConfig struct {
	Port             string   `yaml:"port"`
	Env              string   `yaml:"env"`
	ReadTimeoutSec   int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec  int      `yaml:"write_timeout_sec"`
	IdleTimeoutSec   int      `yaml:"idle_timeout_sec"`
	ShutdownTimeout  int      `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// DatabaseConfig describes both backends the catalog store can use:
// Postgres directly (for the function-search hot path) and Supabase
// (for the simpler feedback / temp-token tables).
type DatabaseConfig struct {
	PostgresURL string         `yaml:"postgres_url"`
	Supabase    SupabaseConfig `yaml:"supabase"`
}

type SupabaseConfig struct {
	URL        string `yaml:"url"`
	ServiceKey string `yaml:"service_key"`
}

type CatalogConfig struct {
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
}

type EmbeddingsConfig struct {
	Provider   string `yaml:"provider"`
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

type SearchConfig struct {
	LexicalPrefilterLimit int     `yaml:"lexical_prefilter_limit"`
	VectorOverfetch       int     `yaml:"vector_overfetch"`
	RerankCacheSize       int     `yaml:"rerank_cache_size"`
	RerankCacheTTLSec     int     `yaml:"rerank_cache_ttl_sec"`
	RerankerModel         string  `yaml:"reranker_model"`
	RerankerEndpoint      string  `yaml:"reranker_endpoint"`
	RerankerAPIKey        string  `yaml:"reranker_api_key"`
	MinRelevanceScore     float64 `yaml:"min_relevance_score"`
}

type CredentialsConfig struct {
	OAuth2RedirectBaseURL string `yaml:"oauth2_redirect_base_url"`
	OAuth2StateSecret     string `yaml:"oauth2_state_secret"`
	EncryptionKey         string `yaml:"encryption_key"`
}

type TriggersConfig struct {
	WebhookBaseURL         string `yaml:"webhook_base_url"`
	RenewBeforeExpirySec   int    `yaml:"renew_before_expiry_sec"`
	EventRetentionDays     int    `yaml:"event_retention_days"`
	OAuth1TempTokenTTLSec  int    `yaml:"oauth1_temp_token_ttl_sec"`
	MaxRegistrationRetries int    `yaml:"max_registration_retries"`
	GooglePubSubAudience   string `yaml:"google_pubsub_audience"`
}

type RateLimitConfig struct {
	DefaultCapacity       int `yaml:"default_capacity"`
	DefaultRefillRate     int `yaml:"default_refill_rate"`
	DefaultRefillEverySec int `yaml:"default_refill_every_sec"`

	// TriggerCapacity/TriggerRefillRate bound the narrower per-trigger_id
	// bucket the webhook receiver checks in addition to its per-provider
	// bucket, so one noisy trigger can't starve every other delivery for
	// the same provider.
	TriggerCapacity       int `yaml:"trigger_capacity"`
	TriggerRefillRate     int `yaml:"trigger_refill_rate"`
	TriggerRefillEverySec int `yaml:"trigger_refill_every_sec"`
}

type QueueConfig struct {
	Backend          string `yaml:"backend"` // "pubsub" | "memory"
	GCPProjectID     string `yaml:"gcp_project_id"`
	PubSubTopicID    string `yaml:"pubsub_topic_id"`
	CloudTasksQueue  string `yaml:"cloud_tasks_queue"`
	CloudTasksRegion string `yaml:"cloud_tasks_region"`
	LocalWorkers     int    `yaml:"local_workers"`
}

type RedisConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Addr               string        `yaml:"addr"`
	Password           string        `yaml:"password"`
	DB                 int           `yaml:"db"`
	RateLimitWindowSec int           `yaml:"rate_limit_window_sec"`
}

type SecurityConfig struct {
	APIKeyHashCost int `yaml:"api_key_hash_cost"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide configuration singleton, loading it from
// CONFIG_PATH (default "config.yaml") on first use.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			cfg = &Config{}
			cfg.applyDefaults()
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig reads path as YAML, falling back to built-in defaults for any
// section the file omits.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("OCX_ENV", c.Server.Env)

	c.Database.PostgresURL = getEnv("DATABASE_URL", c.Database.PostgresURL)
	c.Database.Supabase.URL = getEnv("SUPABASE_URL", c.Database.Supabase.URL)
	c.Database.Supabase.ServiceKey = getEnv("SUPABASE_SERVICE_KEY", c.Database.Supabase.ServiceKey)

	c.Embeddings.Provider = getEnv("EMBEDDINGS_PROVIDER", c.Embeddings.Provider)
	c.Embeddings.Endpoint = getEnv("EMBEDDINGS_ENDPOINT", c.Embeddings.Endpoint)
	c.Embeddings.APIKey = getEnv("EMBEDDINGS_API_KEY", c.Embeddings.APIKey)
	c.Embeddings.Model = getEnv("EMBEDDINGS_MODEL", c.Embeddings.Model)

	c.Search.RerankerEndpoint = getEnv("RERANKER_ENDPOINT", c.Search.RerankerEndpoint)
	c.Search.RerankerAPIKey = getEnv("RERANKER_API_KEY", c.Search.RerankerAPIKey)
	c.Search.RerankerModel = getEnv("RERANKER_MODEL", c.Search.RerankerModel)

	c.Credentials.OAuth2RedirectBaseURL = getEnv("OAUTH2_REDIRECT_BASE_URL", c.Credentials.OAuth2RedirectBaseURL)
	c.Credentials.OAuth2StateSecret = getEnv("OAUTH2_STATE_SECRET", c.Credentials.OAuth2StateSecret)
	c.Credentials.EncryptionKey = getEnv("CREDENTIALS_ENCRYPTION_KEY", c.Credentials.EncryptionKey)

	c.Triggers.WebhookBaseURL = getEnv("WEBHOOK_BASE_URL", c.Triggers.WebhookBaseURL)
	c.Triggers.GooglePubSubAudience = getEnv("GOOGLE_PUBSUB_AUDIENCE", c.Triggers.GooglePubSubAudience)

	if origins := getEnv("CORS_ALLOW_ORIGINS", ""); origins != "" {
		c.Server.CORSAllowOrigins = splitCSV(origins)
	}

	if projectID := getEnv("GCP_PROJECT_ID", ""); projectID != "" {
		c.Queue.GCPProjectID = projectID
	}
	c.Queue.Backend = getEnv("QUEUE_BACKEND", c.Queue.Backend)
	c.Queue.PubSubTopicID = getEnv("PUBSUB_TOPIC_ID", c.Queue.PubSubTopicID)
	c.Queue.CloudTasksQueue = getEnv("CLOUD_TASKS_QUEUE", c.Queue.CloudTasksQueue)
	c.Queue.CloudTasksRegion = getEnv("CLOUD_TASKS_LOCATION", c.Queue.CloudTasksRegion)

	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.RateLimitWindowSec = getEnvInt("REDIS_RATE_LIMIT_WINDOW_SEC", c.Redis.RateLimitWindowSec)
}

func (c *Config) applyDefaults() {
	c.Server.Port = "8080"
	c.Server.Env = "development"
	c.Server.ReadTimeoutSec = 15
	c.Server.WriteTimeoutSec = 15
	c.Server.IdleTimeoutSec = 60
	c.Server.ShutdownTimeout = 10
	c.Server.CORSAllowOrigins = []string{"*"}

	c.Catalog.DefaultPageSize = 25
	c.Catalog.MaxPageSize = 100

	c.Embeddings.Provider = "http"
	c.Embeddings.TimeoutSec = 10

	c.Search.LexicalPrefilterLimit = 200
	c.Search.VectorOverfetch = 30
	c.Search.RerankCacheSize = 100
	c.Search.RerankCacheTTLSec = 3600
	c.Search.MinRelevanceScore = 0.0

	c.Triggers.RenewBeforeExpirySec = 600
	c.Triggers.EventRetentionDays = 30
	c.Triggers.OAuth1TempTokenTTLSec = 600
	c.Triggers.MaxRegistrationRetries = 5

	c.RateLimit.DefaultCapacity = 60
	c.RateLimit.DefaultRefillRate = 60
	c.RateLimit.DefaultRefillEverySec = 60

	c.RateLimit.TriggerCapacity = 20
	c.RateLimit.TriggerRefillRate = 10
	c.RateLimit.TriggerRefillEverySec = 1

	c.Queue.Backend = "memory"
	c.Queue.LocalWorkers = 8

	c.Redis.Enabled = false
	c.Redis.Addr = "localhost:6379"
	c.Redis.RateLimitWindowSec = 60

	c.Security.APIKeyHashCost = 10
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsProduction() bool { return c.Server.Env == "production" }

func (c *Config) GetSupabaseURL() string { return c.Database.Supabase.URL }
func (c *Config) GetSupabaseKey() string { return c.Database.Supabase.ServiceKey }
