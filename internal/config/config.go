// Package config resolves runtime configuration for the simmer web process.
//
// Sources, highest to lowest priority:
//  1. Environment variables
//  2. Config file (~/.simmer/config.yaml, then ./config.yaml)
//  3. Defaults from setDefaults
//
// Resolution happens once at process start via Load, which validates
// immediately (fail-fast). A production app_env tightens the rules: a
// placeholder model-provider credential or the non-durable memory
// retriever terminates startup instead of silently running a demo
// backend under a production label.
//
// Security: sensitive fields (API key, database password) are masked in
// MarshalJSON and String. Errors are sentinels, checked with errors.Is.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Sentinel errors returned by Load and Validate.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingCredential indicates the model-provider credential is absent.
	ErrMissingCredential = errors.New("missing model provider credential")

	// ErrPlaceholderCredential indicates the credential looks like a test or
	// placeholder value. Fatal in production.
	ErrPlaceholderCredential = errors.New("placeholder model provider credential")

	// ErrMemoryRetrieverInProd indicates the in-memory retriever was selected
	// with app_env=production. Fatal: the memory backend loses its index on
	// every restart.
	ErrMemoryRetrieverInProd = errors.New("memory retriever not allowed in production")

	// ErrInvalidAppEnv indicates the app environment tag is not recognized.
	ErrInvalidAppEnv = errors.New("invalid app environment")

	// ErrInvalidRetriever indicates the retriever provider is not supported.
	ErrInvalidRetriever = errors.New("invalid retriever provider")

	// ErrInvalidEmbedderModel indicates the embedder model is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrTimeoutOrdering indicates the timeout ladder is inverted. The web
	// timeout must exceed the API timeout, which must be at least the agent
	// timeout, so an inner stage never appears to hang past what an outer
	// stage still waits for.
	ErrTimeoutOrdering = errors.New("invalid timeout ordering")

	// ErrInvalidPort indicates a listen port is out of range.
	ErrInvalidPort = errors.New("invalid port")

	// ErrInvalidAgentURL indicates the agent base URL is empty.
	ErrInvalidAgentURL = errors.New("invalid agent base URL")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")
)

// App environment tags. Distinct from any build or runtime mode: the tag
// scopes retrieval search parameters and the production safety gates.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Retriever provider identifiers used in Config.RetrieverProvider.
const (
	RetrieverMemory        = "memory"
	RetrieverPgvector      = "pgvector"
	RetrieverElasticsearch = "elasticsearch"
)

// Timeout defaults. The ladder web > api >= agent is validated for every
// resolved configuration, not only the defaults.
const (
	DefaultWebTimeout   = 120 * time.Second
	DefaultAPITimeout   = 60 * time.Second
	DefaultAgentTimeout = 60 * time.Second
)

// DefaultEmbedderModel is the embedder used by the agent's index unless
// overridden. gemini-embedding-001 truncates to 768 dimensions, matching
// the agent's pgvector schema.
const DefaultEmbedderModel = "gemini-embedding-001"

// minCredentialLength is the length heuristic for a real provider key.
// Gemini API keys run 39 characters; anything under 20 is noise.
const minCredentialLength = 20

// Config stores the resolved process-wide configuration. Immutable after
// Load; passed by reference to all consumers.
//
// SECURITY: sensitive fields are masked in MarshalJSON. When adding a new
// secret field, update MarshalJSON as well.
type Config struct {
	// App environment tag (development, staging, production).
	AppEnv string `mapstructure:"app_env" json:"app_env"`

	// Model provider credential. Read from GEMINI_API_KEY.
	GeminiAPIKey string `mapstructure:"gemini_api_key" json:"gemini_api_key"` // SENSITIVE: masked in MarshalJSON

	// Retrieval configuration, forwarded per request to the agent process.
	RetrieverProvider string `mapstructure:"retriever_provider" json:"retriever_provider"`
	EmbedderModel     string `mapstructure:"embedder_model" json:"embedder_model"`
	RetrievalTopK     int    `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`

	// Tracing (fire-and-forget sink; failures never affect requests).
	TracingEnabled bool   `mapstructure:"tracing_enabled" json:"tracing_enabled"`
	TracingProject string `mapstructure:"tracing_project" json:"tracing_project"`
	TraceEndpoint  string `mapstructure:"trace_endpoint" json:"trace_endpoint"`

	// Network layout for the two cooperating processes.
	WebHost      string `mapstructure:"web_host" json:"web_host"`
	WebPort      int    `mapstructure:"web_port" json:"web_port"`
	AgentHost    string `mapstructure:"agent_host" json:"agent_host"`
	AgentPort    int    `mapstructure:"agent_port" json:"agent_port"`
	AgentBaseURL string `mapstructure:"agent_base_url" json:"agent_base_url"`

	// Timeout ladder. WebTimeout bounds the browser-facing wait, APITimeout
	// bounds a chat-turn request, AgentTimeout bounds the agent call itself.
	WebTimeout   time.Duration `mapstructure:"web_timeout" json:"web_timeout"`
	APITimeout   time.Duration `mapstructure:"api_timeout" json:"api_timeout"`
	AgentTimeout time.Duration `mapstructure:"agent_timeout" json:"agent_timeout"`

	// CORS origins allowed to call the JSON API.
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`

	// Conversation store (PostgreSQL).
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
}

// Load resolves configuration from environment, config file, and defaults,
// then validates it. Idempotent for identical inputs; the only side effect
// is the returned value.
func Load() (*Config, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err == nil {
		v.AddConfigPath(filepath.Join(home, ".simmer"))
	}
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every default value.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", EnvDevelopment)

	v.SetDefault("retriever_provider", RetrieverMemory)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("retrieval_top_k", 4)

	v.SetDefault("tracing_enabled", false)
	v.SetDefault("tracing_project", "simmer")
	v.SetDefault("trace_endpoint", "localhost:4318")

	v.SetDefault("web_host", "127.0.0.1")
	v.SetDefault("web_port", 3000)
	v.SetDefault("agent_host", "127.0.0.1")
	v.SetDefault("agent_port", 8000)
	v.SetDefault("agent_base_url", "http://127.0.0.1:8000")

	v.SetDefault("web_timeout", DefaultWebTimeout)
	v.SetDefault("api_timeout", DefaultAPITimeout)
	v.SetDefault("agent_timeout", DefaultAgentTimeout)

	v.SetDefault("cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "simmer")
	v.SetDefault("postgres_password", "simmer_dev_password")
	v.SetDefault("postgres_db_name", "simmer")
	v.SetDefault("postgres_ssl_mode", "disable")
}

// bindEnvVariables binds recognized environment variables explicitly.
// Hardcoded keys cannot fail to bind; a bind error is a bug, not a
// runtime condition.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("gemini_api_key", "GEMINI_API_KEY")

	mustBind("app_env", "SIMMER_ENV")
	mustBind("retriever_provider", "SIMMER_RETRIEVER")
	mustBind("embedder_model", "SIMMER_EMBEDDER_MODEL")

	mustBind("tracing_enabled", "SIMMER_TRACING")
	mustBind("tracing_project", "SIMMER_TRACING_PROJECT")
	mustBind("trace_endpoint", "SIMMER_TRACE_ENDPOINT")

	mustBind("web_host", "SIMMER_WEB_HOST")
	mustBind("web_port", "SIMMER_WEB_PORT")
	mustBind("agent_host", "SIMMER_AGENT_HOST")
	mustBind("agent_port", "SIMMER_AGENT_PORT")
	mustBind("agent_base_url", "SIMMER_AGENT_URL")

	mustBind("web_timeout", "SIMMER_WEB_TIMEOUT")
	mustBind("api_timeout", "SIMMER_API_TIMEOUT")
	mustBind("agent_timeout", "SIMMER_AGENT_TIMEOUT")

	mustBind("cors_origins", "SIMMER_CORS_ORIGINS")

	mustBind("postgres_host", "SIMMER_POSTGRES_HOST")
	mustBind("postgres_port", "SIMMER_POSTGRES_PORT")
	mustBind("postgres_user", "SIMMER_POSTGRES_USER")
	mustBind("postgres_password", "SIMMER_POSTGRES_PASSWORD")
	mustBind("postgres_db_name", "SIMMER_POSTGRES_DB")
	mustBind("postgres_ssl_mode", "SIMMER_POSTGRES_SSL_MODE")
}

// maskedValue replaces secret content in serialized output. Full-width
// blocks avoid substring collisions with real secret characters.
const maskedValue = "████████"

// maskSecret masks a secret for logging. Short secrets are fully masked;
// longer ones keep the first and last two characters for debuggability.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON masks sensitive fields. New secret fields must be added here.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.GeminiAPIKey = maskSecret(a.GeminiAPIKey)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer so accidental printing never leaks secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// IsProduction reports whether the resolved app environment is production.
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// WebAddr returns the listen address for the web process.
func (c *Config) WebAddr() string {
	return fmt.Sprintf("%s:%d", c.WebHost, c.WebPort)
}

// AgentAddr returns the expected listen address of the agent process.
func (c *Config) AgentAddr() string {
	return fmt.Sprintf("%s:%d", c.AgentHost, c.AgentPort)
}

// PostgresDSN builds the connection string for the conversation store.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser),
		url.QueryEscape(c.PostgresPassword),
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDBName,
		c.PostgresSSLMode,
	)
}
