package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for stipend-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3880"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// MigrationsPath is the directory containing SQL migration files.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`

	// Auth configuration (token verification)
	Auth AuthConfig `yaml:"auth"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Generation configuration for the draft-writing LLM backend
	Generation GenerationConfig `yaml:"generation"`

	// Embedding configuration for the embedding backend
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Consensus cleanup policy
	Consensus ConsensusConfig `yaml:"consensus"`
}

// AuthConfig holds token verification settings. Tokens are issued by the
// external identity service; this service only verifies them against the
// issuer's JWKS endpoint.
type AuthConfig struct {
	// EnableVerification toggles JWT signature verification. Disable only
	// for local development.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// Issuer is the accepted token issuer URL.
	Issuer string `yaml:"issuer" env:"AUTH_ISSUER" env-default:""`

	// JWKSURL is the issuer's JWKS endpoint.
	JWKSURL string `yaml:"jwks_url" env:"AUTH_JWKS_URL" env-default:""`
}

// JWKSEndpoints returns the issuer-to-endpoint map for the verifier.
func (c *AuthConfig) JWKSEndpoints() map[string]string {
	endpoints := make(map[string]string)
	if c.Issuer != "" && c.JWKSURL != "" {
		endpoints[c.Issuer] = c.JWKSURL
	}
	return endpoints
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"stipend"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"stipend_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// GenerationConfig holds the draft generation backend settings.
// Provider selects the client implementation: "openai" targets any
// OpenAI-compatible endpoint, "anthropic" targets the Anthropic API.
type GenerationConfig struct {
	Provider       string `yaml:"provider" env:"GENERATION_PROVIDER" env-default:"openai"`
	BaseURL        string `yaml:"base_url" env:"GENERATION_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model          string `yaml:"model" env:"GENERATION_MODEL" env-default:"gpt-4o"`
	APIKey         string `yaml:"-" env:"GENERATION_API_KEY"` // Secret - not in YAML
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"GENERATION_TIMEOUT_SECONDS" env-default:"60"`
}

// Timeout returns the per-call generation timeout.
func (c *GenerationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EmbeddingConfig holds the embedding backend settings.
// Embeddings always go through an OpenAI-compatible endpoint.
type EmbeddingConfig struct {
	BaseURL        string `yaml:"base_url" env:"EMBEDDING_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model          string `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	APIKey         string `yaml:"-" env:"EMBEDDING_API_KEY"` // Secret - not in YAML
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"EMBEDDING_TIMEOUT_SECONDS" env-default:"30"`
}

// Timeout returns the per-call embedding timeout.
func (c *EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ConsensusConfig holds the consensus cleanup policy settings.
type ConsensusConfig struct {
	// NullSentinelsStr is a comma-separated list of placeholder values that
	// never count toward consensus (compared case-insensitively).
	NullSentinelsStr string `yaml:"null_sentinels" env:"CONSENSUS_NULL_SENTINELS" env-default:"unknown,n/a,null,none"`

	// NullSentinels is the parsed list from NullSentinelsStr (not from config file).
	NullSentinels []string `yaml:"-"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	cfg.Consensus.NullSentinels = parseSentinels(cfg.Consensus.NullSentinelsStr)

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// parseSentinels parses the comma-separated sentinel list, trimming whitespace
// and dropping empty segments. The empty string is always treated as a sentinel
// regardless of configuration.
func parseSentinels(value string) []string {
	var sentinels []string
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			sentinels = append(sentinels, s)
		}
	}
	return sentinels
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
