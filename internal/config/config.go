// Package config loads and validates the proxy configuration.
//
// DESIGN: All configuration comes from environment variables with documented
// defaults. The snapshot is built once at startup and treated as immutable;
// per-request overrides (headers, body fields) are resolved by the gateway
// against this snapshot, never by mutating it.
//
// FILES:
//   - config.go: Root Config struct, FromEnv(), Validate()
//   - env.go:    Typed environment lookup helpers
package config

import (
	"fmt"
	"strings"
	"time"
)

// Compression levels accepted by SYNTHLANG_COMPRESSION_LEVEL.
const (
	LevelLow    = "low"
	LevelMedium = "medium"
	LevelHigh   = "high"
)

// Config is the root configuration for the SynthLang proxy.
type Config struct {
	Server    ServerConfig    // HTTP server settings
	Upstream  UpstreamConfig  // Upstream LLM provider
	Auth      AuthConfig      // API keys and role assignment
	RateLimit RateLimitConfig // Per-role request quotas
	Pipeline  PipelineConfig  // SynthLang compression settings
	PII       PIIConfig       // Redaction toggles
	Cache     CacheConfig     // Semantic cache settings
	Keywords  KeywordConfig   // Keyword pattern detection
	Audit     AuditConfig     // Audit persistence
	Logging   LoggingConfig   // Log level and format
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host         string        // HOST (default "0.0.0.0")
	Port         int           // PORT (default 8000)
	ReadTimeout  time.Duration // SERVER_READ_TIMEOUT_SECONDS (default 30)
	WriteTimeout time.Duration // SERVER_WRITE_TIMEOUT_SECONDS (default 300, must cover streaming)
	MaxBodyBytes int64         // MAX_BODY_BYTES (default 10 MiB)
}

// UpstreamConfig contains the upstream LLM provider settings.
type UpstreamConfig struct {
	BaseURL      string        // OPENAI_API_BASE (default "https://api.openai.com/v1")
	APIKey       string        // OPENAI_API_KEY (required)
	DefaultModel string        // DEFAULT_MODEL (default "gpt-4o-mini")
	Timeout      time.Duration // LLM_TIMEOUT_SECONDS (default 30); idle timeout for streams
}

// AuthConfig contains API key and role settings.
type AuthConfig struct {
	// APIKeys maps bearer token to user ID, parsed from API_KEYS
	// ("token:user" pairs, comma separated).
	APIKeys map[string]string
	// KeysPath is an optional YAML credentials file (AUTH_KEYS_PATH)
	// merged over APIKeys at startup.
	KeysPath     string
	DefaultRole  string   // DEFAULT_ROLE (default "basic")
	AdminUsers   []string // ADMIN_USERS (comma separated user IDs)
	PremiumUsers []string // PREMIUM_USERS (comma separated user IDs)
}

// RateLimitConfig contains per-role quotas in requests per minute.
type RateLimitConfig struct {
	DefaultQPM int // DEFAULT_RATE_LIMIT_QPM (default 60)
	PremiumQPM int // PREMIUM_RATE_LIMIT_QPM (default 120)
}

// PipelineConfig contains SynthLang compression settings.
type PipelineConfig struct {
	Enabled       bool   // USE_SYNTHLANG (default on)
	Level         string // SYNTHLANG_COMPRESSION_LEVEL: low, medium, high (default medium)
	UseGzip       bool   // DEFAULT_USE_GZIP (default off)
	GzipThreshold int    // GZIP_SIZE_THRESHOLD in chars (default 5000)
}

// PIIConfig contains redaction toggles.
type PIIConfig struct {
	MaskBeforeLLM bool // MASK_PII_BEFORE_LLM (default off)
	MaskInLogs    bool // MASK_PII_IN_LOGS (default on)
}

// CacheConfig contains semantic cache settings.
type CacheConfig struct {
	Enabled             bool    // ENABLE_CACHE (default on)
	SimilarityThreshold float64 // CACHE_SIMILARITY_THRESHOLD in [0,1] (default 0.95)
	MaxItems            int     // CACHE_MAX_ITEMS per model (default 1000)
	EmbeddingModel      string  // CACHE_EMBEDDING_MODEL (default "text-embedding-3-small")
}

// KeywordConfig contains keyword pattern detection settings.
type KeywordConfig struct {
	Enabled    bool    // ENABLE_KEYWORD_DETECTION (default on)
	Threshold  float64 // KEYWORD_DETECTION_THRESHOLD in [0,1] (default 0.7)
	ConfigPath string  // KEYWORD_CONFIG_PATH: optional TOML pattern file
}

// AuditConfig contains audit persistence settings.
type AuditConfig struct {
	Sink      string // AUDIT_SINK: "sqlite", "stdout", or "none" (default "sqlite")
	DBPath    string // AUDIT_DB_PATH (default "synthlang_audit.db")
	QueueSize int    // AUDIT_QUEUE_SIZE (default 1024)
}

// LoggingConfig contains log settings.
type LoggingConfig struct {
	Level  string // LOG_LEVEL (default "info")
	Format string // LOG_FORMAT: "json", "console", or "" for auto-detect
	Output string // LOG_OUTPUT: "stdout", "stderr", or a file path
}

// FromEnv builds a Config from the process environment and validates it.
func FromEnv() (*Config, error) {
	apiKeys, err := parseAPIKeys(envString("API_KEYS", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         envString("HOST", "0.0.0.0"),
			Port:         envInt("PORT", 8000),
			ReadTimeout:  envSeconds("SERVER_READ_TIMEOUT_SECONDS", 30),
			WriteTimeout: envSeconds("SERVER_WRITE_TIMEOUT_SECONDS", 300),
			MaxBodyBytes: int64(envInt("MAX_BODY_BYTES", 10<<20)),
		},
		Upstream: UpstreamConfig{
			BaseURL:      strings.TrimRight(envString("OPENAI_API_BASE", "https://api.openai.com/v1"), "/"),
			APIKey:       envString("OPENAI_API_KEY", ""),
			DefaultModel: envString("DEFAULT_MODEL", "gpt-4o-mini"),
			Timeout:      envSeconds("LLM_TIMEOUT_SECONDS", 30),
		},
		Auth: AuthConfig{
			APIKeys:      apiKeys,
			KeysPath:     envString("AUTH_KEYS_PATH", ""),
			DefaultRole:  envString("DEFAULT_ROLE", "basic"),
			AdminUsers:   envList("ADMIN_USERS"),
			PremiumUsers: envList("PREMIUM_USERS"),
		},
		RateLimit: RateLimitConfig{
			DefaultQPM: envInt("DEFAULT_RATE_LIMIT_QPM", 60),
			PremiumQPM: envInt("PREMIUM_RATE_LIMIT_QPM", 120),
		},
		Pipeline: PipelineConfig{
			Enabled:       envBool("USE_SYNTHLANG", true),
			Level:         envString("SYNTHLANG_COMPRESSION_LEVEL", LevelMedium),
			UseGzip:       envBool("DEFAULT_USE_GZIP", false),
			GzipThreshold: envInt("GZIP_SIZE_THRESHOLD", 5000),
		},
		PII: PIIConfig{
			MaskBeforeLLM: envBool("MASK_PII_BEFORE_LLM", false),
			MaskInLogs:    envBool("MASK_PII_IN_LOGS", true),
		},
		Cache: CacheConfig{
			Enabled:             envBool("ENABLE_CACHE", true),
			SimilarityThreshold: envFloat("CACHE_SIMILARITY_THRESHOLD", 0.95),
			MaxItems:            envInt("CACHE_MAX_ITEMS", 1000),
			EmbeddingModel:      envString("CACHE_EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		Keywords: KeywordConfig{
			Enabled:    envBool("ENABLE_KEYWORD_DETECTION", true),
			Threshold:  envFloat("KEYWORD_DETECTION_THRESHOLD", 0.7),
			ConfigPath: envString("KEYWORD_CONFIG_PATH", ""),
		},
		Audit: AuditConfig{
			Sink:      envString("AUDIT_SINK", "sqlite"),
			DBPath:    envString("AUDIT_DB_PATH", "synthlang_audit.db"),
			QueueSize: envInt("AUDIT_QUEUE_SIZE", 1024),
		},
		Logging: LoggingConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", ""),
			Output: envString("LOG_OUTPUT", "stdout"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// parseAPIKeys parses "token:user" pairs from a comma separated string.
func parseAPIKeys(raw string) (map[string]string, error) {
	keys := make(map[string]string)
	if raw == "" {
		return keys, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, user, ok := strings.Cut(pair, ":")
		if !ok || token == "" || user == "" {
			return nil, fmt.Errorf("malformed API_KEYS entry %q (want token:user)", pair)
		}
		keys[token] = user
	}
	return keys, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("invalid MAX_BODY_BYTES: %d (must be positive)", c.Server.MaxBodyBytes)
	}

	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("OPENAI_API_BASE is required")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("invalid LLM_TIMEOUT_SECONDS: must be positive")
	}

	if c.Auth.DefaultRole == "" {
		return fmt.Errorf("DEFAULT_ROLE is required")
	}

	if c.RateLimit.DefaultQPM < 1 {
		return fmt.Errorf("invalid DEFAULT_RATE_LIMIT_QPM: %d (must be >= 1)", c.RateLimit.DefaultQPM)
	}
	if c.RateLimit.PremiumQPM < 1 {
		return fmt.Errorf("invalid PREMIUM_RATE_LIMIT_QPM: %d (must be >= 1)", c.RateLimit.PremiumQPM)
	}

	switch c.Pipeline.Level {
	case LevelLow, LevelMedium, LevelHigh:
	default:
		return fmt.Errorf("invalid SYNTHLANG_COMPRESSION_LEVEL: %q (must be low, medium, or high)", c.Pipeline.Level)
	}
	if c.Pipeline.GzipThreshold < 0 {
		return fmt.Errorf("invalid GZIP_SIZE_THRESHOLD: %d (must be >= 0)", c.Pipeline.GzipThreshold)
	}

	if c.Cache.SimilarityThreshold < 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("invalid CACHE_SIMILARITY_THRESHOLD: %v (must be in [0,1])", c.Cache.SimilarityThreshold)
	}
	if c.Cache.MaxItems < 1 {
		return fmt.Errorf("invalid CACHE_MAX_ITEMS: %d (must be >= 1)", c.Cache.MaxItems)
	}
	if c.Cache.EmbeddingModel == "" {
		return fmt.Errorf("CACHE_EMBEDDING_MODEL is required")
	}

	if c.Keywords.Threshold < 0 || c.Keywords.Threshold > 1 {
		return fmt.Errorf("invalid KEYWORD_DETECTION_THRESHOLD: %v (must be in [0,1])", c.Keywords.Threshold)
	}

	switch c.Audit.Sink {
	case "sqlite", "stdout", "none":
	default:
		return fmt.Errorf("invalid AUDIT_SINK: %q (must be sqlite, stdout, or none)", c.Audit.Sink)
	}
	if c.Audit.Sink == "sqlite" && c.Audit.DBPath == "" {
		return fmt.Errorf("AUDIT_DB_PATH is required when AUDIT_SINK=sqlite")
	}
	if c.Audit.QueueSize < 1 {
		return fmt.Errorf("invalid AUDIT_QUEUE_SIZE: %d (must be >= 1)", c.Audit.QueueSize)
	}

	return nil
}
