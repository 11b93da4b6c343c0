// Package config loads and validates the routing plane's configuration:
// defaults, then an optional YAML file, then environment overrides,
// grounded on the teacher's defaults->file->env->validate pipeline
// (gopkg.in/yaml.v3). Sections beyond the teacher's original server/
// logging/security blocks add the breaker, embedding, conversation
// store, and scraper pool knobs spec.md §6 enumerates, plus guardrails
// adapted from original_source's scraper-service config validation:
// outside debug mode, CORS must not be wide-open and the scrape cache
// must stay enabled.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wasllot/llm-routing-plane/internal/breaker"
	"github.com/wasllot/llm-routing-plane/internal/middleware"
	"github.com/wasllot/llm-routing-plane/internal/providers/anthropic"
	"github.com/wasllot/llm-routing-plane/internal/providers/openai"
	"github.com/wasllot/llm-routing-plane/internal/routing"
	"github.com/wasllot/llm-routing-plane/internal/scraper"
	"github.com/wasllot/llm-routing-plane/internal/security"
	"github.com/wasllot/llm-routing-plane/internal/server"
	"github.com/wasllot/llm-routing-plane/internal/types"
)

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Router       RouterConfig       `yaml:"router"`
	Breaker      BreakerConfig      `yaml:"breaker"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Conversation ConversationConfig `yaml:"conversation"`
	Scraper      ScraperConfig      `yaml:"scraper"`
	Logging      LoggingConfig      `yaml:"logging"`
	Security     SecurityConfig     `yaml:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
	Debug          bool          `yaml:"debug"`
}

// RouterConfig holds routing engine configuration: the ordered
// provider attempt list and the shared retry schedule applied to
// Transient failures only (spec.md §4.3).
type RouterConfig struct {
	ProviderOrder   []string      `yaml:"provider_order"`
	MaxAttempts     int           `yaml:"max_retry_attempts"`
	BaseRetryDelay  time.Duration `yaml:"base_retry_delay"`
	MaxRetryDelay   time.Duration `yaml:"max_retry_delay"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// BreakerConfig holds the per-provider circuit breaker thresholds
// (spec.md §4.2) plus the Redis store address backing it.
type BreakerConfig struct {
	RedisURL     string        `yaml:"redis_url"`
	Threshold    int           `yaml:"threshold"`
	Window       time.Duration `yaml:"window"`
	OpenDuration time.Duration `yaml:"open_duration"`
	StateTTL     time.Duration `yaml:"state_ttl"`
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

func (c BreakerConfig) ToBreakerConfig() breaker.Config {
	return breaker.Config{
		Threshold:    c.Threshold,
		Window:       c.Window,
		OpenDuration: c.OpenDuration,
		StateTTL:     c.StateTTL,
		StoreTimeout: c.StoreTimeout,
	}
}

// ProvidersConfig holds configuration for all providers
type ProvidersConfig struct {
	OpenAI    *openai.OpenAIConfig       `yaml:"openai"`
	Anthropic *anthropic.AnthropicConfig `yaml:"anthropic"`
}

// EmbeddingConfig holds embedding-provider and vector-store settings.
// Dimension is fixed by embedding.Dimension (spec.md §9 Open Question:
// the implementer picks one dimension and rejects mismatches at save
// time); it is surfaced here only so operators can see what's in
// effect, not to make it configurable.
type EmbeddingConfig struct {
	Dimension           int     `yaml:"dimension"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	// Backend selects the vector repository: "in_process" (default,
	// tests and small deployments) or "postgres" (durable, pgvector).
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ConversationConfig selects and tunes the conversation store.
type ConversationConfig struct {
	// Backend selects the store: "in_process" or "postgres".
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ScraperConfig tunes the browser pool and its content cache
// (spec.md §4.8/§6).
type ScraperConfig struct {
	PoolSize       int           `yaml:"pool_size"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	PageTimeout    time.Duration `yaml:"page_timeout"`
	Headless       bool          `yaml:"headless"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	// CacheBackend selects the content cache: "in_process" or "redis".
	CacheBackend string `yaml:"cache_backend"`
	RedisURL     string `yaml:"redis_url"`
}

func (c ScraperConfig) ToPoolConfig() scraper.PoolConfig {
	return scraper.PoolConfig{Size: c.PoolSize, AcquireTimeout: c.AcquireTimeout, Headless: c.Headless}
}

func (c ScraperConfig) ToServiceConfig() scraper.ServiceConfig {
	return scraper.ServiceConfig{CacheTTL: c.CacheTTL, PageTimeout: c.PageTimeout}
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	APIKeys           []string         `yaml:"api_keys"`
	RateLimiting      RateLimitConfig  `yaml:"rate_limiting"`
	CORS              CORSConfig       `yaml:"cors"`
	RequestValidation ValidationConfig `yaml:"request_validation"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool          `yaml:"enabled"`
	RequestsPerMin int           `yaml:"requests_per_minute"`
	BurstSize      int           `yaml:"burst_size"`
	WindowDuration time.Duration `yaml:"window_duration"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// ValidationConfig holds request validation configuration
type ValidationConfig struct {
	MaxRequestSize   int64 `yaml:"max_request_size"`
	MaxMessageLength int   `yaml:"max_message_length"`
	MaxMessages      int   `yaml:"max_messages"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	config.setDefaults()

	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	config.loadFromEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:           "8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
		Debug:          false,
	}

	c.Router = RouterConfig{
		ProviderOrder:  []string{"openai", "anthropic"},
		MaxAttempts:    routing.DefaultRetryConfig().MaxAttempts,
		BaseRetryDelay: routing.DefaultRetryConfig().BaseDelay,
		MaxRetryDelay:  routing.DefaultRetryConfig().MaxDelay,
		RequestTimeout: 120 * time.Second,
	}

	defaultBreaker := breaker.DefaultConfig()
	c.Breaker = BreakerConfig{
		RedisURL:     "redis://localhost:6379/0",
		Threshold:    defaultBreaker.Threshold,
		Window:       defaultBreaker.Window,
		OpenDuration: defaultBreaker.OpenDuration,
		StateTTL:     defaultBreaker.StateTTL,
		StoreTimeout: defaultBreaker.StoreTimeout,
	}

	c.Embedding = EmbeddingConfig{
		Dimension:           1536,
		SimilarityThreshold: 0.5,
		Backend:             "in_process",
	}

	c.Conversation = ConversationConfig{
		Backend: "in_process",
	}

	defaultPool := scraper.DefaultPoolConfig()
	defaultScrapeSvc := scraper.DefaultServiceConfig()
	c.Scraper = ScraperConfig{
		PoolSize:       defaultPool.Size,
		AcquireTimeout: defaultPool.AcquireTimeout,
		PageTimeout:    defaultScrapeSvc.PageTimeout,
		Headless:       defaultPool.Headless,
		CacheTTL:       defaultScrapeSvc.CacheTTL,
		CacheBackend:   "in_process",
	}

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	c.Security = SecurityConfig{
		APIKeys: []string{},
		RateLimiting: RateLimitConfig{
			Enabled:        false,
			RequestsPerMin: 60,
			BurstSize:      10,
			WindowDuration: time.Minute,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
		},
		RequestValidation: ValidationConfig{
			MaxRequestSize:   10 << 20, // 10MB
			MaxMessageLength: 1000,     // spec.md §6: question <= 1000 chars
			MaxMessages:      50,
		},
	}

	c.Providers = ProvidersConfig{
		OpenAI: &openai.OpenAIConfig{
			Model: "gpt-4o-mini",
			Models: []types.ModelInfo{
				{Name: "gpt-4o", DisplayName: "GPT-4o", MaxContextWindow: 128000, MaxOutputTokens: 4096},
				{Name: "gpt-4o-mini", DisplayName: "GPT-4o mini", MaxContextWindow: 128000, MaxOutputTokens: 16384},
			},
			Timeout: 30 * time.Second,
		},
		Anthropic: &anthropic.AnthropicConfig{
			Model: "claude-3-5-sonnet-20241022",
			Models: []types.ModelInfo{
				{Name: "claude-3-5-sonnet-20241022", DisplayName: "Claude 3.5 Sonnet", MaxContextWindow: 200000, MaxOutputTokens: 8192},
			},
			Timeout: 30 * time.Second,
		},
	}
}

// loadFromFile loads configuration from YAML file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if port := os.Getenv("LLM_ROUTER_PORT"); port != "" {
		c.Server.Port = port
	}
	if debug := os.Getenv("LLM_ROUTER_DEBUG"); debug != "" {
		if v, err := strconv.ParseBool(debug); err == nil {
			c.Server.Debug = v
		}
	}

	if openaiKey := os.Getenv("OPENAI_API_KEY"); openaiKey != "" {
		if c.Providers.OpenAI != nil {
			c.Providers.OpenAI.APIKey = openaiKey
		}
	}
	if anthropicKey := os.Getenv("ANTHROPIC_API_KEY"); anthropicKey != "" {
		if c.Providers.Anthropic != nil {
			c.Providers.Anthropic.APIKey = anthropicKey
		}
	}

	if level := os.Getenv("LLM_ROUTER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("LLM_ROUTER_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	if redisURL := os.Getenv("LLM_ROUTER_BREAKER_REDIS_URL"); redisURL != "" {
		c.Breaker.RedisURL = redisURL
	}
	if postgresDSN := os.Getenv("LLM_ROUTER_POSTGRES_DSN"); postgresDSN != "" {
		c.Embedding.PostgresDSN = postgresDSN
		c.Conversation.PostgresDSN = postgresDSN
	}
	if scraperRedisURL := os.Getenv("LLM_ROUTER_SCRAPER_REDIS_URL"); scraperRedisURL != "" {
		c.Scraper.RedisURL = scraperRedisURL
	}
}

// validate validates the configuration, including guardrails adapted
// from original_source's scraper-service config: outside debug mode,
// CORS must not be wide-open and the scrape cache must stay enabled.
// Debug mode itself is accepted and lifts both checks.
func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	providerCount := 0
	if c.Providers.OpenAI != nil {
		if c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("OpenAI API key is required when OpenAI provider is enabled")
		}
		providerCount++
	}
	if c.Providers.Anthropic != nil {
		if c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("Anthropic API key is required when Anthropic provider is enabled")
		}
		providerCount++
	}
	if providerCount == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}
	if c.Embedding.Backend == "postgres" && c.Embedding.PostgresDSN == "" {
		return fmt.Errorf("embedding.postgres_dsn is required when embedding.backend is postgres")
	}
	if c.Conversation.Backend == "postgres" && c.Conversation.PostgresDSN == "" {
		return fmt.Errorf("conversation.postgres_dsn is required when conversation.backend is postgres")
	}
	if c.Scraper.CacheBackend == "redis" && c.Scraper.RedisURL == "" {
		return fmt.Errorf("scraper.redis_url is required when scraper.cache_backend is redis")
	}

	if !c.Server.Debug {
		for _, origin := range c.Security.CORS.AllowedOrigins {
			if origin == "*" {
				return fmt.Errorf("CORS allowed_origins must not be wide-open (\"*\") outside debug mode")
			}
		}
		if c.Scraper.CacheBackend == "" || (c.Scraper.CacheTTL <= 0) {
			return fmt.Errorf("scrape cache must stay enabled outside debug mode")
		}
	}

	return nil
}

// ToServerConfig converts to server.ServerConfig
func (c *Config) ToServerConfig() *server.ServerConfig {
	return &server.ServerConfig{
		Port:           c.Server.Port,
		ReadTimeout:    c.Server.ReadTimeout,
		WriteTimeout:   c.Server.WriteTimeout,
		MaxHeaderBytes: c.Server.MaxHeaderBytes,
		Security:       c.ToSecurityMiddlewareConfig(),
	}
}

// ToSecurityMiddlewareConfig converts to middleware.SecurityMiddlewareConfig
func (c *Config) ToSecurityMiddlewareConfig() *middleware.SecurityMiddlewareConfig {
	return &middleware.SecurityMiddlewareConfig{
		Auth: &security.Config{
			APIKeys:        c.Security.APIKeys,
			RequireAuth:    len(c.Security.APIKeys) > 0,
			AllowedOrigins: c.Security.CORS.AllowedOrigins,
		},
		RateLimit: &security.RateLimitConfig{
			Enabled:           c.Security.RateLimiting.Enabled,
			RequestsPerMinute: c.Security.RateLimiting.RequestsPerMin,
			BurstSize:         c.Security.RateLimiting.BurstSize,
			WindowDuration:    c.Security.RateLimiting.WindowDuration,
			CleanupInterval:   5 * time.Minute,
		},
		Validation: &security.ValidationConfig{
			MaxRequestSize: c.Security.RequestValidation.MaxRequestSize,
			AllowedMethods: c.Security.CORS.AllowedMethods,
			ContentTypes:   []string{"application/json", "text/plain"},
			MaxJSONDepth:   20,
			MaxFieldLength: c.Security.RequestValidation.MaxMessageLength,
		},
		Audit: &security.AuditConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: 10 * time.Second,
		},
	}
}

// SaveToFile saves the current configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetEnabledProviders returns a list of enabled provider names
func (c *Config) GetEnabledProviders() []string {
	var enabled []string

	if c.Providers.OpenAI != nil && c.Providers.OpenAI.APIKey != "" {
		enabled = append(enabled, "openai")
	}
	if c.Providers.Anthropic != nil && c.Providers.Anthropic.APIKey != "" {
		enabled = append(enabled, "anthropic")
	}

	return enabled
}
