package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	redis "github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/wasllot/llm-routing-plane/internal/breaker"
	"github.com/wasllot/llm-routing-plane/internal/chat"
	"github.com/wasllot/llm-routing-plane/internal/config"
	"github.com/wasllot/llm-routing-plane/internal/conversation"
	"github.com/wasllot/llm-routing-plane/internal/embedding"
	"github.com/wasllot/llm-routing-plane/internal/prompt"
	"github.com/wasllot/llm-routing-plane/internal/providers"
	"github.com/wasllot/llm-routing-plane/internal/providers/anthropic"
	openaiprovider "github.com/wasllot/llm-routing-plane/internal/providers/openai"
	"github.com/wasllot/llm-routing-plane/internal/providers/static"
	"github.com/wasllot/llm-routing-plane/internal/routing"
	"github.com/wasllot/llm-routing-plane/internal/scraper"
	"github.com/wasllot/llm-routing-plane/internal/server"
	"github.com/wasllot/llm-routing-plane/internal/telemetry"
)

// Application wires the routing plane's orchestrators together and
// owns the HTTP server's lifecycle, following the teacher's
// Application/NewApplication/Run shape.
type Application struct {
	config *config.Config
	server *server.Server
	logger *logrus.Logger

	db          *sql.DB
	redisClient *redis.Client
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	app := &Application{config: cfg, logger: logger}

	providerOrder, breakers, err := app.buildProviders()
	if err != nil {
		return nil, err
	}

	rec := telemetry.Recorder(telemetry.NewPromRecorder())

	router := routing.New(
		providerOrder,
		breakers,
		static.New(nil),
		routing.RetryConfig{
			MaxAttempts: cfg.Router.MaxAttempts,
			BaseDelay:   cfg.Router.BaseRetryDelay,
			MaxDelay:    cfg.Router.MaxRetryDelay,
		},
		rec,
		logger,
	)

	vectors, err := app.buildVectorRepository()
	if err != nil {
		return nil, err
	}

	embedder, err := app.buildEmbeddingProvider()
	if err != nil {
		return nil, err
	}

	convStore, err := app.buildConversationStore()
	if err != nil {
		return nil, err
	}

	assembler := prompt.NewAssembler("")
	chatService := chat.NewService(embedder, vectors, router, convStore, assembler, logger)

	scraperSvc, err := app.buildScraperService()
	if err != nil {
		return nil, err
	}

	serverInstance, err := server.NewServer(server.Deps{
		Chat:       chatService,
		Embeddings: embedder,
		Vectors:    vectors,
		Scraper:    scraperSvc,
		Telemetry:  rec,
	}, cfg.ToServerConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	app.server = serverInstance

	return app, nil
}

// buildProviders constructs the ordered provider attempt list and a
// circuit breaker per provider, backed by a shared Redis client when
// configured, or a fail-open NullBreaker otherwise.
func (app *Application) buildProviders() ([]providers.Provider, map[string]breaker.Breaker, error) {
	cfg := app.config
	var order []providers.Provider
	breakers := make(map[string]breaker.Breaker)

	var redisClient *redis.Client
	if cfg.Breaker.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Breaker.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid breaker redis_url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		app.redisClient = redisClient
	}

	breakerCfg := cfg.Breaker.ToBreakerConfig()

	for _, name := range cfg.Router.ProviderOrder {
		switch name {
		case "openai":
			if cfg.Providers.OpenAI == nil || cfg.Providers.OpenAI.APIKey == "" {
				continue
			}
			order = append(order, openaiprovider.NewOpenAIProvider(cfg.Providers.OpenAI, app.logger))
			breakers["openai"] = newBreaker("openai", redisClient, breakerCfg, app.logger)
		case "anthropic":
			if cfg.Providers.Anthropic == nil || cfg.Providers.Anthropic.APIKey == "" {
				continue
			}
			order = append(order, anthropic.NewAnthropicProvider(cfg.Providers.Anthropic, app.logger))
			breakers["anthropic"] = newBreaker("anthropic", redisClient, breakerCfg, app.logger)
		default:
			app.logger.WithField("provider", name).Warn("unknown provider in router.provider_order, skipping")
		}
	}

	if len(order) == 0 {
		return nil, nil, fmt.Errorf("no providers were configured - check your configuration and API keys")
	}

	return order, breakers, nil
}

// newBreaker builds a Redis-backed breaker, or a fail-open NullBreaker
// if no Redis client is configured — the breaker store is an
// optimization, not a correctness requirement (breaker.RedisBreaker
// itself already fails open on store errors).
func newBreaker(name string, client *redis.Client, cfg breaker.Config, logger *logrus.Logger) breaker.Breaker {
	if client == nil {
		return breaker.NullBreaker{}
	}
	return breaker.New(name, client, cfg, logger)
}

// buildVectorRepository selects the in-process or Postgres-backed
// vector repository per config.
func (app *Application) buildVectorRepository() (embedding.VectorRepository, error) {
	cfg := app.config.Embedding
	if cfg.Backend != "postgres" {
		return embedding.NewInMemoryRepository(), nil
	}

	db, err := app.sharedPostgres(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect embedding postgres store: %w", err)
	}
	return embedding.NewPostgresRepository(db), nil
}

// buildEmbeddingProvider constructs the OpenAI-backed embedding
// generator, reusing the chat provider's API key since both speak to
// the same OpenAI account.
func (app *Application) buildEmbeddingProvider() (embedding.Provider, error) {
	if app.config.Providers.OpenAI == nil || app.config.Providers.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("embedding provider requires providers.openai.api_key")
	}
	client := openai.NewClient(app.config.Providers.OpenAI.APIKey)
	return embedding.NewOpenAIProvider(client, embedding.DefaultRetryConfig(), app.logger), nil
}

// buildConversationStore selects the in-process or Postgres-backed
// conversation store per config.
func (app *Application) buildConversationStore() (conversation.Store, error) {
	cfg := app.config.Conversation
	if cfg.Backend != "postgres" {
		return conversation.NewInMemoryStore(), nil
	}

	db, err := app.sharedPostgres(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect conversation postgres store: %w", err)
	}
	return conversation.NewPostgresStore(db), nil
}

// sharedPostgres returns the application's single *sql.DB, opening it
// on first use so the embedding and conversation stores share one
// connection pool when they're configured with the same DSN.
func (app *Application) sharedPostgres(dsn string) (*sql.DB, error) {
	if app.db != nil {
		return app.db, nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	app.db = db
	return db, nil
}

// buildScraperService constructs the browser pool and its content
// cache per config.
func (app *Application) buildScraperService() (*scraper.Service, error) {
	cfg := app.config.Scraper

	pool := scraper.NewPool(cfg.ToPoolConfig(), app.logger)

	var cache scraper.Cache
	if cfg.CacheBackend == "redis" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid scraper redis_url: %w", err)
		}
		cache = scraper.NewRedisCache(redis.NewClient(opts))
	} else {
		cache = scraper.NewInProcessCache()
	}

	return scraper.NewService(pool, cache, cfg.ToServiceConfig(), app.logger), nil
}

// Run starts the application
func (app *Application) Run() error {
	app.logger.Info("Starting routing plane server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		app.logger.WithField("address", ":"+app.config.Server.Port).Info("HTTP server starting")
		if err := app.server.Start(); err != nil {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	app.logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if app.redisClient != nil {
		app.redisClient.Close()
	}
	if app.db != nil {
		app.db.Close()
	}

	app.logger.Info("Graceful shutdown completed")
	return nil
}

// setupLogger configures the logger based on configuration
func setupLogger(logger *logrus.Logger, cfg config.LoggingConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	switch cfg.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
		}
		logger.SetOutput(file)
	}

	return nil
}

// printUsage prints application usage information
func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY              OpenAI API key\n")
	fmt.Fprintf(os.Stderr, "  ANTHROPIC_API_KEY           Anthropic API key\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_PORT             Server port (default: 8080)\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_DEBUG            Enable debug mode (bool)\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_LOG_LEVEL        Log level (debug,info,warn,error,fatal)\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_LOG_FORMAT       Log format (json,text)\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_BREAKER_REDIS_URL  Circuit breaker Redis URL\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_POSTGRES_DSN     Postgres DSN for embeddings/conversations\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_SCRAPER_REDIS_URL  Scraper cache Redis URL\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s --config configs/config.yaml\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY=sk-xxx ANTHROPIC_API_KEY=sk-ant-xxx %s\n", os.Args[0])
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		showHelp   = flag.Bool("help", false, "Show help message")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *version {
		fmt.Printf("llm-routing-plane v1.0.0\n")
		fmt.Printf("Build Date: %s\n", time.Now().Format("2006-01-02"))
		os.Exit(0)
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}
