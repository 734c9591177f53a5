package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/stipendhq/stipend-engine/pkg/auth"
	"github.com/stipendhq/stipend-engine/pkg/config"
	"github.com/stipendhq/stipend-engine/pkg/database"
	"github.com/stipendhq/stipend-engine/pkg/handlers"
	"github.com/stipendhq/stipend-engine/pkg/llm"
	"github.com/stipendhq/stipend-engine/pkg/logging"
	"github.com/stipendhq/stipend-engine/pkg/middleware"
	"github.com/stipendhq/stipend-engine/pkg/repositories"
	"github.com/stipendhq/stipend-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", cfg.Database.Database),
		zap.String("generation_provider", cfg.Generation.Provider))

	ctx := context.Background()

	// Run migrations over a plain database/sql connection; golang-migrate's
	// postgres driver needs one.
	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.String("error", logging.SanitizeError(err)))
	}
	if err := database.RunMigrations(migrationDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.String("error", logging.SanitizeError(err)))
	}
	_ = migrationDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database",
			zap.String("url", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
			zap.String("error", logging.SanitizeError(err)))
	}
	defer db.Close()

	// LLM backends
	generationClient, err := llm.NewGenerationClient(
		cfg.Generation.Provider, cfg.Generation.BaseURL,
		cfg.Generation.Model, cfg.Generation.APIKey, logger)
	if err != nil {
		logger.Fatal("Failed to create generation client", zap.Error(err))
	}
	embeddingClient, err := llm.NewEmbeddingClient(
		cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.APIKey, logger)
	if err != nil {
		logger.Fatal("Failed to create embedding client", zap.Error(err))
	}
	draftWriter := llm.NewDraftWriter(generationClient, logger)

	// Repositories
	knowledgeRepo := repositories.NewKnowledgeRepository(db.Pool)
	mappingRepo := repositories.NewFieldMappingRepository(db.Pool)
	appRepo := repositories.NewApplicationRepository(db.Pool)

	// Services
	reconciler := services.NewReconcilerService(knowledgeRepo, logger)
	consensusService := services.NewConsensusService(knowledgeRepo, cfg.Consensus.NullSentinels, logger)
	synthesisService := services.NewSynthesisService(
		knowledgeRepo, draftWriter, embeddingClient,
		cfg.Generation.Timeout(), cfg.Embedding.Timeout(), logger)
	acceptanceService := services.NewAcceptanceService(db, knowledgeRepo, mappingRepo, appRepo, logger)
	knowledgeService := services.NewKnowledgeService(
		knowledgeRepo, reconciler, embeddingClient, cfg.Embedding.Timeout(), logger)

	// Auth
	verifier, err := auth.NewJWKSVerifier(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints(),
	})
	if err != nil {
		logger.Fatal("Failed to create token verifier", zap.Error(err))
	}
	authMiddleware := auth.NewMiddleware(verifier, logger)

	mux := http.NewServeMux()

	// Register handlers
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewKnowledgeHandler(knowledgeService, reconciler, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewSynthesisHandler(synthesisService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewAcceptanceHandler(acceptanceService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewConsensusHandler(consensusService, logger).RegisterRoutes(mux, authMiddleware)

	handler := middleware.RequestLogger(logger)(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting stipend-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))

	if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
		err = http.ListenAndServeTLS(addr, cfg.TLSCertPath, cfg.TLSKeyPath, handler)
	} else {
		err = http.ListenAndServe(addr, handler)
	}
	if err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

// buildLogger picks the zap preset for the environment.
func buildLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
