package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"go.uber.org/zap"

	"github.com/strataforge/strata-engine/pkg/clock"
	"github.com/strataforge/strata-engine/pkg/config"
	"github.com/strataforge/strata-engine/pkg/database"
	"github.com/strataforge/strata-engine/pkg/embedding"
	"github.com/strataforge/strata-engine/pkg/logging"
	"github.com/strataforge/strata-engine/pkg/mirror"
	"github.com/strataforge/strata-engine/pkg/repositories"
	"github.com/strataforge/strata-engine/pkg/retry"
	"github.com/strataforge/strata-engine/pkg/services"
	"github.com/strataforge/strata-engine/pkg/services/workqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("engine exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting strata-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env))

	// Migrations run over database/sql; the pool below serves live traffic.
	migDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	if err := database.RunMigrations(migDB, "migrations", logger); err != nil {
		migDB.Close()
		return err
	}
	migDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to substrate database: %w", err)
	}
	defer db.Close()

	entityRepo := repositories.NewEntityRepository(db)
	snapshotRepo := repositories.NewSnapshotRepository(db)
	provenanceRepo := repositories.NewProvenanceRepository(db)
	conflictRepo := repositories.NewConflictRepository(db)
	relationshipRepo := repositories.NewRelationshipRepository(db)
	cursorRepo := repositories.NewSyncCursorRepository(db)

	var embedder embedding.Provider
	if cfg.Search.OpenAIKey != "" {
		embedder = embedding.NewOpenAIProvider(
			cfg.Search.OpenAIKey, cfg.Search.EmbeddingModel, cfg.Search.EmbeddingDimension)
	}

	clk := clock.System{}

	entitySvc := services.NewEntityService(
		db, entityRepo, snapshotRepo, provenanceRepo, conflictRepo, relationshipRepo,
		embedder, cfg.Search.EmbeddingDimension, clk, logger)

	retrievalSvc := services.NewRetrievalService(
		entityRepo, relationshipRepo, embedding.TermOverlapScorer{},
		cfg.Search.EmbeddingDimension, logger)

	engine := services.ProbeGraphEngine(cfg.Graph, logger)
	logger.Info("graph engine selected",
		zap.String("engine", engine.Capability().Name),
		zap.Strings("algorithms", engine.Capability().Algorithms))
	graphSvc := services.NewGraphService(entityRepo, relationshipRepo, engine, cfg.Graph, logger)

	// The mirror often comes up after the engine in dev; retry before giving up.
	m, err := retry.DoWithResult(ctx, nil, func() (mirror.Mirror, error) {
		return newMirror(ctx, cfg)
	})
	if err != nil {
		return err
	}
	defer m.Close() //nolint:errcheck

	syncSvc := services.NewSyncService(
		entityRepo, entitySvc, cursorRepo, m, clk, cfg.Sync.BatchSize, logger)

	queue := workqueue.New(logger, workqueue.WithStrategy(workqueue.NewSerializedStrategy()))
	defer queue.Cancel()
	queue.Enqueue(services.NewAnalyticsRecomputeTask(graphSvc, cfg.Graph.RecomputeInterval, logger))

	queue.Enqueue(services.NewToMirrorTask(syncSvc, cfg.Sync.Interval, logger))
	queue.Enqueue(services.NewFromMirrorTask(syncSvc, cfg.Sync.Interval, logger))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"status":       "ok",
			"version":      cfg.Version,
			"graph_engine": engine.Capability().Name,
		})
	})

	// Debug surface for operators; the API layer proper lives in a separate
	// service in front of this engine.
	mux.HandleFunc("GET /internal/search", func(w http.ResponseWriter, r *http.Request) {
		if embedder == nil {
			http.Error(w, "no embedding provider configured", http.StatusServiceUnavailable)
			return
		}
		query := r.URL.Query().Get("q")
		if query == "" {
			http.Error(w, "missing q parameter", http.StatusBadRequest)
			return
		}
		vector, err := embedder.Embed(r.Context(), query)
		if err != nil {
			http.Error(w, logging.SanitizeError(err), http.StatusBadGateway)
			return
		}
		weights := services.HybridWeights{
			Vector: cfg.Search.VectorWeight,
			Text:   cfg.Search.TextWeight,
		}
		results, err := retrievalSvc.HybridSearch(r.Context(), query, vector, weights, 20)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(results) //nolint:errcheck
	})

	server := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}

	return nil
}

func newMirror(ctx context.Context, cfg *config.Config) (mirror.Mirror, error) {
	switch cfg.Mirror.Type {
	case "mssql":
		return mirror.NewMSSQLMirror(ctx, &cfg.Mirror)
	case "postgres", "":
		return mirror.NewPostgresMirror(ctx, &cfg.Mirror)
	default:
		return nil, fmt.Errorf("unknown mirror type %q", cfg.Mirror.Type)
	}
}
