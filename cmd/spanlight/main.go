// Spanlight trace observability server: runs the ingest receiver, the
// queue workers, the baseline engine, and the query API.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/spanlight/spanlight/pkg/api"
	"github.com/spanlight/spanlight/pkg/baseline"
	"github.com/spanlight/spanlight/pkg/cleanup"
	"github.com/spanlight/spanlight/pkg/config"
	"github.com/spanlight/spanlight/pkg/database"
	"github.com/spanlight/spanlight/pkg/ingest"
	"github.com/spanlight/spanlight/pkg/metrics"
	"github.com/spanlight/spanlight/pkg/pricing"
	"github.com/spanlight/spanlight/pkg/queue"
	"github.com/spanlight/spanlight/pkg/scorer"
	"github.com/spanlight/spanlight/pkg/services"
	"github.com/spanlight/spanlight/pkg/version"
)

func main() {
	envPath := flag.String("env-file", ".env", "Path to an optional .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envPath, "error", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	slog.Info("Starting spanlight", "version", version.Full())

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Pricing table
	pricingTable := pricing.NewTable()
	if cfg.PricingPath != "" {
		if err := pricingTable.LoadFile(cfg.PricingPath); err != nil {
			slog.Error("Failed to load pricing overrides", "path", cfg.PricingPath, "error", err)
			os.Exit(1)
		}
		slog.Info("Loaded pricing overrides", "path", cfg.PricingPath)
	}

	// 4. Domain services
	db := dbClient.DB()
	spanService := services.NewSpanService(db)
	traceService := services.NewTraceService(spanService)
	analyticsService := services.NewAnalyticsService(db)
	alertService := services.NewAlertService(db)
	baselineService := services.NewBaselineService(db)
	quotaService := services.NewQuotaService(db)
	apiKeyService := services.NewAPIKeyService(db)
	slog.Info("Services initialized")

	// 5. Baseline engine, with the optional external scorer
	var sc scorer.Scorer
	if cfg.Scorer.URL != "" {
		sc = scorer.NewHTTPScorer(cfg.Scorer.URL, cfg.Scorer.Timeout)
		slog.Info("Semantic scorer configured", "url", cfg.Scorer.URL)
	} else {
		slog.Info("No semantic scorer configured, quality checks run hash-only")
	}
	engine := baseline.NewEngine(cfg.Baseline, baselineService, alertService, spanService, sc, logger)
	engine.Start(ctx)
	defer engine.Stop()

	// 6. Queue and worker pool
	batchQueue := queue.NewQueue(cfg.Queue)
	metrics.RegisterQueueDepth(
		func() float64 { return float64(batchQueue.Depth()) },
		func() float64 { return float64(batchQueue.DeadLetterCount()) },
	)
	workerPool := queue.NewWorkerPool(batchQueue, cfg.Queue, pricingTable, spanService, engine)
	workerPool.Start(ctx)

	// 7. Retention sweep
	cleanupService := cleanup.NewService(cfg.Retention, spanService, alertService, baselineService, quotaService)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	// 8. HTTP servers
	receiver := ingest.NewReceiver(cfg.Receiver, batchQueue, quotaService, logger)
	receiverServer := &http.Server{
		Addr:    ":" + cfg.Receiver.Port,
		Handler: api.NewReceiverServer(cfg.Receiver, receiver, apiKeyService, dbClient, workerPool).Router(),
	}
	queryServer := &http.Server{
		Addr: ":" + cfg.Query.Port,
		Handler: api.NewQueryServer(cfg.Query, dbClient, apiKeyService,
			spanService, traceService, analyticsService, alertService).Router(),
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("Receiver listening", "addr", receiverServer.Addr)
		if err := receiverServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		slog.Info("Query API listening", "addr", queryServer.Addr)
		if err := queryServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("Spanlight started successfully", "workers", cfg.Queue.WorkerCount)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: stop accepting, drain the queue, then stop the
	// background services via the deferred Stops.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := receiverServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("Receiver shutdown error", "error", err)
	}

	batchQueue.Close()

	workerShutdownCtx, workerCancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer workerCancel()
	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-workerShutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded, undrained batches will be re-ingested by clients")
	}

	if err := queryServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("Query API shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
