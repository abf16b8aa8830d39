package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/propstack/mail-worker/internal/config"
	"github.com/propstack/mail-worker/internal/database"
	"github.com/propstack/mail-worker/internal/graph"
	"github.com/propstack/mail-worker/internal/handlers"
	"github.com/propstack/mail-worker/internal/metrics"
	"github.com/propstack/mail-worker/internal/openrouter"
	"github.com/propstack/mail-worker/internal/repository"
	"github.com/propstack/mail-worker/internal/service"
	"github.com/propstack/mail-worker/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database handle: %v", err)
	}

	jobRepo := repository.NewJobRepository(sqlDB)
	connectionRepo := repository.NewConnectionRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	processedRepo := repository.NewProcessedEmailRepository(db)
	sentRepo := repository.NewSentEmailRepository(db)
	crmRepo := repository.NewCRMRepository(db)

	graphClient := graph.NewClient(cfg.GraphClientID, cfg.GraphClientSecret, cfg.GraphTenantID)

	var analyzer service.Analyzer
	if cfg.OpenRouterAPIKey != "" {
		analyzer = openrouter.NewClient(cfg.OpenRouterAPIKey)
	} else {
		log.Println("OPENROUTER_API_KEY not set, AI analysis disabled")
	}

	processor := service.NewEmailProcessor(connectionRepo, processedRepo, crmRepo, jobRepo, graphClient, analyzer)
	sender := service.NewEmailSender(connectionRepo, sentRepo, jobRepo, graphClient)
	subscriptions := service.NewSubscriptionManager(subscriptionRepo, connectionRepo, jobRepo, graphClient)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartJobStatsCollector(ctx, jobRepo, 15*time.Second)

	router := handlers.NewRouter(
		handlers.NewWebhookHandler(subscriptionRepo, jobRepo),
		handlers.NewJobHandler(jobRepo),
		metrics.Handler(),
	)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
			stop()
		}
	}()

	w := worker.New(jobRepo, processor, sender, subscriptions, worker.Options{
		PollInterval:         time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		MaxConcurrentJobs:    cfg.MaxConcurrentJobs,
		StaleJobMinutes:      cfg.StaleJobMinutes,
		CleanupRetentionDays: cfg.CleanupRetentionDays,
		ShutdownTimeout:      time.Duration(cfg.ShutdownTimeout) * time.Second,
	})

	// Blocks until a shutdown signal arrives, then drains in-flight jobs.
	w.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
}
