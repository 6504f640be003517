package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"datapolicy-backend/internal/api"
	"datapolicy-backend/internal/bus"
	"datapolicy-backend/internal/config"
	"datapolicy-backend/internal/llm"
	"datapolicy-backend/internal/monitor"
	"datapolicy-backend/internal/policy"
	"datapolicy-backend/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := storage.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to db", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()
	repo := storage.NewRepository(store)

	var publisher *bus.Publisher
	if cfg.NATSURL != "" {
		publisher, err = bus.NewPublisher(cfg.NATSURL)
		if err != nil {
			logger.Error("failed to connect to nats", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer publisher.Close()
	}

	var client llm.Client
	if cfg.LLM.APIKey != "" {
		client = llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL)
	} else {
		logger.Warn("no LLM API key configured, rules without stored SQL will be skipped")
	}

	orchestrator := monitor.NewOrchestrator(repo, client, publisher, logger)
	scheduler := monitor.NewScheduler(orchestrator, repo, logger)
	defer scheduler.Shutdown()
	ingestor := policy.NewIngestor(client, repo, logger)

	handler := &api.Handler{
		Repo:      repo,
		Scheduler: scheduler,
		Ingestor:  ingestor,
		LLM:       client,
		Logger:    logger,
		Timeout:   5 * time.Second,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 30 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("datapolicy backend listening", slog.String("port", cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.String("error", err.Error()))
	}
}
