package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"utilitysign/internal/api"
	"utilitysign/internal/auth"
	"utilitysign/internal/bankid"
	"utilitysign/internal/config"
	"utilitysign/internal/db"
	"utilitysign/internal/jobs"
	"utilitysign/internal/pubsub"
	"utilitysign/internal/schema"
	"utilitysign/internal/workflow"
	"utilitysign/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log.Level, false)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	c, err := buildCore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var records workflow.RecordStore
	var recordReader api.RecordReader
	var dbPool *db.Pool
	if cfg.Database.URL != "" {
		dbPool, err = db.NewPool(ctx, cfg.Database.URL, logger)
		if err != nil {
			return err
		}
		defer dbPool.Close()
		records, recordReader = dbPool, dbPool
	} else {
		logger.Warn("No database configured, signing records are not stored")
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
	}

	bus := pubsub.New(rdb, logger)
	hub := ws.NewHub(logger)
	if streams := bus.GetStreams(); streams != nil {
		hub.SetReplayer(streams)
	}
	go hub.Run(ctx)
	bus.SetWSHub(hub)

	var notifier bankid.CompletionNotifier = bankid.AsyncNotifier{Trigger: c.client.TriggerSigningCompletion}
	var scheduler workflow.Scheduler
	if rdb != nil {
		var jobRecords jobs.SigningRecords
		if dbPool != nil {
			jobRecords = dbPool
		}
		jobServer, jobClient := jobs.NewJobServer(cfg.Redis.Addr, jobs.NewHandlers(c.api, jobRecords, bus, logger))
		go func() {
			if err := jobServer.Start(); err != nil {
				logger.Error("Job server failed", zap.Error(err))
			}
		}()
		defer jobServer.Stop()

		s := jobs.NewScheduler(jobClient, logger)
		notifier = s
		if dbPool != nil {
			scheduler = s
		}
	}

	poller := bankid.NewPoller(c.client, notifier, c.poller, logger)
	registry := workflow.NewRegistry(cfg.Server.MaxWorkflows, cfg.Server.SessionTTL.Duration, func(id string) *workflow.Controller {
		bridge := ws.NewBridge(hub, id, cfg.Server.WindowTimeout.Duration, logger)
		return workflow.New(id, workflow.Deps{
			Signing:   c.client,
			Products:  c.products,
			Documents: c.docs,
			Preview:   c.renderer,
			Launcher:  bankid.NewLauncher(bridge, bridge, logger),
			Poller:    poller,
			Events:    bus,
			Records:   records,
			Scheduler: scheduler,
			Log:       logger,
		})
	})
	defer registry.Close()

	var jwt *auth.JWTConfig
	if cfg.Auth.JWTSecret != "" {
		jwt = auth.NewJWTConfig(cfg.Auth.JWTSecret, cfg.Auth.Required)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Mount("/", api.Routes(api.Dependencies{
		Workflows:      registry,
		Schema:         schema.NewCompilerWithCache(16),
		Hub:            hub,
		Auth:           jwt,
		Records:        recordReader,
		Documents:      c.docs,
		Files:          c.files,
		DocumentURLTTL: cfg.Storage.URLTTL.Duration,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadBytes: cfg.Storage.Policy.MaxBytes(),
		Log:            logger,
	}))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server stopped")
	return nil
}
