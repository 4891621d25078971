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

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/M-ajor19/quillify/internal/auth"
	"github.com/M-ajor19/quillify/internal/config"
	"github.com/M-ajor19/quillify/internal/dashboard"
	"github.com/M-ajor19/quillify/internal/execution"
	"github.com/M-ajor19/quillify/internal/extraction"
	"github.com/M-ajor19/quillify/internal/generation"
	"github.com/M-ajor19/quillify/internal/handlers"
	"github.com/M-ajor19/quillify/internal/ledger"
	"github.com/M-ajor19/quillify/internal/llm"
	"github.com/M-ajor19/quillify/internal/metrics"
	"github.com/M-ajor19/quillify/internal/payments"
	"github.com/M-ajor19/quillify/internal/pipeline"
	"github.com/M-ajor19/quillify/internal/ratelimit"
	"github.com/M-ajor19/quillify/internal/router"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("Server exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		logger.Warn("Configuration incomplete, some features will fail", "detail", w)
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Storage and ledger
	store, err := openStorage(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.close()
	ledgerSvc := ledger.NewService(store.ledger, m, logger)

	// Rate limiting: shared Redis windows when configured, in-process otherwise.
	var limitStore ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable, rate limiter will fail open until it recovers", "error", err)
		}
		limitStore = ratelimit.NewRedisStore(rdb)
	}
	limiter := ratelimit.NewLimiter(limitStore, m, logger)
	defer limiter.Close()

	// Compensating refunds are retried through River when Postgres is available,
	// otherwise in-process.
	var refunds generation.RefundScheduler
	var riverClient *river.Client[pgx.Tx]
	if store.pool != nil {
		migrator, err := rivermigrate.New(riverpgxv5.New(store.pool), nil)
		if err != nil {
			return err
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			return err
		}
		logger.Info("River migrations applied")

		workers := river.NewWorkers()
		river.AddWorker(workers, execution.NewRefundWorker(ledgerSvc, logger))
		riverClient, err = river.NewClient(riverpgxv5.New(store.pool), &river.Config{
			Queues: map[string]river.QueueConfig{
				river.QueueDefault: {MaxWorkers: 10},
			},
			Workers: workers,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		refunds = execution.NewRefundScheduler(func(ctx context.Context, args execution.RefundJobArgs) error {
			_, err := riverClient.Insert(ctx, args, nil)
			return err
		})
		go func() {
			if err := riverClient.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("River client stopped", "error", err)
			}
		}()
	} else {
		local := execution.NewLocalRefundScheduler(ledgerSvc, logger)
		defer local.Close()
		refunds = local
		logger.Warn("Job queue disabled with the sqlite driver, failed refunds are retried in-process and lost on restart")
	}

	// Model provider
	var chat llm.ChatClient
	openai, err := llm.NewOpenAIClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Organization:   cfg.LLM.Organization,
		RequestTimeout: cfg.LLM.RequestTimeout,
	})
	if err != nil {
		logger.Warn("Model provider not configured, generation and extraction will fail", "error", err)
		chat = llm.ChatFunc(func(context.Context, llm.ChatRequest) (string, error) {
			return "", &llm.StatusError{StatusCode: http.StatusUnauthorized, Message: "api key not configured"}
		})
	} else {
		chat = openai
	}

	pl, err := pipeline.New(chat, cfg.Pipeline, logger)
	if err != nil {
		return err
	}
	genSvc := generation.NewService(generation.Deps{
		Ledger:   ledgerSvc,
		Limiter:  limiter,
		Pipeline: pl,
		Records:  store.records,
		Refunds:  refunds,
		Metrics:  m,
		Logger:   logger,
	}, cfg.Generation)
	extractSvc := extraction.NewService(llm.NewRetrying(chat, cfg.LLM.VisionAttempts), limiter, cfg.Extraction, m, logger)

	// Payments
	catalog, err := payments.NewCatalog(cfg.Packages)
	if err != nil {
		return err
	}
	checkout := payments.NewCheckoutService(catalog, payments.NewStripeCheckout(cfg.Stripe.SecretKey), cfg.AppURL, logger)
	reconciler := payments.NewReconciler(payments.NewStripeVerifier(cfg.Stripe.WebhookSecret), ledgerSvc, m, logger)

	// Auth
	authSvc := auth.NewService(store.ledger, ledgerSvc, auth.Config{
		Secret:        cfg.Auth.JWTSecret,
		TokenTTL:      cfg.Auth.TokenTTL,
		SignupCredits: cfg.Auth.SignupCredits,
	}, logger)

	api := router.New(router.Handlers{
		Auth:       auth.NewHandler(authSvc, logger),
		Tokens:     authSvc,
		Generation: &handlers.GenerationHandler{Generator: genSvc, Logger: logger},
		Extraction: &handlers.ExtractionHandler{Extractor: extractSvc, Logger: logger},
		Payments:   &handlers.PaymentsHandler{Checkout: checkout, Reconciler: reconciler, Logger: logger},
		Dashboard:  dashboard.NewHandler(store.ledger, ledgerSvc, logger),
		Health:     &handlers.HealthHandler{DB: store.db, Version: cfg.Version},
		Metrics:    reg,
		Logger:     logger,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.AppURL},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	}).Handler(api)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", cfg.Addr, "env", cfg.Env, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	// In-flight generations get their full deadline so they can persist or refund.
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Generation.Timeout+cfg.Generation.RefundTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown", "error", err)
	}
	if riverClient != nil {
		if err := riverClient.Stop(shutdownCtx); err != nil {
			logger.Error("River shutdown", "error", err)
		}
	}
	return nil
}
