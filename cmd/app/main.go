package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/philiapseudo-collab/dumu-apparels/internal/cache"
	"github.com/philiapseudo-collab/dumu-apparels/internal/config"
	"github.com/philiapseudo-collab/dumu-apparels/internal/convo"
	"github.com/philiapseudo-collab/dumu-apparels/internal/handlers"
	"github.com/philiapseudo-collab/dumu-apparels/internal/httpserver"
	"github.com/philiapseudo-collab/dumu-apparels/internal/ig"
	"github.com/philiapseudo-collab/dumu-apparels/internal/kopokopo"
	"github.com/philiapseudo-collab/dumu-apparels/internal/logging"
	"github.com/philiapseudo-collab/dumu-apparels/internal/metrics"
	"github.com/philiapseudo-collab/dumu-apparels/internal/pesapal"
	"github.com/philiapseudo-collab/dumu-apparels/internal/repo"
	"github.com/philiapseudo-collab/dumu-apparels/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting dumu-apparels bot", "env", cfg.AppEnv)

	if cfg.PublicBaseURL != "" {
		webhookURL := strings.TrimRight(cfg.PublicBaseURL, "/") + "/webhook"
		logger.Info("public base url configured", "base_url", cfg.PublicBaseURL, "webhook_url", webhookURL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := newRepository(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated", "driver", cfg.DatabaseDriver)

	var redisClient *cache.Redis
	if cfg.RedisAddr != "" {
		redisClient = cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
	}

	igClient := ig.New(ig.Config{
		BaseURL:     cfg.GraphBaseURL,
		AccessToken: cfg.PageAccessToken,
		Timeout:     cfg.GraphTimeout,
	}, logger, metricRegistry)

	pesapalClient := pesapal.New(pesapal.Config{
		BaseURL:        cfg.PesapalBaseURL,
		ConsumerKey:    cfg.PesapalConsumerKey,
		ConsumerSecret: cfg.PesapalConsumerSecret,
		NotificationID: cfg.PesapalIPNID,
		Timeout:        cfg.PesapalTimeout,
		SubmitTimeout:  cfg.PesapalSubmitTimeout,
	}, logger, metricRegistry)

	kopokopoClient := kopokopo.New(kopokopo.Config{
		BaseURL:      cfg.KopokopoBaseURL,
		ClientID:     cfg.KopokopoClientID,
		ClientSecret: cfg.KopokopoClientSecret,
		TillNumber:   cfg.KopokopoTillNumber,
		CallbackURL:  cfg.CallbackURL("/kopokopo/callback"),
		Timeout:      cfg.KopokopoTimeout,
	}, logger, metricRegistry)

	convoEngine := convo.New(convo.Config{
		Currency:        cfg.Currency,
		CardCallbackURL: cfg.CallbackURL("/payment/callback"),
	}, logger, metricRegistry, repository, igClient, pesapalClient, kopokopoClient, redisClient)

	webhookHandler := ig.NewWebhookHandler(logger, metricRegistry, cfg.VerifyToken, convoEngine)
	ipnProcessor := handlers.NewPesapalIPNProcessor(logger, metricRegistry, repository, pesapalClient, igClient)
	callbackProcessor := handlers.NewKopokopoCallbackProcessor(logger, metricRegistry, repository, igClient)

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Handlers{
		Webhook:  webhookHandler,
		IPN:      ipnProcessor,
		Kopokopo: callbackProcessor,
		Catalog:  convoEngine,
	}, cfg.PublicBasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}

func newRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.Repository, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver)) {
	case "postgres":
		return repo.NewPostgres(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
	case "sqlite":
		return repo.NewSQLite(ctx, cfg.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}
