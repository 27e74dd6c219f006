package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"push-dispatcher/internal/config"
	"push-dispatcher/internal/content"
	"push-dispatcher/internal/dispatch"
	"push-dispatcher/internal/handlers"
	"push-dispatcher/internal/push"
	"push-dispatcher/internal/store"
)

func main() {
	configPath := pflag.String("config", "", "path to an optional YAML config file")
	envFile := pflag.String("env-file", ".env", "dotenv file to load before reading the environment")
	port := pflag.String("port", "", "listen port (overrides PORT)")
	pflag.Parse()

	// Load .env file
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Failed to load %s: %v", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *port != "" {
		cfg.Port = *port
	}

	logger, err := newLogger(cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server stopped", zap.Error(err))
	}
}

func newLogger(format string) (*zap.Logger, error) {
	if format == "console" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	subs, err := store.Open(startupCtx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer subs.Close()

	keys, err := push.LoadVAPIDKeys(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)
	if err != nil {
		return err
	}
	if keys.Generated {
		logger.Warn("VAPID keys not found in environment; generated an ephemeral pair. Set VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY to keep existing subscriptions valid across restarts",
			zap.String("publicKey", keys.Public))
	}

	if cfg.PostsJSONURL == "" {
		logger.Warn("POSTS_JSON_URL is not set; daily notifications will fail until it is configured")
	}
	fetcher := content.NewHTTPFetcher(cfg.PostsJSONURL, cfg.ContentTimeout)

	coordinator := dispatch.NewCoordinator(dispatch.Options{
		Store:   subs,
		Fetcher: fetcher,
		Transport: push.NewWebPushTransport(push.Options{
			Subscriber: cfg.VAPIDSubject,
			Keys:       keys,
			TTL:        cfg.PushTTL,
			Timeout:    cfg.PushTimeout,
		}),
		Composer: dispatch.NewComposer(dispatch.ComposerOptions{
			TitlePrefix:  cfg.TitlePrefix,
			Icon:         cfg.Icon,
			AssetBaseURL: cfg.AssetBaseURL,
		}),
		Concurrency: cfg.Concurrency,
		Metrics:     dispatch.NewMetrics(prometheus.DefaultRegisterer),
		Logger:      logger.Named("dispatch"),
	})

	h := handlers.NewHandler(subs, coordinator, keys.Public, logger.Named("http"))
	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: h.Routes(handlers.RouterOptions{
			AllowedOrigins: cfg.AllowedOrigins,
			StaticDir:      cfg.StaticDir,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", zap.String("addr", srv.Addr), zap.String("contentSource", fetcher.URL()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}
