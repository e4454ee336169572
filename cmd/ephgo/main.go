package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/orbit/ephgo/internal/api"
	"github.com/orbit/ephgo/internal/auth"
	"github.com/orbit/ephgo/internal/ingest"
	"github.com/orbit/ephgo/internal/metrics"
	"github.com/orbit/ephgo/internal/oem"
	"github.com/orbit/ephgo/internal/store"
	"github.com/orbit/ephgo/internal/stream"
	"github.com/orbit/ephgo/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	apiCfg := loadAPIConfig()
	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}
	feedCfg := loadFeedConfig(logger)
	streamCfg := loadStreamConfig(logger, apiCfg.TrustProxy)

	cache, err := store.Open(feedCfg.DBPath, logger)
	if err != nil {
		logger.Error("opening state vector cache", "path", feedCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	fetcher := oem.NewFetcher(feedCfg.URL, feedCfg.Timeout, logger)
	svc := ingest.NewService(fetcher, cache, logger)

	// Serve a previously cached dataset immediately if one exists; the
	// first request populates otherwise.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if loaded, err := svc.WarmStart(ctx); err != nil {
		logger.Warn("could not warm start from cache", "error", err)
	} else if !loaded {
		logger.Info("cache empty, dataset will populate on first access")
	}

	streamHandler := stream.NewHandler(svc, streamCfg, logger)
	srv := api.NewServer(apiCfg, logger, authCfg, svc, cache, streamHandler, web.Content)

	// Background goroutine to update the dataset age gauge.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if age := svc.Age(); age >= 0 {
					metrics.SetDatasetAge(age)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("starting server",
			"addr", apiCfg.Addr,
			"feed_url", fetcher.FeedURL(),
			"auth_enabled", authCfg.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func loadAPIConfig() api.Config {
	cfg := api.Config{Addr: ":8080"}

	if v := os.Getenv("EPHGO_HTTP_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("EPHGO_TRUST_PROXY"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err == nil {
			cfg.TrustProxy = trust
		}
	}

	return cfg
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	if v := os.Getenv("EPHGO_AUTH_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, errors.New("EPHGO_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("EPHGO_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("EPHGO_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return cfg, nil
}

type feedConfig struct {
	URL     string
	Timeout time.Duration
	DBPath  string
}

func loadFeedConfig(logger *slog.Logger) feedConfig {
	cfg := feedConfig{
		Timeout: 30 * time.Second,
		DBPath:  "/var/lib/ephgo/ephgo.db",
	}

	if v := os.Getenv("EPHGO_FEED_URL"); v != "" {
		cfg.URL = v
	}

	if v := os.Getenv("EPHGO_FEED_TIMEOUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid EPHGO_FEED_TIMEOUT value, using default", "value", v, "default", 30)
		} else {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("EPHGO_DB_PATH"); v != "" {
		cfg.DBPath = v
	}

	logger.Info("feed config",
		"feed_url", cfg.URL,
		"timeout_seconds", cfg.Timeout.Seconds(),
		"db_path", cfg.DBPath,
	)

	return cfg
}

func loadStreamConfig(logger *slog.Logger, trustProxy bool) stream.Config {
	cfg := stream.Config{
		MaxConcurrentPerIP: 10,
		MaxConcurrent:      1000,
		UpdateInterval:     5 * time.Second,
		KeepaliveInterval:  30 * time.Second,
		TrustProxy:         trustProxy,
	}

	if v := os.Getenv("EPHGO_STREAM_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid EPHGO_STREAM_MAX_CONCURRENT value, using default", "value", v, "default", 10)
		} else {
			cfg.MaxConcurrentPerIP = n
		}
	}

	if v := os.Getenv("EPHGO_STREAM_UPDATE_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid EPHGO_STREAM_UPDATE_INTERVAL value, using default", "value", v, "default", 5)
		} else {
			cfg.UpdateInterval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("EPHGO_STREAM_KEEPALIVE_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid EPHGO_STREAM_KEEPALIVE_INTERVAL value, using default", "value", v, "default", 30)
		} else {
			cfg.KeepaliveInterval = time.Duration(n) * time.Second
		}
	}

	logger.Info("stream config",
		"max_concurrent_per_ip", cfg.MaxConcurrentPerIP,
		"update_interval_seconds", cfg.UpdateInterval.Seconds(),
		"keepalive_interval_seconds", cfg.KeepaliveInterval.Seconds(),
	)

	return cfg
}
