// Package main is the entry point for the admission demo server. It
// fronts a small echo handler with the security middleware so the
// admission behavior can be exercised end to end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guardrail-io/admission/internal/config"
	"github.com/guardrail-io/admission/internal/middleware"
	"github.com/guardrail-io/admission/internal/observability"
	"github.com/guardrail-io/admission/internal/ratelimit"
	"github.com/guardrail-io/admission/internal/ratelimit/store"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const gracefulShutdownTimeout = 15 * time.Second

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	listenAddr  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig(flags.configPath, logger)

	security := initSecurity(cfg, logger)
	defer func() { _ = security.Close() }()

	watcher := initKeyFileWatcher(cfg, security, logger)
	if watcher != nil {
		defer func() { _ = watcher.Stop() }()
	}

	runServer(flags.listenAddr, security, logger)
}

func parseFlags() cliFlags {
	configPath := flag.String("config", os.Getenv("SECURITY_CONFIG_PATH"),
		"Path to configuration file (environment variables are used when empty)")
	listenAddr := flag.String("addr", ":8080", "Listen address")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "json", "Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		listenAddr:  *listenAddr,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

func printVersion() {
	fmt.Printf("admissiond version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadConfig reads the configuration file when one is given, otherwise
// it assembles the configuration from SECURITY_* environment variables.
func loadConfig(configPath string, logger observability.Logger) config.Security {
	logger.Info("starting admissiond",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	if configPath == "" {
		return config.FromEnv()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}
	return cfg
}

func initSecurity(cfg config.Security, logger observability.Logger) *middleware.Security {
	opts := []middleware.Option{middleware.WithLogger(logger)}

	// A Redis address switches rate limiting to the shared store so
	// multiple instances enforce one budget.
	if cfg.RateLimit.Enabled && cfg.RateLimit.RedisAddress != "" {
		limiter := initStoreLimiter(cfg.RateLimit, logger)
		if limiter != nil {
			opts = append(opts, middleware.WithLimiter(limiter))
		}
	}

	security, err := middleware.New(cfg, opts...)
	if err != nil {
		logger.Fatal("failed to initialize security middleware", observability.Error(err))
	}

	logger.Info("security middleware initialized",
		observability.Bool("auth", cfg.Auth.Enabled),
		observability.Bool("rate_limit", cfg.RateLimit.Enabled),
		observability.Bool("shared_store", cfg.RateLimit.RedisAddress != ""),
	)
	return security
}

func initStoreLimiter(cfg config.RateLimit, logger observability.Logger) ratelimit.Limiter {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	redisCfg := store.DefaultRedisConfig()
	redisCfg.Address = cfg.RedisAddress
	redisCfg.Logger = logger

	redisStore, err := store.NewRedisStore(ctx, redisCfg)
	if err != nil {
		logger.Fatal("failed to connect to redis", observability.Error(err))
	}

	limiter, err := ratelimit.NewStoreLimiter(redisStore, cfg.RequestsPerMinute, cfg.Burst, logger)
	if err != nil {
		logger.Warn("falling back to local rate limiting", observability.Error(err))
		_ = redisStore.Close()
		return nil
	}
	return limiter
}

func initKeyFileWatcher(cfg config.Security, security *middleware.Security, logger observability.Logger) *config.KeyFileWatcher {
	if !cfg.Auth.Enabled || cfg.Auth.KeyFile == "" {
		return nil
	}

	watcher, err := config.NewKeyFileWatcher(cfg.Auth.KeyFile,
		func(kf *config.KeyFile) {
			if err := security.ApplyKeyFile(kf); err != nil {
				logger.Error("failed to apply rotated keys", observability.Error(err))
				return
			}
			logger.Info("API keys rotated", observability.Int("keys", len(kf.Keys)))
		},
		config.WithWatcherLogger(logger),
		config.WithErrorCallback(func(err error) {
			logger.Error("key file reload failed", observability.Error(err))
		}),
	)
	if err != nil {
		logger.Fatal("failed to create key file watcher", observability.Error(err))
	}

	if err := watcher.Start(context.Background()); err != nil {
		logger.Fatal("failed to start key file watcher", observability.Error(err))
	}

	logger.Info("watching key file", observability.String("path", cfg.Auth.KeyFile))
	return watcher
}

func runServer(addr string, security *middleware.Security, logger observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/", security.Protect(nil)(http.HandlerFunc(echoHandler)))
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/statsz", statsHandler(security))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", observability.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Fatal("server failed", observability.Error(err))
	case sig := <-stop:
		logger.Info("shutting down", observability.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", observability.Error(err))
	}
}

// echoHandler answers admitted requests with the request identity.
func echoHandler(w http.ResponseWriter, r *http.Request) {
	rc, ok := middleware.RequestFromContext(r.Context())
	if !ok {
		http.Error(w, "request context missing", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"request_id": rc.RequestID,
		"client_id":  rc.ClientID,
		"api_key_id": rc.APIKeyID,
		"path":       r.URL.Path,
	})
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func statsHandler(security *middleware.Security) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		stats := security.Stats()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"auth_enabled":       stats.AuthEnabled,
			"rate_limit_enabled": stats.RateLimitEnabled,
			"keys_configured":    stats.KeysConfigured,
			"requests_checked":   stats.RequestsChecked,
			"requests_admitted":  stats.RequestsAdmitted,
			"auth_failures":      stats.AuthFailures,
			"rate_limited":       stats.RateLimited,
			"uptime_seconds":     int(stats.Uptime.Seconds()),
		})
	}
}
