// Package main provides the entry point for the URL dating service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nixintel/urldater/internal/browser"
	"github.com/nixintel/urldater/internal/certs"
	"github.com/nixintel/urldater/internal/config"
	"github.com/nixintel/urldater/internal/discover"
	"github.com/nixintel/urldater/internal/export"
	"github.com/nixintel/urldater/internal/handlers"
	"github.com/nixintel/urldater/internal/mediarules"
	"github.com/nixintel/urldater/internal/metrics"
	"github.com/nixintel/urldater/internal/middleware"
	"github.com/nixintel/urldater/internal/rdap"
	"github.com/nixintel/urldater/internal/report"
	"github.com/nixintel/urldater/pkg/version"
)

func main() {
	cfg := config.Load()

	// Logging first so validation warnings are visible.
	setupLogging(cfg.LogLevel)
	cfg.Validate()

	printBanner()

	// Media rules, with optional external override and hot reload.
	rules, err := mediarules.NewManager(cfg.MediaRulesPath, cfg.MediaRulesHotReload)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load media rules")
	}

	// Browser pool is lazy: no browser starts until the first analysis
	// needs one.
	pool := browser.NewPool(cfg, browser.NewRodFactory(cfg), browser.NewProcessMemoryOracle())

	// Signal collaborators and the aggregator.
	discoverer := discover.New(cfg, pool, rules)
	analyzer := report.New(cfg, rdap.NewClient(cfg), discoverer, certs.NewClient(cfg))

	handler := handlers.New(cfg, analyzer, export.New(), pool)
	router := handlers.NewRouter(handler)

	// Middleware chain, outermost first.
	rateLimit := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.TrustProxy)
	mws := []middleware.Middleware{
		middleware.Recovery,
		middleware.Logging,
		middleware.SecurityHeaders,
		middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins}),
		middleware.APIKey(cfg),
	}
	if cfg.RateLimitEnabled {
		log.Info().
			Int("requests_per_minute", cfg.RateLimitRPM).
			Bool("trust_proxy", cfg.TrustProxy).
			Msg("Rate limiting enabled")
		mws = append(mws, rateLimit.Handler())
	}
	// Analyses can legitimately take the whole discovery budget; the
	// request deadline sits just above it.
	mws = append(mws, middleware.Timeout(cfg.DiscoverTimeout+30*time.Second))

	finalHandler := middleware.Chain(mws...)(router)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      finalHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DiscoverTimeout + 60*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stopCh := make(chan struct{})

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())
		go metrics.StartMemoryCollector(10*time.Second, stopCh)

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())

		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		go func() {
			log.Info().
				Int("port", cfg.MetricsPort).
				Msg("Prometheus metrics server started")

			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	go func() {
		log.Info().
			Str("address", addr).
			Int("pool_size", cfg.PoolSize).
			Bool("metrics_enabled", cfg.MetricsEnabled).
			Bool("rate_limit_enabled", cfg.RateLimitEnabled).
			Msg("URL Dater is ready to accept requests")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	close(stopCh)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
	}

	rateLimit.Close()

	if err := rules.Close(); err != nil {
		log.Error().Err(err).Msg("Media rules manager close error")
	}

	// Last: tear down every browser instance.
	pool.Close()

	log.Info().Msg("Shutdown complete")
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// printBanner prints the startup banner.
func printBanner() {
	banner := `
 _   _ ____  _     ____        _
| | | |  _ \| |   |  _ \  __ _| |_ ___ _ __
| | | | |_) | |   | | | |/ _' | __/ _ \ '__|
| |_| |  _ <| |___| |_| | (_| | ||  __/ |
 \___/|_| \_\_____|____/ \__,_|\__\___|_|
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting URL Dater")
}
