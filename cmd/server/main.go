// Command server runs the floodgate admission service: the /v1 API for
// remote checks plus a rate limited demo route showing the middleware.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/yourusername/floodgate/api"
	"github.com/yourusername/floodgate/metrics"
	"github.com/yourusername/floodgate/middleware"
	"github.com/yourusername/floodgate/pkg/floodgate"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config (optional)")
		listenAddr = flag.String("listen", ":8080", "listen address")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(*configPath, *listenAddr, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(configPath, listenAddr string, logger *zap.Logger) error {
	config := floodgate.NewConfig()
	if configPath != "" {
		loaded, err := floodgate.LoadConfigFromFile(configPath)
		if err != nil {
			return err
		}
		config = loaded
		logger.Info("config loaded", zap.String("path", configPath))
	}

	sweepLog := floodgate.WithSweepErrorHandler(func(err error) {
		logger.Warn("eviction sweep failed", zap.Error(err))
	})

	limiter, err := config.Default.Build(sweepLog)
	if err != nil {
		return err
	}

	routeLimiters := make(map[string]floodgate.Limiter, len(config.Routes))
	for route, policy := range config.Routes {
		l, err := policy.Build(sweepLog)
		if err != nil {
			limiter.Stop()
			for _, built := range routeLimiters {
				built.Stop()
			}
			return err
		}
		routeLimiters[route] = l
		logger.Info("route policy",
			zap.String("route", route),
			zap.String("algorithm", policy.Algorithm))
	}

	keyFunc, err := middleware.ParseKeyFunc(config.KeyExtractor)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	guard, err := middleware.New(middleware.Config{
		Limiter:       limiter,
		RouteLimiters: routeLimiters,
		KeyFunc:       keyFunc,
		Metrics:       collector,
		Logger:        logger,
		Bypass: func(r *http.Request) bool {
			return r.URL.Path == "/health"
		},
	})
	if err != nil {
		return err
	}
	defer guard.Stop()

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// demo route protected by the middleware
	router.Group(func(r chi.Router) {
		r.Use(guard.Handler)
		r.Get("/api/data", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"data": "ok"})
		})
	})

	// remote check API, not itself rate limited
	router.Mount("/", api.NewHandler(limiter, collector, logger).Routes())

	server := &http.Server{
		Addr:         listenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", listenAddr),
			zap.String("algorithm", config.Default.Algorithm))
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
