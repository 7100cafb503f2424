package app

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/grandarena/contest-api/internal/config"
	"github.com/grandarena/contest-api/internal/feed"
	"github.com/grandarena/contest-api/internal/interfaces/httpapi"
	"github.com/grandarena/contest-api/internal/platform/logging"
	"github.com/grandarena/contest-api/internal/platform/resilience"
	"github.com/grandarena/contest-api/internal/usecase"
)

// App bundles the HTTP server with the feed coordinator so main can
// drive startup and shutdown of both.
type App struct {
	Server      *http.Server
	Coordinator *feed.Coordinator
}

func New(cfg config.Config, logger *logging.Logger, httpLogger *slog.Logger) (*App, error) {
	if cfg.HTTPAddr == "" {
		return nil, fmt.Errorf("http server addr cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if httpLogger == nil {
		httpLogger = slog.Default()
	}

	client := feed.NewClient(feed.ClientConfig{
		BaseURL: cfg.FeedBaseURL,
		Timeout: cfg.FeedHTTPTimeout,
		Logger:  logger,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Enabled:          cfg.FeedCircuitEnabled,
			FailureThreshold: cfg.FeedCircuitFailureCount,
			OpenTimeout:      cfg.FeedCircuitOpenTimeout,
			HalfOpenMaxReq:   cfg.FeedCircuitHalfOpenMax,
		},
	})
	cache := feed.NewCache(cfg.FeedTTL, cfg.FeedStaleGrace, logger)
	store := feed.NewStore(logger)
	coordinator := feed.NewCoordinator(client, cache, store, cfg.FeedMaxPartitions, logger)

	insights := usecase.NewInsightsService(store, coordinator, cfg.InsightsWorkers, logger)

	handler := httpapi.NewHandler(insights, coordinator, httpLogger)
	router := httpapi.NewRouter(handler, httpLogger, cfg.CORSAllowedOrigins, cfg.InternalToken)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &App{Server: server, Coordinator: coordinator}, nil
}
