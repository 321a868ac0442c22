// Package server собирает HTTP API сервера синхронизации.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/iudanet/offlinesync/internal/server/changefeed"
	"github.com/iudanet/offlinesync/internal/server/handlers"
	"github.com/iudanet/offlinesync/internal/server/middleware"
	"github.com/iudanet/offlinesync/internal/server/storage"
)

// healthPath не пишется в лог запросов, его опрашивают клиенты
const healthPath = "/api/v1/health"

// Store объединяет хранилища, нужные API
type Store interface {
	storage.UserStorage
	storage.TokenStorage
	storage.RecordStorage
	handlers.Pinger
}

// TokenService выпускает и проверяет токены доступа
type TokenService interface {
	handlers.TokenIssuer
	middleware.TokenValidator
}

// RouterConfig параметры маршрутизатора
type RouterConfig struct {
	Version        string
	Records        handlers.RecordsConfig
	RequestTimeout time.Duration
	AuthRateLimit  int
	AuthRateWindow time.Duration
	APIRateLimit   int
	APIRateWindow  time.Duration
	AllowAnonymous bool
}

// NewRouter builds the API routes. The returned stop function releases the
// rate limiters and must be called when the router is no longer served.
func NewRouter(
	logger *slog.Logger,
	store Store,
	tokens TokenService,
	notifier *changefeed.Notifier,
	cfg RouterConfig,
) (http.Handler, func()) {
	authHandler := handlers.NewAuthHandler(logger, store, store, tokens)
	healthHandler := handlers.NewHealthHandler(logger, store, cfg.Version)
	recordsHandler := handlers.NewRecordsHandler(logger, store, notifier, cfg.Records)

	authLimit, stopAuthLimit := middleware.RateLimitMiddleware(cfg.AuthRateLimit, cfg.AuthRateWindow, logger)
	apiLimit, stopAPILimit := middleware.RateLimitMiddleware(cfg.APIRateLimit, cfg.APIRateWindow, logger)

	r := chi.NewRouter()
	r.Use(
		chimw.RequestID,
		chimw.RealIP,
		middleware.LoggingWithSkip(logger, []string{healthPath}),
		middleware.RecoveryMiddleware(logger),
	)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		handlers.SendError(w, logger, "route not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		handlers.SendError(w, logger, "method not allowed", http.StatusMethodNotAllowed)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)

		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimit, chimw.Timeout(cfg.RequestTimeout))
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.With(middleware.AuthMiddleware(logger, tokens, false)).Post("/logout", authHandler.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(apiLimit, middleware.AuthMiddleware(logger, tokens, cfg.AllowAnonymous))

			r.With(chimw.Timeout(cfg.RequestTimeout)).Post("/mutations", recordsHandler.Submit)
			r.With(chimw.Timeout(cfg.RequestTimeout)).Get("/models/{model}/records", recordsHandler.List)
			// long-poll ограничен records.max_wait, а не таймаутом запроса
			r.Get("/models/{model}/changes", recordsHandler.Changes)
		})
	})

	stop := func() {
		stopAuthLimit()
		stopAPILimit()
	}
	return r, stop
}
