package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iudanet/offlinesync/internal/server/changefeed"
	"github.com/iudanet/offlinesync/internal/server/config"
	"github.com/iudanet/offlinesync/internal/server/handlers"
	"github.com/iudanet/offlinesync/internal/server/jwt"
	"github.com/iudanet/offlinesync/internal/server/storage"
)

// Server HTTP сервер синхронизации с фоновой очисткой refresh токенов
type Server struct {
	logger          *slog.Logger
	httpServer      *http.Server
	tokens          storage.TokenStorage
	notifier        *changefeed.Notifier
	stopRouter      func()
	now             func() time.Time
	address         string
	cleanupInterval time.Duration
	shutdownTimeout time.Duration
}

// New wires storage, token service and routes according to cfg.
func New(cfg *config.Config, store Store, logger *slog.Logger, version string) *Server {
	records := handlers.DefaultRecordsConfig()
	records.DefaultPageSize = cfg.Records.DefaultPageSize
	records.MaxPageSize = cfg.Records.MaxPageSize
	records.ChangesLimit = cfg.Records.ChangesLimit
	records.MaxWait = cfg.Records.MaxWait

	tokens := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)
	notifier := changefeed.New()
	router, stop := NewRouter(logger, store, tokens, notifier, RouterConfig{
		Version:        version,
		Records:        records,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		AuthRateLimit:  cfg.RateLimit.AuthRequests,
		AuthRateWindow: cfg.RateLimit.AuthWindow,
		APIRateLimit:   cfg.RateLimit.APIRequests,
		APIRateWindow:  cfg.RateLimit.APIWindow,
		AllowAnonymous: cfg.AllowAnonymous,
	})

	return &Server{
		logger: logger,
		httpServer: &http.Server{
			Handler:      router,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			IdleTimeout:  cfg.HTTP.IdleTimeout,
			ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		tokens:          store,
		notifier:        notifier,
		stopRouter:      stop,
		now:             time.Now,
		address:         cfg.Address,
		cleanupInterval: cfg.TokenCleanupInterval,
		shutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run listens on the configured address and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then shuts the
// server down gracefully. Pending long-poll requests are interrupted.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.stopRouter()

	// контекст запросов отменяется в начале остановки, чтобы long-poll не держал Shutdown
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()
	s.httpServer.BaseContext = func(net.Listener) context.Context { return baseCtx }
	s.httpServer.RegisterOnShutdown(cancelBase)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Server listening", slog.String("address", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.cleanupTokens(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		s.logger.Info("Server shutdown complete")
		return nil
	})

	return g.Wait()
}

// cleanupTokens периодически удаляет просроченные refresh токены
func (s *Server) cleanupTokens(ctx context.Context) {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.deleteExpiredTokens(ctx)
		}
	}
}

func (s *Server) deleteExpiredTokens(ctx context.Context) {
	n, err := s.tokens.DeleteExpiredTokens(ctx, s.now())
	if err != nil {
		if ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "failed to delete expired tokens", slog.Any("error", err))
		}
		return
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "Expired refresh tokens deleted", slog.Int("count", n))
	}
}
