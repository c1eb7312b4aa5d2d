// Package api exposes the lifecycle manager over HTTP for the dashboard and
// the external daily trigger.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"refi-rate-alerts/internal/config"
	"refi-rate-alerts/internal/service"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Service *service.Service
	// Token guards the user-facing routes.
	Token string
	// CronToken guards POST /cron/daily. The route is not mounted when empty.
	CronToken string
}

// NewHandler builds the router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	if deps.CronToken != "" {
		r.With(BearerAuth(deps.CronToken)).Post("/cron/daily", handleDailyBatch(deps.Service))
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Put("/users/{userID}", handleRegisterUser(deps.Service))
		r.Get("/users/{userID}/profile", handleGetProfile(deps.Service))
		r.Put("/users/{userID}/profile", handlePutProfile(deps.Service))
		r.Get("/users/{userID}/status", handleStatus(deps.Service))
		r.Post("/users/{userID}/sessions", handleCreateSession(deps.Service, false))
		r.Post("/users/{userID}/sessions/start-over", handleCreateSession(deps.Service, true))
		r.Post("/users/{userID}/test-email", handleTestEmail(deps.Service))

		r.Get("/sessions/{sessionID}", handleGetSession(deps.Service))
		r.Post("/sessions/{sessionID}/pause", handlePause(deps.Service))
		r.Post("/sessions/{sessionID}/resume", handleResume(deps.Service))
		r.Post("/sessions/{sessionID}/stop", handleStop(deps.Service))
		r.Post("/sessions/{sessionID}/run", handleRunNow(deps.Service))
	})

	return r
}

// Server wraps http.Server with context-driven shutdown.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer binds handler to the configured listen address.
func NewServer(cfg config.APIConfig, handler http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("api listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("api shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
