// Package web provides the HTTP API for downloading EN transaction exports.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/enexport/internal/config"
	"github.com/JonMunkholm/enexport/internal/download"
	"github.com/JonMunkholm/enexport/internal/enapi"
	"github.com/JonMunkholm/enexport/internal/store"
	mw "github.com/JonMunkholm/enexport/internal/web/middleware"
)

// Importer stores a running download. *store.Store satisfies it.
type Importer interface {
	Import(ctx context.Context, src store.Source, start, end time.Time) (store.ImportResult, error)
}

// Deps are the collaborators of a Server.
type Deps struct {
	Client  *enapi.Client
	Limiter *download.Limiter

	// Store enables POST /api/imports. Nil disables it.
	Store Importer

	// Defaults are applied to every download. Only BackupDir, NewBackup,
	// Delimiter, Encoding and MandatoryFields are used.
	Defaults enapi.Options

	Security config.SecurityConfig
}

// Server is the HTTP server for the export API.
type Server struct {
	client   *enapi.Client
	limiter  *download.Limiter
	store    Importer
	defaults enapi.Options
	security config.SecurityConfig

	router *chi.Mux
	server *http.Server
}

// NewServer creates a new Server instance.
func NewServer(deps Deps) *Server {
	limiter := deps.Limiter
	if limiter == nil {
		limiter = download.NewLimiter(download.DefaultMaxConcurrent, download.DefaultMaxWaitTime)
	}
	defaults := deps.Defaults
	defaults.Backup = nil
	defaults.BackupName = ""
	defaults.PrivateToken = ""

	s := &Server{
		client:   deps.Client,
		limiter:  limiter,
		store:    deps.Store,
		defaults: defaults,
		security: deps.Security,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)

	// Security hardening
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(&s.security))

		// Streamed export
		r.Get("/transactions", s.handleTransactions)

		// Export into Postgres
		r.Post("/imports", s.handleImport)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(cfg config.ServerConfig) error {
	s.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout, // 0 for long exports
		IdleTimeout:  cfg.IdleTimeout,
	}

	slog.Info("starting server", "addr", cfg.Addr())
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, then waits for running downloads.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	return s.limiter.WaitForDrain(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// Responses are data, never documents
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Exports carry supporter data
		w.Header().Set("Cache-Control", "no-store")

		w.Header().Set("Referrer-Policy", "no-referrer")

		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
