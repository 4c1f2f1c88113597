// Package server assembles the daemon's HTTP surface: the local REST API,
// the window websocket endpoint, and the metrics endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"nhooyr.io/websocket"

	"github.com/viralboost/boostd/internal/api"
	"github.com/viralboost/boostd/internal/platform"
)

// Server is the HTTP server for the boostd daemon.
type Server struct {
	apiServer  *api.Server
	registry   *platform.WindowRegistry
	metrics    *api.Metrics
	logger     *slog.Logger
	httpServer *http.Server
}

// Config bundles the Server's dependencies.
type Config struct {
	API      *api.Server
	Registry *platform.WindowRegistry
	Metrics  *api.Metrics
	Port     int
	// CORSOrigins lists the origins allowed to call the local API. The web
	// app runs on a different origin than this daemon, so the browser
	// preflights every call.
	CORSOrigins []string
	Logger      *slog.Logger
}

// New creates a new Server.
func New(cfg Config) *Server {
	s := &Server{
		apiServer: cfg.API,
		registry:  cfg.Registry,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		s.apiServer.Mount(r)
	})

	// Window websocket endpoint
	r.Get("/ws/window", s.handleWindowSocket)

	// Prometheus metrics
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run starts the HTTP server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	lc := &net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down server")
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleWindowSocket upgrades the connection and registers it as a window.
// The connection stays registered until the window navigates away or the
// daemon shuts down.
func (s *Server) handleWindowSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("window websocket upgrade failed", "error", err)
		return
	}

	id := s.registry.Attach(conn)
	if s.metrics != nil {
		s.updateWindowGauge(r.Context())
	}

	if err := s.registry.Serve(r.Context(), id); err != nil {
		s.logger.Debug("window connection ended", "window_id", id, "error", err)
	}
	if s.metrics != nil {
		s.updateWindowGauge(context.Background())
	}
}

func (s *Server) updateWindowGauge(ctx context.Context) {
	windows, err := s.registry.Windows(ctx)
	if err != nil {
		return
	}
	s.metrics.SetConnectedWindows(len(windows))
}

// requestLogger is a chi middleware that logs each incoming request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
