// Package server accepts telephony client connections and runs one session
// per connection. It also serves health and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/cierrateam/avr-sts-openai/internal/observability"
	"github.com/cierrateam/avr-sts-openai/internal/session"
)

const (
	shutdownTimeout = 10 * time.Second
	writeTimeout    = 5 * time.Second
)

type Config struct {
	Listen      string
	MetricsPath string
}

// Server is the gateway's listener.
type Server struct {
	cfg      Config
	deps     session.Deps
	settings atomic.Pointer[session.Settings]
	upgrader websocket.Upgrader
	logger   *slog.Logger

	active   atomic.Int64
	sessions sync.WaitGroup
}

// New creates a server. deps are shared by every session; settings can be
// replaced later with UpdateSettings.
func New(cfg Config, deps session.Deps, settings session.Settings, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	deps.Logger = logger

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Telephony clients are not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.settings.Store(&settings)
	observability.EnsureRegistered()
	return s
}

// UpdateSettings replaces the settings used for sessions created from now on.
func (s *Server) UpdateSettings(settings session.Settings) {
	s.settings.Store(&settings)
	s.logger.Info("Session settings updated",
		slog.String("voice", settings.Voice),
		slog.Bool("report_failures", settings.ReportFailures))
}

// ActiveSessions returns the number of connected clients.
func (s *Server) ActiveSessions() int64 {
	return s.active.Load()
}

// Handler returns the HTTP handler. Any path other than the health and
// metrics endpoints accepts a client websocket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	mux.Handle(s.cfg.MetricsPath, observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, s.active.Load())
	})
	return mux
}

// Run listens until ctx is cancelled, then shuts down and waits for active
// sessions to finish.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("Gateway listening", slog.String("addr", ln.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down gateway", slog.Int64("active_sessions", s.active.Load()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	})

	err := g.Wait()
	s.sessions.Wait()
	s.logger.Info("Gateway stopped")
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Counted before the upgrade so Shutdown's wait covers it until hijack.
	s.sessions.Add(1)
	defer s.sessions.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed",
			slog.String("remote", r.RemoteAddr), slog.Any("error", err))
		return
	}

	connID := uuid.NewString()
	logger := s.logger.With(slog.String("conn_id", connID))
	client := newWSClient(conn, writeTimeout)

	sess, err := session.New(connID, client, s.deps, *s.settings.Load())
	if err != nil {
		logger.Error("Failed to create session", slog.Any("error", err))
		_ = client.Close()
		return
	}

	s.active.Add(1)
	defer s.active.Add(-1)

	logger.Info("Client connected", slog.String("remote", r.RemoteAddr))
	if err := sess.Run(r.Context()); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("Session ended with error", slog.Any("error", err))
		return
	}
	logger.Info("Client session finished")
}
