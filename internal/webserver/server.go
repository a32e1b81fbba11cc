package webserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ichi0g0y/lucky-draw/internal/auth"
	"github.com/ichi0g0y/lucky-draw/internal/session"
	"github.com/ichi0g0y/lucky-draw/internal/settings"
	"github.com/ichi0g0y/lucky-draw/internal/shared/logger"
	"github.com/ichi0g0y/lucky-draw/internal/types"
	"github.com/ichi0g0y/lucky-draw/internal/version"
	"go.uber.org/zap"
)

// DrawSettingsService は設定APIが使う抽選設定の読み書き
type DrawSettingsService interface {
	GetDrawSettings() (*types.DrawSettings, error)
	UpdateDrawSettings(update settings.DrawSettingsUpdate) (*types.DrawSettings, error)
	GetAllSettings() (map[string]settings.Setting, error)
	GetQuotas() (map[string]float64, error)
	SetQuotas(quotas map[string]float64) error
}

// Options は Server の依存先
type Options struct {
	Session    *session.Session
	Settings   DrawSettingsService
	Audit      session.AuditSink
	Gate       *auth.Gate
	CORSOrigin string
}

// Server serves the draw API and the websocket feed.
type Server struct {
	session    *session.Session
	settings   DrawSettingsService
	audit      session.AuditSink
	gate       *auth.Gate
	corsOrigin string
	hub        *WSHub

	httpServer *http.Server
}

// protectedPrefixes are the API paths whose mutating requests need a token.
var protectedPrefixes = []string{"/api/draw", "/api/employees", "/api/winners", "/api/settings"}

// NewServer wires the handlers and starts the websocket hub. The hub becomes
// the session's notifier.
func NewServer(opts Options) *Server {
	origin := opts.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	gate := opts.Gate
	if gate == nil {
		gate = auth.NewGate(auth.NewVerifier("", nil), protectedPrefixes...)
	}

	s := &Server{
		session:    opts.Session,
		settings:   opts.Settings,
		audit:      opts.Audit,
		gate:       gate,
		corsOrigin: origin,
		hub:        NewWSHub(origin),
	}
	s.hub.Start()
	s.session.SetNotifier(s.hub)
	return s
}

// NewGate builds the auth gate covering the admin API prefixes.
func NewGate(secret string) *auth.Gate {
	return auth.NewGate(auth.NewVerifier(secret, nil), protectedPrefixes...)
}

// Handler returns the full route table behind the auth gate.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// 抽選操作
	mux.HandleFunc("/api/draw/state", s.corsMiddleware(s.handleDrawState))
	mux.HandleFunc("/api/draw/start", s.corsMiddleware(s.drawAction("start", s.session.StartDraw)))
	mux.HandleFunc("/api/draw/random", s.corsMiddleware(s.drawAction("random", s.session.DrawWinner)))
	mux.HandleFunc("/api/draw/reveal", s.corsMiddleware(s.drawAction("reveal", s.session.RevealWinner)))
	mux.HandleFunc("/api/draw/accept", s.corsMiddleware(s.drawAction("accept", s.session.AcceptWinner)))
	mux.HandleFunc("/api/draw/reject", s.corsMiddleware(s.drawAction("reject", s.session.RejectWinner)))
	mux.HandleFunc("/api/draw/next", s.corsMiddleware(s.drawAction("next", s.session.NextDraw)))
	mux.HandleFunc("/api/draw/reset", s.corsMiddleware(s.drawAction("reset", s.session.Reset)))

	mux.HandleFunc("/api/employees", s.corsMiddleware(s.handleEmployees))
	mux.HandleFunc("/api/winners", s.corsMiddleware(s.handleWinners))
	mux.HandleFunc("/api/settings", s.corsMiddleware(s.handleSettings))
	mux.HandleFunc("/api/settings/quotas", s.corsMiddleware(s.handleQuotas))
	mux.HandleFunc("/api/audit", s.corsMiddleware(s.gate.RequireToken(s.handleAudit)))

	mux.HandleFunc("/status", s.corsMiddleware(s.handleStatus))
	mux.Handle("/ws", s.hub)

	return s.gate.Middleware(mux)
}

func (s *Server) corsMiddleware(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if s.corsOrigin != "*" {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		handler(w, r)
	}
}

// Start listens on port in the background. Binding errors are reported.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	logger.Info("Starting web server", zap.String("address", addr))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		WriteTimeout: 30 * time.Second,
		ReadTimeout:  10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	// Wait briefly to catch immediate binding errors
	select {
	case err := <-errChan:
		if err != nil {
			logger.Error("Failed to start web server", zap.Error(err))
			return fmt.Errorf("failed to start web server on port %d: %w", port, err)
		}
	case <-time.After(100 * time.Millisecond):
	}

	return nil
}

// Shutdown gracefully shuts down the web server and the websocket hub.
func (s *Server) Shutdown() {
	s.hub.Stop()
	if s.httpServer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown web server gracefully", zap.Error(err))
	} else {
		logger.Info("Web server shutdown complete")
	}
}

// handleStatus returns the current system status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.session.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"draw_status":  snap.Status,
		"current_draw": snap.CurrentDraw,
		"ws_clients":   s.hub.ClientCount(),
		"version":      version.String(),
		"timestamp":    time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	})
}
