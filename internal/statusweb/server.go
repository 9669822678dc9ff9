// Package statusweb exposes a small, read-only HTTP status surface for
// the risk daemon, adapted from the teacher's dashboard
// (internal/dashboard/server.go): chi middleware stack, a
// constant-time-compared auth token, and a JSON API instead of the
// teacher's HTML templates — an operator checks risk-daemon state from a
// terminal or monitoring tool, not a browser dashboard. It never exposes
// start/stop or enforcement actions (spec §4.9: "status surface is
// strictly read-only").
package statusweb

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/riskd/internal/config"
	"github.com/eddiefleurent/riskd/internal/lifecycle"
	"github.com/eddiefleurent/riskd/internal/session"
)

// Server is the read-only status HTTP surface.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	lifecycle *lifecycle.Machine
	sess      *session.Store
	cfg       *config.Store
	logger    *logrus.Logger
	port      int
	authToken string
}

// Config configures a Server.
type Config struct {
	Port      int
	AuthToken string
}

// New constructs a Server wired to the daemon's live state.
func New(cfg Config, lc *lifecycle.Machine, sess *session.Store, cfgStore *config.Store, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		lifecycle: lc,
		sess:      sess,
		cfg:       cfgStore,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLoggerMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(15 * time.Second))

	if s.authToken != "" {
		s.router.Route("/", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/api/status", s.handleStatus)
			r.Get("/api/config", s.handleConfig)
			r.Get("/api/pnl", s.handlePnL)
		})
	} else {
		s.router.Get("/api/status", s.handleStatus)
		s.router.Get("/api/config", s.handleConfig)
		s.router.Get("/api/pnl", s.handlePnL)
	}

	s.router.Get("/health", s.handleHealth)
}

func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loggedURL := s.redactTokenFromURL(r.URL)
		logEntry := s.logger.WithFields(logrus.Fields{
			"method": r.Method,
			"url":    loggedURL.String(),
		})
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		logEntry.WithFields(logrus.Fields{
			"status":   wrapped.Status(),
			"duration": time.Since(start),
		}).Info("status request")
	})
}

func (s *Server) redactTokenFromURL(original *url.URL) *url.URL {
	cloned := *original
	if original.RawQuery != "" {
		values := original.Query()
		if values.Has("token") {
			values.Set("token", "[REDACTED]")
		}
		cloned.RawQuery = values.Encode()
	}
	return &cloned
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if !s.isValidToken(token) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isValidToken(token string) bool {
	if len(token) != len(s.authToken) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

// Start blocks serving the status API until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Infof("Starting status server on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the status server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type statusResponse struct {
	State         string  `json:"state"`
	Since         string  `json:"since"`
	TradingLocked bool    `json:"trading_locked"`
	DryRun        bool    `json:"dry_run"`
	DailyPnL      float64 `json:"daily_realized_pnl"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	state := s.sess.State()
	resp := statusResponse{
		State:         string(s.lifecycle.Current()),
		Since:         s.lifecycle.Since().Round(time.Second).String(),
		TradingLocked: state.TradingLocked,
		DryRun:        s.cfg.Current().DryRun,
		DailyPnL:      state.DailyRealizedPnL,
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.cfg.Current())
}

func (s *Server) handlePnL(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.sess.State())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{"status": "healthy", "timestamp": time.Now().Unix()})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("failed to encode status response")
	}
}
