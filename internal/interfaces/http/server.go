package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/tomking/trading/internal/domain"
	"github.com/tomking/trading/internal/engine"
)

// StateSource exposes the latest evaluation state to the read-only
// surface. The paper runner implements it; handlers read the most recent
// published state and never block on the evaluation loop.
type StateSource interface {
	LatestSnapshot() (*domain.MarketSnapshot, bool)
	LatestAccount() (*domain.AccountState, bool)
}

// Server represents the read-only HTTP server
type Server struct {
	router  *mux.Router
	server  *http.Server
	engine  *engine.Engine
	state   StateSource
	metrics *MetricsRegistry
	health  *HealthHandler
	config  ServerConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Listen       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Listen:       "127.0.0.1:8090", // Local-only by default
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates a new HTTP server instance
func NewServer(config ServerConfig, eng *engine.Engine, state StateSource, metrics *MetricsRegistry, health *HealthHandler) (*Server, error) {
	if config.Listen == "" {
		config = DefaultServerConfig()
	}
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}

	// Check if the address is available
	listener, err := net.Listen("tcp", config.Listen)
	if err != nil {
		return nil, fmt.Errorf("address %s is busy or unavailable: %w", config.Listen, err)
	}
	listener.Close()

	server := &Server{
		router:  mux.NewRouter(),
		engine:  eng,
		state:   state,
		metrics: metrics,
		health:  health,
		config:  config,
	}

	// Setup routes
	server.setupRoutes()

	// Create HTTP server
	server.server = &http.Server{
		Addr:         config.Listen,
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Middleware for all routes
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.timeoutMiddleware)
	s.router.Use(s.corsMiddleware)

	// Health and metrics set their own headers
	if s.health != nil {
		s.router.Handle("/health", s.health).Methods("GET")
	}
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.MetricsHandler()).Methods("GET")
	}

	// API routes (JSON only)
	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.jsonContentTypeMiddleware)

	// Regime endpoint for the current VIX classification
	api.HandleFunc("/regime", s.handleRegime).Methods("GET")

	// Positions endpoint for the account book
	api.HandleFunc("/positions", s.handlePositions).Methods("GET")

	// Catalog endpoint for the strategy definitions
	api.HandleFunc("/catalog", s.handleCatalog).Methods("GET")

	// 404 handler
	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

// Router exposes the handler tree for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// handleRegime serves GET /regime: the classification the engine would
// use right now, plus the configured bands.
func (s *Server) handleRegime(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()

	resp := regimeResponse{
		Timestamp: now,
		Bands:     s.engine.Regimes().Bands(),
	}

	snap, ok := s.latestSnapshot()
	if ok {
		resp.Regime = s.engine.Regimes().Classify(snap.VIX, snap.VIXAsOf, now)
		resp.VIX = snap.VIX
		if !snap.VIXAsOf.IsZero() {
			resp.VIXAsOf = snap.VIXAsOf
			resp.VIXAgeSeconds = snap.VIXAge(now).Seconds()
		}
	} else {
		// No snapshot published yet: report the fail-closed sentinel.
		resp.Regime = s.engine.Regimes().UnknownRegime()
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handlePositions serves GET /positions: the latest account book with
// the aggregate counts the phase limits run against.
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	account, ok := s.latestAccount()
	if !ok {
		s.writeError(w, r, http.StatusServiceUnavailable, "state_unavailable",
			"No account state has been published yet")
		return
	}

	cls := s.engine.Phases().Classify(account.Capital)
	resp := positionsResponse{
		Timestamp:   time.Now().UTC(),
		Capital:     account.Capital,
		BPUsed:      account.BPUsed,
		RealizedPL:  account.RealizedPL,
		Phase:       cls.Phase.Number,
		OpenCount:   account.OpenCount(),
		GroupCounts: account.GroupCounts(),
		Positions:   account.Positions,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleCatalog serves GET /catalog: every strategy definition and
// which of them the current phase unlocks.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	strategies := s.engine.Catalog().Strategies()
	resp := catalogResponse{
		Timestamp:  time.Now().UTC(),
		Count:      len(strategies),
		Strategies: strategies,
	}

	if account, ok := s.latestAccount(); ok {
		cls := s.engine.Phases().Classify(account.Capital)
		resp.Phase = cls.Phase.Number
		for _, strat := range s.engine.Catalog().UnlockedFor(cls.Phase.Number) {
			resp.Unlocked = append(resp.Unlocked, strat.ID)
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleNotFound handles 404 responses
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}

func (s *Server) latestSnapshot() (*domain.MarketSnapshot, bool) {
	if s.state == nil {
		return nil, false
	}
	return s.state.LatestSnapshot()
}

func (s *Server) latestAccount() (*domain.AccountState, bool) {
	if s.state == nil {
		return nil, false
	}
	return s.state.LatestAccount()
}

// writeJSON writes JSON response with proper error handling
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

// writeError writes standardized error response
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID, _ := r.Context().Value(requestIDKey).(string)
	if requestID == "" {
		requestID = "unknown"
	}

	s.writeJSON(w, status, errorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	})
}

type contextKey string

const requestIDKey contextKey = "request_id"

// requestIDMiddleware adds unique request ID to each request
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLoggingMiddleware logs all requests with structured format
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Capture response status
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: 200}
		next.ServeHTTP(wrapper, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}

// timeoutMiddleware enforces request timeouts
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware adds CORS headers for local development
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only allow localhost origins
		origin := r.Header.Get("Origin")
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// jsonContentTypeMiddleware sets JSON content type for API responses
func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().
		Str("listen", s.config.Listen).
		Msg("Starting HTTP server (local-only, read-only)")

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// GetAddress returns the server address
func (s *Server) GetAddress() string {
	return s.config.Listen
}

// responseWrapper captures HTTP status codes for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
