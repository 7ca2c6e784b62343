package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/greenode-labs/greenode-monitor/api/middleware"
	"github.com/greenode-labs/greenode-monitor/api/websocket"
	"github.com/greenode-labs/greenode-monitor/events"
	"github.com/greenode-labs/greenode-monitor/storage"
)

// Version is the monitor release version, overridable at build time
var Version = "dev"

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
	defaultStatsDays   = 7
	maxStatsDays       = 90
)

// Server exposes the monitor over HTTP and WebSocket
type Server struct {
	config *Config
	store  storage.Store
	bus    *events.Bus
	window *events.Window
	logger *zap.Logger

	router     chi.Router
	httpServer *http.Server
	hub        *websocket.Hub
	wsServer   *websocket.Server

	busHandle events.Handle
	hubCancel context.CancelFunc
}

// NewServer creates an API server wired to the store and the event bus
func NewServer(config *Config, store storage.Store, bus *events.Bus, window *events.Window, logger *zap.Logger) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid api config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config: config,
		store:  store,
		bus:    bus,
		window: window,
		logger: logger,
	}

	s.hub = websocket.NewHub(logger)

	var snapshot websocket.SnapshotFunc
	if window != nil {
		snapshot = window.Snapshot
	}
	s.wsServer = websocket.NewServer(s.hub, snapshot, logger)

	s.setupRouter()

	return s, nil
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(s.logger))
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)

	if s.config.EnableCORS {
		r.Use(s.corsMiddleware)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/transactions/recent", s.handleRecentTransactions)
		r.Get("/recommendations/recent", s.handleRecentRecommendations)
		r.Get("/stats", s.handleStats)
		r.Get("/activity", s.handleActivity)
	})

	r.Get("/ws", s.wsServer.ServeHTTP)

	s.router = r
}

// Start begins serving HTTP requests and bridging the event bus to the
// WebSocket hub. It blocks until the listener fails or is shut down.
func (s *Server) Start() error {
	hubCtx, cancel := context.WithCancel(context.Background())
	s.hubCancel = cancel
	go s.hub.Run(hubCtx)

	s.busHandle = s.bus.Subscribe(func(tx events.EnrichedTransaction) {
		if err := s.hub.Broadcast(websocket.MessageTypeTransaction, tx); err != nil {
			s.logger.Warn("failed to broadcast transaction", zap.Error(err))
		}
	})

	s.httpServer = &http.Server{
		Addr:         s.config.Address(),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info("api server starting", zap.String("address", s.config.Address()))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop() error {
	s.logger.Info("api server stopping")

	if s.busHandle != "" {
		s.bus.Unsubscribe(s.busHandle)
	}
	if s.hubCancel != nil {
		s.hubCancel()
	}

	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	return nil
}

// Router exposes the route handler for tests
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	published, delivered, dropped := s.bus.Stats()

	status := "healthy"
	code := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"events": map[string]uint64{
			"published": published,
			"delivered": delivered,
			"dropped":   dropped,
		},
		"subscribers": s.bus.SubscriberCount(),
		"ws_clients":  s.hub.ClientCount(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version": Version,
		"service": "greenode-monitor",
	})
}

func (s *Server) handleRecentTransactions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultRecentLimit, maxRecentLimit)

	records, err := s.store.RecentTransactions(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to load recent transactions", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load transactions")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": records,
		"count":        len(records),
	})
}

func (s *Server) handleRecentRecommendations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultRecentLimit, maxRecentLimit)

	recs, err := s.store.RecentRecommendations(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to load recent recommendations", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load recommendations")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"recommendations": recs,
		"count":           len(recs),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", defaultStatsDays, maxStatsDays)

	stats, err := s.store.TransactionStats(r.Context(), days)
	if err != nil {
		s.logger.Error("failed to load stats", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":  days,
		"stats": stats,
	})
}

// handleActivity serves the in-memory recent-activity window, the same data
// a WebSocket client receives on connect
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	var entries []events.EnrichedTransaction
	if s.window != nil {
		entries = s.window.Snapshot()
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": entries,
		"count":        len(entries),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, def, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
