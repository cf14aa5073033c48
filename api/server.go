// Package api provides the HTTP API server for tariff-cost
// Serves on-demand quotes, snapshot history and run metrics
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tariff-cost/db/history"
	"tariff-cost/decision/comparison"
	"tariff-cost/decision/estimation"
	"tariff-cost/decision/tariff"
	terrors "tariff-cost/pkg/errors"
)

var version = "1.0.0"

// Server is the HTTP API server
type Server struct {
	httpServer *http.Server
	engine     *comparison.Engine
	store      history.Store
	profiles   map[string]tariff.UsageProfile
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	logger     *zap.Logger
	config     *Config
	now        func() time.Time
}

// Config holds server configuration
type Config struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestSize int64
	CORSOrigins    []string
	// DefaultLimit caps the quote list when the request sets no limit
	DefaultLimit int
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:           ":8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		MaxRequestSize: 1 << 20, // 1MB
		CORSOrigins:    []string{"*"},
		DefaultLimit:   10,
	}
}

// NewServer creates a new API server. A nil registry gets one with the Go runtime and process collectors.
func NewServer(
	engine *comparison.Engine,
	store history.Store,
	profiles []tariff.UsageProfile,
	registry *prometheus.Registry,
	logger *zap.Logger,
	config *Config,
) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	byName := make(map[string]tariff.UsageProfile, len(profiles))
	for _, p := range profiles {
		byName[p.Name] = p
	}

	return &Server{
		engine:   engine,
		store:    store,
		profiles: byName,
		registry: registry,
		requests: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "tariffcost_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"path", "code"}),
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

// Handler builds the routed and wrapped handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/api/v1/quote", s.handleQuote)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("API server starting", zap.String("addr", s.config.Addr))
	return s.httpServer.ListenAndServe()
}

// StartWithGracefulShutdown starts server with graceful shutdown handling
func (s *Server) StartWithGracefulShutdown(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		if err := s.Start(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errChan:
		return err
	case <-quit:
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.requests.WithLabelValues(r.URL.Path, strconv.Itoa(rec.status)).Inc()
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		allowed := false
		for _, o := range s.config.CORSOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// HEALTH ENDPOINTS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("history store not ready", zap.Error(err))
		s.jsonError(w, http.StatusServiceUnavailable, "history store not ready")
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// =============================================================================
// QUOTE ENDPOINT
// =============================================================================

// QuoteRequest selects a usage profile by name or supplies one inline
type QuoteRequest struct {
	ProfileName string               `json:"profile_name"`
	Profile     *tariff.UsageProfile `json:"profile,omitempty"`
	Retailers   []string             `json:"retailers,omitempty"`
	Limit       int                  `json:"limit,omitempty"`
}

// QuoteResponse lists the cheapest plans for the profile, cheapest first
type QuoteResponse struct {
	Profile       string                       `json:"profile_name"`
	PlansPriced   int                          `json:"plans_priced"`
	PricingFailed int                          `json:"pricing_failed"`
	Cheapest      *estimation.Quote            `json:"cheapest"`
	PerRetailer   map[string]*estimation.Quote `json:"per_retailer,omitempty"`
	Quotes        []estimation.Quote           `json:"quotes"`
	QuotedAt      string                       `json:"quoted_at"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)

	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	profile, err := s.resolveProfile(req)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	plans, _, err := s.engine.LoadAndFilter(ctx)
	if err != nil {
		status := http.StatusInternalServerError
		if terrors.HasCode(err, terrors.ErrCodeNoEligiblePlans) {
			status = http.StatusUnprocessableEntity
		}
		s.jsonError(w, status, err.Error())
		return
	}

	quotes, stats, err := s.engine.PriceAll(ctx, plans, profile)
	if err != nil {
		status := http.StatusInternalServerError
		if terrors.HasCode(err, terrors.ErrCodeInvalidProfile) {
			status = http.StatusBadRequest
		}
		s.jsonError(w, status, err.Error())
		return
	}

	resp := QuoteResponse{
		Profile:       profile.Name,
		PlansPriced:   stats.Priced,
		PricingFailed: stats.Failed,
		Cheapest:      comparison.CheapestOverall(quotes),
		QuotedAt:      s.now().UTC().Format(time.RFC3339),
	}
	if len(req.Retailers) > 0 {
		resp.PerRetailer = comparison.CheapestPerCategory(quotes, req.Retailers)
	}

	comparison.SortByCost(quotes)
	limit := req.Limit
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > 0 && len(quotes) > limit {
		quotes = quotes[:limit]
	}
	resp.Quotes = quotes

	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) resolveProfile(req QuoteRequest) (tariff.UsageProfile, error) {
	if req.Profile != nil {
		p := *req.Profile
		if p.Name == "" {
			p.Name = "adhoc"
		}
		return p, nil
	}
	if req.ProfileName == "" {
		return tariff.UsageProfile{}, fmt.Errorf("profile_name or profile is required")
	}
	p, ok := s.profiles[req.ProfileName]
	if !ok {
		return tariff.UsageProfile{}, fmt.Errorf("unknown profile %q", req.ProfileName)
	}
	return p, nil
}

// =============================================================================
// HISTORY ENDPOINT
// =============================================================================

// HistoryEntry is one stored snapshot
type HistoryEntry struct {
	Month    string           `json:"month"`
	Category string           `json:"category"`
	Snapshot history.Snapshot `json:"snapshot"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	profile := r.URL.Query().Get("profile")
	if profile == "" {
		s.jsonError(w, http.StatusBadRequest, "profile is required")
		return
	}

	months := 0
	if raw := r.URL.Query().Get("months"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.jsonError(w, http.StatusBadRequest, "months must be a non-negative integer")
			return
		}
		months = n
	}

	records, err := history.RecentHistory(r.Context(), s.store, s.now(), profile, months)
	if err != nil {
		s.logger.Error("failed to read history", zap.String("profile", profile), zap.Error(err))
		s.jsonError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	resp := make([]HistoryEntry, len(records))
	for i, rec := range records {
		resp[i] = HistoryEntry{
			Month:    rec.Key.Month.String(),
			Category: rec.Key.Category,
			Snapshot: rec.Snapshot,
		}
	}

	s.jsonResponse(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{
		"error": message,
	})
}
