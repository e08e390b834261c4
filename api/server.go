package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/pricelab/config"
	"github.com/michaelpento.lv/pricelab/simulator"
)

// Server exposes a deployed testbed over HTTP for dashboards.
type Server struct {
	sim         *simulator.Simulator
	logger      *zap.Logger
	limiter     *rate.Limiter
	waitTimeout time.Duration
	router      *mux.Router
	httpServer  *http.Server
}

// NewServer wires the routes, CORS and rate limiting. Metrics are served
// from gatherer at /metrics when it is non-nil.
func NewServer(cfg config.APIConfig, sim *simulator.Simulator, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sim:         sim,
		logger:      logger.Named("api"),
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.BurstSize),
		waitTimeout: cfg.RateLimit.WaitTimeout,
		router:      mux.NewRouter(),
	}

	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	sub := s.router.PathPrefix("/api").Subrouter()
	sub.Use(s.logRequests, s.rateLimit)
	s.RegisterRoutes(sub)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	s.httpServer = &http.Server{
		Addr:         cfg.Listen,
		Handler:      c.Handler(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the root handler, CORS included.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("API server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}

// rateLimit waits up to waitTimeout for a token and answers 429 otherwise.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.waitTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.waitTimeout)
			defer cancel()
		}
		if err := s.limiter.Wait(ctx); err != nil {
			s.logger.Debug("Request rate limited", zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
