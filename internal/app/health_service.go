package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fluxd/internal/config"
)

// HealthService provides HTTP health check and metrics endpoints.
type HealthService struct {
	cfg     *config.Config
	ready   func() bool
	state   func() string
	metrics http.Handler
	server  *http.Server
}

// NewHealthService creates a new HealthService.
// ready reports readiness, state the current controller state; metrics may be nil.
func NewHealthService(cfg *config.Config, ready func() bool, state func() string, metrics http.Handler) *HealthService {
	return &HealthService{
		cfg:     cfg,
		ready:   ready,
		state:   state,
		metrics: metrics,
	}
}

// Start begins the health check server if enabled.
func (s *HealthService) Start(ctx context.Context) {
	if !s.cfg.Healthcheck.Enabled {
		return
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Healthcheck.Host, s.cfg.Healthcheck.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go s.run(ctx)
}

// Handler returns the mux serving /health, /ready and /metrics.
func (s *HealthService) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint - the process is up
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// Ready check endpoint - the lights have been put on schedule at least once
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{"status": "ready", "state": s.state()}
		if !s.ready() {
			body["status"] = "not_ready"
			writeStatus(w, http.StatusServiceUnavailable, body)
			return
		}
		writeStatus(w, http.StatusOK, body)
	})

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	return mux
}

func (s *HealthService) run(ctx context.Context) {
	log.Info().Str("addr", s.server.Addr).Msg("Starting health check server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Health check server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Health check server error")
	}
}

func writeStatus(w http.ResponseWriter, code int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("Failed to write health response")
	}
}
