package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fluxd/internal/clock"
	"github.com/dokzlo13/fluxd/internal/config"
	"github.com/dokzlo13/fluxd/internal/eventbus"
	"github.com/dokzlo13/fluxd/internal/metrics"
	"github.com/dokzlo13/fluxd/internal/status"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	Bus     *eventbus.Bus
	Metrics *metrics.Metrics

	Lights     *LightService
	Controller *ControllerService
	Health     *HealthService

	// Optional observers, nil when disabled
	Ledger *LedgerService
	Status *status.Publisher
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config, clk clock.Clock) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize event bus
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	// Metrics always track the controller; they are only served with the healthcheck
	s.Metrics = metrics.New()
	s.Metrics.Attach(s.Bus)

	var err error
	s.Lights, err = NewLightService(cfg, clk)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Controller, err = NewControllerService(cfg, s.Lights.Fleet, s.Bus, clk)
	if err != nil {
		s.Close()
		return nil, err
	}

	if cfg.Ledger.Enabled {
		s.Ledger, err = NewLedgerService(cfg, s.Bus)
		if err != nil {
			s.Close()
			return nil, err
		}
	}

	if cfg.MQTT.Enabled {
		s.Status = status.New(status.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
		})
		s.Status.Attach(s.Bus)
	}

	s.Health = NewHealthService(cfg,
		s.Controller.Ready,
		s.Controller.State,
		s.Metrics.Handler(),
	)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when the control loop fails.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	if s.Status != nil {
		connectCtx, cancel := context.WithTimeout(ctx, s.cfg.MQTT.ConnectTimeout.Duration())
		err := s.Status.Connect(connectCtx)
		cancel()
		if err != nil {
			// status is informational; the lights do not depend on it
			log.Warn().Err(err).Msg("MQTT status publisher unavailable, continuing without it")
		}
	}

	if s.Ledger != nil {
		s.Ledger.Start(ctx)
	}
	s.Health.Start(ctx)
	s.Controller.Start(ctx, onFatalError)

	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	if s.Controller != nil {
		s.Controller.Wait()
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.Status != nil {
		s.Status.Close()
	}
	if s.Ledger != nil {
		s.Ledger.Close()
	}
}
