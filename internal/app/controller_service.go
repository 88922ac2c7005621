package app

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fluxd/internal/clock"
	"github.com/dokzlo13/fluxd/internal/color"
	"github.com/dokzlo13/fluxd/internal/config"
	"github.com/dokzlo13/fluxd/internal/controller"
	"github.com/dokzlo13/fluxd/internal/eventbus"
	"github.com/dokzlo13/fluxd/internal/override"
	"github.com/dokzlo13/fluxd/internal/schedule"
)

// ControllerService runs the control loop in the background.
type ControllerService struct {
	Controller *controller.Controller
	Engine     *schedule.Engine

	// ready flips once the lights have been reached and put on schedule.
	ready atomic.Bool

	// state mirrors the controller state for readers on other goroutines.
	mu      sync.Mutex
	state   string
	lastSeq uint64

	wg sync.WaitGroup
}

// NewControllerService builds the schedule engine and controller from config.
func NewControllerService(cfg *config.Config, devices controller.Devices, bus *eventbus.Bus, clk clock.Clock) (*ControllerService, error) {
	sched, err := cfg.ParseSchedule()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	engine := schedule.NewEngine(sched, loc, cfg.Controller.Debounce.Duration())
	converter := color.NewConverter(cfg.Color.MinKelvin, cfg.Color.MaxKelvin)
	reset := cfg.Color.ResetColor
	detector := override.NewDetector(override.RGB{Red: reset.R, Green: reset.G, Blue: reset.B}, cfg.Color.KelvinTolerance)

	ctrl := controller.New(devices, engine, converter, detector, clk, bus, controller.Options{
		OfflineInterval:  cfg.Controller.OfflineInterval.Duration(),
		ActiveInterval:   cfg.Controller.UpdateInterval.Duration(),
		OverrideInterval: cfg.Controller.OverrideInterval.Duration(),
		AlwaysResend:     cfg.Controller.AlwaysResend,
	})

	s := &ControllerService{Controller: ctrl, Engine: engine, state: ctrl.State().String()}
	bus.Subscribe(eventbus.EventTypeStateChanged, s.observe)

	log.Info().
		Int("checkpoints", sched.Len()).
		Str("timezone", loc.String()).
		Int("min_kelvin", converter.MinKelvin).
		Int("max_kelvin", converter.MaxKelvin).
		Msg("Schedule loaded")

	return s, nil
}

// Ready reports whether the controller has reached Active at least once.
func (s *ControllerService) Ready() bool {
	return s.ready.Load()
}

// State returns the last reported controller state name.
func (s *ControllerService) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *ControllerService) observe(e eventbus.Event) {
	to, _ := e.Data["to"].(string)
	if to == "" {
		return
	}

	s.mu.Lock()
	if e.Seq <= s.lastSeq {
		s.mu.Unlock()
		return
	}
	s.lastSeq = e.Seq
	s.state = to
	s.mu.Unlock()

	if to == controller.StateActive.String() {
		if !s.ready.Swap(true) {
			log.Info().Msg("Lights on schedule, service ready")
		}
	}
}

// Start runs the controller until ctx is cancelled. The loop only returns an
// error for an invalid controller state, which is reported through onFatalError.
func (s *ControllerService) Start(ctx context.Context, onFatalError func(error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Controller.Run(ctx); err != nil {
			if onFatalError != nil {
				onFatalError(err)
				return
			}
			log.Error().Err(err).Msg("Controller error")
		}
	}()
}

// Wait blocks until the control loop has returned.
func (s *ControllerService) Wait() {
	s.wg.Wait()
}
