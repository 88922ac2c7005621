package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fluxd/internal/clock"
	"github.com/dokzlo13/fluxd/internal/config"
	"github.com/dokzlo13/fluxd/internal/device"
	"github.com/dokzlo13/fluxd/internal/device/sim"
	"github.com/dokzlo13/fluxd/internal/device/wiz"
)

// LightService owns the bulb fleet: WiZ clients on the network, or simulated
// bulbs when devices.simulate is set.
type LightService struct {
	Fleet *device.Fleet
	// Simulated is non-empty only in simulate mode.
	Simulated []*sim.Bulb
}

// NewLightService builds the fleet from config.
func NewLightService(cfg *config.Config, clk clock.Clock) (*LightService, error) {
	s := &LightService{}
	lights := make([]device.Light, 0, len(cfg.Devices.Addresses))

	for _, addr := range cfg.Devices.Addresses {
		if cfg.Devices.Simulate {
			b := sim.NewBulb(addr)
			s.Simulated = append(s.Simulated, b)
			lights = append(lights, b)
			continue
		}
		lights = append(lights, wiz.NewClient(addr, cfg.Devices.RateLimitRPS))
	}

	fleet, err := device.NewFleet(lights, device.FleetOptions{
		Timeout:  cfg.Devices.Timeout.Duration(),
		Attempts: cfg.Devices.Attempts,
		Stagger:  cfg.Devices.Stagger.Duration(),
		Clock:    clk,
	})
	if err != nil {
		return nil, err
	}
	s.Fleet = fleet

	log.Info().
		Strs("devices", fleet.Addresses()).
		Bool("simulate", cfg.Devices.Simulate).
		Dur("timeout", cfg.Devices.Timeout.Duration()).
		Msg("Light fleet configured")

	return s, nil
}
