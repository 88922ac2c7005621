// Package controller runs the control loop that keeps the bulbs on schedule.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fluxd/internal/clock"
	"github.com/dokzlo13/fluxd/internal/color"
	"github.com/dokzlo13/fluxd/internal/device"
	"github.com/dokzlo13/fluxd/internal/eventbus"
	"github.com/dokzlo13/fluxd/internal/override"
	"github.com/dokzlo13/fluxd/internal/schedule"
)

// Default intervals between steps.
const (
	DefaultOfflineInterval  = 1 * time.Second
	DefaultActiveInterval   = 60 * time.Second
	DefaultOverrideInterval = 5 * time.Second
)

// Devices is what the controller needs from the bulb fleet.
type Devices interface {
	Probe(ctx context.Context) (device.Light, error)
	Query(ctx context.Context) (device.Reported, device.Light, error)
	ApplyAll(ctx context.Context, cmd device.Command) error
	ApplyStaggered(ctx context.Context, cmd device.Command) error
}

// Publisher receives controller events.
type Publisher interface {
	Publish(event eventbus.Event)
}

// Options tunes the controller. Zero values fall back to defaults.
type Options struct {
	OfflineInterval  time.Duration
	ActiveInterval   time.Duration
	OverrideInterval time.Duration
	// AlwaysResend re-sends the color every active step even when it did not change.
	AlwaysResend bool
}

// Controller owns the control state. Only the goroutine calling Step/Run may touch it.
type Controller struct {
	devices   Devices
	engine    *schedule.Engine
	converter color.Converter
	detector  override.Detector
	clock     clock.Clock
	events    Publisher
	opts      Options

	state     State
	commanded color.Color
	// mode the bulbs were last put into by us
	mode color.Mode
}

// New creates a controller in the Offline state.
func New(
	devices Devices,
	engine *schedule.Engine,
	converter color.Converter,
	detector override.Detector,
	clk clock.Clock,
	events Publisher,
	opts Options,
) *Controller {
	if opts.OfflineInterval <= 0 {
		opts.OfflineInterval = DefaultOfflineInterval
	}
	if opts.ActiveInterval <= 0 {
		opts.ActiveInterval = DefaultActiveInterval
	}
	if opts.OverrideInterval <= 0 {
		opts.OverrideInterval = DefaultOverrideInterval
	}
	if clk == nil {
		clk = clock.Real{}
	}

	return &Controller{
		devices:   devices,
		engine:    engine,
		converter: converter,
		detector:  detector,
		clock:     clk,
		events:    events,
		opts:      opts,
		state:     StateOffline,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Commanded returns the last color successfully sent to every bulb, or the zero Color.
func (c *Controller) Commanded() color.Color {
	return c.commanded
}

// Run steps the controller until ctx is cancelled or an invalid state is reached.
func (c *Controller) Run(ctx context.Context) error {
	log.Info().
		Str("state", c.state.String()).
		Dur("active_interval", c.opts.ActiveInterval).
		Bool("always_resend", c.opts.AlwaysResend).
		Msg("Controller started")

	for {
		wait, err := c.Step(ctx)
		if err != nil {
			log.Error().Err(err).Str("state", c.state.String()).Msg("Controller in bad state, aborting")
			return err
		}

		if err := c.clock.Sleep(ctx, wait); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info().Msg("Controller stopping")
				return nil
			}
			return err
		}
	}
}

// Step runs exactly one state's checks and actions and returns how long to
// wait before the next step.
func (c *Controller) Step(ctx context.Context) (time.Duration, error) {
	switch c.state {
	case StateOffline:
		return c.stepOffline(ctx), nil
	case StateActive:
		return c.stepActive(ctx), nil
	case StateOverridden:
		return c.stepOverridden(ctx), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidState, int(c.state))
	}
}

func (c *Controller) stepOffline(ctx context.Context) time.Duration {
	light, err := c.devices.Probe(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Lights still unreachable")
		return c.opts.OfflineInterval
	}
	log.Info().Str("device", light.Address()).Msg("Lights reachable again")

	rendered := c.render()
	if err := c.apply(ctx, rendered, device.MaxBrightness); err != nil {
		log.Warn().Err(err).Msg("Failed to restore lights, staying offline")
		c.mode = color.ModeUnset
		return c.opts.OfflineInterval
	}

	c.commanded = color.Color{}
	c.transition(StateActive, "lights reachable")
	return 0
}

func (c *Controller) stepActive(ctx context.Context) time.Duration {
	rendered := c.render()

	reported, light, err := c.devices.Query(ctx)
	verdict := c.detector.Check(c.commanded, reported, err, c.mode == color.ModeRGBW)

	switch verdict {
	case override.VerdictUnknown:
		log.Info().Err(err).Msg("Lights turned off or unreachable")
		c.goOffline("query failed")
		return 0

	case override.VerdictOverridden:
		log.Info().
			Str("device", light.Address()).
			Str("commanded", c.commanded.String()).
			Str("reported", reported.String()).
			Msg("Manual override detected")
		c.publish(eventbus.EventTypeOverrideDetected, map[string]any{
			"device":    light.Address(),
			"commanded": c.commanded.String(),
			"reported":  reported.String(),
		})
		c.transition(StateOverridden, "manual override")
		return 0

	case override.VerdictReset:
		log.Info().Str("device", light.Address()).Msg("Reset color seen, restoring schedule")
		if err := c.apply(ctx, rendered, device.MaxBrightness); err != nil {
			c.goOffline("restore failed")
			return 0
		}
		c.commanded = rendered
		return c.opts.ActiveInterval
	}

	if rendered == c.commanded && !c.opts.AlwaysResend {
		log.Debug().Str("color", rendered.String()).Msg("Not changing light color")
		return c.opts.ActiveInterval
	}

	log.Debug().Str("color", rendered.String()).Str("previous", c.commanded.String()).Msg("Setting light color")
	if err := c.apply(ctx, rendered, 0); err != nil {
		log.Info().Err(err).Msg("Lights turned off")
		c.goOffline("apply failed")
		return 0
	}

	c.commanded = rendered
	return c.opts.ActiveInterval
}

func (c *Controller) stepOverridden(ctx context.Context) time.Duration {
	reported, light, err := c.devices.Query(ctx)
	if err == nil && c.detector.IsReset(reported) {
		log.Info().Str("device", light.Address()).Msg("Reset color seen, returning control to schedule")

		if err := c.apply(ctx, c.render(), device.MaxBrightness); err != nil {
			c.goOffline("restore failed")
			return 0
		}
		c.commanded = color.Color{}
		c.transition(StateActive, "reset color")
		return 0
	}

	// a successful query already proves liveness
	if err != nil {
		if _, perr := c.devices.Probe(ctx); perr != nil {
			log.Info().Err(perr).Msg("Overridden lights unreachable")
			c.goOffline("probe failed")
			return 0
		}
	}

	return c.opts.OverrideInterval
}

// render computes the color for the current time.
func (c *Controller) render() color.Color {
	now := c.clock.Now()
	target := c.engine.Target(now)
	rendered := c.converter.Render(target)

	c.publish(eventbus.EventTypeTargetComputed, map[string]any{
		"kelvin": target,
		"color":  rendered.String(),
		"mode":   rendered.Mode.String(),
	})
	return rendered
}

// apply sends col to every bulb. Entering RGBW mode from anything else is
// staggered one bulb at a time; everything else fans out at once.
func (c *Controller) apply(ctx context.Context, col color.Color, brightness int) error {
	cmd := device.Command{Color: col, Brightness: brightness}

	var err error
	staggered := col.Mode == color.ModeRGBW && c.mode != color.ModeRGBW
	if staggered {
		log.Info().Str("color", col.String()).Msg("Switching to RGBW mode, staggering changeover")
		err = c.devices.ApplyStaggered(ctx, cmd)
	} else {
		err = c.devices.ApplyAll(ctx, cmd)
	}

	if err != nil {
		data := map[string]any{
			"color": col.String(),
			"error": err.Error(),
		}
		var applyErr *device.ApplyError
		if errors.As(err, &applyErr) {
			data["acked"] = applyErr.Acked
			data["total"] = applyErr.Total
		}
		c.publish(eventbus.EventTypeApplyFailed, data)
		return err
	}

	c.mode = col.Mode
	c.publish(eventbus.EventTypeColorApplied, map[string]any{
		"color":      col.String(),
		"mode":       col.Mode.String(),
		"kelvin":     col.Kelvin,
		"brightness": brightness,
		"staggered":  staggered,
	})
	return nil
}

func (c *Controller) goOffline(reason string) {
	c.commanded = color.Color{}
	c.mode = color.ModeUnset
	c.transition(StateOffline, reason)
}

func (c *Controller) transition(to State, reason string) {
	from := c.state
	if from == to {
		return
	}
	c.state = to

	log.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Str("reason", reason).
		Msg("State changing")

	c.publish(eventbus.EventTypeStateChanged, map[string]any{
		"from":   from.String(),
		"to":     to.String(),
		"reason": reason,
	})
}

func (c *Controller) publish(eventType eventbus.EventType, data map[string]any) {
	if c.events == nil {
		return
	}
	c.events.Publish(eventbus.NewEvent(eventType, c.clock.Now(), data))
}
