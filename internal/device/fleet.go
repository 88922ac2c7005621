package device

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dokzlo13/fluxd/internal/clock"
)

// ErrPartialApply marks a fan-out where not every bulb acknowledged.
var ErrPartialApply = errors.New("device: not all devices acknowledged")

// Fleet defaults
const (
	DefaultTimeout  = 2 * time.Second
	DefaultAttempts = 3
	DefaultStagger  = 2 * time.Second
)

// ApplyError describes a failed fan-out apply.
type ApplyError struct {
	Acked int
	Total int
	Err   error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("device: %d/%d devices acknowledged: %v", e.Acked, e.Total, e.Err)
}

// Unwrap exposes both ErrPartialApply and the first device error.
func (e *ApplyError) Unwrap() []error {
	return []error{ErrPartialApply, e.Err}
}

// FleetOptions tunes fleet behaviour. Zero values fall back to defaults.
type FleetOptions struct {
	Timeout  time.Duration // per device call
	Attempts int           // distinct devices tried by Probe/Query
	Stagger  time.Duration // pause between devices in ApplyStaggered
	Clock    clock.Clock
	Rand     *rand.Rand
}

// Fleet is the fixed set of bulbs driven together.
// The device list is immutable after construction.
type Fleet struct {
	lights   []Light
	timeout  time.Duration
	attempts int
	stagger  time.Duration
	clock    clock.Clock
	rng      *rand.Rand
}

// NewFleet creates a fleet over lights.
func NewFleet(lights []Light, opts FleetOptions) (*Fleet, error) {
	if len(lights) == 0 {
		return nil, ErrNoDevices
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Stagger < 0 {
		opts.Stagger = 0
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}

	out := make([]Light, len(lights))
	copy(out, lights)

	return &Fleet{
		lights:   out,
		timeout:  opts.Timeout,
		attempts: opts.Attempts,
		stagger:  opts.Stagger,
		clock:    opts.Clock,
		rng:      opts.Rand,
	}, nil
}

// Len returns the number of bulbs.
func (f *Fleet) Len() int {
	return len(f.lights)
}

// Addresses returns the bulb addresses in configuration order.
func (f *Fleet) Addresses() []string {
	out := make([]string, len(f.lights))
	for i, l := range f.lights {
		out[i] = l.Address()
	}
	return out
}

// sample returns up to f.attempts distinct bulbs in random order.
func (f *Fleet) sample() []Light {
	n := f.attempts
	if n > len(f.lights) {
		n = len(f.lights)
	}
	perm := f.rng.Perm(len(f.lights))
	out := make([]Light, 0, n)
	for _, i := range perm[:n] {
		out = append(out, f.lights[i])
	}
	return out
}

// Probe checks liveness against sampled bulbs, stopping at the first that answers.
func (f *Fleet) Probe(ctx context.Context) (Light, error) {
	var lastErr error
	for _, l := range f.sample() {
		callCtx, cancel := context.WithTimeout(ctx, f.timeout)
		err := l.Probe(callCtx)
		cancel()
		if err == nil {
			return l, nil
		}
		log.Debug().Err(err).Str("device", l.Address()).Msg("Probe failed")
		lastErr = err
	}
	return nil, fmt.Errorf("probe: %w", lastErr)
}

// Query reads the reported state of the first sampled bulb that answers.
func (f *Fleet) Query(ctx context.Context) (Reported, Light, error) {
	var lastErr error
	for _, l := range f.sample() {
		callCtx, cancel := context.WithTimeout(ctx, f.timeout)
		rep, err := l.Query(callCtx)
		cancel()
		if err == nil {
			return rep, l, nil
		}
		log.Debug().Err(err).Str("device", l.Address()).Msg("Query failed")
		lastErr = err
	}
	return Reported{}, nil, fmt.Errorf("query: %w", lastErr)
}

// ApplyAll sends cmd to every bulb concurrently and waits for all of them.
// It succeeds only if every bulb acknowledged; anything less is an *ApplyError.
func (f *Fleet) ApplyAll(ctx context.Context, cmd Command) error {
	var (
		g     errgroup.Group
		acked atomic.Int32
	)

	for _, l := range f.lights {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()

			if err := l.Apply(callCtx, cmd); err != nil {
				log.Warn().Err(err).Str("device", l.Address()).Str("color", cmd.Color.String()).Msg("Apply failed")
				return fmt.Errorf("%s: %w", l.Address(), err)
			}
			acked.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return &ApplyError{Acked: int(acked.Load()), Total: len(f.lights), Err: err}
	}
	return nil
}

// ApplyStaggered sends cmd to one bulb at a time, pausing between them,
// so a mode change does not flash every bulb at once.
func (f *Fleet) ApplyStaggered(ctx context.Context, cmd Command) error {
	for i, l := range f.lights {
		if i > 0 {
			if err := f.clock.Sleep(ctx, f.stagger); err != nil {
				return &ApplyError{Acked: i, Total: len(f.lights), Err: err}
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, f.timeout)
		err := l.Apply(callCtx, cmd)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("device", l.Address()).Str("color", cmd.Color.String()).Msg("Staggered apply failed")
			return &ApplyError{Acked: i, Total: len(f.lights), Err: fmt.Errorf("%s: %w", l.Address(), err)}
		}
		log.Debug().Str("device", l.Address()).Str("color", cmd.Color.String()).Msg("Staggered apply")
	}
	return nil
}
