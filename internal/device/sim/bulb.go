// Package sim provides an in-memory bulb for tests and dry runs.
package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/dokzlo13/fluxd/internal/color"
	"github.com/dokzlo13/fluxd/internal/device"
)

// Bulb is a simulated bulb. It reports whatever it was last set to.
type Bulb struct {
	mu sync.Mutex

	address    string
	online     bool
	failApply  bool
	state      device.Reported
	applies    []device.Command
	probes     int
	queries    int
	lastApplyC color.Color
}

var _ device.Light = (*Bulb)(nil)

// NewBulb creates an online bulb showing 2700K at full brightness.
func NewBulb(address string) *Bulb {
	return &Bulb{
		address: address,
		online:  true,
		state:   device.Reported{On: true, Kelvin: 2700, Dimming: 100},
	}
}

// Address returns the bulb address.
func (b *Bulb) Address() string {
	return b.address
}

// Probe succeeds while the bulb is online.
func (b *Bulb) Probe(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probes++
	return b.check(ctx)
}

// Apply records cmd and updates the reported state.
func (b *Bulb) Apply(ctx context.Context, cmd device.Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.check(ctx); err != nil {
		return err
	}
	if b.failApply {
		return fmt.Errorf("%s: %w", b.address, device.ErrRejected)
	}

	b.applies = append(b.applies, cmd)
	b.lastApplyC = cmd.Color

	st := device.Reported{On: true, Dimming: b.state.Dimming}
	switch cmd.Color.Mode {
	case color.ModeNative:
		st.Kelvin = cmd.Color.Kelvin
	case color.ModeRGBW:
		st.Red, st.Green, st.Blue = cmd.Color.Red, cmd.Color.Green, cmd.Color.Blue
		st.Warm, st.Cold = cmd.Color.Warm, cmd.Color.Cold
	}
	if cmd.Brightness > 0 {
		st.Dimming = device.DimmingPercent(cmd.Brightness)
	}
	b.state = st
	return nil
}

// Query returns the current simulated state.
func (b *Bulb) Query(ctx context.Context) (device.Reported, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries++
	if err := b.check(ctx); err != nil {
		return device.Reported{}, err
	}
	return b.state, nil
}

func (b *Bulb) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w: %w", b.address, device.ErrUnreachable, err)
	}
	if !b.online {
		return fmt.Errorf("%s: %w", b.address, device.ErrUnreachable)
	}
	return nil
}

// SetOnline toggles reachability.
func (b *Bulb) SetOnline(online bool) {
	b.mu.Lock()
	b.online = online
	b.mu.Unlock()
}

// SetFailApply makes Apply fail while the bulb still answers probes and queries.
func (b *Bulb) SetFailApply(fail bool) {
	b.mu.Lock()
	b.failApply = fail
	b.mu.Unlock()
}

// SetManual emulates someone changing the bulb from its app or switch.
func (b *Bulb) SetManual(st device.Reported) {
	b.mu.Lock()
	b.state = st
	b.mu.Unlock()
}

// Applies returns every command the bulb accepted.
func (b *Bulb) Applies() []device.Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]device.Command, len(b.applies))
	copy(out, b.applies)
	return out
}

// LastColor returns the last applied color.
func (b *Bulb) LastColor() color.Color {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastApplyC
}

// Probes returns the number of Probe calls.
func (b *Bulb) Probes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.probes
}

// Queries returns the number of Query calls.
func (b *Bulb) Queries() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queries
}

// State returns the current simulated state.
func (b *Bulb) State() device.Reported {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
