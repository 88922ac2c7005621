package controller

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/fluxd/internal/clock"
	"github.com/dokzlo13/fluxd/internal/color"
	"github.com/dokzlo13/fluxd/internal/device"
	"github.com/dokzlo13/fluxd/internal/device/sim"
	"github.com/dokzlo13/fluxd/internal/eventbus"
	"github.com/dokzlo13/fluxd/internal/override"
	"github.com/dokzlo13/fluxd/internal/schedule"
)

type recorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *recorder) Publish(event eventbus.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) ofType(t eventbus.EventType) []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []eventbus.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	ctrl   *Controller
	bulbs  []*sim.Bulb
	clock  *clock.Manual
	events *recorder
}

var defaultSchedule = []schedule.Raw{
	{At: "05:00", Kelvin: 2200},
	{At: "06:00", Kelvin: 4600},
	{At: "18:00", Kelvin: 4600},
	{At: "22:00", Kelvin: 3000},
	{At: "23:30", Kelvin: 2200},
}

func clockAt(hhmm string) time.Time {
	tod, err := schedule.ParseTimeOfDay(hhmm)
	if err != nil {
		panic(err)
	}
	return time.Date(2024, time.March, 2, 0, 0, 0, 0, time.UTC).Add(time.Duration(tod))
}

func newHarness(t *testing.T, raw []schedule.Raw, start string, opts Options) *harness {
	t.Helper()

	clk := clock.NewManual(clockAt(start))

	bulbs := []*sim.Bulb{sim.NewBulb("10.0.0.1"), sim.NewBulb("10.0.0.2"), sim.NewBulb("10.0.0.3")}
	lights := make([]device.Light, len(bulbs))
	for i, b := range bulbs {
		lights[i] = b
	}

	fleet, err := device.NewFleet(lights, device.FleetOptions{
		Timeout: time.Second,
		Stagger: 2 * time.Second,
		Clock:   clk,
		Rand:    rand.New(rand.NewPCG(7, 11)),
	})
	require.NoError(t, err)

	sched, err := schedule.Parse(raw)
	require.NoError(t, err)

	events := &recorder{}
	ctrl := New(
		fleet,
		schedule.NewEngine(sched, time.UTC, time.Minute),
		color.NewConverter(2200, 6500),
		override.NewDetector(override.DefaultResetColor, override.DefaultKelvinTolerance),
		clk,
		events,
		opts,
	)

	return &harness{ctrl: ctrl, bulbs: bulbs, clock: clk, events: events}
}

func (h *harness) step(t *testing.T) time.Duration {
	t.Helper()
	wait, err := h.ctrl.Step(context.Background())
	require.NoError(t, err)
	return wait
}

func (h *harness) applyCount() int {
	n := 0
	for _, b := range h.bulbs {
		n += len(b.Applies())
	}
	return n
}

func (h *harness) setAll(st device.Reported) {
	for _, b := range h.bulbs {
		b.SetManual(st)
	}
}

func (h *harness) setOnline(online bool) {
	for _, b := range h.bulbs {
		b.SetOnline(online)
	}
}

// bringUp moves the controller from Offline to Active.
func (h *harness) bringUp(t *testing.T) {
	t.Helper()
	require.Equal(t, StateOffline, h.ctrl.State())
	assert.Equal(t, time.Duration(0), h.step(t))
	require.Equal(t, StateActive, h.ctrl.State())
}

func TestOfflineStaysOfflineWhileUnreachable(t *testing.T) {
	h := newHarness(t, defaultSchedule, "12:00", Options{})
	h.setOnline(false)

	for i := 0; i < 3; i++ {
		assert.Equal(t, DefaultOfflineInterval, h.step(t))
		assert.Equal(t, StateOffline, h.ctrl.State())
	}
	assert.Zero(t, h.applyCount())
}

func TestOfflineRecoveryAppliesAtFullBrightness(t *testing.T) {
	h := newHarness(t, defaultSchedule, "12:00", Options{})
	for _, b := range h.bulbs {
		b.SetManual(device.Reported{On: true, Kelvin: 6500, Dimming: 30})
	}

	h.bringUp(t)

	for _, b := range h.bulbs {
		applies := b.Applies()
		require.Len(t, applies, 1)
		assert.Equal(t, color.Native(4600), applies[0].Color)
		assert.Equal(t, device.MaxBrightness, applies[0].Brightness)
		assert.Equal(t, 100, b.State().Dimming)
	}
	assert.True(t, h.ctrl.Commanded().IsZero(), "commanded color is reset on recovery")

	changes := h.events.ofType(eventbus.EventTypeStateChanged)
	require.Len(t, changes, 1)
	assert.Equal(t, "offline", changes[0].Data["from"])
	assert.Equal(t, "active", changes[0].Data["to"])
}

func TestOfflineRecoveryApplyFails(t *testing.T) {
	h := newHarness(t, defaultSchedule, "12:00", Options{})
	h.bulbs[0].SetFailApply(true)

	assert.Equal(t, DefaultOfflineInterval, h.step(t))
	assert.Equal(t, StateOffline, h.ctrl.State())
}

func TestActiveSkipsRedundantUpdate(t *testing.T) {
	h := newHarness(t, defaultSchedule, "12:00", Options{})
	h.bringUp(t)

	assert.Equal(t, DefaultActiveInterval, h.step(t))
	assert.Equal(t, color.Native(4600), h.ctrl.Commanded())
	sent := h.applyCount()

	// the target is flat between 06:00 and 18:00
	h.clock.Advance(DefaultActiveInterval)
	assert.Equal(t, DefaultActiveInterval, h.step(t), "wait timer still advances")
	assert.Equal(t, sent, h.applyCount(), "no command for an unchanged color")
	assert.Equal(t, StateActive, h.ctrl.State())
}

func TestActiveAlwaysResend(t *testing.T) {
	h := newHarness(t, defaultSchedule, "12:00", Options{AlwaysResend: true})
	h.bringUp(t)

	h.step(t)
	sent := h.applyCount()

	h.clock.Advance(DefaultActiveInterval)
	assert.Equal(t, DefaultActiveInterval, h.step(t))
	assert.Equal(t, sent+len(h.bulbs), h.applyCount())
}

func TestActiveFollowsSchedule(t *testing.T) {
	h := newHarness(t, defaultSchedule, "05:30", Options{})
	h.bringUp(t)

	h.step(t)
	assert.Equal(t, color.Native(3400), h.ctrl.Commanded())

	h.clock.Advance(time.Minute)
	h.step(t)
	assert.Equal(t, color.Native(3440), h.ctrl.Commanded())
	for _, b := range h.bulbs {
		assert.Equal(t, color.Native(3440), b.LastColor())
	}
}

func TestActivePartialFailureGoesOffline(t *testing.T) {
	h := newHarness(t, defaultSchedule, "05:30", Options{})
	h.bringUp(t)
	h.step(t)
	require.Equal(t, color.Native(3400), h.ctrl.Commanded())

	// two of three bulbs acknowledge the next change
	h.bulbs[2].SetFailApply(true)
	h.clock.Advance(2 * time.Minute)

	assert.Equal(t, time.Duration(0), h.step(t))
	assert.Equal(t, StateOffline, h.ctrl.State())
	assert.True(t, h.ctrl.Commanded().IsZero())

	failed := h.events.ofType(eventbus.EventTypeApplyFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Data["acked"])
	assert.Equal(t, 3, failed[0].Data["total"])
}

func TestActiveQueryUnreachableGoesOffline(t *testing.T) {
	h := newHarness(t, defaultSchedule, "12:00", Options{})
	h.bringUp(t)
	h.step(t)

	h.setOnline(false)
	h.clock.Advance(DefaultActiveInterval)

	assert.Equal(t, time.Duration(0), h.step(t))
	assert.Equal(t, StateOffline, h.ctrl.State())
	assert.True(t, h.ctrl.Commanded().IsZero())
}

func TestOverrideRoundTrip(t *testing.T) {
	h := newHarness(t, defaultSchedule, "22:00", Options{})
	h.bringUp(t)
	h.step(t)
	require.Equal(t, color.Native(3000), h.ctrl.Commanded())

	// someone picks full red from the app while we are in native mode
	h.setAll(device.Reported{On: true, Red: 255, Dimming: 40})
	sent := h.applyCount()
	h.clock.Advance(DefaultActiveInterval)

	assert.Equal(t, time.Duration(0), h.step(t))
	assert.Equal(t, StateOverridden, h.ctrl.State())
	assert.Equal(t, sent, h.applyCount(), "override is never overwritten")
	assert.Len(t, h.events.ofType(eventbus.EventTypeOverrideDetected), 1)

	// while overridden, nothing is sent
	h.clock.Advance(time.Minute)
	assert.Equal(t, DefaultOverrideInterval, h.step(t))
	assert.Equal(t, StateOverridden, h.ctrl.State())
	assert.Equal(t, sent, h.applyCount())

	// the reset color hands control back
	h.setAll(device.Reported{On: true, Red: 1, Green: 1, Blue: 1, Dimming: 10})
	assert.Equal(t, time.Duration(0), h.step(t))
	assert.Equal(t, StateActive, h.ctrl.State())
	assert.True(t, h.ctrl.Commanded().IsZero())

	for _, b := range h.bulbs {
		applies := b.Applies()
		last := applies[len(applies)-1]
		assert.Equal(t, device.MaxBrightness, last.Brightness)
		assert.Equal(t, 100, b.State().Dimming)
		assert.Equal(t, color.ModeNative, last.Color.Mode)
	}
}

func TestOverriddenGoesOfflineWhenUnreachable(t *testing.T) {
	h := newHarness(t, defaultSchedule, "22:00", Options{})
	h.bringUp(t)
	h.step(t)

	h.setAll(device.Reported{On: true, Kelvin: 6500, Dimming: 100})
	h.step(t)
	require.Equal(t, StateOverridden, h.ctrl.State())

	h.setOnline(false)
	assert.Equal(t, time.Duration(0), h.step(t))
	assert.Equal(t, StateOffline, h.ctrl.State())
}

func TestResetColorWhileActive(t *testing.T) {
	h := newHarness(t, defaultSchedule, "12:00", Options{})
	h.bringUp(t)
	h.step(t)

	h.setAll(device.Reported{On: true, Red: 1, Green: 1, Blue: 1, Dimming: 10})
	h.clock.Advance(DefaultActiveInterval)

	assert.Equal(t, DefaultActiveInterval, h.step(t))
	assert.Equal(t, StateActive, h.ctrl.State())
	for _, b := range h.bulbs {
		assert.Equal(t, 4600, b.State().Kelvin)
		assert.Equal(t, 100, b.State().Dimming)
	}
}

func TestRGBWChangeoverIsStaggeredOnce(t *testing.T) {
	raw := []schedule.Raw{
		{At: "00:00", Kelvin: 1800},
		{At: "12:00", Kelvin: 1000},
	}
	h := newHarness(t, raw, "06:00", Options{})

	// recovery enters RGBW mode one bulb at a time
	h.bringUp(t)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, h.clock.Sleeps())

	for _, b := range h.bulbs {
		c := b.LastColor()
		assert.Equal(t, color.ModeRGBW, c.Mode)
		assert.True(t, color.IsFullRed(c.Red, c.Green, c.Blue))
	}

	// already in RGBW mode: direct fan-out, no more pauses
	assert.Equal(t, DefaultActiveInterval, h.step(t))
	assert.Len(t, h.clock.Sleeps(), 2)
	assert.Equal(t, color.ModeRGBW, h.ctrl.Commanded().Mode)

	// our own full-red approximation is not an override
	h.clock.Advance(10 * time.Minute)
	assert.Equal(t, DefaultActiveInterval, h.step(t))
	assert.Equal(t, StateActive, h.ctrl.State())
	assert.Len(t, h.clock.Sleeps(), 2)
}

func TestNativeToRGBWCrossingInActive(t *testing.T) {
	raw := []schedule.Raw{
		{At: "20:00", Kelvin: 2600},
		{At: "21:00", Kelvin: 1800},
	}
	h := newHarness(t, raw, "20:00", Options{})
	h.bringUp(t)
	h.step(t)
	require.Equal(t, color.Native(2600), h.ctrl.Commanded())
	require.Empty(t, h.clock.Sleeps())

	// 20:45 is 2000K, below the native floor
	h.clock.Set(clockAt("20:45"))
	h.step(t)
	assert.Equal(t, color.ModeRGBW, h.ctrl.Commanded().Mode)
	assert.Len(t, h.clock.Sleeps(), 2)

	// back above the floor: immediate
	h.clock.Set(clockAt("20:00").Add(24 * time.Hour))
	h.step(t)
	assert.Equal(t, color.Native(2600), h.ctrl.Commanded())
	assert.Len(t, h.clock.Sleeps(), 2)
}

func TestInvalidStateIsFatal(t *testing.T) {
	h := newHarness(t, defaultSchedule, "12:00", Options{})
	h.ctrl.state = State(42)

	_, err := h.ctrl.Step(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)

	err = h.ctrl.Run(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, defaultSchedule, "12:00", Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, h.ctrl.Run(ctx))
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
		valid    bool
	}{
		{StateOffline, "offline", true},
		{StateActive, "active", true},
		{StateOverridden, "overridden", true},
		{State(99), "invalid", false},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
			assert.Equal(t, tt.valid, tt.state.Valid())
		})
	}
}
