package schedule

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetAtCheckpoints(t *testing.T) {
	for _, r := range defaultRaw {
		t.Run(r.At, func(t *testing.T) {
			e := NewEngine(mustParse(t, defaultRaw), time.UTC, 0)
			assert.Equal(t, r.Kelvin, e.Target(at(r.At)))
		})
	}
}

func TestTargetMonotonicBetweenCheckpoints(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		warming  bool
	}{
		{name: "morning_cooling_up", from: "05:00", to: "06:00", warming: false},
		{name: "evening_warming_down", from: "18:00", to: "22:00", warming: true},
		{name: "late_warming_down", from: "22:00", to: "23:30", warming: true},
	}

	s := mustParse(t, defaultRaw)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := at(tt.from), at(tt.to)
			lo, hi := Interpolate(s.Bracket(start), start), Interpolate(s.Bracket(end), end)
			if lo > hi {
				lo, hi = hi, lo
			}

			prev := Interpolate(s.Bracket(start), start)
			for now := start.Add(5 * time.Minute); now.Before(end); now = now.Add(5 * time.Minute) {
				got := Interpolate(s.Bracket(now), now)
				if tt.warming {
					assert.Less(t, got, prev, "at %s", now.Format("15:04"))
				} else {
					assert.Greater(t, got, prev, "at %s", now.Format("15:04"))
				}
				assert.Greater(t, got, lo)
				assert.Less(t, got, hi)
				prev = got
			}
		})
	}
}

func TestTargetMidnightWrap(t *testing.T) {
	s := mustParse(t, []Raw{
		{At: "01:00", Kelvin: 1400},
		{At: "12:00", Kelvin: 4000},
		{At: "23:00", Kelvin: 2200},
	})
	e := NewEngine(s, time.UTC, 0)

	got := e.Target(at("00:00"))
	assert.Equal(t, 1800, got)
	assert.Greater(t, got, 1400)
	assert.Less(t, got, 2200)

	// a quarter of the way from 23:00 to 01:00
	e.Reset()
	assert.Equal(t, 2000, e.Target(at("23:30")))
}

func TestTargetDebounce(t *testing.T) {
	e := NewEngine(mustParse(t, defaultRaw), time.UTC, time.Minute)

	start := at("05:30")
	first := e.Target(start)
	assert.Equal(t, 3400, first)

	// within the debounce window the cached value is returned
	assert.Equal(t, first, e.Target(start.Add(59*time.Second)))

	// after the window the value is recomputed
	later := e.Target(start.Add(time.Minute))
	assert.Equal(t, 3440, later)
}

func TestTargetClockMovesBackwards(t *testing.T) {
	e := NewEngine(mustParse(t, defaultRaw), time.UTC, time.Minute)

	require.Equal(t, 3400, e.Target(at("05:30")))
	assert.Equal(t, 2200, e.Target(at("05:00")))
}

func TestTargetUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	e := NewEngine(mustParse(t, defaultRaw), loc, 0)

	// 03:30 UTC is 05:30 local
	assert.Equal(t, 3400, e.Target(at("03:30")))
}

func TestInterpolateSameTimeGuard(t *testing.T) {
	now := at("10:00")
	cp := Checkpoints{
		Prev:   Entry{Kelvin: 3000},
		PrevAt: now,
		Next:   Entry{Kelvin: 4000},
		NextAt: now,
	}
	assert.Equal(t, 3000, Interpolate(cp, now))
}

func TestNewEngineNonPositiveDebounce(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		e := NewEngine(mustParse(t, defaultRaw), time.UTC, d)
		assert.Equal(t, DefaultDebounce, e.debounce)
	}
}

func TestEngineCheckpoints(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	e := NewEngine(mustParse(t, defaultRaw), loc, 0)

	cp := e.Checkpoints(at("03:30"))
	assert.Equal(t, 2200, cp.Prev.Kelvin)
	assert.Equal(t, 4600, cp.Next.Kelvin)
	assert.Equal(t, loc, cp.PrevAt.Location())
	assert.False(t, e.hasCached)
}

func TestTargetAcrossSpringForward(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	s := mustParse(t, []Raw{
		{At: "01:00", Kelvin: 3000},
		{At: "05:00", Kelvin: 5000},
	})
	e := NewEngine(s, ny, time.Nanosecond)

	// 2024-03-10 02:00 EST does not exist; clocks jump to 03:00 EDT
	before := time.Date(2024, 3, 10, 1, 59, 59, 0, ny)
	after := before.Add(time.Second)
	require.Equal(t, 3, after.Hour())

	cp := e.Checkpoints(after)
	assert.Equal(t, time.Date(2024, 3, 10, 1, 0, 0, 0, ny), cp.PrevAt)
	assert.Equal(t, time.Date(2024, 3, 10, 5, 0, 0, 0, ny), cp.NextAt)
	assert.Equal(t, 3*time.Hour, cp.NextAt.Sub(cp.PrevAt))

	// one real second apart, so no visible jump
	b, a := e.Target(before), e.Target(after)
	assert.Equal(t, 3666, b)
	assert.Equal(t, 3667, a)
	assert.InDelta(t, b, a, 1)
}

func TestBracketWrapAcrossFallBack(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	s := mustParse(t, []Raw{
		{At: "06:00", Kelvin: 4000},
		{At: "22:00", Kelvin: 2000},
	})

	// 2024-11-03 is 25 hours long in New York
	now := time.Date(2024, 11, 3, 23, 0, 0, 0, ny)
	cp := s.Bracket(now)
	assert.Equal(t, time.Date(2024, 11, 3, 22, 0, 0, 0, ny), cp.PrevAt)
	assert.Equal(t, time.Date(2024, 11, 4, 6, 0, 0, 0, ny), cp.NextAt)

	now = time.Date(2024, 11, 3, 5, 0, 0, 0, ny)
	cp = s.Bracket(now)
	assert.Equal(t, time.Date(2024, 11, 2, 22, 0, 0, 0, ny), cp.PrevAt)
	assert.Equal(t, time.Date(2024, 11, 3, 6, 0, 0, 0, ny), cp.NextAt)
	assert.Equal(t, 9*time.Hour, cp.NextAt.Sub(cp.PrevAt))
}
