package schedule

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultDebounce is how long a computed target is reused before recomputing.
const DefaultDebounce = 60 * time.Second

// Engine computes the interpolated target temperature and caches it briefly.
// It is not safe for concurrent use; the controller owns it.
type Engine struct {
	schedule *Schedule
	loc      *time.Location
	debounce time.Duration

	computedAt time.Time
	cached     int
	hasCached  bool
	lastPair   Checkpoints
}

// NewEngine creates an engine evaluating times in loc.
// A nil loc means time.Local; a non-positive debounce means DefaultDebounce.
func NewEngine(s *Schedule, loc *time.Location, debounce time.Duration) *Engine {
	if loc == nil {
		loc = time.Local
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Engine{
		schedule: s,
		loc:      loc,
		debounce: debounce,
	}
}

// Target returns the color temperature the lights should show at now.
func (e *Engine) Target(now time.Time) int {
	if e.hasCached && !now.Before(e.computedAt) && now.Sub(e.computedAt) < e.debounce {
		return e.cached
	}

	cp := e.Checkpoints(now)
	if cp.Prev != e.lastPair.Prev || cp.Next != e.lastPair.Next {
		log.Debug().
			Str("prev_at", cp.Prev.At.String()).
			Int("prev_kelvin", cp.Prev.Kelvin).
			Str("next_at", cp.Next.At.String()).
			Int("next_kelvin", cp.Next.Kelvin).
			Msg("Schedule checkpoints changed")
		e.lastPair = cp
	}

	e.cached = Interpolate(cp, now)
	e.computedAt = now
	e.hasCached = true
	return e.cached
}

// Checkpoints returns the pair bracketing now without touching the cache.
func (e *Engine) Checkpoints(now time.Time) Checkpoints {
	return e.schedule.Bracket(now.In(e.loc))
}

// Reset drops the cached target so the next call recomputes.
func (e *Engine) Reset() {
	e.hasCached = false
}

// Interpolate linearly blends the checkpoint temperatures by how far now is
// between them, rounding to the nearest kelvin.
func Interpolate(cp Checkpoints, now time.Time) int {
	elapsed := now.Sub(cp.PrevAt).Seconds()
	remaining := cp.NextAt.Sub(now).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	if remaining < 0 {
		remaining = 0
	}

	total := elapsed + remaining
	if total == 0 {
		return cp.Prev.Kelvin
	}

	fraction := elapsed / total
	delta := float64(cp.Prev.Kelvin - cp.Next.Kelvin)
	return int(math.Round(float64(cp.Prev.Kelvin) - delta*fraction))
}
