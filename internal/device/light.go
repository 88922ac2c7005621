// Package device defines the capability set the controller needs from a bulb
// and the fixed fleet of bulbs it drives.
package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/dokzlo13/fluxd/internal/color"
)

var (
	// ErrUnreachable is returned when a bulb does not answer.
	ErrUnreachable = errors.New("device: unreachable")

	// ErrRejected is returned when a bulb answers with an error.
	ErrRejected = errors.New("device: command rejected")

	// ErrNoDevices is returned when the fleet is empty.
	ErrNoDevices = errors.New("device: no devices configured")
)

// MaxBrightness is full brightness on the controller's 0..255 scale.
const MaxBrightness = 255

// Command is a single color change for one bulb.
type Command struct {
	Color color.Color
	// Brightness on a 1..255 scale; 0 leaves the bulb's brightness unchanged.
	Brightness int
}

// Reported is the color state a bulb says it is showing.
type Reported struct {
	On    bool
	Red   uint8
	Green uint8
	Blue  uint8
	Warm  uint8
	Cold  uint8
	// Kelvin is 0 when the bulb is not in color temperature mode.
	Kelvin int
	// Dimming in percent, 0 when not reported.
	Dimming int
}

// RGBEquals reports whether the bulb shows exactly the given RGB triple.
func (r Reported) RGBEquals(red, green, blue uint8) bool {
	return r.Red == red && r.Green == green && r.Blue == blue
}

// String formats the reported state for logs.
func (r Reported) String() string {
	if r.Kelvin > 0 {
		return fmt.Sprintf("%dK dim=%d%%", r.Kelvin, r.Dimming)
	}
	return fmt.Sprintf("rgb(%d,%d,%d) w=%d c=%d dim=%d%%", r.Red, r.Green, r.Blue, r.Warm, r.Cold, r.Dimming)
}

// Light is the capability set of a single bulb.
// Implementations must honour ctx deadlines; calls may fail at any time.
type Light interface {
	// Address identifies the bulb in logs.
	Address() string

	// Probe checks that the bulb is alive.
	Probe(ctx context.Context) error

	// Apply sets the bulb color and optionally brightness.
	Apply(ctx context.Context, cmd Command) error

	// Query returns the color the bulb reports.
	Query(ctx context.Context) (Reported, error)
}

// DimmingPercent maps a 1..255 brightness onto the 10..100 percent range the bulbs accept.
// Zero stays zero, meaning "unchanged".
func DimmingPercent(brightness int) int {
	if brightness <= 0 {
		return 0
	}
	if brightness > MaxBrightness {
		brightness = MaxBrightness
	}
	return 10 + (brightness-1)*90/(MaxBrightness-1)
}
