// Package color renders a target color temperature into something a bulb can display.
package color

import (
	"fmt"
	"math"
)

// Mode identifies how a Color is expressed on the wire.
type Mode int

const (
	ModeUnset Mode = iota
	ModeNative
	ModeRGBW
)

// String returns a human-readable name for the mode.
func (m Mode) String() string {
	switch m {
	case ModeUnset:
		return "unset"
	case ModeNative:
		return "native"
	case ModeRGBW:
		return "rgbw"
	default:
		return "unknown"
	}
}

// Color is either a native color temperature or an RGB + warm/cold white tuple.
// The zero value means "nothing commanded yet".
type Color struct {
	Mode   Mode
	Kelvin int

	Red   uint8
	Green uint8
	Blue  uint8
	Warm  uint8
	Cold  uint8
}

// Native returns a native color temperature command.
func Native(kelvin int) Color {
	return Color{Mode: ModeNative, Kelvin: kelvin}
}

// RGBW returns an RGB + white channels command.
func RGBW(red, green, blue, warm, cold uint8) Color {
	return Color{Mode: ModeRGBW, Red: red, Green: green, Blue: blue, Warm: warm, Cold: cold}
}

// IsZero reports whether c is the uninitialized sentinel.
func (c Color) IsZero() bool {
	return c.Mode == ModeUnset
}

// String formats the color for logs.
func (c Color) String() string {
	switch c.Mode {
	case ModeNative:
		return fmt.Sprintf("%dK", c.Kelvin)
	case ModeRGBW:
		return fmt.Sprintf("rgbw(%d,%d,%d,w=%d,c=%d)", c.Red, c.Green, c.Blue, c.Warm, c.Cold)
	default:
		return "unset"
	}
}

// Default native range of the supported bulbs.
const (
	DefaultMinKelvin = 2200
	DefaultMaxKelvin = 6500
)

// Warm-white intensity below the native floor, as a function of kelvin:
// w(k) = a*k^3 + b*k^2 + c*k + d, clamped to [0, 255].
// All coefficients are non-negative, so w is monotonically increasing for k >= 0.
// Below the floor the light therefore keeps the most warm white just under
// the native range and fades toward pure red as the target gets warmer.
var warmCurve = [4]float64{1.5e-8, 2.0e-5, 0, 0}

// Converter maps target temperatures to bulb colors.
type Converter struct {
	MinKelvin int
	MaxKelvin int
}

// NewConverter creates a converter for the given native range.
// Zero bounds fall back to the defaults.
func NewConverter(minKelvin, maxKelvin int) Converter {
	if minKelvin <= 0 {
		minKelvin = DefaultMinKelvin
	}
	if maxKelvin <= 0 {
		maxKelvin = DefaultMaxKelvin
	}
	return Converter{MinKelvin: minKelvin, MaxKelvin: maxKelvin}
}

// Render returns the color that displays kelvin on the bulb.
// At or above the native floor this is a native command (clamped to MaxKelvin);
// below it, full red plus a warm-white channel that fades as kelvin drops.
func (c Converter) Render(kelvin int) Color {
	if kelvin >= c.MinKelvin {
		if c.MaxKelvin > 0 && kelvin > c.MaxKelvin {
			kelvin = c.MaxKelvin
		}
		return Native(kelvin)
	}
	return RGBW(255, 0, 0, WarmWhite(kelvin), 0)
}

// WarmWhite evaluates the warm-white curve for kelvin.
func WarmWhite(kelvin int) uint8 {
	k := float64(kelvin)
	if k < 0 {
		k = 0
	}
	w := warmCurve[0]*k*k*k + warmCurve[1]*k*k + warmCurve[2]*k + warmCurve[3]
	return uint8(math.Max(0, math.Min(255, math.Round(w))))
}

// IsFullRed reports whether an RGB triple is the red base of the RGBW approximation.
func IsFullRed(red, green, blue uint8) bool {
	return red == 255 && green == 0 && blue == 0
}
