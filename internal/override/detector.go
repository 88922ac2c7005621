// Package override decides whether someone changed the lights by hand.
package override

import (
	"github.com/dokzlo13/fluxd/internal/color"
	"github.com/dokzlo13/fluxd/internal/device"
)

// Verdict is the result of comparing commanded and reported state.
type Verdict int

const (
	VerdictConsistent Verdict = iota
	VerdictOverridden
	VerdictUnknown
	VerdictReset
)

// String returns a human-readable name for the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictConsistent:
		return "consistent"
	case VerdictOverridden:
		return "overridden"
	case VerdictUnknown:
		return "unknown"
	case VerdictReset:
		return "reset"
	default:
		return "invalid"
	}
}

// RGB is a plain color triple.
type RGB struct {
	Red   uint8 `yaml:"r"`
	Green uint8 `yaml:"g"`
	Blue  uint8 `yaml:"b"`
}

// DefaultResetColor is the dim color a user picks to hand control back.
var DefaultResetColor = RGB{Red: 1, Green: 1, Blue: 1}

// DefaultKelvinTolerance absorbs the rounding bulbs apply to temperature commands.
const DefaultKelvinTolerance = 50

// Detector compares what was commanded with what a bulb reports.
type Detector struct {
	ResetColor      RGB
	KelvinTolerance int
}

// NewDetector creates a detector with the given reset color and tolerance.
func NewDetector(reset RGB, kelvinTolerance int) Detector {
	if kelvinTolerance < 0 {
		kelvinTolerance = 0
	}
	return Detector{ResetColor: reset, KelvinTolerance: kelvinTolerance}
}

// IsReset reports whether the bulb shows the reset color.
func (d Detector) IsReset(reported device.Reported) bool {
	return reported.Kelvin == 0 && reported.RGBEquals(d.ResetColor.Red, d.ResetColor.Green, d.ResetColor.Blue)
}

// Check classifies reported against commanded.
// queryErr is the error from reading the bulb; a failed read is Unknown, never Overridden.
// rgbwMode is whether the controller believes the bulbs are in the RGBW approximation.
func (d Detector) Check(commanded color.Color, reported device.Reported, queryErr error, rgbwMode bool) Verdict {
	if queryErr != nil {
		return VerdictUnknown
	}
	if d.IsReset(reported) {
		return VerdictReset
	}
	if commanded.IsZero() {
		return VerdictConsistent
	}

	// our own approximation, correctly applied
	if rgbwMode && reported.Kelvin == 0 && color.IsFullRed(reported.Red, reported.Green, reported.Blue) {
		return VerdictConsistent
	}

	switch commanded.Mode {
	case color.ModeNative:
		if reported.Kelvin > 0 && abs(reported.Kelvin-commanded.Kelvin) <= d.KelvinTolerance {
			return VerdictConsistent
		}
	case color.ModeRGBW:
		if reported.Kelvin == 0 && reported.RGBEquals(commanded.Red, commanded.Green, commanded.Blue) {
			return VerdictConsistent
		}
	}

	return VerdictOverridden
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
