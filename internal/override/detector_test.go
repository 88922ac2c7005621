package override

import (
	"errors"
	"testing"

	"github.com/dokzlo13/fluxd/internal/color"
	"github.com/dokzlo13/fluxd/internal/device"
)

func TestCheck(t *testing.T) {
	d := NewDetector(DefaultResetColor, DefaultKelvinTolerance)

	tests := []struct {
		name      string
		commanded color.Color
		reported  device.Reported
		queryErr  error
		rgbwMode  bool
		expected  Verdict
	}{
		// === Unknown ===
		{
			name:      "query_failed",
			commanded: color.Native(3000),
			queryErr:  device.ErrUnreachable,
			expected:  VerdictUnknown,
		},
		{
			name:     "query_failed_uninitialized",
			queryErr: errors.New("timeout"),
			expected: VerdictUnknown,
		},

		// === Uninitialized commanded ===
		{
			name:     "nothing_commanded_yet",
			reported: device.Reported{Kelvin: 6500},
			expected: VerdictConsistent,
		},

		// === Native mode ===
		{
			name:      "native/exact",
			commanded: color.Native(3000),
			reported:  device.Reported{Kelvin: 3000},
			expected:  VerdictConsistent,
		},
		{
			name:      "native/within_tolerance",
			commanded: color.Native(3020),
			reported:  device.Reported{Kelvin: 3000},
			expected:  VerdictConsistent,
		},
		{
			name:      "native/other_temperature",
			commanded: color.Native(3000),
			reported:  device.Reported{Kelvin: 5000},
			expected:  VerdictOverridden,
		},
		{
			name:      "native/switched_to_red",
			commanded: color.Native(3000),
			reported:  device.Reported{Red: 255},
			expected:  VerdictOverridden,
		},
		{
			name:      "native/switched_to_blue",
			commanded: color.Native(3000),
			reported:  device.Reported{Blue: 255},
			expected:  VerdictOverridden,
		},

		// === RGBW mode ===
		{
			name:      "rgbw/own_approximation",
			commanded: color.RGBW(255, 0, 0, 60, 0),
			reported:  device.Reported{Red: 255, Warm: 60},
			rgbwMode:  true,
			expected:  VerdictConsistent,
		},
		{
			name:      "rgbw/full_red_other_warm",
			commanded: color.RGBW(255, 0, 0, 60, 0),
			reported:  device.Reported{Red: 255, Warm: 12},
			rgbwMode:  true,
			expected:  VerdictConsistent,
		},
		{
			name:      "rgbw/user_picked_green",
			commanded: color.RGBW(255, 0, 0, 60, 0),
			reported:  device.Reported{Green: 255},
			rgbwMode:  true,
			expected:  VerdictOverridden,
		},
		{
			name:      "rgbw/user_picked_temperature",
			commanded: color.RGBW(255, 0, 0, 60, 0),
			reported:  device.Reported{Kelvin: 4000},
			rgbwMode:  true,
			expected:  VerdictOverridden,
		},

		// === Reset color ===
		{
			name:      "reset/while_native",
			commanded: color.Native(3000),
			reported:  device.Reported{Red: 1, Green: 1, Blue: 1},
			expected:  VerdictReset,
		},
		{
			name:     "reset/uninitialized",
			reported: device.Reported{Red: 1, Green: 1, Blue: 1},
			expected: VerdictReset,
		},
		{
			name:      "reset/near_miss",
			commanded: color.Native(3000),
			reported:  device.Reported{Red: 1, Green: 1, Blue: 2},
			expected:  VerdictOverridden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Check(tt.commanded, tt.reported, tt.queryErr, tt.rgbwMode)
			if got != tt.expected {
				t.Errorf("Check() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestVerdictString(t *testing.T) {
	tests := []struct {
		verdict  Verdict
		expected string
	}{
		{VerdictConsistent, "consistent"},
		{VerdictOverridden, "overridden"},
		{VerdictUnknown, "unknown"},
		{VerdictReset, "reset"},
		{Verdict(99), "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.verdict.String(); got != tt.expected {
				t.Errorf("Verdict.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestNewDetectorNegativeTolerance(t *testing.T) {
	d := NewDetector(DefaultResetColor, -5)
	if d.KelvinTolerance != 0 {
		t.Errorf("KelvinTolerance = %d, want 0", d.KelvinTolerance)
	}
}
