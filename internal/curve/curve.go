// Package curve implements the temperature to fan duty decision engine.
//
// A Table maps temperature tiers to duty percentages. Ramp-up is immediate:
// as soon as a hotter tier is matched its duty is applied. Ramp-down is
// delayed until the temperature falls past the midpoint between two
// adjacent tiers, which keeps the fan from oscillating around a tier
// boundary while the machine cools.
package curve

import (
	"codeberg.org/mutker/clevoctl/internal/errors"
)

// DutyHold is returned by NextDuty when the current duty should be kept.
// The write path never requests 0% (it clamps to a 10% floor), so 0 is
// free to act as the hold sentinel.
const DutyHold = 0

const (
	ErrTooFewPoints   = errors.ErrorCode("curve_too_few_points")
	ErrNotIncreasing  = errors.ErrorCode("curve_temps_not_increasing")
	ErrDutyOutOfRange = errors.ErrorCode("curve_duty_out_of_range")
)

// Point is one tier of a fan curve.
type Point struct {
	Temp int `mapstructure:"temp"`
	Duty int `mapstructure:"duty"`
}

// Table is an ordered fan curve, coldest tier first.
type Table []Point

// Validate checks the table invariants: at least two points, strictly
// increasing temperatures, duties within [0,100].
func (t Table) Validate() error {
	errFactory := errors.New()

	if len(t) < 2 {
		return errFactory.WithData(ErrTooFewPoints, len(t))
	}

	for i, p := range t {
		if p.Duty < 0 || p.Duty > 100 {
			return errFactory.WithData(ErrDutyOutOfRange, p.Duty)
		}
		if i > 0 && t[i-1].Temp >= p.Temp {
			return errFactory.WithData(ErrNotIncreasing, p.Temp)
		}
	}

	return nil
}

// NextDuty returns the duty percentage to apply for currentTemp, or
// DutyHold if the current duty should be kept.
//
// The hottest tier at or below currentTemp selects the target duty,
// except that the scan never matches the coldest tier: its duty is
// reachable only through ramp-down, never as a ramp-up target. A target
// above the current duty wins immediately. Otherwise the duty only
// drops to a colder tier once currentTemp is at or below the midpoint
// between that tier and the next hotter one.
func NextDuty(currentTemp, currentDuty int, table Table) int {
	targetDuty := DutyHold
	for i := len(table) - 1; i > 0; i-- {
		if currentTemp >= table[i].Temp {
			targetDuty = table[i].Duty
			break
		}
	}

	if targetDuty > currentDuty {
		return targetDuty
	}

	for i := 1; i < len(table); i++ {
		prev := table[i-1]
		midpoint := (prev.Temp + table[i].Temp) / 2
		if currentTemp <= midpoint && currentDuty > prev.Duty {
			return prev.Duty
		}
	}

	return DutyHold
}

// DefaultCPU is the built-in CPU fan curve.
func DefaultCPU() Table {
	return Table{
		{10, 0}, {20, 20}, {30, 25}, {40, 35}, {50, 45},
		{60, 60}, {70, 75}, {80, 85}, {90, 100},
	}
}

// DefaultGPU is the built-in GPU fan curve.
func DefaultGPU() Table {
	return Table{
		{10, 0}, {20, 20}, {30, 25}, {40, 30}, {50, 35},
		{60, 45}, {70, 60}, {80, 75}, {90, 90}, {95, 100},
	}
}
