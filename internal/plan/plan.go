// Package plan slices requested frequency ranges into analyzer-sized sweep
// windows.
//
// The analyzer sweeps a fixed number of points per window, so the achievable
// window span is rbw * points. A requested range wider than that is walked in
// consecutive subranges stepped by span + rbw, leaving exactly one rbw gap
// between the last point of one window and the first point of the next.
package plan

import (
	"errors"
	"math"

	"github.com/spectrum-scan/rfscan/internal/protocol"
)

// Errors returned by planning.
var (
	ErrFrequencyOrder    = errors.New("plan: start frequency must be less than stop frequency")
	ErrInvalidFrequency  = errors.New("plan: frequencies must be positive")
	ErrInvalidResolution = errors.New("plan: resolution bandwidth must be positive")
	ErrNoRanges          = errors.New("plan: at least one frequency range is required")
)

// Range is a requested scan range in MHz.
type Range struct {
	StartMHz float64 `json:"startMhz"`
	StopMHz  float64 `json:"stopMhz"`
}

// Validate checks the range bounds.
func (r Range) Validate() error {
	if r.StartMHz <= 0 || r.StopMHz <= 0 {
		return ErrInvalidFrequency
	}
	if r.StartMHz >= r.StopMHz {
		return ErrFrequencyOrder
	}
	return nil
}

// SpanMHz returns the window span achievable at the given resolution
// bandwidth: rbw times the minimum sweep point count.
func SpanMHz(rbwMHz float64) float64 {
	return rbwMHz * protocol.MinSweepPoints
}

// Plan slices one range into sweep windows at the given resolution
// bandwidth. Window bounds are rounded to 3 decimals (kHz resolution).
func Plan(r Range, rbwMHz float64) ([]Range, error) {
	if rbwMHz <= 0 {
		return nil, ErrInvalidResolution
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	span := SpanMHz(rbwMHz)
	step := span + rbwMHz

	var windows []Range
	for start := r.StartMHz; start < r.StopMHz; start += step {
		windows = append(windows, Range{
			StartMHz: roundKHz(start),
			StopMHz:  roundKHz(start + span),
		})
	}
	return windows, nil
}

// PlanAll concatenates the window plans of several ranges in order.
func PlanAll(ranges []Range, rbwMHz float64) ([]Range, error) {
	if len(ranges) == 0 {
		return nil, ErrNoRanges
	}
	var windows []Range
	for _, r := range ranges {
		w, err := Plan(r, rbwMHz)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w...)
	}
	return windows, nil
}

func roundKHz(mhz float64) float64 {
	return math.Round(mhz*1000) / 1000
}
