// Package stats computes summary statistics over an aggregated spectrum.
package stats

import (
	"math"

	"github.com/spectrum-scan/rfscan/internal/sweep"
)

// Summary holds the statistics of one aggregated scan result.
type Summary struct {
	Count      int     `json:"count"`
	MinDBm     float64 `json:"minDbm"`
	MinFreqMHz float64 `json:"minFreqMhz"`
	MaxDBm     float64 `json:"maxDbm"`
	MaxFreqMHz float64 `json:"maxFreqMhz"`
	AverageDBm float64 `json:"averageDbm"`
	RangeDB    float64 `json:"rangeDb"`
}

// Calculate computes a summary over aggregated points. An empty input yields
// a zero Count with infinite min/max markers.
func Calculate(points []sweep.Point) Summary {
	s := Summary{
		MinDBm: math.Inf(1),
		MaxDBm: math.Inf(-1),
	}
	if len(points) == 0 {
		return s
	}

	sum := 0.0
	for _, p := range points {
		sum += p.DBm
		if p.DBm < s.MinDBm {
			s.MinDBm = p.DBm
			s.MinFreqMHz = p.FreqMHz
		}
		if p.DBm > s.MaxDBm {
			s.MaxDBm = p.DBm
			s.MaxFreqMHz = p.FreqMHz
		}
	}

	s.Count = len(points)
	s.AverageDBm = sum / float64(len(points))
	s.RangeDB = s.MaxDBm - s.MinDBm
	return s
}

// Occupancy returns the fraction of points at or above the threshold, in the
// range 0..1.
func Occupancy(points []sweep.Point, thresholdDBm float64) float64 {
	if len(points) == 0 {
		return 0
	}
	above := 0
	for _, p := range points {
		if p.DBm >= thresholdDBm {
			above++
		}
	}
	return float64(above) / float64(len(points))
}

// PeakMHz returns the frequency of the strongest point, or 0 for an empty
// input.
func PeakMHz(points []sweep.Point) float64 {
	return Calculate(points).MaxFreqMHz
}
