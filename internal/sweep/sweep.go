// Package sweep holds sweep data captured from the analyzer and the
// calculators that reduce a dwell's worth of sweeps to one amplitude per
// frequency.
package sweep

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Sweep is a single pass over the active window: amplitudes in dBm, one per
// sweep point, starting at StartMHz and stepping by StepMHz.
type Sweep struct {
	StartMHz   float64
	StepMHz    float64
	Amplitudes []float64
}

// FrequencyMHz returns the frequency of point i, rounded to 3 decimals so
// sweeps of the same window key to identical frequencies.
func (s Sweep) FrequencyMHz(i int) float64 {
	return roundTo(s.StartMHz+float64(i)*s.StepMHz, 3)
}

// Points returns the number of sweep points.
func (s Sweep) Points() int { return len(s.Amplitudes) }

// Collection accumulates the sweeps captured during one dwell.
type Collection struct {
	sweeps []Sweep
}

// Add appends a sweep. Empty sweeps are ignored.
func (c *Collection) Add(s Sweep) {
	if len(s.Amplitudes) == 0 {
		return
	}
	c.sweeps = append(c.sweeps, s)
}

// Count returns the number of collected sweeps.
func (c *Collection) Count() int { return len(c.sweeps) }

// Reset drops all collected sweeps so the backing memory can be reused
// between subranges.
func (c *Collection) Reset() { c.sweeps = c.sweeps[:0] }

// Point is one aggregated spectrum sample.
type Point struct {
	FreqMHz float64
	DBm     float64
}

// Calculator reduces the amplitudes observed at one frequency to a single
// value.
type Calculator interface {
	Name() string
	Reduce(amplitudes []float64) float64
}

type maxCalculator struct{}

func (maxCalculator) Name() string { return "MAX" }

func (maxCalculator) Reduce(amplitudes []float64) float64 {
	max := math.Inf(-1)
	for _, a := range amplitudes {
		if a > max {
			max = a
		}
	}
	return max
}

type minCalculator struct{}

func (minCalculator) Name() string { return "MIN" }

func (minCalculator) Reduce(amplitudes []float64) float64 {
	min := math.Inf(1)
	for _, a := range amplitudes {
		if a < min {
			min = a
		}
	}
	return min
}

type avgCalculator struct{}

func (avgCalculator) Name() string { return "AVG" }

func (avgCalculator) Reduce(amplitudes []float64) float64 {
	sum := 0.0
	for _, a := range amplitudes {
		sum += a
	}
	return sum / float64(len(amplitudes))
}

var calculators = map[string]Calculator{
	"MAX": maxCalculator{},
	"AVG": avgCalculator{},
	"MIN": minCalculator{},
}

// CalculatorNames lists the available calculator names in stable order.
func CalculatorNames() []string {
	names := make([]string, 0, len(calculators))
	for name := range calculators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CalculatorByName resolves a calculator by case-insensitive name.
func CalculatorByName(name string) (Calculator, error) {
	calc, ok := calculators[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("sweep: unknown calculator %q (available: %s)",
			name, strings.Join(CalculatorNames(), ", "))
	}
	return calc, nil
}

// Aggregate reduces a collection to one point per frequency using the given
// calculator. Frequencies are rounded to 3 decimals, amplitudes to 2, and
// the result is sorted by ascending frequency.
func (c *Collection) Aggregate(calc Calculator) []Point {
	if len(c.sweeps) == 0 {
		return nil
	}

	byFreq := make(map[float64][]float64)
	for _, s := range c.sweeps {
		for i, dbm := range s.Amplitudes {
			f := s.FrequencyMHz(i)
			byFreq[f] = append(byFreq[f], dbm)
		}
	}

	points := make([]Point, 0, len(byFreq))
	for f, amplitudes := range byFreq {
		points = append(points, Point{
			FreqMHz: f,
			DBm:     roundTo(calc.Reduce(amplitudes), 2),
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].FreqMHz < points[j].FreqMHz })
	return points
}

func roundTo(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
