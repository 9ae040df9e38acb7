package sweep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrequencyMHzRounding(t *testing.T) {
	s := Sweep{StartMHz: 240.0, StepMHz: 0.006430, Amplitudes: make([]float64, 3)}
	assert.Equal(t, 240.0, s.FrequencyMHz(0))
	assert.Equal(t, 240.006, s.FrequencyMHz(1))
	assert.Equal(t, 240.013, s.FrequencyMHz(2))
}

func TestCalculatorByName(t *testing.T) {
	for _, name := range []string{"MAX", "max", " Avg ", "MIN"} {
		calc, err := CalculatorByName(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, calc.Name())
	}

	_, err := CalculatorByName("median")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AVG, MAX, MIN")
}

func TestAggregateMax(t *testing.T) {
	var c Collection
	c.Add(Sweep{StartMHz: 100, StepMHz: 0.5, Amplitudes: []float64{-80, -60}})
	c.Add(Sweep{StartMHz: 100, StepMHz: 0.5, Amplitudes: []float64{-70, -65}})
	require.Equal(t, 2, c.Count())

	calc, err := CalculatorByName("MAX")
	require.NoError(t, err)

	points := c.Aggregate(calc)
	require.Len(t, points, 2)
	assert.Equal(t, Point{FreqMHz: 100.0, DBm: -70.0}, points[0])
	assert.Equal(t, Point{FreqMHz: 100.5, DBm: -60.0}, points[1])
}

func TestAggregateAvgAndMin(t *testing.T) {
	var c Collection
	c.Add(Sweep{StartMHz: 433, StepMHz: 1, Amplitudes: []float64{-90}})
	c.Add(Sweep{StartMHz: 433, StepMHz: 1, Amplitudes: []float64{-100}})

	avg, err := CalculatorByName("AVG")
	require.NoError(t, err)
	points := c.Aggregate(avg)
	require.Len(t, points, 1)
	assert.Equal(t, -95.0, points[0].DBm)

	min, err := CalculatorByName("MIN")
	require.NoError(t, err)
	points = c.Aggregate(min)
	require.Len(t, points, 1)
	assert.Equal(t, -100.0, points[0].DBm)
}

func TestAggregateRoundsAmplitude(t *testing.T) {
	var c Collection
	c.Add(Sweep{StartMHz: 100, StepMHz: 1, Amplitudes: []float64{-80.333}})
	c.Add(Sweep{StartMHz: 100, StepMHz: 1, Amplitudes: []float64{-80.334}})

	avg, err := CalculatorByName("AVG")
	require.NoError(t, err)
	points := c.Aggregate(avg)
	require.Len(t, points, 1)
	assert.Equal(t, -80.33, points[0].DBm)
}

func TestAggregateEmptyCollection(t *testing.T) {
	var c Collection
	calc, err := CalculatorByName("MAX")
	require.NoError(t, err)
	assert.Nil(t, c.Aggregate(calc))
}

func TestAddIgnoresEmptySweep(t *testing.T) {
	var c Collection
	c.Add(Sweep{})
	assert.Equal(t, 0, c.Count())
}

func TestResetReusesCollection(t *testing.T) {
	var c Collection
	c.Add(Sweep{StartMHz: 100, StepMHz: 1, Amplitudes: []float64{-50}})
	c.Reset()
	assert.Equal(t, 0, c.Count())

	calc, err := CalculatorByName("MAX")
	require.NoError(t, err)
	assert.Nil(t, c.Aggregate(calc))
}
