package curve_test

import (
	"testing"

	"codeberg.org/mutker/rfanctl/internal/curve"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	defaultTemps  = []int{35000, 55000, 80000, 90000}
	defaultDuties = []int{0, 100, 153, 255}
)

func TestEvaluate(t *testing.T) {
	c, err := curve.New(defaultTemps, defaultDuties)
	require.NoError(t, err)

	tests := []struct {
		name string
		temp int
		want int
	}{
		{"below first breakpoint", 20000, 0},
		{"at first breakpoint", 35000, 0},
		{"midpoint of first segment", 45000, 50},
		{"at second breakpoint", 55000, 100},
		{"inside second segment", 60000, 110},
		{"at last breakpoint", 90000, 255},
		{"above last breakpoint", 95000, 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Evaluate(tt.temp))
		})
	}
}

func TestEvaluateIntegerDivision(t *testing.T) {
	c, err := curve.New(defaultTemps, defaultDuties)
	require.NoError(t, err)

	// (45000-35000)*(100-0)/(55000-35000) must truncate, not round
	assert.Equal(t, 50, c.Evaluate(45000))
	// (56000-55000)*(153-100)/(80000-55000) = 53000/25000 = 2.12 -> 2
	assert.Equal(t, 102, c.Evaluate(56000))
}

func TestEvaluateNonDecreasing(t *testing.T) {
	c, err := curve.New(defaultTemps, defaultDuties)
	require.NoError(t, err)

	last := c.Evaluate(0)
	for temp := 0; temp <= 100000; temp += 250 {
		duty := c.Evaluate(temp)
		require.GreaterOrEqual(t, duty, last, "duty must not decrease at %d", temp)
		last = duty
	}
}

func TestEvaluateDegenerateCurve(t *testing.T) {
	c, err := curve.New([]int{50000}, []int{128})
	require.NoError(t, err)

	assert.Equal(t, 128, c.Evaluate(0))
	assert.Equal(t, 128, c.Evaluate(50000))
	assert.Equal(t, 128, c.Evaluate(99000))
}

func TestNewRejectsInvalidCurves(t *testing.T) {
	tests := []struct {
		name   string
		temps  []int
		duties []int
	}{
		{"empty", nil, nil},
		{"length mismatch", []int{1000, 2000}, []int{0}},
		{"not ascending", []int{2000, 1000}, []int{0, 100}},
		{"duplicate temperature", []int{1000, 1000}, []int{0, 100}},
		{"duty out of range", []int{1000, 2000}, []int{0, 300}},
		{"negative duty", []int{1000, 2000}, []int{-1, 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := curve.New(tt.temps, tt.duties)
			assert.Error(t, err)
		})
	}
}

func TestBreakpointsReturnsCopies(t *testing.T) {
	c, err := curve.New(defaultTemps, defaultDuties)
	require.NoError(t, err)

	temps, duties := c.Breakpoints()
	temps[0] = -1
	duties[0] = -1

	assert.Equal(t, 0, c.Evaluate(0), "mutating the returned slices must not affect the curve")
}
