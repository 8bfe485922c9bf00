package curve_test

import (
	"testing"

	"codeberg.org/mutker/rfanctl/internal/curve"
	"github.com/stretchr/testify/assert"
)

func TestGateFirstReadingAlwaysActuates(t *testing.T) {
	gate := curve.Gate{Hysteresis: 6000}
	history := make(curve.History)

	assert.True(t, gate.ShouldActuate("gpu0", 40000, history))
}

func TestGateHysteresisPolicy(t *testing.T) {
	gate := curve.Gate{Hysteresis: 6000}
	history := make(curve.History)
	history.Record("gpu0", 60000)

	tests := []struct {
		name string
		temp int
		want bool
	}{
		{"rising actuates immediately", 61000, true},
		{"equal temperature holds", 60000, false},
		{"small drop within margin holds", 59000, false},
		{"drop just under margin holds", 54001, false},
		{"drop of exactly the margin actuates", 54000, true},
		{"larger drop actuates", 53000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gate.ShouldActuate("gpu0", tt.temp, history))
		})
	}
}

func TestGateTracksSensorsIndependently(t *testing.T) {
	gate := curve.Gate{Hysteresis: 6000}
	history := make(curve.History)
	history.Record("gpu0", 60000)

	// gpu1 has no history yet, so any reading actuates
	assert.True(t, gate.ShouldActuate("gpu1", 30000, history))
	// gpu0 keeps its own record
	assert.False(t, gate.ShouldActuate("gpu0", 59000, history))
}

func TestGateNextChange(t *testing.T) {
	gate := curve.Gate{Hysteresis: 6000}
	history := make(curve.History)

	_, _, ok := gate.NextChange("gpu0", history)
	assert.False(t, ok)

	history.Record("gpu0", 60000)
	up, down, ok := gate.NextChange("gpu0", history)
	assert.True(t, ok)
	assert.Equal(t, 60000, up)
	assert.Equal(t, 54000, down)
}
