package curve

import (
	"codeberg.org/mutker/rfanctl/internal/errors"
)

const (
	// MinDuty and MaxDuty bound the PWM duty-cycle range.
	MinDuty = 0
	MaxDuty = 255
)

// Curve maps a temperature in milli-degrees to a PWM duty cycle by
// piecewise-linear interpolation over a fixed set of breakpoints.
// A Curve is immutable after construction and safe for concurrent use.
type Curve struct {
	temps  []int
	duties []int
}

// New validates the breakpoint arrays and builds a Curve.
// Temperatures must be strictly ascending, duty cycles within 0..255,
// and both arrays non-empty and of equal length.
func New(temps, duties []int) (*Curve, error) {
	errFactory := errors.New()

	if len(temps) == 0 {
		return nil, errFactory.WithMessage(errors.ErrInvalidCurve, "curve requires at least one breakpoint")
	}
	if len(temps) != len(duties) {
		return nil, errFactory.WithMessage(errors.ErrInvalidCurve,
			"temperature and PWM arrays must have the same length")
	}

	for i, d := range duties {
		if d < MinDuty || d > MaxDuty {
			return nil, errFactory.WithData(errors.ErrInvalidCurve, struct {
				Index int
				Duty  int
			}{i, d})
		}
	}

	for i := 1; i < len(temps); i++ {
		if temps[i] <= temps[i-1] {
			return nil, errFactory.WithMessage(errors.ErrInvalidCurve,
				"temperature breakpoints must be strictly ascending")
		}
	}

	c := &Curve{
		temps:  make([]int, len(temps)),
		duties: make([]int, len(duties)),
	}
	copy(c.temps, temps)
	copy(c.duties, duties)

	return c, nil
}

// Evaluate returns the duty cycle for the given temperature.
// Below the first breakpoint it returns the first duty value, above the
// last breakpoint the last. In between it interpolates linearly using
// integer division, so the result is always a whole PWM value.
func (c *Curve) Evaluate(temp int) int {
	if temp <= c.temps[0] {
		return c.duties[0]
	}

	last := len(c.temps) - 1
	if temp >= c.temps[last] {
		return c.duties[last]
	}

	for i := 1; i <= last; i++ {
		if temp <= c.temps[i] {
			tempRange := c.temps[i] - c.temps[i-1]
			dutyRange := c.duties[i] - c.duties[i-1]
			tempDelta := temp - c.temps[i-1]

			return c.duties[i-1] + tempDelta*dutyRange/tempRange
		}
	}

	return c.duties[last]
}

// Breakpoints returns copies of the temperature and duty arrays.
func (c *Curve) Breakpoints() (temps, duties []int) {
	temps = make([]int, len(c.temps))
	duties = make([]int, len(c.duties))
	copy(temps, c.temps)
	copy(duties, c.duties)

	return temps, duties
}
