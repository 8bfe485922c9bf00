package curve

// History records, per reference sensor, the temperature at which the
// last actuation happened. One History belongs to exactly one accepted
// connection; beginning a new session starts from an empty History so
// the first reading always actuates.
type History map[string]int

// Gate decides whether a new temperature reading warrants re-actuation.
// Rising temperatures pass immediately; falling temperatures pass only
// after they have dropped by at least the hysteresis margin. This
// asymmetry keeps the response to heating prompt while damping actuator
// chatter on the way down.
type Gate struct {
	// Hysteresis is the minimum drop in milli-degrees before a lower
	// duty cycle is applied again.
	Hysteresis int
}

// ShouldActuate reports whether the actuator driven by refID should be
// updated for newTemp. The caller records the temperature with
// History.Record only when an actuation actually happened.
func (g Gate) ShouldActuate(refID string, newTemp int, history History) bool {
	last, seen := history[refID]
	if !seen {
		return true
	}
	if newTemp > last {
		return true
	}

	return newTemp+g.Hysteresis <= last
}

// Record stores the temperature at which refID last caused an actuation.
func (h History) Record(refID string, temp int) {
	h[refID] = temp
}

// NextChange returns the thresholds at which refID will actuate again:
// any reading above up, or at most down. The second return is false
// when refID has no recorded actuation yet.
func (g Gate) NextChange(refID string, history History) (up, down int, ok bool) {
	last, seen := history[refID]
	if !seen {
		return 0, 0, false
	}

	return last, last - g.Hysteresis, true
}
