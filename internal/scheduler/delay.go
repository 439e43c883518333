package scheduler

import (
	"time"
)

// Params are the tuning knobs of the adaptive delay for one calculator kind.
type Params struct {
	Base           time.Duration
	Min            time.Duration
	Max            time.Duration
	GrowFactor     float64
	ShrinkFactor   float64
	BurstThreshold int           // inputs within the window that count as a burst
	PauseThreshold time.Duration // gap since the previous input that counts as a pause
}

// Signal describes the input cadence observed on the current call.
type Signal struct {
	First          bool          // no earlier input for the instance
	Previous       time.Duration // delay chosen on the previous call
	Gap            time.Duration // time since the previous input
	InputsInWindow int           // inputs in the rolling window, this one included
}

// NextDelay computes the debounce delay for an input. The most recent signal
// wins: a pause observed on this call shrinks the previous delay even when
// the window still holds a burst; otherwise a burst grows it; otherwise the
// delay resets to the base. The result is clamped to [Min, Max].
func NextDelay(p Params, s Signal) time.Duration {
	if s.First {
		return clamp(p.Base, p.Min, p.Max)
	}
	prev := s.Previous
	if prev <= 0 {
		prev = p.Base
	}
	switch {
	case p.PauseThreshold > 0 && s.Gap >= p.PauseThreshold:
		return clamp(scale(prev, p.ShrinkFactor), p.Min, p.Max)
	case p.BurstThreshold > 0 && s.InputsInWindow >= p.BurstThreshold:
		return clamp(scale(prev, p.GrowFactor), p.Min, p.Max)
	default:
		return clamp(p.Base, p.Min, p.Max)
	}
}

// pruneWindow drops timestamps older than window before now. inputs must be
// in ascending order; the backing array is reused.
func pruneWindow(inputs []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(inputs) && inputs[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return inputs
	}
	return append(inputs[:0], inputs[i:]...)
}

func scale(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if lo > 0 && d < lo {
		return lo
	}
	if hi > 0 && d > hi {
		return hi
	}
	return d
}
