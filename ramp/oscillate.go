package ramp

import (
	"fmt"
	"math"
)

// Oscillation returns the writes for a sine wave of amplitude codes around
// zero, starting at zero at tStart and lasting totalTime.  Each period is
// split where asin is invertible: 0 -> +amplitude, +amplitude -> -amplitude,
// -amplitude -> 0.  The final partial period stops at the code the sine has
// reached at totalTime.  Times are strictly ascending.
func Oscillation(amplitude int, frequency, totalTime, tStart float64) ([]Step, error) {
	if amplitude <= 0 {
		return nil, fmt.Errorf("%w: amplitude must be at least one code, got %d", ErrDomain, amplitude)
	}
	if !(frequency > 0) || !(totalTime > 0) {
		return nil, fmt.Errorf("%w: frequency and total time must be positive", ErrDomain)
	}
	var (
		q      = amplitude
		qf     = float64(q)
		period = 1 / frequency
		w      = 2 * math.Pi * frequency
		nFull  = int(math.Trunc(totalTime / period))
		steps  = make([]Step, 0, (nFull+1)*4*q+1)
	)
	rising := func(c int) float64 { return math.Asin(float64(c)/qf) / w }
	falling := func(c int) float64 { return (math.Pi - math.Asin(float64(c)/qf)) / w }
	closing := func(c int) float64 { return (2*math.Pi + math.Asin(float64(c)/qf)) / w }

	// add walks codes from..to inclusive
	add := func(base float64, from, to int, at func(int) float64) {
		dir := 1
		if to < from {
			dir = -1
		}
		for c := from; ; c += dir {
			steps = append(steps, Step{T: base + at(c), Code: c})
			if c == to {
				return
			}
		}
	}

	for n := 0; n < nFull; n++ {
		base := tStart + float64(n)*period
		add(base, 0, q-1, rising)
		add(base, q, -q+1, falling)
		add(base, -q, -1, closing)
	}

	base := tStart + float64(nFull)*period
	frac := totalTime - float64(nFull)*period
	// the last write is the code already crossed at totalTime, so nothing
	// lands after the end
	value := qf * math.Sin(w*frac)
	switch {
	case frac <= period/4:
		final := int(math.Floor(value))
		if final < 0 {
			final = 0
		}
		add(base, 0, final, rising)
	case frac <= 3*period/4:
		final := int(math.Ceil(value))
		if final > q {
			final = q
		}
		add(base, 0, q-1, rising)
		add(base, q, final, falling)
	default:
		final := int(math.Floor(value))
		if final > -1 {
			final = -1
		}
		add(base, 0, q-1, rising)
		add(base, q, -q+1, falling)
		add(base, -q, final, closing)
	}
	return steps, nil
}
