/*Package ramp turns continuous analog trajectories into the exact register
writes a 16-bit DAC needs to reproduce them.

Rather than sampling the curve on a fixed time grid, the curve is inverted:
for every code between the start and end code the time at which the curve
crosses that code is solved in closed form, and one write is emitted per
code.  The number of writes is |end - start| + 1 no matter how long the ramp
is, and each write happens exactly when the DAC would change value.

Compile is the pure part and returns the step list.  Ramp and Oscillator wrap
it with a board/channel and an output, and their shape methods are
timing.Actions.
*/
package ramp

import (
	"errors"
	"fmt"
	"math"
)

// Shape selects the trajectory of a ramp
type Shape int

const (
	// Linear moves at a constant rate
	Linear Shape = iota

	// ExponentialRise follows offset + alpha*exp(t/tau), anchored at the start
	ExponentialRise

	// ExponentialFall is the mirror of ExponentialRise, anchored at the end
	ExponentialFall

	// Sigmoidal is a logistic curve with curvature A, stretched to meet both ends
	Sigmoidal
)

func (s Shape) String() string {
	switch s {
	case Linear:
		return "linear"
	case ExponentialRise:
		return "exponential"
	case ExponentialFall:
		return "exponential-down"
	case Sigmoidal:
		return "sigmoidal"
	default:
		return fmt.Sprintf("Shape(%d)", int(s))
	}
}

var (
	// ErrDomain is generated when the shape parameters make the inversion
	// undefined (zero time constant, curvature, or duration)
	ErrDomain = errors.New("ramp parameters outside the domain of the shape")

	// ErrRange is generated when a voltage or code is outside the DAC range
	ErrRange = errors.New("value outside DAC range")
)

// Spec describes one ramp in DAC codes
type Spec struct {
	StartCode int
	EndCode   int
	Shape     Shape

	// TotalTime is the duration of the ramp in seconds
	TotalTime float64

	// A is the curvature of a sigmoidal ramp
	A float64

	// Tau is the time constant of an exponential ramp
	Tau float64
}

// Step is one register write
type Step struct {
	T    float64
	Code int
}

// Compile returns the writes that realise spec starting at tStart.  The steps
// are in ascending time order, visit every code between StartCode and EndCode
// (inclusive) once, begin at (tStart, StartCode), and end at
// (tStart+TotalTime, EndCode).  A ramp whose start and end codes are equal is
// a single write at tStart.
func Compile(spec Spec, tStart float64) ([]Step, error) {
	if spec.StartCode == spec.EndCode {
		return []Step{{T: tStart, Code: spec.StartCode}}, nil
	}
	if !(spec.TotalTime > 0) || math.IsInf(spec.TotalTime, 0) {
		return nil, fmt.Errorf("%w: total time must be positive and finite, got %g", ErrDomain, spec.TotalTime)
	}
	at, err := inverse(spec)
	if err != nil {
		return nil, err
	}

	// walk the codes in the direction of the ramp, so times come out ascending
	dir := 1
	if spec.EndCode < spec.StartCode {
		dir = -1
	}
	n := (spec.EndCode-spec.StartCode)*dir + 1
	steps := make([]Step, n)
	for i := 0; i < n; i++ {
		code := spec.StartCode + i*dir
		steps[i] = Step{T: tStart + at(code), Code: code}
	}
	// the closed forms meet the ends up to rounding; pin them
	steps[0].T = tStart
	steps[n-1].T = tStart + spec.TotalTime
	return steps, nil
}

// inverse returns the function giving the time (relative to the start of the
// ramp) at which the curve crosses code
func inverse(spec Spec) (func(code int) float64, error) {
	var (
		c0 = float64(spec.StartCode)
		c1 = float64(spec.EndCode)
		T  = spec.TotalTime
	)
	switch spec.Shape {
	case Linear:
		slope := (c1 - c0) / T
		return func(code int) float64 {
			return (float64(code) - c0) / slope
		}, nil

	case ExponentialRise:
		delta, err := expDelta(spec)
		if err != nil {
			return nil, err
		}
		// code(t) = offset + alpha*exp(t/tau), code(0) = c0, code(T) = c1
		alpha := (c0 - c1) / (1 - delta)
		offset := c0 - alpha
		tau := spec.Tau
		return func(code int) float64 {
			return tau * math.Log((float64(code)-offset)/alpha)
		}, nil

	case ExponentialFall:
		delta, err := expDelta(spec)
		if err != nil {
			return nil, err
		}
		alpha := (delta - 1) / (c0 - c1)
		tau := spec.Tau
		return func(code int) float64 {
			return T - tau*math.Log(1+(float64(code)-c1)*alpha)
		}, nil

	case Sigmoidal:
		a := spec.A
		if a == 0 || math.IsNaN(a) || math.IsInf(a, 0) {
			return nil, fmt.Errorf("%w: sigmoidal curvature must be nonzero and finite, got %g", ErrDomain, a)
		}
		stretch := 2 / (1 - math.Exp(a/2))
		if math.IsInf(stretch, 0) || math.IsNaN(stretch) {
			return nil, fmt.Errorf("%w: sigmoidal curvature %g too small", ErrDomain, a)
		}
		return func(code int) float64 {
			frac := (float64(code) - c0) / (c1 - c0)
			inner := (1-stretch)/(frac-stretch/2) - 1
			return T * (-math.Log(inner)/a + 0.5)
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown shape %v", ErrDomain, spec.Shape)
}

// expDelta returns exp(T/tau) for the exponential shapes
func expDelta(spec Spec) (float64, error) {
	if spec.Tau == 0 || math.IsNaN(spec.Tau) {
		return 0, fmt.Errorf("%w: exponential time constant must be nonzero", ErrDomain)
	}
	delta := math.Exp(spec.TotalTime / spec.Tau)
	if delta == 1 || delta == 0 || math.IsInf(delta, 0) {
		return 0, fmt.Errorf("%w: decay rate or time interval is too small (exp(T/tau) = %g)", ErrDomain, delta)
	}
	return delta, nil
}
