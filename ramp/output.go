package ramp

import (
	"fmt"
	"math"

	"github.com/ultracold-lab/sequencer/eventbuf"
	"github.com/ultracold-lab/sequencer/timing"
)

// AnalogOutput is the output primitive ramps write through
type AnalogOutput interface {
	// Analog sets board/channel to value volts at time t and returns the
	// time the write takes
	Analog(t float64, board, channel int, value float64) (float64, error)
}

const (
	minVolts = -10.
	maxVolts = 10.
)

func checkVolts(name string, v float64) error {
	if !(v >= minVolts && v <= maxVolts) {
		return fmt.Errorf("%w: %s %g V not between %g and %g V", ErrRange, name, v, minVolts, maxVolts)
	}
	return nil
}

// Ramp is an analog ramp on one channel.  Its shape methods are
// timing.Actions returning TotalTime.
type Ramp struct {
	Out            AnalogOutput
	Board, Channel int

	StartCode, EndCode int

	// TotalTime is the ramp duration in seconds
	TotalTime float64

	// A is the curvature used by Sigmoidal
	A float64

	// Tau is the time constant used by Exponential and ExponentialDown
	Tau float64
}

// New creates a ramp from vStart to vEnd volts lasting totalTime seconds
func New(out AnalogOutput, board, channel int, vStart, vEnd, totalTime float64) (*Ramp, error) {
	if board < 0 || board > 1 {
		return nil, fmt.Errorf("%w, got %d", eventbuf.ErrBoard, board)
	}
	if channel < 0 || channel > 7 {
		return nil, fmt.Errorf("%w, got %d", eventbuf.ErrChannel, channel)
	}
	if err := checkVolts("start", vStart); err != nil {
		return nil, err
	}
	if err := checkVolts("end", vEnd); err != nil {
		return nil, err
	}
	return &Ramp{
		Out:       out,
		Board:     board,
		Channel:   channel,
		StartCode: int(eventbuf.Quantize(vStart)),
		EndCode:   int(eventbuf.Quantize(vEnd)),
		TotalTime: totalTime}, nil
}

// Spec returns the compiler input for shape
func (r *Ramp) Spec(shape Shape) Spec {
	return Spec{
		StartCode: r.StartCode,
		EndCode:   r.EndCode,
		Shape:     shape,
		TotalTime: r.TotalTime,
		A:         r.A,
		Tau:       r.Tau}
}

func (r *Ramp) emit(t float64, shape Shape) (float64, error) {
	steps, err := Compile(r.Spec(shape), t)
	if err != nil {
		return 0, fmt.Errorf("%v ramp on board %d channel %d: %w", shape, r.Board, r.Channel, err)
	}
	for _, st := range steps {
		if _, err := r.Out.Analog(st.T, r.Board, r.Channel, eventbuf.CodeToValue(st.Code)); err != nil {
			return 0, err
		}
	}
	return r.TotalTime, nil
}

// Linear ramps at a constant rate
func (r *Ramp) Linear(t float64) (float64, error) {
	return r.emit(t, Linear)
}

// Exponential ramps along an exponential with time constant Tau
func (r *Ramp) Exponential(t float64) (float64, error) {
	return r.emit(t, ExponentialRise)
}

// ExponentialDown ramps along an exponential with the opposite curvature
func (r *Ramp) ExponentialDown(t float64) (float64, error) {
	return r.emit(t, ExponentialFall)
}

// Sigmoidal ramps along a logistic curve of curvature A
func (r *Ramp) Sigmoidal(t float64) (float64, error) {
	return r.emit(t, Sigmoidal)
}

// settle is the spacing of the writes that return an oscillation to its offset
const settle = 1 * timing.Us

// Oscillator is a sine wave around Offset on one channel
type Oscillator struct {
	Out            AnalogOutput
	Board, Channel int

	// Amplitude and Offset are in volts, Frequency in hertz, TotalTime in seconds
	Amplitude, Offset, Frequency, TotalTime float64
}

// NewOscillator validates the output range of the oscillation
func NewOscillator(out AnalogOutput, board, channel int, amplitude, offset, frequency, totalTime float64) (*Oscillator, error) {
	if board < 0 || board > 1 {
		return nil, fmt.Errorf("%w, got %d", eventbuf.ErrBoard, board)
	}
	if channel < 0 || channel > 7 {
		return nil, fmt.Errorf("%w, got %d", eventbuf.ErrChannel, channel)
	}
	if err := checkVolts("offset", offset); err != nil {
		return nil, err
	}
	if err := checkVolts("offset+amplitude", offset+amplitude); err != nil {
		return nil, err
	}
	if err := checkVolts("offset-amplitude", offset-amplitude); err != nil {
		return nil, err
	}
	if !(frequency > 0) {
		return nil, fmt.Errorf("%w: frequency must be positive, got %g", ErrDomain, frequency)
	}
	if !(totalTime > 0) {
		return nil, fmt.Errorf("%w: total time must be positive, got %g", ErrDomain, totalTime)
	}
	return &Oscillator{
		Out:       out,
		Board:     board,
		Channel:   channel,
		Amplitude: amplitude,
		Offset:    offset,
		Frequency: frequency,
		TotalTime: totalTime}, nil
}

// AmplitudeCode is the peak excursion of the oscillation in DAC codes
func (o *Oscillator) AmplitudeCode() int {
	return int(math.Trunc(math.Abs(o.Amplitude) / eventbuf.FullScale * eventbuf.CodeSpace))
}

// Sine writes the oscillation starting at the offset at time t, then two
// writes back to the offset 1 and 2 µs after it ends
func (o *Oscillator) Sine(t float64) (float64, error) {
	steps, err := Oscillation(o.AmplitudeCode(), o.Frequency, o.TotalTime, t)
	if err != nil {
		return 0, fmt.Errorf("oscillation on board %d channel %d: %w", o.Board, o.Channel, err)
	}
	sign := 1.
	if o.Amplitude < 0 {
		sign = -1
	}
	for _, st := range steps {
		v := o.Offset + sign*eventbuf.CodeToValue(st.Code)
		if _, err := o.Out.Analog(st.T, o.Board, o.Channel, v); err != nil {
			return 0, err
		}
	}
	end := t + o.TotalTime
	for _, dt := range []float64{settle, 2 * settle} {
		if _, err := o.Out.Analog(end+dt, o.Board, o.Channel, o.Offset); err != nil {
			return 0, err
		}
	}
	return o.TotalTime + 2*settle, nil
}
