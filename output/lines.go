package output

import (
	"github.com/ultracold-lab/sequencer/ramp"
	"github.com/ultracold-lab/sequencer/timing"
)

// Line is one digital line bound to its connector and pin
type Line struct {
	Out       *Outputs
	Connector int
	Channel   int
}

// Set returns an action driving the line to state
func (l Line) Set(state int) timing.Action {
	return func(t float64) (float64, error) {
		return l.Out.Digital(t, l.Connector, l.Channel, state)
	}
}

// On drives the line high
func (l Line) On(t float64) (float64, error) {
	return l.Out.Digital(t, l.Connector, l.Channel, 1)
}

// Off drives the line low
func (l Line) Off(t float64) (float64, error) {
	return l.Out.Digital(t, l.Connector, l.Channel, 0)
}

// Pulse returns an action that holds the line high for width.  Its duration
// ends with the falling edge.
func (l Line) Pulse(width float64) timing.Action {
	return func(t float64) (float64, error) {
		if _, err := l.On(t); err != nil {
			return 0, err
		}
		dt, err := l.Off(t + width)
		return width + dt, err
	}
}

// AnalogLine is one analog channel bound to its board
type AnalogLine struct {
	Out     *Outputs
	Board   int
	Channel int
}

// Set returns an action writing v volts
func (a AnalogLine) Set(v float64) timing.Action {
	return func(t float64) (float64, error) {
		return a.Out.Analog(t, a.Board, a.Channel, v)
	}
}

// Ramp returns a ramp on the channel from vStart to vEnd over total seconds
func (a AnalogLine) Ramp(vStart, vEnd, total float64) (*ramp.Ramp, error) {
	return ramp.New(a.Out, a.Board, a.Channel, vStart, vEnd, total)
}

// Oscillator returns a sine oscillation on the channel
func (a AnalogLine) Oscillator(amplitude, offset, frequency, total float64) (*ramp.Oscillator, error) {
	return ramp.NewOscillator(a.Out, a.Board, a.Channel, amplitude, offset, frequency, total)
}
