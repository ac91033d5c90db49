/*Package output is the single choke point through which every timed state
change passes.  It validates the request, forwards it to a Sink (normally a
link.Session) and reports the fixed time the write occupies, so every
method here is usable as a timing.Action once its arguments are bound.
*/
package output

import (
	"errors"
	"fmt"

	"github.com/ultracold-lab/sequencer/timing"
)

const (
	// DigitalStep is the time a digital write occupies
	DigitalStep = 1 * timing.Us

	// AnalogStep is the time an analog write occupies
	AnalogStep = 2 * timing.Us

	// MaxVolts is the largest magnitude an analog channel accepts
	MaxVolts = 10.

	// DigitalConnectors is the number of digital connectors
	DigitalConnectors = 4

	// DigitalChannels is the number of lines per digital connector
	DigitalChannels = 32

	// AnalogBoards is the number of analog boards
	AnalogBoards = 2

	// AnalogChannels is the number of channels per analog board
	AnalogChannels = 8
)

var (
	// ErrConnector is generated when a digital connector or analog board is out of range
	ErrConnector = errors.New("invalid connector number")

	// ErrChannel is generated when a channel is out of range
	ErrChannel = errors.New("invalid channel number")

	// ErrState is generated when a digital state is not 0 or 1, or drives a
	// line outside its mask
	ErrState = errors.New("invalid digital state")

	// ErrVoltage is generated when an analog value is not between -10 and 10 V
	ErrVoltage = errors.New("output voltage not between -10 and 10 V")
)

// Sink receives validated writes
type Sink interface {
	SetDigitalState(t float64, connector, mask, enable, state uint32) error
	SetAnalogState(t float64, board, channel int, value float64) error
}

// Outputs validates and forwards writes to a Sink
type Outputs struct {
	sink   Sink
	invert bool
}

// New returns Outputs writing to sink.  If invertAnalog is true every analog
// value is negated before it reaches the sink, for amplifiers that invert.
func New(sink Sink, invertAnalog bool) *Outputs {
	return &Outputs{sink: sink, invert: invertAnalog}
}

func checkConnector(connector int) error {
	if connector < 0 || connector >= DigitalConnectors {
		return fmt.Errorf("%w: %d, must be 0-%d", ErrConnector, connector, DigitalConnectors-1)
	}
	return nil
}

// Digital sets one line of a connector at time t
func (o *Outputs) Digital(t float64, connector, channel, state int) (float64, error) {
	if err := checkConnector(connector); err != nil {
		return 0, err
	}
	if channel < 0 || channel >= DigitalChannels {
		return 0, fmt.Errorf("%w: %d, must be 0-%d", ErrChannel, channel, DigitalChannels-1)
	}
	if state != 0 && state != 1 {
		return 0, fmt.Errorf("%w: %d", ErrState, state)
	}
	mask := uint32(1) << uint(channel)
	err := o.sink.SetDigitalState(t, uint32(connector), mask, mask, uint32(state)<<uint(channel))
	if err != nil {
		return 0, err
	}
	return DigitalStep, nil
}

// DigitalMask sets every line in mask at once, used by the serial
// peripherals that move clock and data together
func (o *Outputs) DigitalMask(t float64, connector int, mask, state uint32) (float64, error) {
	if err := checkConnector(connector); err != nil {
		return 0, err
	}
	if state&^mask != 0 {
		return 0, fmt.Errorf("%w: state %#x drives lines outside mask %#x", ErrState, state, mask)
	}
	if err := o.sink.SetDigitalState(t, uint32(connector), mask, mask, state); err != nil {
		return 0, err
	}
	return DigitalStep, nil
}

// Analog sets a channel of an analog board to value volts at time t
func (o *Outputs) Analog(t float64, board, channel int, value float64) (float64, error) {
	if board < 0 || board >= AnalogBoards {
		return 0, fmt.Errorf("%w: board %d, must be 0-%d", ErrConnector, board, AnalogBoards-1)
	}
	if channel < 0 || channel >= AnalogChannels {
		return 0, fmt.Errorf("%w: %d, must be 0-%d", ErrChannel, channel, AnalogChannels-1)
	}
	if !(value >= -MaxVolts && value <= MaxVolts) {
		return 0, fmt.Errorf("%w: %g", ErrVoltage, value)
	}
	if o.invert {
		value = -value
	}
	if err := o.sink.SetAnalogState(t, board, channel, value); err != nil {
		return 0, err
	}
	return AnalogStep, nil
}
