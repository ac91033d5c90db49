/*Package boards drives serial peripherals (DDS and DAC evaluation boards)
hanging off the digital connectors.  They have no timing of their own: every
bit is a timed digital write, so a register write is a burst of clock and
data edges placed in the sequence like any other action.

Register writes are laid out backwards from the deadline they are given, so
that the last clock edge lands just before it and the board has the new
value in its buffer at that instant.  That is why WriteSPI reports zero
elapsed time: it occupies the past, not the future.
*/
package boards

import (
	"errors"
	"fmt"

	"github.com/ultracold-lab/sequencer/timing"
	"github.com/ultracold-lab/sequencer/util"
)

// DefaultStep is the time between serial clock edges
const DefaultStep = 1 * timing.Us

var (
	// ErrPin is generated when a pin number is outside 0-31
	ErrPin = errors.New("pin must be 0-31")
)

// DigitalOutput writes several lines of a connector at once
type DigitalOutput interface {
	DigitalMask(t float64, connector int, mask, state uint32) (float64, error)
}

// Peripheral is a board spoken to by bit-banging a data and a clock line,
// with an update line that latches what has been written
type Peripheral struct {
	Out       DigitalOutput
	Connector int
	DataPin   int
	ClockPin  int
	ResetPin  int
	UpdatePin int

	// Step is the time between edges; zero means DefaultStep
	Step float64
}

// Validate checks the pin numbers
func (p *Peripheral) Validate() error {
	for _, pin := range []int{p.DataPin, p.ClockPin, p.ResetPin, p.UpdatePin} {
		if pin < 0 || pin > 31 {
			return fmt.Errorf("%w, got %d", ErrPin, pin)
		}
	}
	return nil
}

func (p *Peripheral) step() float64 {
	if p.Step == 0 {
		return DefaultStep
	}
	return p.Step
}

// SPIDuration is how long before the deadline a write of n data bytes starts
func (p *Peripheral) SPIDuration(n int) float64 {
	return float64(16*(n+1)) * p.step()
}

// WriteSPI writes the register byte then data, finishing at t.  Bits go out
// MSB first; each bit is a falling then a rising clock edge with the data
// line held.
func (p *Peripheral) WriteSPI(t float64, register byte, data []byte) (float64, error) {
	var (
		dt    = p.step()
		now   = t
		mask  = uint32(1)<<uint(p.DataPin) | uint32(1)<<uint(p.ClockPin)
		clock = uint32(1) << uint(p.ClockPin)
	)
	// walking backwards in time, so the last byte and its LSB come first
	writeByte := func(b byte) error {
		for bit := uint(0); bit < 8; bit++ {
			var state uint32
			state = util.SetBit(state, uint(p.DataPin), b>>bit&1 == 1)
			now -= dt
			if _, err := p.Out.DigitalMask(now, p.Connector, mask, state|clock); err != nil {
				return err
			}
			now -= dt
			if _, err := p.Out.DigitalMask(now, p.Connector, mask, state); err != nil {
				return err
			}
		}
		return nil
	}
	for i := len(data) - 1; i >= 0; i-- {
		if err := writeByte(data[i]); err != nil {
			return 0, err
		}
	}
	if err := writeByte(register); err != nil {
		return 0, err
	}
	return 0, nil
}

// UpdatePulse raises the update line at t and drops it one step later
func (p *Peripheral) UpdatePulse(t float64) (float64, error) {
	mask := uint32(1) << uint(p.UpdatePin)
	if _, err := p.Out.DigitalMask(t, p.Connector, mask, mask); err != nil {
		return 0, err
	}
	if _, err := p.Out.DigitalMask(t+p.step(), p.Connector, mask, 0); err != nil {
		return 0, err
	}
	return 2 * p.step(), nil
}
