package boards

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/ultracold-lab/sequencer/timing"
	"github.com/ultracold-lab/sequencer/util"
)

const (
	// ad9959 registers
	regChannelSelect = 0x00
	regFunction1     = 0x01
	regFrequency     = 0x04
	regAmplitude     = 0x06

	// write windows, in steps, of the register writes used by ArbitraryOutput
	ftwWindow     = 80
	selectLead    = 144
	minStepWindow = 200

	resetHold = 10 * timing.Ms

	// MaxAmplitudeScale is the full scale of the 10-bit amplitude multiplier
	MaxAmplitudeScale = 1023
)

var (
	// ErrMismatch is generated when the frequency and power lists differ in length
	ErrMismatch = errors.New("number of frequencies and powers are not equal")

	// ErrEmpty is generated when no frequency/power pairs are given
	ErrEmpty = errors.New("no frequency/power")

	// ErrStepTime is generated when the time per step is shorter than a
	// register update takes
	ErrStepTime = errors.New("time step too small")

	// ErrChannel is generated when a DDS channel is outside 0-3
	ErrChannel = errors.New("dds channel must be 0-3")

	// ErrFrequency is generated when a frequency can't be represented by the
	// tuning word
	ErrFrequency = errors.New("frequency outside 0 to the system clock")
)

// AD9959Config holds the wiring and clocking of an AD9959 board
type AD9959Config struct {
	Connector  int     `koanf:"Connector" yaml:"Connector"`
	DataPin    int     `koanf:"DataPin" yaml:"DataPin"`
	ClockPin   int     `koanf:"ClockPin" yaml:"ClockPin"`
	ResetPin   int     `koanf:"ResetPin" yaml:"ResetPin"`
	UpdatePin  int     `koanf:"UpdatePin" yaml:"UpdatePin"`
	RefClock   float64 `koanf:"RefClock" yaml:"RefClock"`
	Multiplier int     `koanf:"Multiplier" yaml:"Multiplier"`
}

// DefaultAD9959Config is the evaluation board on connector 0
func DefaultAD9959Config() AD9959Config {
	return AD9959Config{
		Connector:  0,
		DataPin:    22,
		ClockPin:   25,
		ResetPin:   21,
		UpdatePin:  23,
		RefClock:   20 * timing.MHz,
		Multiplier: 20}
}

// AD9959 is a four channel DDS
type AD9959 struct {
	Peripheral
	RefClock   float64
	Multiplier int
}

// NewAD9959 returns a board writing through out
func NewAD9959(out DigitalOutput, cfg AD9959Config) (*AD9959, error) {
	d := &AD9959{
		Peripheral: Peripheral{
			Out:       out,
			Connector: cfg.Connector,
			DataPin:   cfg.DataPin,
			ClockPin:  cfg.ClockPin,
			ResetPin:  cfg.ResetPin,
			UpdatePin: cfg.UpdatePin},
		RefClock:   cfg.RefClock,
		Multiplier: cfg.Multiplier}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d.Multiplier < 0 || d.Multiplier > 20 {
		return nil, fmt.Errorf("AD9959: reference clock multiplier must be 0 or 4-20, got %d", d.Multiplier)
	}
	return d, nil
}

// SysClock is the internal clock, the reference times the PLL multiplier
// (which bypasses the PLL when zero)
func (d *AD9959) SysClock() float64 {
	if d.Multiplier == 0 {
		return d.RefClock
	}
	return float64(d.Multiplier) * d.RefClock
}

// FrequencyTuningWord converts hertz to the 32-bit tuning word
func (d *AD9959) FrequencyTuningWord(freq float64) (uint32, error) {
	word := math.Round(float64(uint64(1)<<32) * freq / d.SysClock())
	if !(word >= 0 && word <= math.MaxUint32) {
		return 0, fmt.Errorf("%w: %g Hz with a %g Hz clock", ErrFrequency, freq, d.SysClock())
	}
	return uint32(word), nil
}

// AmplitudeScale converts dBm into the amplitude multiplier, saturating at
// full scale
func AmplitudeScale(power float64) int {
	mult := MaxAmplitudeScale * math.Sqrt(100*math.Pow(10, power/10-3)) / 0.149
	return util.ClampInt(int(mult), 0, MaxAmplitudeScale)
}

// Initialize sets the PLL multiplier and VCO gain.  The write finishes at t.
func (d *AD9959) Initialize(t float64) (float64, error) {
	fr1 := []byte{byte(d.Multiplier<<2) | 1<<7, 0, 0}
	if _, err := d.WriteSPI(t, regFunction1, fr1); err != nil {
		return 0, err
	}
	if _, err := d.UpdatePulse(t); err != nil {
		return 0, err
	}
	return 0, nil
}

// Reset pulses the reset line for 10 ms and initializes the board 10 ms
// after it drops
func (d *AD9959) Reset(t float64) (float64, error) {
	mask := uint32(1) << uint(d.ResetPin)
	if _, err := d.Out.DigitalMask(t, d.Connector, mask, mask); err != nil {
		return 0, err
	}
	if _, err := d.Out.DigitalMask(t+resetHold, d.Connector, mask, 0); err != nil {
		return 0, err
	}
	if _, err := d.Initialize(t + 2*resetHold); err != nil {
		return 0, err
	}
	return 2 * resetHold, nil
}

// ChannelMask packs DDS channels into the channel select byte
func ChannelMask(channels ...int) (byte, error) {
	var m byte
	for _, c := range channels {
		if c < 0 || c > 3 {
			return 0, fmt.Errorf("%w, got %d", ErrChannel, c)
		}
		m |= 1 << uint(c)
	}
	return m << 4, nil
}

// ArbitraryOutput steps the selected channels through freqs (Hz) and powers
// (dBm), one pair every total/len(freqs) seconds starting at t.  Registers
// only change when their value does.  With noUpdate the update line is left
// alone so several calls can be latched together.  A total shorter than
// one step window collapses to a single step lasting two clock steps.
func (d *AD9959) ArbitraryOutput(t float64, channels []int, freqs, powers []float64, total float64, noUpdate bool) (float64, error) {
	if len(freqs) != len(powers) {
		return 0, fmt.Errorf("AD9959: %w (%d and %d)", ErrMismatch, len(freqs), len(powers))
	}
	n := len(freqs)
	if n == 0 {
		return 0, fmt.Errorf("AD9959: %w", ErrEmpty)
	}
	chans, err := ChannelMask(channels...)
	if err != nil {
		return 0, err
	}
	step := d.step()
	minStep := minStepWindow * step
	var dt float64
	if total < minStep {
		if total != 0 {
			log.Printf("AD9959: total time %g s is negative or too small, using a single step\n", total)
		}
		n = 1
		total = 2 * step
		dt = total
	} else {
		dt = total / float64(n)
		if dt < minStep {
			return 0, fmt.Errorf("AD9959: %w, %g s per step, need %g", ErrStepTime, dt, minStep)
		}
	}

	if _, err := d.WriteSPI(t-selectLead*step, regChannelSelect, []byte{chans}); err != nil {
		return 0, err
	}
	var (
		lastWord  uint32
		lastScale = -1
		haveWord  bool
		update    bool
		ftw       = make([]byte, 4)
	)
	for i := 0; i < n; i++ {
		stepTime := t + float64(i)*dt
		now := stepTime
		word, err := d.FrequencyTuningWord(freqs[i])
		if err != nil {
			return 0, err
		}
		if !haveWord || word != lastWord {
			binary.BigEndian.PutUint32(ftw, word)
			if _, err := d.WriteSPI(now, regFrequency, ftw); err != nil {
				return 0, err
			}
			lastWord, haveWord, update = word, true, true
			now -= ftwWindow * step
		}
		scale := AmplitudeScale(powers[i])
		if scale != lastScale {
			acr := uint16(1<<12 | scale)
			if _, err := d.WriteSPI(now, regAmplitude, []byte{0, byte(acr >> 8), byte(acr)}); err != nil {
				return 0, err
			}
			lastScale, update = scale, true
		}
		if update && !noUpdate {
			if _, err := d.UpdatePulse(stepTime); err != nil {
				return 0, err
			}
			update = false
		}
	}
	return total, nil
}
