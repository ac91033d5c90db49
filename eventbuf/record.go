package eventbuf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/ultracold-lab/sequencer/util"
)

const (
	// AnalogConnector is the wire connector that marks a record as an analog word
	AnalogConnector = 5

	// FullScale is the span of the analog outputs in volts (-10 to +10 V)
	FullScale = 20.

	// CodeSpace is the number of codes of the 16-bit DACs
	CodeSpace = 1 << 16

	// MinCode and MaxCode bound a quantized analog value
	MinCode = -(1 << 15)
	MaxCode = 1<<15 - 1
)

var (
	byteOrder = binary.BigEndian

	// ErrBoard is generated when an analog board is not 0 or 1
	ErrBoard = errors.New("analog board must be 0 or 1")

	// ErrChannel is generated when an analog channel is not in 0..7
	ErrChannel = errors.New("analog channel must be in 0..7")

	// ErrMismatch is generated when paired lists differ in length
	ErrMismatch = errors.New("list lengths differ")
)

// Quantize converts a voltage to the nearest DAC code, saturating at the ends
// of the code range
func Quantize(value float64) int32 {
	code := math.Round(value / FullScale * CodeSpace)
	return int32(util.Clamp(code, MinCode, MaxCode))
}

// CodeToValue converts a DAC code back to volts
func CodeToValue(code int) float64 {
	return FullScale * float64(code) / CodeSpace
}

// WireConnector maps a digital header (0-3) to its on-wire id (1-4).  Anything
// else maps to 0.
func WireConnector(connector uint32) uint32 {
	if connector > 3 {
		return 0
	}
	return connector + 1
}

// AnalogMask returns the channel mask addressing channel on board
func AnalogMask(board, channel int) uint32 {
	return 1 << uint(board*8+channel)
}

// Digital is a digital state change
type Digital struct {
	T            float64
	Connector    uint32
	ChannelMask  uint32
	OutputEnable uint32
	State        uint32
}

// MarshalBinary encodes the record as-is, without touching the connector
func (d Digital) MarshalBinary() ([]byte, error) {
	out := make([]byte, RecordSize)
	d.put(out)
	return out, nil
}

func (d Digital) put(out []byte) {
	byteOrder.PutUint64(out[0:], math.Float64bits(d.T))
	byteOrder.PutUint32(out[8:], d.Connector)
	byteOrder.PutUint32(out[12:], d.ChannelMask)
	byteOrder.PutUint32(out[16:], d.OutputEnable)
	byteOrder.PutUint32(out[20:], d.State)
}

// Analog is an analog DAC word
type Analog struct {
	T            float64
	Connector    uint32
	ChannelMask  uint32
	OutputEnable uint32
	State        int32
}

// MarshalBinary encodes the record
func (a Analog) MarshalBinary() ([]byte, error) {
	out := make([]byte, RecordSize)
	a.put(out)
	return out, nil
}

func (a Analog) put(out []byte) {
	byteOrder.PutUint64(out[0:], math.Float64bits(a.T))
	byteOrder.PutUint32(out[8:], a.Connector)
	byteOrder.PutUint32(out[12:], a.ChannelMask)
	byteOrder.PutUint32(out[16:], a.OutputEnable)
	byteOrder.PutUint32(out[20:], uint32(a.State))
}

// DigitalRecord encodes a buffered digital state change.  The connector is
// the header number 0-3 and is shifted onto the wire id.
func DigitalRecord(t float64, connector, mask, enable, state uint32) []byte {
	out := make([]byte, RecordSize)
	Digital{T: t, Connector: WireConnector(connector), ChannelMask: mask, OutputEnable: enable, State: state}.put(out)
	return out
}

// NewAnalog builds the analog record for value volts on board/channel
func NewAnalog(t float64, board, channel int, value float64) (Analog, error) {
	if board < 0 || board > 1 {
		return Analog{}, fmt.Errorf("%w, got %d", ErrBoard, board)
	}
	if channel < 0 || channel > 7 {
		return Analog{}, fmt.Errorf("%w, got %d", ErrChannel, channel)
	}
	return Analog{
		T:           t,
		Connector:   AnalogConnector,
		ChannelMask: AnalogMask(board, channel),
		State:       Quantize(value)}, nil
}

// AnalogRecords encodes one analog record per (time, value) pair for a single
// board and channel.  times and values must be of equal length.
func AnalogRecords(times []float64, board, channel int, values []float64) ([]byte, error) {
	if len(times) != len(values) {
		return nil, fmt.Errorf("%w: %d times and %d values", ErrMismatch, len(times), len(values))
	}
	out := make([]byte, len(times)*RecordSize)
	for i := range times {
		a, err := NewAnalog(times[i], board, channel, values[i])
		if err != nil {
			return nil, err
		}
		a.put(out[i*RecordSize:])
	}
	return out, nil
}

// Record is a decoded record of either kind
type Record struct {
	T            float64
	Connector    uint32
	ChannelMask  uint32
	OutputEnable uint32
	Raw          uint32
}

// IsAnalog is true if the record addresses the analog boards
func (r Record) IsAnalog() bool {
	return r.Connector == AnalogConnector
}

// Code returns the signed DAC code of an analog record
func (r Record) Code() int32 {
	return int32(r.Raw)
}

// String renders the record for humans
func (r Record) String() string {
	if r.IsAnalog() {
		return fmt.Sprintf("%.9f analog mask=0x%04x code=%d (%.4f V)", r.T, r.ChannelMask, r.Code(), CodeToValue(int(r.Code())))
	}
	return fmt.Sprintf("%.9f digital conn=%d mask=0x%08x oe=0x%08x state=0x%08x", r.T, r.Connector, r.ChannelMask, r.OutputEnable, r.Raw)
}

// Decode splits a record stream back into records
func Decode(p []byte) ([]Record, error) {
	if len(p)%RecordSize != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrLength, len(p))
	}
	out := make([]Record, 0, len(p)/RecordSize)
	for i := 0; i < len(p); i += RecordSize {
		rec := p[i : i+RecordSize]
		out = append(out, Record{
			T:            math.Float64frombits(byteOrder.Uint64(rec[0:])),
			Connector:    byteOrder.Uint32(rec[8:]),
			ChannelMask:  byteOrder.Uint32(rec[12:]),
			OutputEnable: byteOrder.Uint32(rec[16:]),
			Raw:          byteOrder.Uint32(rec[20:]),
		})
	}
	return out, nil
}
