package output

import (
	"github.com/ultracold-lab/sequencer/eventbuf"
)

// Recorder is a Sink that encodes every write into a Buffer without any
// hardware attached, for compiling a sequence offline
type Recorder struct {
	Buf *eventbuf.Buffer
}

// NewRecorder returns a Recorder with a buffer of the default capacity
func NewRecorder() *Recorder {
	return &Recorder{Buf: eventbuf.New(eventbuf.DefaultCapacity)}
}

// SetDigitalState appends a digital record
func (r *Recorder) SetDigitalState(t float64, connector, mask, enable, state uint32) error {
	return r.Buf.Append(eventbuf.DigitalRecord(t, connector, mask, enable, state))
}

// SetAnalogState appends an analog record
func (r *Recorder) SetAnalogState(t float64, board, channel int, value float64) error {
	rec, err := eventbuf.NewAnalog(t, board, channel, value)
	if err != nil {
		return err
	}
	b, _ := rec.MarshalBinary()
	return r.Buf.Append(b)
}

// Records decodes what has been recorded so far
func (r *Recorder) Records() ([]eventbuf.Record, error) {
	return eventbuf.Decode(r.Buf.Bytes())
}
