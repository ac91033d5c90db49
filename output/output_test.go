package output_test

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/ultracold-lab/sequencer/eventbuf"
	"github.com/ultracold-lab/sequencer/output"
	"github.com/ultracold-lab/sequencer/timing"
)

type call struct {
	T                              float64
	Connector, Mask, Enable, State uint32
	Board, Channel                 int
	Value                          float64
}

type fakeSink struct {
	calls []call
}

func (f *fakeSink) SetDigitalState(t float64, connector, mask, enable, state uint32) error {
	f.calls = append(f.calls, call{T: t, Connector: connector, Mask: mask, Enable: enable, State: state})
	return nil
}

func (f *fakeSink) SetAnalogState(t float64, board, channel int, value float64) error {
	f.calls = append(f.calls, call{T: t, Board: board, Channel: channel, Value: value})
	return nil
}

func TestDigitalWritesMaskAndState(t *testing.T) {
	sink := &fakeSink{}
	out := output.New(sink, false)
	dt, err := out.Digital(2.5, 3, 5, 1)
	if err != nil {
		t.Fatal(err)
	}
	if dt != output.DigitalStep {
		t.Errorf("expected %g got %g", output.DigitalStep, dt)
	}
	truth := call{T: 2.5, Connector: 3, Mask: 1 << 5, Enable: 1 << 5, State: 1 << 5}
	if len(sink.calls) != 1 || sink.calls[0] != truth {
		t.Errorf("expected %+v got %+v", truth, sink.calls)
	}
}

func TestDigitalValidation(t *testing.T) {
	out := output.New(&fakeSink{}, false)
	cases := []struct {
		conn, ch, state int
		err             error
	}{
		{-1, 0, 0, output.ErrConnector},
		{4, 0, 0, output.ErrConnector},
		{0, 32, 0, output.ErrChannel},
		{0, -1, 0, output.ErrChannel},
		{0, 0, 2, output.ErrState},
	}
	for _, c := range cases {
		_, err := out.Digital(0, c.conn, c.ch, c.state)
		if !errors.Is(err, c.err) {
			t.Errorf("Digital(%d, %d, %d): expected %v got %v", c.conn, c.ch, c.state, c.err, err)
		}
	}
}

func TestDigitalMaskRejectsStrayLines(t *testing.T) {
	out := output.New(&fakeSink{}, false)
	if _, err := out.DigitalMask(0, 0, 0b0110, 0b1000); !errors.Is(err, output.ErrState) {
		t.Errorf("expected ErrState got %v", err)
	}
	if _, err := out.DigitalMask(0, 0, 0b0110, 0b0100); err != nil {
		t.Errorf("expected no error got %v", err)
	}
}

func TestAnalogInverts(t *testing.T) {
	sink := &fakeSink{}
	out := output.New(sink, true)
	dt, err := out.Analog(1, 1, 7, 2.5)
	if err != nil {
		t.Fatal(err)
	}
	if dt != output.AnalogStep {
		t.Errorf("expected %g got %g", output.AnalogStep, dt)
	}
	if got := sink.calls[0].Value; got != -2.5 {
		t.Errorf("expected inverted value -2.5 got %g", got)
	}
}

func TestAnalogValidation(t *testing.T) {
	out := output.New(&fakeSink{}, false)
	cases := []struct {
		board, ch int
		v         float64
		err       error
	}{
		{2, 0, 0, output.ErrConnector},
		{0, 8, 0, output.ErrChannel},
		{0, 0, 10.01, output.ErrVoltage},
		{0, 0, -10.01, output.ErrVoltage},
		{0, 0, math.NaN(), output.ErrVoltage},
	}
	for _, c := range cases {
		_, err := out.Analog(0, c.board, c.ch, c.v)
		if !errors.Is(err, c.err) {
			t.Errorf("Analog(%d, %d, %g): expected %v got %v", c.board, c.ch, c.v, c.err, err)
		}
	}
	// the ends of the range are legal
	for _, v := range []float64{-10, 10} {
		if _, err := out.Analog(0, 0, 0, v); err != nil {
			t.Errorf("Analog(%g): %v", v, err)
		}
	}
}

func TestRampThroughRecorder(t *testing.T) {
	rec := output.NewRecorder()
	coil := output.AnalogLine{Out: output.New(rec, true), Board: 0, Channel: 2}
	r, err := coil.Ramp(0, eventbuf.CodeToValue(10), 1*timing.Ms)
	if err != nil {
		t.Fatal(err)
	}
	var seq timing.Sequence
	elapsed, err := seq.Run(0, func() {
		seq.Abs(0, r.Linear)
	})
	if err != nil {
		t.Fatal(err)
	}
	if elapsed != 1*timing.Ms {
		t.Errorf("expected the ramp to take 1 ms, took %g", elapsed)
	}
	records, err := rec.Records()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 11 {
		t.Fatalf("expected 11 records got %d", len(records))
	}
	for i, r := range records {
		if !r.IsAnalog() || r.ChannelMask != 1<<2 {
			t.Errorf("record %d is not on board 0 channel 2: %v", i, r)
		}
		// inverted on the way out
		if int(r.Code()) != -i {
			t.Errorf("record %d: expected code %d got %d", i, -i, r.Code())
		}
	}
}

func TestPulseDuration(t *testing.T) {
	sink := &fakeSink{}
	line := output.Line{Out: output.New(sink, false), Connector: 1, Channel: 0}
	dt, err := line.Pulse(10 * timing.Us)(4)
	if err != nil {
		t.Fatal(err)
	}
	if want := 10*timing.Us + output.DigitalStep; math.Abs(dt-want) > 1e-15 {
		t.Errorf("expected %g got %g", want, dt)
	}
	if len(sink.calls) != 2 || sink.calls[0].State != 1 || sink.calls[1].State != 0 || math.Abs(sink.calls[1].T-(4+10*timing.Us)) > 1e-12 {
		t.Errorf("unexpected writes %+v", sink.calls)
	}
}

func ExampleLine_Pulse() {
	rec := output.NewRecorder()
	shutter := output.Line{Out: output.New(rec, false), Connector: 0, Channel: 3}
	var seq timing.Sequence
	seq.Run(0, func() {
		seq.Abs(1*timing.Ms, shutter.Pulse(500*timing.Us))
	})
	records, _ := rec.Records()
	for _, r := range records {
		fmt.Println(r)
	}
	// Output:
	// 0.001000000 digital conn=1 mask=0x00000008 oe=0x00000008 state=0x00000008
	// 0.001500000 digital conn=1 mask=0x00000008 oe=0x00000008 state=0x00000000
}
