package main

import (
	"math"
	"testing"

	"github.com/ultracold-lab/sequencer/apparatus"
	"github.com/ultracold-lab/sequencer/eventbuf"
	"github.com/ultracold-lab/sequencer/link"
	"github.com/ultracold-lab/sequencer/output"
	"github.com/ultracold-lab/sequencer/timing"
)

func defaultConfig() Config {
	return Config{Link: link.DefaultConfig(), Apparatus: apparatus.DefaultConfig()}
}

func TestExperimentCompiles(t *testing.T) {
	rec := output.NewRecorder()
	end, err := compileExperiment(rec, defaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	// reset 20 ms, 1 ms gap, 500 ms load, 25 ms TOF, 50 us delay and a 101 us pulse
	want := 546*timing.Ms + 151*timing.Us
	if math.Abs(end-want) > 1e-9 {
		t.Errorf("expected the shot to end at %g got %g", want, end)
	}
	recs, err := rec.Records()
	if err != nil {
		t.Fatal(err)
	}
	var pinch []eventbuf.Record
	for _, r := range recs {
		if r.IsAnalog() && r.ChannelMask == eventbuf.AnalogMask(0, 1) {
			pinch = append(pinch, r)
		}
		if r.T < 0 || r.T > end {
			t.Errorf("record outside the shot %v", r)
		}
	}
	// the default, the load setting 3 V, then a ramp visiting every code to 0
	q := int(eventbuf.Quantize(3))
	if len(pinch) != q+3 {
		t.Fatalf("expected %d pinch writes got %d", q+3, len(pinch))
	}
	if pinch[0].Code() != 0 || pinch[1].Code() != int32(q) || pinch[2].Code() != int32(q) {
		t.Errorf("unexpected pinch start %v %v %v", pinch[0], pinch[1], pinch[2])
	}
	if last := pinch[len(pinch)-1]; last.Code() != 0 || math.Abs(last.T-526*timing.Ms-1*timing.Us) > 1e-9 {
		t.Errorf("expected the pinch ramp to end at 0 V 5 ms after release got %v", last)
	}
}

func TestExperimentLeavesCoilsOff(t *testing.T) {
	app, err := apparatus.New(output.New(output.NewRecorder(), false), apparatus.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	e, err := NewExperiment(app)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Main(0); err != nil {
		t.Fatal(err)
	}
	for name, on := range app.State.Snapshot() {
		if on {
			t.Errorf("expected %s off after the shot", name)
		}
	}
}

func TestExperimentInverted(t *testing.T) {
	c := defaultConfig()
	c.InvertAnalog = true
	rec := output.NewRecorder()
	if _, err := compileExperiment(rec, c); err != nil {
		t.Fatal(err)
	}
	recs, _ := rec.Records()
	for _, r := range recs {
		if r.IsAnalog() && r.ChannelMask == eventbuf.AnalogMask(0, 1) && r.Code() > 0 {
			t.Fatalf("expected inverted pinch codes got %v", r)
		}
	}
}

func TestExperimentNeedsLines(t *testing.T) {
	cfg := apparatus.DefaultConfig()
	delete(cfg.AnalogLines, "ag_servo")
	app, err := apparatus.New(output.New(output.NewRecorder(), false), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewExperiment(app); err == nil {
		t.Error("expected an error with a line missing")
	}
}
