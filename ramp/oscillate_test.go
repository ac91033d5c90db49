package ramp_test

import (
	"errors"
	"math"
	"testing"

	"github.com/ultracold-lab/sequencer/eventbuf"
	"github.com/ultracold-lab/sequencer/ramp"
)

func checkAscending(t *testing.T, steps []ramp.Step) {
	t.Helper()
	for i := 1; i < len(steps); i++ {
		if !(steps[i].T > steps[i-1].T) {
			t.Fatalf("time not ascending at %d: %g after %g", i, steps[i].T, steps[i-1].T)
		}
	}
}

func TestOscillationFullPeriod(t *testing.T) {
	const q = 4
	steps, err := ramp.Oscillation(q, 1, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	// 4q writes for the period plus the closing zero
	if len(steps) != 4*q+1 {
		t.Fatalf("expected %d steps got %d", 4*q+1, len(steps))
	}
	checkAscending(t, steps)
	if steps[0] != (ramp.Step{T: 0, Code: 0}) {
		t.Errorf("expected to start at zero, got %+v", steps[0])
	}
	last := steps[len(steps)-1]
	if last.Code != 0 || math.Abs(last.T-1) > 1e-12 {
		t.Errorf("expected to end at zero at t=1, got %+v", last)
	}
	hi, lo := 0, 0
	for _, s := range steps {
		if s.Code > hi {
			hi = s.Code
		}
		if s.Code < lo {
			lo = s.Code
		}
	}
	if hi != q || lo != -q {
		t.Errorf("expected excursion +/-%d, got %d..%d", q, lo, hi)
	}
}

func TestOscillationQuarterPeriod(t *testing.T) {
	steps, err := ramp.Oscillation(4, 2, 0.125, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 5 {
		t.Fatalf("expected 5 steps got %d: %+v", len(steps), steps)
	}
	checkAscending(t, steps)
	last := steps[len(steps)-1]
	if last.Code != 4 || math.Abs(last.T-3.125) > 1e-12 {
		t.Errorf("expected peak at t=3.125, got %+v", last)
	}
}

func TestOscillationManyPeriods(t *testing.T) {
	steps, err := ramp.Oscillation(50, 1e3, 3.6e-3, 0)
	if err != nil {
		t.Fatal(err)
	}
	checkAscending(t, steps)
	last := steps[len(steps)-1]
	if last.T > 3.6e-3+1e-12 {
		t.Errorf("oscillation ran past its end: %g", last.T)
	}
	// 0.6 of a period is in the falling half, just below zero
	if last.Code >= 0 || last.Code < -50 {
		t.Errorf("expected final code in the falling half, got %d", last.Code)
	}
}

func TestOscillationStopsAtTheEnd(t *testing.T) {
	// 100 Hz, so one period is 10 ms; cover each quarter of the final period
	for _, total := range []float64{1.3e-3, 2.6e-3, 4.9e-3, 5.2e-3, 7.6e-3, 9.9e-3, 12.6e-3, 17.6e-3} {
		steps, err := ramp.Oscillation(163, 100, total, 2)
		if err != nil {
			t.Fatal(err)
		}
		checkAscending(t, steps)
		last := steps[len(steps)-1]
		if last.T > 2+total+1e-12 {
			t.Errorf("total %g: last write %+v is %g s past the end", total, last, last.T-2-total)
		}
		// the last code is within one of the curve at the end
		want := 163 * math.Sin(2*math.Pi*100*total)
		if math.Abs(float64(last.Code)-want) > 1 {
			t.Errorf("total %g: expected final code near %.2f got %d", total, want, last.Code)
		}
	}
}

func TestSineEndsAtOffset(t *testing.T) {
	rec := &recorder{}
	o, err := ramp.NewOscillator(rec, 0, 2, eventbuf.CodeToValue(163), 1, 100, 7.6e-3)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Sine(0); err != nil {
		t.Fatal(err)
	}
	latest := rec.writes[0]
	for _, w := range rec.writes {
		if w.T >= latest.T {
			latest = w
		}
	}
	if latest.V != 1 || math.Abs(latest.T-(7.6e-3+2e-6)) > 1e-12 {
		t.Errorf("expected the latest write to be the offset 2 us after the end, got %+v", latest)
	}
}

func TestOscillationDomain(t *testing.T) {
	if _, err := ramp.Oscillation(0, 1, 1, 0); !errors.Is(err, ramp.ErrDomain) {
		t.Errorf("expected ErrDomain for zero amplitude, got %v", err)
	}
	if _, err := ramp.Oscillation(3, 0, 1, 0); !errors.Is(err, ramp.ErrDomain) {
		t.Errorf("expected ErrDomain for zero frequency, got %v", err)
	}
}

func TestSineSettlesToOffset(t *testing.T) {
	rec := &recorder{}
	amp := eventbuf.CodeToValue(4)
	o, err := ramp.NewOscillator(rec, 0, 2, amp, 1, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	elapsed, err := o.Sine(5)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(elapsed-(1+2e-6)) > 1e-15 {
		t.Errorf("expected total time plus settle, got %g", elapsed)
	}
	n := len(rec.writes)
	if n != 4*4+1+2 {
		t.Fatalf("expected 19 writes got %d", n)
	}
	for i, dt := range []float64{1e-6, 2e-6} {
		w := rec.writes[n-2+i]
		if math.Abs(w.T-(6+dt)) > 1e-12 || w.V != 1 {
			t.Errorf("settle write %d = %+v", i, w)
		}
	}
	if rec.writes[0].V != 1 || rec.writes[0].T != 5 {
		t.Errorf("expected to start at the offset, got %+v", rec.writes[0])
	}
}

func TestNewOscillatorRange(t *testing.T) {
	if _, err := ramp.NewOscillator(&recorder{}, 0, 0, 3, 8, 1, 1); !errors.Is(err, ramp.ErrRange) {
		t.Errorf("expected ErrRange when the peak exceeds 10 V, got %v", err)
	}
}
