package timing_test

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/ultracold-lab/sequencer/timing"
)

// recorder is an action that remembers when it was called
type recorder struct {
	times   []float64
	elapsed float64
}

func (r *recorder) act(t float64) (float64, error) {
	r.times = append(r.times, t)
	return r.elapsed, nil
}

func fixed(d float64) timing.Action {
	return func(t float64) (float64, error) { return d, nil }
}

const eps = 1e-12

func near(a, b float64) bool {
	return math.Abs(a-b) < eps
}

func TestAbsNegativeOffsetCancelsDuration(t *testing.T) {
	var s timing.Sequence
	elapsed, err := s.Run(1, func() {
		s.Abs(-5*timing.Ms, fixed(5*timing.Ms))
		if !near(s.Now(), s.Start()) {
			t.Errorf("expected cursor at start %f, got %f", s.Start(), s.Now())
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !near(elapsed, 0) {
		t.Errorf("expected zero elapsed time, got %g", elapsed)
	}
}

func TestAbsIsRelativeToStart(t *testing.T) {
	var (
		s timing.Sequence
		r = &recorder{elapsed: 1 * timing.Us}
	)
	s.Run(2, func() {
		s.Abs(3*timing.Ms, r.act)
		s.Abs(1*timing.Ms, r.act)
	})
	expected := []float64{2 + 3*timing.Ms, 2 + 1*timing.Ms}
	for i, e := range expected {
		if !near(r.times[i], e) {
			t.Errorf("call %d: expected %f got %f", i, e, r.times[i])
		}
	}
}

func TestRelBatchKeepsLastDuration(t *testing.T) {
	var s timing.Sequence
	elapsed, err := s.Run(0, func() {
		d := s.Rel(1*timing.Ms, timing.Simultaneous(fixed(5), fixed(2)))
		if d != 2 {
			t.Errorf("expected batch to report the last duration 2, got %f", d)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !near(elapsed, 1*timing.Ms+2) {
		t.Errorf("expected cursor to advance by 1ms + 2, got %f", elapsed)
	}
}

func TestRelAllFiresAtSameInstant(t *testing.T) {
	var (
		s    timing.Sequence
		a, b = &recorder{elapsed: 3}, &recorder{elapsed: 1}
	)
	s.Run(10, func() {
		s.RelAll(2, a.act, b.act)
	})
	if a.times[0] != 12 || b.times[0] != 12 {
		t.Errorf("expected both actions at 12, got %v and %v", a.times, b.times)
	}
	if s.Now() != 13 {
		t.Errorf("expected cursor at 13, got %f", s.Now())
	}
}

func TestRelMultiple(t *testing.T) {
	var (
		s    timing.Sequence
		a, b = &recorder{elapsed: 1 * timing.Us}, &recorder{elapsed: 2 * timing.Us}
	)
	s.Run(0, func() {
		last := s.RelMultiple(
			timing.Step{Delay: 50 * timing.Ms, Action: a.act},
			timing.Step{Delay: 1 * timing.Ms, Action: b.act},
		)
		if last != 2*timing.Us {
			t.Errorf("expected final duration 2us, got %g", last)
		}
	})
	if !near(a.times[0], 50*timing.Ms) || !near(b.times[0], 51*timing.Ms) {
		t.Errorf("expected steps at 50ms and 51ms, got %v %v", a.times, b.times)
	}
	if !near(s.Now(), 51*timing.Ms+2*timing.Us) {
		t.Errorf("expected cursor at 51.002ms, got %g", s.Now())
	}
}

func TestLocalTiming(t *testing.T) {
	var (
		s     timing.Sequence
		inner = &recorder{}
		outer = &recorder{}
	)
	s.Run(1, func() {
		s.StartLocalTiming(10 * timing.Ms)
		s.Abs(0, inner.act)
		s.Abs(2*timing.Ms, inner.act)
		s.EndLocalTiming()
		s.Abs(0, outer.act)
	})
	expected := []float64{1 + 10*timing.Ms, 1 + 12*timing.Ms}
	for i, e := range expected {
		if !near(inner.times[i], e) {
			t.Errorf("local call %d: expected %f got %f", i, e, inner.times[i])
		}
	}
	if outer.times[0] != 1 {
		t.Errorf("expected abs(0) after end of local timing at root start 1, got %f", outer.times[0])
	}
}

func TestNestedLocalTimingUsesStack(t *testing.T) {
	var (
		s timing.Sequence
		r = &recorder{}
	)
	s.Run(0, func() {
		s.StartLocalTiming(1)
		s.StartLocalTiming(2)
		s.Abs(0, r.act) // 3
		s.EndLocalTiming()
		s.Abs(0, r.act) // 1
		s.EndLocalTiming()
		s.Abs(0, r.act) // 0
	})
	expected := []float64{3, 1, 0}
	for i, e := range expected {
		if r.times[i] != e {
			t.Errorf("call %d: expected %f got %f", i, e, r.times[i])
		}
	}
}

type stage struct {
	timing.Sequence
	child *child
}

type child struct {
	timing.Sequence
	r *recorder
}

func (c *child) seq(t float64) (float64, error) {
	return c.Run(t, func() {
		c.Abs(0, c.r.act)
		c.Rel(1, c.r.act)
	})
}

func (s *stage) seq(t float64) (float64, error) {
	return s.Run(t, func() {
		s.Abs(5, s.child.seq)
		s.Rel(1, s.child.seq)
	})
}

func TestStagesCompose(t *testing.T) {
	r := &recorder{elapsed: 0.5}
	st := &stage{child: &child{r: r}}
	elapsed, err := st.seq(100)
	if err != nil {
		t.Fatal(err)
	}
	// child: 0 -> 0.5, rel 1 -> 1.5 .. 2.0, so each child takes 2
	expected := []float64{105, 106.5, 108, 109.5}
	for i, e := range expected {
		if r.times[i] != e {
			t.Errorf("call %d: expected %f got %f", i, e, r.times[i])
		}
	}
	if elapsed != 10 {
		t.Errorf("expected elapsed 10, got %f", elapsed)
	}
}

type selfNesting struct {
	timing.Sequence
	r *recorder
}

func (s *selfNesting) inner(t float64) (float64, error) {
	return s.Run(t, func() {
		s.Abs(1, s.r.act)
	})
}

func (s *selfNesting) outer(t float64) (float64, error) {
	return s.Run(t, func() {
		s.Abs(10, s.inner)
		s.Abs(20, s.r.act)
	})
}

func TestRunRestoresOuterTimes(t *testing.T) {
	s := &selfNesting{r: &recorder{}}
	s.outer(0)
	if s.r.times[0] != 11 || s.r.times[1] != 20 {
		t.Errorf("expected calls at 11 and 20, got %v", s.r.times)
	}
}

func TestErrorIsSticky(t *testing.T) {
	var (
		s     timing.Sequence
		boom  = errors.New("boom")
		after = &recorder{}
	)
	_, err := s.Run(0, func() {
		s.Abs(0, func(t float64) (float64, error) { return 0, boom })
		s.Rel(1, after.act)
		s.Abs(2, after.act)
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if len(after.times) != 0 {
		t.Errorf("expected no actions after the failure, got %d", len(after.times))
	}
	// a fresh run clears the error
	_, err = s.Run(0, func() { s.Abs(0, after.act) })
	if err != nil {
		t.Errorf("expected a new run to start clean, got %v", err)
	}
}

func ExampleSequence_Rel() {
	var s timing.Sequence
	show := func(t float64) (float64, error) {
		fmt.Printf("%.3f\n", t)
		return 1 * timing.Ms, nil
	}
	s.Run(0, func() {
		s.Abs(0, show)
		s.Rel(2*timing.Ms, show)
		s.Rel(0, show)
	})
	// Output:
	// 0.000
	// 0.003
	// 0.004
}
