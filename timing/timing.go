/*Package timing composes nested experiment stages into one absolute timeline.

The hardware trigger is t=0.  Every stage thinks it starts at zero; the
Sequence embedded in the stage keeps three times:

	start   - the time the stage (or its current local timing block) began
	current - the cursor, advanced by every scheduled action
	anchor  - the permanent start of the stage, restored by EndLocalTiming

A stage exposes its work as a method with the Action signature and wraps the
body in Run, which sets the three times and reports the elapsed duration back
to the caller.  That makes stages compose recursively:

	type Pulses struct {
		timing.Sequence
		on, off timing.Action
	}

	func (p *Pulses) Train(t float64) (float64, error) {
		return p.Run(t, func() {
			p.Abs(0, p.on)
			for i := 0; i < 24; i++ {
				p.Rel(1*timing.Ms, p.off)
				p.Rel(1*timing.Ms, p.on)
			}
			p.Rel(1*timing.Ms, p.off)
		})
	}

	// elsewhere
	seq.Abs(5*timing.Ms, pulses.Train)

Abs and Rel do not return errors.  The first action that fails stops the
stage: its error is kept, later Abs/Rel calls do nothing, and Run returns it.
Nothing checks that two actions on the same line collide in time; composing
correctly is the caller's job.
*/
package timing

// units, in seconds (time) and hertz (frequency)
const (
	Sec = 1.
	Ms  = 1e-3
	Us  = 1e-6
	Ns  = 1e-9

	Hz  = 1.
	KHz = 1e3
	MHz = 1e6
)

// Action is something that happens at an absolute time t (seconds after the
// trigger) and reports how much time it consumed
type Action func(t float64) (elapsed float64, err error)

// Null is an Action that does nothing and takes no time
func Null(t float64) (float64, error) {
	return 0, nil
}

// Simultaneous fires every action at the same time, in order.  The elapsed
// time is that of the last action; the durations of the others are discarded
func Simultaneous(actions ...Action) Action {
	return func(t float64) (float64, error) {
		var elapsed float64
		for _, a := range actions {
			var err error
			elapsed, err = a(t)
			if err != nil {
				return 0, err
			}
		}
		return elapsed, nil
	}
}

// Step pairs a delay with an action, for RelMultiple
type Step struct {
	Delay  float64
	Action Action
}

// Sequence holds the timing state of one stage.  The zero value is ready to
// use; embed it in stage types.
type Sequence struct {
	start   float64
	current float64
	anchor  float64

	// locals holds the start times displaced by StartLocalTiming
	locals []float64

	depth int
	err   error
}

// Start returns the time absolute offsets are measured from
func (s *Sequence) Start() float64 {
	return s.start
}

// Now returns the cursor, the time the previous action finished
func (s *Sequence) Now() float64 {
	return s.current
}

// Err returns the first error produced by a scheduled action, if any
func (s *Sequence) Err() error {
	return s.err
}

// Run sets start, current, and anchor to t, runs body, and returns the time
// elapsed between t and the cursor when body returns.  Calling Run from inside
// another Run on the same Sequence is allowed; the outer times are restored
// afterwards.
func (s *Sequence) Run(t float64, body func()) (float64, error) {
	type saved struct {
		start, current, anchor float64
		locals                 []float64
	}
	outer := saved{s.start, s.current, s.anchor, s.locals}
	if s.depth == 0 {
		s.err = nil
	}
	s.depth++
	s.start, s.current, s.anchor, s.locals = t, t, t, nil

	body()

	elapsed := s.current - s.start
	s.depth--
	if s.depth > 0 {
		s.start, s.current, s.anchor, s.locals = outer.start, outer.current, outer.anchor, outer.locals
	}
	if s.err != nil {
		return elapsed, s.err
	}
	return elapsed, nil
}

// invoke calls a at the cursor and advances the cursor by its duration
func (s *Sequence) invoke(a Action) float64 {
	if a == nil {
		a = Null
	}
	elapsed, err := a(s.current)
	if err != nil {
		s.err = err
		return 0
	}
	s.current += elapsed
	return elapsed
}

// Abs runs a at offset after the start of the stage (or local timing block).
// offset may be negative, which is how an action that must finish at a
// deadline is made to begin early enough.  The cursor is left at the end of
// the action and its duration is returned.
func (s *Sequence) Abs(offset float64, a Action) float64 {
	if s.err != nil {
		return 0
	}
	s.current = s.start + offset
	return s.invoke(a)
}

// Rel runs a delay after the previous action finished
func (s *Sequence) Rel(delay float64, a Action) float64 {
	if s.err != nil {
		return 0
	}
	s.current += delay
	return s.invoke(a)
}

// RelAll runs every action delay after the previous action finished, all at
// the same instant.  Only the last action's duration advances the cursor.
func (s *Sequence) RelAll(delay float64, actions ...Action) float64 {
	return s.Rel(delay, Simultaneous(actions...))
}

// RelMultiple runs each step relative to the one before it and returns the
// duration of the final step.  The cursor only advances by that final
// duration; intermediate durations are not accumulated.
func (s *Sequence) RelMultiple(steps ...Step) float64 {
	if s.err != nil {
		return 0
	}
	var elapsed float64
	for _, st := range steps {
		s.current += st.Delay
		a := st.Action
		if a == nil {
			a = Null
		}
		var err error
		elapsed, err = a(s.current)
		if err != nil {
			s.err = err
			return 0
		}
	}
	s.current += elapsed
	return elapsed
}

// StartLocalTiming advances the cursor by delay and begins a block whose Abs
// offsets are relative to that point.  Blocks nest; each EndLocalTiming
// closes the innermost one.
func (s *Sequence) StartLocalTiming(delay float64) {
	s.current += delay
	s.locals = append(s.locals, s.start)
	s.start = s.current
}

// EndLocalTiming closes the innermost local timing block.  With no block open
// it restores the stage's permanent start.
func (s *Sequence) EndLocalTiming() {
	n := len(s.locals)
	if n == 0 {
		s.start = s.anchor
		return
	}
	s.start = s.locals[n-1]
	s.locals = s.locals[:n-1]
}
