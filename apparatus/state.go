// Package apparatus names the hardware of one experiment and keeps the
// state stages share, such as which trap coils are energized.
package apparatus

import (
	"fmt"
	"sync"
)

// Coil is a magnetic coil whose on/off state outlives the stage that set it
type Coil int

const (
	// Imaging is the imaging coil
	Imaging Coil = iota

	// Bias is the bias coil pair
	Bias

	// Pinch is the pinch coil pair
	Pinch

	// AntiGravity is the anti-gravity coil
	AntiGravity

	numCoils
)

func (c Coil) String() string {
	switch c {
	case Imaging:
		return "imaging"
	case Bias:
		return "bias"
	case Pinch:
		return "pinch"
	case AntiGravity:
		return "anti-gravity"
	default:
		return fmt.Sprintf("Coil(%d)", int(c))
	}
}

// State is the shared apparatus state.  It is safe for concurrent use.
type State struct {
	mu sync.Mutex
	on [numCoils]bool
}

// On reports whether coil c is energized
func (s *State) On(c Coil) bool {
	if c < 0 || c >= numCoils {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on[c]
}

// SetOn records whether coil c is energized
func (s *State) SetOn(c Coil, on bool) {
	if c < 0 || c >= numCoils {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on[c] = on
}

// Reset turns every coil off
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on = [numCoils]bool{}
}

// Snapshot returns the coil states keyed by name
func (s *State) Snapshot() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, numCoils)
	for c := Coil(0); c < numCoils; c++ {
		out[c.String()] = s.on[c]
	}
	return out
}
