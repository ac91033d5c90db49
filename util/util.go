// Package util contains misc internal utilities.
package util

import (
	"math"
	"time"
)

// Clamp limits input to the closed interval [low, high]
func Clamp(input, low, high float64) float64 {
	if input < low {
		return low
	}
	if input > high {
		return high
	}
	return input
}

// ClampInt is Clamp for integers
func ClampInt(input, low, high int) int {
	if input < low {
		return low
	}
	if input > high {
		return high
	}
	return input
}

// SecsToDuration converts a floating point number of seconds to a time.Duration,
// rounded to the nearest nanosecond
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * 1e9))
}

// SetBit returns the value of b with the bit at bitIndex set to on
func SetBit(b uint32, bitIndex uint, on bool) uint32 {
	if on {
		return b | (1 << bitIndex)
	}
	return b &^ (1 << bitIndex)
}

// GetBit returns the value of a given bit in a word
func GetBit(b uint32, bitIndex uint) bool {
	return (b>>bitIndex)&1 == 1
}
