/*Package eventbuf holds the time-resolved command stream sent to the real-time
executor.

The stream is a flat run of fixed-width, big-endian records:

	digital  | t float64 | connector uint32 | channel mask uint32 | output enable uint32 | state uint32 |
	analog   | t float64 | connector uint32 | channel mask uint32 | output enable uint32 | state int32  |

There is no type tag.  The executor treats connector 5 as an analog DAC word
and connectors 1-4 as the four digital headers (0-3, shifted up by one on the
wire).  Records are kept in append order; the executor sorts by time.
*/
package eventbuf

import (
	"errors"
	"fmt"
)

const (
	// RecordSize is the width of one record in bytes
	RecordSize = 24

	// DefaultCapacity is the number of records a Buffer is sized for, and the
	// block it grows by
	DefaultCapacity = 1 << 20
)

// ErrLength is generated when appended data is not a whole number of records
var ErrLength = errors.New("length of data is not a multiple of the record size")

// Buffer is a growable, preallocated store of records.  It is not safe for
// concurrent use.  The zero value is empty and grows by DefaultCapacity.
type Buffer struct {
	base int // capacity in records, and the growth block
	data []byte
	end  int // records written
}

// New returns a Buffer sized for capacity records.  capacity <= 0 selects
// DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{base: capacity, data: make([]byte, capacity*RecordSize)}
}

// Append copies one or more encoded records onto the end of the buffer,
// growing it by whole blocks when needed
func (b *Buffer) Append(p []byte) error {
	if len(p)%RecordSize != 0 {
		return fmt.Errorf("%w: got %d bytes, record size %d", ErrLength, len(p), RecordSize)
	}
	start := b.end * RecordSize
	need := start + len(p)
	if need > len(b.data) {
		if b.base <= 0 {
			b.base = DefaultCapacity
		}
		block := b.base * RecordSize
		blocks := (need + block - 1) / block
		grown := make([]byte, blocks*block)
		copy(grown, b.data[:start])
		b.data = grown
	}
	copy(b.data[start:], p)
	b.end += len(p) / RecordSize
	return nil
}

// Len returns the number of records written
func (b *Buffer) Len() int {
	return b.end
}

// Cap returns the number of records the buffer holds before it must grow
func (b *Buffer) Cap() int {
	return len(b.data) / RecordSize
}

// Bytes returns the written records.  The slice aliases the buffer and is
// only valid until the next Append or Clear.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.end*RecordSize]
}

// Clear drops all records and any growth, leaving a fresh zeroed buffer of the
// base capacity
func (b *Buffer) Clear() {
	b.data = make([]byte, b.base*RecordSize)
	b.end = 0
}
