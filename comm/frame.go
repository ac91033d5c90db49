package comm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// HeaderSize is the length of a message header in bytes
	HeaderSize = 16

	// ChunkSize is the largest write issued to the socket at once
	ChunkSize = 512
)

// MsgType distinguishes messages on the wire
type MsgType uint32

const (
	// MsgDone is the type of the completion acknowledgment of a run
	MsgDone MsgType = 15

	// MsgBuild asks the executor to start buffering writes
	MsgBuild MsgType = 16

	// MsgClear asks the executor to discard its buffered writes
	MsgClear MsgType = 17

	// MsgRun runs the writes the executor has buffered
	MsgRun MsgType = 18

	// MsgStop aborts a run
	MsgStop MsgType = 19

	// MsgDigital is an immediate (or remotely buffered) digital write
	MsgDigital MsgType = 20

	// MsgAnalog is an immediate analog write
	MsgAnalog MsgType = 21

	// MsgRunPayload carries a cycle count and a complete record stream to run
	MsgRunPayload MsgType = 22

	// MsgEcho is echoed back verbatim by the executor
	MsgEcho MsgType = 0x80000000
)

func (t MsgType) String() string {
	switch t {
	case MsgDone:
		return "done"
	case MsgBuild:
		return "build"
	case MsgClear:
		return "clear"
	case MsgRun:
		return "run"
	case MsgStop:
		return "stop"
	case MsgDigital:
		return "digital"
	case MsgAnalog:
		return "analog"
	case MsgRunPayload:
		return "run-payload"
	case MsgEcho:
		return "echo"
	default:
		return fmt.Sprintf("MsgType(%d)", uint32(t))
	}
}

// doneID and donePayload identify the completion acknowledgment
const (
	doneID      = 15
	donePayload = "Done"
)

// Header is the fixed part of every message
type Header struct {
	ID     uint64
	Type   MsgType
	Length uint32
}

// MarshalBinary encodes the header as >QLL
func (h Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	h.put(buf)
	return buf, nil
}

func (h Header) put(buf []byte) {
	binary.BigEndian.PutUint64(buf[0:], h.ID)
	binary.BigEndian.PutUint32(buf[8:], uint32(h.Type))
	binary.BigEndian.PutUint32(buf[12:], h.Length)
}

// UnmarshalBinary decodes a >QLL header
func (h *Header) UnmarshalBinary(p []byte) error {
	if len(p) < HeaderSize {
		return fmt.Errorf("%w: got %d bytes", ErrShortHeader, len(p))
	}
	h.ID = binary.BigEndian.Uint64(p[0:])
	h.Type = MsgType(binary.BigEndian.Uint32(p[8:]))
	h.Length = binary.BigEndian.Uint32(p[12:])
	return nil
}

// Message is one framed message
type Message struct {
	ID      uint64
	Type    MsgType
	Payload []byte
}

// Done returns the completion acknowledgment of a run
func Done() Message {
	return Message{ID: doneID, Type: MsgDone, Payload: []byte(donePayload)}
}

// IsDone returns true if m is the completion acknowledgment of a run
func (m Message) IsDone() bool {
	return m.ID == doneID && m.Type == MsgDone && string(m.Payload) == donePayload
}

func (m Message) String() string {
	return fmt.Sprintf("%v id=%d len=%d", m.Type, m.ID, len(m.Payload))
}

// WriteMessage frames m and writes it to w in ChunkSize pieces
func WriteMessage(w io.Writer, m Message) error {
	if uint64(len(m.Payload)) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(m.Payload))
	}
	buf := make([]byte, HeaderSize+len(m.Payload))
	Header{ID: m.ID, Type: m.Type, Length: uint32(len(m.Payload))}.put(buf)
	copy(buf[HeaderSize:], m.Payload)
	for start := 0; start < len(buf); {
		end := start + ChunkSize
		if end > len(buf) {
			end = len(buf)
		}
		n, err := w.Write(buf[start:end])
		start += n
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadMessage reads one framed message from r.  A clean end of stream before
// any header byte returns io.EOF.
func ReadMessage(r io.Reader) (Message, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, ErrShortHeader
		}
		return Message{}, err
	}
	var h Header
	h.UnmarshalBinary(hdr[:])
	m := Message{ID: h.ID, Type: h.Type, Payload: make([]byte, h.Length)}
	if _, err := io.ReadFull(r, m.Payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return m, fmt.Errorf("%w: wanted %d bytes", ErrShortPayload, h.Length)
		}
		return m, err
	}
	return m, nil
}
