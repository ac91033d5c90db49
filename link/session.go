/*Package link is the session with the real-time executor.

A Session is connected once, then alternates between an idle state, where
writes take effect immediately, and building a sequence, where writes are
encoded into a local buffer.  RunSequence ships the buffer as one message,
learns from the executor how long the run will take, and blocks until it
reports completion or that time plus a margin has passed.

Session satisfies output.Sink.  It is not safe for concurrent use.
*/
package link

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/ultracold-lab/sequencer/comm"
	"github.com/ultracold-lab/sequencer/eventbuf"
	"github.com/ultracold-lab/sequencer/util"
)

// State is the lifecycle of a Session
type State int

const (
	// Disconnected has no executor
	Disconnected State = iota

	// Connected is idle; writes go out immediately
	Connected

	// Building buffers writes for the next run
	Building

	// Running is waiting on the executor
	Running
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Building:
		return "building"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// cycles is the repeat count sent with every run; the executor only
// supports 1
const cycles = 1

var (
	// ErrNotConnected is generated when a message must be sent and there is
	// no executor
	ErrNotConnected = errors.New("not connected to the executor")

	// ErrUnexpectedAck is generated when the executor answers a run with
	// something other than a runtime or the done message
	ErrUnexpectedAck = errors.New("unexpected acknowledgment from the executor")

	// ErrLengthMismatch is generated when list-mode times and values differ
	// in length
	ErrLengthMismatch = errors.New("times and values differ in length")
)

// RunInfo describes one transmitted run
type RunInfo struct {
	ID uuid.UUID

	// Records is the number of records sent, zero with remote buffering
	Records int

	// Runtime is the duration the executor reported, in seconds
	Runtime float64

	// Ack is the completion message; zero for a chained run still in flight
	Ack comm.Message
}

// Session is the connection to the executor plus the local sequence buffer
type Session struct {
	cfg   Config
	ep    *comm.Endpoint
	buf   *eventbuf.Buffer
	state State
	msgID uint64

	last *LastRun

	chainPending bool
	chainRuntime float64
}

// New returns a disconnected session
func New(cfg Config) *Session {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = eventbuf.DefaultCapacity
	}
	return &Session{cfg: cfg, buf: eventbuf.New(capacity)}
}

// State returns the lifecycle state
func (s *Session) State() State {
	return s.state
}

// Connected is true when there is an executor
func (s *Session) Connected() bool {
	return s.ep != nil
}

// Pending is the number of records buffered for the next run
func (s *Session) Pending() int {
	return s.buf.Len()
}

// ChainPending is true while a chained run has not been acknowledged
func (s *Session) ChainPending() bool {
	return s.chainPending
}

// Config returns the session configuration
func (s *Session) Config() Config {
	return s.cfg
}

func (s *Session) announcer() (comm.Announcer, error) {
	if s.cfg.Local {
		addr := s.cfg.AnnounceAddr
		if addr == "" {
			addr = comm.LocalAnnounceAddr
		}
		return comm.NewLocalAnnouncer(addr)
	}
	group := s.cfg.MulticastGroup
	if group == "" {
		group = comm.DefaultMulticastGroup
	}
	return comm.NewMulticastAnnouncer(group)
}

// Connect announces our port and waits for the executor to connect.  On
// failure the session stays Disconnected and Connect may be retried.
func (s *Session) Connect() error {
	if s.ep != nil {
		return nil
	}
	ln, err := comm.Listen(s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	defer ln.Close()
	ann, err := s.announcer()
	if err != nil {
		return err
	}
	defer ann.Close()
	conn, err := comm.Discover(ln, ann, util.SecsToDuration(s.cfg.DiscoveryTimeout))
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	log.Println("executor connected from", conn.RemoteAddr())
	s.Attach(conn)
	return nil
}

// Attach uses an already established connection to the executor
func (s *Session) Attach(conn net.Conn) {
	s.ep = comm.NewEndpoint(conn)
	if s.cfg.RecvTimeout > 0 {
		s.ep.SetTimeout(util.SecsToDuration(s.cfg.RecvTimeout))
	}
	if s.state != Building {
		s.state = Connected
	}
}

// Disconnect closes the connection.  The local buffer is kept.
func (s *Session) Disconnect() error {
	s.state = Disconnected
	s.chainPending = false
	if s.ep == nil {
		return nil
	}
	err := s.ep.Close()
	s.ep = nil
	return err
}

func (s *Session) send(typ comm.MsgType, payload []byte) error {
	if s.ep == nil {
		return ErrNotConnected
	}
	return s.ep.Send(0, typ, payload)
}

func cyclesPayload() []byte {
	p := make([]byte, 4)
	binary.BigEndian.PutUint32(p, uint32(int32(cycles)))
	return p
}

// BuildSequence starts buffering writes for the next run
func (s *Session) BuildSequence() error {
	if s.cfg.RemoteBuffering {
		if err := s.send(comm.MsgBuild, nil); err != nil {
			return err
		}
	}
	s.state = Building
	return nil
}

// ClearSequence discards the buffered writes and leaves building mode
func (s *Session) ClearSequence() error {
	if s.cfg.RemoteBuffering {
		if err := s.send(comm.MsgClear, nil); err != nil {
			return err
		}
	} else {
		s.buf.Clear()
	}
	s.state = s.idle()
	return nil
}

func (s *Session) idle() State {
	if s.ep == nil {
		return Disconnected
	}
	return Connected
}

func (s *Session) buffering() bool {
	return s.state == Building && !s.cfg.RemoteBuffering
}

// SetDigitalState buffers or sends a digital write.  connector is the header
// number 0-3.
func (s *Session) SetDigitalState(t float64, connector, mask, enable, state uint32) error {
	if s.buffering() {
		return s.buf.Append(eventbuf.DigitalRecord(t, connector, mask, enable, state))
	}
	d := eventbuf.Digital{T: t, Connector: connector, ChannelMask: mask, OutputEnable: enable, State: state}
	b, _ := d.MarshalBinary()
	return s.send(comm.MsgDigital, b)
}

// SetAnalogState buffers or sends an analog write of value volts
func (s *Session) SetAnalogState(t float64, board, channel int, value float64) error {
	if s.buffering() {
		rec, err := eventbuf.NewAnalog(t, board, channel, value)
		if err != nil {
			return err
		}
		b, _ := rec.MarshalBinary()
		return s.buf.Append(b)
	}
	if board < 0 || board > math.MaxUint8 || channel < 0 || channel > math.MaxUint8 {
		return fmt.Errorf("%w, got board %d channel %d", eventbuf.ErrBoard, board, channel)
	}
	p := make([]byte, 18)
	binary.BigEndian.PutUint64(p[0:], math.Float64bits(t))
	p[8] = byte(board)
	p[9] = byte(channel)
	binary.BigEndian.PutUint64(p[10:], math.Float64bits(value))
	return s.send(comm.MsgAnalog, p)
}

// SetAnalogStates buffers one analog write per (time, value) pair in a
// single append.  It is only available while building a local sequence.
func (s *Session) SetAnalogStates(times []float64, board, channel int, values []float64) error {
	if len(times) != len(values) {
		return fmt.Errorf("%w: %d times and %d values", ErrLengthMismatch, len(times), len(values))
	}
	if !s.buffering() {
		return fmt.Errorf("analog list mode needs a local sequence being built, state is %v", s.state)
	}
	b, err := eventbuf.AnalogRecords(times, board, channel, values)
	if err != nil {
		return err
	}
	return s.buf.Append(b)
}

// transmit collects any chained acknowledgment still in flight, sends the
// buffered sequence (or the run command with remote buffering), reads the
// runtime and remembers the payload for reruns
func (s *Session) transmit() (RunInfo, error) {
	if s.ep == nil {
		return RunInfo{}, ErrNotConnected
	}
	if _, err := s.FinishChain(); err != nil {
		return RunInfo{}, err
	}
	info := RunInfo{ID: uuid.New()}
	var payload []byte
	if s.cfg.RemoteBuffering {
		if err := s.send(comm.MsgRun, cyclesPayload()); err != nil {
			return info, err
		}
	} else {
		info.Records = s.buf.Len()
		payload = append(cyclesPayload(), s.buf.Bytes()...)
		if err := s.send(comm.MsgRunPayload, payload); err != nil {
			return info, err
		}
		s.buf.Clear()
	}
	s.state = Running
	runtime, err := s.recvRuntime()
	if err != nil {
		s.state = s.idle()
		return info, err
	}
	info.Runtime = runtime
	log.Printf("run %s: sent %d records, executor reports %.6f s\n", info.ID, info.Records, runtime)
	if payload != nil {
		s.remember(LastRun{ID: info.ID, Payload: payload})
	}
	return info, nil
}

func (s *Session) recvRuntime() (float64, error) {
	m, err := s.ep.Recv()
	if err != nil {
		return 0, fmt.Errorf("waiting for the runtime: %w", err)
	}
	if len(m.Payload) != 8 {
		return 0, fmt.Errorf("%w: expected an 8 byte runtime, got %v", ErrUnexpectedAck, m)
	}
	return math.Float64frombits(binary.BigEndian.Uint64(m.Payload)), nil
}

func (s *Session) remember(run LastRun) {
	s.last = &run
	if s.cfg.LastRunPath == "" {
		return
	}
	if err := WriteLastRun(s.cfg.LastRunPath, run); err != nil {
		log.Println("could not save the last run:", err)
	}
}

// awaitDone waits up to runtime plus the margin for the done message, then
// restores the idle timeout
func (s *Session) awaitDone(runtime float64) (comm.Message, error) {
	s.ep.SetTimeout(util.SecsToDuration(runtime + s.cfg.AckMargin))
	m, err := s.ep.Recv()
	s.ep.SetTimeout(util.SecsToDuration(s.cfg.IdleTimeout))
	s.state = s.idle()
	if err != nil {
		return m, fmt.Errorf("waiting for the end of the run: %w", err)
	}
	if !m.IsDone() {
		return m, fmt.Errorf("%w: %v %q", ErrUnexpectedAck, m, m.Payload)
	}
	return m, nil
}

// RunSequence sends the sequence and blocks until the executor has run it
func (s *Session) RunSequence() (RunInfo, error) {
	info, err := s.transmit()
	if err != nil {
		return info, err
	}
	info.Ack, err = s.awaitDone(info.Runtime)
	return info, err
}

// RunSequenceChain sends the sequence without waiting for it to finish.
// The acknowledgment of the previous chained run is collected first, so
// the executor is never more than one run ahead.
func (s *Session) RunSequenceChain() (RunInfo, error) {
	info, err := s.transmit()
	if err != nil {
		return info, err
	}
	s.chainPending = true
	s.chainRuntime = info.Runtime
	s.state = s.idle()
	return info, nil
}

// FinishChain waits for the run sent by the last RunSequenceChain.  It
// returns immediately if none is in flight.
func (s *Session) FinishChain() (comm.Message, error) {
	if !s.chainPending {
		return comm.Message{}, nil
	}
	if s.ep == nil {
		return comm.Message{}, ErrNotConnected
	}
	s.chainPending = false
	return s.awaitDone(s.chainRuntime)
}

// LastRun returns the last run sent by this session, or the one stored at
// LastRunPath if this session has not sent any
func (s *Session) LastRun() (LastRun, error) {
	if s.last != nil {
		return *s.last, nil
	}
	if s.cfg.LastRunPath == "" {
		return LastRun{}, ErrNoLastRun
	}
	return ReadLastRun(s.cfg.LastRunPath)
}

// RerunLastSequence sends the last run again without recompiling it
func (s *Session) RerunLastSequence() (RunInfo, error) {
	if s.ep == nil {
		return RunInfo{}, ErrNotConnected
	}
	run, err := s.LastRun()
	if err != nil {
		return RunInfo{}, err
	}
	_, records, err := SplitRunPayload(run.Payload)
	if err != nil {
		return RunInfo{}, err
	}
	if _, err := s.FinishChain(); err != nil {
		return RunInfo{}, err
	}
	info := RunInfo{ID: run.ID, Records: len(records) / eventbuf.RecordSize}
	if err := s.send(comm.MsgRunPayload, run.Payload); err != nil {
		return info, err
	}
	s.state = Running
	info.Runtime, err = s.recvRuntime()
	if err != nil {
		s.state = s.idle()
		return info, err
	}
	log.Printf("rerun %s: executor reports %.6f s\n", info.ID, info.Runtime)
	info.Ack, err = s.awaitDone(info.Runtime)
	return info, err
}

// StopSequence asks the executor to abort the current run.  It only reads
// the connection and may be called while another goroutine waits on a run.
func (s *Session) StopSequence() error {
	return s.send(comm.MsgStop, cyclesPayload())
}

// Echo sends payload to be echoed back, as a connectivity check
func (s *Session) Echo(payload []byte) (comm.Message, error) {
	if s.ep == nil {
		return comm.Message{}, ErrNotConnected
	}
	s.msgID++
	if err := s.ep.Send(s.msgID, comm.MsgEcho, payload); err != nil {
		return comm.Message{}, err
	}
	return s.ep.Recv()
}

// Timeout is the current receive timeout
func (s *Session) Timeout() time.Duration {
	if s.ep == nil {
		return 0
	}
	return s.ep.Timeout()
}
