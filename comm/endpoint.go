package comm

import (
	"net"
	"sync"
	"time"
)

// DefaultTimeout is the receive timeout of a new Endpoint
const DefaultTimeout = 30 * time.Second

// Endpoint sends and receives framed messages over a connection.  A Recv
// that does not complete within the endpoint's timeout returns a net.Error
// whose Timeout method is true.  Sends are serialized; there must be a single
// reader.  Close may be called while a Recv is blocked and unblocks it.
type Endpoint struct {
	mu      sync.Mutex // guards conn and timeout
	wmu     sync.Mutex // serializes writes
	conn    net.Conn
	timeout time.Duration
}

// NewEndpoint wraps conn with the default timeout
func NewEndpoint(conn net.Conn) *Endpoint {
	return &Endpoint{conn: conn, timeout: DefaultTimeout}
}

// SetTimeout changes the receive and send timeout.  Zero disables it.
func (e *Endpoint) SetTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeout = d
}

// Timeout returns the current timeout
func (e *Endpoint) Timeout() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeout
}

// snapshot returns the connection and the deadline for an operation
// starting now
func (e *Endpoint) snapshot() (net.Conn, time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil || e.timeout <= 0 {
		return e.conn, time.Time{}
	}
	return e.conn, time.Now().Add(e.timeout)
}

// Send writes one message
func (e *Endpoint) Send(id uint64, typ MsgType, payload []byte) error {
	conn, deadline := e.snapshot()
	if conn == nil {
		return ErrNotConnected
	}
	e.wmu.Lock()
	defer e.wmu.Unlock()
	conn.SetWriteDeadline(deadline)
	return WriteMessage(conn, Message{ID: id, Type: typ, Payload: payload})
}

// Recv blocks for one message or the timeout
func (e *Endpoint) Recv() (Message, error) {
	conn, deadline := e.snapshot()
	if conn == nil {
		return Message{}, ErrNotConnected
	}
	conn.SetReadDeadline(deadline)
	return ReadMessage(conn)
}

// RemoteAddr is the address of the peer
func (e *Endpoint) RemoteAddr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	return e.conn.RemoteAddr()
}

// Close the connection.  Later calls to Send and Recv return ErrNotConnected.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}
