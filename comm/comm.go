/*Package comm implements the framed TCP protocol spoken with the real-time
executor and the UDP discovery handshake that sets the connection up.

Every message is a 16 byte big-endian header followed by the payload:

	msg_id   uint64
	msg_type uint32
	length   uint32

Messages are written to the socket in 512 byte chunks.  The executor finds
us by listening for a UDP datagram holding the TCP port we listen on, then
connects back; Discover does the listen/announce/accept dance.

A minimal session looks like

	ln, err := comm.Listen(":0")
	if err != nil {
		return err
	}
	defer ln.Close()
	ann, err := comm.NewLocalAnnouncer(comm.LocalAnnounceAddr)
	if err != nil {
		return err
	}
	defer ann.Close()
	conn, err := comm.Discover(ln, ann, 10*time.Second)
	if err != nil {
		return err
	}
	ep := comm.NewEndpoint(conn)
	defer ep.Close()
	err = ep.Send(0, comm.MsgEcho, []byte("hello"))
*/
package comm

import (
	"errors"
	"net"
)

var (
	// ErrNotConnected is generated when Send or Recv is called on a closed endpoint
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrShortHeader is generated when the stream ends inside a message header
	ErrShortHeader = errors.New("stream ended inside a message header")

	// ErrShortPayload is generated when the stream ends before the payload
	// length given in the header has been read
	ErrShortPayload = errors.New("stream ended before the end of the payload")

	// ErrTooLarge is generated when a payload does not fit the 32-bit length field
	ErrTooLarge = errors.New("payload larger than 4 GiB")

	// ErrDiscoveryTimeout is generated when no executor connects back before
	// the discovery timeout
	ErrDiscoveryTimeout = errors.New("no executor connected before the discovery timeout")

	// ErrBadTimeout is generated when discovery is asked to wait for zero or
	// negative time
	ErrBadTimeout = errors.New("discovery timeout must be positive")
)

// IsTimeout returns true if err is a network timeout
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
