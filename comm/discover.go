package comm

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/net/ipv4"
)

const (
	// DiscoveryPort is the UDP port the executor listens on for announcements
	DiscoveryPort = 50101

	// DefaultMulticastGroup is the group announcements are sent to when the
	// executor is on another machine
	DefaultMulticastGroup = "239.255.45.57"

	// MulticastTTL keeps announcements on the local subnet
	MulticastTTL = 1
)

// LocalAnnounceAddr is where announcements go when the executor runs on
// this machine
var LocalAnnounceAddr = net.JoinHostPort("127.0.0.1", strconv.Itoa(DiscoveryPort))

// Announcer tells the executor which TCP port to connect back to
type Announcer interface {
	Announce(port int) error
	Close() error
}

// PortDatagram encodes port as the >H discovery datagram
func PortDatagram(port int) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(port))
	return buf
}

// ParsePortDatagram decodes a discovery datagram
func ParsePortDatagram(p []byte) (int, error) {
	if len(p) != 2 {
		return 0, fmt.Errorf("discovery datagram must be 2 bytes, got %d", len(p))
	}
	return int(binary.BigEndian.Uint16(p)), nil
}

// UDPAnnouncer sends the discovery datagram to a fixed UDP address
type UDPAnnouncer struct {
	conn *net.UDPConn
	dst  *net.UDPAddr
}

func newUDPAnnouncer(addr string) (*UDPAnnouncer, error) {
	dst, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, err
	}
	return &UDPAnnouncer{conn: conn, dst: dst}, nil
}

// NewLocalAnnouncer announces to addr, normally LocalAnnounceAddr
func NewLocalAnnouncer(addr string) (*UDPAnnouncer, error) {
	return newUDPAnnouncer(addr)
}

// NewMulticastAnnouncer announces to group on DiscoveryPort with a TTL of
// MulticastTTL
func NewMulticastAnnouncer(group string) (*UDPAnnouncer, error) {
	a, err := newUDPAnnouncer(net.JoinHostPort(group, strconv.Itoa(DiscoveryPort)))
	if err != nil {
		return nil, err
	}
	if !a.dst.IP.IsMulticast() {
		a.Close()
		return nil, fmt.Errorf("%s is not a multicast address", group)
	}
	if err := ipv4.NewPacketConn(a.conn).SetMulticastTTL(MulticastTTL); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Announce sends port
func (a *UDPAnnouncer) Announce(port int) error {
	_, err := a.conn.WriteToUDP(PortDatagram(port), a.dst)
	return err
}

// Close the socket
func (a *UDPAnnouncer) Close() error {
	return a.conn.Close()
}

// Listen opens the TCP listener the executor connects back to.  An empty
// addr listens on an ephemeral port on all interfaces.
func Listen(addr string) (*net.TCPListener, error) {
	if addr == "" {
		addr = ":0"
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}
	return net.ListenTCP("tcp", tcpAddr)
}

// acceptWindow is the longest a single accept waits before re-announcing
const acceptWindow = time.Second

// Discover announces the port of ln and waits for the executor to connect.
// The announcement is repeated with exponential backoff until a peer
// connects or timeout elapses, in which case the error wraps
// ErrDiscoveryTimeout.  timeout must be positive.
func Discover(ln *net.TCPListener, a Announcer, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w, got %v", ErrBadTimeout, timeout)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	window := acceptWindow
	if timeout/4 < window {
		window = timeout / 4
	}
	var (
		conn     net.Conn
		fatalErr error
		deadline = time.Now().Add(timeout)
	)
	op := func() error {
		if err := a.Announce(port); err != nil {
			fatalErr = fmt.Errorf("announcing port %d: %w", port, err)
			return nil
		}
		until := time.Now().Add(window)
		if until.After(deadline) {
			until = deadline
		}
		ln.SetDeadline(until)
		c, err := ln.Accept()
		if err != nil {
			if IsTimeout(err) {
				return err // retry
			}
			fatalErr = err
			return nil
		}
		conn = c
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      timeout,
		Clock:               backoff.SystemClock})
	ln.SetDeadline(time.Time{})
	if fatalErr != nil {
		return nil, fatalErr
	}
	if err != nil || conn == nil {
		return nil, fmt.Errorf("%w: waited %v on port %d", ErrDiscoveryTimeout, timeout, port)
	}
	return conn, nil
}
