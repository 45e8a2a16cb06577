// Package stream provides length-prefixed message framing over a net.Conn,
// the transport the Client/Enclave/SP orchestrators use to exchange the
// five RA messages. The protocol itself is transport-agnostic (§5); this is
// the one concrete framing this codebase ships, modeled on the teacher's
// connection-handling idiom of a read-deadline-guarded net.Conn wrapper.
package stream

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// DefaultReadTimeout bounds how long a single Read waits before the
// connection is considered stalled (§5 transport guidance).
const DefaultReadTimeout = 30 * time.Second

// MaxFrameSize caps an incoming frame to defend against a peer claiming an
// unbounded length prefix.
const MaxFrameSize = 16 * 1024 * 1024

// Stream is a length-prefixed message channel over a net.Conn.
type Stream struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
}

// New wraps conn in a Stream using the given per-read timeout. A
// non-positive timeout disables deadlines.
func New(conn net.Conn, timeout time.Duration) *Stream {
	return &Stream{conn: conn, r: bufio.NewReader(conn), timeout: timeout}
}

// NewDefault wraps conn using DefaultReadTimeout.
func NewDefault(conn net.Conn) *Stream {
	return New(conn, DefaultReadTimeout)
}

// Send writes msg as a 4-byte big-endian length prefix followed by msg.
func (s *Stream) Send(msg []byte) error {
	if s.timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			return fmt.Errorf("stream: set write deadline: %w", err)
		}
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(msg)))
	if _, err := s.conn.Write(hdr[:]); err != nil {
		return fmt.Errorf("stream: write length prefix: %w", err)
	}
	if _, err := s.conn.Write(msg); err != nil {
		return fmt.Errorf("stream: write payload: %w", err)
	}
	return nil
}

// Receive reads one length-prefixed message, enforcing the read deadline
// and MaxFrameSize.
func (s *Stream) Receive() ([]byte, error) {
	if s.timeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
			return nil, fmt.Errorf("stream: set read deadline: %w", err)
		}
	}
	var hdr [4]byte
	if _, err := io.ReadFull(s.r, hdr[:]); err != nil {
		return nil, fmt.Errorf("stream: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("stream: frame size %d exceeds max %d", n, MaxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, fmt.Errorf("stream: read payload: %w", err)
	}
	return buf, nil
}

// Close closes the underlying connection.
func (s *Stream) Close() error {
	return s.conn.Close()
}

// Dial connects to a TCP address and wraps it in a Stream.
func Dial(network, addr string, timeout time.Duration) (*Stream, error) {
	conn, err := net.DialTimeout(network, addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("stream: dial %s %s: %w", network, addr, err)
	}
	return New(conn, timeout), nil
}

// Listener accepts connections and wraps each in a Stream.
type Listener struct {
	ln      net.Listener
	timeout time.Duration
}

// Listen starts listening on network/addr (e.g. "tcp", ":7777", or "unix",
// "/run/sgxra.sock").
func Listen(network, addr string, timeout time.Duration) (*Listener, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, fmt.Errorf("stream: listen %s %s: %w", network, addr, err)
	}
	return &Listener{ln: ln, timeout: timeout}, nil
}

// Accept blocks for the next incoming connection and wraps it in a Stream.
func (l *Listener) Accept() (*Stream, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("stream: accept: %w", err)
	}
	return New(conn, l.timeout), nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}
