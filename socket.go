package strata

//
// Link socket: the datagram transport capability a [TransportLink] is
// bound to. Mirrors the stdlib-backed adapter pattern used for the
// underlying network in this codebase's sibling projects, narrowed to
// the single read/write/close surface a link actually needs.
//

import (
	"net"
	"strings"
	"time"
)

// LinkSocket is the datagram capability a [TransportLink] drives. The
// production implementation is [UDPSocket]; tests substitute an
// in-memory fake.
type LinkSocket interface {
	// SendTo writes one datagram. It must not block past a short
	// internal deadline; a full kernel send buffer is reported as an
	// error rather than blocking the caller indefinitely.
	SendTo(b []byte) (int, error)

	// RecvFrom blocks until a datagram arrives or deadline elapses,
	// returning the payload. ok is false on timeout.
	RecvFrom(deadline time.Time) (b []byte, ok bool, err error)

	// LocalAddr returns the bound local address, for diagnostics.
	LocalAddr() string

	Close() error
}

// UDPSocket is the stdlib net.UDPConn-backed [LinkSocket].
type UDPSocket struct {
	conn    *net.UDPConn
	readBuf []byte
}

var _ LinkSocket = &UDPSocket{}

// parseLinkURI normalizes a spec §6.1 link URI to a bare host:port.
// It accepts a plain "host:port", the legacy "rist://host:port" sender
// form, and the "rist://@host:port" listener form, stripping any
// trailing "?query" in all three cases. Grounded on the original
// implementation's own `parse_uri` (strata-bonding/src/runtime.rs).
func parseLinkURI(uri string) (string, error) {
	hostPort := uri
	switch {
	case strings.HasPrefix(hostPort, "rist://@"):
		hostPort = hostPort[len("rist://@"):]
	case strings.HasPrefix(hostPort, "rist://"):
		hostPort = hostPort[len("rist://"):]
	}
	if i := strings.IndexByte(hostPort, '?'); i >= 0 {
		hostPort = hostPort[:i]
	}
	if _, _, err := net.SplitHostPort(hostPort); err != nil {
		return "", ErrNotIPAddress
	}
	return hostPort, nil
}

// DialUDPSocket dials a UDP socket connected to the link identified by
// uri (a bare "host:port" or a "rist://[@]host:port[?...]" per spec
// §6.1), optionally bound to a specific local interface address (empty
// laddr lets the kernel pick).
func DialUDPSocket(laddr, uri string) (*UDPSocket, error) {
	hostPort, err := parseLinkURI(uri)
	if err != nil {
		return nil, err
	}
	raddr, err := net.ResolveUDPAddr("udp", hostPort)
	if err != nil {
		return nil, err
	}
	var local *net.UDPAddr
	if laddr != "" {
		local, err = net.ResolveUDPAddr("udp", laddr)
		if err != nil {
			return nil, err
		}
	}
	conn, err := net.DialUDP("udp", local, raddr)
	if err != nil {
		return nil, err
	}
	return &UDPSocket{conn: conn, readBuf: make([]byte, 64*1024)}, nil
}

// SendTo implements [LinkSocket]. Each write gets a short deadline, so
// a send that cannot complete in time returns a timeout error.
func (s *UDPSocket) SendTo(b []byte) (int, error) {
	const sendDeadline = 50 * time.Millisecond
	if err := s.conn.SetWriteDeadline(time.Now().Add(sendDeadline)); err != nil {
		return 0, err
	}
	return s.conn.Write(b)
}

// RecvFrom implements [LinkSocket].
func (s *UDPSocket) RecvFrom(deadline time.Time) ([]byte, bool, error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, false, err
	}
	n, err := s.conn.Read(s.readBuf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, false, nil
		}
		return nil, false, err
	}
	out := make([]byte, n)
	copy(out, s.readBuf[:n])
	return out, true, nil
}

// LocalAddr implements [LinkSocket].
func (s *UDPSocket) LocalAddr() string {
	return s.conn.LocalAddr().String()
}

// Close implements [LinkSocket].
func (s *UDPSocket) Close() error {
	return s.conn.Close()
}
