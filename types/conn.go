package types

import (
	"net"
	"time"
)

// UDPConn is a connected datagram socket, the subset of *net.UDPConn the tunnel uses.
type UDPConn interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error

	Read(b []byte) (int, error)
	Write(b []byte) (int, error)

	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	Close() error
}

var _ UDPConn = (*net.UDPConn)(nil)
