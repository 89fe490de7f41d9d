package types

import (
	"net"
	"net/netip"
	"os"
	"slices"
	"sync"
	"time"
)

// ChannelConn is a UDPConn based on two internal channels, one half of a connected pair.
//
// It supports read and write deadlines, as normal. Writes never block beyond the write deadline,
// and datagrams are copied on write.
type ChannelConn struct {
	local, remote netip.AddrPort

	// Packets to be read by this end
	incoming chan []byte

	// Packets written by this end, the peer's incoming
	outgoing chan []byte

	mu            sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time

	closeOnce sync.Once
	closed    chan struct{}
	peer      *ChannelConn
}

const ChannelConnBufferSize = 16

// MakeChannelConnPair returns two ends of an in-memory datagram link, a's writes are b's reads and vice versa.
func MakeChannelConnPair(aAddr, bAddr netip.AddrPort) (a, b *ChannelConn) {
	aToB := make(chan []byte, ChannelConnBufferSize)
	bToA := make(chan []byte, ChannelConnBufferSize)

	a = &ChannelConn{
		local:    aAddr,
		remote:   bAddr,
		incoming: bToA,
		outgoing: aToB,
		closed:   make(chan struct{}),
	}
	b = &ChannelConn{
		local:    bAddr,
		remote:   aAddr,
		incoming: aToB,
		outgoing: bToA,
		closed:   make(chan struct{}),
	}

	a.peer, b.peer = b, a

	return a, b
}

func (cc *ChannelConn) SetReadDeadline(t time.Time) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	cc.readDeadline = t

	return nil
}

func (cc *ChannelConn) SetWriteDeadline(t time.Time) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	cc.writeDeadline = t

	return nil
}

func (cc *ChannelConn) deadlines() (read, write time.Time) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	return cc.readDeadline, cc.writeDeadline
}

// until returns a channel firing at the deadline, nil (never firing) if there's none.
func until(deadline time.Time) (<-chan time.Time, func()) {
	if deadline.IsZero() {
		return nil, func() {}
	}

	t := time.NewTimer(time.Until(deadline))
	return t.C, func() { t.Stop() }
}

func (cc *ChannelConn) Read(b []byte) (int, error) {
	rd, _ := cc.deadlines()

	if cc.isClosed() {
		return 0, net.ErrClosed
	}

	timeout, stop := until(rd)
	defer stop()

	select {
	case <-cc.closed:
		return 0, net.ErrClosed
	case val := <-cc.incoming:
		return copy(b, val), nil
	case <-timeout:
		return 0, os.ErrDeadlineExceeded
	}
}

func (cc *ChannelConn) Write(b []byte) (int, error) {
	_, wd := cc.deadlines()

	if cc.isClosed() {
		return 0, net.ErrClosed
	}

	timeout, stop := until(wd)
	defer stop()

	select {
	case <-cc.closed:
		return 0, net.ErrClosed
	case <-cc.peer.closed:
		// Peer is gone, datagrams are silently lost.
		return len(b), nil
	case cc.outgoing <- slices.Clone(b):
		return len(b), nil
	case <-timeout:
		return 0, os.ErrDeadlineExceeded
	}
}

func (cc *ChannelConn) isClosed() bool {
	select {
	case <-cc.closed:
		return true
	default:
		return false
	}
}

func (cc *ChannelConn) LocalAddr() net.Addr {
	return net.UDPAddrFromAddrPort(cc.local)
}

func (cc *ChannelConn) RemoteAddr() net.Addr {
	return net.UDPAddrFromAddrPort(cc.remote)
}

func (cc *ChannelConn) Close() error {
	cc.closeOnce.Do(func() {
		close(cc.closed)
	})

	return nil
}
