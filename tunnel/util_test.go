package tunnel

import (
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"github.com/LukaGiorgadze/gonull"
	"github.com/edup2p/wgtun/types/key"
	"github.com/edup2p/wgtun/wgengine"
)

// Test constants
const assertEventuallyTick time.Duration = 5 * time.Millisecond
const assertEventuallyTimeout time.Duration = 400 * assertEventuallyTick

var (
	addrPortA = netip.MustParseAddrPort("127.0.0.1:51820")
	addrPortB = netip.MustParseAddrPort("127.0.0.1:51821")
)

// makeConfigs returns two configurations that point at each other.
func makeConfigs() (a, b PeerConfig) {
	privA := key.NewNode()
	privB := key.NewNode()

	a = PeerConfig{
		PrivateKey: privA,
		PeerPublic: privB.Public(),
		Endpoint:   addrPortB.String(),
		Address:    netip.MustParsePrefix("10.0.0.1/32"),
		Keepalive:  gonull.NewNullable[uint16](0),
	}
	b = PeerConfig{
		PrivateKey: privB,
		PeerPublic: privA.Public(),
		Endpoint:   addrPortA.String(),
		Address:    netip.MustParsePrefix("10.0.0.2/32"),
		Keepalive:  gonull.NewNullable[uint16](0),
	}

	return
}

func ipv4Packet(src, dst string, payload []byte) []byte {
	pkt := make([]byte, 20+len(payload))
	pkt[0] = 0x45
	binary.BigEndian.PutUint16(pkt[2:4], uint16(len(pkt)))
	pkt[8] = 64
	pkt[9] = 17
	s, d := netip.MustParseAddr(src).As4(), netip.MustParseAddr(dst).As4()
	copy(pkt[12:16], s[:])
	copy(pkt[16:20], d[:])
	copy(pkt[20:], payload)
	return pkt
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockUDPConn is a UDPConn with replaceable behaviour, unset functions act like an idle socket.
type MockUDPConn struct {
	read  func(b []byte) (int, error)
	write func(b []byte) (int, error)

	closed atomic.Bool
}

func (m *MockUDPConn) SetReadDeadline(time.Time) error {
	return nil
}

func (m *MockUDPConn) SetWriteDeadline(time.Time) error {
	return nil
}

func (m *MockUDPConn) Read(b []byte) (int, error) {
	if m.closed.Load() {
		return 0, net.ErrClosed
	}
	if m.read == nil {
		time.Sleep(time.Millisecond)
		return 0, os.ErrDeadlineExceeded
	}
	return m.read(b)
}

func (m *MockUDPConn) Write(b []byte) (int, error) {
	if m.closed.Load() {
		return 0, net.ErrClosed
	}
	if m.write == nil {
		return len(b), nil
	}
	return m.write(b)
}

func (m *MockUDPConn) LocalAddr() net.Addr {
	return net.UDPAddrFromAddrPort(addrPortA)
}

func (m *MockUDPConn) RemoteAddr() net.Addr {
	return net.UDPAddrFromAddrPort(addrPortB)
}

func (m *MockUDPConn) Close() error {
	m.closed.Store(true)
	return nil
}

// fakeEngine is an Engine with replaceable behaviour, which records how many calls were in flight at once.
type fakeEngine struct {
	formatHandshake func(dst []byte, force bool) wgengine.Outcome
	encapsulate     func(src, dst []byte) wgengine.Outcome
	decapsulate     func(src netip.Addr, datagram, dst []byte) wgengine.Outcome
	tick            func(dst []byte) wgengine.Outcome

	calls       atomic.Int64
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeEngine) enter() func() {
	f.calls.Add(1)
	n := f.inFlight.Add(1)

	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	return func() {
		f.inFlight.Add(-1)
	}
}

func (f *fakeEngine) FormatHandshakeInitiation(dst []byte, force bool) wgengine.Outcome {
	defer f.enter()()
	if f.formatHandshake == nil {
		return wgengine.Idle()
	}
	return f.formatHandshake(dst, force)
}

func (f *fakeEngine) Encapsulate(src, dst []byte) wgengine.Outcome {
	defer f.enter()()
	if f.encapsulate == nil {
		return wgengine.Idle()
	}
	return f.encapsulate(src, dst)
}

func (f *fakeEngine) Decapsulate(src netip.Addr, datagram, dst []byte) wgengine.Outcome {
	defer f.enter()()
	if f.decapsulate == nil {
		return wgengine.Idle()
	}
	return f.decapsulate(src, datagram, dst)
}

func (f *fakeEngine) Tick(dst []byte) wgengine.Outcome {
	defer f.enter()()
	if f.tick == nil {
		return wgengine.Idle()
	}
	return f.tick(dst)
}

func (f *fakeEngine) Stats() wgengine.Stats {
	defer f.enter()()
	return wgengine.Stats{}
}

// fakeInitiation writes something shaped like a handshake initiation.
func fakeInitiation(dst []byte) wgengine.Outcome {
	clear(dst[:148])
	dst[0] = 1
	return wgengine.EmitToNetwork(dst[:148])
}
