package wgengine

import (
	"encoding/binary"
	"net/netip"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/edup2p/wgtun/types/key"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrA = netip.MustParseAddr("192.0.2.1")
	addrB = netip.MustParseAddr("192.0.2.2")

	innerA = netip.MustParseAddr("10.0.0.1")
	innerB = netip.MustParseAddr("10.0.0.2")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type pair struct {
	a, b  *Tunn
	clock *fakeClock

	bufA, bufB []byte
}

func makePair(t *testing.T, modA, modB func(*Config)) *pair {
	t.Helper()

	privA := key.NewNode()
	privB := key.NewNode()
	clock := newFakeClock()

	cfgA := Config{PrivateKey: privA, PeerPublic: privB.Public(), Index: 1, Now: clock.Now}
	cfgB := Config{PrivateKey: privB, PeerPublic: privA.Public(), Index: 2, Now: clock.Now}

	if modA != nil {
		modA(&cfgA)
	}
	if modB != nil {
		modB(&cfgB)
	}

	a, err := New(cfgA)
	require.NoError(t, err)
	b, err := New(cfgB)
	require.NoError(t, err)

	return &pair{
		a:     a,
		b:     b,
		clock: clock,
		bufA:  make([]byte, MaxPacketSize),
		bufB:  make([]byte, MaxPacketSize),
	}
}

// handshake runs a full handshake with a as initiator, including the confirming keepalive.
func (p *pair) handshake(t *testing.T) {
	t.Helper()

	out := p.a.FormatHandshakeInitiation(p.bufA, false)
	require.Equal(t, KindEmitToNetwork, out.Kind, out.String())
	p.finishHandshake(t, slices.Clone(out.Packet))
}

func (p *pair) finishHandshake(t *testing.T, initiation []byte) {
	t.Helper()

	out := p.b.Decapsulate(addrA, initiation, p.bufB)
	require.Equal(t, KindEmitToNetwork, out.Kind, out.String())
	resp := slices.Clone(out.Packet)

	out = p.a.Decapsulate(addrB, resp, p.bufA)
	require.Equal(t, KindEmitToNetwork, out.Kind, out.String())
	keepalive := slices.Clone(out.Packet)

	out = p.b.Decapsulate(addrA, keepalive, p.bufB)
	require.Equal(t, KindIdle, out.Kind, out.String())
}

// ipv4Packet builds a minimal UDP-carrying IPv4 packet.
func ipv4Packet(src, dst netip.Addr, payload []byte) []byte {
	pkt := make([]byte, 20+len(payload))
	pkt[0] = 0x45
	binary.BigEndian.PutUint16(pkt[2:4], uint16(len(pkt)))
	pkt[8] = 64
	pkt[9] = 17
	s, d := src.As4(), dst.As4()
	copy(pkt[12:16], s[:])
	copy(pkt[16:20], d[:])
	copy(pkt[20:], payload)
	return pkt
}

func ipv6Packet(src, dst netip.Addr, payload []byte) []byte {
	pkt := make([]byte, 40+len(payload))
	pkt[0] = 0x60
	binary.BigEndian.PutUint16(pkt[4:6], uint16(len(payload)))
	pkt[6] = 17
	pkt[7] = 64
	s, d := src.As16(), dst.As16()
	copy(pkt[8:24], s[:])
	copy(pkt[24:40], d[:])
	copy(pkt[40:], payload)
	return pkt
}

func assertKind(t *testing.T, want Kind, out Outcome) bool {
	t.Helper()
	return assert.Equal(t, want, out.Kind, "unexpected outcome %s", out)
}
