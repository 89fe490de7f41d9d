package wgengine

import (
	"crypto/rand"
	"net/netip"
	"slices"
	"testing"
	"time"

	"github.com/edup2p/wgtun/types/key"
	"github.com/edup2p/wgtun/types/msgwg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/ratelimiter"
)

func TestNewRejectsBadKeys(t *testing.T) {
	priv := key.NewNode()

	_, err := New(Config{PrivateKey: priv})
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = New(Config{PeerPublic: priv.Public()})
	assert.ErrorIs(t, err, ErrInvalidKey)

	// u=1 is a point of low order
	var lowOrder key.NodePublic
	lowOrder[0] = 1
	_, err = New(Config{PrivateKey: priv, PeerPublic: lowOrder})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestHandshakeAndTransport(t *testing.T) {
	p := makePair(t, nil, nil)

	out := p.a.FormatHandshakeInitiation(p.bufA, false)
	assertKind(t, KindEmitToNetwork, out)
	assert.Len(t, out.Packet, msgwg.InitiationLen)
	init := slices.Clone(out.Packet)

	// A handshake is already in flight
	assertKind(t, KindIdle, p.a.FormatHandshakeInitiation(p.bufA, false))

	out = p.b.Decapsulate(addrA, init, p.bufB)
	assertKind(t, KindEmitToNetwork, out)
	assert.Len(t, out.Packet, msgwg.ResponseLen)
	resp := slices.Clone(out.Packet)

	// Responder may not send before the initiator confirmed the session
	out = p.b.Encapsulate(ipv4Packet(innerB, innerA, []byte("early")), p.bufB)
	assertKind(t, KindIdle, out)

	out = p.a.Decapsulate(addrB, resp, p.bufA)
	assertKind(t, KindEmitToNetwork, out)
	assert.Len(t, out.Packet, msgwg.TransportMinLen, "expected a keepalive")
	keepalive := slices.Clone(out.Packet)

	assertKind(t, KindIdle, p.b.Decapsulate(addrA, keepalive, p.bufB))

	assert.True(t, p.a.Stats().Established)
	assert.True(t, p.b.Stats().Established)

	// The packet queued on the responder earlier goes out now
	out = p.b.Decapsulate(addrA, nil, p.bufB)
	assertKind(t, KindEmitToNetwork, out)
	out = p.a.Decapsulate(addrB, slices.Clone(out.Packet), p.bufA)
	assertKind(t, KindDeliverLocal, out)
	assert.Equal(t, ipv4Packet(innerB, innerA, []byte("early")), out.Packet)
	assertKind(t, KindIdle, p.b.Decapsulate(addrA, nil, p.bufB))

	pkt := ipv4Packet(innerA, innerB, []byte("hello"))
	out = p.a.Encapsulate(pkt, p.bufA)
	assertKind(t, KindEmitToNetwork, out)
	assert.Zero(t, (len(out.Packet)-msgwg.TransportMinLen)%16, "payload is padded")

	out = p.b.Decapsulate(addrA, slices.Clone(out.Packet), p.bufB)
	assertKind(t, KindDeliverLocal, out)
	assert.Equal(t, pkt, out.Packet, "padding is stripped")
	assert.Equal(t, 4, out.IPVersion)
	assert.Equal(t, innerA, out.Source)

	pkt6 := ipv6Packet(netip.MustParseAddr("fd00::1"), netip.MustParseAddr("fd00::2"), []byte("over six"))
	out = p.b.Encapsulate(pkt6, p.bufB)
	assertKind(t, KindEmitToNetwork, out)
	out = p.a.Decapsulate(addrB, slices.Clone(out.Packet), p.bufA)
	assertKind(t, KindDeliverLocal, out)
	assert.Equal(t, pkt6, out.Packet)
	assert.Equal(t, 6, out.IPVersion)
	assert.Equal(t, netip.MustParseAddr("fd00::1"), out.Source)

	statsA := p.a.Stats()
	assert.Equal(t, uint64(2), statsA.TxPackets, "keepalive and one data packet")
	assert.Equal(t, uint64(2), statsA.RxPackets)
	assert.False(t, statsA.LastHandshake.IsZero())
}

func TestQueueFlushAfterHandshake(t *testing.T) {
	p := makePair(t, nil, nil)

	first := ipv4Packet(innerA, innerB, []byte("one"))
	second := ipv4Packet(innerA, innerB, []byte("two"))

	out := p.a.Encapsulate(first, p.bufA)
	assertKind(t, KindEmitToNetwork, out)
	typ, err := msgwg.PeekType(out.Packet)
	require.NoError(t, err)
	assert.Equal(t, msgwg.InitiationMessage, typ)
	init := slices.Clone(out.Packet)

	assertKind(t, KindIdle, p.a.Encapsulate(second, p.bufA))

	p.finishHandshake(t, init)

	for _, want := range [][]byte{first, second} {
		out = p.a.Decapsulate(addrB, nil, p.bufA)
		require.Equal(t, KindEmitToNetwork, out.Kind, out.String())

		out = p.b.Decapsulate(addrA, slices.Clone(out.Packet), p.bufB)
		assertKind(t, KindDeliverLocal, out)
		assert.Equal(t, want, out.Packet)
	}

	assertKind(t, KindIdle, p.a.Decapsulate(addrB, nil, p.bufA))
}

func TestQueueIsBounded(t *testing.T) {
	p := makePair(t, nil, nil)

	for i := 0; i < MaxQueueDepth+10; i++ {
		p.a.Encapsulate(ipv4Packet(innerA, innerB, []byte{byte(i)}), p.bufA)
	}

	assert.Len(t, p.a.queue, MaxQueueDepth)
}

func TestDecapsulateGarbage(t *testing.T) {
	p := makePair(t, nil, nil)
	p.handshake(t)

	out := p.b.Decapsulate(addrA, []byte{1, 2, 3}, p.bufB)
	assertKind(t, KindFatal, out)
	assert.ErrorIs(t, out.Err, msgwg.ErrTooSmall)

	junk := make([]byte, 200)
	_, _ = rand.Read(junk)
	junk[0] = 9
	out = p.b.Decapsulate(addrA, junk, p.bufB)
	assertKind(t, KindFatal, out)

	// Transport message to an index nobody holds
	junk[0], junk[1], junk[2], junk[3] = 4, 0, 0, 0
	junk[4], junk[5], junk[6], junk[7] = 0xff, 0xff, 0xff, 0xff
	out = p.b.Decapsulate(addrA, junk, p.bufB)
	assertKind(t, KindFatal, out)
	assert.ErrorIs(t, out.Err, ErrWrongIndex)

	// Initiation without a valid mac1
	init := make([]byte, msgwg.InitiationLen)
	init[0] = 1
	out = p.b.Decapsulate(addrA, init, p.bufB)
	assertKind(t, KindFatal, out)
	assert.ErrorIs(t, out.Err, ErrInvalidMac)

	// The session survives all of this
	pkt := ipv4Packet(innerA, innerB, []byte("still here"))
	out = p.a.Encapsulate(pkt, p.bufA)
	assertKind(t, KindEmitToNetwork, out)
	out = p.b.Decapsulate(addrA, slices.Clone(out.Packet), p.bufB)
	assertKind(t, KindDeliverLocal, out)
}

func TestTamperedAndReplayedTransport(t *testing.T) {
	p := makePair(t, nil, nil)
	p.handshake(t)

	out := p.a.Encapsulate(ipv4Packet(innerA, innerB, []byte("once")), p.bufA)
	assertKind(t, KindEmitToNetwork, out)
	msg := slices.Clone(out.Packet)

	tampered := slices.Clone(msg)
	tampered[len(tampered)-1] ^= 0xff
	out = p.b.Decapsulate(addrA, tampered, p.bufB)
	assertKind(t, KindFatal, out)
	assert.ErrorIs(t, out.Err, ErrInvalidAeadTag)

	assertKind(t, KindDeliverLocal, p.b.Decapsulate(addrA, msg, p.bufB))

	out = p.b.Decapsulate(addrA, msg, p.bufB)
	assertKind(t, KindFatal, out)
	assert.ErrorIs(t, out.Err, ErrDuplicateCounter)
}

func TestNonIPPayloadIsRejected(t *testing.T) {
	p := makePair(t, nil, nil)
	p.handshake(t)

	out := p.a.Encapsulate([]byte{0x10, 1, 2, 3}, p.bufA)
	assertKind(t, KindEmitToNetwork, out)

	out = p.b.Decapsulate(addrA, slices.Clone(out.Packet), p.bufB)
	assertKind(t, KindFatal, out)
	assert.ErrorIs(t, out.Err, ErrInvalidPacket)
}

func TestWrongPeerKey(t *testing.T) {
	p := makePair(t, nil, func(c *Config) {
		c.PeerPublic = key.NewNode().Public()
	})

	out := p.a.FormatHandshakeInitiation(p.bufA, false)
	assertKind(t, KindEmitToNetwork, out)

	out = p.b.Decapsulate(addrA, slices.Clone(out.Packet), p.bufB)
	assertKind(t, KindFatal, out)
	assert.ErrorIs(t, out.Err, ErrWrongKey)
}

func TestPresharedKeyMismatch(t *testing.T) {
	var naked key.NakedKey
	_, _ = rand.Read(naked[:])
	psk := key.PresharedFrom(naked)

	p := makePair(t, func(c *Config) {
		c.PresharedKey = &psk
	}, nil)

	out := p.a.FormatHandshakeInitiation(p.bufA, false)
	assertKind(t, KindEmitToNetwork, out)

	out = p.b.Decapsulate(addrA, slices.Clone(out.Packet), p.bufB)
	assertKind(t, KindEmitToNetwork, out)

	out = p.a.Decapsulate(addrB, slices.Clone(out.Packet), p.bufA)
	assertKind(t, KindFatal, out)
	assert.False(t, p.a.Stats().Established)
}

func TestPresharedKeyMatch(t *testing.T) {
	var naked key.NakedKey
	_, _ = rand.Read(naked[:])
	psk := key.PresharedFrom(naked)

	p := makePair(t, func(c *Config) {
		c.PresharedKey = &psk
	}, func(c *Config) {
		c.PresharedKey = &psk
	})

	p.handshake(t)
	assert.True(t, p.a.Stats().Established)
}

func TestReplayedInitiation(t *testing.T) {
	p := makePair(t, nil, nil)

	out := p.a.FormatHandshakeInitiation(p.bufA, false)
	init := slices.Clone(out.Packet)

	assertKind(t, KindEmitToNetwork, p.b.Decapsulate(addrA, init, p.bufB))

	out = p.b.Decapsulate(addrA, init, p.bufB)
	assertKind(t, KindFatal, out)
	assert.ErrorIs(t, out.Err, ErrWrongTai64nTimestamp)
}

func TestHandshakeRetransmitAndGiveUp(t *testing.T) {
	p := makePair(t, nil, nil)

	assertKind(t, KindEmitToNetwork, p.a.FormatHandshakeInitiation(p.bufA, false))
	assertKind(t, KindIdle, p.a.Tick(p.bufA))

	p.clock.Advance(RekeyTimeout)
	out := p.a.Tick(p.bufA)
	assertKind(t, KindEmitToNetwork, out)
	assert.Len(t, out.Packet, msgwg.InitiationLen)

	// Keep retransmitting without an answer
	for elapsed := RekeyTimeout; elapsed+RekeyTimeout < RekeyAttemptTime; elapsed += RekeyTimeout {
		p.clock.Advance(RekeyTimeout)
		assertKind(t, KindEmitToNetwork, p.a.Tick(p.bufA))
	}

	p.clock.Advance(RekeyTimeout)
	out = p.a.Tick(p.bufA)
	assertKind(t, KindRecoverable, out)
	assert.ErrorIs(t, out.Err, ErrConnectionExpired)

	assertKind(t, KindIdle, p.a.Tick(p.bufA))
}

func TestSessionExpiry(t *testing.T) {
	p := makePair(t, nil, nil)
	p.handshake(t)

	assertKind(t, KindIdle, p.b.Tick(p.bufB))

	p.clock.Advance(RejectAfterTime)
	assert.False(t, p.b.Stats().Established)

	out := p.b.Encapsulate(ipv4Packet(innerB, innerA, nil), p.bufB)
	assertKind(t, KindEmitToNetwork, out)
	typ, _ := msgwg.PeekType(out.Packet)
	assert.Equal(t, msgwg.InitiationMessage, typ, "responder rekeys once the session is too old")

	p.clock.Advance(SessionExpiryTime)
	out = p.a.Tick(p.bufA)
	assertKind(t, KindRecoverable, out)
	assert.ErrorIs(t, out.Err, ErrConnectionExpired)

	// A fresh handshake brings the tunnel back
	p = makePair(t, nil, nil)
	p.handshake(t)
	p.clock.Advance(SessionExpiryTime)
	assertKind(t, KindRecoverable, p.a.Tick(p.bufA))
	p.clock.Advance(time.Second)
	p.handshake(t)
	assert.True(t, p.a.Stats().Established)
}

func TestInitiatorRekeys(t *testing.T) {
	p := makePair(t, nil, nil)
	p.handshake(t)

	p.clock.Advance(RekeyAfterTime)
	out := p.a.Tick(p.bufA)
	assertKind(t, KindEmitToNetwork, out)
	p.finishHandshake(t, slices.Clone(out.Packet))

	assert.True(t, p.a.Stats().Established)
	assert.True(t, p.b.Stats().Established)
}

func TestPersistentKeepalive(t *testing.T) {
	p := makePair(t, func(c *Config) {
		c.Keepalive = 1
	}, nil)
	p.handshake(t)

	assertKind(t, KindIdle, p.a.Tick(p.bufA))

	p.clock.Advance(time.Second)
	out := p.a.Tick(p.bufA)
	assertKind(t, KindEmitToNetwork, out)
	assert.Len(t, out.Packet, msgwg.TransportMinLen)

	assertKind(t, KindIdle, p.b.Decapsulate(addrA, slices.Clone(out.Packet), p.bufB))
}

func TestPassiveKeepalive(t *testing.T) {
	p := makePair(t, nil, nil)
	p.handshake(t)

	p.clock.Advance(time.Millisecond)
	out := p.a.Encapsulate(ipv4Packet(innerA, innerB, []byte("ping")), p.bufA)
	assertKind(t, KindDeliverLocal, p.b.Decapsulate(addrA, slices.Clone(out.Packet), p.bufB))

	p.clock.Advance(KeepaliveTimeout)
	out = p.b.Tick(p.bufB)
	assertKind(t, KindEmitToNetwork, out)
	assert.Len(t, out.Packet, msgwg.TransportMinLen)
}

func TestCookieUnderLoad(t *testing.T) {
	limiter := new(ratelimiter.Ratelimiter)
	limiter.Init()
	t.Cleanup(limiter.Close)

	p := makePair(t, nil, func(c *Config) {
		c.Limiter = limiter
	})

	var cookie []byte
	for i := 0; i < 50 && cookie == nil; i++ {
		out := p.a.FormatHandshakeInitiation(p.bufA, true)
		require.Equal(t, KindEmitToNetwork, out.Kind)

		out = p.b.Decapsulate(addrA, slices.Clone(out.Packet), p.bufB)
		if out.Kind != KindEmitToNetwork {
			continue
		}
		if typ, _ := msgwg.PeekType(out.Packet); typ == msgwg.CookieReplyMessage {
			cookie = slices.Clone(out.Packet)
		}
	}
	require.NotNil(t, cookie, "limiter never kicked in")
	assert.Len(t, cookie, msgwg.CookieReplyLen)

	assertKind(t, KindIdle, p.a.Decapsulate(addrB, cookie, p.bufA))

	// The retransmission carries mac2 and passes
	p.clock.Advance(RekeyTimeout)
	out := p.a.Tick(p.bufA)
	assertKind(t, KindEmitToNetwork, out)
	p.finishHandshake(t, slices.Clone(out.Packet))

	assert.True(t, p.a.Stats().Established)
}
