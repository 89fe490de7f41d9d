// Package wgengine is a wireguard protocol engine for a single peer.
//
// It does no I/O of its own; every operation takes the bytes to process and a destination buffer,
// and reports what the caller has to do next through an Outcome.
//
// A Tunn is not safe for concurrent use, callers must serialise all operations on one instance.
package wgengine

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"time"

	"github.com/edup2p/wgtun/types/key"
	"github.com/flynn/noise"
	"golang.org/x/crypto/curve25519"
	"golang.zx2c4.com/wireguard/ratelimiter"
	"golang.zx2c4.com/wireguard/tai64n"
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

type Config struct {
	PrivateKey key.NodePrivate
	PeerPublic key.NodePublic

	// Optional, a zero key is used when nil, as the protocol prescribes.
	PresharedKey *key.Preshared

	// Persistent keepalive interval in seconds, 0 disables.
	Keepalive uint16

	// Index is this session's index, local handshake indices are derived from it.
	Index uint32

	// Optional, enables the cookie mechanism for handshake initiations from sources over the limit.
	Limiter *ratelimiter.Ratelimiter

	// Optional, defaults to time.Now.
	Now func() time.Time

	// Optional, defaults to crypto/rand.
	Random io.Reader
}

type Stats struct {
	LastHandshake time.Time

	TxBytes   uint64
	RxBytes   uint64
	TxPackets uint64
	RxPackets uint64

	// Whether there is a session usable for sending.
	Established bool
}

// Tunn is the state of one wireguard tunnel with one peer.
type Tunn struct {
	static     noise.DHKey
	peerPublic key.NodePublic
	psk        [32]byte

	// mac1 keys, for messages sent to the peer and for messages the peer sends to us
	peerMAC1Key [32]byte
	ownMAC1Key  [32]byte
	// XAEAD keys for cookie replies, likewise
	peerCookieKey [32]byte
	ownCookieKey  [32]byte

	keepalive time.Duration
	limiter   *ratelimiter.Ratelimiter
	now       func() time.Time
	random    io.Reader

	nextIndex uint32

	handshake *pendingHandshake

	// Newest timestamp we accepted in an initiation from the peer
	lastInitTimestamp tai64n.Timestamp

	sessions [sessionSlots]*session
	current  uint32
	hasCur   bool

	queue [][]byte

	cookies cookieState

	timers timers

	stats Stats
}

type timers struct {
	lastPacketSent     time.Time
	lastPacketReceived time.Time
	lastDataSent       time.Time
	lastDataReceived   time.Time
}

// New creates a new tunnel engine, it validates the key material.
func New(cfg Config) (*Tunn, error) {
	if cfg.PrivateKey.IsZero() {
		return nil, fmt.Errorf("%w: zero private key", ErrInvalidKey)
	}
	if cfg.PeerPublic.IsZero() {
		return nil, fmt.Errorf("%w: zero peer public key", ErrInvalidKey)
	}

	priv := key.UnveilPrivate(cfg.PrivateKey)
	pub := cfg.PrivateKey.Public()

	// Rejects low order points.
	if _, err := curve25519.X25519(priv[:], cfg.PeerPublic[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	t := &Tunn{
		static: noise.DHKey{
			Private: append([]byte(nil), priv[:]...),
			Public:  append([]byte(nil), pub[:]...),
		},
		peerPublic: cfg.PeerPublic,
		keepalive:  time.Duration(cfg.Keepalive) * time.Second,
		limiter:    cfg.Limiter,
		now:        cfg.Now,
		random:     cfg.Random,
		nextIndex:  cfg.Index << 8,
	}

	if cfg.PresharedKey != nil {
		copy(t.psk[:], cfg.PresharedKey.Bytes())
	}

	if t.now == nil {
		t.now = time.Now
	}
	if t.random == nil {
		t.random = rand.Reader
	}

	t.peerMAC1Key = hash(mac1Label, cfg.PeerPublic[:])
	t.ownMAC1Key = hash(mac1Label, pub[:])
	t.peerCookieKey = hash(cookieLabel, cfg.PeerPublic[:])
	t.ownCookieKey = hash(cookieLabel, pub[:])

	return t, nil
}

// Stats returns a snapshot of the tunnel's counters.
func (t *Tunn) Stats() Stats {
	s := t.stats
	s.Established = t.currentSession(t.now()) != nil
	return s
}

// PeerPublic returns the public key of the configured peer.
func (t *Tunn) PeerPublic() key.NodePublic {
	return t.peerPublic
}

func (t *Tunn) isPeer(static []byte) bool {
	return subtle.ConstantTimeCompare(static, t.peerPublic[:]) == 1
}

// incIndex returns a fresh local index, keeping the configured index in the upper 24 bits.
func (t *Tunn) incIndex() uint32 {
	idx := t.nextIndex
	t.nextIndex = (idx &^ 0xff) | uint32(uint8(idx)+1)
	return idx
}

// clearAll drops all sessions, a handshake in flight, and queued packets.
func (t *Tunn) clearAll() {
	t.handshake = nil
	t.sessions = [sessionSlots]*session{}
	t.hasCur = false
	t.queue = nil
	t.timers = timers{}
}
