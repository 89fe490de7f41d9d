package wgengine

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"github.com/edup2p/wgtun/types/msgwg"
	"github.com/flynn/noise"
	"golang.org/x/crypto/blake2s"
	"golang.zx2c4.com/wireguard/tai64n"
)

// pendingHandshake is an initiation we sent and are waiting on a response for.
type pendingHandshake struct {
	hs         *noise.HandshakeState
	localIndex uint32

	// When this handshake attempt began, retransmissions keep it
	started  time.Time
	lastSent time.Time

	// mac1 of the last initiation sent, cookie replies are bound to it
	lastMAC1 [msgwg.MACLen]byte
}

func (t *Tunn) handshakeState(initiator bool) (*noise.HandshakeState, error) {
	cfg := noise.Config{
		CipherSuite:           cipherSuite,
		Random:                t.random,
		Pattern:               noise.HandshakeIK,
		Initiator:             initiator,
		Prologue:              identifierLabel,
		PresharedKey:          t.psk[:],
		PresharedKeyPlacement: 2,
		StaticKeypair:         t.static,
	}

	if initiator {
		cfg.PeerStatic = t.peerPublic[:]
	}

	return noise.NewHandshakeState(cfg)
}

// FormatHandshakeInitiation writes a handshake initiation into dst.
//
// Unless force is set, this is Idle when a handshake is already in flight.
func (t *Tunn) FormatHandshakeInitiation(dst []byte, force bool) Outcome {
	if t.handshake != nil && !force {
		return Idle()
	}

	return t.formatInitiation(dst, t.now())
}

func (t *Tunn) formatInitiation(dst []byte, now time.Time) Outcome {
	if len(dst) < msgwg.InitiationLen {
		return Fatal(ErrDestinationBufferTooSmall)
	}

	hs, err := t.handshakeState(true)
	if err != nil {
		return Fatal(fmt.Errorf("could not create handshake state: %w", err))
	}

	ts := timestamp(now)

	noiseMsg, _, _, err := hs.WriteMessage(nil, ts[:])
	if err != nil {
		return Fatal(fmt.Errorf("could not write initiation: %w", err))
	}
	if len(noiseMsg) != msgwg.InitiationNoiseLen {
		return Fatal(fmt.Errorf("%w: initiation noise payload of %d bytes", ErrIncorrectPacketLength, len(noiseMsg)))
	}

	started := now
	if t.handshake != nil {
		// A retransmission is part of the same attempt.
		started = t.handshake.started
	}

	p := &pendingHandshake{
		hs:         hs,
		localIndex: t.incIndex(),
		started:    started,
		lastSent:   now,
	}

	msg := &msgwg.Initiation{Sender: p.localIndex}
	copy(msg.Noise[:], noiseMsg)

	n, err := msg.MarshalTo(dst)
	if err != nil {
		return Fatal(ErrDestinationBufferTooSmall)
	}

	p.lastMAC1 = t.stampMACs(dst[:n], msgwg.InitiationMAC1Offset, msgwg.InitiationMAC2Offset, now)

	t.handshake = p
	t.markSent(now, false)

	return EmitToNetwork(dst[:n])
}

// stampMACs fills in mac1 and, with a fresh cookie from the peer, mac2 of a marshalled handshake message.
func (t *Tunn) stampMACs(msg []byte, mac1Off, mac2Off int, now time.Time) (mac1 [msgwg.MACLen]byte) {
	mac1 = mac(t.peerMAC1Key[:], msg[:mac1Off])
	copy(msg[mac1Off:], mac1[:])

	if cookie, ok := t.cookies.peerCookie(now); ok {
		mac2 := mac(cookie[:], msg[:mac2Off])
		copy(msg[mac2Off:], mac2[:])
	} else {
		clear(msg[mac2Off : mac2Off+msgwg.MACLen])
	}

	return
}

func (t *Tunn) validMAC1(msg []byte, mac1Off int) bool {
	want := mac(t.ownMAC1Key[:], msg[:mac1Off])
	return constantTimeEqual(want[:], msg[mac1Off:mac1Off+msgwg.MACLen])
}

// handleInitiation processes an initiation from the peer as responder.
func (t *Tunn) handleInitiation(src netip.Addr, raw []byte, msg *msgwg.Initiation, dst []byte) Outcome {
	if !t.validMAC1(raw, msgwg.InitiationMAC1Offset) {
		return Fatal(ErrInvalidMac)
	}

	now := t.now()

	if out, proceed := t.checkLoad(src, raw, msg.Sender, msgwg.InitiationMAC1Offset, msgwg.InitiationMAC2Offset, dst, now); !proceed {
		return out
	}

	if len(dst) < msgwg.ResponseLen {
		return Fatal(ErrDestinationBufferTooSmall)
	}

	hs, err := t.handshakeState(false)
	if err != nil {
		return Fatal(fmt.Errorf("could not create handshake state: %w", err))
	}

	payload, _, _, err := hs.ReadMessage(nil, msg.Noise[:])
	if err != nil {
		return Fatal(ErrInvalidAeadTag)
	}

	if !t.isPeer(hs.PeerStatic()) {
		return Fatal(ErrWrongKey)
	}

	if len(payload) != tai64n.TimestampSize {
		return Fatal(ErrInvalidTai64nTimestamp)
	}

	ts := tai64n.Timestamp(payload)
	if !ts.After(t.lastInitTimestamp) {
		return Fatal(ErrWrongTai64nTimestamp)
	}

	noiseMsg, cs1, cs2, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return Fatal(fmt.Errorf("could not write response: %w", err))
	}
	if cs1 == nil || cs2 == nil || len(noiseMsg) != msgwg.ResponseNoiseLen {
		return Fatal(fmt.Errorf("%w: incomplete handshake after response", ErrUnexpectedPacket))
	}

	t.lastInitTimestamp = ts

	// cs1 carries initiator to responder traffic.
	s := newSession(t.incIndex(), msg.Sender, cs2, cs1, false, now)
	t.storeSession(s)

	resp := &msgwg.Response{Sender: s.localIndex, Receiver: msg.Sender}
	copy(resp.Noise[:], noiseMsg)

	n, err := resp.MarshalTo(dst)
	if err != nil {
		return Fatal(ErrDestinationBufferTooSmall)
	}

	t.stampMACs(dst[:n], msgwg.ResponseMAC1Offset, msgwg.ResponseMAC2Offset, now)

	t.stats.LastHandshake = now
	t.markReceived(now, false)
	t.markSent(now, false)

	return EmitToNetwork(dst[:n])
}

// handleResponse completes a handshake we initiated, and answers it with a keepalive.
func (t *Tunn) handleResponse(raw []byte, msg *msgwg.Response, dst []byte) Outcome {
	if !t.validMAC1(raw, msgwg.ResponseMAC1Offset) {
		return Fatal(ErrInvalidMac)
	}

	p := t.handshake
	if p == nil {
		return Fatal(ErrUnexpectedPacket)
	}
	if p.localIndex != msg.Receiver {
		return Fatal(ErrWrongIndex)
	}

	now := t.now()

	_, cs1, cs2, err := p.hs.ReadMessage(nil, msg.Noise[:])
	if err != nil {
		return Fatal(ErrInvalidAeadTag)
	}
	if cs1 == nil || cs2 == nil {
		return Fatal(fmt.Errorf("%w: incomplete handshake after response", ErrUnexpectedPacket))
	}

	s := newSession(p.localIndex, msg.Sender, cs1, cs2, true, now)
	t.storeSession(s)
	t.setCurrent(s)

	t.handshake = nil
	t.stats.LastHandshake = now
	t.markReceived(now, false)

	// Confirm the session to the responder.
	return t.sealWith(s, nil, dst, now)
}

// timestamp is tai64n.Now, but on the tunnel's clock.
func timestamp(now time.Time) (ts tai64n.Timestamp) {
	secs := tai64nBase + uint64(now.Unix())
	nano := uint32(now.Nanosecond()) &^ tai64nWhitenerMask

	binary.BigEndian.PutUint64(ts[:8], secs)
	binary.BigEndian.PutUint32(ts[8:], nano)
	return
}

// hash is HASH(label || data) with BLAKE2s-256.
func hash(label, data []byte) (out [32]byte) {
	h, _ := blake2s.New256(nil)
	h.Write(label)
	h.Write(data)
	h.Sum(out[:0])
	return
}

// mac is the keyed BLAKE2s-128 MAC.
func mac(key, data []byte) (out [msgwg.MACLen]byte) {
	h, err := blake2s.New128(key)
	if err != nil {
		panic(fmt.Sprintf("blake2s mac with invalid key: %v", err))
	}
	h.Write(data)
	h.Sum(out[:0])
	return
}
