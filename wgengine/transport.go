package wgengine

import (
	"net/netip"
	"slices"
	"time"

	"github.com/edup2p/wgtun/types/msgwg"
)

// Encapsulate encrypts the IP packet src for the peer into dst.
//
// Without a usable session the packet is queued, and a handshake initiation is returned if none is in flight yet.
func (t *Tunn) Encapsulate(src, dst []byte) Outcome {
	now := t.now()

	if s := t.currentSession(now); s != nil {
		return t.sealWith(s, src, dst, now)
	}

	t.enqueue(src)

	if t.handshake == nil && !t.awaitingConfirmation(now) {
		return t.formatInitiation(dst, now)
	}

	return Idle()
}

// Decapsulate processes a datagram received from the peer at address src.
//
// dst must not overlap datagram. Calling Decapsulate with an empty datagram sends out one queued packet;
// after every call that did not fail, callers should keep doing so until it no longer returns EmitToNetwork.
func (t *Tunn) Decapsulate(src netip.Addr, datagram, dst []byte) Outcome {
	if len(datagram) == 0 {
		return t.sendQueued(dst)
	}

	m, err := msgwg.Parse(datagram)
	if err != nil {
		return Fatal(err)
	}

	switch msg := m.(type) {
	case *msgwg.Initiation:
		return t.handleInitiation(src, datagram, msg, dst)
	case *msgwg.Response:
		return t.handleResponse(datagram, msg, dst)
	case *msgwg.CookieReply:
		return t.handleCookieReply(msg)
	case *msgwg.Transport:
		return t.handleTransport(msg, dst)
	default:
		return Fatal(ErrUnexpectedPacket)
	}
}

func (t *Tunn) handleTransport(msg *msgwg.Transport, dst []byte) Outcome {
	s := t.sessionByIndex(msg.Receiver)
	if s == nil {
		return Fatal(ErrWrongIndex)
	}

	now := t.now()

	if now.Sub(s.established) >= RejectAfterTime {
		return Fatal(ErrNoCurrentSession)
	}

	plain, err := s.open(msg, dst)
	if err != nil {
		return Fatal(err)
	}

	if !s.confirmed {
		// The initiator used this session, so it's safe to send with it now.
		s.confirmed = true
		t.setCurrent(s)
	}

	t.stats.RxPackets++
	t.stats.RxBytes += uint64(len(msg.Data))

	if len(plain) == 0 {
		t.markReceived(now, false)
		return Idle()
	}

	t.markReceived(now, true)

	version, source, n, err := parseIPPacket(plain)
	if err != nil {
		return Fatal(err)
	}

	return DeliverLocal(plain[:n], version, source)
}

// sealWith encrypts src with a specific session, an empty src is a keepalive.
func (t *Tunn) sealWith(s *session, src, dst []byte, now time.Time) Outcome {
	pkt, err := s.seal(src, dst)
	if err != nil {
		return Fatal(err)
	}

	t.stats.TxPackets++
	t.stats.TxBytes += uint64(len(pkt) - msgwg.TransportHeaderLen)
	t.markSent(now, len(src) > 0)

	return EmitToNetwork(pkt)
}

// awaitingConfirmation is true when we answered an initiation recently, and the peer is yet to use that session.
func (t *Tunn) awaitingConfirmation(now time.Time) bool {
	for _, s := range t.sessions {
		if s != nil && !s.confirmed && now.Sub(s.established) < RekeyTimeout {
			return true
		}
	}
	return false
}

func (t *Tunn) enqueue(pkt []byte) {
	if len(pkt) == 0 {
		return
	}
	if len(t.queue) >= MaxQueueDepth {
		// Oldest is dropped
		t.queue = t.queue[1:]
	}
	t.queue = append(t.queue, slices.Clone(pkt))
}

func (t *Tunn) sendQueued(dst []byte) Outcome {
	if len(t.queue) == 0 {
		return Idle()
	}

	now := t.now()

	s := t.currentSession(now)
	if s == nil {
		return Idle()
	}

	pkt := t.queue[0]
	t.queue = t.queue[1:]

	return t.sealWith(s, pkt, dst, now)
}

func (t *Tunn) markSent(now time.Time, data bool) {
	t.timers.lastPacketSent = now
	if data {
		t.timers.lastDataSent = now
	}
}

func (t *Tunn) markReceived(now time.Time, data bool) {
	t.timers.lastPacketReceived = now
	if data {
		t.timers.lastDataReceived = now
	}
}
