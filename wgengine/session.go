package wgengine

import (
	"time"

	"github.com/edup2p/wgtun/types/msgwg"
	"github.com/flynn/noise"
	"golang.zx2c4.com/wireguard/replay"
)

// session is an established set of transport keys.
type session struct {
	localIndex  uint32
	remoteIndex uint32

	send noise.Cipher
	recv noise.Cipher

	sendCounter uint64
	replay      replay.Filter

	established time.Time

	// The initiator of the handshake is responsible for rekeying.
	initiator bool

	// A responder may only send after receiving the first transport message.
	confirmed bool
}

func newSession(localIndex, remoteIndex uint32, send, recv *noise.CipherState, initiator bool, now time.Time) *session {
	return &session{
		localIndex:  localIndex,
		remoteIndex: remoteIndex,
		send:        send.Cipher(),
		recv:        recv.Cipher(),
		established: now,
		initiator:   initiator,
		confirmed:   initiator,
	}
}

func paddedLen(n int) int {
	if r := n % paddingMultiple; r != 0 {
		return n + paddingMultiple - r
	}
	return n
}

// seal formats a transport message carrying src into dst.
func (s *session) seal(src, dst []byte) ([]byte, error) {
	padded := paddedLen(len(src))

	if len(dst) < msgwg.TransportHeaderLen+padded+16 {
		return nil, ErrDestinationBufferTooSmall
	}

	if s.sendCounter >= RejectAfterMessages {
		return nil, ErrInvalidCounter
	}
	counter := s.sendCounter
	s.sendCounter++

	msgwg.PutTransportHeader(dst, s.remoteIndex, counter)

	body := dst[msgwg.TransportHeaderLen : msgwg.TransportHeaderLen+padded]
	copy(body, src)
	clear(body[len(src):])

	sealed := s.send.Encrypt(body[:0], counter, nil, body)

	return dst[:msgwg.TransportHeaderLen+len(sealed)], nil
}

// open decrypts a transport message into dst, the result still carries its padding.
func (s *session) open(msg *msgwg.Transport, dst []byte) ([]byte, error) {
	if len(dst) < len(msg.Data)-16 {
		return nil, ErrDestinationBufferTooSmall
	}

	if msg.Counter >= RejectAfterMessages {
		return nil, ErrInvalidCounter
	}

	plain, err := s.recv.Decrypt(dst[:0], msg.Counter, nil, msg.Data)
	if err != nil {
		return nil, ErrInvalidAeadTag
	}

	// Only authenticated counters may move the window.
	if !s.replay.ValidateCounter(msg.Counter, RejectAfterMessages) {
		return nil, ErrDuplicateCounter
	}

	return plain, nil
}

func (t *Tunn) storeSession(s *session) {
	t.sessions[s.localIndex%sessionSlots] = s
}

func (t *Tunn) sessionByIndex(idx uint32) *session {
	s := t.sessions[idx%sessionSlots]
	if s == nil || s.localIndex != idx {
		return nil
	}
	return s
}

func (t *Tunn) setCurrent(s *session) {
	t.current = s.localIndex
	t.hasCur = true
}

// rawCurrent returns the current session regardless of its age.
func (t *Tunn) rawCurrent() *session {
	if !t.hasCur {
		return nil
	}
	return t.sessionByIndex(t.current)
}

// currentSession returns the session to send with, nil when there is none that may still be used.
func (t *Tunn) currentSession(now time.Time) *session {
	s := t.rawCurrent()
	if s == nil || !s.confirmed || now.Sub(s.established) >= RejectAfterTime {
		return nil
	}
	return s
}
