package wgengine

import (
	"crypto/subtle"
	"io"
	"net/netip"
	"time"

	"github.com/edup2p/wgtun/types/msgwg"
	"golang.org/x/crypto/chacha20poly1305"
)

type cookieState struct {
	// Responder side, rotated every CookieRefreshTime
	secret    [32]byte
	secretSet time.Time

	// Initiator side, the last cookie the peer handed us
	received   [msgwg.CookieLen]byte
	receivedAt time.Time
}

func (c *cookieState) peerCookie(now time.Time) ([msgwg.CookieLen]byte, bool) {
	if c.receivedAt.IsZero() || now.Sub(c.receivedAt) >= CookieRefreshTime {
		return [msgwg.CookieLen]byte{}, false
	}
	return c.received, true
}

func (c *cookieState) cookieFor(src netip.Addr, now time.Time, random io.Reader) [msgwg.CookieLen]byte {
	if c.secretSet.IsZero() || now.Sub(c.secretSet) >= CookieRefreshTime {
		if _, err := io.ReadFull(random, c.secret[:]); err != nil {
			panic("unable to read random bytes for cookie secret: " + err.Error())
		}
		c.secretSet = now
	}

	return mac(c.secret[:], src.AsSlice())
}

// checkLoad decides whether an initiation from src may be processed.
//
// Sources over the rate limit have to present a valid mac2, otherwise they get a cookie reply.
func (t *Tunn) checkLoad(src netip.Addr, raw []byte, sender uint32, mac1Off, mac2Off int, dst []byte, now time.Time) (Outcome, bool) {
	if t.limiter == nil || !src.IsValid() {
		return Outcome{}, true
	}

	if t.limiter.Allow(src) {
		return Outcome{}, true
	}

	cookie := t.cookies.cookieFor(src, now, t.random)
	want := mac(cookie[:], raw[:mac2Off])
	if constantTimeEqual(want[:], raw[mac2Off:mac2Off+msgwg.MACLen]) {
		return Outcome{}, true
	}

	return t.cookieReply(sender, raw[mac1Off:mac1Off+msgwg.MACLen], cookie, dst), false
}

func (t *Tunn) cookieReply(receiver uint32, mac1 []byte, cookie [msgwg.CookieLen]byte, dst []byte) Outcome {
	if len(dst) < msgwg.CookieReplyLen {
		return Fatal(ErrDestinationBufferTooSmall)
	}

	msg := &msgwg.CookieReply{Receiver: receiver}
	if _, err := io.ReadFull(t.random, msg.Nonce[:]); err != nil {
		return Fatal(err)
	}

	aead, err := chacha20poly1305.NewX(t.ownCookieKey[:])
	if err != nil {
		return Fatal(err)
	}
	aead.Seal(msg.Cookie[:0], msg.Nonce[:], cookie[:], mac1)

	n, err := msg.MarshalTo(dst)
	if err != nil {
		return Fatal(ErrDestinationBufferTooSmall)
	}

	return EmitToNetwork(dst[:n])
}

// handleCookieReply stores the cookie the peer sent in reply to our last initiation.
func (t *Tunn) handleCookieReply(msg *msgwg.CookieReply) Outcome {
	p := t.handshake
	if p == nil || p.localIndex != msg.Receiver {
		return Fatal(ErrWrongIndex)
	}

	aead, err := chacha20poly1305.NewX(t.peerCookieKey[:])
	if err != nil {
		return Fatal(err)
	}

	var cookie [msgwg.CookieLen]byte
	if _, err := aead.Open(cookie[:0], msg.Nonce[:], msg.Cookie[:], p.lastMAC1[:]); err != nil {
		return Fatal(ErrInvalidAeadTag)
	}

	t.cookies.received = cookie
	t.cookies.receivedAt = t.now()

	return Idle()
}

func constantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
