package wgengine

import "errors"

var (
	ErrInvalidKey                = errors.New("invalid key material")
	ErrDestinationBufferTooSmall = errors.New("destination buffer too small")
	ErrIncorrectPacketLength     = errors.New("incorrect packet length")
	ErrUnexpectedPacket          = errors.New("unexpected packet")
	ErrWrongIndex                = errors.New("wrong receiver index")
	ErrWrongKey                  = errors.New("peer static key does not match")
	ErrInvalidTai64nTimestamp    = errors.New("invalid tai64n timestamp")
	ErrWrongTai64nTimestamp      = errors.New("replayed or stale tai64n timestamp")
	ErrInvalidMac                = errors.New("invalid mac")
	ErrInvalidAeadTag            = errors.New("invalid aead tag")
	ErrInvalidCounter            = errors.New("counter exhausted")
	ErrDuplicateCounter          = errors.New("duplicate or too old counter")
	ErrInvalidPacket             = errors.New("payload is not a valid ip packet")
	ErrNoCurrentSession          = errors.New("no current session")
	ErrUnderLoad                 = errors.New("handshake dropped under load")

	// ErrConnectionExpired means all sessions are gone and a new handshake is required.
	ErrConnectionExpired = errors.New("connection expired")
)
