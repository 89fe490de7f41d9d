package wgengine

import "time"

const (
	RekeyAfterTime    = 120 * time.Second
	RejectAfterTime   = 180 * time.Second
	RekeyAttemptTime  = 90 * time.Second
	RekeyTimeout      = 5 * time.Second
	KeepaliveTimeout  = 10 * time.Second
	CookieRefreshTime = 120 * time.Second

	// SessionExpiryTime is when a session is dropped entirely, and ErrConnectionExpired is reported.
	SessionExpiryTime = RejectAfterTime * 3

	RejectAfterMessages = (1 << 64) - (1 << 13) - 1

	// MaxQueueDepth is the amount of packets held back while waiting for a handshake.
	MaxQueueDepth = 256

	// sessionSlots is the amount of sessions kept around, indexed by the lower bits of their local index.
	sessionSlots = 8

	paddingMultiple = 16

	tai64nBase = uint64(0x400000000000000a)
	// Nanoseconds are truncated to ~16ms, like wireguard-go does.
	tai64nWhitenerMask = uint32(0x1000000 - 1)
)

// MaxPacketSize is a scratch buffer size sufficient for every engine operation.
const MaxPacketSize = 65536

var (
	identifierLabel = []byte("WireGuard v1 zx2c4 Jason@zx2c4.com")
	mac1Label       = []byte("mac1----")
	cookieLabel     = []byte("cookie--")
)
