package msgwg

// All wire messages start with a 4 byte header:
//   Type (1) + Reserved zero (3)
// and encode integers little-endian.

type MessageType byte

const (
	InitiationMessage  = MessageType(0x01)
	ResponseMessage    = MessageType(0x02)
	CookieReplyMessage = MessageType(0x03)
	TransportMessage   = MessageType(0x04)
)

const (
	headerLen = 4
	indexLen  = 4
	MACLen    = 16

	// Noise payloads as produced by the handshake:
	//   initiation: ephemeral (32) + encrypted static (32+16) + encrypted timestamp (12+16)
	//   response:   ephemeral (32) + encrypted empty (16)
	InitiationNoiseLen = 32 + 32 + 16 + 12 + 16
	ResponseNoiseLen   = 32 + 16

	CookieNonceLen = 24
	CookieLen      = 16
	// Encrypted cookie, with its tag
	CookieSealedLen = CookieLen + 16

	InitiationLen  = headerLen + indexLen + InitiationNoiseLen + 2*MACLen
	ResponseLen    = headerLen + 2*indexLen + ResponseNoiseLen + 2*MACLen
	CookieReplyLen = headerLen + indexLen + CookieNonceLen + CookieSealedLen

	TransportHeaderLen = headerLen + indexLen + 8
	// Header plus poly1305 tag of an empty payload
	TransportMinLen = TransportHeaderLen + 16

	// MinMessageLen is the smallest datagram that could possibly be a wire message.
	MinMessageLen = TransportMinLen
)

// Offsets of the MACs, everything before an offset is covered by that MAC.
const (
	InitiationMAC1Offset = InitiationLen - 2*MACLen
	InitiationMAC2Offset = InitiationLen - MACLen
	ResponseMAC1Offset   = ResponseLen - 2*MACLen
	ResponseMAC2Offset   = ResponseLen - MACLen
)
