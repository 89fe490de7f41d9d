package msgwg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var errShortBuffer = errors.New("destination buffer too small")

type Message interface {
	Type() MessageType

	// MarshalTo writes the message into dst, returning the amount of bytes written.
	MarshalTo(dst []byte) (int, error)
}

type Initiation struct {
	Sender uint32
	Noise  [InitiationNoiseLen]byte
	MAC1   [MACLen]byte
	MAC2   [MACLen]byte
}

func (*Initiation) Type() MessageType {
	return InitiationMessage
}

func (m *Initiation) MarshalTo(dst []byte) (int, error) {
	if len(dst) < InitiationLen {
		return 0, errShortBuffer
	}

	putHeader(dst, InitiationMessage)
	binary.LittleEndian.PutUint32(dst[4:8], m.Sender)
	copy(dst[8:], m.Noise[:])
	copy(dst[InitiationMAC1Offset:], m.MAC1[:])
	copy(dst[InitiationMAC2Offset:], m.MAC2[:])

	return InitiationLen, nil
}

type Response struct {
	Sender   uint32
	Receiver uint32
	Noise    [ResponseNoiseLen]byte
	MAC1     [MACLen]byte
	MAC2     [MACLen]byte
}

func (*Response) Type() MessageType {
	return ResponseMessage
}

func (m *Response) MarshalTo(dst []byte) (int, error) {
	if len(dst) < ResponseLen {
		return 0, errShortBuffer
	}

	putHeader(dst, ResponseMessage)
	binary.LittleEndian.PutUint32(dst[4:8], m.Sender)
	binary.LittleEndian.PutUint32(dst[8:12], m.Receiver)
	copy(dst[12:], m.Noise[:])
	copy(dst[ResponseMAC1Offset:], m.MAC1[:])
	copy(dst[ResponseMAC2Offset:], m.MAC2[:])

	return ResponseLen, nil
}

type CookieReply struct {
	Receiver uint32
	Nonce    [CookieNonceLen]byte
	Cookie   [CookieSealedLen]byte
}

func (*CookieReply) Type() MessageType {
	return CookieReplyMessage
}

func (m *CookieReply) MarshalTo(dst []byte) (int, error) {
	if len(dst) < CookieReplyLen {
		return 0, errShortBuffer
	}

	putHeader(dst, CookieReplyMessage)
	binary.LittleEndian.PutUint32(dst[4:8], m.Receiver)
	copy(dst[8:], m.Nonce[:])
	copy(dst[8+CookieNonceLen:], m.Cookie[:])

	return CookieReplyLen, nil
}

// Transport is a data message, Data is the encrypted (and padded) packet including its tag.
type Transport struct {
	Receiver uint32
	Counter  uint64
	Data     []byte
}

func (*Transport) Type() MessageType {
	return TransportMessage
}

func (m *Transport) MarshalTo(dst []byte) (int, error) {
	n := TransportHeaderLen + len(m.Data)
	if len(dst) < n {
		return 0, errShortBuffer
	}

	PutTransportHeader(dst, m.Receiver, m.Counter)
	copy(dst[TransportHeaderLen:], m.Data)

	return n, nil
}

// PutTransportHeader writes only the transport header, for when the payload is sealed in-place behind it.
func PutTransportHeader(dst []byte, receiver uint32, counter uint64) {
	putHeader(dst, TransportMessage)
	binary.LittleEndian.PutUint32(dst[4:8], receiver)
	binary.LittleEndian.PutUint64(dst[8:16], counter)
}

func putHeader(dst []byte, t MessageType) {
	dst[0] = byte(t)
	dst[1], dst[2], dst[3] = 0, 0, 0
}

func (t MessageType) String() string {
	switch t {
	case InitiationMessage:
		return "initiation"
	case ResponseMessage:
		return "response"
	case CookieReplyMessage:
		return "cookie-reply"
	case TransportMessage:
		return "transport"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}
