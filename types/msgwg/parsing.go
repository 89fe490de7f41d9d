package msgwg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrTooSmall    = errors.New("wire message too small")
	ErrInvalidType = errors.New("invalid wire message type")
	ErrBadLength   = errors.New("wire message has wrong length")
)

// PeekType returns the type of a datagram without parsing it further.
func PeekType(pkt []byte) (MessageType, error) {
	if len(pkt) < headerLen {
		return 0, ErrTooSmall
	}

	if pkt[1] != 0 || pkt[2] != 0 || pkt[3] != 0 {
		return 0, ErrInvalidType
	}

	return MessageType(pkt[0]), nil
}

// Parse parses a datagram into one of the four wire messages.
//
// Transport.Data aliases pkt.
func Parse(pkt []byte) (Message, error) {
	if len(pkt) < MinMessageLen {
		return nil, ErrTooSmall
	}

	t, err := PeekType(pkt)
	if err != nil {
		return nil, err
	}

	switch t {
	case InitiationMessage:
		return parseInitiation(pkt)
	case ResponseMessage:
		return parseResponse(pkt)
	case CookieReplyMessage:
		return parseCookieReply(pkt)
	case TransportMessage:
		return parseTransport(pkt)
	default:
		return nil, fmt.Errorf("%w: %x", ErrInvalidType, byte(t))
	}
}

func parseInitiation(b []byte) (*Initiation, error) {
	if len(b) != InitiationLen {
		return nil, ErrBadLength
	}

	m := &Initiation{Sender: binary.LittleEndian.Uint32(b[4:8])}
	copy(m.Noise[:], b[8:InitiationMAC1Offset])
	copy(m.MAC1[:], b[InitiationMAC1Offset:InitiationMAC2Offset])
	copy(m.MAC2[:], b[InitiationMAC2Offset:])

	return m, nil
}

func parseResponse(b []byte) (*Response, error) {
	if len(b) != ResponseLen {
		return nil, ErrBadLength
	}

	m := &Response{
		Sender:   binary.LittleEndian.Uint32(b[4:8]),
		Receiver: binary.LittleEndian.Uint32(b[8:12]),
	}
	copy(m.Noise[:], b[12:ResponseMAC1Offset])
	copy(m.MAC1[:], b[ResponseMAC1Offset:ResponseMAC2Offset])
	copy(m.MAC2[:], b[ResponseMAC2Offset:])

	return m, nil
}

func parseCookieReply(b []byte) (*CookieReply, error) {
	if len(b) != CookieReplyLen {
		return nil, ErrBadLength
	}

	m := &CookieReply{Receiver: binary.LittleEndian.Uint32(b[4:8])}
	copy(m.Nonce[:], b[8:8+CookieNonceLen])
	copy(m.Cookie[:], b[8+CookieNonceLen:])

	return m, nil
}

func parseTransport(b []byte) (*Transport, error) {
	if len(b) < TransportMinLen {
		return nil, ErrTooSmall
	}

	return &Transport{
		Receiver: binary.LittleEndian.Uint32(b[4:8]),
		Counter:  binary.LittleEndian.Uint64(b[8:16]),
		Data:     b[TransportHeaderLen:],
	}, nil
}
