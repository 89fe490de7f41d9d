package wgengine

import (
	"fmt"
	"net/netip"
)

type Kind byte

const (
	// KindIdle means there is nothing to do.
	KindIdle Kind = iota
	// KindFatal is an unrecoverable error for this call, the input is to be discarded.
	KindFatal
	// KindRecoverable is an error which requires a fresh handshake, see ErrConnectionExpired.
	KindRecoverable
	// KindEmitToNetwork means Packet has to be written to the peer.
	KindEmitToNetwork
	// KindDeliverLocal means Packet is a decrypted IP packet for the local network stack.
	KindDeliverLocal
)

func (k Kind) String() string {
	switch k {
	case KindIdle:
		return "idle"
	case KindFatal:
		return "fatal"
	case KindRecoverable:
		return "recoverable"
	case KindEmitToNetwork:
		return "emit-to-network"
	case KindDeliverLocal:
		return "deliver-local"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Outcome is the result of every engine operation.
//
// Packet aliases the destination buffer handed to the operation, and is only valid until that buffer is reused.
type Outcome struct {
	Kind Kind

	Packet []byte
	Err    error

	// Only set with KindDeliverLocal
	IPVersion int
	Source    netip.Addr
}

func Idle() Outcome {
	return Outcome{Kind: KindIdle}
}

func Fatal(err error) Outcome {
	return Outcome{Kind: KindFatal, Err: err}
}

func Recoverable(err error) Outcome {
	return Outcome{Kind: KindRecoverable, Err: err}
}

func EmitToNetwork(pkt []byte) Outcome {
	return Outcome{Kind: KindEmitToNetwork, Packet: pkt}
}

func DeliverLocal(pkt []byte, ipVersion int, src netip.Addr) Outcome {
	return Outcome{Kind: KindDeliverLocal, Packet: pkt, IPVersion: ipVersion, Source: src}
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindFatal, KindRecoverable:
		return fmt.Sprintf("%s(%v)", o.Kind, o.Err)
	case KindEmitToNetwork:
		return fmt.Sprintf("%s(%d bytes)", o.Kind, len(o.Packet))
	case KindDeliverLocal:
		return fmt.Sprintf("%s(%d bytes, ipv%d, src %s)", o.Kind, len(o.Packet), o.IPVersion, o.Source)
	default:
		return o.Kind.String()
	}
}
