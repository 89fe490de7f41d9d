package wgengine

import (
	"encoding/binary"
	"net/netip"

	"go4.org/netipx"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// parseIPPacket validates a decrypted payload as an IP packet, it returns the packet's length without padding.
func parseIPPacket(pkt []byte) (version int, src netip.Addr, n int, err error) {
	if len(pkt) == 0 {
		return 0, netip.Addr{}, 0, ErrInvalidPacket
	}

	switch pkt[0] >> 4 {
	case 4:
		h, err := ipv4.ParseHeader(pkt)
		if err != nil {
			return 0, netip.Addr{}, 0, ErrInvalidPacket
		}

		// Read from the wire directly, ParseHeader adjusts it on some platforms for raw sockets.
		n = int(binary.BigEndian.Uint16(pkt[2:4]))
		if n < h.Len || n > len(pkt) {
			return 0, netip.Addr{}, 0, ErrInvalidPacket
		}

		src, ok := netipx.FromStdIP(h.Src)
		if !ok {
			return 0, netip.Addr{}, 0, ErrInvalidPacket
		}

		return 4, src, n, nil
	case 6:
		h, err := ipv6.ParseHeader(pkt)
		if err != nil {
			return 0, netip.Addr{}, 0, ErrInvalidPacket
		}

		n = ipv6.HeaderLen + h.PayloadLen
		if n > len(pkt) {
			return 0, netip.Addr{}, 0, ErrInvalidPacket
		}

		src, ok := netipx.FromStdIP(h.Src)
		if !ok {
			return 0, netip.Addr{}, 0, ErrInvalidPacket
		}

		return 6, src, n, nil
	default:
		return 0, netip.Addr{}, 0, ErrInvalidPacket
	}
}
