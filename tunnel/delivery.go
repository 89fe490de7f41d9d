package tunnel

import (
	"context"
	"log/slog"

	"github.com/edup2p/wgtun/types"
)

// LocalDelivery receives decrypted IP packets, pkt is only valid for the duration of the call.
type LocalDelivery interface {
	DeliverPacket(pkt []byte, ipVersion int) error
}

type DeliveryFunc func(pkt []byte, ipVersion int) error

func (f DeliveryFunc) DeliverPacket(pkt []byte, ipVersion int) error {
	return f(pkt, ipVersion)
}

// LogDelivery only logs the packets it receives, there is no network stack behind it.
type LogDelivery struct {
	Logger *slog.Logger
}

func (d LogDelivery) DeliverPacket(pkt []byte, ipVersion int) error {
	l := d.Logger
	if l == nil {
		l = slog.Default()
	}

	l.Info("received packet", "size", len(pkt), "ipv", ipVersion)
	l.Log(context.Background(), types.LevelTrace, "packet contents", "pkt", pkt)

	return nil
}
