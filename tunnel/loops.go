package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/edup2p/wgtun/types"
	"github.com/edup2p/wgtun/wgengine"
)

// ReceiveLoop reads datagrams from the peer and feeds them to the engine, until the context is done.
//
// Bad datagrams, read timeouts, and transient errors are contained; only a closed socket ends the loop early.
func (s *Session) ReceiveLoop(ctx context.Context) (err error) {
	defer func() {
		if v := recover(); v != nil {
			s.log.Error("receive loop panicked", "panic", v)
			err = fmt.Errorf("receive loop panicked: %v", v)
		}
	}()

	in := make([]byte, wgengine.MaxPacketSize)
	out := make([]byte, wgengine.MaxPacketSize)

	for {
		if types.IsContextDone(ctx) {
			return nil
		}

		n, err := s.sock.TryReceive(in)

		switch {
		case err == nil:
		case errors.Is(err, ErrReceiveBusy):
			s.emit(LockContended{Op: "receive"})
			sleep(ctx, s.opts.RecvPause)
			continue
		case errors.Is(err, os.ErrDeadlineExceeded):
			continue
		case errors.Is(err, net.ErrClosed):
			return fmt.Errorf("receive: %w", err)
		default:
			s.log.Debug("receive failed", "err", err)
			sleep(ctx, s.opts.RecvPause)
			continue
		}

		if err := s.handleDatagram(ctx, in[:n], out); err != nil {
			if types.IsContextDone(ctx) {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.Debug("could not handle datagram", "err", err)
		}
	}
}

func (s *Session) handleDatagram(ctx context.Context, datagram, out []byte) error {
	o, err := s.guard.Decapsulate(ctx, s.sock.Remote(), datagram, out)
	if err != nil {
		return err
	}

	switch o.Kind {
	case wgengine.KindIdle:
	case wgengine.KindFatal, wgengine.KindRecoverable:
		s.log.Log(ctx, types.LevelTrace, "discarding datagram", "err", o.Err, "size", len(datagram))
		s.emit(PacketDiscarded{Err: o.Err})
		return nil
	case wgengine.KindEmitToNetwork:
		if err := s.sendOutcome(ctx, o.Packet); err != nil {
			return err
		}
	case wgengine.KindDeliverLocal:
		s.deliver(o)
	}

	if err := s.flushQueued(ctx, out); err != nil {
		return err
	}

	return s.observeEngine(ctx)
}

func (s *Session) deliver(o wgengine.Outcome) {
	if err := s.delivery.DeliverPacket(o.Packet, o.IPVersion); err != nil {
		s.log.Warn("local delivery failed", "err", err, "size", len(o.Packet))
		return
	}

	s.emit(PacketDelivered{Size: len(o.Packet), IPVersion: o.IPVersion})
}

// flushQueued sends out the packets the engine held back while there was no session.
func (s *Session) flushQueued(ctx context.Context, out []byte) error {
	for {
		o, err := s.guard.Decapsulate(ctx, s.sock.Remote(), nil, out)
		if err != nil {
			return err
		}

		if o.Kind != wgengine.KindEmitToNetwork {
			return nil
		}

		if err := s.sendOutcome(ctx, o.Packet); err != nil {
			return err
		}
	}
}

// observeEngine moves the session to Established once the engine has a usable session.
func (s *Session) observeEngine(ctx context.Context) error {
	st, err := s.guard.Stats(ctx)
	if err != nil {
		return err
	}

	if st.Established {
		s.setState(Established)
	}

	return nil
}

// MaintenanceLoop drives the engine's timers until the context is done.
//
// When the engine reports the connection as expired, a new handshake is initiated.
// The loop ends early when the socket turns out to be closed.
func (s *Session) MaintenanceLoop(ctx context.Context) (err error) {
	defer func() {
		if v := recover(); v != nil {
			s.log.Error("maintenance loop panicked", "panic", v)
			err = fmt.Errorf("maintenance loop panicked: %v", v)
		}
	}()

	buf := make([]byte, wgengine.MaxPacketSize)

	for {
		if types.IsContextDone(ctx) {
			return nil
		}

		o, ok := s.guard.TryTick(s.opts.GuardTimeout, buf)
		if !ok {
			s.emit(LockContended{Op: "tick"})
			continue
		}

		switch o.Kind {
		case wgengine.KindIdle:
			sleep(ctx, s.opts.TickInterval)
		case wgengine.KindRecoverable:
			if errors.Is(o.Err, wgengine.ErrConnectionExpired) {
				s.log.Info("connection expired, initiating new handshake")
				s.emit(SessionExpired{})
				s.setState(Expired)

				if err := s.initiateHandshake(ctx, true); err != nil && !types.IsContextDone(ctx) {
					if errors.Is(err, net.ErrClosed) {
						return fmt.Errorf("maintenance: %w", err)
					}
					s.log.Warn("could not initiate new handshake", "err", err)
				}
			} else {
				s.log.Warn("tick failed", "err", o.Err)
				s.emit(TickFailed{Err: o.Err})
			}
		case wgengine.KindFatal:
			s.log.Warn("tick failed", "err", o.Err)
			s.emit(TickFailed{Err: o.Err})
			sleep(ctx, s.opts.TickInterval)
		case wgengine.KindEmitToNetwork:
			if err := s.sendOutcome(ctx, o.Packet); err != nil && !types.IsContextDone(ctx) {
				if errors.Is(err, net.ErrClosed) {
					return fmt.Errorf("maintenance: %w", err)
				}
				s.log.Debug("could not send timer datagram", "err", err)
			}
		}
	}
}
