package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edup2p/wgtun/types"
)

// Socket is the transport to the peer, a connected datagram socket with per-call deadlines.
//
// Sending and receiving may happen at the same time, but each direction is serialised.
type Socket struct {
	conn   types.UDPConn
	remote netip.Addr

	timeout time.Duration
	backoff time.Duration

	sendMu sync.Mutex
	recvMu sync.Mutex

	retries atomic.Uint64

	log *slog.Logger
}

func NewSocket(conn types.UDPConn, timeout, backoff time.Duration, logger *slog.Logger) *Socket {
	return &Socket{
		conn:    conn,
		remote:  remoteAddr(conn),
		timeout: timeout,
		backoff: backoff,
		log:     logger,
	}
}

func remoteAddr(conn types.UDPConn) netip.Addr {
	switch a := conn.RemoteAddr().(type) {
	case *net.UDPAddr:
		return types.NormaliseAddr(a.AddrPort().Addr())
	case nil:
		return netip.Addr{}
	default:
		ap, err := netip.ParseAddrPort(a.String())
		if err != nil {
			return netip.Addr{}
		}
		return types.NormaliseAddr(ap.Addr())
	}
}

// Remote is the address of the peer this socket is connected to.
func (s *Socket) Remote() netip.Addr {
	return s.remote
}

// Send writes one datagram, retrying with a fixed backoff until it succeeds.
//
// It only gives up when the context is done or the socket is closed.
func (s *Socket) Send(ctx context.Context, pkt []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	for {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("send: %w", err)
		}

		_, err := s.conn.Write(pkt)
		if err == nil {
			return nil
		}

		if errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("send: %w", err)
		}

		s.retries.Add(1)
		s.log.Log(ctx, types.LevelTrace, "send failed, retrying", "err", err, "backoff", s.backoff)

		if !sleep(ctx, s.backoff) {
			return context.Cause(ctx)
		}
	}
}

// TryReceive reads one datagram into buf, unless another reader holds the receive direction,
// in which case it returns ErrReceiveBusy immediately.
func (s *Socket) TryReceive(buf []byte) (int, error) {
	if !s.recvMu.TryLock() {
		return 0, ErrReceiveBusy
	}
	defer s.recvMu.Unlock()

	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); errors.Is(err, net.ErrClosed) {
		return 0, err
	}

	return s.conn.Read(buf)
}

// Retries is the amount of failed send attempts so far.
func (s *Socket) Retries() uint64 {
	return s.retries.Load()
}

func (s *Socket) Close() error {
	return s.conn.Close()
}

// sleep waits for d, it returns false if the context finished first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
