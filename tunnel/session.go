// Package tunnel runs one encrypted tunnel session with one peer.
//
// A Session owns a protocol engine behind a Guard and a connected Socket,
// and coordinates handshakes, outbound payloads, inbound datagrams, and timers against them.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edup2p/wgtun/types"
	"github.com/edup2p/wgtun/types/key"
	"github.com/edup2p/wgtun/types/msgwg"
	"github.com/edup2p/wgtun/wgengine"
	"golang.org/x/sync/errgroup"
	"golang.zx2c4.com/wireguard/ratelimiter"
)

type Options struct {
	// Optional, defaults to slog.Default()
	Logger *slog.Logger
	// Optional
	Events EventSink
	// Optional, defaults to LogDelivery
	Delivery LocalDelivery

	// Deadline of every socket read and write, defaults to 1 second.
	IOTimeout time.Duration
	// Pause between send attempts, defaults to 10 milliseconds.
	SendBackoff time.Duration
	// Pause when the receive direction is busy, or a read failed, defaults to 10 milliseconds.
	RecvPause time.Duration
	// Pause between idle timer ticks, defaults to 1 millisecond.
	TickInterval time.Duration
	// How long the maintenance loop waits for the engine before skipping a tick, defaults to 100 milliseconds.
	GuardTimeout time.Duration

	// Answer handshake floods with cookies.
	RateLimit bool

	// Use this connection instead of dialing the endpoint.
	Conn types.UDPConn
}

const (
	DefaultIOTimeout    = time.Second
	DefaultSendBackoff  = 10 * time.Millisecond
	DefaultRecvPause    = 10 * time.Millisecond
	DefaultTickInterval = time.Millisecond
	DefaultGuardTimeout = 100 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Delivery == nil {
		o.Delivery = LogDelivery{Logger: o.Logger}
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = DefaultIOTimeout
	}
	if o.SendBackoff <= 0 {
		o.SendBackoff = DefaultSendBackoff
	}
	if o.RecvPause <= 0 {
		o.RecvPause = DefaultRecvPause
	}
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.GuardTimeout <= 0 {
		o.GuardTimeout = DefaultGuardTimeout
	}
	return o
}

// Session is one tunnel with one peer.
//
// All methods are safe for concurrent use, the loops are meant to run in their own goroutines.
type Session struct {
	cfg  PeerConfig
	opts Options

	guard *Guard
	sock  *Socket

	limiter *ratelimiter.Ratelimiter

	log      *slog.Logger
	events   EventSink
	delivery LocalDelivery

	bufs sync.Pool

	running   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	stateMu   sync.Mutex
	state     State
	listeners []func(State)
}

// Open connects to the peer's endpoint and sets up the protocol engine.
//
// It fails with a *ConnectError or an *EngineInitError, nothing is left open in that case.
func Open(cfg PeerConfig, opts Options) (*Session, error) {
	opts = opts.withDefaults()

	conn := opts.Conn
	if conn == nil {
		c, err := dial(cfg.Endpoint)
		if err != nil {
			return nil, &ConnectError{Endpoint: cfg.Endpoint, Err: err}
		}
		conn = c
	}

	var limiter *ratelimiter.Ratelimiter
	if opts.RateLimit {
		limiter = new(ratelimiter.Ratelimiter)
		limiter.Init()
	}

	var psk *key.Preshared
	if cfg.PresharedKey.Valid {
		psk = &cfg.PresharedKey.Val
	}

	eng, err := wgengine.New(wgengine.Config{
		PrivateKey:   cfg.PrivateKey,
		PeerPublic:   cfg.PeerPublic,
		PresharedKey: psk,
		Keepalive:    cfg.keepalive(),
		Index:        0,
		Limiter:      limiter,
	})
	if err != nil {
		_ = conn.Close()
		if limiter != nil {
			limiter.Close()
		}
		return nil, &EngineInitError{Err: err}
	}

	s := newSession(cfg, opts, eng, conn)
	s.limiter = limiter

	s.log.Info("session opened", "local", conn.LocalAddr(), "remote", conn.RemoteAddr(), "address", cfg.Address)

	return s, nil
}

func dial(endpoint string) (*net.UDPConn, error) {
	raddr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("could not resolve: %w", err)
	}

	laddr := &net.UDPAddr{IP: net.IPv4zero}
	if raddr.IP.To4() == nil {
		laddr.IP = net.IPv6unspecified
	}

	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("could not dial: %w", err)
	}

	return conn, nil
}

func newSession(cfg PeerConfig, opts Options, eng Engine, conn types.UDPConn) *Session {
	opts = opts.withDefaults()

	logger := opts.Logger.With("peer", cfg.PeerPublic.Debug()[:8])

	return &Session{
		cfg:      cfg,
		opts:     opts,
		guard:    NewGuard(eng),
		sock:     NewSocket(conn, opts.IOTimeout, opts.SendBackoff, logger.With("component", "socket")),
		log:      logger,
		events:   opts.Events,
		delivery: opts.Delivery,
		bufs: sync.Pool{
			New: func() any {
				b := make([]byte, wgengine.MaxPacketSize)
				return &b
			},
		},
	}
}

func (s *Session) emit(e Event) {
	if s.events != nil {
		s.events.Emit(e)
	}
}

func (s *Session) getBuf() *[]byte {
	return s.bufs.Get().(*[]byte)
}

func (s *Session) putBuf(b *[]byte) {
	s.bufs.Put(b)
}

func (s *Session) Config() PeerConfig {
	return s.cfg
}

// Guard gives access to the session's engine.
func (s *Session) Guard() *Guard {
	return s.guard
}

func (s *Session) Socket() *Socket {
	return s.sock
}

// InitiateHandshake sends a handshake initiation, unless one is already in flight.
func (s *Session) InitiateHandshake(ctx context.Context) error {
	return s.initiateHandshake(ctx, false)
}

func (s *Session) initiateHandshake(ctx context.Context, renewal bool) error {
	bp := s.getBuf()
	defer s.putBuf(bp)

	out, err := s.guard.FormatHandshakeInitiation(ctx, *bp, false)
	if err != nil {
		return err
	}

	switch out.Kind {
	case wgengine.KindEmitToNetwork:
		if err := s.sock.Send(ctx, out.Packet); err != nil {
			return fmt.Errorf("could not send handshake initiation: %w", err)
		}

		s.log.Debug("handshake initiation sent", "renewal", renewal)
		s.emit(HandshakeSent{Renewal: renewal})
		s.setState(Handshaking)

		return nil
	case wgengine.KindFatal, wgengine.KindRecoverable:
		s.log.Warn("could not format handshake initiation", "err", out.Err)
		s.emit(HandshakeFailed{Err: out.Err})

		return out.Err
	default:
		return nil
	}
}

// SendPayload encrypts an IP packet and sends it to the peer.
//
// Without a session the packet is held back by the engine, and a handshake initiation is sent in its stead.
// Errors are only returned when the context is done or the socket is closed.
func (s *Session) SendPayload(ctx context.Context, plaintext []byte) error {
	bp := s.getBuf()
	defer s.putBuf(bp)

	out, err := s.guard.Encapsulate(ctx, plaintext, *bp)
	if err != nil {
		return err
	}

	switch out.Kind {
	case wgengine.KindEmitToNetwork:
		return s.sendOutcome(ctx, out.Packet)
	case wgengine.KindFatal, wgengine.KindRecoverable:
		s.log.Debug("dropping outbound payload", "err", out.Err, "size", len(plaintext))
		s.emit(PacketDiscarded{Err: out.Err})
	}

	return nil
}

// sendOutcome sends a datagram the engine produced, and records what it was.
func (s *Session) sendOutcome(ctx context.Context, pkt []byte) error {
	if err := s.sock.Send(ctx, pkt); err != nil {
		return err
	}

	if typ, _ := msgwg.PeekType(pkt); typ == msgwg.InitiationMessage {
		s.emit(HandshakeSent{})
		if s.CurrentState() != Established {
			s.setState(Handshaking)
		}
	} else {
		s.log.Log(ctx, types.LevelTrace, "sent datagram", "size", len(pkt), "type", typ)
		s.emit(PacketSent{Size: len(pkt)})
	}

	return nil
}

// Run sends the first handshake initiation, and runs the receive and maintenance loops until the context is done,
// the session is closed, or a loop fails.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.ReceiveLoop(gctx)
	})
	g.Go(func() error {
		return s.MaintenanceLoop(gctx)
	})

	if err := s.InitiateHandshake(gctx); err != nil {
		s.log.Warn("initial handshake failed", "err", err)
	}

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) && s.closed.Load() {
		return nil
	}

	return err
}

// Stats is a snapshot of a session's counters.
type Stats struct {
	wgengine.Stats

	State       State
	SendRetries uint64
}

func (s *Session) Stats(ctx context.Context) (Stats, error) {
	es, err := s.guard.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		Stats:       es,
		State:       s.CurrentState(),
		SendRetries: s.sock.Retries(),
	}, nil
}

// Close closes the socket, which stops the loops.
func (s *Session) Close() error {
	var err error

	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.sock.Close()
		if s.limiter != nil {
			s.limiter.Close()
		}
		s.log.Info("session closed")
	})

	return err
}
