package tunnel

import (
	"context"
	"net/netip"
	"time"

	"github.com/edup2p/wgtun/wgengine"
)

// Engine is the protocol engine a session drives, implemented by *wgengine.Tunn.
type Engine interface {
	FormatHandshakeInitiation(dst []byte, force bool) wgengine.Outcome
	Encapsulate(src, dst []byte) wgengine.Outcome
	Decapsulate(src netip.Addr, datagram, dst []byte) wgengine.Outcome
	Tick(dst []byte) wgengine.Outcome
	Stats() wgengine.Stats
}

var _ Engine = (*wgengine.Tunn)(nil)

// Guard owns an Engine and hands out exclusive access to it, one operation at a time.
//
// Blocked callers are served in the order they started waiting.
type Guard struct {
	sem    chan struct{}
	engine Engine
}

func NewGuard(e Engine) *Guard {
	return &Guard{
		sem:    make(chan struct{}, 1),
		engine: e,
	}
}

// Lock blocks until the engine is acquired, or the context is done.
func (g *Guard) Lock(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (g *Guard) TryLock() bool {
	select {
	case g.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// LockTimeout waits at most d for the engine, it reports whether it was acquired.
func (g *Guard) LockTimeout(d time.Duration) bool {
	if g.TryLock() {
		return true
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case g.sem <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}

func (g *Guard) Unlock() {
	select {
	case <-g.sem:
	default:
		panic("unlock of unlocked guard")
	}
}

func (g *Guard) FormatHandshakeInitiation(ctx context.Context, dst []byte, force bool) (wgengine.Outcome, error) {
	if err := g.Lock(ctx); err != nil {
		return wgengine.Outcome{}, err
	}
	defer g.Unlock()

	return g.engine.FormatHandshakeInitiation(dst, force), nil
}

func (g *Guard) Encapsulate(ctx context.Context, src, dst []byte) (wgengine.Outcome, error) {
	if err := g.Lock(ctx); err != nil {
		return wgengine.Outcome{}, err
	}
	defer g.Unlock()

	return g.engine.Encapsulate(src, dst), nil
}

func (g *Guard) Decapsulate(ctx context.Context, src netip.Addr, datagram, dst []byte) (wgengine.Outcome, error) {
	if err := g.Lock(ctx); err != nil {
		return wgengine.Outcome{}, err
	}
	defer g.Unlock()

	return g.engine.Decapsulate(src, datagram, dst), nil
}

// TryTick runs the engine's timers if the engine can be acquired within d.
func (g *Guard) TryTick(d time.Duration, dst []byte) (wgengine.Outcome, bool) {
	if !g.LockTimeout(d) {
		return wgengine.Outcome{}, false
	}
	defer g.Unlock()

	return g.engine.Tick(dst), true
}

func (g *Guard) Stats(ctx context.Context) (wgengine.Stats, error) {
	if err := g.Lock(ctx); err != nil {
		return wgengine.Stats{}, err
	}
	defer g.Unlock()

	return g.engine.Stats(), nil
}
