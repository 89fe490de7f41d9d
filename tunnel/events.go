package tunnel

import (
	"slices"
	"sync"

	"golang.org/x/exp/maps"
)

type Event interface {
	EventName() string
}

// EventSink receives everything of note a session does, Emit must not block.
type EventSink interface {
	Emit(Event)
}

type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) {
	f(e)
}

// HandshakeSent is a handshake initiation that left the socket.
type HandshakeSent struct {
	// Whether this was a re-handshake after the connection expired
	Renewal bool
}

func (HandshakeSent) EventName() string {
	return "HandshakeSent"
}

// HandshakeFailed means the engine refused to produce a handshake initiation.
type HandshakeFailed struct {
	Err error
}

func (HandshakeFailed) EventName() string {
	return "HandshakeFailed"
}

// PacketSent is any datagram that left the socket, besides handshake initiations.
type PacketSent struct {
	Size int
}

func (PacketSent) EventName() string {
	return "PacketSent"
}

type PacketDelivered struct {
	Size      int
	IPVersion int
}

func (PacketDelivered) EventName() string {
	return "PacketDelivered"
}

// PacketDiscarded is a datagram or payload the engine rejected.
type PacketDiscarded struct {
	Err error
}

func (PacketDiscarded) EventName() string {
	return "PacketDiscarded"
}

type SessionExpired struct{}

func (SessionExpired) EventName() string {
	return "SessionExpired"
}

type TickFailed struct {
	Err error
}

func (TickFailed) EventName() string {
	return "TickFailed"
}

// LockContended is emitted every time an operation backs off because another one held what it needed.
type LockContended struct {
	Op string
}

func (LockContended) EventName() string {
	return "LockContended"
}

// EventCounter is an EventSink that counts events by name.
type EventCounter struct {
	mu     sync.Mutex
	counts map[string]uint64
}

func NewEventCounter() *EventCounter {
	return &EventCounter{counts: make(map[string]uint64)}
}

func (c *EventCounter) Emit(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counts[e.EventName()]++
}

func (c *EventCounter) Count(name string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.counts[name]
}

// Names returns the names of all events seen so far, sorted.
func (c *EventCounter) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := maps.Keys(c.counts)
	slices.Sort(names)
	return names
}

func (c *EventCounter) Snapshot() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return maps.Clone(c.counts)
}

// multiSink fans events out to several sinks.
type multiSink []EventSink

func (m multiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// MultiSink combines sinks, nil sinks are skipped.
func MultiSink(sinks ...EventSink) EventSink {
	var m multiSink
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}
