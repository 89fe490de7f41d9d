package tunnel

import "fmt"

// Observer allows peeking into the session's state from the outside.
type Observer interface {
	RegisterStateChangeListener(func(state State))

	CurrentState() State
}

var _ Observer = (*Session)(nil)

type State byte

const (
	// NoSession means no handshake has been attempted yet.
	NoSession State = iota
	// Handshaking means an initiation went out, and no session is established yet.
	Handshaking
	Established
	// Expired means the session or handshake timed out, a new handshake follows.
	Expired
)

func (s State) String() string {
	switch s {
	case NoSession:
		return "NoSession"
	case Handshaking:
		return "Handshaking"
	case Established:
		return "Established"
	case Expired:
		return "Expired"
	default:
		return fmt.Sprintf("State(%d)", byte(s))
	}
}

func (s *Session) RegisterStateChangeListener(f func(state State)) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	s.listeners = append(s.listeners, f)
}

func (s *Session) CurrentState() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	return s.state
}

// setState changes the state, and notifies listeners if it differs.
func (s *Session) setState(state State) {
	s.stateMu.Lock()
	if s.state == state {
		s.stateMu.Unlock()
		return
	}
	prev := s.state
	s.state = state
	listeners := append([]func(State){}, s.listeners...)
	s.stateMu.Unlock()

	s.log.Debug("state changed", "from", prev, "to", state)

	for _, f := range listeners {
		f(state)
	}
}
