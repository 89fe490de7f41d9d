package tunnel

import (
	"errors"
	"fmt"
)

// ConnectError is returned by Open when the peer's endpoint could not be resolved, bound, or connected to.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("could not connect to %q: %s", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// EngineInitError is returned by Open when the protocol engine rejected the key material.
type EngineInitError struct {
	Err error
}

func (e *EngineInitError) Error() string {
	return fmt.Sprintf("could not initialise protocol engine: %s", e.Err)
}

func (e *EngineInitError) Unwrap() error {
	return e.Err
}

var (
	ErrAlreadyRunning = errors.New("session is already running")
	ErrReceiveBusy    = errors.New("receive direction is held by another reader")
)
