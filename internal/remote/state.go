package remote

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrInvalidState is returned when an operation is invalid for the
	// record's current state.
	ErrInvalidState = errors.New("invalid remote process state for operation")
	// ErrShuttingDown is returned when the manager is shutting down.
	ErrShuttingDown = errors.New("remote process manager is shutting down")
	// ErrNotConnected is returned by Transact before the agent's channel
	// is connected, and after it is gone.
	ErrNotConnected = errors.New("remote process not connected")
	// ErrUnsupported is returned for window operations on platforms
	// without console windows.
	ErrUnsupported = errors.New("not supported on this platform")
)

// State is the lifecycle state of a remote process record. States only
// move forward.
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateAttaching
	StateCloning
	StateInjecting
	StateRunning
	StateClosing
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateAttaching:
		return "attaching"
	case StateCloning:
		return "cloning"
	case StateInjecting:
		return "injecting"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// stateBox is an atomically updated State.
type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) Load() State { return State(b.v.Load()) }

// CompareAndSwap moves from old to next.
func (b *stateBox) CompareAndSwap(old, next State) bool {
	return b.v.CompareAndSwap(int32(old), int32(next))
}

// Advance moves to s unless the state is already at or past it. It
// reports whether it moved.
func (b *stateBox) Advance(s State) bool {
	for {
		cur := b.v.Load()
		if cur >= int32(s) {
			return false
		}
		if b.v.CompareAndSwap(cur, int32(s)) {
			return true
		}
	}
}
