package session

import "fmt"

// State is the lifecycle state of a session.
type State int32

const (
	StateUninitialized State = iota
	StateAwaitingBackend
	StateStreaming
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingBackend:
		return "awaiting_backend"
	case StateStreaming:
		return "streaming"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// BackendState is the state of the session's backend link.
type BackendState int32

const (
	BackendDisconnected BackendState = iota
	BackendConnecting
	BackendReady
	BackendClosing
)

func (s BackendState) String() string {
	switch s {
	case BackendDisconnected:
		return "disconnected"
	case BackendConnecting:
		return "connecting"
	case BackendReady:
		return "ready"
	case BackendClosing:
		return "closing"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}
