package dongle

import (
	"fmt"

	"github.com/ardnew/carlink/protocol"
)

// EventKind discriminates an [Event].
type EventKind uint8

// Event kinds.
const (
	// EventConnected is emitted once a session has completed its handshake
	// and is streaming.
	EventConnected EventKind = iota + 1

	// EventDisconnected is emitted when a streaming session ends without a
	// failure, including after an explicit Close.
	EventDisconnected

	// EventFailure is emitted once when a session is force-closed, either by
	// the error ceiling or by a failed start.
	EventFailure

	// EventMessage carries a decoded inbound message.
	EventMessage
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventFailure:
		return "failure"
	case EventMessage:
		return "message"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is delivered to registered handlers. Message is set only for
// [EventMessage] and Err only for [EventFailure].
type Event struct {
	Kind    EventKind
	Message protocol.Readable
	Err     error
}

// String returns a short description of the event.
func (e Event) String() string {
	switch e.Kind {
	case EventMessage:
		if e.Message == nil {
			return "message(nil)"
		}
		return fmt.Sprintf("message(%s)", e.Message.MessageType())
	case EventFailure:
		return fmt.Sprintf("failure(%v)", e.Err)
	default:
		return e.Kind.String()
	}
}

// Handler receives session events. HandleEvent is called from the session's
// receive goroutine and must not block for long; message events are
// delivered in the order frames arrive on the IN endpoint.
type Handler interface {
	HandleEvent(Event)
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(Event)

// HandleEvent calls f(e).
func (f HandlerFunc) HandleEvent(e Event) { f(e) }
