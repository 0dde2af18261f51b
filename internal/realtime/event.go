package realtime

import "fmt"

// EventKind tags a socket lifecycle event.
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventClose
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one socket event. Payload is set for EventMessage, Err for EventError.
type Event struct {
	Kind    EventKind
	Payload []byte
	Err     error
}

func OpenEvent() Event { return Event{Kind: EventOpen} }

func MessageEvent(payload []byte) Event { return Event{Kind: EventMessage, Payload: payload} }

func CloseEvent() Event { return Event{Kind: EventClose} }

func ErrorEvent(err error) Event { return Event{Kind: EventError, Err: err} }
