package websocket

import (
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
)

// EventKind is the closed set of structured events the connection core
// emits in place of calling a global logger (spec.md §9's design note).
type EventKind int

const (
	EventHandshakeStart EventKind = iota
	EventHandshakeOK
	EventHandshakeFail
	EventFrameSent
	EventFrameReceived
	EventPing
	EventPong
	EventCloseSent
	EventCloseReceived
	EventProtocolError
	EventTransportError
)

func (k EventKind) String() string {
	switch k {
	case EventHandshakeStart:
		return "handshake_start"
	case EventHandshakeOK:
		return "handshake_ok"
	case EventHandshakeFail:
		return "handshake_fail"
	case EventFrameSent:
		return "frame_sent"
	case EventFrameReceived:
		return "frame_received"
	case EventPing:
		return "ping"
	case EventPong:
		return "pong"
	case EventCloseSent:
		return "close_sent"
	case EventCloseReceived:
		return "close_received"
	case EventProtocolError:
		return "protocol_error"
	case EventTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Event is a single structured occurrence within a connection's
// lifetime, routed to whatever EventSink the caller configured.
type Event struct {
	Kind      EventKind
	ConnID    string
	Opcode    Opcode
	Size      int
	CloseCode uint16
	Err       error
	At        time.Time
}

// EventSink receives connection events. Implementations must not block
// the connection core for long, and must be safe for concurrent use by
// a reader and writer goroutine.
type EventSink interface {
	Handle(Event)
}

// EventSinkFunc adapts a plain function to an EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Handle(e Event) { f(e) }

// noopSink discards every event; it's the zero-value default when a
// Config carries no EventSink, so the core never needs a nil check.
type noopSink struct{}

func (noopSink) Handle(Event) {}

// ZerologSink fans events out to a zerolog.Logger, the structured
// logging library used across the example pack's HTTP, gRPC and
// Temporal layers. It plays the same "adapt a foreign event shape onto
// zerolog" role pkg/temporal/logger.go's LogAdapter does for Temporal's
// own Logger interface.
type ZerologSink struct {
	Logger zerolog.Logger
}

func (s ZerologSink) Handle(e Event) {
	var ev *zerolog.Event
	switch e.Kind {
	case EventProtocolError, EventTransportError, EventHandshakeFail:
		ev = s.Logger.Error()
	case EventCloseSent, EventCloseReceived:
		ev = s.Logger.Warn()
	default:
		ev = s.Logger.Debug()
	}
	ev = ev.Str("conn_id", e.ConnID).Str("event", e.Kind.String()).Time("at", e.At)
	if e.Size > 0 {
		ev = ev.Int("size", e.Size)
	}
	if e.CloseCode != 0 {
		ev = ev.Uint16("close_code", e.CloseCode)
	}
	if e.Err != nil {
		ev = ev.Err(e.Err)
	}
	ev.Msg(e.Kind.String())
}

// newConnID generates a short, log-friendly correlation ID for a
// connection, using the same shortuuid encoding as the Thrippy link IDs
// in tzrikka-timpani/internal/thrippy.
func newConnID() string {
	return shortuuid.New()
}
