package websocket

// State is the connection's position in the CONNECTING -> OPEN -> CLOSING
// -> CLOSED lifecycle (spec.md §3).
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Close status codes, per https://datatracker.ietf.org/doc/html/rfc6455#section-7.4.1.
const (
	StatusNormalClosure    uint16 = 1000
	StatusGoingAway        uint16 = 1001
	StatusProtocolError    uint16 = 1002
	StatusUnsupportedData  uint16 = 1003
	StatusNoStatusReceived uint16 = 1005 // Synthetic only; never on the wire.
	StatusAbnormalClosure  uint16 = 1006 // Synthetic only; never on the wire.
	StatusInvalidPayload   uint16 = 1007
	StatusPolicyViolation  uint16 = 1008
	StatusMessageTooBig    uint16 = 1009
	StatusMandatoryExt     uint16 = 1010
	StatusInternalError    uint16 = 1011
	StatusTLSHandshake     uint16 = 1015 // Synthetic only; never on the wire.
)

// validIncomingCloseCode reports whether code is one a peer is allowed to
// send on the wire, per spec.md §4.3: 1000, 1001, 1002, 1003, 1007-1011,
// or the private-use range 3000-4999. 1004, 1005, 1006 and 1015 are
// reserved and must never appear on the wire.
func validIncomingCloseCode(code uint16) bool {
	switch {
	case code == StatusNormalClosure, code == StatusGoingAway,
		code == StatusProtocolError, code == StatusUnsupportedData:
		return true
	case code >= StatusInvalidPayload && code <= StatusInternalError:
		return true
	case code >= 3000 && code <= 4999:
		return true
	default:
		return false
	}
}

// CloseRecord captures both sides of the close handshake, as observed
// before the connection transitions to Closed.
type CloseRecord struct {
	// LocalCode/LocalReason are set when this side initiated the close.
	LocalCode   uint16
	LocalReason string
	LocalSet    bool

	// RemoteCode/RemoteReason are set when the peer's close frame was
	// observed (or synthesized as 1005/1006 when it wasn't).
	RemoteCode   uint16
	RemoteReason string
	RemoteSet    bool
}
