package websocket

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/driftloop/wsc/internal/wsutf8"
)

// Conn is a WebSocket client connection. It owns its Transport for its
// lifetime, drives the CONNECTING -> OPEN -> CLOSING -> CLOSED state
// machine of spec.md §3, and is safe to have one goroutine calling Send
// (and Close) while another calls Receive -- the concurrency model of
// spec.md §5.
type Conn struct {
	id          string
	cfg         Config
	transport   Transport
	sink        EventSink
	subprotocol string
	extensions  []string

	stateMu     sync.Mutex
	state       State
	closeRecord CloseRecord

	writeMu sync.Mutex // Serializes frame writes: "never interleave on the wire".

	decoder     *decoder
	accumulator *fragmentAccumulator

	messages chan Message
	done     chan struct{}
	doneOnce sync.Once
	finalErr error
	finalMu  sync.Mutex
}

// Dial establishes a WebSocket connection to rawURL ("ws://" or
// "wss://"), running the opening handshake of spec.md §4.1.
func Dial(ctx context.Context, rawURL string, cfg Config) (*Conn, error) {
	id := newConnID()
	sink := cfg.sink()
	sink.Handle(Event{Kind: EventHandshakeStart, ConnID: id, At: now()})

	hr, err := dialHandshake(ctx, rawURL, cfg)
	if err != nil {
		sink.Handle(Event{Kind: EventHandshakeFail, ConnID: id, Err: err, At: now()})
		return nil, err
	}
	sink.Handle(Event{Kind: EventHandshakeOK, ConnID: id, At: now()})

	c := newConn(id, hr.transport, sink, cfg, hr.subprotocol, hr.extensions)
	if len(hr.trailingData) > 0 {
		c.decoder.feed(hr.trailingData)
	}

	go c.readLoop()
	return c, nil
}

// newConn assembles an open Conn around an already-negotiated transport.
// It does not start readLoop, so callers that bypass Dial (tests driving
// a transport directly) can feed the decoder before frames start
// arriving.
func newConn(id string, transport Transport, sink EventSink, cfg Config, subprotocol string, extensions []string) *Conn {
	return &Conn{
		id:          id,
		cfg:         cfg,
		transport:   transport,
		sink:        sink,
		subprotocol: subprotocol,
		extensions:  extensions,
		state:       StateOpen,
		decoder:     newDecoder(cfg.MaxFrameSize),
		messages:    make(chan Message, 64),
		done:        make(chan struct{}),
	}
}

// Subprotocol returns the subprotocol negotiated during the handshake,
// or "" if none was offered or accepted.
func (c *Conn) Subprotocol() string { return c.subprotocol }

// Extensions returns the extension tokens accepted during the handshake.
func (c *Conn) Extensions() []string { return c.extensions }

func (c *Conn) getState() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// CloseRecord returns the close codes and reasons observed on each side,
// valid once the connection has reached StateClosed.
func (c *Conn) CloseRecord() CloseRecord {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.closeRecord
}

// Send transmits msg. It fails with *NotOpenError if the connection is
// not in StateOpen. Data messages larger than Config.MaxFrameSize are
// fragmented transparently; each fragment (and every control frame) is
// masked with a freshly generated key, per spec.md §4.2.
func (c *Conn) Send(ctx context.Context, msg Message) error {
	if c.getState() != StateOpen {
		return &NotOpenError{State: c.getState()}
	}

	switch msg.Kind {
	case KindText:
		return c.sendData(ctx, OpText, []byte(msg.Text))
	case KindBinary:
		return c.sendData(ctx, OpBinary, msg.Binary)
	case KindPing:
		return c.sendControl(ctx, OpPing, msg.Binary)
	case KindPong:
		return c.sendControl(ctx, OpPong, msg.Binary)
	default:
		return fmt.Errorf("websocket: cannot Send a message of kind %s directly; use Close", msg.Kind)
	}
}

func (c *Conn) sendControl(ctx context.Context, opcode Opcode, payload []byte) error {
	if len(payload) > 125 {
		return fmt.Errorf("websocket: control frames must have a payload of 0-125 bytes")
	}
	return c.writeFrame(ctx, opcode, payload, true)
}

func (c *Conn) sendData(ctx context.Context, opcode Opcode, payload []byte) error {
	limit := c.cfg.MaxFrameSize
	if limit == 0 || uint64(len(payload)) <= limit {
		return c.writeFrame(ctx, opcode, payload, true)
	}

	first := true
	for len(payload) > 0 {
		n := limit
		if uint64(len(payload)) < n {
			n = uint64(len(payload))
		}
		chunk := payload[:n]
		payload = payload[n:]
		op := opcode
		if !first {
			op = OpContinuation
		}
		if err := c.writeFrame(ctx, op, chunk, len(payload) == 0); err != nil {
			return err
		}
		first = false
	}
	return nil
}

// writeFrame masks and writes a single frame, serialized against every
// other concurrent writer of this connection (spec.md §5's "single
// writer path"). Control frames may preempt a data-fragment stream
// because each caller takes writeMu only for the duration of one frame.
func (c *Conn) writeFrame(ctx context.Context, opcode Opcode, payload []byte, fin bool) error {
	key, err := generateMaskKey()
	if err != nil {
		return err
	}
	b := EncodeFrame(Frame{
		Fin:     fin,
		Opcode:  opcode,
		Masked:  true,
		MaskKey: key,
		Payload: payload,
	})

	c.writeMu.Lock()
	err = c.transport.Send(ctx, b)
	c.writeMu.Unlock()
	if err != nil {
		c.failTransport(err)
		return &TransportError{Err: err}
	}
	c.sink.Handle(Event{Kind: EventFrameSent, ConnID: c.id, Opcode: opcode, Size: len(payload), At: now()})
	return nil
}

// Receive blocks until the next Message is available, ctx is done, or
// the connection reaches StateClosed, in which case it returns the
// end-of-stream sentinel io.EOF (possibly wrapped around a transport or
// protocol error that caused the close).
func (c *Conn) Receive(ctx context.Context) (Message, error) {
	select {
	case m, ok := <-c.messages:
		if !ok {
			return Message{}, c.endOfStreamErr()
		}
		return m, nil
	case <-c.done:
		select {
		case m, ok := <-c.messages:
			if ok {
				return m, nil
			}
		default:
		}
		return Message{}, c.endOfStreamErr()
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *Conn) endOfStreamErr() error {
	c.finalMu.Lock()
	defer c.finalMu.Unlock()
	if c.finalErr != nil {
		return fmt.Errorf("%w: %v", io.EOF, c.finalErr)
	}
	return io.EOF
}

// Close initiates (or completes) the closing handshake of spec.md §4.3:
// it sends a close frame with code/reason, then waits for the peer's
// close frame or transport teardown before returning. Calling Close on
// an already-Closing or Closed connection is a no-op that still waits
// for termination.
func (c *Conn) Close(ctx context.Context, code uint16, reason string) error {
	state := c.getState()
	if state == StateOpen {
		c.stateMu.Lock()
		c.closeRecord.LocalCode, c.closeRecord.LocalReason, c.closeRecord.LocalSet = code, reason, true
		c.state = StateClosing
		c.stateMu.Unlock()

		payload := closePayload(code, reason)
		if err := c.writeFrame(ctx, OpClose, payload, true); err != nil {
			c.finish(err)
			return err
		}
		c.sink.Handle(Event{Kind: EventCloseSent, ConnID: c.id, CloseCode: code, At: now()})
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func closePayload(code uint16, reason string) []byte {
	b := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(b, code)
	copy(b[2:], reason)
	return b
}

// readLoop is the sole goroutine that reads from the transport, decodes
// frames, and dispatches them per the table in spec.md §4.3. It owns the
// decoder and fragment accumulator exclusively.
func (c *Conn) readLoop() {
	defer c.finish(nil)

	ctx := context.Background()
	for {
		for {
			f, ok, err := c.decoder.next()
			if err != nil {
				c.protocolFail(ctx, err)
				return
			}
			if !ok {
				break
			}
			c.sink.Handle(Event{Kind: EventFrameReceived, ConnID: c.id, Opcode: f.Opcode, Size: len(f.Payload), At: now()})
			if done := c.handleFrame(ctx, f); done {
				return
			}
		}

		chunk, err := c.transport.Recv(ctx)
		if len(chunk) > 0 {
			c.decoder.feed(chunk)
		}
		if err != nil {
			if err == io.EOF && c.getState() == StateClosing {
				c.finishClose(StatusNoStatusReceived, "", true)
				return
			}
			c.sink.Handle(Event{Kind: EventTransportError, ConnID: c.id, Err: err, At: now()})
			c.finish(&TransportError{Err: err})
			return
		}
	}
}

// handleFrame dispatches one decoded frame per the inbound handler table
// of spec.md §4.3. It returns true once the connection should stop
// reading (a protocol error was raised and already handled, or the close
// handshake completed).
func (c *Conn) handleFrame(ctx context.Context, f Frame) bool {
	switch {
	case f.Opcode == OpClose:
		return c.handlePeerClose(ctx, f)

	case f.Opcode == OpPing:
		c.deliver(Message{Kind: KindPing, Binary: f.Payload})
		if c.cfg.autoPong() {
			if err := c.sendControl(ctx, OpPong, f.Payload); err != nil {
				return true
			}
			c.sink.Handle(Event{Kind: EventPong, ConnID: c.id, At: now()})
		}
		return false

	case f.Opcode == OpPong:
		c.deliver(Message{Kind: KindPong, Binary: f.Payload})
		return false

	case f.Opcode == OpContinuation:
		if c.accumulator == nil {
			c.protocolFail(ctx, &ProtocolError{CloseCode: StatusProtocolError, Detail: "continuation with no prior fragment"})
			return true
		}
		if err := c.accumulator.append(f.Payload); err != nil {
			c.protocolFail(ctx, err)
			return true
		}
		if !f.Fin {
			return false
		}
		msg, err := c.accumulator.finish()
		c.accumulator = nil
		if err != nil {
			c.protocolFail(ctx, err)
			return true
		}
		c.deliver(msg)
		return false

	case f.Opcode == OpText || f.Opcode == OpBinary:
		if c.accumulator != nil {
			c.protocolFail(ctx, &ProtocolError{CloseCode: StatusProtocolError, Detail: "new data frame while a fragmented message is open"})
			return true
		}
		if f.Fin {
			msg, err := finishSingleFrame(f)
			if err != nil {
				c.protocolFail(ctx, err)
				return true
			}
			c.deliver(msg)
			return false
		}
		fa, err := newFragmentAccumulator(f.Opcode, f.Payload, c.cfg.MaxMessageSize)
		if err != nil {
			c.protocolFail(ctx, err)
			return true
		}
		c.accumulator = fa
		return false

	default:
		c.protocolFail(ctx, &ProtocolError{CloseCode: StatusProtocolError, Detail: "unexpected opcode"})
		return true
	}
}

func finishSingleFrame(f Frame) (Message, error) {
	if f.Opcode == OpText {
		var v wsutf8.Validator
		if !v.Write(f.Payload) || !v.Finish() {
			return Message{}, &InvalidUTF8Error{}
		}
		return Message{Kind: KindText, Text: string(f.Payload)}, nil
	}
	return Message{Kind: KindBinary, Binary: f.Payload}, nil
}

func (c *Conn) deliver(m Message) {
	select {
	case c.messages <- m:
	case <-c.done:
	}
}

// handlePeerClose implements the peer-initiated half of spec.md §4.3's
// close handshake: parse the code/reason, echo a matching close frame
// (or 1000 if none was supplied), and transition to Closed.
func (c *Conn) handlePeerClose(ctx context.Context, f Frame) bool {
	code := StatusNoStatusReceived
	reason := ""
	if len(f.Payload) >= 2 {
		code = binary.BigEndian.Uint16(f.Payload[:2])
		reason = string(f.Payload[2:])
		if !validIncomingCloseCode(code) {
			c.protocolFail(ctx, &ProtocolError{CloseCode: StatusProtocolError, Detail: fmt.Sprintf("invalid close code %d", code)})
			return true
		}
	}
	c.sink.Handle(Event{Kind: EventCloseReceived, ConnID: c.id, CloseCode: code, At: now()})

	state := c.getState()
	if state == StateOpen {
		echoCode := code
		if len(f.Payload) < 2 {
			echoCode = StatusNormalClosure
		}
		c.setState(StateClosing)
		_ = c.writeFrame(ctx, OpClose, closePayload(echoCode, ""), true)
		c.sink.Handle(Event{Kind: EventCloseSent, ConnID: c.id, CloseCode: echoCode, At: now()})
	}

	c.finishClose(code, reason, true)
	return true
}

func (c *Conn) finishClose(code uint16, reason string, remoteSet bool) {
	c.stateMu.Lock()
	c.closeRecord.RemoteCode = code
	c.closeRecord.RemoteReason = reason
	c.closeRecord.RemoteSet = remoteSet
	c.state = StateClosed
	c.stateMu.Unlock()
	c.finish(nil)
}

// protocolFail reports a decoder/core protocol violation: it attempts a
// best-effort close frame carrying the violation's close code, then
// tears the connection down (spec.md §7's propagation policy).
func (c *Conn) protocolFail(ctx context.Context, err error) {
	code := closeCodeFor(err)
	c.sink.Handle(Event{Kind: EventProtocolError, ConnID: c.id, Err: err, CloseCode: code, At: now()})
	if c.getState() == StateOpen || c.getState() == StateClosing {
		c.setState(StateClosing)
		_ = c.writeFrame(ctx, OpClose, closePayload(code, ""), true)
	}
	c.finish(err)
}

func (c *Conn) failTransport(err error) {
	c.finish(&TransportError{Err: err})
}

// finish tears the connection down exactly once: transitions to Closed
// (synthesizing 1006 if nothing else already set a close record),
// closes the transport, and unblocks every Receive/Close waiter.
func (c *Conn) finish(err error) {
	c.doneOnce.Do(func() {
		c.stateMu.Lock()
		if !c.closeRecord.RemoteSet && c.state != StateClosed {
			c.closeRecord.RemoteCode = StatusAbnormalClosure
			c.closeRecord.RemoteSet = true
		}
		c.state = StateClosed
		c.stateMu.Unlock()

		if err != nil {
			c.finalMu.Lock()
			c.finalErr = err
			c.finalMu.Unlock()
		}

		c.transport.Close()
		close(c.done)
	})
}

func now() time.Time { return time.Now() }
