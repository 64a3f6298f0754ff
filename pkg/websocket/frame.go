package websocket

import (
	"encoding/binary"
	"math"
)

// Frame is the unit of the wire protocol, per
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.2.
type Frame struct {
	Fin                bool
	RSV1, RSV2, RSV3   bool
	Opcode             Opcode
	Masked             bool
	MaskKey            [4]byte
	Payload            []byte // Unmasked at the logical level.
}

// EncodeFrame produces the canonical wire encoding of f. If f.Masked,
// the payload in the returned bytes is masked with f.MaskKey; f.Payload
// itself is left untouched.
func EncodeFrame(f Frame) []byte {
	n := len(f.Payload)

	var first byte
	if f.Fin {
		first |= 0x80
	}
	if f.RSV1 {
		first |= 0x40
	}
	if f.RSV2 {
		first |= 0x20
	}
	if f.RSV3 {
		first |= 0x10
	}
	first |= byte(f.Opcode) & 0x0f

	var second byte
	if f.Masked {
		second |= 0x80
	}

	var extLen []byte
	switch {
	case n <= 125:
		second |= byte(n)
	case n <= math.MaxUint16:
		second |= 126
		extLen = make([]byte, 2)
		binary.BigEndian.PutUint16(extLen, uint16(n))
	default:
		second |= 127
		extLen = make([]byte, 8)
		binary.BigEndian.PutUint64(extLen, uint64(n))
	}

	headerLen := 2 + len(extLen)
	if f.Masked {
		headerLen += 4
	}
	out := make([]byte, headerLen+n)
	out[0] = first
	out[1] = second
	pos := 2
	pos += copy(out[pos:], extLen)
	if f.Masked {
		pos += copy(out[pos:], f.MaskKey[:])
		maskBytes(out[pos:], f.Payload, f.MaskKey)
	} else {
		copy(out[pos:], f.Payload)
	}
	return out
}

// decodeState names the states of the restartable frame decoder, per
// spec.md §4.2: Header1 -> Header2 -> ExtLen(2 or 8) -> MaskKey(optional)
// -> Payload(n) -> Done.
type decodeState int

const (
	stateHeader1 decodeState = iota
	stateHeader2
	stateExtLen
	stateMaskKey
	statePayload
	stateDone
)

// decoder is a streaming, restartable parser over an append-only ingress
// buffer: it either yields one complete Frame (advancing the cursor) or
// reports "need more bytes", keeping the header fields it has already
// parsed so the next call resumes where this one stopped. It does not itself
// validate UTF-8 or message sequencing (the connection core's job); it
// does enforce the frame-level invariants of spec.md §3/§4.2.
//
// The buffering strategy -- grow the ingress buffer as bytes arrive,
// compact it once a frame is fully consumed -- is modeled on the
// wsGet/wsReadInfo pattern in nats-server's server/websocket.go, adapted
// from a blocking io.Reader pull to an append-only push (the Transport
// interface in spec.md §4.4 hands us whatever bytes are available).
type decoder struct {
	buf    []byte
	cursor int

	state   decodeState
	partial Frame
	extLen  int // bytes still needed for the extended length field.

	maxFrameSize uint64

	// rejectMaskedIngress enforces spec.md §4.2's "server→client frames
	// must not be masked" rule. Conn always decodes with this set; tests
	// exercising the codec in isolation (encode/decode round trips over
	// masked frames) use a decoder constructed without it.
	rejectMaskedIngress bool
}

func newDecoder(maxFrameSize uint64) *decoder {
	return &decoder{maxFrameSize: maxFrameSize, rejectMaskedIngress: true}
}

// newCodecTestDecoder builds a decoder that accepts masked frames, for
// exercising EncodeFrame/decode round trips independent of which
// direction on the wire a masked frame is legal in.
func newCodecTestDecoder() *decoder {
	return &decoder{}
}

// feed appends b to the ingress buffer.
func (d *decoder) feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// pending reports whether unconsumed bytes remain in the ingress buffer.
func (d *decoder) pending() bool {
	return d.cursor < len(d.buf)
}

// next attempts to decode one frame from the buffered bytes. It returns
// (frame, true, nil) on success, (Frame{}, false, nil) if more bytes are
// needed, or (Frame{}, false, err) on a hard protocol violation -- each
// error is a *ProtocolError or *MessageTooLargeError carrying the close
// code spec.md §4.2 assigns it.
func (d *decoder) next() (Frame, bool, error) {
	for {
		avail := len(d.buf) - d.cursor
		switch d.state {
		case stateHeader1:
			if avail < 1 {
				return Frame{}, false, nil
			}
			b := d.buf[d.cursor]
			d.cursor++
			d.partial = Frame{
				Fin:    b&0x80 != 0,
				RSV1:   b&0x40 != 0,
				RSV2:   b&0x20 != 0,
				RSV3:   b&0x10 != 0,
				Opcode: Opcode(b & 0x0f),
			}
			if d.partial.RSV1 || d.partial.RSV2 || d.partial.RSV3 {
				return Frame{}, false, &ProtocolError{
					CloseCode: StatusProtocolError,
					Detail:    "non-zero reserved bit with no extension negotiated",
				}
			}
			if d.partial.Opcode.isReserved() {
				return Frame{}, false, &ProtocolError{
					CloseCode: StatusProtocolError,
					Detail:    "reserved opcode",
				}
			}
			if d.partial.Opcode.IsControl() && !d.partial.Fin {
				return Frame{}, false, &ProtocolError{
					CloseCode: StatusProtocolError,
					Detail:    "fragmented control frame",
				}
			}
			d.state = stateHeader2

		case stateHeader2:
			if avail < 1 {
				return Frame{}, false, nil
			}
			b := d.buf[d.cursor]
			d.cursor++
			d.partial.Masked = b&0x80 != 0
			if d.partial.Masked && d.rejectMaskedIngress {
				// A server MUST NOT mask frames it sends to the client.
				return Frame{}, false, &ProtocolError{
					CloseCode: StatusProtocolError,
					Detail:    "server masked a frame",
				}
			}
			length7 := b & 0x7f
			switch {
			case length7 <= 125:
				if err := d.checkControlLength(uint64(length7)); err != nil {
					return Frame{}, false, err
				}
				d.setPendingLength(uint64(length7))
				d.state = d.stateAfterLength()
			case length7 == 126:
				d.extLen = 2
				d.state = stateExtLen
			default: // 127
				d.extLen = 8
				d.state = stateExtLen
			}

		case stateExtLen:
			if avail < d.extLen {
				return Frame{}, false, nil
			}
			raw := d.buf[d.cursor : d.cursor+d.extLen]
			d.cursor += d.extLen
			var length uint64
			if d.extLen == 2 {
				length = uint64(binary.BigEndian.Uint16(raw))
			} else {
				length = binary.BigEndian.Uint64(raw)
				if length&(1<<63) != 0 {
					return Frame{}, false, &ProtocolError{
						CloseCode: StatusProtocolError,
						Detail:    "extended length has high bit set",
					}
				}
			}
			if err := d.checkControlLength(length); err != nil {
				return Frame{}, false, err
			}
			d.setPendingLength(length)
			d.state = d.stateAfterLength()

		case stateMaskKey:
			if avail < 4 {
				return Frame{}, false, nil
			}
			copy(d.partial.MaskKey[:], d.buf[d.cursor:d.cursor+4])
			d.cursor += 4
			d.state = statePayload

		case statePayload:
			need := cap(d.partial.Payload)
			if avail < need {
				return Frame{}, false, nil
			}
			d.partial.Payload = append(d.partial.Payload, d.buf[d.cursor:d.cursor+need]...)
			d.cursor += need
			if d.partial.Masked {
				maskBytes(d.partial.Payload, d.partial.Payload, d.partial.MaskKey)
			}
			d.state = stateDone

		case stateDone:
			f := d.partial
			d.reset()
			return f, true, nil
		}
	}
}

// checkControlLength rejects control frames with an over-long payload,
// and any frame exceeding the configured maxFrameSize, before any bytes
// of that payload are buffered.
func (d *decoder) checkControlLength(length uint64) error {
	if d.partial.Opcode.IsControl() && length > 125 {
		return &ProtocolError{
			CloseCode: StatusProtocolError,
			Detail:    "control frame payload exceeds 125 bytes",
		}
	}
	if d.maxFrameSize > 0 && length > d.maxFrameSize {
		return &MessageTooLargeError{Limit: d.maxFrameSize, Got: length}
	}
	return nil
}

func (d *decoder) setPendingLength(length uint64) {
	d.partial.Payload = make([]byte, 0, length)
}

func (d *decoder) stateAfterLength() decodeState {
	if d.partial.Masked {
		return stateMaskKey
	}
	if cap(d.partial.Payload) == 0 {
		return stateDone
	}
	return statePayload
}

// reset compacts the ingress buffer and rearms the state machine for the
// next frame, dropping bytes that have already been consumed.
func (d *decoder) reset() {
	d.buf = append([]byte(nil), d.buf[d.cursor:]...)
	d.cursor = 0
	d.state = stateHeader1
	d.partial = Frame{}
	d.extLen = 0
}
