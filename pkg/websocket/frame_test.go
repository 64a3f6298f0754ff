package websocket

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	opcodes := []Opcode{OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong}

	for i := 0; i < 200; i++ {
		opcode := opcodes[r.Intn(len(opcodes))]
		masked := r.Intn(2) == 0

		var maxLen int
		if opcode.IsControl() {
			maxLen = 125
		} else {
			maxLen = 70000
		}
		payload := make([]byte, r.Intn(maxLen+1))
		r.Read(payload)

		var key [4]byte
		if masked {
			r.Read(key[:])
		}

		want := Frame{
			Fin:     opcode.IsControl() || r.Intn(2) == 0,
			Opcode:  opcode,
			Masked:  masked,
			MaskKey: key,
			Payload: payload,
		}

		encoded := EncodeFrame(want)

		d := newCodecTestDecoder()
		d.feed(encoded)
		got, ok, err := d.next()
		if err != nil {
			t.Fatalf("case %d: decode returned error: %v", i, err)
		}
		if !ok {
			t.Fatalf("case %d: decode needed more bytes after feeding the whole frame", i)
		}
		if d.pending() {
			t.Fatalf("case %d: decoder left %d unconsumed trailing bytes", i, len(d.buf)-d.cursor)
		}

		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("case %d: decode(encode(f)) mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestMaskingInvolution(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 50; i++ {
		b := make([]byte, r.Intn(500))
		r.Read(b)
		var key [4]byte
		r.Read(key[:])

		masked := make([]byte, len(b))
		maskBytes(masked, b, key)
		unmasked := make([]byte, len(b))
		maskBytes(unmasked, masked, key)

		if diff := cmp.Diff(b, unmasked); diff != "" {
			t.Errorf("case %d: mask(mask(b, k), k) != b (-want +got):\n%s", i, diff)
		}
	}
}

func TestStreamingParserByteByByte(t *testing.T) {
	f := Frame{Fin: true, Opcode: OpText, Payload: []byte("Hello, streaming world!")}
	encoded := EncodeFrame(f)

	d := newCodecTestDecoder()
	var got Frame
	var gotCount int
	for i, b := range encoded {
		d.feed([]byte{b})
		frame, ok, err := d.next()
		if err != nil {
			t.Fatalf("byte %d: unexpected error: %v", i, err)
		}
		if ok {
			gotCount++
			got = frame
		}
	}
	if gotCount != 1 {
		t.Fatalf("got %d completed frames feeding byte-by-byte, want exactly 1", gotCount)
	}

	bulk := newCodecTestDecoder()
	bulk.feed(encoded)
	want, ok, err := bulk.next()
	if err != nil || !ok {
		t.Fatalf("bulk decode failed: ok=%v err=%v", ok, err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("byte-by-byte decode mismatch vs bulk decode (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsReservedBits(t *testing.T) {
	d := newDecoder(0)
	d.feed([]byte{0x70, 0x00})
	_, _, err := d.next()
	var pe *ProtocolError
	if err == nil {
		t.Fatal("expected a protocol error for non-zero reserved bits")
	}
	if !asProtocolError(err, &pe) || pe.CloseCode != StatusProtocolError {
		t.Errorf("got error %v, want *ProtocolError with close code %d", err, StatusProtocolError)
	}
}

func TestDecodeRejectsReservedOpcode(t *testing.T) {
	d := newDecoder(0)
	d.feed([]byte{0x03, 0x00})
	_, _, err := d.next()
	if err == nil {
		t.Fatal("expected a protocol error for a reserved opcode")
	}
}

func TestDecodeRejectsOverlongControlFrame(t *testing.T) {
	d := newDecoder(0)
	d.feed([]byte{0x89, 126, 0x00, 200}) // Ping claiming a 200-byte payload.
	_, _, err := d.next()
	if err == nil {
		t.Fatal("expected a protocol error for an over-long control frame")
	}
}

func TestDecodeRejectsOversizeFrame(t *testing.T) {
	d := newDecoder(10)
	d.feed([]byte{0x82, 127, 0, 0, 0, 0, 0, 1, 0x00, 0x00}) // Binary frame claiming 65536 bytes.
	_, _, err := d.next()
	var mtl *MessageTooLargeError
	if err == nil || !asMessageTooLarge(err, &mtl) {
		t.Fatalf("got error %v, want *MessageTooLargeError", err)
	}
	if len(d.buf) > 32 {
		t.Errorf("decoder buffered %d bytes despite the oversize rejection", len(d.buf))
	}
}

func TestDecodeRejectsServerMaskedFrame(t *testing.T) {
	d := newDecoder(0)
	d.feed([]byte{0x81, 0x80, 0, 0, 0, 0}) // Text frame, masked bit set.
	_, _, err := d.next()
	if err == nil {
		t.Fatal("expected a protocol error for a masked server frame")
	}
}

func asProtocolError(err error, target **ProtocolError) bool {
	pe, ok := err.(*ProtocolError)
	if ok {
		*target = pe
	}
	return ok
}

func asMessageTooLarge(err error, target **MessageTooLargeError) bool {
	mtl, ok := err.(*MessageTooLargeError)
	if ok {
		*target = mtl
	}
	return ok
}
