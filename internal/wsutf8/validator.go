// Package wsutf8 validates UTF-8 incrementally across message fragments,
// so a malformed sequence split across WebSocket frames is still caught,
// and is caught as soon as a fragment makes it unambiguous.
package wsutf8

import "unicode/utf8"

// Validator accumulates bytes across calls to Write and reports whether
// everything seen so far is a prefix of valid UTF-8. It does not buffer
// the bytes themselves, only the tail needed to resume decoding.
type Validator struct {
	// pending holds the trailing bytes of the last Write call that could
	// not yet be decoded because they're the incomplete prefix of a
	// multi-byte rune.
	pending [utf8.UTFMax]byte
	pendLen int
	invalid bool
}

// Write feeds the next chunk of a text message to the validator. It
// returns false once invalid UTF-8 has been detected; once false, every
// subsequent call also returns false.
func (v *Validator) Write(p []byte) bool {
	if v.invalid {
		return false
	}
	if v.pendLen > 0 {
		p = append(append([]byte(nil), v.pending[:v.pendLen]...), p...)
		v.pendLen = 0
	}
	for len(p) > 0 {
		if !utf8.FullRune(p) {
			// p ends with the incomplete-but-so-far-valid prefix of a
			// multi-byte rune; buffer it and resume on the next Write.
			if len(p) >= len(v.pending) {
				v.invalid = true
				return false
			}
			v.pendLen = copy(v.pending[:], p)
			return true
		}
		r, size := utf8.DecodeRune(p)
		if r == utf8.RuneError && size == 1 {
			v.invalid = true
			return false
		}
		p = p[size:]
	}
	return true
}

// Finish reports whether the bytes seen across all Write calls form
// complete, valid UTF-8 with no dangling incomplete sequence.
func (v *Validator) Finish() bool {
	return !v.invalid && v.pendLen == 0
}
