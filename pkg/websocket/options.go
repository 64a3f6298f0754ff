package websocket

import (
	"crypto/tls"
	"net/http"
	"time"
)

// TLSMode selects how a "wss://" transport validates the server's
// certificate.
type TLSMode int

const (
	// TLSModeStrict uses Go's default certificate verification. Default.
	TLSModeStrict TLSMode = iota
	// TLSModeTuned is TLSModeStrict plus session-ticket resumption through
	// a client session cache, suited to long-lived WebSocket connections.
	TLSModeTuned
	// TLSModeInsecureDev skips certificate verification entirely. Refused
	// by Dial unless Config.AllowInsecureDev is also set.
	TLSModeInsecureDev
)

// ExtensionNegotiator lets a caller plug in extension negotiation logic
// (e.g. permessage-deflate) without the core needing to understand any
// particular extension. The default, noExtensionNegotiator, always
// offers nothing and accepts nothing -- spec.md's Non-goals keep the
// compressor itself out of scope, but the hook is real and exercised by
// the handshake.
type ExtensionNegotiator interface {
	// Offer returns the Sec-WebSocket-Extensions value to send, or "" to
	// omit the header.
	Offer() string
	// Accept is called once per extension token the server returned; it
	// reports whether that extension is recognized and accepted.
	Accept(token string) bool
}

type noExtensionNegotiator struct{}

func (noExtensionNegotiator) Offer() string        { return "" }
func (noExtensionNegotiator) Accept(string) bool   { return false }

// Config holds the caller-configurable options of spec.md §6. It is a
// plain struct, not a functional-options chain: every example in the
// pack that configures an internal connection/server struct (nats-server's
// srvWebsocket, timpani's httpServer) does so by constructing the struct
// directly, reserving flag/env/file parsing for cmd/ entrypoints.
type Config struct {
	// ConnectTimeout bounds the opening handshake. Zero means no timeout.
	ConnectTimeout time.Duration

	// MaxFrameSize is a hard limit per frame on ingress. Zero means
	// unlimited (not recommended outside tests).
	MaxFrameSize uint64
	// MaxMessageSize is a hard limit per reassembled message. Zero means
	// unlimited.
	MaxMessageSize uint64

	// Subprotocols is the ordered list offered in Sec-WebSocket-Protocol.
	Subprotocols []string
	// Extensions, when non-nil, overrides the default no-op negotiator.
	Extensions ExtensionNegotiator

	// Header carries extra request headers (e.g. Origin, Authorization,
	// cookies) sent verbatim with the handshake request.
	Header http.Header

	// AutoPong controls whether received pings are echoed automatically.
	// Defaults to true: a nil AutoPong is treated as true (see autoPong).
	AutoPong *bool

	// TLS configures "wss://" connections. Ignored for "ws://".
	TLSMode           TLSMode
	TLSConfig         *tls.Config // Base config; ServerName/RootCAs etc. are honored in all modes except InsecureDev.
	AllowInsecureDev  bool        // Must be true for TLSModeInsecureDev to take effect.

	// EventSink receives structured connection events. A nil sink
	// discards every event.
	EventSink EventSink
}

func (c Config) autoPong() bool {
	if c.AutoPong == nil {
		return true
	}
	return *c.AutoPong
}

func (c Config) extensions() ExtensionNegotiator {
	if c.Extensions == nil {
		return noExtensionNegotiator{}
	}
	return c.Extensions
}

func (c Config) sink() EventSink {
	if c.EventSink == nil {
		return noopSink{}
	}
	return c.EventSink
}
