package websocket

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// Transport abstracts the raw byte stream underneath a connection
// (spec.md §4.4). The connection core owns exactly one Transport for
// its lifetime and is the only caller of its methods.
type Transport interface {
	// Send writes b in full, or returns an error. Implementations must
	// not interleave the bytes of two concurrent Send calls.
	Send(ctx context.Context, b []byte) error
	// Recv returns whatever is available, at least one byte, or an error
	// (including io.EOF when the peer closed the stream).
	Recv(ctx context.Context) ([]byte, error)
	// Close tears down the underlying connection. Idempotent.
	Close() error
}

// netTransport implements Transport over a net.Conn; it's shared by the
// plaintext TCP and TLS variants, which differ only in how the net.Conn
// is dialed.
type netTransport struct {
	conn net.Conn
	buf  []byte
}

func newNetTransport(conn net.Conn) *netTransport {
	return &netTransport{conn: conn, buf: make([]byte, 4096)}
}

func (t *netTransport) Send(ctx context.Context, b []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
	} else {
		_ = t.conn.SetWriteDeadline(time.Time{})
	}
	_, err := t.conn.Write(b)
	if err != nil {
		return fmt.Errorf("websocket: transport write failed: %w", err)
	}
	return nil
}

func (t *netTransport) Recv(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(dl)
	} else {
		_ = t.conn.SetReadDeadline(time.Time{})
	}
	n, err := t.conn.Read(t.buf)
	if n > 0 {
		out := make([]byte, n)
		copy(out, t.buf[:n])
		return out, err
	}
	return nil, err
}

func (t *netTransport) Close() error {
	return t.conn.Close()
}

// dialTCP opens a plaintext "ws://" transport.
func dialTCP(ctx context.Context, addr string) (Transport, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return newNetTransport(conn), nil
}

// dialTLS opens a "wss://" transport per the Config's TLSMode.
func dialTLS(ctx context.Context, addr, serverName string, cfg Config) (Transport, error) {
	tlsCfg := cfg.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{}
	} else {
		tlsCfg = tlsCfg.Clone()
	}
	if tlsCfg.ServerName == "" {
		tlsCfg.ServerName = serverName
	}

	switch cfg.TLSMode {
	case TLSModeStrict:
		if tlsCfg.MinVersion == 0 {
			tlsCfg.MinVersion = tls.VersionTLS12
		}
	case TLSModeTuned:
		if tlsCfg.MinVersion == 0 {
			tlsCfg.MinVersion = tls.VersionTLS12
		}
		tlsCfg.SessionTicketsDisabled = false
		tlsCfg.ClientSessionCache = tls.NewLRUClientSessionCache(0)
	case TLSModeInsecureDev:
		if !cfg.AllowInsecureDev {
			return nil, fmt.Errorf("websocket: TLSModeInsecureDev requires Config.AllowInsecureDev = true")
		}
		tlsCfg.InsecureSkipVerify = true
	default:
		return nil, fmt.Errorf("websocket: unknown TLSMode %d", cfg.TLSMode)
	}

	d := tls.Dialer{Config: tlsCfg}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s over TLS: %w", addr, err)
	}
	return newNetTransport(conn), nil
}
