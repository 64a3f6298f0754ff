package websocket

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAcceptKeyLaw(t *testing.T) {
	// https://datatracker.ietf.org/doc/html/rfc6455#section-1.3's own example.
	const nonce = "dGhlIHNhbXBsZSBub25jZQ=="
	const want = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="

	got, err := expectedAcceptKey(nonce)
	if err != nil {
		t.Fatalf("expectedAcceptKey() error = %v", err)
	}
	if got != want {
		t.Errorf("expectedAcceptKey(%q) = %q, want %q", nonce, got, want)
	}
}

func serverAcceptKey(r *http.Request) string {
	h := sha1.New()
	h.Write([]byte(r.Header.Get("Sec-WebSocket-Key")))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws://" + strings.TrimPrefix(ts.URL, "http://") + path
}

func TestDialExpectedErrors(t *testing.T) {
	tests := []struct {
		desc string
		f    func(w http.ResponseWriter, r *http.Request)
	}{
		{"rejected status code", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}},
		{"incorrect upgrade header", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Upgrade", "FOO")
			w.Header().Set("Connection", "Upgrade")
			w.Header().Set("Sec-WebSocket-Accept", serverAcceptKey(r))
			w.WriteHeader(http.StatusSwitchingProtocols)
		}},
		{"incorrect connection header", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Upgrade", "websocket")
			w.Header().Set("Connection", "BAR")
			w.Header().Set("Sec-WebSocket-Accept", serverAcceptKey(r))
			w.WriteHeader(http.StatusSwitchingProtocols)
		}},
		{"incorrect accept header", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Upgrade", "websocket")
			w.Header().Set("Connection", "Upgrade")
			w.Header().Set("Sec-WebSocket-Accept", "BAZ")
			w.WriteHeader(http.StatusSwitchingProtocols)
		}},
		{"missing accept header", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Upgrade", "websocket")
			w.Header().Set("Connection", "Upgrade")
			w.WriteHeader(http.StatusSwitchingProtocols)
		}},
		{"unoffered subprotocol", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Upgrade", "websocket")
			w.Header().Set("Connection", "Upgrade")
			w.Header().Set("Sec-WebSocket-Accept", serverAcceptKey(r))
			w.Header().Set("Sec-WebSocket-Protocol", "not-offered")
			w.WriteHeader(http.StatusSwitchingProtocols)
		}},
	}

	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(tc.f))
			defer ts.Close()

			_, err := Dial(context.Background(), wsURL(ts, "/"), Config{Subprotocols: []string{"chat"}})
			if err == nil {
				t.Error("Dial() = _, nil, want error")
			}
		})
	}
}

func TestDialRejectedStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	_, err := Dial(context.Background(), wsURL(ts, "/"), Config{})
	he, ok := err.(*HandshakeError)
	if !ok {
		t.Fatalf("Dial() error = %v (%T), want *HandshakeError", err, err)
	}
	if he.Kind != HandshakeRejected || he.Status != http.StatusForbidden {
		t.Errorf("Dial() error = %+v, want Kind=HandshakeRejected Status=403", he)
	}
}

// hijackUpgrade accepts a raw 101 upgrade, and otherwise does nothing: it
// exists for tests that need a successful handshake and then drive frame
// I/O over the hijacked server-side connection.
func hijackUpgrade(t *testing.T) (serverConn net.Conn, ts *httptest.Server) {
	t.Helper()
	var conn net.Conn
	done := make(chan struct{})
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Upgrade", "websocket")
		w.Header().Set("Connection", "Upgrade")
		w.Header().Set("Sec-WebSocket-Accept", serverAcceptKey(r))
		w.WriteHeader(http.StatusSwitchingProtocols)
		hj := w.(http.Hijacker)
		c, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack failed: %v", err)
			close(done)
			return
		}
		conn = c
		close(done)
	}))
	<-done
	return conn, ts
}

func TestDialSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Upgrade", "websocket")
		w.Header().Set("Connection", "Upgrade")
		w.Header().Set("Sec-WebSocket-Accept", serverAcceptKey(r))
		w.Header().Set("Sec-WebSocket-Protocol", "chat")
		w.WriteHeader(http.StatusSwitchingProtocols)
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("ResponseWriter does not support hijacking")
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Fatalf("hijack failed: %v", err)
		}
		defer conn.Close()
	}))
	defer ts.Close()

	c, err := Dial(context.Background(), wsURL(ts, "/chat"), Config{Subprotocols: []string{"chat"}})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.transport.Close()

	if c.Subprotocol() != "chat" {
		t.Errorf("Subprotocol() = %q, want %q", c.Subprotocol(), "chat")
	}
}
