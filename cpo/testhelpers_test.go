package cpo

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/SlightlyLoony/MOP/message"
	"github.com/SlightlyLoony/MOP/wire"
)

// pipeConn returns one end of an in-memory net.Conn pair, closing both
// ends on test cleanup.
func pipeConn(t *testing.T) net.Conn {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a
}

func pipePair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

// decodeFrame unwraps a single wire.Frame-encoded buffer back into a
// Message, for asserting on what a router/handler enqueued.
func decodeFrame(t *testing.T, buf []byte) *message.Message {
	t.Helper()
	d := wire.NewDeframer(1 << 20)
	d.Feed(buf)
	payload, ok, err := d.Next()
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if !ok {
		t.Fatalf("decodeFrame: incomplete frame")
	}
	m := &message.Message{}
	if err := json.Unmarshal(payload, m); err != nil {
		t.Fatalf("decodeFrame: unmarshal: %v", err)
	}
	return m
}
