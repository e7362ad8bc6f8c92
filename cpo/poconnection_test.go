package cpo

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/SlightlyLoony/MOP/message"
	"github.com/SlightlyLoony/MOP/wire"
)

func TestReadLoopForwardsFramesToInboundChannel(t *testing.T) {
	c := newTestCPO(t)
	local, remote := pipePair(t)
	conn := newPOConnection(c, local)

	go conn.readLoop()

	m := message.NewDirect("alpha.src", "central.po", "manage.connect", "1.alpha", false)
	payload, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := remote.Write(wire.Frame(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case f := <-c.inbound:
		if f.msg.Envelope.ID != "1.alpha" {
			t.Fatalf("got id %q, want 1.alpha", f.msg.Envelope.ID)
		}
		if f.conn != conn {
			t.Fatalf("inbound frame's connection does not match")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for inbound frame")
	}
}

func TestReadLoopClosesConnectionOnEOF(t *testing.T) {
	c := newTestCPO(t)
	local, remote := pipePair(t)
	conn := newPOConnection(c, local)
	c.trackConnection(conn)

	done := make(chan struct{})
	go func() {
		conn.readLoop()
		close(done)
	}()
	remote.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("readLoop did not return after peer closed")
	}
	if conn.isOpen() {
		t.Fatalf("connection should be marked closed after readLoop returns")
	}
}

func TestWriteLoopDrainsOutboxToSocket(t *testing.T) {
	c := newTestCPO(t, clientCreds("alpha", b64("s3cr3t-alpha-000000"), false))
	client := c.getClient("alpha")
	local, remote := pipePair(t)
	conn := newPOConnection(c, local)

	m := message.NewDirect("central.po", "alpha.po", "manage.ping", "1.central", false)
	payload, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	client.outbox.Push(wire.Frame(payload))

	go conn.writeLoop(client)

	buf := make([]byte, 4096)
	remote.SetReadDeadline(time.Now().Add(time.Second))
	n, err := remote.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got := decodeFrame(t, buf[:n])
	if got.Envelope.ID != "1.central" {
		t.Fatalf("got id %q, want 1.central", got.Envelope.ID)
	}

	client.outbox.Close()
}

func TestWriteLoopClosesConnectionWhenOutboxCloses(t *testing.T) {
	c := newTestCPO(t, clientCreds("alpha", b64("s3cr3t-alpha-000000"), false))
	client := c.getClient("alpha")
	conn := newPOConnection(c, pipeConn(t))

	done := make(chan struct{})
	go func() {
		conn.writeLoop(client)
		close(done)
	}()
	client.outbox.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("writeLoop did not return after outbox closed")
	}
}
