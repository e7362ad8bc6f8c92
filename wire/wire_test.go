package wire

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"hello":"world"}`)
	framed := Frame(payload)

	d := NewDeframer(4096)
	d.Feed(framed)
	got, ok, err := d.Next()
	if err != nil {
		t.Fatalf("Next() err = %v", err)
	}
	if !ok {
		t.Fatalf("Next() ok = false, want true")
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Next() = %q, want %q", got, payload)
	}
}

func TestDeframerHandlesSplitFeeds(t *testing.T) {
	payload := []byte(`{"a":1}`)
	framed := Frame(payload)

	d := NewDeframer(4096)
	for i := 0; i < len(framed); i++ {
		d.Feed(framed[i : i+1])
		frame, ok, err := d.Next()
		if err != nil {
			t.Fatalf("Next() err = %v at byte %d", err, i)
		}
		if ok {
			if i != len(framed)-1 {
				t.Fatalf("frame completed early at byte %d", i)
			}
			if !bytes.Equal(frame, payload) {
				t.Fatalf("frame = %q, want %q", frame, payload)
			}
		}
	}
}

func TestDeframerMultipleFramesInOneFeed(t *testing.T) {
	p1 := []byte(`{"a":1}`)
	p2 := []byte(`{"b":2}`)
	var buf bytes.Buffer
	buf.Write(Frame(p1))
	buf.Write(Frame(p2))

	d := NewDeframer(4096)
	d.Feed(buf.Bytes())

	got1, ok, err := d.Next()
	if err != nil || !ok {
		t.Fatalf("first Next(): ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got1, p1) {
		t.Fatalf("first frame = %q, want %q", got1, p1)
	}
	got2, ok, err := d.Next()
	if err != nil || !ok {
		t.Fatalf("second Next(): ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got2, p2) {
		t.Fatalf("second frame = %q, want %q", got2, p2)
	}
}

func TestDeframerResynchronizesPastGarbage(t *testing.T) {
	good := Frame([]byte(`{"ok":true}`))
	var buf bytes.Buffer
	buf.WriteString("garbage before")
	buf.Write(good)
	buf.WriteString("trailing noise")

	d := NewDeframer(4096)
	d.Feed(buf.Bytes())

	got, ok, err := d.Next()
	if err != nil {
		t.Fatalf("Next() err = %v", err)
	}
	if !ok {
		t.Fatalf("expected to find embedded frame")
	}
	if string(got) != `{"ok":true}` {
		t.Fatalf("got %q", got)
	}
}

func TestDeframerResynchronizesOverlappingOpens(t *testing.T) {
	good := Frame([]byte(`{"x":1}`))
	var buf bytes.Buffer
	buf.WriteString("[[[[garbage")
	buf.Write(good)

	d := NewDeframer(4096)
	d.Feed(buf.Bytes())

	got, ok, err := d.Next()
	if !ok {
		t.Fatalf("expected frame after overlapping open garbage, err=%v", err)
	}
	if string(got) != `{"x":1}` {
		t.Fatalf("got %q", got)
	}
}

func TestDeframerRejectsOversizeFrame(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 100)
	framed := Frame(payload)

	d := NewDeframer(10)
	d.Feed(framed)
	_, ok, err := d.Next()
	if ok {
		t.Fatalf("expected oversize frame to be rejected")
	}
	if err != ErrOversizeFrame {
		t.Fatalf("err = %v, want ErrOversizeFrame", err)
	}

	// Connection stays usable: a subsequent well-formed frame still
	// comes through.
	good := Frame([]byte("ok"))
	d.Feed(good)
	got, ok, err := d.Next()
	if err != nil || !ok {
		t.Fatalf("Next() after oversize: ok=%v err=%v", ok, err)
	}
	if string(got) != "ok" {
		t.Fatalf("got %q", got)
	}
}

func TestDeframerRejectsBadTrailer(t *testing.T) {
	// Valid open and length, but the two close brackets are broken.
	var buf bytes.Buffer
	buf.WriteString("[[[2]ABX")
	good := Frame([]byte("recovered"))
	buf.Write(good)

	d := NewDeframer(4096)
	d.Feed(buf.Bytes())

	got, ok, err := d.Next()
	if !ok {
		t.Fatalf("expected to recover the well-formed frame, err=%v", err)
	}
	if string(got) != "recovered" {
		t.Fatalf("got %q", got)
	}
}

func TestOutBoxFIFOOrdering(t *testing.T) {
	b := NewOutBox(10, nil)
	b.Push([]byte("a"))
	b.Push([]byte("b"))
	b.Push([]byte("c"))

	for _, want := range []string{"a", "b", "c"} {
		got, ok := b.Pop()
		if !ok || string(got) != want {
			t.Fatalf("Pop() = %q,%v want %q", got, ok, want)
		}
	}
}

func TestOutBoxPushReconnectOrdering(t *testing.T) {
	b := NewOutBox(10, nil)
	b.Push([]byte("queued1"))
	b.Push([]byte("queued2"))
	// queued2 is head, queued1 behind it; Pop would drain queued1 first
	// normally. Simulate a partial write of "inflight" plus a fresh
	// reconnect message.
	b.PushReconnect([]byte("inflight"), []byte("reconnect"))

	got, _ := b.Pop()
	if string(got) != "reconnect" {
		t.Fatalf("first pop = %q, want reconnect", got)
	}
	got, _ = b.Pop()
	if string(got) != "inflight" {
		t.Fatalf("second pop = %q, want inflight", got)
	}
	got, _ = b.Pop()
	if string(got) != "queued1" {
		t.Fatalf("third pop = %q, want queued1", got)
	}
	got, _ = b.Pop()
	if string(got) != "queued2" {
		t.Fatalf("fourth pop = %q, want queued2", got)
	}
}

func TestOutBoxDropsNewestWhenFull(t *testing.T) {
	drops := 0
	b := NewOutBox(2, func() { drops++ })
	b.Push([]byte("a"))
	b.Push([]byte("b"))
	b.Push([]byte("c"))

	if drops != 1 {
		t.Fatalf("drops = %d, want 1", drops)
	}
	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}
}

func TestOutBoxCloseUnblocksPop(t *testing.T) {
	b := NewOutBox(2, nil)
	done := make(chan struct{})
	go func() {
		_, ok := b.Pop()
		if ok {
			t.Error("expected Pop to report ok=false after Close with empty queue")
		}
		close(done)
	}()
	b.Close()
	<-done
}
