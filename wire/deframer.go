/******************************************************************************
 *
 *  Description :
 *    Turns an arbitrarily-chopped TCP byte stream back into discrete
 *    message frames. Tolerant of a frame split across any number of
 *    reads, and of garbage or malformed frames interleaved with valid
 *    ones: a malformed frame is resynchronized past, never torn down
 *    as a connection failure.
 *
 *    Unlike the buffer this is grounded on (a manually position/limit
 *    managed fixed-capacity ring), this keeps a single growable slice
 *    and relies on Go's append to reclaim space once-consumed bytes
 *    occupied: re-slicing the live window forward shrinks the
 *    available capacity, and the next Feed that needs more room than
 *    remains triggers a reallocation that copies only the live bytes,
 *    which is the idiomatic Go equivalent of explicit buffer
 *    compaction.
 *
 *****************************************************************************/
package wire

import (
	"errors"

	"github.com/SlightlyLoony/MOP/b64num"
)

// ErrOversizeFrame is reported (not fatal) when an advertised frame
// length exceeds the de-framer's configured maximum.
var ErrOversizeFrame = errors.New("wire: oversize frame")

// ErrMalformedFrame is reported (not fatal) when a candidate frame's
// length field or trailing close marks fail to parse.
var ErrMalformedFrame = errors.New("wire: malformed frame")

const (
	minLengthChars = 2
	maxLengthChars = 4
)

// Deframer accumulates bytes from one TCP connection and yields
// complete message payloads. Not safe for concurrent use: a connection
// has exactly one reader goroutine feeding it.
type Deframer struct {
	MaxMessageSize int
	buf            []byte
}

// NewDeframer returns a Deframer that rejects any frame advertising a
// payload longer than maxMessageSize.
func NewDeframer(maxMessageSize int) *Deframer {
	return &Deframer{MaxMessageSize: maxMessageSize}
}

// Resize changes the maximum accepted payload size. Shrinking is a
// no-op: a smaller limit never invalidates frames already in flight
// under the old limit, and the buffer itself is sized by demand, not
// by this setting.
func (d *Deframer) Resize(newMax int) {
	if newMax > d.MaxMessageSize {
		d.MaxMessageSize = newMax
	}
}

// Feed appends newly-read bytes to the internal buffer.
func (d *Deframer) Feed(data []byte) {
	d.buf = append(d.buf, data...)
}

// Next attempts to extract the next complete frame. ok is false if no
// complete frame is currently buffered (the caller should Feed more
// bytes and retry); this is not an error. err is non-nil when a
// malformed or oversize frame was scanned past and discarded -- the
// de-framer has already resynchronized and the connection should stay
// open; err is purely informational for logging.
func (d *Deframer) Next() (frame []byte, ok bool, err error) {
	for {
		openIdx := indexOfTripleOpen(d.buf)
		if openIdx < 0 {
			d.buf = trailingPartialOpen(d.buf)
			return nil, false, err
		}
		if openIdx > 0 {
			d.buf = d.buf[openIdx:]
		}

		lenStart := 3
		closeIdx := -1
		rejected := false
		i := lenStart
		for {
			if i >= len(d.buf) {
				break
			}
			if d.buf[i] == ']' {
				closeIdx = i
				break
			}
			if i-lenStart >= maxLengthChars {
				// This is the (maxLengthChars+1)th non-']' character:
				// definitely too long, regardless of what follows.
				rejected = true
				d.resync()
				err = ErrMalformedFrame
				break
			}
			i++
		}
		if rejected {
			continue
		}
		if closeIdx < 0 {
			// Ran out of buffered bytes before resolving the length
			// field one way or the other.
			return nil, false, err
		}

		lengthChars := d.buf[lenStart:closeIdx]
		if len(lengthChars) < minLengthChars {
			d.resync()
			err = ErrMalformedFrame
			continue
		}
		valid := true
		for _, c := range lengthChars {
			if !b64num.IsDigit(c) {
				valid = false
				break
			}
		}
		if !valid {
			d.resync()
			err = ErrMalformedFrame
			continue
		}
		frameLen, decErr := b64num.Decode(string(lengthChars))
		if decErr != nil {
			d.resync()
			err = ErrMalformedFrame
			continue
		}
		if frameLen > int64(d.MaxMessageSize) {
			d.resync()
			err = ErrOversizeFrame
			continue
		}
		payloadStart := closeIdx + 1
		need := payloadStart + int(frameLen) + 2
		if len(d.buf) < need {
			return nil, false, err
		}
		if d.buf[payloadStart+int(frameLen)] != ']' || d.buf[payloadStart+int(frameLen)+1] != ']' {
			d.resync()
			err = ErrMalformedFrame
			continue
		}

		payload := make([]byte, frameLen)
		copy(payload, d.buf[payloadStart:payloadStart+int(frameLen)])
		d.buf = d.buf[need:]
		return payload, true, err
	}
}

// resync abandons the current candidate open (at index 0 of d.buf) and
// resumes scanning from one byte past it, so overlapping opens like
// "[[[[" are handled without losing the second candidate.
func (d *Deframer) resync() {
	if len(d.buf) > 0 {
		d.buf = d.buf[1:]
	}
}

func indexOfTripleOpen(buf []byte) int {
	for i := 0; i+3 <= len(buf); i++ {
		if buf[i] == '[' && buf[i+1] == '[' && buf[i+2] == '[' {
			return i
		}
	}
	return -1
}

// trailingPartialOpen returns the suffix of buf that could still grow
// into a triple-open with more data: a run of 1 or 2 '[' characters at
// the very end of the buffer. Anything before that is garbage that can
// never be part of a frame and is dropped.
func trailingPartialOpen(buf []byte) []byte {
	n := 0
	for n < len(buf) && n < 2 && buf[len(buf)-1-n] == '[' {
		n++
	}
	if n == 0 {
		return buf[:0]
	}
	return buf[len(buf)-n:]
}
