/******************************************************************************
 *
 *  Description :
 *    The Message type: a JSON object with a reserved envelope plus an
 *    arbitrary, schema-less body. Messages are mutable until handed to
 *    a post office for sending; the core never mutates a message after
 *    that point (callers that do so get undefined results, same as the
 *    source this is grounded on).
 *
 *****************************************************************************/
package message

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrInvalidEnvelope is returned by Validate when a required envelope
// field is missing or contradictory.
var ErrInvalidEnvelope = errors.New("message: invalid envelope")

// Message is a single MOP message: envelope plus body.
type Message struct {
	Envelope Envelope
	Body     map[string]interface{}

	// connAttr is stamped by a connection handling an inbound message
	// addressed to the management mailbox; never serialized.
	connAttr string
}

// New constructs an empty message with the given envelope fields. Body is
// initialized empty and ready for PutDotted.
func New(from, to, typ, id string) *Message {
	return &Message{
		Envelope: Envelope{From: from, To: to, Type: typ, ID: id},
		Body:     map[string]interface{}{},
	}
}

// MarshalJSON flattens the envelope and body into one JSON object, the
// envelope nested under EnvelopeKey.
func (m *Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(m.Body)+1)
	for k, v := range m.Body {
		out[k] = v
	}
	out[EnvelopeKey] = m.Envelope.toWireMap()
	return json.Marshal(out)
}

// UnmarshalJSON splits a flattened JSON object back into envelope and body.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	envRaw, ok := raw[EnvelopeKey].(map[string]interface{})
	if !ok {
		return ErrInvalidEnvelope
	}
	m.Envelope = envelopeFromWireMap(envRaw)
	delete(raw, EnvelopeKey)
	m.Body = raw
	return nil
}

// Validate checks the minimal invariants every in-flight message must
// satisfy: non-empty From and ID, and that To and Type are not both
// empty (a message that is neither addressed nor typed cannot be
// routed as either direct or publish).
func (m *Message) Validate() error {
	if strings.TrimSpace(m.Envelope.From) == "" {
		return ErrInvalidEnvelope
	}
	if strings.TrimSpace(m.Envelope.ID) == "" {
		return ErrInvalidEnvelope
	}
	if m.Envelope.To == "" && m.Envelope.Type == "" {
		return ErrInvalidEnvelope
	}
	return nil
}

// IsDirect reports whether the message is a point-to-point message (To
// is present).
func (m *Message) IsDirect() bool { return m.Envelope.To != "" }

// IsPublish reports whether the message is a typed broadcast (To absent).
func (m *Message) IsPublish() bool { return m.Envelope.To == "" }

// IsReply reports whether the message is a reply to an earlier message.
func (m *Message) IsReply() bool { return m.Envelope.Reply != "" }

// IsReplyExpected reports whether the sender asked for a reply.
func (m *Message) IsReplyExpected() bool { return m.Envelope.Expect }

// IsEncrypted reports whether the message carries a selectively-encrypted
// payload.
func (m *Message) IsEncrypted() bool { return m.Envelope.Secure != "" }

// MajorType returns the portion of Type before its last '.', or the
// whole Type if it has none. Type is always either "<major>" or
// "<major>.<minor>".
func (m *Message) MajorType() string {
	return majorOf(m.Envelope.Type)
}

func majorOf(typ string) string {
	if i := strings.LastIndex(typ, "."); i >= 0 {
		return typ[:i]
	}
	return typ
}

// FromPO returns the post office name portion of the From address
// ("poName.mailboxName" -> "poName").
func (m *Message) FromPO() string {
	return poOf(m.Envelope.From)
}

func poOf(addr string) string {
	if i := strings.Index(addr, "."); i >= 0 {
		return addr[:i]
	}
	return addr
}

// ToPO returns the post office name portion of the To address, or ""
// for a publish message.
func (m *Message) ToPO() string {
	if m.Envelope.To == "" {
		return ""
	}
	return poOf(m.Envelope.To)
}

// SetConnAttr/ConnAttr carry the in-memory-only connection-name
// attribute used by the CPO router to correlate a management message
// with the connection it arrived on. Never part of the wire format.
func (m *Message) SetConnAttr(name string) { m.connAttr = name }
func (m *Message) ConnAttr() string        { return m.connAttr }

// NewDirect builds a point-to-point message from "from" to "to", setting
// Expect if a reply is wanted.
func NewDirect(from, to, typ, id string, expectReply bool) *Message {
	msg := New(from, to, typ, id)
	msg.Envelope.Expect = expectReply
	return msg
}

// NewReply builds a reply to orig: addressed back to orig's sender, with
// Reply set to orig's id.
func NewReply(orig *Message, from, typ, id string) *Message {
	msg := New(from, orig.Envelope.From, typ, id)
	msg.Envelope.Reply = orig.Envelope.ID
	return msg
}

// NewPublish builds a typed broadcast with no destination address.
func NewPublish(from, typ, id string) *Message {
	return New(from, "", typ, id)
}

// Clone returns a deep-enough copy for re-encryption purposes: envelope
// by value, body re-marshaled through JSON so nested maps are not
// aliased with the original.
func (m *Message) Clone() (*Message, error) {
	raw, err := json.Marshal(m.Body)
	if err != nil {
		return nil, err
	}
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	if body == nil {
		body = map[string]interface{}{}
	}
	return &Message{Envelope: m.Envelope, Body: body}, nil
}
