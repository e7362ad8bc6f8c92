/******************************************************************************
 *
 *  Description :
 *    The reserved envelope object carried inside every message, plus the
 *    handful of reserved key names used on the wire.
 *
 *****************************************************************************/
package message

// EnvelopeKey is the reserved top-level JSON key under which the envelope
// object is nested inside every serialized message.
const EnvelopeKey = "-={([env])}=-"

// SecureKey is the reserved envelope-nested key holding the base64
// ciphertext of any selectively-encrypted fields.
const SecureKey = ".secure"

// connAttrKey names the in-memory-only connection attribute that the CPO
// router stamps (via SetConnAttr) on an inbound message addressed to the
// CPO's own management mailbox, so handlers can correlate the message
// back to the connection it arrived on. The attribute itself is held in
// Message.connAttr, not under this key, and never appears on the wire.
const connAttrKey = "-={([connectionName])}=-"

// Envelope carries routing metadata. From and ID are always required; To
// is present if and only if the message is a direct message; Type is
// required unless the message is direct (publish messages are routed by
// type, so they must name one).
type Envelope struct {
	From   string `json:"from"`
	To     string `json:"to,omitempty"`
	Type   string `json:"type,omitempty"`
	ID     string `json:"id"`
	Reply  string `json:"reply,omitempty"`
	Expect bool   `json:"expect,omitempty"`
	Secure string `json:"secure,omitempty"`
}

func (e Envelope) toWireMap() map[string]interface{} {
	m := map[string]interface{}{
		"from": e.From,
		"id":   e.ID,
	}
	if e.To != "" {
		m["to"] = e.To
	}
	if e.Type != "" {
		m["type"] = e.Type
	}
	if e.Reply != "" {
		m["reply"] = e.Reply
	}
	if e.Expect {
		m["expect"] = true
	}
	if e.Secure != "" {
		m[SecureKey] = e.Secure
	}
	return m
}

func envelopeFromWireMap(m map[string]interface{}) Envelope {
	var e Envelope
	if v, ok := m["from"].(string); ok {
		e.From = v
	}
	if v, ok := m["to"].(string); ok {
		e.To = v
	}
	if v, ok := m["type"].(string); ok {
		e.Type = v
	}
	if v, ok := m["id"].(string); ok {
		e.ID = v
	}
	if v, ok := m["reply"].(string); ok {
		e.Reply = v
	}
	if v, ok := m["expect"].(bool); ok {
		e.Expect = v
	}
	if v, ok := m[SecureKey].(string); ok {
		e.Secure = v
	}
	return e
}
