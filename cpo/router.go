/******************************************************************************
 *
 *  Description :
 *    The CPO router: the single goroutine that drains the shared
 *    inbound-frame channel fed by every connection's reader, making
 *    subscription snooping, re-encryption, and the rest of §4.H
 *    effectively single-threaded without a hand-rolled readiness
 *    selector -- Go's goroutine-per-connection model already gives the
 *    per-connection parallelism the original's selector loop existed
 *    to provide; funneling everything through one channel gives the
 *    atomicity the spec's router needs.
 *
 *****************************************************************************/
package cpo

import (
	"encoding/json"
	"strings"

	"github.com/SlightlyLoony/MOP/logs"
	"github.com/SlightlyLoony/MOP/message"
	"github.com/SlightlyLoony/MOP/subidx"
	"github.com/SlightlyLoony/MOP/wire"
)

func (c *CentralPostOffice) runRouter() {
	defer c.wg.Done()
	for frame := range c.inbound {
		c.routeOne(frame)
	}
}

func (c *CentralPostOffice) routeOne(f inboundFrame) {
	defer func() {
		if r := recover(); r != nil {
			logs.Error.Printf("cpo: router: recovered from panic handling message: %v", r)
		}
	}()

	m := f.msg
	if err := m.Validate(); err != nil {
		logs.Warning.Printf("cpo: connection %s: invalid envelope, dropping: %v", f.conn.name, err)
		return
	}

	if m.Envelope.To == "central.po" {
		m.SetConnAttr(f.conn.name)
	}

	if m.IsPublish() {
		c.routePublish(m)
		return
	}

	if strings.HasSuffix(m.Envelope.To, ".po") &&
		(m.Envelope.Type == "manage.subscribe" || m.Envelope.Type == "manage.unsubscribe") &&
		!m.IsReply() {
		c.snoop(m)
	}

	if m.Envelope.To == "central.po" {
		c.handleManagement(m, f.conn)
		return
	}

	c.forward(m, f.conn)
}

func (c *CentralPostOffice) routePublish(m *message.Message) {
	full := subidx.Key(m.Envelope.From, m.Envelope.Type)
	major := subidx.MajorKey(m.Envelope.From, m.Envelope.Type)
	subscribers := c.subs.Lookup(full, major)
	if len(subscribers) == 0 {
		logs.Warning.Printf("cpo: no subscribers for publish %s.%s, dropping", m.Envelope.From, m.Envelope.Type)
		return
	}

	seenPO := map[string]bool{}
	for addr := range subscribers {
		po := firstSegment(addr)
		if seenPO[po] {
			continue
		}
		seenPO[po] = true
		c.enqueueFor(po, m, nil)
	}
}

func (c *CentralPostOffice) snoop(m *message.Message) {
	source, _ := m.Body["source"].(string)
	typ, _ := m.Body["type"].(string)
	requestor, _ := m.Body["requestor"].(string)
	if source == "" || typ == "" || requestor == "" {
		return
	}
	key := subidx.Key(source, typ)
	if m.Envelope.Type == "manage.subscribe" {
		c.subs.Add(key, requestor, requestor)
	} else {
		c.subs.Remove(key, requestor)
	}
}

func (c *CentralPostOffice) forward(m *message.Message, from *POConnection) {
	destPO := firstSegment(m.Envelope.To)
	client := c.getClient(destPO)
	if client == nil {
		logs.Warning.Printf("cpo: no such destination post office %q, dropping %s", destPO, m.Envelope.ID)
		return
	}

	var fromSecret []byte
	if m.IsEncrypted() && from != nil && from.Client() != nil {
		fromSecret = from.Client().secret
	}
	c.enqueueFor(destPO, m, func(msg *message.Message) {
		if msg.IsEncrypted() && fromSecret != nil {
			if err := msg.ReEncrypt(fromSecret, client.secret); err != nil {
				logs.Error.Printf("cpo: re-encrypting message %s for %s failed: %v", msg.Envelope.ID, destPO, err)
			}
		}
	})
}

// enqueueFor delivers m to poName's client out-queue, cloning it first
// (reEncrypt, if supplied, runs on the clone so the original in the
// shared subscriber fan-out loop is never mutated) and marshaling to a
// wire frame.
func (c *CentralPostOffice) enqueueFor(poName string, m *message.Message, reEncrypt func(*message.Message)) {
	client := c.getClient(poName)
	if client == nil {
		logs.Warning.Printf("cpo: no such post office %q, dropping message", poName)
		return
	}

	msg := m
	if reEncrypt != nil {
		clone, err := m.Clone()
		if err != nil {
			logs.Error.Printf("cpo: cloning message %s failed: %v", m.Envelope.ID, err)
			return
		}
		msg = clone
		reEncrypt(msg)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		logs.Error.Printf("cpo: marshaling message %s failed: %v", msg.Envelope.ID, err)
		return
	}
	client.outbox.Push(wire.Frame(payload))
	c.stats.inc("MessagesRouted", 1)
}

func firstSegment(addr string) string {
	if i := strings.Index(addr, "."); i >= 0 {
		return addr[:i]
	}
	return addr
}
