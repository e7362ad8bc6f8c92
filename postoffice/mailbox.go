/******************************************************************************
 *
 *  Description :
 *    Mailbox: a bounded receive queue plus reply-waiter registry and
 *    message-builder conveniences, owned by a PostOffice.
 *
 *****************************************************************************/
package postoffice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/SlightlyLoony/MOP/logs"
	"github.com/SlightlyLoony/MOP/message"
)

// ErrReplyTimeout is returned by SendAndWaitForReply when no matching
// reply arrives before the deadline.
var ErrReplyTimeout = errors.New("postoffice: reply timeout")

// Mailbox is a named, bounded-queue receiver owned by one PostOffice.
type Mailbox struct {
	name string
	po   *PostOffice

	queue chan *message.Message

	mu      sync.Mutex
	waiters map[string]chan *message.Message
}

func newMailbox(po *PostOffice, name string, queueSize int) *Mailbox {
	return &Mailbox{
		name:    name,
		po:      po,
		queue:   make(chan *message.Message, queueSize),
		waiters: map[string]chan *message.Message{},
	}
}

// Address returns the mailbox's fully-qualified address,
// "<poName>.<mailboxName>".
func (mb *Mailbox) Address() string {
	return mb.po.name + "." + mb.name
}

// CreateDirectMessage builds a point-to-point message from this mailbox.
func (mb *Mailbox) CreateDirectMessage(to, typ string, expectReply bool) *message.Message {
	return message.NewDirect(mb.Address(), to, typ, mb.po.nextID(), expectReply)
}

// CreateReplyMessage builds a reply to orig, addressed back to its
// sender, with the same type unless typ overrides it.
func (mb *Mailbox) CreateReplyMessage(orig *message.Message, typ string) *message.Message {
	if typ == "" {
		typ = orig.Envelope.Type
	}
	return message.NewReply(orig, mb.Address(), typ, mb.po.nextID())
}

// CreatePublishMessage builds a typed broadcast from this mailbox.
func (mb *Mailbox) CreatePublishMessage(typ string) *message.Message {
	return message.NewPublish(mb.Address(), typ, mb.po.nextID())
}

// Send hands m to the owning post office's router. Non-blocking: there
// is no delivery acknowledgement.
func (mb *Mailbox) Send(m *message.Message) error {
	return mb.po.Route(m)
}

// SendAndWaitForReply sends m and blocks until a reply naming m's id
// arrives, or deadline elapses, whichever comes first. The waiter is
// always unregistered before returning.
func (mb *Mailbox) SendAndWaitForReply(m *message.Message, deadline time.Duration) (*message.Message, error) {
	ch := make(chan *message.Message, 1)
	mb.mu.Lock()
	mb.waiters[m.Envelope.ID] = ch
	mb.mu.Unlock()
	defer func() {
		mb.mu.Lock()
		delete(mb.waiters, m.Envelope.ID)
		mb.mu.Unlock()
	}()

	if err := mb.Send(m); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-time.After(deadline):
		return nil, ErrReplyTimeout
	}
}

// Receive is called by the owning post office to deliver m to this
// mailbox. If m is a reply naming a registered waiter, it is handed
// directly to that waiter and never enters the queue. Otherwise it is
// enqueued; if the queue is full the newest arrival (m itself) is
// dropped and logged, per the resolved outbound/inbound overflow
// policy.
func (mb *Mailbox) Receive(m *message.Message) {
	if m.Envelope.Reply != "" {
		mb.mu.Lock()
		ch, ok := mb.waiters[m.Envelope.Reply]
		if ok {
			delete(mb.waiters, m.Envelope.Reply)
		}
		mb.mu.Unlock()
		if ok {
			ch <- m
			return
		}
		// Late reply, waiter already expired: falls through to the
		// queue like any other message.
	}

	select {
	case mb.queue <- m:
	default:
		logs.Warning.Printf("mailbox %s: queue full, dropping message %s", mb.Address(), m.Envelope.ID)
	}
}

// Take blocks until a message is available or ctx is done.
func (mb *Mailbox) Take(ctx context.Context) (*message.Message, error) {
	select {
	case m := <-mb.queue:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Poll waits up to timeout for a message, returning ok=false on
// timeout.
func (mb *Mailbox) Poll(timeout time.Duration) (m *message.Message, ok bool) {
	select {
	case m = <-mb.queue:
		return m, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Size returns the number of messages currently queued.
func (mb *Mailbox) Size() int { return len(mb.queue) }

// Subscribe registers this mailbox as a subscriber of sourceAddr.typ.
func (mb *Mailbox) Subscribe(sourceAddr, typ string) error {
	return mb.po.ManSub(true, mb, sourceAddr, typ)
}

// Unsubscribe removes this mailbox as a subscriber of sourceAddr.typ.
func (mb *Mailbox) Unsubscribe(sourceAddr, typ string) error {
	return mb.po.ManSub(false, mb, sourceAddr, typ)
}

// Encrypt selectively encrypts m's named fields using this post
// office's shared secret.
func (mb *Mailbox) Encrypt(m *message.Message, fields ...string) error {
	return m.Encrypt(mb.po.secret, fields...)
}
