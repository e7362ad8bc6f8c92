/******************************************************************************
 *
 *  Description :
 *    PostOffice: the per-process routing runtime. Owns the mailbox
 *    registry, local and foreign routing, the subscription index, the
 *    special-waiter retry mechanism for subscribe/unsubscribe
 *    acknowledgement, and the link to the central post office.
 *
 *****************************************************************************/
package postoffice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SlightlyLoony/MOP/b64num"
	"github.com/SlightlyLoony/MOP/logs"
	"github.com/SlightlyLoony/MOP/message"
	"github.com/SlightlyLoony/MOP/monitor"
	"github.com/SlightlyLoony/MOP/subidx"
)

// ReservedPOMailbox is the management mailbox every post office owns.
const ReservedPOMailbox = "po"

// ReservedCPOMailbox is the internal mailbox used to queue messages
// bound for the central post office.
const ReservedCPOMailbox = "[({CPO})]"

const cpoMailboxSizeMultiplier = 10

const (
	specialWaiterCheckInterval = 100 * time.Millisecond
	specialWaiterExpiration    = 1000 * time.Millisecond
)

var (
	// ErrInvalidName is returned by New and CreateMailbox for
	// an empty name or one containing '.'.
	ErrInvalidName = errors.New("postoffice: invalid name")
	// ErrMailboxExists is returned by CreateMailbox for a duplicate name.
	ErrMailboxExists = errors.New("postoffice: mailbox already exists")
	// ErrMailboxReserved is returned by CreateMailbox for the reserved
	// internal CPO-bound mailbox name.
	ErrMailboxReserved = errors.New("postoffice: reserved mailbox name")
	// ErrNoSuchMailbox names the unknown-local-mailbox condition. No
	// function in this package returns it: Route logs and drops a
	// message addressed to an unknown local mailbox instead.
	ErrNoSuchMailbox = errors.New("postoffice: no such mailbox")
)

type specialWaiter struct {
	msg      *message.Message
	sentAtMS int64
}

// PostOffice is the per-process routing runtime.
type PostOffice struct {
	name      string
	secret    []byte
	queueSize int

	mu        sync.RWMutex
	mailboxes map[string]*Mailbox

	poMailbox  *Mailbox
	cpoMailbox *Mailbox

	subs *subidx.Index[*Mailbox]

	swMu           sync.Mutex
	specialWaiters map[string]*specialWaiter

	idCounter uint64

	link    *CPOLink
	sampler monitor.Sampler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config parameterizes a PostOffice.
type Config struct {
	Name      string
	Secret    []byte
	QueueSize int
	CPOHost   string
	CPOPort   int
}

// New validates cfg and constructs a PostOffice with its reserved
// mailboxes created, but does not yet connect to the central post
// office -- call Start for that.
func New(cfg Config) (*PostOffice, error) {
	if cfg.Name == "" || strings.Contains(cfg.Name, ".") {
		return nil, ErrInvalidName
	}
	if cfg.QueueSize <= 0 {
		return nil, errors.New("postoffice: queue size must be positive")
	}
	if len(cfg.Secret) == 0 {
		return nil, errors.New("postoffice: secret must not be empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	po := &PostOffice{
		name:           cfg.Name,
		secret:         cfg.Secret,
		queueSize:      cfg.QueueSize,
		mailboxes:      map[string]*Mailbox{},
		subs:           subidx.New[*Mailbox](),
		specialWaiters: map[string]*specialWaiter{},
		sampler:        monitor.Default{},
		ctx:            ctx,
		cancel:         cancel,
	}

	po.poMailbox = newMailbox(po, ReservedPOMailbox, cfg.QueueSize)
	po.mailboxes[ReservedPOMailbox] = po.poMailbox

	po.cpoMailbox = newMailbox(po, ReservedCPOMailbox, cfg.QueueSize*cpoMailboxSizeMultiplier)
	po.mailboxes[ReservedCPOMailbox] = po.cpoMailbox

	po.link = newCPOLink(po, cfg.CPOHost, cfg.CPOPort, cfg.Secret)

	return po, nil
}

// Name returns the post office's own name.
func (po *PostOffice) Name() string { return po.name }

// Secret returns the shared secret, for callers building authenticated
// management messages.
func (po *PostOffice) Secret() []byte { return po.secret }

// Start launches the background goroutines: the CPO link, the po
// mailbox handler, the CPO-bound outbound drain, and the
// special-waiter retry ticker.
func (po *PostOffice) Start() {
	po.wg.Add(3)
	go po.runPOMailboxHandler()
	go po.runCPOMailboxHandler()
	go po.runSpecialWaiterTicker()
	po.link.start()
}

// Shutdown stops all background goroutines and closes the CPO link.
func (po *PostOffice) Shutdown() {
	po.cancel()
	po.link.shutdown()
	po.wg.Wait()
}

// CreateMailbox registers a new mailbox. Fails for an empty name, a
// name containing '.', the reserved internal CPO mailbox name, or a
// name already in use.
func (po *PostOffice) CreateMailbox(name string) (*Mailbox, error) {
	if name == "" || strings.Contains(name, ".") {
		return nil, ErrInvalidName
	}
	if name == ReservedCPOMailbox {
		return nil, ErrMailboxReserved
	}
	po.mu.Lock()
	defer po.mu.Unlock()
	if _, exists := po.mailboxes[name]; exists {
		return nil, ErrMailboxExists
	}
	mb := newMailbox(po, name, po.queueSize)
	po.mailboxes[name] = mb
	return mb, nil
}

func (po *PostOffice) getMailbox(name string) (*Mailbox, bool) {
	po.mu.RLock()
	defer po.mu.RUnlock()
	mb, ok := po.mailboxes[name]
	return mb, ok
}

// nextID returns a fresh, process-unique message id.
func (po *PostOffice) nextID() string {
	n := atomic.AddUint64(&po.idCounter, 1) - 1
	return b64num.Encode(int64(n)) + "." + po.name
}

func firstSegment(addr string) string {
	if i := strings.Index(addr, "."); i >= 0 {
		return addr[:i]
	}
	return addr
}

// Route performs local or foreign delivery of m: local-mailbox direct
// delivery, foreign direct delivery via the CPO-bound mailbox (with
// special-waiter registration for subscribe/unsubscribe), or publish
// fan-out to the union of subscribers at m's full and major keys.
func (po *PostOffice) Route(m *message.Message) error {
	if m.IsDirect() {
		if m.ToPO() == po.name {
			shortName := strings.TrimPrefix(m.Envelope.To, po.name+".")
			mb, ok := po.getMailbox(shortName)
			if !ok {
				logs.Warning.Printf("postoffice %s: no such local mailbox %q, dropping %s", po.name, m.Envelope.To, m.Envelope.ID)
				return nil
			}
			mb.Receive(m)
			return nil
		}

		if strings.HasSuffix(m.Envelope.To, ".po") &&
			(m.Envelope.Type == "manage.subscribe" || m.Envelope.Type == "manage.unsubscribe") &&
			!m.IsReply() && m.IsReplyExpected() {
			po.registerSpecialWaiter(m)
		}
		po.cpoMailbox.Receive(m)
		return nil
	}

	full := subidx.Key(m.Envelope.From, m.Envelope.Type)
	major := subidx.MajorKey(m.Envelope.From, m.Envelope.Type)
	for _, mb := range po.subs.Lookup(full, major) {
		mb.Receive(m)
	}
	return nil
}

// ManSub adds or removes mb as a subscriber of sourceAddr.typ. If the
// source is foreign, also sends (and retries via the special-waiter
// mechanism) a manage.subscribe/unsubscribe request to the owning post
// office.
func (po *PostOffice) ManSub(subscribe bool, mb *Mailbox, sourceAddr, typ string) error {
	key := subidx.Key(sourceAddr, typ)
	if subscribe {
		po.subs.Add(key, mb.Address(), mb)
	} else {
		po.subs.Remove(key, mb.Address())
	}

	sourcePO := firstSegment(sourceAddr)
	if sourcePO == po.name {
		return nil
	}

	verb := "manage.subscribe"
	if !subscribe {
		verb = "manage.unsubscribe"
	}
	msg := message.NewDirect(po.name+".po", sourcePO+".po", verb, po.nextID(), true)
	msg.Body["source"] = sourceAddr
	msg.Body["type"] = typ
	msg.Body["requestor"] = mb.Address()
	return po.Route(msg)
}

func (po *PostOffice) registerSpecialWaiter(m *message.Message) {
	po.swMu.Lock()
	po.specialWaiters[m.Envelope.ID] = &specialWaiter{msg: m, sentAtMS: nowMS()}
	po.swMu.Unlock()
}

func (po *PostOffice) clearSpecialWaiter(id string) {
	po.swMu.Lock()
	delete(po.specialWaiters, id)
	po.swMu.Unlock()
}

func nowMS() int64 { return time.Now().UnixMilli() }

// runSpecialWaiterTicker retransmits any special waiter that has not
// been acknowledged within specialWaiterExpiration, every
// specialWaiterCheckInterval.
func (po *PostOffice) runSpecialWaiterTicker() {
	defer po.wg.Done()
	ticker := time.NewTicker(specialWaiterCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-po.ctx.Done():
			return
		case <-ticker.C:
			now := nowMS()
			po.swMu.Lock()
			var stale []*specialWaiter
			for _, w := range po.specialWaiters {
				if now-w.sentAtMS >= specialWaiterExpiration.Milliseconds() {
					w.sentAtMS = now
					stale = append(stale, w)
				}
			}
			po.swMu.Unlock()
			for _, w := range stale {
				po.cpoMailbox.Receive(w.msg)
			}
		}
	}
}

// runPOMailboxHandler consumes manage.subscribe/manage.unsubscribe
// traffic (requests and their acknowledgements) from the po mailbox.
func (po *PostOffice) runPOMailboxHandler() {
	defer po.wg.Done()
	for {
		m, err := po.poMailbox.Take(po.ctx)
		if err != nil {
			return
		}
		po.handlePOMessage(m)
	}
}

// runCPOMailboxHandler drains every message bound for the central post
// office -- foreign direct deliveries, subscribe/unsubscribe requests,
// special-waiter retransmits, and foreign-subscriber publish forwards
// -- and hands each one to the link for framing and transmission.
func (po *PostOffice) runCPOMailboxHandler() {
	defer po.wg.Done()
	for {
		m, err := po.cpoMailbox.Take(po.ctx)
		if err != nil {
			return
		}
		if err := po.link.Send(m); err != nil {
			logs.Error.Printf("postoffice %s: failed to send %s to cpo: %v", po.name, m.Envelope.ID, err)
		}
	}
}

func (po *PostOffice) handlePOMessage(m *message.Message) {
	switch m.Envelope.Type {
	case "manage.subscribe", "manage.unsubscribe":
		if m.IsReply() {
			po.clearSpecialWaiter(m.Envelope.Reply)
			return
		}
		source, _ := m.Body["source"].(string)
		typ, _ := m.Body["type"].(string)
		requestor, _ := m.Body["requestor"].(string)
		key := subidx.Key(source, typ)
		if m.Envelope.Type == "manage.subscribe" {
			po.subs.Add(key, requestor, po.cpoMailbox)
		} else {
			po.subs.Remove(key, requestor)
		}
		if m.IsReplyExpected() {
			reply := message.NewReply(m, po.name+".po", m.Envelope.Type, po.nextID())
			if err := po.Route(reply); err != nil {
				logs.Error.Printf("postoffice %s: failed to ack %s: %v", po.name, m.Envelope.Type, err)
			}
		}
	default:
		logs.Warning.Printf("postoffice %s: po mailbox received unexpected type %q", po.name, m.Envelope.Type)
	}
}

func splitSubscriptionKey(key string) (source, typ string, ok bool) {
	parts := strings.Split(key, ".")
	if len(parts) < 3 {
		return "", "", false
	}
	return parts[0] + "." + parts[1], strings.Join(parts[2:], "."), true
}

// SubscriptionRefresh re-announces every foreign-source subscription
// this post office holds, without requesting replies. Called once
// after the first successful CPO connection of a process's lifetime
// (not on later reconnects).
func (po *PostOffice) SubscriptionRefresh() {
	prefix := po.name + "."
	for _, key := range po.subs.KeysWithPrefix("") {
		if strings.HasPrefix(key, prefix) {
			continue
		}
		source, typ, ok := splitSubscriptionKey(key)
		if !ok {
			continue
		}
		sourcePO := firstSegment(source)
		for requestor := range po.subs.Subscribers(key) {
			msg := message.NewDirect(po.name+".po", sourcePO+".po", "manage.subscribe", po.nextID(), false)
			msg.Body["source"] = source
			msg.Body["type"] = typ
			msg.Body["requestor"] = requestor
			if err := po.Route(msg); err != nil {
				logs.Error.Printf("postoffice %s: subscription refresh failed: %v", po.name, err)
			}
		}
	}
}

// Monitor returns the host/runtime telemetry sampler used to answer
// manage.monitor requests.
func (po *PostOffice) Monitor() monitor.Sampler { return po.sampler }

// SetMonitor overrides the default telemetry sampler.
func (po *PostOffice) SetMonitor(s monitor.Sampler) { po.sampler = s }

// Link returns the CPO link, for callers (e.g. management CLIs) that
// need connection status.
func (po *PostOffice) Link() *CPOLink { return po.link }
