/******************************************************************************
 *
 *  Description :
 *    CPOLink: the post office's client connection to the central post
 *    office. Owns the reconnect loop, the reader and writer goroutines,
 *    and the connect/reconnect handshake.
 *
 *****************************************************************************/
package postoffice

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/SlightlyLoony/MOP/logs"
	"github.com/SlightlyLoony/MOP/message"
	"github.com/SlightlyLoony/MOP/wire"
)

const (
	reconnectDelay      = 500 * time.Millisecond
	defaultMaxMessage   = 64 * 1024
	defaultPingInterval = 30 * time.Second
	outboxCapacity      = 1000
	pingCheckInterval   = 100 * time.Millisecond
	pingStaleFactor     = 1.5
)

// CPOLink manages the TCP connection from a post office to its central
// post office.
type CPOLink struct {
	po   *PostOffice
	host string
	port int

	secret []byte

	outbox   *wire.OutBox
	deframer *wire.Deframer

	mu           sync.Mutex
	conn         net.Conn
	connected    bool
	reconnecting bool
	everConnect  bool
	pending      []byte

	pingInterval time.Duration
	lastPingAt   time.Time

	done        chan struct{}
	pingCheckSD chan struct{}
}

func newCPOLink(po *PostOffice, host string, port int, secret []byte) *CPOLink {
	return &CPOLink{
		po:           po,
		host:         host,
		port:         port,
		secret:       secret,
		outbox:       wire.NewOutBox(outboxCapacity, func() { logs.Warning.Printf("postoffice %s: outbound queue full, dropping message", po.name) }),
		deframer:     wire.NewDeframer(defaultMaxMessage),
		pingInterval: defaultPingInterval,
		done:         make(chan struct{}),
	}
}

func (l *CPOLink) start() {
	go l.reconnect()
}

func (l *CPOLink) shutdown() {
	close(l.done)
	l.outbox.Close()
	l.mu.Lock()
	if l.conn != nil {
		l.conn.Close()
	}
	l.mu.Unlock()
}

// Connected reports whether the link currently has a live connection.
func (l *CPOLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Send marshals m to JSON, frames it, and enqueues the frame for
// delivery to the central post office.
func (l *CPOLink) Send(m *message.Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	l.outbox.Push(wire.Frame(payload))
	return nil
}

// reconnect attempts to establish the connection, retrying every
// reconnectDelay on failure, until shutdown.
func (l *CPOLink) reconnect() {
	l.mu.Lock()
	if l.reconnecting {
		l.mu.Unlock()
		return
	}
	l.reconnecting = true
	l.mu.Unlock()

	ticker := time.NewTicker(reconnectDelay)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		default:
		}

		conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", l.host, l.port))
		if err == nil {
			l.mu.Lock()
			l.conn = conn
			l.connected = true
			l.reconnecting = false
			l.lastPingAt = time.Now()
			l.mu.Unlock()
			l.outbox.Reopen()
			l.onConnected()

			pingCheckDone := make(chan struct{})
			l.mu.Lock()
			l.pingCheckSD = pingCheckDone
			l.mu.Unlock()
			go l.pingCheckLoop(conn, pingCheckDone)

			go l.writeLoop(conn)
			l.readLoop(conn)

			close(pingCheckDone)
			l.mu.Lock()
			l.connected = false
			l.conn = nil
			l.mu.Unlock()
			conn.Close()

			select {
			case <-l.done:
				return
			default:
			}
			l.mu.Lock()
			l.reconnecting = true
			l.mu.Unlock()
			continue
		}

		select {
		case <-ticker.C:
		case <-l.done:
			return
		}
	}
}

// onConnected builds and enqueues the connect/reconnect handshake
// message ahead of anything else, reinserting any partially-written
// buffer from the previous connection first.
func (l *CPOLink) onConnected() {
	id := l.po.nextID()
	auth := message.Authenticator(l.secret, l.po.name, id)

	typ := "manage.connect"
	if l.everConnect {
		typ = "manage.reconnect"
	}
	msg := message.NewDirect(l.po.name+".po", "central.po", typ, id, true)
	msg.Body["authenticator"] = auth

	payload, err := json.Marshal(msg)
	if err != nil {
		logs.Error.Printf("postoffice %s: failed to build handshake: %v", l.po.name, err)
		return
	}

	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	l.outbox.PushReconnect(pending, wire.Frame(payload))
}

func (l *CPOLink) writeLoop(conn net.Conn) {
	for {
		buf, ok := l.outbox.Pop()
		if !ok {
			return
		}
		if _, err := conn.Write(buf); err != nil {
			l.mu.Lock()
			l.pending = buf
			l.mu.Unlock()
			conn.Close()
			return
		}
	}
}

func (l *CPOLink) readLoop(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			l.deframer.Feed(buf[:n])
			for {
				payload, ok, derr := l.deframer.Next()
				if derr != nil {
					logs.Warning.Printf("postoffice %s: %v", l.po.name, derr)
				}
				if !ok {
					break
				}
				l.handleFrame(payload)
			}
		}
		if err != nil {
			return
		}
	}
}

func (l *CPOLink) handleFrame(payload []byte) {
	m := &message.Message{}
	if err := json.Unmarshal(payload, m); err != nil {
		logs.Warning.Printf("postoffice %s: malformed message from cpo: %v", l.po.name, err)
		return
	}

	if m.Envelope.Type == "manage.connect" || m.Envelope.Type == "manage.reconnect" {
		l.handleConnectReply(m)
		return
	}
	if m.Envelope.Type == "manage.ping" {
		l.handlePing(m)
		return
	}

	if err := l.po.Route(m); err != nil {
		logs.Error.Printf("postoffice %s: routing inbound message failed: %v", l.po.name, err)
	}
}

// handleConnectReply processes the CPO's reply to manage.connect or
// manage.reconnect. A bad authenticator never produces a reply at all
// -- the CPO just closes the connection -- so arrival here always
// means acceptance.
func (l *CPOLink) handleConnectReply(m *message.Message) {
	if maxMsg, ok := m.Body["maxMessageSize"].(float64); ok && maxMsg > 0 {
		l.deframer.Resize(int(maxMsg))
	}
	if pingMS, ok := m.Body["pingIntervalMS"].(float64); ok && pingMS > 0 {
		l.mu.Lock()
		l.pingInterval = time.Duration(pingMS) * time.Millisecond
		l.mu.Unlock()
	}

	first := !l.everConnect
	l.everConnect = true
	if first {
		l.po.SubscriptionRefresh()
	}
}

func (l *CPOLink) handlePing(m *message.Message) {
	l.mu.Lock()
	l.lastPingAt = time.Now()
	l.mu.Unlock()

	pong := message.NewReply(m, l.po.name+".po", "manage.pong", l.po.nextID())
	payload, err := json.Marshal(pong)
	if err != nil {
		return
	}
	l.outbox.Push(wire.Frame(payload))
}

// pingCheckLoop closes conn if no manage.ping has arrived within
// pingStaleFactor times the CPO-announced ping interval, treating the
// silence as a link failure per the connection lifecycle state machine.
func (l *CPOLink) pingCheckLoop(conn net.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			l.mu.Lock()
			stale := time.Since(l.lastPingAt) > time.Duration(float64(l.pingInterval)*pingStaleFactor)
			l.mu.Unlock()
			if stale {
				conn.Close()
				return
			}
		}
	}
}
