/******************************************************************************
 *
 *  Description :
 *    POConnection: the CPO-side per-TCP-link state. Reads frames into
 *    the router's shared inbound channel; writes whatever its
 *    associated POClient's out-queue produces. Does not survive a
 *    reconnect; the POClient it authenticates to does.
 *
 *****************************************************************************/
package cpo

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/SlightlyLoony/MOP/logs"
	"github.com/SlightlyLoony/MOP/message"
	"github.com/SlightlyLoony/MOP/wire"
)

// inboundFrame pairs a decoded message with the connection it arrived
// on, so the router can correlate management traffic and know which
// client's out-queue to write to.
type inboundFrame struct {
	msg  *message.Message
	conn *POConnection
}

// POConnection is one accepted TCP link, named by its remote address
// until (and unless) it authenticates to a POClient.
type POConnection struct {
	name     string
	conn     net.Conn
	deframer *wire.Deframer
	cpo      *CentralPostOffice

	mu         sync.Mutex
	client     *POClient
	lastPongAt time.Time
	open       bool

	closeOnce sync.Once
}

func newPOConnection(cpo *CentralPostOffice, conn net.Conn) *POConnection {
	return &POConnection{
		name:       conn.RemoteAddr().String(),
		conn:       conn,
		deframer:   wire.NewDeframer(cpo.cfg.MaxMessageSize),
		cpo:        cpo,
		lastPongAt: time.Now(),
		open:       true,
	}
}

// Client returns the associated POClient, or nil if not yet
// authenticated.
func (c *POConnection) Client() *POClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

func (c *POConnection) setClient(pc *POClient) {
	c.mu.Lock()
	c.client = pc
	c.mu.Unlock()
}

func (c *POConnection) resetPong() {
	c.mu.Lock()
	c.lastPongAt = time.Now()
	c.mu.Unlock()
}

func (c *POConnection) pongAge() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastPongAt)
}

func (c *POConnection) isOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *POConnection) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.open = false
		client := c.client
		c.mu.Unlock()

		c.conn.Close()
		if client != nil {
			client.detach(c)
		}
		c.cpo.forgetConnection(c)
		c.cpo.stats.inc("LiveConnections", -1)
	})
}

// readLoop feeds the de-framer from the socket and forwards each
// complete, parseable frame to the router's inbound channel. Returns
// when the connection fails or is closed.
func (c *POConnection) readLoop() {
	defer c.close()

	buf := make([]byte, c.cpo.cfg.MaxMessageSize+10)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.cpo.stats.inc("BytesIn", int64(n))
			c.deframer.Feed(buf[:n])
			for {
				payload, ok, derr := c.deframer.Next()
				if derr != nil {
					logs.Warning.Printf("cpo: connection %s: %v", c.name, derr)
					c.cpo.stats.inc("FramesDropped", 1)
				}
				if !ok {
					break
				}
				m := &message.Message{}
				if uerr := json.Unmarshal(payload, m); uerr != nil {
					logs.Warning.Printf("cpo: connection %s: malformed message: %v", c.name, uerr)
					continue
				}
				select {
				case c.cpo.inbound <- inboundFrame{msg: m, conn: c}:
				default:
					logs.Warning.Printf("cpo: connection %s: router queue full, dropping message", c.name)
					c.cpo.stats.inc("FramesDropped", 1)
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// writeLoop drains client's out-queue to the socket until it closes or
// a write fails. Only started after the connection has authenticated
// and been attached to client.
func (c *POConnection) writeLoop(client *POClient) {
	defer c.close()
	for {
		buf, ok := client.outbox.Pop()
		if !ok {
			return
		}
		if _, err := c.conn.Write(buf); err != nil {
			logs.Warning.Printf("cpo: connection %s: write failed: %v", c.name, err)
			return
		}
		c.cpo.stats.inc("BytesOut", int64(len(buf)))
		if !c.isOpen() {
			return
		}
	}
}
