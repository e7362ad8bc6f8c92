/******************************************************************************
 *
 *  Description :
 *    POClient: the CPO's per-configured-peer state. Survives across
 *    reconnects; its associated POConnection does not.
 *
 *****************************************************************************/
package cpo

import (
	"sync"
	"time"

	"github.com/SlightlyLoony/MOP/wire"
)

const clientOutboxCapacity = 100

// POClient is the CPO-side record of one configured peer post office.
type POClient struct {
	name    string
	secret  []byte
	manager bool

	outbox *wire.OutBox

	mu              sync.Mutex
	connection      *POConnection
	connectionCount int
	lastConnectTime time.Time

	rxBytes, txBytes       int64
	rxMessages, txMessages int64
}

func newPOClient(cpo *CentralPostOffice, name string, secret []byte, manager bool) *POClient {
	c := &POClient{name: name, secret: secret, manager: manager}
	c.outbox = wire.NewOutBox(clientOutboxCapacity, func() {
		cpo.stats.inc("FramesDropped", 1)
	})
	return c
}

// Connection returns the client's current live connection, or nil.
func (c *POClient) Connection() *POConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connection
}

// ConnectionCount returns the number of times this client has
// connected over the CentralPostOffice's lifetime.
func (c *POClient) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionCount
}

// attach associates conn as this client's current connection, closing
// any previous connection first (the "already has a different
// connection, close the old" rule from the CPO router spec). Returns
// whether this is the client's first-ever connection.
func (c *POClient) attach(conn *POConnection) (firstConnect bool) {
	c.mu.Lock()
	old := c.connection
	c.connection = conn
	c.connectionCount++
	firstConnect = c.connectionCount == 1
	c.lastConnectTime = time.Now()
	c.mu.Unlock()

	if old != nil && old != conn {
		old.close()
	}
	return firstConnect
}

// detach clears the connection back-reference if it still points at
// conn (a connection that has already been superseded must not clear
// the newer one out from under it).
func (c *POClient) detach(conn *POConnection) {
	c.mu.Lock()
	if c.connection == conn {
		c.connection = nil
	}
	c.mu.Unlock()
}
