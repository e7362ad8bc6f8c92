/******************************************************************************
 *
 *  Description :
 *    Management message handlers: connect/reconnect authentication,
 *    pong bookkeeping, and the manager-gated administrative surface
 *    (status/write/add/delete/monitor/connected).
 *
 *****************************************************************************/
package cpo

import (
	"context"
	"strings"
	"time"

	"github.com/SlightlyLoony/MOP/logs"
	"github.com/SlightlyLoony/MOP/message"
)

func (c *CentralPostOffice) handleManagement(m *message.Message, conn *POConnection) {
	switch m.Envelope.Type {
	case "manage.connect", "manage.reconnect":
		c.handleConnect(m, conn)
	case "manage.pong":
		conn.resetPong()
	case "manage.status":
		c.handleStatus(m, conn)
	case "manage.write":
		c.handleWrite(m, conn)
	case "manage.add":
		c.handleAdd(m, conn)
	case "manage.delete":
		c.handleDelete(m, conn)
	case "manage.monitor":
		c.handleMonitor(m, conn)
	case "manage.connected":
		c.handleConnected(m, conn)
	default:
		logs.Warning.Printf("cpo: connection %s: unhandled management type %q", conn.name, m.Envelope.Type)
	}
}

// handleConnect authenticates a manage.connect/manage.reconnect and,
// on success, associates conn with the named client, closing any
// connection the client already held. A failed authenticator always
// closes the connection unconditionally -- never logged-and-continued.
func (c *CentralPostOffice) handleConnect(m *message.Message, conn *POConnection) {
	poName := firstSegment(m.Envelope.From)
	client := c.getClient(poName)
	if client == nil {
		logs.Warning.Printf("cpo: connection %s: connect from unknown post office %q", conn.name, poName)
		conn.close()
		return
	}

	auth, _ := m.Body["authenticator"].(string)
	if !message.VerifyAuthenticator(client.secret, poName, m.Envelope.ID, auth) {
		logs.Warning.Printf("cpo: connection %s: bad authenticator for %q, closing", conn.name, poName)
		c.stats.inc("AuthFailures", 1)
		conn.close()
		return
	}

	if client.Connection() == conn {
		logs.Info.Printf("cpo: connection %s: retransmitted %s for already-attached %q, ignoring", conn.name, m.Envelope.Type, poName)
		return
	}

	conn.setClient(client)
	firstConnect := client.attach(conn)
	go conn.writeLoop(client)

	reply := message.NewReply(m, "central.po", m.Envelope.Type, c.nextID())
	reply.Body["maxMessageSize"] = c.cfg.MaxMessageSize
	reply.Body["pingIntervalMS"] = c.cfg.PingInterval()
	c.enqueueFor(poName, reply, nil)

	if firstConnect {
		c.refreshSubscriptionsFor(poName, client)
	}
}

// refreshSubscriptionsFor replays every subscription entry belonging
// to poName to the newly connected client, without requesting replies,
// so the client's peers don't need to resend manage.subscribe. It runs
// on the client's first connection only, not on later reconnects.
func (c *CentralPostOffice) refreshSubscriptionsFor(poName string, client *POClient) {
	prefix := poName + "."
	for _, key := range c.subs.KeysWithPrefix(prefix) {
		source, typ, ok := splitSubscriptionKey(key)
		if !ok {
			continue
		}
		for requestor := range c.subs.Subscribers(key) {
			msg := message.NewDirect(firstSegment(requestor)+".po", poName+".po", "manage.subscribe", c.nextID(), false)
			msg.Body["source"] = source
			msg.Body["type"] = typ
			msg.Body["requestor"] = requestor
			c.enqueueFor(poName, msg, nil)
		}
	}
}

func splitSubscriptionKey(key string) (source, typ string, ok bool) {
	parts := strings.Split(key, ".")
	if len(parts) < 3 {
		return "", "", false
	}
	return parts[0] + "." + parts[1], strings.Join(parts[2:], "."), true
}

func (c *CentralPostOffice) requireManager(m *message.Message, conn *POConnection) *POClient {
	client := conn.Client()
	if client == nil || !client.manager {
		logs.Warning.Printf("cpo: connection %s: non-manager attempted %q", conn.name, m.Envelope.Type)
		return nil
	}
	return client
}

func (c *CentralPostOffice) handleStatus(m *message.Message, conn *POConnection) {
	manager := c.requireManager(m, conn)
	if manager == nil {
		return
	}

	reply := message.NewReply(m, "central.po", "manage.status", c.nextID())
	reply.Body["uptimeSeconds"] = time.Since(c.startedAt).Seconds()
	reply.Body["liveConnections"] = c.connectionCount()

	clients := map[string]interface{}{}
	c.mu.RLock()
	for name, cl := range c.clients {
		clients[name] = map[string]interface{}{
			"connected":       cl.Connection() != nil,
			"connectionCount": cl.ConnectionCount(),
		}
	}
	c.mu.RUnlock()
	reply.Body["clients"] = clients

	if err := reply.Encrypt(manager.secret, "clients"); err != nil {
		logs.Error.Printf("cpo: encrypting manage.status reply failed: %v", err)
		return
	}
	c.enqueueFor(firstSegment(m.Envelope.From), reply, nil)
}

func (c *CentralPostOffice) handleWrite(m *message.Message, conn *POConnection) {
	manager := c.requireManager(m, conn)
	if manager == nil {
		return
	}

	var creds []ClientCredentials
	c.mu.RLock()
	for name, cl := range c.clients {
		creds = append(creds, ClientCredentials{
			Name:    name,
			Secret:  encodeSecret(cl.secret),
			Manager: cl.manager,
		})
	}
	c.mu.RUnlock()

	if err := SaveSecrets(c.secretsPath, creds); err != nil {
		logs.Error.Printf("cpo: manage.write failed: %v", err)
		return
	}

	reply := message.NewReply(m, "central.po", "manage.write", c.nextID())
	c.enqueueFor(firstSegment(m.Envelope.From), reply, nil)
}

func (c *CentralPostOffice) handleAdd(m *message.Message, conn *POConnection) {
	manager := c.requireManager(m, conn)
	if manager == nil {
		return
	}

	payload, err := m.Clone()
	if err != nil {
		logs.Error.Printf("cpo: manage.add: cloning failed: %v", err)
		return
	}
	if err := payload.Decrypt(manager.secret); err != nil {
		logs.Error.Printf("cpo: manage.add: decrypting payload failed: %v", err)
		return
	}

	name, _ := payload.Body["name"].(string)
	secretB64, _ := payload.Body["secret"].(string)
	isManager, _ := payload.Body["manager"].(bool)
	if name == "" || secretB64 == "" {
		logs.Warning.Printf("cpo: manage.add: missing name or secret")
		return
	}
	secret, err := decodeSecret(secretB64)
	if err != nil {
		logs.Warning.Printf("cpo: manage.add: bad secret: %v", err)
		return
	}

	c.addClient(name, secret, isManager)

	reply := message.NewReply(m, "central.po", "manage.add", c.nextID())
	c.enqueueFor(firstSegment(m.Envelope.From), reply, nil)
}

func (c *CentralPostOffice) handleDelete(m *message.Message, conn *POConnection) {
	manager := c.requireManager(m, conn)
	if manager == nil {
		return
	}

	payload, err := m.Clone()
	if err != nil {
		logs.Error.Printf("cpo: manage.delete: cloning failed: %v", err)
		return
	}
	if err := payload.Decrypt(manager.secret); err != nil {
		logs.Error.Printf("cpo: manage.delete: decrypting payload failed: %v", err)
		return
	}

	name, _ := payload.Body["name"].(string)
	if name == "" {
		logs.Warning.Printf("cpo: manage.delete: missing name")
		return
	}
	c.removeClient(name)

	reply := message.NewReply(m, "central.po", "manage.delete", c.nextID())
	c.enqueueFor(firstSegment(m.Envelope.From), reply, nil)
}

// handleMonitor runs telemetry collection on its own goroutine so the
// router is never blocked sampling host/runtime stats.
func (c *CentralPostOffice) handleMonitor(m *message.Message, conn *POConnection) {
	poName := firstSegment(m.Envelope.From)
	id := m.Envelope.ID
	from := m.Envelope.From
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		osStats, rtStats, err := c.monitor.Sample(ctx)
		if err != nil {
			logs.Warning.Printf("cpo: manage.monitor for %s: %v", from, err)
		}

		reply := message.New("central.po", from, "manage.monitor", c.nextID())
		reply.Envelope.Reply = id
		message.PutDotted(reply.Body, "monitor.os", osStatsToMap(osStats))
		message.PutDotted(reply.Body, "monitor.jvm", runtimeStatsToMap(rtStats))
		c.enqueueFor(poName, reply, nil)
	}()
}

func (c *CentralPostOffice) handleConnected(m *message.Message, conn *POConnection) {
	c.mu.RLock()
	names := make([]string, 0, len(c.clients))
	for name, cl := range c.clients {
		if cl.Connection() != nil {
			names = append(names, name)
		}
	}
	c.mu.RUnlock()

	reply := message.NewReply(m, "central.po", "manage.connected", c.nextID())
	reply.Body["postOffices"] = strings.Join(names, ",")
	c.enqueueFor(firstSegment(m.Envelope.From), reply, nil)
}
