package cpo

import (
	"testing"

	"github.com/SlightlyLoony/MOP/message"
)

func connectMessage(t *testing.T, poName string, secret []byte, id string) *message.Message {
	t.Helper()
	m := message.NewDirect(poName+".po", "central.po", "manage.connect", id, true)
	m.Body["authenticator"] = message.Authenticator(secret, poName, id)
	return m
}

func TestHandleConnectBadAuthenticatorAlwaysCloses(t *testing.T) {
	c := newTestCPO(t, clientCreds("alpha", b64("s3cr3t-alpha-000000"), false))
	conn := newPOConnection(c, pipeConn(t))
	c.trackConnection(conn)

	m := message.NewDirect("alpha.po", "central.po", "manage.connect", "1.alpha", true)
	m.Body["authenticator"] = "not-the-right-value"

	c.handleConnect(m, conn)

	if conn.isOpen() {
		t.Fatalf("a bad authenticator must always close the connection")
	}
	if conn.Client() != nil {
		t.Fatalf("connection must not be attached to any client after a failed authenticator")
	}
}

func TestHandleConnectUnknownPostOfficeCloses(t *testing.T) {
	c := newTestCPO(t)
	conn := newPOConnection(c, pipeConn(t))
	c.trackConnection(conn)

	m := connectMessage(t, "nosuch", []byte("whatever"), "1.nosuch")
	c.handleConnect(m, conn)

	if conn.isOpen() {
		t.Fatalf("connect from an unconfigured post office must close the connection")
	}
}

func TestHandleConnectSuccessAttachesAndReplies(t *testing.T) {
	secret := []byte("s3cr3t-alpha-000000")
	c := newTestCPO(t, clientCreds("alpha", b64(string(secret)), false))
	conn := newPOConnection(c, pipeConn(t))
	c.trackConnection(conn)

	m := connectMessage(t, "alpha", secret, "1.alpha")
	c.handleConnect(m, conn)

	if !conn.isOpen() {
		t.Fatalf("a good authenticator must not close the connection")
	}
	if conn.Client() != c.getClient("alpha") {
		t.Fatalf("connection should be attached to the alpha client")
	}

	reply := drainOne(t, c.getClient("alpha").outbox)
	if reply.Envelope.Reply != "1.alpha" {
		t.Fatalf("reply should name the connect message's id, got %q", reply.Envelope.Reply)
	}
}

func TestHandleConnectRetransmitOnSameConnectionIsNoOp(t *testing.T) {
	secret := []byte("s3cr3t-alpha-000000")
	c := newTestCPO(t, clientCreds("alpha", b64(string(secret)), false))
	conn := newPOConnection(c, pipeConn(t))
	c.trackConnection(conn)

	m := connectMessage(t, "alpha", secret, "1.alpha")
	c.handleConnect(m, conn)

	client := c.getClient("alpha")
	drainOne(t, client.outbox)
	if client.outbox.Len() != 0 {
		t.Fatalf("expected outbox drained after first connect reply")
	}

	m2 := connectMessage(t, "alpha", secret, "2.alpha")
	c.handleConnect(m2, conn)

	if client.Connection() != conn {
		t.Fatalf("retransmitted connect must not detach the already-current connection")
	}
	if client.outbox.Len() != 0 {
		t.Fatalf("retransmitted connect on an already-attached connection must not queue a second reply")
	}
}

func TestHandleConnectFirstConnectTriggersSubscriptionRefresh(t *testing.T) {
	secret := []byte("s3cr3t-alpha-000000")
	c := newTestCPO(t, clientCreds("alpha", b64(string(secret)), false))
	c.subs.Add("alpha.sensor.reading", "beta.listener", "beta.listener")

	conn := newPOConnection(c, pipeConn(t))
	c.trackConnection(conn)
	m := connectMessage(t, "alpha", secret, "1.alpha")
	c.handleConnect(m, conn)

	client := c.getClient("alpha")
	// The connect reply is queued first on alpha's outbox, followed by the
	// replayed manage.subscribe (beta.po -> alpha.po) for alpha's entry.
	// The writeLoop started by handleConnect may already have popped a
	// frame, so only "something is still queued" is checked here.
	if client.outbox.Len() == 0 {
		t.Fatalf("expected at least the connect reply to be queued")
	}
}

func TestRequireManagerRejectsNonManager(t *testing.T) {
	secret := []byte("s3cr3t-alpha-000000")
	c := newTestCPO(t, clientCreds("alpha", b64(string(secret)), false))
	conn := newPOConnection(c, pipeConn(t))
	conn.setClient(c.getClient("alpha"))

	m := message.NewDirect("alpha.po", "central.po", "manage.status", "1.alpha", true)
	if c.requireManager(m, conn) != nil {
		t.Fatalf("a non-manager client must not pass requireManager")
	}
}

func TestRequireManagerAcceptsManager(t *testing.T) {
	secret := []byte("mgr-secret-0000000000")
	c := newTestCPO(t, clientCreds("mgr", b64(string(secret)), true))
	conn := newPOConnection(c, pipeConn(t))
	conn.setClient(c.getClient("mgr"))

	m := message.NewDirect("mgr.po", "central.po", "manage.status", "1.mgr", true)
	if c.requireManager(m, conn) == nil {
		t.Fatalf("a manager client should pass requireManager")
	}
}

func TestHandleStatusEncryptsClientsSubtreeWithManagerSecret(t *testing.T) {
	mgrSecret := []byte("mgr-secret-0000000000")
	c := newTestCPO(t,
		clientCreds("mgr", b64(string(mgrSecret)), true),
		clientCreds("alpha", b64("alpha-secret-0000000"), false),
	)
	conn := newPOConnection(c, pipeConn(t))
	conn.setClient(c.getClient("mgr"))

	m := message.NewDirect("mgr.po", "central.po", "manage.status", "1.mgr", true)
	c.handleStatus(m, conn)

	reply := drainOne(t, c.getClient("mgr").outbox)
	if reply.Envelope.Secure == "" {
		t.Fatalf("manage.status reply should carry an encrypted clients field")
	}
	if _, present := reply.Body["clients"]; present {
		t.Fatalf("clients field should have been lifted out of the plaintext body")
	}
	if err := reply.Decrypt(mgrSecret); err != nil {
		t.Fatalf("manager should be able to decrypt the clients subtree: %v", err)
	}
	if _, ok := reply.Body["clients"].(map[string]interface{}); !ok {
		t.Fatalf("decrypted reply missing clients map: %#v", reply.Body["clients"])
	}
}

func TestHandleAddDecryptsPayloadAndRegistersClient(t *testing.T) {
	mgrSecret := []byte("mgr-secret-0000000000")
	c := newTestCPO(t, clientCreds("mgr", b64(string(mgrSecret)), true))
	conn := newPOConnection(c, pipeConn(t))
	conn.setClient(c.getClient("mgr"))

	m := message.NewDirect("mgr.po", "central.po", "manage.add", "1.mgr", true)
	m.Body["name"] = "gamma"
	m.Body["secret"] = b64("gamma-secret-00000000")
	m.Body["manager"] = false
	if err := m.Encrypt(mgrSecret, "name", "secret", "manager"); err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	c.handleAdd(m, conn)

	if c.getClient("gamma") == nil {
		t.Fatalf("expected gamma to be registered after manage.add")
	}
}

func TestHandleDeleteRemovesClient(t *testing.T) {
	mgrSecret := []byte("mgr-secret-0000000000")
	c := newTestCPO(t,
		clientCreds("mgr", b64(string(mgrSecret)), true),
		clientCreds("gamma", b64("gamma-secret-00000000"), false),
	)
	conn := newPOConnection(c, pipeConn(t))
	conn.setClient(c.getClient("mgr"))

	m := message.NewDirect("mgr.po", "central.po", "manage.delete", "1.mgr", true)
	m.Body["name"] = "gamma"
	if err := m.Encrypt(mgrSecret, "name"); err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	c.handleDelete(m, conn)

	if c.getClient("gamma") != nil {
		t.Fatalf("expected gamma to be removed after manage.delete")
	}
}

func TestSplitSubscriptionKey(t *testing.T) {
	source, typ, ok := splitSubscriptionKey("alpha.sensor.reading.celsius")
	if !ok || source != "alpha.sensor" || typ != "reading.celsius" {
		t.Fatalf("got (%q, %q, %v)", source, typ, ok)
	}
	if _, _, ok := splitSubscriptionKey("tooshort"); ok {
		t.Fatalf("expected split to fail on a key with too few segments")
	}
}
