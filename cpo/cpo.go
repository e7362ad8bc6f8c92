/******************************************************************************
 *
 *  Description :
 *    CentralPostOffice: the broker. Accepts connections, owns the
 *    configured client registry and subscription index, runs the
 *    router goroutine, the pinger, and the pong-check watchdog.
 *
 *****************************************************************************/
package cpo

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SlightlyLoony/MOP/b64num"
	"github.com/SlightlyLoony/MOP/logs"
	"github.com/SlightlyLoony/MOP/message"
	"github.com/SlightlyLoony/MOP/monitor"
	"github.com/SlightlyLoony/MOP/subidx"
)

const (
	inboundQueueCapacity = 1000
	pongCheckInterval    = 100 * time.Millisecond
	pongStaleFactor      = 1.5
)

// CentralPostOffice is the broker process.
type CentralPostOffice struct {
	cfg         CPOConfig
	secretsPath string

	mu      sync.RWMutex
	clients map[string]*POClient

	connMu      sync.Mutex
	connections map[*POConnection]struct{}

	subs *subidx.Index[string]

	inbound chan inboundFrame

	stats   *statsReporter
	monitor monitor.Sampler

	idCounter uint64
	startedAt time.Time

	listener net.Listener
	done     chan struct{}
	wg       sync.WaitGroup
}

// New constructs a CentralPostOffice from cfg and an initial client
// credential list, but does not yet listen -- call Start for that.
func New(cfg CPOConfig, secretsPath string, creds []ClientCredentials, mux *http.ServeMux) (*CentralPostOffice, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &CentralPostOffice{
		cfg:         cfg,
		secretsPath: secretsPath,
		clients:     map[string]*POClient{},
		connections: map[*POConnection]struct{}{},
		subs:        subidx.New[string](),
		inbound:     make(chan inboundFrame, inboundQueueCapacity),
		monitor:     monitor.Default{},
		startedAt:   time.Now(),
		done:        make(chan struct{}),
	}
	c.stats = newStatsReporter(mux, cfg.StatsPath)

	for _, cr := range creds {
		secret, err := decodeSecret(cr.Secret)
		if err != nil {
			return nil, fmt.Errorf("cpo: client %q: %w", cr.Name, err)
		}
		c.clients[cr.Name] = newPOClient(c, cr.Name, secret, cr.Manager)
	}
	c.stats.set("LiveClients", int64(len(c.clients)))

	return c, nil
}

func decodeSecret(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}

func encodeSecret(secret []byte) string {
	return base64.StdEncoding.EncodeToString(secret)
}

// nextID returns a fresh, process-unique message id for CPO-originated
// messages.
func (c *CentralPostOffice) nextID() string {
	n := atomic.AddUint64(&c.idCounter, 1) - 1
	return b64num.Encode(int64(n)) + ".central"
}

func (c *CentralPostOffice) getClient(name string) *POClient {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clients[name]
}

func (c *CentralPostOffice) addClient(name string, secret []byte, isManager bool) {
	c.mu.Lock()
	c.clients[name] = newPOClient(c, name, secret, isManager)
	n := len(c.clients)
	c.mu.Unlock()
	c.stats.set("LiveClients", int64(n))
}

func (c *CentralPostOffice) removeClient(name string) {
	c.mu.Lock()
	client := c.clients[name]
	delete(c.clients, name)
	n := len(c.clients)
	c.mu.Unlock()
	c.stats.set("LiveClients", int64(n))
	if client != nil {
		if conn := client.Connection(); conn != nil {
			conn.close()
		}
	}
}

func (c *CentralPostOffice) connectionCount() int {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return len(c.connections)
}

func (c *CentralPostOffice) trackConnection(conn *POConnection) {
	c.connMu.Lock()
	c.connections[conn] = struct{}{}
	c.connMu.Unlock()
	c.stats.inc("LiveConnections", 1)
}

func (c *CentralPostOffice) forgetConnection(conn *POConnection) {
	c.connMu.Lock()
	delete(c.connections, conn)
	c.connMu.Unlock()
}

func (c *CentralPostOffice) liveConnections() []*POConnection {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	out := make([]*POConnection, 0, len(c.connections))
	for conn := range c.connections {
		out = append(out, conn)
	}
	return out
}

// Start begins listening and launches the router, pinger, and
// pong-check goroutines.
func (c *CentralPostOffice) Start() error {
	addr := fmt.Sprintf("%s:%d", c.cfg.LocalAddress, c.cfg.Port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("cpo: listening on %s: %w", addr, err)
	}
	c.listener = l

	c.wg.Add(4)
	go c.runRouter()
	go c.runPinger()
	go c.runPongCheck()
	go c.acceptLoop()

	logs.Info.Printf("cpo: listening on %s", addr)
	return nil
}

// Shutdown closes the listener, all live connections, and stops the
// background goroutines.
func (c *CentralPostOffice) Shutdown() {
	close(c.done)
	if c.listener != nil {
		c.listener.Close()
	}
	for _, conn := range c.liveConnections() {
		conn.close()
	}
	close(c.inbound)
	c.stats.shutdown()
	c.wg.Wait()
}

func (c *CentralPostOffice) acceptLoop() {
	defer c.wg.Done()
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
				logs.Error.Printf("cpo: accept failed: %v", err)
				return
			}
		}
		poConn := newPOConnection(c, conn)
		c.trackConnection(poConn)
		go poConn.readLoop()
	}
}

// runPinger sends manage.ping to every live, authenticated client
// every PingInterval.
func (c *CentralPostOffice) runPinger() {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Duration(c.cfg.PingInterval()) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			clients := make([]*POClient, 0, len(c.clients))
			for _, cl := range c.clients {
				clients = append(clients, cl)
			}
			c.mu.RUnlock()
			for _, cl := range clients {
				if cl.Connection() == nil {
					continue
				}
				ping := message.NewDirect("central.po", cl.name+".po", "manage.ping", c.nextID(), false)
				c.enqueueFor(cl.name, ping, nil)
			}
		}
	}
}

// runPongCheck closes any connection whose time-since-last-pong
// exceeds pongStaleFactor times the configured ping interval; the
// POClient survives and awaits reconnect.
func (c *CentralPostOffice) runPongCheck() {
	defer c.wg.Done()
	ticker := time.NewTicker(pongCheckInterval)
	defer ticker.Stop()
	threshold := time.Duration(float64(c.cfg.PingInterval())*pongStaleFactor) * time.Millisecond
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			for _, conn := range c.liveConnections() {
				if conn.Client() == nil {
					continue
				}
				if conn.pongAge() > threshold {
					logs.Warning.Printf("cpo: connection %s: missed pong, closing", conn.name)
					conn.close()
				}
			}
		}
	}
}

func osStatsToMap(s monitor.OSStats) map[string]interface{} {
	return map[string]interface{}{
		"valid":         s.Valid,
		"os":            s.OS,
		"hostName":      s.HostName,
		"kernelName":    s.KernelName,
		"kernelVersion": s.KernelVersion,
		"architecture":  s.Architecture,
		"totalMemory":   s.TotalMemory,
		"usedMemory":    s.UsedMemory,
		"freeMemory":    s.FreeMemory,
		"cpuBusyPct":    s.CPUBusyPct,
		"cpuIdlePct":    s.CPUIdlePct,
		"errorMessage":  s.ErrorMessage,
	}
}

func runtimeStatsToMap(s monitor.RuntimeStats) map[string]interface{} {
	return map[string]interface{}{
		"usedBytes":           s.UsedBytes,
		"freeBytes":           s.FreeBytes,
		"allocatedBytes":      s.AllocatedBytes,
		"availableBytes":      s.AvailableBytes,
		"maxBytes":            s.MaxBytes,
		"cpus":                s.CPUs,
		"totalThreads":        s.TotalThreads,
		"newThreads":          s.NewThreads,
		"runningThreads":      s.RunningThreads,
		"blockedThreads":      s.BlockedThreads,
		"waitingThreads":      s.WaitingThreads,
		"timedWaitingThreads": s.TimedWaiting,
		"terminatedThreads":   s.TerminatedCount,
	}
}
