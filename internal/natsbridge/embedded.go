// Package natsbridge provides an optional, embedded cross-process relay
// for room frames, per SPEC_FULL §3. It is not part of spec.md's core
// design (a single process owns all Room Actors); it exists so multiple
// coordroomd processes can share room traffic over core NATS pub/sub,
// with no JetStream and no durable queuing, matching spec.md's explicit
// Non-goal of durable cross-process delivery. Grounded on the teacher's
// internal/nats/server.go EmbeddedServer and internal/nats/client.go.
package natsbridge

import (
	"fmt"
	"sync"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	nc "github.com/nats-io/nats.go"
)

// EmbeddedConfig configures the in-process NATS server.
type EmbeddedConfig struct {
	Port int // cmd/coordroomd does not start the bridge when its configured port is 0
}

// Embedded wraps a nats-server instance running in this process.
type Embedded struct {
	mu      sync.RWMutex
	config  EmbeddedConfig
	server  *natsserver.Server
	running bool
}

func NewEmbedded(cfg EmbeddedConfig) *Embedded {
	return &Embedded{config: cfg}
}

func (e *Embedded) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("natsbridge: server already running")
	}
	opts := &natsserver.Options{
		Host:       "127.0.0.1",
		Port:       e.config.Port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return fmt.Errorf("natsbridge: create server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("natsbridge: server not ready for connections")
	}
	e.server = ns
	e.running = true
	return nil
}

func (e *Embedded) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.server == nil {
		return
	}
	e.server.Shutdown()
	e.server.WaitForShutdown()
	e.running = false
	e.server = nil
}

func (e *Embedded) URL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fmt.Sprintf("nats://127.0.0.1:%d", e.config.Port)
}

func (e *Embedded) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Client is a thin wrapper adapting the NATS connection to the subject
// layout this package uses; kept minimal and separate from Embedded so a
// bridge can point at an external NATS deployment instead.
type Client struct {
	conn *nc.Conn
}

func NewClient(url string) (*Client, error) {
	conn, err := nc.Connect(url,
		nc.ReconnectWait(2*time.Second),
		nc.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("natsbridge: connect: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

func (c *Client) Subscribe(subject string, handler func(data []byte)) (*nc.Subscription, error) {
	return c.conn.Subscribe(subject, func(msg *nc.Msg) {
		handler(msg.Data)
	})
}
