// Package gameclient is the WebSocket client that sibling services embed to
// reach the game-control endpoint: register an identity, announce expected
// invoices, and observe server frames.
//
// The connection self-heals: exponential back-off on redial, outbound
// frames queued while disconnected and flushed on connect, heartbeat pings
// with a two-missed-pongs cutoff.
//
// Quick start:
//
//	client := gameclient.New(gameclient.Config{
//	    ServerURL: "ws://localhost:8081/game-control",
//	    ClientID:  "order-service",
//	})
//	client.Start()
//	defer client.Close()
//
//	client.RegisterExpectedInvoice("1030", "alice", gameclient.OrderInfo{
//	    OrderID: "ord-1", Summary: map[string]interface{}{"total": 50},
//	})
package gameclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Common errors
var (
	ErrClosed    = errors.New("game client closed")
	ErrQueueFull = errors.New("outbound queue full")
)

// Config holds the client settings.
type Config struct {
	// ServerURL is the full WebSocket URL, e.g. ws://host:8081/game-control
	ServerURL string

	// ClientID is the identity this service registers under on connect
	ClientID string

	// Heartbeat is the ping interval (default 15s). Two unanswered pings
	// force a reconnect.
	Heartbeat time.Duration

	// BackoffInitial / BackoffMax bound the redial delay
	// (defaults 500ms and 30s).
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// QueueSize is the outbound buffer drained on connect (default 256).
	QueueSize int
}

// Event is one frame received from the server.
type Event struct {
	Type string
	Raw  json.RawMessage
}

// OrderInfo rides along with an expected-invoice announcement.
type OrderInfo struct {
	CustomerName  string      `json:"customerName,omitempty"`
	CustomerEmail string      `json:"customerEmail,omitempty"`
	OrderID       string      `json:"orderId,omitempty"`
	Summary       interface{} `json:"summary,omitempty"`
}

// Client maintains one logical connection to the game-control endpoint.
type Client struct {
	cfg    Config
	logger *log.Logger

	outbound chan []byte
	events   chan Event
	done     chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a client. No I/O happens until Start.
func New(cfg Config) *Client {
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	if cfg.BackoffInitial == 0 {
		cfg.BackoffInitial = 500 * time.Millisecond
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 256
	}

	return &Client{
		cfg:      cfg,
		logger:   log.New(log.Writer(), "[GameClient] ", log.LstdFlags),
		outbound: make(chan []byte, cfg.QueueSize),
		events:   make(chan Event, cfg.QueueSize),
		done:     make(chan struct{}),
	}
}

// Start launches the connection loop.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.run()
}

// Events exposes server frames. The channel closes after Close returns.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connected reports whether a live connection currently exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send queues an arbitrary frame. Frames queued while disconnected are
// flushed on the next connect, in order.
func (c *Client) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	select {
	case <-c.done:
		return ErrClosed
	case c.outbound <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// RegisterExpectedInvoice announces that an invoice artifact for pn should
// be watched for and routed to pid when it lands.
func (c *Client) RegisterExpectedInvoice(pn, pid string, order OrderInfo) error {
	return c.Send(map[string]interface{}{
		"type":          "register_expected_invoice",
		"userId":        c.cfg.ClientID,
		"playerId":      pid,
		"invoiceNumber": pn,
		"orderData":     order,
	})
}

// Close tears the connection down and closes the events channel.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
		c.wg.Wait()
		close(c.events)
	})
	return nil
}

// ============================================================================
// CONNECTION LOOP
// ============================================================================

func (c *Client) run() {
	defer c.wg.Done()

	backoff := c.cfg.BackoffInitial
	for {
		select {
		case <-c.done:
			return
		default:
		}

		dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
		conn, _, err := dialer.Dial(c.cfg.ServerURL, nil)
		if err != nil {
			c.logger.Printf("⚠️  Dial %s failed: %v (retry in %s)", c.cfg.ServerURL, err, backoff)
			select {
			case <-time.After(backoff):
			case <-c.done:
				return
			}
			backoff *= 2
			if backoff > c.cfg.BackoffMax {
				backoff = c.cfg.BackoffMax
			}
			continue
		}

		backoff = c.cfg.BackoffInitial
		c.logger.Printf("✅ Connected to %s", c.cfg.ServerURL)
		c.session(conn)

		select {
		case <-c.done:
			return
		default:
			c.logger.Println("Connection lost, reconnecting")
		}
	}
}

// session drives one live connection until it fails or the client closes.
func (c *Client) session(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	// Identity first: nothing else is honoured before registration.
	hello, _ := json.Marshal(map[string]string{"type": "register", "userId": c.cfg.ClientID})
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		c.logger.Printf("⚠️  Handshake write failed: %v", err)
		return
	}

	var missedPongs atomic.Int32
	conn.SetPongHandler(func(string) error {
		missedPongs.Store(0)
		return nil
	})

	failed := make(chan struct{})
	var failOnce sync.Once
	fail := func() { failOnce.Do(func() { close(failed) }) }

	// Reader: server frames become events; any read error ends the session.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer fail()

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var env struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(payload, &env); err != nil {
				continue
			}

			select {
			case c.events <- Event{Type: env.Type, Raw: payload}:
			default:
				c.logger.Printf("⚠️  Event buffer full, dropping %s", env.Type)
			}
		}
	}()

	// Writer: queued frames and heartbeat pings share one goroutine so the
	// socket only ever has a single writer.
	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.outbound:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Printf("⚠️  Write failed: %v", err)
				fail()
				return
			}

		case <-ticker.C:
			if missedPongs.Add(1) > 2 {
				c.logger.Println("⚠️  Heartbeat lost, forcing reconnect")
				fail()
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				fail()
				return
			}

		case <-failed:
			return

		case <-c.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}
