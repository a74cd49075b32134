package session

import (
	"log/slog"
	"net/http"
	"time"

	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/orderrush/backend/internal/invoicestore"
	"github.com/orderrush/backend/internal/metrics"
	"github.com/orderrush/backend/internal/registry"
	"github.com/orderrush/backend/internal/sinks"
)

// StatusWaiting is the game status before any start command arrives; the
// admin "new" command resets to it.
const StatusWaiting = "waiting"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Auth and origin policy live at the ingress layer
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Router owns the session maps and the game status. One mutex guards the
// forward map, reverse map, status, and summary cache as a unit so they can
// never diverge.
type Router struct {
	mu        sync.Mutex
	sessions  map[string]*Conn // PID → live session
	players   map[*Conn]string // session → PID (only REGISTERED conns appear)
	status    GameStatus
	summaries map[string]json.RawMessage // PN → order summary, kept past consume

	store      *invoicestore.Store
	registry   *registry.Registry
	sinks      *sinks.Client
	dispatcher *sinks.Dispatcher
	metrics    *metrics.Metrics
}

// Deps carries the collaborators the router needs; everything is injected
// at process init.
type Deps struct {
	Store      *invoicestore.Store
	Registry   *registry.Registry
	Sinks      *sinks.Client
	Dispatcher *sinks.Dispatcher
	Metrics    *metrics.Metrics
}

// NewRouter creates a router with no sessions and game status "waiting".
func NewRouter(deps Deps) *Router {
	return &Router{
		sessions:  make(map[string]*Conn),
		players:   make(map[*Conn]string),
		summaries: make(map[string]json.RawMessage),
		status: GameStatus{
			Status:      StatusWaiting,
			LastUpdated: time.Now().UTC(),
			UpdatedBy:   "system",
		},
		store:      deps.Store,
		registry:   deps.Registry,
		sinks:      deps.Sinks,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
	}
}

// HandleWebSocket upgrades the connection and starts the session pumps.
// The welcome frame and current game status are queued before the read
// pump starts, so they always precede any response to inbound traffic.
func (r *Router) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	c := &Conn{
		router: r,
		ws:     ws,
		id:     "conn-" + uuid.NewString()[:8],
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}

	slog.Info("Session connected", "conn", c.id, "remote", req.RemoteAddr)

	go c.writePump()

	c.enqueue(welcomeFrame{
		Type:    "welcome",
		Message: "Connected to game control",
		AvailableCommands: []string{
			TypeRegister, TypeRegisterExpectedInvoice, TypeRequestInvoice,
			TypeGameEvent, TypeOrder, TypeSendTo,
		},
	})
	c.enqueue(r.statusFrame())

	go c.readPump()
}

// Deliver is the polling engine's callback: tell the owning player their
// invoice is ready. Returns false when no live session exists — there is no
// retry, the player pulls the record later via request_invoice.
func (r *Router) Deliver(rec *invoicestore.Record, exp *registry.Expected) bool {
	pid := rec.PlayerID
	if pid == "" && exp != nil {
		pid = exp.PlayerID
	}

	if exp != nil && len(exp.Summary) > 0 {
		r.rememberSummary(rec.InvoiceNumber, exp.Summary)
	}

	if pid == "" {
		slog.Warn("Invoice ready but no player bound", "invoice", rec.InvoiceNumber)
		r.metrics.RecordDelivery(false)
		return false
	}

	r.mu.Lock()
	c := r.sessions[pid]
	r.mu.Unlock()

	if c == nil {
		slog.Info("Invoice ready but player offline", "invoice", rec.InvoiceNumber, "player", pid)
		r.metrics.RecordDelivery(false)
		return false
	}

	ok := c.enqueue(invoiceReadyFrame{
		Type:          "invoice_ready",
		InvoiceNumber: rec.InvoiceNumber,
		Filename:      rec.Filename,
		FileSize:      rec.FileSize,
		ProcessedAt:   rec.ProcessedAt,
		Message:       "Your invoice " + rec.InvoiceNumber + " is ready",
	})
	r.metrics.RecordDelivery(ok)
	if ok {
		slog.Info("📨 invoice_ready delivered", "invoice", rec.InvoiceNumber, "player", pid)
	}
	return ok
}

// Broadcast fans a frame out to every open session. Individual failures are
// ignored; dead sessions clean themselves up on close.
func (r *Router) Broadcast(v interface{}) {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.players))
	for c := range r.players {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.enqueue(v)
	}
}

// SessionCount returns the number of REGISTERED sessions.
func (r *Router) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Status returns the current game status.
func (r *Router) Status() GameStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// ============================================================================
// SESSION MAP MAINTENANCE
// ============================================================================

// register binds pid to c. A prior session under the same pid loses its
// reverse mapping only — it is not force-closed, it just stops being
// addressable and dies on its own.
func (r *Router) register(pid string, c *Conn) {
	r.mu.Lock()

	if old := r.sessions[pid]; old != nil && old != c {
		delete(r.players, old)
		slog.Info("Session replaced", "player", pid, "old", old.id, "new", c.id)
	}
	// The same socket re-registering under a new PID frees its old slot
	if prev, ok := r.players[c]; ok && prev != pid {
		if r.sessions[prev] == c {
			delete(r.sessions, prev)
		}
	}

	r.sessions[pid] = c
	r.players[c] = pid
	n := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SetActiveSessions(n)
	slog.Info("✅ Player registered", "player", pid, "conn", c.id, "sessions", n)
}

// unregister drops c from both maps. If the forward slot was already taken
// over by a newer session, it is left alone.
func (r *Router) unregister(c *Conn) {
	r.mu.Lock()
	pid, ok := r.players[c]
	if ok {
		delete(r.players, c)
		if r.sessions[pid] == c {
			delete(r.sessions, pid)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if ok {
		r.metrics.SetActiveSessions(n)
	}
}

// pidOf returns the PID bound to c, or "" while the session is still
// CONNECTED (pre-registration).
func (r *Router) pidOf(c *Conn) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.players[c]
}

// lookup returns the live session for pid, or nil.
func (r *Router) lookup(pid string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[pid]
}

// ============================================================================
// GAME STATUS
// ============================================================================

// setStatus updates the game status under the session lock and returns the
// broadcast frame.
func (r *Router) setStatus(state, by string) gameStatusFrame {
	r.mu.Lock()
	r.status = GameStatus{
		Status:      state,
		LastUpdated: time.Now().UTC(),
		UpdatedBy:   by,
	}
	frame := gameStatusFrame{
		Type:        "game_status",
		Status:      r.status.Status,
		LastUpdated: r.status.LastUpdated,
		UpdatedBy:   r.status.UpdatedBy,
	}
	r.mu.Unlock()
	return frame
}

func (r *Router) statusFrame() gameStatusFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return gameStatusFrame{
		Type:        "game_status",
		Status:      r.status.Status,
		LastUpdated: r.status.LastUpdated,
		UpdatedBy:   r.status.UpdatedBy,
	}
}

// ============================================================================
// SUMMARY CACHE
// ============================================================================

// rememberSummary keeps the order summary addressable by PN after the
// registry entry has been consumed, so request_invoice can still attach it.
func (r *Router) rememberSummary(pn string, summary json.RawMessage) {
	r.mu.Lock()
	r.summaries[pn] = summary
	r.mu.Unlock()
}

// summaryFor resolves a summary for pn: the live registry first, then the
// per-player fallback, then the delivered-summary cache.
func (r *Router) summaryFor(pn, pid string) json.RawMessage {
	if exp := r.registry.Lookup(pn); exp != nil && len(exp.Summary) > 0 {
		return exp.Summary
	}
	if pid != "" {
		if exp := r.registry.FindByPlayer(pid); exp != nil && exp.InvoiceNumber == pn && len(exp.Summary) > 0 {
			return exp.Summary
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaries[pn]
}
