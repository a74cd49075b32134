// Package registry holds the expected-invoice table: the PO numbers the
// order flow has announced and the polling engine drains. A single mutex
// guards the map; critical sections never do I/O.
package registry

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Expected links a PO number to the player waiting for its invoice.
// The summary is opaque: carried end-to-end, never interpreted.
type Expected struct {
	InvoiceNumber string          `json:"invoiceNumber"`
	PlayerID      string          `json:"playerId"`
	CustomerName  string          `json:"customerName,omitempty"`
	CustomerEmail string          `json:"customerEmail,omitempty"`
	OrderID       string          `json:"orderId,omitempty"`
	Summary       json.RawMessage `json:"summary,omitempty"`
	RegisteredAt  time.Time       `json:"registeredAt"`
}

// Registry is the mutex-guarded expected-invoice map. The message handler
// is the single writer; the polling engine is the single deleter.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Expected
	logger  *log.Logger
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*Expected),
		logger:  log.New(log.Writer(), "[Registry] ", log.LstdFlags),
	}
}

// Register upserts the entry for exp.InvoiceNumber. Last write wins; a
// re-registration replaces the prior entry wholesale.
func (r *Registry) Register(exp *Expected) {
	if exp.RegisteredAt.IsZero() {
		exp.RegisteredAt = time.Now().UTC()
	}

	r.mu.Lock()
	_, replaced := r.entries[exp.InvoiceNumber]
	r.entries[exp.InvoiceNumber] = exp
	size := len(r.entries)
	r.mu.Unlock()

	if replaced {
		r.logger.Printf("Re-registered expected invoice %s for player %s (%d pending)",
			exp.InvoiceNumber, exp.PlayerID, size)
	} else {
		r.logger.Printf("Registered expected invoice %s for player %s (%d pending)",
			exp.InvoiceNumber, exp.PlayerID, size)
	}
}

// Lookup returns the entry for pn, or nil.
func (r *Registry) Lookup(pn string) *Expected {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[pn]
}

// Consume atomically removes and returns the entry for pn, or nil if absent.
func (r *Registry) Consume(pn string) *Expected {
	r.mu.Lock()
	defer r.mu.Unlock()

	exp, ok := r.entries[pn]
	if !ok {
		return nil
	}
	delete(r.entries, pn)
	return exp
}

// FindByPlayer scans for any entry registered under pid. Best-effort
// fallback for records that pre-exist without player context.
func (r *Registry) FindByPlayer(pid string) *Expected {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, exp := range r.entries {
		if exp.PlayerID == pid {
			return exp
		}
	}
	return nil
}

// Len returns the number of pending entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns a copy of all pending entries, for the ops surface.
func (r *Registry) Snapshot() []*Expected {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Expected, 0, len(r.entries))
	for _, exp := range r.entries {
		copied := *exp
		out = append(out, &copied)
	}
	return out
}
