// Package upstream issues purchase-order numbers for incoming orders. When
// the PO service is configured it is asked first; on any failure a local
// numeric sequence takes over so order intake never blocks on a collaborator.
//
// PO numbers are digit-only by contract: the polling engine later recovers
// them from artifact filenames, and the filename patterns only capture
// digit runs.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/orderrush/backend/internal/circuitbreaker"
)

// OrderItem is one line of an order.
type OrderItem struct {
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

// OrderRequest is what the PO service receives.
type OrderRequest struct {
	CustomerName  string      `json:"customerName"`
	CustomerEmail string      `json:"customerEmail"`
	Items         []OrderItem `json:"items"`
}

// PurchaseOrder is the issued number plus where it came from.
type PurchaseOrder struct {
	Number string `json:"poNumber"`
	Source string `json:"source"` // "upstream" or "local"
}

// Client asks the PO service for numbers, falling back to a local sequence.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	seq        atomic.Int64
	logger     *log.Logger
}

// NewClient creates a PO client. An empty baseURL means local-only issuing.
// The local sequence is seeded from the clock so numbers stay distinct
// across restarts.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuitbreaker.New(circuitbreaker.DefaultConfig("po-service")),
		logger:     log.New(log.Writer(), "[Upstream] ", log.LstdFlags),
	}
	c.seq.Store(time.Now().Unix())
	return c
}

// IssuePO returns a PO number for the order. It never fails: any upstream
// trouble (unconfigured, circuit open, transport, bad response) falls back
// to the local sequence.
func (c *Client) IssuePO(ctx context.Context, order OrderRequest) PurchaseOrder {
	if c.baseURL == "" {
		return c.local()
	}

	result, err := c.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		return c.request(ctx, order)
	})
	if err != nil {
		c.logger.Printf("⚠️  PO service unavailable, issuing locally: %v", err)
		return c.local()
	}
	return result.(PurchaseOrder)
}

func (c *Client) request(ctx context.Context, order OrderRequest) (PurchaseOrder, error) {
	body, err := json.Marshal(order)
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/purchase-orders", bytes.NewReader(body))
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("build PO request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("PO service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("PO service response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return PurchaseOrder{}, fmt.Errorf("PO service returned %d", resp.StatusCode)
	}

	var parsed struct {
		PONumber string `json:"poNumber"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.PONumber == "" {
		return PurchaseOrder{}, fmt.Errorf("PO service returned no poNumber")
	}

	return PurchaseOrder{Number: parsed.PONumber, Source: "upstream"}, nil
}

func (c *Client) local() PurchaseOrder {
	n := c.seq.Add(1)
	return PurchaseOrder{Number: strconv.FormatInt(n, 10), Source: "local"}
}

// BreakerState exposes the PO-service breaker for the ops surface.
func (c *Client) BreakerState() circuitbreaker.BreakerStats {
	return circuitbreaker.BreakerStats{
		Name:   c.breaker.Name(),
		State:  c.breaker.State().String(),
		Counts: c.breaker.Counts(),
	}
}
