// Package sinks wraps the two external HTTP collaborators the core talks
// to: the order-processing sink and the game-over sink. Bodies pass through
// unchanged; each sink sits behind its own circuit breaker.
package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/orderrush/backend/internal/circuitbreaker"
)

// Config holds the sink endpoints and the shared request timeout.
type Config struct {
	GameOverURL     string
	ProcessOrderURL string
	Timeout         time.Duration
}

// Client posts JSON payloads to the external sinks.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breakers   *circuitbreaker.Manager
	logger     *log.Logger
}

// NewClient creates a sink client. A zero timeout falls back to 5s.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breakers:   circuitbreaker.NewManager(circuitbreaker.DefaultConfig("")),
		logger:     log.New(log.Writer(), "[Sinks] ", log.LstdFlags),
	}
}

// ProcessOrder forwards an order payload to the order sink and returns the
// sink's JSON response for relaying back to the client.
func (c *Client) ProcessOrder(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if c.cfg.ProcessOrderURL == "" {
		return nil, fmt.Errorf("process-order sink not configured")
	}
	return c.post(ctx, "process-order", c.cfg.ProcessOrderURL, payload)
}

// GameOver forwards a game-over payload. The response body is discarded;
// only the status matters.
func (c *Client) GameOver(ctx context.Context, payload json.RawMessage) error {
	if c.cfg.GameOverURL == "" {
		return fmt.Errorf("game-over sink not configured")
	}
	_, err := c.post(ctx, "game-over", c.cfg.GameOverURL, payload)
	return err
}

// BreakerStats exposes per-sink breaker state for the ops surface.
func (c *Client) BreakerStats() map[string]circuitbreaker.BreakerStats {
	return c.breakers.Stats()
}

func (c *Client) post(ctx context.Context, name, url string, payload json.RawMessage) (json.RawMessage, error) {
	cb := c.breakers.Get(name)

	result, err := cb.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build %s request: %w", name, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s sink: %w", name, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("%s sink response: %w", name, err)
		}

		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("%s sink returned %d", name, resp.StatusCode)
		}
		return json.RawMessage(body), nil
	})
	if err != nil {
		return nil, err
	}
	return result.(json.RawMessage), nil
}
