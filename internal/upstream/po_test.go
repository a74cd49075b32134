package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalIssuingIsNumericAndMonotonic(t *testing.T) {
	c := NewClient("", 0)

	first := c.IssuePO(context.Background(), OrderRequest{CustomerName: "Alice"})
	second := c.IssuePO(context.Background(), OrderRequest{CustomerName: "Bob"})

	assert.Equal(t, "local", first.Source)

	a, err := strconv.ParseInt(first.Number, 10, 64)
	require.NoError(t, err, "local PO numbers must be digit-only")
	b, err := strconv.ParseInt(second.Number, 10, 64)
	require.NoError(t, err)
	assert.Equal(t, a+1, b)
}

func TestUpstreamServicePreferred(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/purchase-orders", r.URL.Path)
		w.Write([]byte(`{"poNumber":"8888"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	po := c.IssuePO(context.Background(), OrderRequest{CustomerName: "Alice"})

	assert.Equal(t, "8888", po.Number)
	assert.Equal(t, "upstream", po.Source)
}

func TestUpstreamFailureFallsBackLocally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	po := c.IssuePO(context.Background(), OrderRequest{})

	assert.Equal(t, "local", po.Source)
	_, err := strconv.ParseInt(po.Number, 10, 64)
	assert.NoError(t, err)
}

func TestMissingPONumberFallsBackLocally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	po := c.IssuePO(context.Background(), OrderRequest{})

	assert.Equal(t, "local", po.Source)
}

func TestBreakerStopsHammeringDownstreamService(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	for i := 0; i < 5; i++ {
		po := c.IssuePO(context.Background(), OrderRequest{})
		assert.Equal(t, "local", po.Source)
	}

	// Breaker trips after three consecutive failures; later calls are
	// answered locally without touching the wire.
	assert.EqualValues(t, 3, hits.Load())
	assert.Equal(t, "OPEN", c.BreakerState().State)
}
