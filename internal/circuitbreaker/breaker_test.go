package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRemote = errors.New("remote down")

func failingCall() (interface{}, error) { return nil, errRemote }
func okCall() (interface{}, error)      { return "ok", nil }

func testConfig(name string) *Config {
	return &Config{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 3 },
	}
}

func TestStaysClosedBelowThreshold(t *testing.T) {
	cb := New(testConfig("sink"))

	_, err := cb.Execute(failingCall)
	assert.ErrorIs(t, err, errRemote)
	_, err = cb.Execute(failingCall)
	assert.ErrorIs(t, err, errRemote)

	assert.Equal(t, StateClosed, cb.State())
}

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	cb := New(testConfig("sink"))

	for i := 0; i < 3; i++ {
		cb.Execute(failingCall)
	}
	assert.Equal(t, StateOpen, cb.State())

	// While open, calls are rejected without executing
	_, err := cb.Execute(okCall)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestSuccessResetsConsecutiveCount(t *testing.T) {
	cb := New(testConfig("sink"))

	cb.Execute(failingCall)
	cb.Execute(failingCall)
	cb.Execute(okCall)
	cb.Execute(failingCall)
	cb.Execute(failingCall)

	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenRecovery(t *testing.T) {
	cb := New(testConfig("sink"))

	for i := 0; i < 3; i++ {
		cb.Execute(failingCall)
	}
	require.Equal(t, StateOpen, cb.State())

	// After the open timeout the breaker probes again
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	_, err := cb.Execute(okCall)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New(testConfig("sink"))

	for i := 0; i < 3; i++ {
		cb.Execute(failingCall)
	}
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	cb.Execute(failingCall)
	assert.Equal(t, StateOpen, cb.State())
}

func TestManagerReusesBreakers(t *testing.T) {
	m := NewManager(testConfig(""))

	a := m.Get("game-over")
	b := m.Get("game-over")
	c := m.Get("process-order")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)

	stats := m.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "CLOSED", stats["game-over"].State)
}
