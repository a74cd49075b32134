package registry

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	r.Register(&Expected{
		InvoiceNumber: "1030",
		PlayerID:      "alice",
		CustomerName:  "Alice Smith",
		Summary:       json.RawMessage(`{"total":50}`),
	})

	exp := r.Lookup("1030")
	require.NotNil(t, exp)
	assert.Equal(t, "alice", exp.PlayerID)
	assert.False(t, exp.RegisteredAt.IsZero())
	assert.JSONEq(t, `{"total":50}`, string(exp.Summary))

	assert.Nil(t, r.Lookup("9999"))
	assert.Equal(t, 1, r.Len())
}

func TestReRegisterLastWriteWins(t *testing.T) {
	r := New()
	r.Register(&Expected{InvoiceNumber: "1030", PlayerID: "alice"})
	r.Register(&Expected{InvoiceNumber: "1030", PlayerID: "bob"})

	require.Equal(t, 1, r.Len())
	exp := r.Lookup("1030")
	require.NotNil(t, exp)
	assert.Equal(t, "bob", exp.PlayerID)
}

func TestConsume(t *testing.T) {
	r := New()
	r.Register(&Expected{InvoiceNumber: "2001", PlayerID: "carol"})

	exp := r.Consume("2001")
	require.NotNil(t, exp)
	assert.Equal(t, "carol", exp.PlayerID)

	// Gone after consume; second consume is nil
	assert.Nil(t, r.Lookup("2001"))
	assert.Nil(t, r.Consume("2001"))
	assert.Equal(t, 0, r.Len())
}

func TestFindByPlayer(t *testing.T) {
	r := New()
	r.Register(&Expected{InvoiceNumber: "1", PlayerID: "alice"})
	r.Register(&Expected{InvoiceNumber: "2", PlayerID: "bob"})

	exp := r.FindByPlayer("bob")
	require.NotNil(t, exp)
	assert.Equal(t, "2", exp.InvoiceNumber)

	assert.Nil(t, r.FindByPlayer("mallory"))
}

func TestSnapshotIsACopy(t *testing.T) {
	r := New()
	r.Register(&Expected{InvoiceNumber: "1", PlayerID: "alice"})

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	snap[0].PlayerID = "mutated"

	assert.Equal(t, "alice", r.Lookup("1").PlayerID)
}

func TestConcurrentRegisterConsume(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		pn := string(rune('A' + i%26))
		go func(pn string) {
			defer wg.Done()
			r.Register(&Expected{InvoiceNumber: pn, PlayerID: "p-" + pn})
		}(pn)
		go func(pn string) {
			defer wg.Done()
			r.Consume(pn)
		}(pn)
	}
	wg.Wait()

	// Whatever remains must still be internally consistent
	for _, exp := range r.Snapshot() {
		assert.Equal(t, "p-"+exp.InvoiceNumber, exp.PlayerID)
	}
}
