package leaderboard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// The wire-level behavior needs a live Redis; what must hold everywhere is
// that a missing board degrades instead of panicking.

func TestNilBoardDegrades(t *testing.T) {
	var b *Board
	ctx := context.Background()

	assert.ErrorIs(t, b.Record(ctx, "alice", 10), ErrUnavailable)

	_, err := b.Top(ctx, 5)
	assert.ErrorIs(t, err, ErrUnavailable)

	score, err := b.Score(ctx, "alice")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Zero(t, score)

	assert.ErrorIs(t, b.Reset(ctx), ErrUnavailable)
	assert.NoError(t, b.Close())
}

func TestConnectFailsFast(t *testing.T) {
	// Nothing listens here; Connect must report instead of hanging
	_, err := Connect("127.0.0.1:1", "", 0, "leaderboard:scores")
	assert.Error(t, err)
}
