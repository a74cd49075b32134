// Package leaderboard keeps cumulative player scores in a Redis sorted set.
//
// The board is optional infrastructure: when Redis is unreachable at boot
// the rest of the system runs without it, and every method on a nil board
// degrades to ErrUnavailable instead of panicking.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned when no Redis connection is configured.
var ErrUnavailable = errors.New("leaderboard unavailable")

// Entry is one row of the board.
type Entry struct {
	Player string  `json:"player"`
	Score  float64 `json:"score"`
	Rank   int     `json:"rank"`
}

// Board wraps the sorted set holding the scores.
type Board struct {
	rdb *redis.Client
	key string
}

// Connect dials Redis and verifies connectivity with a ping. Callers treat
// an error as "run without a leaderboard", not as fatal.
func Connect(addr, password string, db int, key string) (*Board, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Leaderboard connected", "addr", addr, "key", key)
	return &Board{rdb: rdb, key: key}, nil
}

// Close shuts down the underlying client.
func (b *Board) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

// Record adds points to a player's cumulative score.
func (b *Board) Record(ctx context.Context, player string, points float64) error {
	if b == nil || b.rdb == nil {
		return ErrUnavailable
	}
	if err := b.rdb.ZIncrBy(ctx, b.key, points, player).Err(); err != nil {
		return fmt.Errorf("record score for %s: %w", player, err)
	}
	return nil
}

// Top returns the highest-scoring players, best first.
func (b *Board) Top(ctx context.Context, n int) ([]Entry, error) {
	if b == nil || b.rdb == nil {
		return nil, ErrUnavailable
	}
	if n <= 0 {
		n = 10
	}

	rows, err := b.rdb.ZRevRangeWithScores(ctx, b.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read leaderboard: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for i, row := range rows {
		player, _ := row.Member.(string)
		entries = append(entries, Entry{Player: player, Score: row.Score, Rank: i + 1})
	}
	return entries, nil
}

// Score returns a player's cumulative score; players never seen score 0.
func (b *Board) Score(ctx context.Context, player string) (float64, error) {
	if b == nil || b.rdb == nil {
		return 0, ErrUnavailable
	}

	score, err := b.rdb.ZScore(ctx, b.key, player).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read score for %s: %w", player, err)
	}
	return score, nil
}

// Reset clears the board.
func (b *Board) Reset(ctx context.Context) error {
	if b == nil || b.rdb == nil {
		return ErrUnavailable
	}
	return b.rdb.Del(ctx, b.key).Err()
}
