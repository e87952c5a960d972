package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Marker implements at-most-once-per-TTL semantics via SET NX. Used by the
// reminder job so an order is pinged at most once per day.
type Marker struct {
	Client *redis.Client
	TTL    time.Duration
}

// MarkOnce reports whether this caller won the marker for key.
func (m *Marker) MarkOnce(ctx context.Context, key string) (bool, error) {
	return m.Client.SetNX(ctx, key, "1", m.TTL).Result()
}

// PresenceStore tracks courier liveness through heartbeat keys with a TTL.
// A missing key means the courier has not phoned home within the window.
type PresenceStore struct {
	Client *redis.Client
	TTL    time.Duration
}

func (p *PresenceStore) Beat(ctx context.Context, courierID string) error {
	return p.Client.Set(ctx, PresenceKey(courierID), "1", p.TTL).Err()
}

func (p *PresenceStore) Alive(ctx context.Context, courierID string) (bool, error) {
	return Exists(ctx, p.Client, PresenceKey(courierID))
}
