// Package courier tracks courier liveness. Heartbeats land in Redis with a
// TTL; this repo mirrors the last-seen state into Postgres so the presence
// sweep can flip couriers offline once their heartbeat key expires.
package courier

import (
	"context"
	"time"

	"fulfillment-core/internal/postgres"
)

type Repo struct {
	DB postgres.DB
}

// Heartbeat records activity and flips the courier online.
func (r *Repo) Heartbeat(ctx context.Context, courierID string, now time.Time) error {
	_, err := r.DB.Exec(ctx,
		`INSERT INTO couriers (id, is_online, last_seen_at)
		 VALUES ($1, TRUE, $2)
		 ON CONFLICT (id) DO UPDATE SET is_online = TRUE, last_seen_at = EXCLUDED.last_seen_at`,
		courierID, now)
	return err
}

// Online lists couriers currently marked online.
func (r *Repo) Online(ctx context.Context) ([]string, error) {
	rows, err := r.DB.Query(ctx, `SELECT id FROM couriers WHERE is_online`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repo) MarkOffline(ctx context.Context, courierID string) error {
	_, err := r.DB.Exec(ctx, `UPDATE couriers SET is_online = FALSE WHERE id=$1`, courierID)
	return err
}
