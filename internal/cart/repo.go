// Package cart persists shopping-cart lines only as far as the stale-cart
// sweep needs them: a line records who holds what, and when it was last
// touched. Cart presentation lives elsewhere.
package cart

import (
	"context"
	"time"

	"fulfillment-core/internal/postgres"
)

type Line struct {
	UserID    string
	ProductID string
	VariantID string
	Qty       int
}

type Repo struct {
	DB postgres.DB
}

// Touch upserts a cart line and refreshes its activity timestamp. Called
// alongside Reserve on add-to-cart.
func (r *Repo) Touch(ctx context.Context, l Line, now time.Time) error {
	_, err := r.DB.Exec(ctx,
		`INSERT INTO carts (user_id, product_id, variant_id, qty, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, product_id, variant_id)
		 DO UPDATE SET qty = EXCLUDED.qty, updated_at = EXCLUDED.updated_at`,
		l.UserID, l.ProductID, l.VariantID, l.Qty, now)
	return err
}

// Remove drops a line, typically after checkout consumed it.
func (r *Repo) Remove(ctx context.Context, userID, productID, variantID string) error {
	_, err := r.DB.Exec(ctx,
		`DELETE FROM carts WHERE user_id=$1 AND product_id=$2 AND variant_id=$3`,
		userID, productID, variantID)
	return err
}

// SweepStale deletes lines idle since before cutoff and returns them so the
// caller can release the matching reservations.
func (r *Repo) SweepStale(ctx context.Context, cutoff time.Time, limit int) ([]Line, error) {
	rows, err := r.DB.Query(ctx,
		`DELETE FROM carts
		  WHERE ctid IN (SELECT ctid FROM carts WHERE updated_at <= $1 LIMIT $2)
		  RETURNING user_id, product_id, variant_id, qty`,
		cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.UserID, &l.ProductID, &l.VariantID, &l.Qty); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
