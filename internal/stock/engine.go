package stock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"fulfillment-core/internal/faults"
	"fulfillment-core/internal/postgres"
)

// Engine owns the stock ledger and the time-bounded holds against it.
// Writers for the same (product, variant) serialize on the ledger row via
// SELECT ... FOR UPDATE; different products never contend.
type Engine struct {
	DB  postgres.DB
	TTL time.Duration // reservation lifetime

	// Now is swappable in tests; nil means time.Now.
	Now func() time.Time
}

func NewEngine(db postgres.DB, ttl time.Duration) *Engine {
	return &Engine{DB: db, TTL: ttl}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// Reserve creates or refreshes the caller's active hold. A repeat call
// replaces the held quantity and pushes the expiry out, it never stacks.
// Fails with InsufficientStockError when the requested quantity exceeds
// on-hand minus everyone else's active, unexpired holds.
func (e *Engine) Reserve(ctx context.Context, productID, variantID, userID string, qty int) error {
	if qty < 1 {
		return &faults.ValidationError{Field: "qty", Reason: "must be at least 1"}
	}
	now := e.now()

	tx, err := e.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var onHand int
	err = tx.QueryRow(ctx,
		`SELECT on_hand FROM product_stock WHERE product_id=$1 AND variant_id=$2 FOR UPDATE`,
		productID, variantID).Scan(&onHand)
	if errors.Is(err, pgx.ErrNoRows) {
		return faults.ErrNotFound
	}
	if err != nil {
		return err
	}

	// Expiry is a query-time predicate: an expired hold the sweep has not
	// reached yet must not count against availability.
	var held int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(qty), 0) FROM reservations
		  WHERE product_id=$1 AND variant_id=$2 AND user_id<>$3 AND active AND expires_at > $4`,
		productID, variantID, userID, now).Scan(&held)
	if err != nil {
		return err
	}

	available := onHand - held
	if qty > available {
		return &faults.InsufficientStockError{
			ProductID: productID,
			VariantID: variantID,
			Requested: qty,
			Available: available,
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO reservations (id, product_id, variant_id, user_id, qty, reserved_at, expires_at, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		 ON CONFLICT (product_id, variant_id, user_id) WHERE active
		 DO UPDATE SET qty = EXCLUDED.qty, reserved_at = EXCLUDED.reserved_at, expires_at = EXCLUDED.expires_at`,
		uuid.NewString(), productID, variantID, userID, qty, now, now.Add(e.TTL))
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Release reduces or deactivates the caller's hold. Releasing without an
// active hold is a no-op, not an error.
func (e *Engine) Release(ctx context.Context, productID, variantID, userID string, qty int) error {
	if qty < 1 {
		return &faults.ValidationError{Field: "qty", Reason: "must be at least 1"}
	}
	_, err := e.DB.Exec(ctx,
		`UPDATE reservations
		    SET active = qty > $4,
		        qty    = CASE WHEN qty > $4 THEN qty - $4 ELSE qty END
		  WHERE product_id=$1 AND variant_id=$2 AND user_id=$3 AND active`,
		productID, variantID, userID, qty)
	return err
}

// AvailableStock is on-hand minus active, unexpired holds. Read-only.
func (e *Engine) AvailableStock(ctx context.Context, productID, variantID string) (int, error) {
	var available int
	err := e.DB.QueryRow(ctx,
		`SELECT s.on_hand - COALESCE((
		    SELECT SUM(r.qty) FROM reservations r
		     WHERE r.product_id = s.product_id AND r.variant_id = s.variant_id
		       AND r.active AND r.expires_at > $3), 0)
		   FROM product_stock s
		  WHERE s.product_id=$1 AND s.variant_id=$2`,
		productID, variantID, e.now()).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, faults.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return available, nil
}

// CheckBulk answers per-item availability with no side effects. All-or-nothing
// semantics are the caller's concern.
func (e *Engine) CheckBulk(ctx context.Context, items []Item) ([]Availability, error) {
	out := make([]Availability, 0, len(items))
	for _, it := range items {
		avail, err := e.AvailableStock(ctx, it.ProductID, it.VariantID)
		if errors.Is(err, faults.ErrNotFound) {
			out = append(out, Availability{ProductID: it.ProductID, VariantID: it.VariantID, Requested: it.Qty})
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Availability{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Requested: it.Qty,
			Available: avail,
			OK:        it.Qty <= avail,
		})
	}
	return out, nil
}

// ConsumeForOrder converts the user's holds into a ledger decrement at order
// confirmation: the hold is deactivated and on-hand drops in the caller's
// transaction, stamped with the consuming order. A hold that is gone or past
// its expiry fails the confirmation; decrementing anyway would take stock
// encumbered by other users' live holds.
func (e *Engine) ConsumeForOrder(ctx context.Context, q postgres.Queryer, orderID, userID string, items []Item) error {
	now := e.now()
	for _, it := range items {
		var onHand int
		err := q.QueryRow(ctx,
			`SELECT on_hand FROM product_stock WHERE product_id=$1 AND variant_id=$2 FOR UPDATE`,
			it.ProductID, it.VariantID).Scan(&onHand)
		if errors.Is(err, pgx.ErrNoRows) {
			return faults.ErrNotFound
		}
		if err != nil {
			return err
		}
		if onHand < it.Qty {
			// The hold already encumbered this stock; hitting this means the
			// ledger drifted. Refuse rather than go negative.
			return &faults.InsufficientStockError{
				ProductID: it.ProductID,
				VariantID: it.VariantID,
				Requested: it.Qty,
				Available: onHand,
			}
		}
		ct, err := q.Exec(ctx,
			`UPDATE reservations SET active = FALSE, consumed_order_id = $4
			  WHERE product_id=$1 AND variant_id=$2 AND user_id=$3 AND active AND expires_at > $5`,
			it.ProductID, it.VariantID, userID, orderID, now)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return &faults.ReservationExpiredError{ProductID: it.ProductID, VariantID: it.VariantID}
		}
		if _, err := q.Exec(ctx,
			`UPDATE product_stock SET on_hand = on_hand - $3 WHERE product_id=$1 AND variant_id=$2`,
			it.ProductID, it.VariantID, it.Qty); err != nil {
			return err
		}
	}
	return nil
}

// Restock returns consumed quantities to the ledger, on cancellation after
// confirmation or when returned goods arrive back at origin.
func (e *Engine) Restock(ctx context.Context, q postgres.Queryer, items []Item) error {
	for _, it := range items {
		if _, err := q.Exec(ctx,
			`UPDATE product_stock SET on_hand = on_hand + $3 WHERE product_id=$1 AND variant_id=$2`,
			it.ProductID, it.VariantID, it.Qty); err != nil {
			return err
		}
	}
	return nil
}

// SweepExpired deactivates holds past their expiry. Expiry never consumed
// stock, so on-hand is untouched. Returns the number of holds deactivated.
func (e *Engine) SweepExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	ct, err := e.DB.Exec(ctx,
		`UPDATE reservations SET active = FALSE
		  WHERE id IN (SELECT id FROM reservations WHERE active AND expires_at <= $1 LIMIT $2)`,
		now, limit)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

// Snapshot reads the catalog fields frozen onto order lines at checkout.
func (e *Engine) Snapshot(ctx context.Context, productID string) (ProductSnapshot, error) {
	var p ProductSnapshot
	err := e.DB.QueryRow(ctx,
		`SELECT id, sku, name, price_cents FROM products WHERE id=$1`, productID).
		Scan(&p.ProductID, &p.SKU, &p.Name, &p.PriceCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProductSnapshot{}, faults.ErrNotFound
	}
	if err != nil {
		return ProductSnapshot{}, err
	}
	return p, nil
}
