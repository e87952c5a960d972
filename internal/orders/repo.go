package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"fulfillment-core/internal/faults"
	"fulfillment-core/internal/postgres"
)

type Repo struct {
	DB postgres.DB
}

// Create inserts the order, its snapshotted items, and the opening history
// entry in one transaction.
func (r *Repo) Create(ctx context.Context, o *Order) error {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, user_id, shipping_address, payment_method, is_paid, status,
		                     retry_delivery_count, total_cents, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, $7, 1, $8, $8)`,
		o.ID, o.UserID, o.ShippingAddress, o.PaymentMethod, o.IsPaid, o.Status, o.TotalCents, o.CreatedAt)
	if err != nil {
		return err
	}

	for _, it := range o.Items {
		if _, err := tx.Exec(ctx,
			`INSERT INTO order_items (order_id, product_id, variant_id, name, qty, unit_price_cents)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, it.ProductID, it.VariantID, it.Name, it.Qty, it.UnitPriceCents); err != nil {
			return err
		}
	}

	for _, h := range o.History {
		if _, err := tx.Exec(ctx,
			`INSERT INTO order_status_history (order_id, status, note, created_at)
			 VALUES ($1, $2, $3, $4)`,
			o.ID, h.Status, h.Note, h.At); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Get loads an order with its items and full history.
func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx,
		`SELECT id, user_id, shipping_address, payment_method, is_paid, paid_at, status,
		        COALESCE(courier_id, ''), retry_delivery_count, auto_confirm_at, total_cents,
		        version, created_at, updated_at
		   FROM orders WHERE id=$1`, id).
		Scan(&o.ID, &o.UserID, &o.ShippingAddress, &o.PaymentMethod, &o.IsPaid, &o.PaidAt,
			&o.Status, &o.CourierID, &o.RetryDeliveryCount, &o.AutoConfirmAt, &o.TotalCents,
			&o.Version, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, faults.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.DB.Query(ctx,
		`SELECT product_id, variant_id, name, qty, unit_price_cents
		   FROM order_items WHERE order_id=$1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.VariantID, &it.Name, &it.Qty, &it.UnitPriceCents); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hrows, err := r.DB.Query(ctx,
		`SELECT status, note, created_at FROM order_status_history
		  WHERE order_id=$1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer hrows.Close()
	for hrows.Next() {
		var h HistoryEntry
		if err := hrows.Scan(&h.Status, &h.Note, &h.At); err != nil {
			return nil, err
		}
		o.History = append(o.History, h)
	}
	return &o, hrows.Err()
}

// ApplyTransition persists a status change guarded by the optimistic version
// check, appends the history row, and runs fx inside the same transaction
// (reservation consumption, restock). o must already carry the target status
// and recalculated fields; its Version is the version the caller read.
func (r *Repo) ApplyTransition(ctx context.Context, o *Order, note string, fx func(pgx.Tx) error) error {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx,
		`UPDATE orders
		    SET status=$2, auto_confirm_at=$3, retry_delivery_count=$4,
		        is_paid=$5, paid_at=$6, version=version+1, updated_at=$7
		  WHERE id=$1 AND version=$8`,
		o.ID, o.Status, o.AutoConfirmAt, o.RetryDeliveryCount, o.IsPaid, o.PaidAt, o.UpdatedAt, o.Version)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return faults.ErrConflict
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO order_status_history (order_id, status, note, created_at)
		 VALUES ($1, $2, $3, $4)`,
		o.ID, o.Status, note, o.UpdatedAt); err != nil {
		return err
	}

	if fx != nil {
		if err := fx(tx); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	o.Version++
	return nil
}

// SetCourier stamps the assigned courier without a status change; the
// delivery tracking record carries the assignment history.
func (r *Repo) SetCourier(ctx context.Context, orderID, courierID string) error {
	ct, err := r.DB.Exec(ctx,
		`UPDATE orders SET courier_id=$2, updated_at=now() WHERE id=$1`, orderID, courierID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return faults.ErrNotFound
	}
	return nil
}

// DueAutoConfirm lists delivered orders whose confirmation grace period has
// lapsed.
func (r *Repo) DueAutoConfirm(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT id FROM orders
		  WHERE status=$1 AND auto_confirm_at IS NOT NULL AND auto_confirm_at <= $2
		  LIMIT $3`,
		StatusDeliveredSuccess, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// DueAutoComplete is the age-based backstop: delivered orders older than the
// window since physical delivery, skipping any with a refund request inside
// that window.
func (r *Repo) DueAutoComplete(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT o.id FROM orders o
		   JOIN delivery_tracking t ON t.order_id = o.id
		  WHERE o.status=$1 AND t.delivery_time IS NOT NULL AND t.delivery_time <= $2
		    AND NOT EXISTS (
		        SELECT 1 FROM order_status_history h
		         WHERE h.order_id = o.id AND h.status=$3 AND h.created_at >= t.delivery_time)
		  LIMIT $4`,
		StatusDeliveredSuccess, cutoff, StatusRefundRequested, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// DueReminders lists orders whose auto-confirm deadline falls before the
// given horizon.
func (r *Repo) DueReminders(ctx context.Context, horizon time.Time, limit int) ([]ReminderTarget, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT id, user_id, COALESCE(courier_id, ''), auto_confirm_at FROM orders
		  WHERE status=$1 AND auto_confirm_at IS NOT NULL AND auto_confirm_at <= $2
		  LIMIT $3`,
		StatusDeliveredSuccess, horizon, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReminderTarget
	for rows.Next() {
		var t ReminderTarget
		if err := rows.Scan(&t.OrderID, &t.UserID, &t.CourierID, &t.AutoConfirmAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanIDs(rows pgx.Rows) ([]string, error) {
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
