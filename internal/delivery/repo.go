package delivery

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"fulfillment-core/internal/faults"
	"fulfillment-core/internal/postgres"
)

type Repo struct {
	DB postgres.DB
}

func (r *Repo) Create(ctx context.Context, t *Tracking) error {
	_, err := r.DB.Exec(ctx,
		`INSERT INTO delivery_tracking
		     (order_id, courier_id, state, pickup_images, delivery_images, return_images,
		      failure_images, failure_reason, retry_count, breadcrumbs, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, 1, $10, $10)`,
		t.OrderID, t.CourierID, t.State,
		t.PickupImages, t.DeliveryImages, t.ReturnImages,
		t.FailureImages, t.FailureReason, t.Breadcrumbs, t.CreatedAt)
	return err
}

func (r *Repo) Get(ctx context.Context, orderID string) (*Tracking, error) {
	var t Tracking
	err := r.DB.QueryRow(ctx,
		`SELECT order_id, courier_id, state, pickup_images, delivery_images, return_images,
		        failure_images, failure_reason, retry_count, breadcrumbs,
		        pickup_time, transit_start_time, arrived_time, delivery_time,
		        version, created_at, updated_at
		   FROM delivery_tracking WHERE order_id=$1`, orderID).
		Scan(&t.OrderID, &t.CourierID, &t.State,
			&t.PickupImages, &t.DeliveryImages, &t.ReturnImages,
			&t.FailureImages, &t.FailureReason, &t.RetryCount, &t.Breadcrumbs,
			&t.PickupTime, &t.TransitStartTime, &t.ArrivedTime, &t.DeliveryTime,
			&t.Version, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, faults.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ApplyTransition persists the mutated tracking record guarded by the version
// the caller read. Zero rows affected means another writer got there first.
func (r *Repo) ApplyTransition(ctx context.Context, t *Tracking) error {
	return r.ApplyTransitionIn(ctx, r.DB, t)
}

// ApplyTransitionIn is ApplyTransition running on the caller's transaction,
// so a delivery outcome and the order status it forces commit together.
func (r *Repo) ApplyTransitionIn(ctx context.Context, q postgres.Queryer, t *Tracking) error {
	ct, err := q.Exec(ctx,
		`UPDATE delivery_tracking
		    SET state=$2, pickup_images=$3, delivery_images=$4, return_images=$5,
		        failure_images=$6, failure_reason=$7, retry_count=$8, breadcrumbs=$9,
		        pickup_time=$10, transit_start_time=$11, arrived_time=$12, delivery_time=$13,
		        version=version+1, updated_at=$14
		  WHERE order_id=$1 AND version=$15`,
		t.OrderID, t.State, t.PickupImages, t.DeliveryImages, t.ReturnImages,
		t.FailureImages, t.FailureReason, t.RetryCount, t.Breadcrumbs,
		t.PickupTime, t.TransitStartTime, t.ArrivedTime, t.DeliveryTime,
		t.UpdatedAt, t.Version)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return faults.ErrConflict
	}
	t.Version++
	return nil
}
