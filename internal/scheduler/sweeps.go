package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fulfillment-core/internal/cart"
	"fulfillment-core/internal/metrics"
)

type reservationSweeper interface {
	SweepExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ReservationSweep deactivates holds past their expiry. Expired holds never
// consumed on-hand stock, so there is nothing to return to the ledger.
type ReservationSweep struct {
	Stock reservationSweeper
	Every time.Duration
	Limit int
	Log   *zap.Logger
}

func (j *ReservationSweep) Name() string            { return "reservation_sweep" }
func (j *ReservationSweep) Interval() time.Duration { return j.Every }

func (j *ReservationSweep) Run(ctx context.Context) error {
	total := 0
	for {
		n, err := j.Stock.SweepExpired(ctx, time.Now().UTC(), j.Limit)
		if err != nil {
			return err
		}
		total += n
		if n < j.Limit {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	if total > 0 {
		j.Log.Info("expired reservations deactivated", zap.Int("count", total))
	}
	return nil
}

type cartSweeper interface {
	SweepStale(ctx context.Context, cutoff time.Time, limit int) ([]cart.Line, error)
}

type holdReleaser interface {
	Release(ctx context.Context, productID, variantID, userID string, qty int) error
}

// StaleCartSweep removes carts idle past the cutoff and releases the holds
// their lines carried. Releases are per record: one failing line is logged
// and counted, the batch continues.
type StaleCartSweep struct {
	Carts  cartSweeper
	Stock  holdReleaser
	MaxAge time.Duration
	Every  time.Duration
	Limit  int
	Log    *zap.Logger
}

func (j *StaleCartSweep) Name() string            { return "stale_cart_sweep" }
func (j *StaleCartSweep) Interval() time.Duration { return j.Every }

func (j *StaleCartSweep) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-j.MaxAge)
	lines, err := j.Carts.SweepStale(ctx, cutoff, j.Limit)
	if err != nil {
		return err
	}
	for _, l := range lines {
		err := j.Stock.Release(ctx, l.ProductID, l.VariantID, l.UserID, l.Qty)
		metrics.RecordJobRecord(j.Name(), err)
		if err != nil {
			j.Log.Warn("stale cart: release failed",
				zap.String("user_id", l.UserID),
				zap.String("product_id", l.ProductID),
				zap.Error(err))
		}
	}
	if len(lines) > 0 {
		j.Log.Info("stale carts removed", zap.Int("lines", len(lines)))
	}
	return nil
}
