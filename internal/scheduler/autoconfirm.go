package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"fulfillment-core/internal/faults"
	"fulfillment-core/internal/metrics"
	"fulfillment-core/internal/orders"
)

type orderTransitioner interface {
	Transition(ctx context.Context, orderID string, target orders.Status, note string, actor orders.Actor) (*orders.Order, error)
}

type autoConfirmSource interface {
	DueAutoConfirm(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// AutoConfirm completes delivered orders whose grace period has lapsed. It
// goes through the same transition primitive as interactive callers, so a
// repeat run (or a race with an admin) degrades to a rejected edge, which is
// treated as already-done.
type AutoConfirm struct {
	Source  autoConfirmSource
	Machine orderTransitioner
	Every   time.Duration
	Limit   int
	Log     *zap.Logger
}

func (j *AutoConfirm) Name() string            { return "auto_confirm" }
func (j *AutoConfirm) Interval() time.Duration { return j.Every }

func (j *AutoConfirm) Run(ctx context.Context) error {
	ids, err := j.Source.DueAutoConfirm(ctx, time.Now().UTC(), j.Limit)
	if err != nil {
		return err
	}
	for _, id := range ids {
		err := transitionCompleted(ctx, j.Machine, id, "auto-confirmed after delivery window")
		metrics.RecordJobRecord(j.Name(), err)
		if err != nil {
			j.Log.Warn("auto-confirm failed", zap.String("order_id", id), zap.Error(err))
		}
	}
	return nil
}

type autoCompleteSource interface {
	DueAutoComplete(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// AutoComplete is the independent backstop: instead of auto_confirm_at it uses
// the raw age since physical delivery and skips orders with an open refund
// request inside the window. Kept separate from AutoConfirm: if one trigger is
// lost (cleared timestamp, bad clock) the other still closes the order.
type AutoComplete struct {
	Source  autoCompleteSource
	Machine orderTransitioner
	Window  time.Duration
	Every   time.Duration
	Limit   int
	Log     *zap.Logger
}

func (j *AutoComplete) Name() string            { return "auto_complete" }
func (j *AutoComplete) Interval() time.Duration { return j.Every }

func (j *AutoComplete) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-j.Window)
	ids, err := j.Source.DueAutoComplete(ctx, cutoff, j.Limit)
	if err != nil {
		return err
	}
	for _, id := range ids {
		err := transitionCompleted(ctx, j.Machine, id, "auto-completed: delivery window elapsed")
		metrics.RecordJobRecord(j.Name(), err)
		if err != nil {
			j.Log.Warn("auto-complete failed", zap.String("order_id", id), zap.Error(err))
		}
	}
	return nil
}

func transitionCompleted(ctx context.Context, m orderTransitioner, orderID, note string) error {
	_, err := m.Transition(ctx, orderID, orders.StatusCompleted, note, orders.SystemActor)
	var invalid *faults.InvalidTransitionError
	if errors.As(err, &invalid) {
		// Someone else already moved the order on; nothing left to do.
		return nil
	}
	return err
}
