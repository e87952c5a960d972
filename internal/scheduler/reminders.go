package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fulfillment-core/internal/metrics"
	"fulfillment-core/internal/notify"
	"fulfillment-core/internal/orders"
	"fulfillment-core/internal/redisx"
)

type reminderSource interface {
	DueReminders(ctx context.Context, horizon time.Time, limit int) ([]orders.ReminderTarget, error)
}

type onceMarker interface {
	MarkOnce(ctx context.Context, key string) (bool, error)
}

// Reminders pings customer and courier when an order's auto-confirm deadline
// is inside the lead window, at most once per order per day (the marker TTL
// enforces the cadence).
type Reminders struct {
	Source reminderSource
	Marker onceMarker
	Notify notify.Trigger
	Lead   time.Duration
	Every  time.Duration
	Limit  int
	Log    *zap.Logger
}

func (j *Reminders) Name() string            { return "delivery_reminders" }
func (j *Reminders) Interval() time.Duration { return j.Every }

func (j *Reminders) Run(ctx context.Context) error {
	horizon := time.Now().UTC().Add(j.Lead)
	targets, err := j.Source.DueReminders(ctx, horizon, j.Limit)
	if err != nil {
		return err
	}
	for _, t := range targets {
		won, err := j.Marker.MarkOnce(ctx, redisx.ReminderKey(t.OrderID))
		metrics.RecordJobRecord(j.Name(), err)
		if err != nil {
			j.Log.Warn("reminder marker failed", zap.String("order_id", t.OrderID), zap.Error(err))
			continue
		}
		if !won {
			continue
		}

		msg := fmt.Sprintf("Order %s auto-confirms at %s.", t.OrderID, t.AutoConfirmAt.Format(time.RFC3339))
		j.Notify.Notify(ctx, notify.Notification{
			UserID:  t.UserID,
			Title:   "Confirm your delivery",
			Message: msg,
			Kind:    notify.KindReminder,
			Payload: map[string]any{"order_id": t.OrderID},
		})
		if t.CourierID != "" {
			j.Notify.Notify(ctx, notify.Notification{
				UserID:  t.CourierID,
				Title:   "Delivery pending confirmation",
				Message: msg,
				Kind:    notify.KindReminder,
				Payload: map[string]any{"order_id": t.OrderID},
			})
		}
	}
	return nil
}
