package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fulfillment-core/internal/metrics"
)

type courierDirectory interface {
	Online(ctx context.Context) ([]string, error)
	MarkOffline(ctx context.Context, courierID string) error
}

type presenceChecker interface {
	Alive(ctx context.Context, courierID string) (bool, error)
}

// PresenceTimeout marks couriers offline once their heartbeat key has
// expired. Orders are untouched; this only feeds dispatch views.
type PresenceTimeout struct {
	Couriers courierDirectory
	Presence presenceChecker
	Every    time.Duration
	Log      *zap.Logger
}

func (j *PresenceTimeout) Name() string            { return "courier_presence" }
func (j *PresenceTimeout) Interval() time.Duration { return j.Every }

func (j *PresenceTimeout) Run(ctx context.Context) error {
	ids, err := j.Couriers.Online(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		alive, err := j.Presence.Alive(ctx, id)
		if err != nil {
			metrics.RecordJobRecord(j.Name(), err)
			j.Log.Warn("presence check failed", zap.String("courier_id", id), zap.Error(err))
			continue
		}
		if alive {
			continue
		}
		err = j.Couriers.MarkOffline(ctx, id)
		metrics.RecordJobRecord(j.Name(), err)
		if err != nil {
			j.Log.Warn("mark offline failed", zap.String("courier_id", id), zap.Error(err))
			continue
		}
		j.Log.Info("courier marked offline", zap.String("courier_id", id))
	}
	return nil
}
