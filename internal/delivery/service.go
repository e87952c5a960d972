package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"fulfillment-core/internal/faults"
	"fulfillment-core/internal/notify"
	"fulfillment-core/internal/orders"
	"fulfillment-core/internal/postgres"
)

type Store interface {
	Create(ctx context.Context, t *Tracking) error
	Get(ctx context.Context, orderID string) (*Tracking, error)
	ApplyTransition(ctx context.Context, t *Tracking) error
	ApplyTransitionIn(ctx context.Context, q postgres.Queryer, t *Tracking) error
}

// OrderMachine is the slice of the order service delivery outcomes propagate
// through. Propagation uses the same transition primitive as interactive
// callers, so a racing admin action loses cleanly on the version check.
type OrderMachine interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	Transition(ctx context.Context, orderID string, target orders.Status, note string, actor orders.Actor) (*orders.Order, error)
	TransitionWith(ctx context.Context, orderID string, target orders.Status, note string, actor orders.Actor, extra func(pgx.Tx) error) (*orders.Order, error)
	AssignCourier(ctx context.Context, orderID, courierID string) error
}

type Service struct {
	Store  Store
	Orders OrderMachine
	Notify notify.Trigger
	Log    *zap.Logger

	// NowFn is swappable in tests; nil means time.Now.
	NowFn func() time.Time
}

func (s *Service) now() time.Time {
	if s.NowFn != nil {
		return s.NowFn().UTC()
	}
	return time.Now().UTC()
}

// Assign creates the tracking record and stamps the courier onto the order.
// Admin only; the order must be confirmed or further along, but not yet in a
// delivery outcome.
func (s *Service) Assign(ctx context.Context, orderID, courierID string, actor orders.Actor) (*Tracking, error) {
	if actor.Role != orders.RoleAdmin {
		return nil, &faults.UnauthorizedError{Role: string(actor.Role), Action: "assign courier"}
	}
	if courierID == "" {
		return nil, &faults.ValidationError{Field: "courier_id", Reason: "is required"}
	}

	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch o.Status {
	case orders.StatusConfirmed, orders.StatusProcessing, orders.StatusShipped:
	default:
		return nil, &faults.InvalidTransitionError{From: string(o.Status), To: string(StateAssigned)}
	}

	if _, err := s.Store.Get(ctx, orderID); err == nil {
		return nil, faults.ErrConflict
	}

	now := s.now()
	t := &Tracking{
		OrderID:   orderID,
		CourierID: courierID,
		State:     StateAssigned,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.Create(ctx, t); err != nil {
		return nil, err
	}
	if err := s.Orders.AssignCourier(ctx, orderID, courierID); err != nil {
		return nil, err
	}

	s.Notify.Notify(ctx, notify.Notification{
		UserID:  courierID,
		Title:   "Delivery assigned",
		Message: fmt.Sprintf("You have been assigned order %s.", orderID),
		Kind:    notify.KindDelivery,
		Payload: map[string]any{"order_id": orderID},
	})
	return t, nil
}

func (s *Service) Get(ctx context.Context, orderID string) (*Tracking, error) {
	return s.Store.Get(ctx, orderID)
}

// Transition advances the sub-machine one edge. Evidence is validated before
// any write. Outcomes that force an order status (delivered, failed,
// return_completed) commit the tracking update inside the order transition's
// transaction, so the two aggregates move together or not at all.
func (s *Service) Transition(ctx context.Context, orderID string, target State, ev Evidence, actor orders.Actor) (*Tracking, error) {
	if !Known(target) {
		return nil, &faults.ValidationError{Field: "target", Reason: fmt.Sprintf("unknown state %q", target)}
	}

	t, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if CourierTarget(target) {
		if actor.Role != orders.RoleCourier || actor.UserID != t.CourierID {
			return nil, &faults.UnauthorizedError{Role: string(actor.Role), Action: "set delivery " + string(target)}
		}
	} else if actor.Role != orders.RoleAdmin {
		return nil, &faults.UnauthorizedError{Role: string(actor.Role), Action: "set delivery " + string(target)}
	}

	if !CanTransition(t.State, target) {
		return nil, &faults.InvalidTransitionError{From: string(t.State), To: string(target)}
	}
	if err := ValidateEvidence(target, ev); err != nil {
		return nil, err
	}

	now := s.now()
	s.apply(t, target, ev, now)
	t.UpdatedAt = now

	if propagated, ok := propagation[target]; ok {
		if _, err := s.Orders.TransitionWith(ctx, t.OrderID, propagated, propagationNote(target, ev), orders.SystemActor,
			func(tx pgx.Tx) error {
				return s.Store.ApplyTransitionIn(ctx, tx, t)
			}); err != nil {
			return nil, err
		}
		return t, nil
	}

	if err := s.Store.ApplyTransition(ctx, t); err != nil {
		return nil, err
	}
	if target == StatePickedUp {
		s.propagateShipped(ctx, t)
	}
	return t, nil
}

// propagation maps delivery outcomes to the order status they force.
var propagation = map[State]orders.Status{
	StateDelivered:       orders.StatusDeliveredSuccess,
	StateFailed:          orders.StatusDeliveredFailed,
	StateReturnCompleted: orders.StatusReturned,
}

func propagationNote(target State, ev Evidence) string {
	switch target {
	case StateDelivered:
		return "delivered by courier"
	case StateFailed:
		return "delivery failed: " + ev.FailureReason
	case StateReturnCompleted:
		return "return completed"
	}
	return ""
}

// apply mutates the in-memory record: once-only timestamps, evidence buckets,
// retry count. Timestamps only ever move forward because each belongs to
// exactly one edge and the machine never revisits an edge.
func (s *Service) apply(t *Tracking, target State, ev Evidence, now time.Time) {
	switch target {
	case StatePickedUp:
		t.PickupImages = append(t.PickupImages, ev.Images...)
		if t.PickupTime == nil {
			ts := now
			t.PickupTime = &ts
		}
	case StateInTransit:
		if t.TransitStartTime == nil {
			ts := now
			t.TransitStartTime = &ts
		}
	case StateArrived:
		if t.ArrivedTime == nil {
			ts := now
			t.ArrivedTime = &ts
		}
	case StateDelivered:
		t.DeliveryImages = append(t.DeliveryImages, ev.Images...)
		if t.DeliveryTime == nil {
			ts := now
			t.DeliveryTime = &ts
		}
	case StateFailed:
		t.FailureReason = ev.FailureReason
		t.FailureImages = append(t.FailureImages, ev.Images...)
		t.RetryCount++
	case StateReturning, StateReturned:
		t.ReturnImages = append(t.ReturnImages, ev.Images...)
	}
	if ev.Location != "" {
		t.Breadcrumbs = append(t.Breadcrumbs, fmt.Sprintf("%s %s %s", now.Format(time.RFC3339), target, ev.Location))
	}
	t.State = target
}

// propagateShipped walks the order to shipped after pickup, best effort: the
// admin may already have moved it, and a failure here only delays the order
// status, it never blocks the courier. Orders picked up straight from
// confirmed pass through processing on the way.
func (s *Service) propagateShipped(ctx context.Context, t *Tracking) {
	o, err := s.Orders.Get(ctx, t.OrderID)
	if err != nil {
		s.Log.Warn("picked_up: order lookup failed",
			zap.String("order_id", t.OrderID), zap.Error(err))
		return
	}
	status := o.Status
	if status == orders.StatusConfirmed {
		if _, err := s.Orders.Transition(ctx, t.OrderID, orders.StatusProcessing, "courier picked up", orders.SystemActor); err != nil {
			s.Log.Warn("picked_up: processing propagation failed",
				zap.String("order_id", t.OrderID), zap.Error(err))
			return
		}
		status = orders.StatusProcessing
	}
	if status == orders.StatusProcessing {
		if _, err := s.Orders.Transition(ctx, t.OrderID, orders.StatusShipped, "courier picked up", orders.SystemActor); err != nil {
			s.Log.Warn("picked_up: shipped propagation failed",
				zap.String("order_id", t.OrderID), zap.Error(err))
		}
	}
}
