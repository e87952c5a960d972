package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"fulfillment-core/internal/faults"
	"fulfillment-core/internal/notify"
	"fulfillment-core/internal/postgres"
	"fulfillment-core/internal/stock"
)

// Store is the persistence the service needs; *Repo implements it, tests use
// fakes.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	ApplyTransition(ctx context.Context, o *Order, note string, fx func(pgx.Tx) error) error
	SetCourier(ctx context.Context, orderID, courierID string) error
}

// StockOps is the slice of the reservation engine the order machine drives.
type StockOps interface {
	Reserve(ctx context.Context, productID, variantID, userID string, qty int) error
	Release(ctx context.Context, productID, variantID, userID string, qty int) error
	ConsumeForOrder(ctx context.Context, q postgres.Queryer, orderID, userID string, items []stock.Item) error
	Restock(ctx context.Context, q postgres.Queryer, items []stock.Item) error
	Snapshot(ctx context.Context, productID string) (stock.ProductSnapshot, error)
}

type Service struct {
	Store  Store
	Stock  StockOps
	Notify notify.Trigger
	Log    *zap.Logger

	// AutoConfirmAfter is the delivered_success -> completed grace period.
	AutoConfirmAfter time.Duration

	// NowFn is swappable in tests; nil means time.Now.
	NowFn func() time.Time
}

func (s *Service) now() time.Time {
	if s.NowFn != nil {
		return s.NowFn().UTC()
	}
	return time.Now().UTC()
}

type CheckoutItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Qty       int    `json:"qty"`
}

type CheckoutInput struct {
	Items           []CheckoutItem `json:"items"`
	ShippingAddress string         `json:"shipping_address"`
	PaymentMethod   string         `json:"payment_method"`
}

// Checkout reserves stock for every line, snapshots catalog fields onto the
// order, and creates it in pending. Holds taken before a failing line are
// released again; release is idempotent so a partial rollback is safe.
func (s *Service) Checkout(ctx context.Context, userID string, in CheckoutInput) (*Order, error) {
	if userID == "" {
		return nil, &faults.ValidationError{Field: "user_id", Reason: "is required"}
	}
	if len(in.Items) == 0 {
		return nil, &faults.ValidationError{Field: "items", Reason: "must not be empty"}
	}
	if in.ShippingAddress == "" {
		return nil, &faults.ValidationError{Field: "shipping_address", Reason: "is required"}
	}

	var taken []CheckoutItem
	rollback := func() {
		for _, it := range taken {
			if err := s.Stock.Release(ctx, it.ProductID, it.VariantID, userID, it.Qty); err != nil {
				s.Log.Warn("checkout rollback: release failed",
					zap.String("product_id", it.ProductID), zap.Error(err))
			}
		}
	}

	for _, it := range in.Items {
		if err := s.Stock.Reserve(ctx, it.ProductID, it.VariantID, userID, it.Qty); err != nil {
			rollback()
			return nil, err
		}
		taken = append(taken, it)
	}

	now := s.now()
	o := &Order{
		ID:              uuid.NewString(),
		UserID:          userID,
		ShippingAddress: in.ShippingAddress,
		PaymentMethod:   in.PaymentMethod,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
		History:         []HistoryEntry{{Status: StatusPending, Note: "order placed", At: now}},
	}
	for _, it := range in.Items {
		snap, err := s.Stock.Snapshot(ctx, it.ProductID)
		if err != nil {
			rollback()
			return nil, err
		}
		o.Items = append(o.Items, Item{
			ProductID:      it.ProductID,
			VariantID:      it.VariantID,
			Name:           snap.Name,
			Qty:            it.Qty,
			UnitPriceCents: snap.PriceCents,
		})
		o.TotalCents += snap.PriceCents * it.Qty
	}

	if err := s.Store.Create(ctx, o); err != nil {
		rollback()
		return nil, err
	}

	s.Notify.Notify(ctx, notify.Notification{
		UserID:  userID,
		Title:   "Order placed",
		Message: fmt.Sprintf("Your order %s is pending confirmation.", o.ID),
		Kind:    notify.KindOrder,
		Payload: map[string]any{"order_id": o.ID, "status": string(o.Status)},
	})
	return o, nil
}

func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	return s.Store.Get(ctx, orderID)
}

// Transition drives the order one edge forward. Every path (admin console,
// courier propagation, scheduler) comes through here so no two callers can
// race into an invalid composite state: the version check rejects whichever
// writer lost.
func (s *Service) Transition(ctx context.Context, orderID string, target Status, note string, actor Actor) (*Order, error) {
	return s.transition(ctx, orderID, target, note, actor, nil)
}

// TransitionWith additionally runs extra inside the same transaction as the
// status flip, for callers that must advance another aggregate atomically with
// the order (delivery outcome propagation). If extra fails, the order does not
// move.
func (s *Service) TransitionWith(ctx context.Context, orderID string, target Status, note string, actor Actor, extra func(pgx.Tx) error) (*Order, error) {
	return s.transition(ctx, orderID, target, note, actor, extra)
}

func (s *Service) transition(ctx context.Context, orderID string, target Status, note string, actor Actor, extra func(pgx.Tx) error) (*Order, error) {
	if !Known(target) {
		return nil, &faults.ValidationError{Field: "target", Reason: fmt.Sprintf("unknown status %q", target)}
	}

	o, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(o, target, actor); err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, target) {
		return nil, &faults.InvalidTransitionError{From: string(o.Status), To: string(target)}
	}

	now := s.now()
	var fx func(pgx.Tx) error
	var afterCommit func()

	switch target {
	case StatusConfirmed:
		// Confirmation consumes the reservation: on-hand drops and the hold
		// is deactivated in the same transaction as the status flip. No
		// availability re-check is needed, the hold already encumbers it.
		items := stockItems(o.Items)
		fx = func(tx pgx.Tx) error {
			return s.Stock.ConsumeForOrder(ctx, tx, o.ID, o.UserID, items)
		}

	case StatusCancelled:
		if o.Status == StatusPending {
			// Not yet consumed: dropping the hold is enough.
			items := o.Items
			afterCommit = func() {
				for _, it := range items {
					if err := s.Stock.Release(ctx, it.ProductID, it.VariantID, o.UserID, it.Qty); err != nil {
						s.Log.Warn("cancel: release failed",
							zap.String("order_id", o.ID), zap.Error(err))
					}
				}
			}
		} else {
			// Confirmed or later: the reservation was converted into a ledger
			// decrement, so put the quantities back.
			items := stockItems(o.Items)
			fx = func(tx pgx.Tx) error {
				return s.Stock.Restock(ctx, tx, items)
			}
		}

	case StatusDeliveredSuccess:
		at := now.Add(s.AutoConfirmAfter)
		o.AutoConfirmAt = &at

	case StatusDeliveredFailed:
		o.RetryDeliveryCount++

	case StatusCompleted, StatusRefunded:
		o.AutoConfirmAt = nil

	case StatusReturned:
		// Goods are back at origin; return them to the ledger.
		items := stockItems(o.Items)
		fx = func(tx pgx.Tx) error {
			return s.Stock.Restock(ctx, tx, items)
		}
	}

	if extra != nil {
		own := fx
		fx = func(tx pgx.Tx) error {
			if err := extra(tx); err != nil {
				return err
			}
			if own != nil {
				return own(tx)
			}
			return nil
		}
	}

	from := o.Status
	o.Status = target
	o.UpdatedAt = now
	if err := s.Store.ApplyTransition(ctx, o, note, fx); err != nil {
		// Leave the caller's view consistent with storage.
		o.Status = from
		return nil, err
	}
	o.History = append(o.History, HistoryEntry{Status: target, Note: note, At: now})

	if afterCommit != nil {
		afterCommit()
	}

	s.Notify.Notify(ctx, notify.Notification{
		UserID:  o.UserID,
		Title:   "Order " + string(target),
		Message: fmt.Sprintf("Order %s moved from %s to %s.", o.ID, from, target),
		Kind:    notify.KindOrder,
		Payload: map[string]any{"order_id": o.ID, "status": string(target)},
	})
	return o, nil
}

// authorize enforces the role table plus ownership rules for customers.
func (s *Service) authorize(o *Order, target Status, actor Actor) error {
	deny := &faults.UnauthorizedError{Role: string(actor.Role), Action: "set order " + string(target)}

	if !RoleMayEnter(target, actor.Role) {
		return deny
	}
	if actor.Role != RoleCustomer {
		return nil
	}

	// Customers act only on their own orders, and only on the edges a buyer
	// legitimately drives.
	if actor.UserID != o.UserID {
		return deny
	}
	switch target {
	case StatusCancelled:
		if o.Status != StatusPending {
			return deny
		}
	case StatusCompleted, StatusRefundRequested:
		// confirm receipt / dispute, ownership check above suffices
	default:
		return deny
	}
	return nil
}

// AssignCourier stamps the courier onto the order; the delivery tracking
// aggregate owns the rest of the assignment.
func (s *Service) AssignCourier(ctx context.Context, orderID, courierID string) error {
	return s.Store.SetCourier(ctx, orderID, courierID)
}

// MarkPaid flips the payment flag. Gateway reconciliation is out of scope;
// this only records the fact.
func (s *Service) MarkPaid(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.IsPaid {
		return o, nil
	}
	now := s.now()
	o.IsPaid = true
	o.PaidAt = &now
	o.UpdatedAt = now
	// Same optimistic write path as a transition, with the status unchanged;
	// the history entry records the payment note.
	if err := s.Store.ApplyTransition(ctx, o, "payment recorded", nil); err != nil {
		return nil, err
	}
	o.History = append(o.History, HistoryEntry{Status: o.Status, Note: "payment recorded", At: now})
	return o, nil
}

func stockItems(items []Item) []stock.Item {
	out := make([]stock.Item, 0, len(items))
	for _, it := range items {
		out = append(out, stock.Item{ProductID: it.ProductID, VariantID: it.VariantID, Qty: it.Qty})
	}
	return out
}
