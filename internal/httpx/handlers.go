package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fulfillment-core/internal/cart"
	"fulfillment-core/internal/delivery"
	"fulfillment-core/internal/faults"
	"fulfillment-core/internal/metrics"
	"fulfillment-core/internal/orders"
	"fulfillment-core/internal/redisx"
	"fulfillment-core/internal/stock"
)

// StockAPI, OrderAPI and DeliveryAPI are the service surfaces the handlers
// call; tests swap in fakes.
type StockAPI interface {
	Reserve(ctx context.Context, productID, variantID, userID string, qty int) error
	Release(ctx context.Context, productID, variantID, userID string, qty int) error
	AvailableStock(ctx context.Context, productID, variantID string) (int, error)
	CheckBulk(ctx context.Context, items []stock.Item) ([]stock.Availability, error)
}

type OrderAPI interface {
	Checkout(ctx context.Context, userID string, in orders.CheckoutInput) (*orders.Order, error)
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	Transition(ctx context.Context, orderID string, target orders.Status, note string, actor orders.Actor) (*orders.Order, error)
	MarkPaid(ctx context.Context, orderID string) (*orders.Order, error)
}

type DeliveryAPI interface {
	Assign(ctx context.Context, orderID, courierID string, actor orders.Actor) (*delivery.Tracking, error)
	Get(ctx context.Context, orderID string) (*delivery.Tracking, error)
	Transition(ctx context.Context, orderID string, target delivery.State, ev delivery.Evidence, actor orders.Actor) (*delivery.Tracking, error)
}

type CartAPI interface {
	Touch(ctx context.Context, l cart.Line, now time.Time) error
	Remove(ctx context.Context, userID, productID, variantID string) error
}

type Heartbeater interface {
	Heartbeat(ctx context.Context, courierID string, now time.Time) error
}

type PresenceBeater interface {
	Beat(ctx context.Context, courierID string) error
}

type Handler struct {
	Stock    StockAPI
	Orders   OrderAPI
	Delivery DeliveryAPI
	Carts    CartAPI
	Couriers Heartbeater
	Presence PresenceBeater
	Redis    *redis.Client // nil disables the read cache
	Log      *zap.Logger
}

func (h *Handler) Register(r *chi.Mux) {
	r.Post("/stock/reserve", h.reserve)
	r.Post("/stock/release", h.release)
	r.Get("/stock/available", h.available)
	r.Post("/stock/check", h.checkBulk)

	r.Post("/cart/items", h.addToCart)
	r.Delete("/cart/items", h.removeFromCart)

	r.Post("/checkout", h.checkout)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/transition", h.transitionOrder)
	r.Post("/orders/{id}/pay", h.markPaid)
	r.Post("/orders/{id}/assign", h.assignCourier)
	r.Post("/orders/{id}/delivery/transition", h.transitionDelivery)
	r.Get("/orders/{id}/delivery", h.getDelivery)

	r.Post("/couriers/heartbeat", h.heartbeat)
}

// actorFrom trusts the identity headers stamped by the upstream auth layer.
func actorFrom(r *http.Request) orders.Actor {
	a := orders.Actor{
		UserID: r.Header.Get("X-User-Id"),
		Role:   orders.Role(r.Header.Get("X-User-Role")),
	}
	if a.Role == orders.RoleSystem {
		// The system actor is internal only; never accepted over HTTP.
		a.Role = ""
	}
	return a
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps error kinds to status codes without leaking internals.
func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	var (
		insufficient *faults.InsufficientStockError
		reserveGone  *faults.ReservationExpiredError
		invalid      *faults.InvalidTransitionError
		validation   *faults.ValidationError
		unauthorized *faults.UnauthorizedError
	)
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     "insufficient stock",
			"available": insufficient.Available,
			"requested": insufficient.Requested,
		})
	case errors.As(err, &reserveGone):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.As(err, &validation):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.As(err, &unauthorized):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, faults.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, faults.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict, retry"})
	default:
		h.Log.Error("internal error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

type stockReq struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Qty       int    `json:"qty"`
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor.UserID == "" {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "missing identity"})
		return
	}
	var req stockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	err := h.Stock.Reserve(ctx, req.ProductID, req.VariantID, actor.UserID, req.Qty)
	metrics.RecordReservationOp("reserve", err)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reserved"})
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor.UserID == "" {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "missing identity"})
		return
	}
	var req stockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	err := h.Stock.Release(ctx, req.ProductID, req.VariantID, actor.UserID, req.Qty)
	metrics.RecordReservationOp("release", err)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (h *Handler) available(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("product_id")
	if productID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing product_id"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	n, err := h.Stock.AvailableStock(ctx, productID, r.URL.Query().Get("variant_id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"available": n})
}

func (h *Handler) checkBulk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []stock.Item `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	out, err := h.Stock.CheckBulk(ctx, req.Items)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// addToCart reserves the quantity and records the cart line in one request,
// so the hold and the line expire together under the sweeps.
func (h *Handler) addToCart(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor.UserID == "" {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "missing identity"})
		return
	}
	var req stockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	err := h.Stock.Reserve(ctx, req.ProductID, req.VariantID, actor.UserID, req.Qty)
	metrics.RecordReservationOp("reserve", err)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	line := cart.Line{UserID: actor.UserID, ProductID: req.ProductID, VariantID: req.VariantID, Qty: req.Qty}
	if err := h.Carts.Touch(ctx, line, time.Now().UTC()); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

func (h *Handler) removeFromCart(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor.UserID == "" {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "missing identity"})
		return
	}
	var req stockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Carts.Remove(ctx, actor.UserID, req.ProductID, req.VariantID); err != nil {
		h.writeErr(w, err)
		return
	}
	if req.Qty > 0 {
		err := h.Stock.Release(ctx, req.ProductID, req.VariantID, actor.UserID, req.Qty)
		metrics.RecordReservationOp("release", err)
		if err != nil {
			h.writeErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor.UserID == "" {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "missing identity"})
		return
	}
	var in orders.CheckoutInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Orders.Checkout(ctx, actor.UserID, in)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if b, ok := h.cacheGet(ctx, orderID); ok {
		writeJSON(w, http.StatusOK, json.RawMessage(b))
		return
	}

	o, err := h.Orders.Get(ctx, orderID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.cacheSet(ctx, orderID, o)
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) transitionOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req struct {
		Target string `json:"target"`
		Note   string `json:"note,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.Transition(ctx, orderID, orders.Status(req.Target), req.Note, actorFrom(r))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.cacheDel(ctx, orderID)
	writeJSON(w, http.StatusOK, o)
}

// markPaid records payment confirmation from the reconciliation side.
func (h *Handler) markPaid(w http.ResponseWriter, r *http.Request) {
	if actorFrom(r).Role != orders.RoleAdmin {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin identity required"})
		return
	}
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.MarkPaid(ctx, orderID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.cacheDel(ctx, orderID)
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) assignCourier(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req struct {
		CourierID string `json:"courier_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	t, err := h.Delivery.Assign(ctx, orderID, req.CourierID, actorFrom(r))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.cacheDel(ctx, orderID)
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) transitionDelivery(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req struct {
		Target        string   `json:"target"`
		Images        []string `json:"images,omitempty"`
		FailureReason string   `json:"failure_reason,omitempty"`
		Location      string   `json:"location,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ev := delivery.Evidence{Images: req.Images, FailureReason: req.FailureReason, Location: req.Location}
	t, err := h.Delivery.Transition(ctx, orderID, delivery.State(req.Target), ev, actorFrom(r))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.cacheDel(ctx, orderID)
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	t, err := h.Delivery.Get(ctx, orderID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor.Role != orders.RoleCourier || actor.UserID == "" {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "courier identity required"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Couriers.Heartbeat(ctx, actor.UserID, time.Now().UTC()); err != nil {
		h.writeErr(w, err)
		return
	}
	if h.Presence != nil {
		if err := h.Presence.Beat(ctx, actor.UserID); err != nil {
			h.Log.Warn("presence beat failed", zap.String("courier_id", actor.UserID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) cacheGet(ctx context.Context, orderID string) ([]byte, bool) {
	if h.Redis == nil {
		return nil, false
	}
	s, err := h.Redis.Get(ctx, redisx.OrderCacheKey(orderID)).Result()
	if err != nil || s == "" {
		return nil, false
	}
	return []byte(s), true
}

func (h *Handler) cacheSet(ctx context.Context, orderID string, v any) {
	if h.Redis == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = h.Redis.Set(ctx, redisx.OrderCacheKey(orderID), b, redisx.TTLOrderCache).Err()
}

func (h *Handler) cacheDel(ctx context.Context, orderID string) {
	if h.Redis == nil {
		return
	}
	_ = h.Redis.Del(ctx, redisx.OrderCacheKey(orderID)).Err()
}
