package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fulfillment-core/internal/cart"
	"fulfillment-core/internal/delivery"
	"fulfillment-core/internal/faults"
	"fulfillment-core/internal/orders"
	"fulfillment-core/internal/stock"
)

type stubStock struct {
	reserveErr error
	releaseErr error
	available  int
	availErr   error

	reserved []string
	released []string
}

func (s *stubStock) Reserve(_ context.Context, productID, _, _ string, _ int) error {
	if s.reserveErr != nil {
		return s.reserveErr
	}
	s.reserved = append(s.reserved, productID)
	return nil
}

func (s *stubStock) Release(_ context.Context, productID, _, _ string, _ int) error {
	if s.releaseErr != nil {
		return s.releaseErr
	}
	s.released = append(s.released, productID)
	return nil
}

func (s *stubStock) AvailableStock(context.Context, string, string) (int, error) {
	return s.available, s.availErr
}

func (s *stubStock) CheckBulk(context.Context, []stock.Item) ([]stock.Availability, error) {
	return nil, nil
}

type stubOrders struct {
	order       *orders.Order
	getErr      error
	transErr    error
	checkoutErr error

	lastTarget orders.Status
	lastActor  orders.Actor
}

func (s *stubOrders) Checkout(_ context.Context, userID string, in orders.CheckoutInput) (*orders.Order, error) {
	if s.checkoutErr != nil {
		return nil, s.checkoutErr
	}
	return &orders.Order{ID: "o1", UserID: userID, Status: orders.StatusPending}, nil
}

func (s *stubOrders) Get(context.Context, string) (*orders.Order, error) {
	return s.order, s.getErr
}

func (s *stubOrders) MarkPaid(_ context.Context, orderID string) (*orders.Order, error) {
	return &orders.Order{ID: orderID, Status: orders.StatusPending, IsPaid: true}, nil
}

func (s *stubOrders) Transition(_ context.Context, _ string, target orders.Status, _ string, actor orders.Actor) (*orders.Order, error) {
	s.lastTarget = target
	s.lastActor = actor
	if s.transErr != nil {
		return nil, s.transErr
	}
	return &orders.Order{ID: "o1", Status: target}, nil
}

type stubDelivery struct {
	tracking  *delivery.Tracking
	assignErr error
	transErr  error
	getErr    error
}

func (s *stubDelivery) Assign(_ context.Context, orderID, courierID string, _ orders.Actor) (*delivery.Tracking, error) {
	if s.assignErr != nil {
		return nil, s.assignErr
	}
	return &delivery.Tracking{OrderID: orderID, CourierID: courierID, State: delivery.StateAssigned}, nil
}

func (s *stubDelivery) Get(context.Context, string) (*delivery.Tracking, error) {
	return s.tracking, s.getErr
}

func (s *stubDelivery) Transition(_ context.Context, orderID string, target delivery.State, _ delivery.Evidence, _ orders.Actor) (*delivery.Tracking, error) {
	if s.transErr != nil {
		return nil, s.transErr
	}
	return &delivery.Tracking{OrderID: orderID, State: target}, nil
}

type stubCarts struct {
	touched []cart.Line
	removed []string
}

func (s *stubCarts) Touch(_ context.Context, l cart.Line, _ time.Time) error {
	s.touched = append(s.touched, l)
	return nil
}

func (s *stubCarts) Remove(_ context.Context, _, productID, _ string) error {
	s.removed = append(s.removed, productID)
	return nil
}

type stubCouriers struct {
	beats []string
	err   error
}

func (s *stubCouriers) Heartbeat(_ context.Context, courierID string, _ time.Time) error {
	if s.err != nil {
		return s.err
	}
	s.beats = append(s.beats, courierID)
	return nil
}

type fixture struct {
	stock    *stubStock
	orders   *stubOrders
	delivery *stubDelivery
	carts    *stubCarts
	couriers *stubCouriers
	srv      http.Handler
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		stock:    &stubStock{},
		orders:   &stubOrders{},
		delivery: &stubDelivery{},
		carts:    &stubCarts{},
		couriers: &stubCouriers{},
	}
	h := &Handler{
		Stock:    f.stock,
		Orders:   f.orders,
		Delivery: f.delivery,
		Carts:    f.carts,
		Couriers: f.couriers,
		Log:      zaptest.NewLogger(t),
	}
	r := NewRouter()
	h.Register(r)
	f.srv = r
	return f
}

func do(t *testing.T, srv http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

var asUser = map[string]string{"X-User-Id": "u1", "X-User-Role": "customer"}

func TestReserveRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodPost, "/stock/reserve", `{"product_id":"p1","qty":1}`, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.stock.reserved)
}

func TestReserveOK(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodPost, "/stock/reserve", `{"product_id":"p1","qty":2}`, asUser)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"p1"}, f.stock.reserved)
}

func TestReserveInsufficientMapsTo409(t *testing.T) {
	f := newFixture(t)
	f.stock.reserveErr = &faults.InsufficientStockError{ProductID: "p1", Requested: 5, Available: 2}

	rec := do(t, f.srv, http.MethodPost, "/stock/reserve", `{"product_id":"p1","qty":5}`, asUser)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["available"])
	assert.Equal(t, float64(5), body["requested"])
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"invalid transition", &faults.InvalidTransitionError{From: "pending", To: "completed"}, http.StatusConflict},
		{"reservation expired", &faults.ReservationExpiredError{ProductID: "p1"}, http.StatusConflict},
		{"validation", &faults.ValidationError{Field: "qty", Reason: "must be at least 1"}, http.StatusUnprocessableEntity},
		{"unauthorized", &faults.UnauthorizedError{Role: "customer", Action: "confirm"}, http.StatusForbidden},
		{"not found", faults.ErrNotFound, http.StatusNotFound},
		{"version conflict", faults.ErrConflict, http.StatusConflict},
		{"opaque", errors.New("pq: connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.orders.transErr = tc.err
			rec := do(t, f.srv, http.MethodPost, "/orders/o1/transition",
				`{"target":"completed"}`, asUser)
			assert.Equal(t, tc.code, rec.Code)
			if tc.code == http.StatusInternalServerError {
				assert.NotContains(t, rec.Body.String(), "connection reset")
			}
		})
	}
}

func TestSystemRoleStrippedFromHeaders(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodPost, "/orders/o1/transition",
		`{"target":"shipped"}`,
		map[string]string{"X-User-Id": "u1", "X-User-Role": "system"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.Role(""), f.orders.lastActor.Role,
		"system must never be accepted over HTTP")
}

func TestTransitionPassesActorThrough(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodPost, "/orders/o1/transition",
		`{"target":"confirmed","note":"ok"}`,
		map[string]string{"X-User-Id": "a1", "X-User-Role": "admin"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusConfirmed, f.orders.lastTarget)
	assert.Equal(t, orders.Actor{UserID: "a1", Role: orders.RoleAdmin}, f.orders.lastActor)
}

func TestAvailableStock(t *testing.T) {
	f := newFixture(t)
	f.stock.available = 7

	rec := do(t, f.srv, http.MethodGet, "/stock/available?product_id=p1", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"available":7}`, rec.Body.String())

	rec = do(t, f.srv, http.MethodGet, "/stock/available", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutCreated(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodPost, "/checkout",
		`{"items":[{"product_id":"p1","qty":1}],"shipping_address":"Jl. Sudirman 1"}`, asUser)
	assert.Equal(t, http.StatusCreated, rec.Code)

	var o orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, "u1", o.UserID)
	assert.Equal(t, orders.StatusPending, o.Status)
}

func TestAddToCartReservesAndTouches(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodPost, "/cart/items", `{"product_id":"p1","qty":2}`, asUser)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"p1"}, f.stock.reserved)
	require.Len(t, f.carts.touched, 1)
	assert.Equal(t, cart.Line{UserID: "u1", ProductID: "p1", Qty: 2}, f.carts.touched[0])
}

func TestAddToCartSkipsLineWhenReserveFails(t *testing.T) {
	f := newFixture(t)
	f.stock.reserveErr = &faults.InsufficientStockError{ProductID: "p1", Requested: 2}

	rec := do(t, f.srv, http.MethodPost, "/cart/items", `{"product_id":"p1","qty":2}`, asUser)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, f.carts.touched)
}

func TestRemoveFromCartReleasesHold(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodDelete, "/cart/items", `{"product_id":"p1","qty":2}`, asUser)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"p1"}, f.carts.removed)
	assert.Equal(t, []string{"p1"}, f.stock.released)
}

func TestAssignCourier(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodPost, "/orders/o1/assign", `{"courier_id":"c1"}`,
		map[string]string{"X-User-Id": "a1", "X-User-Role": "admin"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	var tr delivery.Tracking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
	assert.Equal(t, delivery.StateAssigned, tr.State)
}

func TestDeliveryTransitionEvidencePassthrough(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodPost, "/orders/o1/delivery/transition",
		`{"target":"delivered","images":["d.jpg"],"location":"-6.2,106.8"}`,
		map[string]string{"X-User-Id": "c1", "X-User-Role": "courier"})
	assert.Equal(t, http.StatusOK, rec.Code)

	var tr delivery.Tracking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
	assert.Equal(t, delivery.StateDelivered, tr.State)
}

func TestHeartbeatCourierOnly(t *testing.T) {
	f := newFixture(t)

	rec := do(t, f.srv, http.MethodPost, "/couriers/heartbeat", "{}",
		map[string]string{"X-User-Id": "c1", "X-User-Role": "courier"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"c1"}, f.couriers.beats)

	rec = do(t, f.srv, http.MethodPost, "/couriers/heartbeat", "{}", asUser)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMarkPaidAdminOnly(t *testing.T) {
	f := newFixture(t)

	rec := do(t, f.srv, http.MethodPost, "/orders/o1/pay", "{}", asUser)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, f.srv, http.MethodPost, "/orders/o1/pay", "{}",
		map[string]string{"X-User-Id": "a1", "X-User-Role": "admin"})
	assert.Equal(t, http.StatusOK, rec.Code)

	var o orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.True(t, o.IsPaid)
}

func TestGetOrderNotFound(t *testing.T) {
	f := newFixture(t)
	f.orders.getErr = faults.ErrNotFound

	rec := do(t, f.srv, http.MethodGet, "/orders/nope", "", asUser)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidJSONRejected(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodPost, "/stock/reserve", `{"qty":`, asUser)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
