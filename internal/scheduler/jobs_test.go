package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fulfillment-core/internal/cart"
	"fulfillment-core/internal/faults"
	"fulfillment-core/internal/notify"
	"fulfillment-core/internal/orders"
)

type fakeSweeper struct {
	batches []int
	calls   int
}

func (f *fakeSweeper) SweepExpired(_ context.Context, _ time.Time, _ int) (int, error) {
	n := f.batches[f.calls]
	f.calls++
	return n, nil
}

func TestReservationSweepDrainsFullBatches(t *testing.T) {
	sw := &fakeSweeper{batches: []int{500, 500, 120}}
	job := &ReservationSweep{Stock: sw, Limit: 500, Log: zaptest.NewLogger(t)}

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 3, sw.calls, "keeps sweeping until a short batch")
}

type fakeCartSweeper struct {
	lines []cart.Line
}

func (f *fakeCartSweeper) SweepStale(_ context.Context, _ time.Time, _ int) ([]cart.Line, error) {
	return f.lines, nil
}

type fakeReleaser struct {
	released []string
	failFor  string
}

func (f *fakeReleaser) Release(_ context.Context, productID, _, _ string, _ int) error {
	if productID == f.failFor {
		return errors.New("release boom")
	}
	f.released = append(f.released, productID)
	return nil
}

func TestStaleCartSweepContinuesPastFailedLine(t *testing.T) {
	carts := &fakeCartSweeper{lines: []cart.Line{
		{UserID: "u1", ProductID: "p1", Qty: 1},
		{UserID: "u1", ProductID: "p2", Qty: 2},
		{UserID: "u2", ProductID: "p3", Qty: 1},
	}}
	rel := &fakeReleaser{failFor: "p2"}
	job := &StaleCartSweep{
		Carts:  carts,
		Stock:  rel,
		MaxAge: 72 * time.Hour,
		Limit:  500,
		Log:    zaptest.NewLogger(t),
	}

	require.NoError(t, job.Run(context.Background()), "one bad line must not abort the batch")
	assert.Equal(t, []string{"p1", "p3"}, rel.released)
}

type fakeMachine struct {
	calls   []string
	rejects map[string]error
}

func (f *fakeMachine) Transition(_ context.Context, orderID string, target orders.Status, _ string, actor orders.Actor) (*orders.Order, error) {
	f.calls = append(f.calls, orderID)
	if err, ok := f.rejects[orderID]; ok {
		return nil, err
	}
	return &orders.Order{ID: orderID, Status: target}, nil
}

type fakeDueSource struct {
	ids []string
}

func (f *fakeDueSource) DueAutoConfirm(_ context.Context, _ time.Time, _ int) ([]string, error) {
	return f.ids, nil
}

func (f *fakeDueSource) DueAutoComplete(_ context.Context, _ time.Time, _ int) ([]string, error) {
	return f.ids, nil
}

func TestAutoConfirmTreatsRejectedEdgeAsDone(t *testing.T) {
	m := &fakeMachine{rejects: map[string]error{
		// o2 was completed (or refund-requested) between listing and acting.
		"o2": &faults.InvalidTransitionError{From: "completed", To: "completed"},
	}}
	job := &AutoConfirm{
		Source:  &fakeDueSource{ids: []string{"o1", "o2", "o3"}},
		Machine: m,
		Limit:   500,
		Log:     zaptest.NewLogger(t),
	}

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []string{"o1", "o2", "o3"}, m.calls)
}

func TestAutoCompleteContinuesPastHardError(t *testing.T) {
	m := &fakeMachine{rejects: map[string]error{"o1": errors.New("db down")}}
	job := &AutoComplete{
		Source:  &fakeDueSource{ids: []string{"o1", "o2"}},
		Machine: m,
		Window:  7 * 24 * time.Hour,
		Limit:   500,
		Log:     zaptest.NewLogger(t),
	}

	require.NoError(t, job.Run(context.Background()), "per-record errors are logged, not returned")
	assert.Equal(t, []string{"o1", "o2"}, m.calls)
}

type fakeDirectory struct {
	online  []string
	offline []string
}

func (f *fakeDirectory) Online(context.Context) ([]string, error) { return f.online, nil }

func (f *fakeDirectory) MarkOffline(_ context.Context, id string) error {
	f.offline = append(f.offline, id)
	return nil
}

type fakePresence struct {
	alive map[string]bool
}

func (f *fakePresence) Alive(_ context.Context, id string) (bool, error) {
	return f.alive[id], nil
}

func TestPresenceTimeoutMarksSilentCouriersOffline(t *testing.T) {
	dir := &fakeDirectory{online: []string{"c1", "c2", "c3"}}
	job := &PresenceTimeout{
		Couriers: dir,
		Presence: &fakePresence{alive: map[string]bool{"c1": true, "c3": true}},
		Log:      zaptest.NewLogger(t),
	}

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []string{"c2"}, dir.offline)
}

type fakeReminderSource struct {
	targets []orders.ReminderTarget
}

func (f *fakeReminderSource) DueReminders(_ context.Context, _ time.Time, _ int) ([]orders.ReminderTarget, error) {
	return f.targets, nil
}

type fakeMarker struct {
	seen map[string]bool
}

func (f *fakeMarker) MarkOnce(_ context.Context, key string) (bool, error) {
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type recordingTrigger struct {
	sent []notify.Notification
}

func (r *recordingTrigger) Notify(_ context.Context, n notify.Notification) {
	r.sent = append(r.sent, n)
}

func TestRemindersFireOncePerOrder(t *testing.T) {
	deadline := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	src := &fakeReminderSource{targets: []orders.ReminderTarget{
		{OrderID: "o1", UserID: "u1", CourierID: "c1", AutoConfirmAt: deadline},
		{OrderID: "o2", UserID: "u2", AutoConfirmAt: deadline},
	}}
	trig := &recordingTrigger{}
	job := &Reminders{
		Source: src,
		Marker: &fakeMarker{seen: map[string]bool{}},
		Notify: trig,
		Lead:   24 * time.Hour,
		Limit:  500,
		Log:    zaptest.NewLogger(t),
	}
	ctx := context.Background()

	require.NoError(t, job.Run(ctx))
	// o1 pings customer and courier, o2 has no courier assigned.
	require.Len(t, trig.sent, 3)
	assert.Equal(t, "u1", trig.sent[0].UserID)
	assert.Equal(t, "c1", trig.sent[1].UserID)
	assert.Equal(t, "u2", trig.sent[2].UserID)
	assert.Equal(t, notify.KindReminder, trig.sent[0].Kind)

	// The marker suppresses a second run inside the same day.
	require.NoError(t, job.Run(ctx))
	assert.Len(t, trig.sent, 3)
}
