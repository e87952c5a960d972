package orders

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfillment-core/internal/faults"
)

func newRepo(t *testing.T) (*Repo, pgxmock.PgxPoolIface) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &Repo{DB: mock}, mock
}

func TestApplyTransitionBumpsVersion(t *testing.T) {
	r, mock := newRepo(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	o := &Order{ID: "o1", Status: StatusConfirmed, Version: 3, UpdatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders").
		WithArgs("o1", StatusConfirmed, o.AutoConfirmAt, 0, false, o.PaidAt, now, 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO order_status_history").
		WithArgs("o1", StatusConfirmed, "payment verified", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := r.ApplyTransition(context.Background(), o, "payment verified", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, o.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransitionStaleVersionConflicts(t *testing.T) {
	r, mock := newRepo(t)
	o := &Order{ID: "o1", Status: StatusConfirmed, Version: 3}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := r.ApplyTransition(context.Background(), o, "", nil)
	assert.ErrorIs(t, err, faults.ErrConflict)
	assert.Equal(t, 3, o.Version, "version untouched on conflict")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransitionRunsSideEffectInTx(t *testing.T) {
	r, mock := newRepo(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	o := &Order{ID: "o1", Status: StatusConfirmed, Version: 1, UpdatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO order_status_history").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE product_stock").
		WithArgs("p1", "", 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := r.ApplyTransition(context.Background(), o, "", func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(),
			`UPDATE product_stock SET on_hand = on_hand - $3 WHERE product_id=$1 AND variant_id=$2`,
			"p1", "", 2)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUnknownOrder(t *testing.T) {
	r, mock := newRepo(t)

	mock.ExpectQuery("FROM orders").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := r.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestSetCourierUnknownOrder(t *testing.T) {
	r, mock := newRepo(t)

	mock.ExpectExec("UPDATE orders SET courier_id").
		WithArgs("nope", "c1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := r.SetCourier(context.Background(), "nope", "c1")
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestDueAutoConfirm(t *testing.T) {
	r, mock := newRepo(t)
	now := time.Date(2025, 6, 8, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id FROM orders").
		WithArgs(StatusDeliveredSuccess, now, 500).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("o1").AddRow("o2"))

	ids, err := r.DueAutoConfirm(context.Background(), now, 500)
	require.NoError(t, err)
	assert.Equal(t, []string{"o1", "o2"}, ids)
}
