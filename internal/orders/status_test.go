package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusConfirmed},
		{StatusPending, StatusCancelled},
		{StatusConfirmed, StatusProcessing},
		{StatusConfirmed, StatusCancelled},
		{StatusProcessing, StatusShipped},
		{StatusProcessing, StatusCancelled},
		{StatusShipped, StatusDeliveredSuccess},
		{StatusShipped, StatusDeliveredFailed},
		{StatusDeliveredSuccess, StatusCompleted},
		{StatusDeliveredSuccess, StatusRefundRequested},
		{StatusDeliveredFailed, StatusReturned},
		{StatusCompleted, StatusRefundRequested},
		{StatusReturned, StatusRefundRequested},
		{StatusRefundRequested, StatusRefunded},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	forbidden := []struct{ from, to Status }{
		{StatusPending, StatusCompleted},
		{StatusPending, StatusShipped},
		{StatusPending, StatusDeliveredSuccess},
		{StatusShipped, StatusCancelled}, // cancellation closes at shipped
		{StatusConfirmed, StatusPending}, // no backwards edges
		{StatusCancelled, StatusConfirmed},
		{StatusRefunded, StatusCompleted},
		{StatusDeliveredFailed, StatusCompleted},
		{StatusCompleted, StatusDeliveredSuccess},
	}
	for _, tc := range forbidden {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be rejected", tc.from, tc.to)
	}
}

func TestKnown(t *testing.T) {
	for s := range validNext {
		assert.True(t, Known(s))
	}
	assert.False(t, Known(Status("paid_cod")))
	assert.False(t, Known(Status("")))
}

func TestRoleMayEnter(t *testing.T) {
	assert.True(t, RoleMayEnter(StatusConfirmed, RoleAdmin))
	assert.False(t, RoleMayEnter(StatusConfirmed, RoleCustomer))
	assert.False(t, RoleMayEnter(StatusConfirmed, RoleCourier))

	// Pickup propagation walks confirmed orders through processing.
	assert.True(t, RoleMayEnter(StatusProcessing, RoleSystem))

	// Delivery outcomes arrive only via propagation.
	assert.True(t, RoleMayEnter(StatusDeliveredSuccess, RoleSystem))
	assert.False(t, RoleMayEnter(StatusDeliveredSuccess, RoleCourier))
	assert.False(t, RoleMayEnter(StatusDeliveredSuccess, RoleAdmin))

	assert.True(t, RoleMayEnter(StatusCompleted, RoleCustomer))
	assert.True(t, RoleMayEnter(StatusCompleted, RoleSystem))
	assert.True(t, RoleMayEnter(StatusRefundRequested, RoleCustomer))
	assert.True(t, RoleMayEnter(StatusRefunded, RoleAdmin))
	assert.False(t, RoleMayEnter(StatusRefunded, RoleCustomer))

	// Couriers never drive order status directly.
	for target := range validNext {
		assert.False(t, RoleMayEnter(target, RoleCourier), "courier must not enter %s", target)
	}
}
