package booking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPendingPayment, StatusConfirmed, true},
		{StatusPendingPayment, StatusCheckedIn, false},
		{StatusConfirmed, StatusCheckedIn, true},
		{StatusConfirmed, StatusNoShow, true},
		{StatusConfirmed, StatusCompleted, false},
		{StatusCheckedIn, StatusInSession, true},
		{StatusInSession, StatusCompleted, true},
		{StatusInSession, StatusCancelled, false},
		{StatusCompleted, StatusConfirmed, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusNoShow, StatusCheckedIn, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusNoShow} {
		assert.True(t, s.Terminal(), s)
		for _, to := range []Status{StatusPendingPayment, StatusConfirmed, StatusCheckedIn, StatusInSession, StatusCompleted, StatusCancelled, StatusNoShow} {
			assert.False(t, CanTransition(s, to), "%s -> %s", s, to)
		}
	}
	assert.False(t, StatusConfirmed.Terminal())
}

func TestCancellable(t *testing.T) {
	assert.True(t, Cancellable(StatusPendingPayment, false))
	assert.True(t, Cancellable(StatusConfirmed, false))
	assert.True(t, Cancellable(StatusCheckedIn, false))
	assert.False(t, Cancellable(StatusInSession, false))
	assert.True(t, Cancellable(StatusInSession, true))
	assert.False(t, Cancellable(StatusCompleted, true))
	assert.False(t, Cancellable(StatusCancelled, true))
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusInSession.Valid())
	assert.False(t, Status("archived").Valid())
	assert.True(t, StatusNoShow.Significant())
	assert.False(t, StatusConfirmed.Significant())
}
