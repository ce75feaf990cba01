package billing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReservation(t *testing.T) {
	t.Run("creates pending reservation", func(t *testing.T) {
		accountID := uuid.New()
		start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

		r, err := NewReservation(accountID, 12, start)

		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, r.ID)
		assert.Equal(t, accountID, r.AccountID)
		assert.Equal(t, int64(12), r.EstimatedMinutes)
		assert.Equal(t, ReservationPending, r.Status)
		assert.True(t, r.IsPending())
		assert.Nil(t, r.SettledAt)
	})

	t.Run("fails with nil account", func(t *testing.T) {
		r, err := NewReservation(uuid.Nil, 1, time.Now())

		assert.Error(t, err)
		assert.Nil(t, r)
	})

	t.Run("fails with negative minutes", func(t *testing.T) {
		r, err := NewReservation(uuid.New(), -3, time.Now())

		assert.ErrorIs(t, err, ErrInvalidMinutes)
		assert.Nil(t, r)
	})
}

func TestReservation_Settle(t *testing.T) {
	t.Run("commit settles once", func(t *testing.T) {
		r, err := NewReservation(uuid.New(), 5, time.Now())
		require.NoError(t, err)

		require.NoError(t, r.Commit(7))
		assert.Equal(t, ReservationCommitted, r.Status)
		assert.Equal(t, int64(7), r.CommittedMinutes)
		assert.NotNil(t, r.SettledAt)

		assert.ErrorIs(t, r.Commit(7), ErrInvalidReservation)
		assert.ErrorIs(t, r.Release(), ErrInvalidReservation)
	})

	t.Run("release settles once", func(t *testing.T) {
		r, err := NewReservation(uuid.New(), 5, time.Now())
		require.NoError(t, err)

		require.NoError(t, r.Release())
		assert.Equal(t, ReservationReleased, r.Status)

		assert.ErrorIs(t, r.Release(), ErrInvalidReservation)
		assert.ErrorIs(t, r.Commit(1), ErrInvalidReservation)
	})
}

func TestReservation_Deltas(t *testing.T) {
	sub := newTestSubscription(t)
	r, err := NewReservation(sub.AccountID, 10, sub.UsagePeriodStart)
	require.NoError(t, err)

	t.Run("same period charges the difference", func(t *testing.T) {
		assert.Equal(t, int64(2), r.SettlementDelta(sub, 12))
		assert.Equal(t, int64(-4), r.SettlementDelta(sub, 6))
		assert.Equal(t, int64(-10), r.ReleaseDelta(sub))
	})

	t.Run("rolled period charges the full amount", func(t *testing.T) {
		rolled := *sub
		rolled.UsagePeriodStart = sub.UsagePeriodStart.AddDate(0, 1, 0)

		assert.Equal(t, int64(12), r.SettlementDelta(&rolled, 12))
		assert.Equal(t, int64(0), r.ReleaseDelta(&rolled))
	})
}

func TestMinutesFromSeconds(t *testing.T) {
	tests := []struct {
		seconds string
		want    int64
	}{
		{"0", 0},
		{"-5", 0},
		{"0.4", 1},
		{"60", 1},
		{"60.01", 2},
		{"125.5", 3},
		{"3600", 60},
	}

	for _, tt := range tests {
		t.Run(tt.seconds, func(t *testing.T) {
			assert.Equal(t, tt.want, MinutesFromSeconds(decimal.RequireFromString(tt.seconds)))
		})
	}
}

func TestNewUsageEvent(t *testing.T) {
	sub := newTestSubscription(t)
	r, err := NewReservation(sub.AccountID, 3, sub.UsagePeriodStart)
	require.NoError(t, err)
	transcriptionID := uuid.New()

	e, err := NewUsageEvent(r, sub, transcriptionID, 3, decimal.RequireFromString("150.2"), time.Now())

	require.NoError(t, err)
	assert.Equal(t, r.AccountID, e.AccountID)
	assert.Equal(t, r.ID, e.ReservationID)
	assert.Equal(t, transcriptionID, e.TranscriptionID)
	assert.Equal(t, int64(3), e.DurationMinutes)
	assert.Equal(t, sub.UsagePeriodStart, e.UsagePeriodStart)
	assert.Equal(t, int64(3), SumMinutes([]*UsageEvent{e}))

	_, err = NewUsageEvent(nil, sub, transcriptionID, 3, decimal.Zero, time.Now())
	assert.ErrorIs(t, err, ErrInvalidReservation)
}
