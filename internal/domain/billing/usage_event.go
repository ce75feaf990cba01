package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transcribe/backend/internal/domain/shared"
)

var secondsPerMinute = decimal.NewFromInt(60)

// UsageEvent is an immutable record of settled usage.
// Events are append-only; corrections are never written in place.
type UsageEvent struct {
	shared.BaseEntity
	AccountID        uuid.UUID
	TranscriptionID  uuid.UUID
	ReservationID    uuid.UUID
	DurationMinutes  int64
	DurationSeconds  decimal.Decimal // exact duration reported by the provider
	UsagePeriodStart time.Time       // usage period the minutes were charged to
	OccurredAt       time.Time
}

// NewUsageEvent creates a usage event for a committed reservation charged to
// the subscription's current usage period
func NewUsageEvent(
	reservation *Reservation,
	sub *Subscription,
	transcriptionID uuid.UUID,
	durationMinutes int64,
	durationSeconds decimal.Decimal,
	occurredAt time.Time,
) (*UsageEvent, error) {
	if reservation == nil || sub == nil {
		return nil, ErrInvalidReservation
	}
	if durationMinutes < 0 || durationSeconds.IsNegative() {
		return nil, ErrInvalidMinutes
	}

	return &UsageEvent{
		BaseEntity:       shared.NewBaseEntity(),
		AccountID:        reservation.AccountID,
		TranscriptionID:  transcriptionID,
		ReservationID:    reservation.ID,
		DurationMinutes:  durationMinutes,
		DurationSeconds:  durationSeconds,
		UsagePeriodStart: sub.UsagePeriodStart,
		OccurredAt:       occurredAt.UTC(),
	}, nil
}

// MinutesFromSeconds converts a duration to billable minutes, rounding up.
// Any non-zero duration bills at least one minute.
func MinutesFromSeconds(seconds decimal.Decimal) int64 {
	if !seconds.IsPositive() {
		return 0
	}
	return seconds.Div(secondsPerMinute).Ceil().IntPart()
}

// SumMinutes totals the duration of a set of events
func SumMinutes(events []*UsageEvent) int64 {
	var total int64
	for _, e := range events {
		total += e.DurationMinutes
	}
	return total
}
