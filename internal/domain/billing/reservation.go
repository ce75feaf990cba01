package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/transcribe/backend/internal/domain/shared"
)

// ReservationStatus represents the settlement state of a reservation
type ReservationStatus string

const (
	// ReservationPending means the minutes are debited but not settled
	ReservationPending ReservationStatus = "pending"

	// ReservationCommitted means the actual duration has been charged
	ReservationCommitted ReservationStatus = "committed"

	// ReservationReleased means the debit was rolled back
	ReservationReleased ReservationStatus = "released"
)

// String returns the string representation of ReservationStatus
func (s ReservationStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is valid
func (s ReservationStatus) IsValid() bool {
	switch s {
	case ReservationPending, ReservationCommitted, ReservationReleased:
		return true
	}
	return false
}

// Reservation is a provisional quota debit taken before a metered operation.
// Its ID is the token handed to the caller. A reservation is settled exactly
// once, either committed with the actual duration or released.
type Reservation struct {
	shared.BaseEntity
	AccountID        uuid.UUID
	EstimatedMinutes int64
	CommittedMinutes int64
	Status           ReservationStatus
	UsagePeriodStart time.Time // usage period the estimate was debited from
	SettledAt        *time.Time
}

// NewReservation creates a pending reservation
func NewReservation(accountID uuid.UUID, minutes int64, usagePeriodStart time.Time) (*Reservation, error) {
	if accountID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ACCOUNT", "Account ID cannot be empty")
	}
	if minutes < 0 {
		return nil, ErrInvalidMinutes
	}

	return &Reservation{
		BaseEntity:       shared.NewBaseEntity(),
		AccountID:        accountID,
		EstimatedMinutes: minutes,
		Status:           ReservationPending,
		UsagePeriodStart: usagePeriodStart.UTC(),
	}, nil
}

// IsPending returns true if the reservation has not been settled
func (r *Reservation) IsPending() bool {
	return r.Status == ReservationPending
}

// Commit settles the reservation with the actual duration
func (r *Reservation) Commit(actualMinutes int64) error {
	if !r.IsPending() {
		return ErrInvalidReservation
	}
	if actualMinutes < 0 {
		return ErrInvalidMinutes
	}
	now := time.Now().UTC()
	r.Status = ReservationCommitted
	r.CommittedMinutes = actualMinutes
	r.SettledAt = &now
	r.UpdatedAt = now
	return nil
}

// Release rolls the reservation back
func (r *Reservation) Release() error {
	if !r.IsPending() {
		return ErrInvalidReservation
	}
	now := time.Now().UTC()
	r.Status = ReservationReleased
	r.SettledAt = &now
	r.UpdatedAt = now
	return nil
}

// SettlementDelta returns the change to apply to the subscription's used
// minutes when the reservation is settled for actualMinutes. If the usage
// period rolled over since the reservation was taken, the estimate was wiped
// with the old period and the full actual amount is charged to the new one.
func (r *Reservation) SettlementDelta(sub *Subscription, actualMinutes int64) int64 {
	if !r.UsagePeriodStart.Equal(sub.UsagePeriodStart) {
		return actualMinutes
	}
	return actualMinutes - r.EstimatedMinutes
}

// ReleaseDelta returns the change to apply to used minutes on release
func (r *Reservation) ReleaseDelta(sub *Subscription) int64 {
	if !r.UsagePeriodStart.Equal(sub.UsagePeriodStart) {
		return 0
	}
	return -r.EstimatedMinutes
}
