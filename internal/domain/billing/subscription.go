package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/transcribe/backend/internal/domain/shared"
)

// SubscriptionStatus represents the billing status of a subscription
type SubscriptionStatus string

const (
	// StatusIncomplete means checkout started but the provider has not confirmed payment
	StatusIncomplete SubscriptionStatus = "incomplete"

	// StatusActive means the subscription is in good standing
	StatusActive SubscriptionStatus = "active"

	// StatusPastDue means the latest invoice payment failed
	StatusPastDue SubscriptionStatus = "past_due"

	// StatusCanceled means the subscription has been canceled at the provider
	StatusCanceled SubscriptionStatus = "canceled"
)

// String returns the string representation of SubscriptionStatus
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is valid
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case StatusIncomplete, StatusActive, StatusPastDue, StatusCanceled:
		return true
	}
	return false
}

// progress orders statuses along the subscription lifecycle
func (s SubscriptionStatus) progress() int {
	switch s {
	case StatusIncomplete:
		return 0
	case StatusActive, StatusPastDue:
		return 1
	case StatusCanceled:
		return 2
	}
	return -1
}

// ApplyOutcome reports what ApplyProviderUpdate did
type ApplyOutcome string

const (
	// ApplyOutcomeApplied means the update was written
	ApplyOutcomeApplied ApplyOutcome = "applied"

	// ApplyOutcomeStale means the update was older than the stored provider state and was dropped
	ApplyOutcomeStale ApplyOutcome = "stale"
)

// Subscription is the ledger entry of an account.
//
// UsagePeriodStart marks the window QuotaUsedMinutes is counted over. For
// subscriptions managed by the billing provider it follows PeriodStart; for
// the free plan it is the first day of the calendar month.
//
// ProviderStateAt is the timestamp of the newest provider event applied and is
// the reference for the monotonic-write rule. It is independent of UpdatedAt,
// which also moves on quota writes.
type Subscription struct {
	shared.BaseAggregateRoot
	AccountID              uuid.UUID
	PlanName               PlanName
	Status                 SubscriptionStatus
	ProviderCustomerID     string
	ProviderSubscriptionID string
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
	CancelAtPeriodEnd      bool
	QuotaLimitMinutes      int64
	QuotaUsedMinutes       int64
	UsagePeriodStart       time.Time
	ProviderStateAt        time.Time
	LimitReviewRequired    bool
}

// NewSubscription creates a starter subscription with the given status
func NewSubscription(accountID uuid.UUID, status SubscriptionStatus, now time.Time) (*Subscription, error) {
	if accountID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ACCOUNT", "Account ID cannot be empty")
	}
	if !status.IsValid() {
		return nil, shared.NewDomainError("INVALID_STATUS", "Invalid subscription status")
	}

	return &Subscription{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		AccountID:         accountID,
		PlanName:          PlanStarter,
		Status:            status,
		QuotaLimitMinutes: DefaultQuotaMinutes,
		QuotaUsedMinutes:  0,
		UsagePeriodStart:  MonthStart(now),
	}, nil
}

// NewDefaultSubscription creates the free subscription an account gets when it
// first touches billing: starter plan, active, 60 minutes.
func NewDefaultSubscription(accountID uuid.UUID, now time.Time) (*Subscription, error) {
	return NewSubscription(accountID, StatusActive, now)
}

// MonthStart returns midnight UTC of the first day of t's month
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// HasProviderSubscription returns true once the provider has created a subscription
func (s *Subscription) HasProviderSubscription() bool {
	return s.ProviderSubscriptionID != ""
}

// RemainingMinutes returns the unused quota, never negative
func (s *Subscription) RemainingMinutes() int64 {
	if s.QuotaUsedMinutes >= s.QuotaLimitMinutes {
		return 0
	}
	return s.QuotaLimitMinutes - s.QuotaUsedMinutes
}

// UsagePeriodEnd returns the end of the window QuotaUsedMinutes is counted over
func (s *Subscription) UsagePeriodEnd() time.Time {
	if s.PeriodEnd != nil && s.PeriodEnd.After(s.UsagePeriodStart) {
		return s.PeriodEnd.UTC()
	}
	return MonthStart(s.UsagePeriodStart).AddDate(0, 1, 0)
}

// providerManagesPeriod is true while the provider is expected to send new periods
func (s *Subscription) providerManagesPeriod() bool {
	return s.PeriodEnd != nil && s.Status != StatusCanceled
}

// CanReserve checks whether minutes fit in the remaining quota
func (s *Subscription) CanReserve(minutes int64) error {
	if minutes < 0 {
		return ErrInvalidMinutes
	}
	if s.QuotaUsedMinutes+minutes > s.QuotaLimitMinutes {
		return &QuotaExceededError{
			Requested: minutes,
			Used:      s.QuotaUsedMinutes,
			Limit:     s.QuotaLimitMinutes,
		}
	}
	return nil
}

// Reserve debits minutes from the quota or fails with a QuotaExceededError
func (s *Subscription) Reserve(minutes int64) error {
	if err := s.CanReserve(minutes); err != nil {
		return err
	}
	s.QuotaUsedMinutes += minutes
	return nil
}

// AdjustUsage applies a settlement delta to the used minutes.
// A positive delta is always accepted because the work has already been
// performed; if it pushes usage over the limit the subscription is flagged
// for plan-limit review and true is returned.
func (s *Subscription) AdjustUsage(delta int64) bool {
	s.QuotaUsedMinutes += delta
	if s.QuotaUsedMinutes < 0 {
		s.QuotaUsedMinutes = 0
	}
	if delta > 0 && s.QuotaUsedMinutes > s.QuotaLimitMinutes {
		s.LimitReviewRequired = true
		return true
	}
	return false
}

// RollOverIfDue starts a new usage period when the current one has ended and
// the provider is not expected to announce the next one. A canceled paid plan
// falls back to the starter allotment at that point.
func (s *Subscription) RollOverIfDue(now time.Time, catalog PlanCatalog) bool {
	if s.providerManagesPeriod() {
		return false
	}
	if now.UTC().Before(s.UsagePeriodEnd()) {
		return false
	}
	if s.Status == StatusCanceled && s.PlanName != PlanStarter {
		s.PlanName = PlanStarter
		s.QuotaLimitMinutes = catalog.QuotaMinutes(PlanStarter)
	}
	start := MonthStart(now)
	if s.PeriodEnd != nil && s.PeriodEnd.After(start) {
		// the provider period ended mid-month; count from its end
		start = *s.PeriodEnd
	}
	s.startUsagePeriod(start)
	return true
}

func (s *Subscription) startUsagePeriod(start time.Time) {
	s.UsagePeriodStart = start.UTC()
	s.QuotaUsedMinutes = 0
	s.LimitReviewRequired = false
}

// AttachCustomer links the provider customer created at checkout initiation
func (s *Subscription) AttachCustomer(customerID string) error {
	if customerID == "" {
		return shared.NewDomainError("INVALID_CUSTOMER", "Customer ID cannot be empty")
	}
	if s.ProviderCustomerID != "" && s.ProviderCustomerID != customerID {
		return shared.NewDomainError("CUSTOMER_MISMATCH", "Subscription is already linked to another customer")
	}
	s.ProviderCustomerID = customerID
	return nil
}

// ApplyProviderUpdate writes provider-authoritative fields if eventTime is
// strictly newer than the provider state already applied. Older timestamps
// yield ApplyOutcomeStale and leave the subscription untouched. Provider
// timestamps have second precision, so an equal timestamp is applied only
// when it moves the status forward (incomplete, then active or past_due,
// then canceled).
func (s *Subscription) ApplyProviderUpdate(u ProviderUpdate, eventTime time.Time, catalog PlanCatalog) ApplyOutcome {
	if !eventTime.After(s.ProviderStateAt) && !s.advancesAt(u, eventTime) {
		return ApplyOutcomeStale
	}

	if u.Status != nil && u.Status.IsValid() {
		s.Status = *u.Status
	}
	if u.ProviderSubscriptionID != nil {
		s.ProviderSubscriptionID = *u.ProviderSubscriptionID
	}
	if u.CancelAtPeriodEnd != nil {
		s.CancelAtPeriodEnd = *u.CancelAtPeriodEnd
	}
	if u.PeriodEnd != nil {
		end := u.PeriodEnd.UTC()
		s.PeriodEnd = &end
	}
	if u.PeriodStart != nil {
		start := u.PeriodStart.UTC()
		s.PeriodStart = &start
		if start.After(s.UsagePeriodStart) {
			s.startUsagePeriod(start)
		}
	}
	if u.PlanName != nil && u.PlanName.IsValid() && *u.PlanName != s.PlanName {
		s.PlanName = *u.PlanName
		s.QuotaLimitMinutes = catalog.QuotaMinutes(s.PlanName)
		s.LimitReviewRequired = s.QuotaUsedMinutes > s.QuotaLimitMinutes
	}

	s.ProviderStateAt = eventTime.UTC()
	return ApplyOutcomeApplied
}

// ProviderUpdate carries the provider-authoritative fields of one event.
// Nil fields are left unchanged.
type ProviderUpdate struct {
	Status                 *SubscriptionStatus
	PlanName               *PlanName
	ProviderSubscriptionID *string
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
	CancelAtPeriodEnd      *bool
}

// IsEmpty returns true if the update changes nothing
func (u ProviderUpdate) IsEmpty() bool {
	return u.Status == nil && u.PlanName == nil && u.ProviderSubscriptionID == nil &&
		u.PeriodStart == nil && u.PeriodEnd == nil && u.CancelAtPeriodEnd == nil
}

// advancesAt reports whether an update stamped exactly at the applied
// provider time moves the status forward
func (s *Subscription) advancesAt(u ProviderUpdate, eventTime time.Time) bool {
	if s.ProviderStateAt.IsZero() || !eventTime.Equal(s.ProviderStateAt) {
		return false
	}
	if u.Status == nil || !u.Status.IsValid() {
		return false
	}
	return u.Status.progress() > s.Status.progress()
}
