package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transcribe/backend/internal/domain/billing"
)

// SubscriptionModel is the persistence model for the Subscription aggregate.
// Exactly one row exists per account.
type SubscriptionModel struct {
	AggregateModel
	AccountID              uuid.UUID                  `gorm:"type:uuid;not null;uniqueIndex"`
	PlanName               billing.PlanName           `gorm:"type:varchar(50);not null;default:'starter'"`
	Status                 billing.SubscriptionStatus `gorm:"type:varchar(20);not null;default:'active'"`
	ProviderCustomerID     string                     `gorm:"type:varchar(255);index"`
	ProviderSubscriptionID string                     `gorm:"type:varchar(255);index"`
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
	CancelAtPeriodEnd      bool      `gorm:"not null;default:false"`
	QuotaLimitMinutes      int64     `gorm:"not null;default:60"`
	QuotaUsedMinutes       int64     `gorm:"not null;default:0"`
	UsagePeriodStart       time.Time `gorm:"not null"`
	ProviderStateAt        time.Time `gorm:"not null"`
	LimitReviewRequired    bool      `gorm:"not null;default:false"`
}

// TableName returns the table name for GORM
func (SubscriptionModel) TableName() string {
	return "subscriptions"
}

// ToDomain converts the persistence model to a domain Subscription
func (m *SubscriptionModel) ToDomain() *billing.Subscription {
	return &billing.Subscription{
		BaseAggregateRoot:      m.ToDomainAggregateRoot(),
		AccountID:              m.AccountID,
		PlanName:               m.PlanName,
		Status:                 m.Status,
		ProviderCustomerID:     m.ProviderCustomerID,
		ProviderSubscriptionID: m.ProviderSubscriptionID,
		PeriodStart:            utcPtr(m.PeriodStart),
		PeriodEnd:              utcPtr(m.PeriodEnd),
		CancelAtPeriodEnd:      m.CancelAtPeriodEnd,
		QuotaLimitMinutes:      m.QuotaLimitMinutes,
		QuotaUsedMinutes:       m.QuotaUsedMinutes,
		UsagePeriodStart:       m.UsagePeriodStart.UTC(),
		ProviderStateAt:        m.ProviderStateAt.UTC(),
		LimitReviewRequired:    m.LimitReviewRequired,
	}
}

// FromDomain populates the persistence model from a domain Subscription
func (m *SubscriptionModel) FromDomain(s *billing.Subscription) {
	m.FromDomainAggregateRoot(s.BaseAggregateRoot)
	m.AccountID = s.AccountID
	m.PlanName = s.PlanName
	m.Status = s.Status
	m.ProviderCustomerID = s.ProviderCustomerID
	m.ProviderSubscriptionID = s.ProviderSubscriptionID
	m.PeriodStart = utcPtr(s.PeriodStart)
	m.PeriodEnd = utcPtr(s.PeriodEnd)
	m.CancelAtPeriodEnd = s.CancelAtPeriodEnd
	m.QuotaLimitMinutes = s.QuotaLimitMinutes
	m.QuotaUsedMinutes = s.QuotaUsedMinutes
	m.UsagePeriodStart = s.UsagePeriodStart.UTC()
	m.ProviderStateAt = s.ProviderStateAt.UTC()
	m.LimitReviewRequired = s.LimitReviewRequired
}

// SubscriptionModelFromDomain creates a new persistence model from a domain Subscription
func SubscriptionModelFromDomain(s *billing.Subscription) *SubscriptionModel {
	m := &SubscriptionModel{}
	m.FromDomain(s)
	return m
}

// ReservationModel is the persistence model for quota reservations
type ReservationModel struct {
	BaseModel
	AccountID        uuid.UUID                 `gorm:"type:uuid;not null;index:idx_reservations_account_status"`
	EstimatedMinutes int64                     `gorm:"not null"`
	CommittedMinutes int64                     `gorm:"not null;default:0"`
	Status           billing.ReservationStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_reservations_account_status"`
	UsagePeriodStart time.Time                 `gorm:"not null"`
	SettledAt        *time.Time
}

// TableName returns the table name for GORM
func (ReservationModel) TableName() string {
	return "reservations"
}

// ToDomain converts the persistence model to a domain Reservation
func (m *ReservationModel) ToDomain() *billing.Reservation {
	return &billing.Reservation{
		BaseEntity:       m.BaseModel.ToDomain(),
		AccountID:        m.AccountID,
		EstimatedMinutes: m.EstimatedMinutes,
		CommittedMinutes: m.CommittedMinutes,
		Status:           m.Status,
		UsagePeriodStart: m.UsagePeriodStart.UTC(),
		SettledAt:        utcPtr(m.SettledAt),
	}
}

// ReservationModelFromDomain creates a persistence model from a domain Reservation
func ReservationModelFromDomain(r *billing.Reservation) *ReservationModel {
	m := &ReservationModel{
		AccountID:        r.AccountID,
		EstimatedMinutes: r.EstimatedMinutes,
		CommittedMinutes: r.CommittedMinutes,
		Status:           r.Status,
		UsagePeriodStart: r.UsagePeriodStart.UTC(),
		SettledAt:        utcPtr(r.SettledAt),
	}
	m.FromDomainBaseEntity(r.BaseEntity)
	return m
}

// UsageEventModel is the persistence model for the append-only usage log
type UsageEventModel struct {
	BaseModel
	AccountID        uuid.UUID       `gorm:"type:uuid;not null;index:idx_usage_events_account_period"`
	TranscriptionID  uuid.UUID       `gorm:"type:uuid;index"`
	ReservationID    uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex"`
	DurationMinutes  int64           `gorm:"not null"`
	DurationSeconds  decimal.Decimal `gorm:"type:decimal(12,3);not null"`
	UsagePeriodStart time.Time       `gorm:"not null;index:idx_usage_events_account_period"`
	OccurredAt       time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (UsageEventModel) TableName() string {
	return "usage_events"
}

// ToDomain converts the persistence model to a domain UsageEvent
func (m *UsageEventModel) ToDomain() *billing.UsageEvent {
	return &billing.UsageEvent{
		BaseEntity:       m.BaseModel.ToDomain(),
		AccountID:        m.AccountID,
		TranscriptionID:  m.TranscriptionID,
		ReservationID:    m.ReservationID,
		DurationMinutes:  m.DurationMinutes,
		DurationSeconds:  m.DurationSeconds,
		UsagePeriodStart: m.UsagePeriodStart.UTC(),
		OccurredAt:       m.OccurredAt.UTC(),
	}
}

// UsageEventModelFromDomain creates a persistence model from a domain UsageEvent
func UsageEventModelFromDomain(e *billing.UsageEvent) *UsageEventModel {
	m := &UsageEventModel{
		AccountID:        e.AccountID,
		TranscriptionID:  e.TranscriptionID,
		ReservationID:    e.ReservationID,
		DurationMinutes:  e.DurationMinutes,
		DurationSeconds:  e.DurationSeconds,
		UsagePeriodStart: e.UsagePeriodStart.UTC(),
		OccurredAt:       e.OccurredAt.UTC(),
	}
	m.FromDomainBaseEntity(e.BaseEntity)
	return m
}

// ProviderCustomerModel indexes billing-provider customers to accounts
type ProviderCustomerModel struct {
	CustomerID string    `gorm:"type:varchar(255);primaryKey"`
	AccountID  uuid.UUID `gorm:"type:uuid;not null;index"`
	CreatedAt  time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ProviderCustomerModel) TableName() string {
	return "provider_customers"
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
