package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	appbilling "github.com/transcribe/backend/internal/application/billing"
	"github.com/transcribe/backend/internal/domain/billing"
)

// SubscriptionResponse is the account's subscription as returned by the API
type SubscriptionResponse struct {
	PlanName          string     `json:"plan_name"`
	Status            string     `json:"status"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	PeriodStart       *time.Time `json:"period_start,omitempty"`
	PeriodEnd         *time.Time `json:"period_end,omitempty"`
	QuotaLimitMinutes int64      `json:"quota_limit_minutes"`
	QuotaUsedMinutes  int64      `json:"quota_used_minutes"`
	RemainingMinutes  int64      `json:"remaining_minutes"`
	UsagePeriodStart  time.Time  `json:"usage_period_start"`
	UsagePeriodEnd    time.Time  `json:"usage_period_end"`
	HasProviderPlan   bool       `json:"has_provider_subscription"`
}

func toSubscriptionResponse(s *billing.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		PlanName:          s.PlanName.String(),
		Status:            s.Status.String(),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		PeriodStart:       s.PeriodStart,
		PeriodEnd:         s.PeriodEnd,
		QuotaLimitMinutes: s.QuotaLimitMinutes,
		QuotaUsedMinutes:  s.QuotaUsedMinutes,
		RemainingMinutes:  s.RemainingMinutes(),
		UsagePeriodStart:  s.UsagePeriodStart,
		UsagePeriodEnd:    s.UsagePeriodEnd(),
		HasProviderPlan:   s.HasProviderSubscription(),
	}
}

// CheckoutRequest selects the paid plan to buy
type CheckoutRequest struct {
	Plan string `json:"plan" binding:"required,oneof=professional enterprise"`
}

// UsageEventResponse is one committed charge
type UsageEventResponse struct {
	ID              uuid.UUID       `json:"id"`
	TranscriptionID uuid.UUID       `json:"transcription_id"`
	DurationMinutes int64           `json:"duration_minutes"`
	DurationSeconds decimal.Decimal `json:"duration_seconds"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// UsageResponse is the consumption of the current usage period
type UsageResponse struct {
	PlanName         string               `json:"plan_name"`
	PeriodStart      time.Time            `json:"period_start"`
	PeriodEnd        time.Time            `json:"period_end"`
	UsedMinutes      int64                `json:"used_minutes"`
	LimitMinutes     int64                `json:"limit_minutes"`
	RemainingMinutes int64                `json:"remaining_minutes"`
	Events           []UsageEventResponse `json:"events"`
}

func toUsageResponse(u *appbilling.UsageSummary) UsageResponse {
	events := make([]UsageEventResponse, 0, len(u.Events))
	for _, e := range u.Events {
		events = append(events, UsageEventResponse{
			ID:              e.ID,
			TranscriptionID: e.TranscriptionID,
			DurationMinutes: e.DurationMinutes,
			DurationSeconds: e.DurationSeconds,
			OccurredAt:      e.OccurredAt,
		})
	}
	return UsageResponse{
		PlanName:         u.Subscription.PlanName.String(),
		PeriodStart:      u.PeriodStart,
		PeriodEnd:        u.PeriodEnd,
		UsedMinutes:      u.UsedMinutes,
		LimitMinutes:     u.LimitMinutes,
		RemainingMinutes: u.RemainingMinutes,
		Events:           events,
	}
}
