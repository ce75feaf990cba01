package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/transcribe/backend/internal/domain/billing"
	"github.com/transcribe/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// auditAttempts bounds re-reads when the subscription moves during an audit
const auditAttempts = 3

// AuditReport compares an account's running quota counter with the usage
// recorded for the same period
type AuditReport struct {
	AccountID        uuid.UUID `json:"account_id"`
	UsagePeriodStart time.Time `json:"usage_period_start"`
	QuotaUsedMinutes int64     `json:"quota_used_minutes"`
	EventMinutes     int64     `json:"event_minutes"`
	PendingMinutes   int64     `json:"pending_minutes"`
	Drift            int64     `json:"drift"`
}

// Consistent returns true if the counter matches the recorded usage
func (r *AuditReport) Consistent() bool {
	return r.Drift == 0
}

// UsageAuditor checks that quotaUsedMinutes equals the committed usage
// events plus the pending reservations of the current usage period
type UsageAuditor struct {
	store  billing.LedgerStore
	logger *zap.Logger
}

// NewUsageAuditor creates a new UsageAuditor
func NewUsageAuditor(store billing.LedgerStore, logger *zap.Logger) *UsageAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UsageAuditor{store: store, logger: logger}
}

// AuditAccount audits a single account
func (a *UsageAuditor) AuditAccount(ctx context.Context, accountID uuid.UUID) (*AuditReport, error) {
	var report *AuditReport
	for attempt := 0; attempt < auditAttempts; attempt++ {
		sub, err := a.store.FindSubscription(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("failed to load subscription: %w", err)
		}
		report, err = a.audit(ctx, sub)
		if err != nil {
			return nil, err
		}

		after, err := a.store.FindSubscription(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("failed to load subscription: %w", err)
		}
		if after.Version == sub.Version {
			break
		}
	}

	if !report.Consistent() {
		a.logger.Warn("Usage drift detected",
			zap.String("account_id", accountID.String()),
			zap.Int64("quota_used_minutes", report.QuotaUsedMinutes),
			zap.Int64("event_minutes", report.EventMinutes),
			zap.Int64("pending_minutes", report.PendingMinutes),
			zap.Int64("drift", report.Drift))
	}
	return report, nil
}

// AuditAll audits every account and returns the reports, inconsistent or not
func (a *UsageAuditor) AuditAll(ctx context.Context) ([]*AuditReport, error) {
	var reports []*AuditReport
	page := shared.DefaultPage()
	for {
		subs, err := a.store.ListSubscriptions(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		for _, sub := range subs {
			report, err := a.AuditAccount(ctx, sub.AccountID)
			if err != nil {
				return nil, err
			}
			reports = append(reports, report)
		}
		if len(subs) < page.Limit {
			return reports, nil
		}
		page.Skip += page.Limit
	}
}

func (a *UsageAuditor) audit(ctx context.Context, sub *billing.Subscription) (*AuditReport, error) {
	events, err := a.store.ListUsageEvents(ctx, sub.AccountID, sub.UsagePeriodStart)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage events: %w", err)
	}
	pending, err := a.store.ListPendingReservations(ctx, sub.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}

	var pendingMinutes int64
	for _, r := range pending {
		if r.UsagePeriodStart.Equal(sub.UsagePeriodStart) {
			pendingMinutes += r.EstimatedMinutes
		}
	}

	eventMinutes := billing.SumMinutes(events)
	return &AuditReport{
		AccountID:        sub.AccountID,
		UsagePeriodStart: sub.UsagePeriodStart,
		QuotaUsedMinutes: sub.QuotaUsedMinutes,
		EventMinutes:     eventMinutes,
		PendingMinutes:   pendingMinutes,
		Drift:            sub.QuotaUsedMinutes - eventMinutes - pendingMinutes,
	}, nil
}
