package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transcribe/backend/internal/domain/billing"
	"github.com/transcribe/backend/internal/domain/shared"
	"github.com/transcribe/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Ledger is the system of record for subscription state and quota usage.
// Every read-modify-write goes through the store's per-account lock.
type Ledger struct {
	store   billing.LedgerStore
	catalog billing.PlanCatalog
	clock   func() time.Time
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// LedgerConfig contains dependencies for Ledger
type LedgerConfig struct {
	Store   billing.LedgerStore
	Catalog billing.PlanCatalog
	Clock   func() time.Time
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// NewLedger creates a new Ledger
func NewLedger(cfg LedgerConfig) *Ledger {
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = billing.DefaultPlanCatalog()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:   cfg.Store,
		catalog: catalog,
		clock:   clock,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// Catalog returns the plan catalog the ledger assigns limits from
func (l *Ledger) Catalog() billing.PlanCatalog {
	return l.catalog
}

// Usage is the actual consumption reported when a reservation is committed
type Usage struct {
	Minutes         int64
	Seconds         decimal.Decimal
	TranscriptionID uuid.UUID
}

// Settlement is the result of committing or releasing a reservation
type Settlement struct {
	Reservation  *billing.Reservation
	Subscription *billing.Subscription
	Event        *billing.UsageEvent // nil when released
	Overage      bool
}

func (l *Ledger) now() time.Time {
	return l.clock().UTC()
}

// GetOrCreate returns the account's subscription, creating the free starter
// subscription on first access
func (l *Ledger) GetOrCreate(ctx context.Context, accountID uuid.UUID) (*billing.Subscription, error) {
	sub, err := l.store.FindSubscription(ctx, accountID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	sub, err = billing.NewDefaultSubscription(accountID, l.now())
	if err != nil {
		return nil, err
	}
	sub.QuotaLimitMinutes = l.catalog.QuotaMinutes(billing.PlanStarter)

	stored, err := l.store.CreateSubscriptionIfAbsent(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	if stored.ID == sub.ID {
		l.logger.Info("Created default subscription",
			zap.String("account_id", accountID.String()),
			zap.String("plan", stored.PlanName.String()))
	}
	return stored, nil
}

// Current returns the account's subscription with the usage period rolled
// over if it has ended
func (l *Ledger) Current(ctx context.Context, accountID uuid.UUID) (*billing.Subscription, error) {
	sub, err := l.GetOrCreate(ctx, accountID)
	if err != nil {
		return nil, err
	}

	probe := *sub
	if !probe.RollOverIfDue(l.now(), l.catalog) {
		return sub, nil
	}

	err = l.store.WithAccountLock(ctx, accountID, func(tx billing.LedgerTx) error {
		locked, err := tx.Subscription(ctx)
		if err != nil {
			return err
		}
		if locked.RollOverIfDue(l.now(), l.catalog) {
			if err := tx.SaveSubscription(ctx, locked); err != nil {
				return err
			}
			l.logRollover(locked)
		}
		sub = locked
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to roll over usage period: %w", err)
	}
	return sub, nil
}

// ApplyProviderUpdate writes provider-authoritative fields under the
// monotonic-write rule. A stale update is reported through the outcome, not
// as an error.
func (l *Ledger) ApplyProviderUpdate(
	ctx context.Context,
	accountID uuid.UUID,
	update billing.ProviderUpdate,
	eventTime time.Time,
) (billing.ApplyOutcome, *billing.Subscription, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "apply_provider_update",
		telemetry.SpanAttrAccountID, accountID.String())
	defer span.End()

	if _, err := l.GetOrCreate(ctx, accountID); err != nil {
		telemetry.RecordError(span, err)
		return "", nil, err
	}

	var (
		outcome billing.ApplyOutcome
		result  *billing.Subscription
	)
	err := l.store.WithAccountLock(ctx, accountID, func(tx billing.LedgerTx) error {
		sub, err := tx.Subscription(ctx)
		if err != nil {
			return err
		}
		outcome = sub.ApplyProviderUpdate(update, eventTime, l.catalog)
		result = sub
		if outcome != billing.ApplyOutcomeApplied {
			return nil
		}
		return tx.SaveSubscription(ctx, sub)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return "", nil, fmt.Errorf("failed to apply provider update: %w", err)
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrOutcome, string(outcome))

	if outcome == billing.ApplyOutcomeStale {
		l.logger.Info("Dropped stale provider update",
			zap.String("account_id", accountID.String()),
			zap.Time("event_time", eventTime),
			zap.Time("provider_state_at", result.ProviderStateAt))
		return outcome, result, nil
	}

	l.logger.Info("Applied provider update",
		zap.String("account_id", accountID.String()),
		zap.String("status", result.Status.String()),
		zap.String("plan", result.PlanName.String()),
		zap.Int64("quota_limit_minutes", result.QuotaLimitMinutes),
		zap.Int64("quota_used_minutes", result.QuotaUsedMinutes))
	if result.LimitReviewRequired {
		l.logger.Warn("Usage exceeds the plan limit after provider update",
			zap.String("account_id", accountID.String()),
			zap.Int64("quota_limit_minutes", result.QuotaLimitMinutes),
			zap.Int64("quota_used_minutes", result.QuotaUsedMinutes))
	}
	return outcome, result, nil
}

// ReserveUsage debits minutes from the account's quota and records a pending
// reservation. Fails with a QuotaExceededError when the debit would exceed
// the limit.
func (l *Ledger) ReserveUsage(ctx context.Context, accountID uuid.UUID, minutes int64) (*billing.Reservation, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "reserve_usage",
		telemetry.SpanAttrAccountID, accountID.String(),
		telemetry.SpanAttrMinutes, minutes)
	defer span.End()

	if minutes < 0 {
		return nil, billing.ErrInvalidMinutes
	}
	if _, err := l.GetOrCreate(ctx, accountID); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var (
		reservation *billing.Reservation
		denied      error
	)
	err := l.store.WithAccountLock(ctx, accountID, func(tx billing.LedgerTx) error {
		sub, err := tx.Subscription(ctx)
		if err != nil {
			return err
		}
		rolled := sub.RollOverIfDue(l.now(), l.catalog)
		if rolled {
			l.logRollover(sub)
		}

		if err := sub.Reserve(minutes); err != nil {
			denied = err
			if rolled {
				return tx.SaveSubscription(ctx, sub)
			}
			return nil
		}

		r, err := billing.NewReservation(accountID, minutes, sub.UsagePeriodStart)
		if err != nil {
			return err
		}
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		if err := tx.SaveReservation(ctx, r); err != nil {
			return err
		}
		reservation = r
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to reserve usage: %w", err)
	}
	if denied != nil {
		telemetry.SetAttributes(span, telemetry.SpanAttrOutcome, telemetry.OutcomeExceeded)
		l.metrics.QuotaDecision(telemetry.OutcomeExceeded, minutes)
		return nil, denied
	}

	telemetry.SetAttributes(span,
		telemetry.SpanAttrOutcome, telemetry.OutcomeGranted,
		telemetry.SpanAttrReservationID, reservation.ID.String())
	l.metrics.QuotaDecision(telemetry.OutcomeGranted, minutes)
	return reservation, nil
}

// CommitUsage settles a pending reservation with the actual consumption and
// appends a usage event. Usage beyond the limit is accepted and reported as
// overage.
func (l *Ledger) CommitUsage(ctx context.Context, reservation *billing.Reservation, usage Usage) (*Settlement, error) {
	if reservation == nil {
		return nil, billing.ErrInvalidReservation
	}
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "commit_usage",
		telemetry.SpanAttrAccountID, reservation.AccountID.String(),
		telemetry.SpanAttrReservationID, reservation.ID.String(),
		telemetry.SpanAttrMinutes, usage.Minutes)
	defer span.End()

	if usage.Minutes < 0 {
		return nil, billing.ErrInvalidMinutes
	}

	var settlement *Settlement
	err := l.store.WithAccountLock(ctx, reservation.AccountID, func(tx billing.LedgerTx) error {
		stored, sub, err := l.lockedReservation(ctx, tx, reservation.ID)
		if err != nil {
			return err
		}

		delta := stored.SettlementDelta(sub, usage.Minutes)
		overage := sub.AdjustUsage(delta)
		if err := stored.Commit(usage.Minutes); err != nil {
			return err
		}
		event, err := billing.NewUsageEvent(stored, sub, usage.TranscriptionID, usage.Minutes, usage.Seconds, l.now())
		if err != nil {
			return err
		}

		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		if err := tx.SaveReservation(ctx, stored); err != nil {
			return err
		}
		if err := tx.AppendUsageEvent(ctx, event); err != nil {
			return err
		}
		settlement = &Settlement{Reservation: stored, Subscription: sub, Event: event, Overage: overage}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		l.logSettlementError("commit", reservation, err)
		return nil, l.wrapSettlementError("commit", err)
	}

	outcome := telemetry.OutcomeCommitted
	if settlement.Overage {
		outcome = telemetry.OutcomeOverage
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrOutcome, outcome)
	l.metrics.Settlement(outcome)
	return settlement, nil
}

// ReleaseReservation rolls a pending reservation back, returning its
// estimate to the quota
func (l *Ledger) ReleaseReservation(ctx context.Context, reservation *billing.Reservation) (*Settlement, error) {
	if reservation == nil {
		return nil, billing.ErrInvalidReservation
	}
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "release_reservation",
		telemetry.SpanAttrAccountID, reservation.AccountID.String(),
		telemetry.SpanAttrReservationID, reservation.ID.String())
	defer span.End()

	var settlement *Settlement
	err := l.store.WithAccountLock(ctx, reservation.AccountID, func(tx billing.LedgerTx) error {
		stored, sub, err := l.lockedReservation(ctx, tx, reservation.ID)
		if err != nil {
			return err
		}

		sub.AdjustUsage(stored.ReleaseDelta(sub))
		if err := stored.Release(); err != nil {
			return err
		}
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		if err := tx.SaveReservation(ctx, stored); err != nil {
			return err
		}
		settlement = &Settlement{Reservation: stored, Subscription: sub}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		l.logSettlementError("release", reservation, err)
		return nil, l.wrapSettlementError("release", err)
	}

	telemetry.SetAttributes(span, telemetry.SpanAttrOutcome, telemetry.OutcomeReleased)
	l.metrics.Settlement(telemetry.OutcomeReleased)
	return settlement, nil
}

// AttachCustomer links a billing-provider customer to the account and
// records it in the directory index. The subscription is created as
// incomplete if the account has none yet.
func (l *Ledger) AttachCustomer(ctx context.Context, accountID uuid.UUID, customerID string) (*billing.Subscription, error) {
	sub, err := billing.NewSubscription(accountID, billing.StatusIncomplete, l.now())
	if err != nil {
		return nil, err
	}
	sub.QuotaLimitMinutes = l.catalog.QuotaMinutes(billing.PlanStarter)
	if _, err := l.store.CreateSubscriptionIfAbsent(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	var result *billing.Subscription
	err = l.store.WithAccountLock(ctx, accountID, func(tx billing.LedgerTx) error {
		locked, err := tx.Subscription(ctx)
		if err != nil {
			return err
		}
		if locked.ProviderCustomerID == customerID {
			result = locked
			return tx.IndexCustomer(ctx, customerID)
		}
		if err := locked.AttachCustomer(customerID); err != nil {
			return err
		}
		if err := tx.SaveSubscription(ctx, locked); err != nil {
			return err
		}
		result = locked
		return tx.IndexCustomer(ctx, customerID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach customer: %w", err)
	}

	l.logger.Info("Attached billing customer",
		zap.String("account_id", accountID.String()),
		zap.String("customer_id", customerID))
	return result, nil
}

// lockedReservation loads a pending reservation and the subscription it
// belongs to inside a locked unit of work
func (l *Ledger) lockedReservation(
	ctx context.Context,
	tx billing.LedgerTx,
	id uuid.UUID,
) (*billing.Reservation, *billing.Subscription, error) {
	stored, err := tx.Reservation(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil, billing.ErrInvalidReservation
		}
		return nil, nil, err
	}
	if !stored.IsPending() {
		return nil, nil, billing.ErrInvalidReservation
	}
	sub, err := tx.Subscription(ctx)
	if err != nil {
		return nil, nil, err
	}
	return stored, sub, nil
}

func (l *Ledger) wrapSettlementError(op string, err error) error {
	if errors.Is(err, billing.ErrInvalidReservation) {
		return err
	}
	return fmt.Errorf("failed to %s reservation: %w", op, err)
}

func (l *Ledger) logSettlementError(op string, reservation *billing.Reservation, err error) {
	if errors.Is(err, billing.ErrInvalidReservation) {
		l.logger.Error("Settlement of unknown or settled reservation",
			zap.String("op", op),
			zap.String("account_id", reservation.AccountID.String()),
			zap.String("reservation_id", reservation.ID.String()))
		return
	}
	l.logger.Error("Failed to settle reservation",
		zap.String("op", op),
		zap.String("account_id", reservation.AccountID.String()),
		zap.String("reservation_id", reservation.ID.String()),
		zap.Error(err))
}

func (l *Ledger) logRollover(sub *billing.Subscription) {
	l.logger.Info("Started new usage period",
		zap.String("account_id", sub.AccountID.String()),
		zap.String("plan", sub.PlanName.String()),
		zap.Time("usage_period_start", sub.UsagePeriodStart))
}
