package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/transcribe/backend/internal/domain/billing"
	"github.com/transcribe/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Outcome is how a metered operation ended
type Outcome int

const (
	// OutcomeSucceeded commits the actual usage
	OutcomeSucceeded Outcome = iota
	// OutcomeFailed releases the reservation; timeouts count as failures
	OutcomeFailed
)

// String returns the string representation of Outcome
func (o Outcome) String() string {
	if o == OutcomeSucceeded {
		return "succeeded"
	}
	return "failed"
}

// QuotaEnforcer wraps metered operations in a reserve-then-settle protocol
type QuotaEnforcer struct {
	ledger        *Ledger
	logger        *zap.Logger
	settleTimeout time.Duration
}

// QuotaEnforcerConfig contains configuration for QuotaEnforcer
type QuotaEnforcerConfig struct {
	// SettleTimeout bounds settlement work that runs after the caller's
	// context is gone
	SettleTimeout time.Duration
}

// DefaultQuotaEnforcerConfig returns default configuration
func DefaultQuotaEnforcerConfig() QuotaEnforcerConfig {
	return QuotaEnforcerConfig{
		SettleTimeout: 10 * time.Second,
	}
}

// NewQuotaEnforcer creates a new QuotaEnforcer
func NewQuotaEnforcer(ledger *Ledger, logger *zap.Logger, cfg QuotaEnforcerConfig) *QuotaEnforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = DefaultQuotaEnforcerConfig().SettleTimeout
	}
	return &QuotaEnforcer{
		ledger:        ledger,
		logger:        logger,
		settleTimeout: cfg.SettleTimeout,
	}
}

// Authorize reserves the estimated minutes before a metered operation.
// Fails with a QuotaExceededError when the estimate does not fit.
func (e *QuotaEnforcer) Authorize(ctx context.Context, accountID uuid.UUID, estimatedMinutes int64) (*billing.Reservation, error) {
	r, err := e.ledger.ReserveUsage(ctx, accountID, estimatedMinutes)
	if err != nil {
		var qe *billing.QuotaExceededError
		if errors.As(err, &qe) {
			e.logger.Info("Quota exceeded",
				zap.String("account_id", accountID.String()),
				zap.Int64("requested_minutes", qe.Requested),
				zap.Int64("used_minutes", qe.Used),
				zap.Int64("limit_minutes", qe.Limit))
		}
		return nil, err
	}

	e.logger.Debug("Quota authorized",
		zap.String("account_id", accountID.String()),
		zap.String("reservation_id", r.ID.String()),
		zap.Int64("estimated_minutes", estimatedMinutes))
	return r, nil
}

// Finalize settles a reservation: success commits the actual usage, failure
// releases the estimate. Settlement runs on a context detached from ctx's
// cancellation so an abandoned request still settles.
func (e *QuotaEnforcer) Finalize(ctx context.Context, r *billing.Reservation, usage Usage, outcome Outcome) (*Settlement, error) {
	settleCtx, cancel := e.detached(ctx)
	defer cancel()

	if outcome != OutcomeSucceeded {
		return e.ledger.ReleaseReservation(settleCtx, r)
	}

	settlement, err := e.ledger.CommitUsage(settleCtx, r, usage)
	if err != nil {
		return nil, err
	}
	if settlement.Overage {
		e.logger.Warn("Usage committed beyond the plan limit",
			zap.String("account_id", r.AccountID.String()),
			zap.String("reservation_id", r.ID.String()),
			zap.Int64("estimated_minutes", r.EstimatedMinutes),
			zap.Int64("actual_minutes", usage.Minutes),
			zap.Int64("quota_used_minutes", settlement.Subscription.QuotaUsedMinutes),
			zap.Int64("quota_limit_minutes", settlement.Subscription.QuotaLimitMinutes))
	}
	return settlement, nil
}

// MeteredFunc performs the metered work and reports what it consumed
type MeteredFunc func(ctx context.Context) (Usage, error)

// Run authorizes estimatedMinutes, runs op and settles the reservation from
// op's result. An op error or panic releases the reservation; the op error is
// returned unchanged.
func (e *QuotaEnforcer) Run(
	ctx context.Context,
	accountID uuid.UUID,
	estimatedMinutes int64,
	op MeteredFunc,
) (*Settlement, error) {
	r, err := e.Authorize(ctx, accountID, estimatedMinutes)
	if err != nil {
		return nil, err
	}

	settled := false
	defer func() {
		if settled {
			return
		}
		if p := recover(); p != nil {
			e.releaseQuietly(ctx, r, fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()

	usage, opErr := op(ctx)
	if opErr == nil && ctx.Err() != nil {
		opErr = ctx.Err()
	}
	if opErr != nil {
		settled = true
		e.releaseQuietly(ctx, r, opErr)
		return nil, opErr
	}

	settled = true
	return e.Finalize(ctx, r, usage, OutcomeSucceeded)
}

func (e *QuotaEnforcer) releaseQuietly(ctx context.Context, r *billing.Reservation, cause error) {
	if _, err := e.Finalize(ctx, r, Usage{}, OutcomeFailed); err != nil {
		e.logger.Error("Failed to release reservation",
			zap.String("account_id", r.AccountID.String()),
			zap.String("reservation_id", r.ID.String()),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}
	e.logger.Info("Released reservation",
		zap.String("account_id", r.AccountID.String()),
		zap.String("reservation_id", r.ID.String()),
		zap.String("outcome", telemetry.OutcomeReleased),
		zap.NamedError("cause", cause))
}

func (e *QuotaEnforcer) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.settleTimeout)
}
