package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/transcribe/backend/internal/domain/billing"
	"github.com/transcribe/backend/internal/domain/shared"
	"github.com/transcribe/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// EventDecoder verifies a webhook delivery and decodes it into a provider
// event. It returns billing.ErrInvalidSignature when verification fails and
// billing.ErrMalformedEvent when a verified payload cannot be decoded.
type EventDecoder interface {
	Decode(payload []byte, signature string) (billing.ProviderEvent, error)
}

// WebhookReconciler turns billing-provider events into ledger updates
type WebhookReconciler struct {
	decoder   EventDecoder
	ledger    *Ledger
	directory billing.Directory
	dedup     shared.IdempotencyStore
	dedupTTL  time.Duration
	logger    *zap.Logger
	metrics   *telemetry.Metrics
}

// WebhookReconcilerConfig contains dependencies for WebhookReconciler
type WebhookReconcilerConfig struct {
	Decoder     EventDecoder
	Ledger      *Ledger
	Directory   billing.Directory
	Idempotency shared.IdempotencyStore // nil disables deduplication
	DedupTTL    time.Duration
	Logger      *zap.Logger
	Metrics     *telemetry.Metrics
}

// NewWebhookReconciler creates a new WebhookReconciler
func NewWebhookReconciler(cfg WebhookReconcilerConfig) *WebhookReconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.DedupTTL
	if ttl <= 0 {
		ttl = shared.DefaultIdempotencyConfig().TTL
	}
	return &WebhookReconciler{
		decoder:   cfg.Decoder,
		ledger:    cfg.Ledger,
		directory: cfg.Directory,
		dedup:     cfg.Idempotency,
		dedupTTL:  ttl,
		logger:    logger,
		metrics:   cfg.Metrics,
	}
}

// WebhookResult contains the result of processing a webhook
type WebhookResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Kind      string `json:"kind"`
	Outcome   string `json:"outcome"`
	AccountID string `json:"account_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Handle verifies, deduplicates and applies one webhook delivery.
//
// A nil error means the delivery should be acknowledged; this includes
// duplicates, unhandled kinds, stale updates and events for unknown
// accounts. Signature and decoding failures return the matching billing
// error and leave no trace. Any other error means processing failed and the
// provider should redeliver.
func (r *WebhookReconciler) Handle(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "webhook", "handle")
	defer span.End()

	ev, err := r.decoder.Decode(payload, signature)
	if err != nil {
		telemetry.RecordError(span, err)
		r.metrics.WebhookEvent("", telemetry.OutcomeRejected)
		r.logger.Warn("Rejected webhook delivery", zap.Error(err))
		return nil, err
	}

	result := &WebhookResult{
		EventID:   ev.EventID(),
		EventType: ev.ProviderType(),
		Kind:      ev.Kind().String(),
	}
	telemetry.SetAttributes(span,
		telemetry.SpanAttrEventID, result.EventID,
		telemetry.SpanAttrEventKind, result.Kind)

	r.logger.Info("Processing webhook event",
		zap.String("event_id", result.EventID),
		zap.String("event_type", result.EventType))

	outcome, err := r.process(ctx, ev, result)
	if err != nil {
		telemetry.RecordError(span, err)
		r.metrics.WebhookEvent(result.Kind, telemetry.OutcomeFailed)
		r.logger.Error("Failed to process webhook event",
			zap.String("event_id", result.EventID),
			zap.String("event_type", result.EventType),
			zap.Error(err))
		return nil, err
	}

	result.Outcome = outcome
	telemetry.SetAttributes(span, telemetry.SpanAttrOutcome, outcome)
	r.metrics.WebhookEvent(result.Kind, outcome)
	return result, nil
}

func (r *WebhookReconciler) process(ctx context.Context, ev billing.ProviderEvent, result *WebhookResult) (string, error) {
	update, ok := billing.TransitionFor(ev)
	if !ok {
		r.logger.Debug("Unhandled webhook event type",
			zap.String("event_id", result.EventID),
			zap.String("event_type", result.EventType))
		result.Message = "Event type not handled"
		return telemetry.OutcomeUnhandled, nil
	}

	claimed, err := r.claim(ctx, ev.EventID())
	if err != nil {
		return "", err
	}
	if !claimed {
		r.logger.Info("Skipping duplicate webhook event",
			zap.String("event_id", result.EventID))
		result.Message = "Duplicate event"
		return telemetry.OutcomeDuplicate, nil
	}

	outcome, err := r.apply(ctx, ev, update, result)
	if err != nil {
		r.forget(ctx, ev.EventID())
		return "", err
	}
	return outcome, nil
}

func (r *WebhookReconciler) apply(
	ctx context.Context,
	ev billing.ProviderEvent,
	update billing.ProviderUpdate,
	result *WebhookResult,
) (string, error) {
	accountID, found, err := r.resolveAccount(ctx, ev)
	if err != nil {
		return "", err
	}
	if !found {
		r.logger.Error("No account linked to webhook event",
			zap.String("event_id", result.EventID),
			zap.String("event_type", result.EventType),
			zap.String("customer_id", ev.CustomerID()),
			zap.String("subscription_id", ev.SubscriptionID()))
		result.Message = billing.ErrUnknownAccount.Message
		return telemetry.OutcomeUnknownAccount, nil
	}
	result.AccountID = accountID.String()

	outcome, _, err := r.ledger.ApplyProviderUpdate(ctx, accountID, update, ev.OccurredAt())
	if err != nil {
		return "", err
	}
	if outcome == billing.ApplyOutcomeStale {
		result.Message = "Event is older than the applied provider state"
		return telemetry.OutcomeStale, nil
	}
	return telemetry.OutcomeApplied, nil
}

// resolveAccount maps the event's customer to an account, falling back to
// the subscription ID for events that carry no customer
func (r *WebhookReconciler) resolveAccount(ctx context.Context, ev billing.ProviderEvent) (uuid.UUID, bool, error) {
	if customerID := ev.CustomerID(); customerID != "" {
		id, found, err := r.directory.AccountIDForProviderCustomer(ctx, customerID)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("failed to resolve customer: %w", err)
		}
		if found {
			return id, true, nil
		}
	}
	if subscriptionID := ev.SubscriptionID(); subscriptionID != "" {
		id, found, err := r.directory.AccountIDForProviderSubscription(ctx, subscriptionID)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("failed to resolve subscription: %w", err)
		}
		return id, found, nil
	}
	return uuid.Nil, false, nil
}

// claim takes the event ID in the dedup window. A failing window does not
// block processing; replays are absorbed by the monotonic-write rule.
func (r *WebhookReconciler) claim(ctx context.Context, eventID string) (bool, error) {
	if r.dedup == nil {
		return true, nil
	}
	claimed, err := r.dedup.MarkProcessed(ctx, eventID, r.dedupTTL)
	if err != nil {
		r.logger.Warn("Dedup window unavailable, processing event unguarded",
			zap.String("event_id", eventID),
			zap.Error(err))
		return true, nil
	}
	return claimed, nil
}

func (r *WebhookReconciler) forget(ctx context.Context, eventID string) {
	if r.dedup == nil {
		return
	}
	if err := r.dedup.Forget(context.WithoutCancel(ctx), eventID); err != nil {
		r.logger.Warn("Failed to release dedup claim",
			zap.String("event_id", eventID),
			zap.Error(err))
	}
}
