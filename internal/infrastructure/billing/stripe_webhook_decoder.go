package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	appbilling "github.com/transcribe/backend/internal/application/billing"
	"github.com/transcribe/backend/internal/domain/billing"
)

// Stripe event types that drive the ledger
const (
	eventSubscriptionCreated     = "customer.subscription.created"
	eventSubscriptionUpdated     = "customer.subscription.updated"
	eventSubscriptionDeleted     = "customer.subscription.deleted"
	eventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	eventInvoicePaymentFailed    = "invoice.payment_failed"
)

// StripeWebhookDecoder verifies Stripe-Signature headers and decodes events
// into provider events
type StripeWebhookDecoder struct {
	config *StripeConfig
}

var _ appbilling.EventDecoder = (*StripeWebhookDecoder)(nil)

// NewStripeWebhookDecoder creates a decoder for the configured webhook secret
func NewStripeWebhookDecoder(config *StripeConfig) *StripeWebhookDecoder {
	return &StripeWebhookDecoder{config: config}
}

// Decode verifies the payload signature and maps the event
func (d *StripeWebhookDecoder) Decode(payload []byte, signature string) (billing.ProviderEvent, error) {
	tolerance := d.config.WebhookTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, d.config.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, fmt.Errorf("%w: %v", billing.ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", billing.ErrMalformedEvent, err)
	}
	if event.ID == "" || event.Type == "" {
		return nil, fmt.Errorf("%w: event id and type are required", billing.ErrMalformedEvent)
	}

	header := billing.EventHeader{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}

	switch string(event.Type) {
	case eventSubscriptionCreated, eventSubscriptionUpdated, eventSubscriptionDeleted:
		return d.decodeSubscriptionEvent(header, event)
	case eventInvoicePaymentSucceeded, eventInvoicePaymentFailed:
		return d.decodeInvoiceEvent(header, event)
	default:
		return billing.UnhandledEvent{EventHeader: header}, nil
	}
}

func (d *StripeWebhookDecoder) decodeSubscriptionEvent(header billing.EventHeader, event stripe.Event) (billing.ProviderEvent, error) {
	var sub stripe.Subscription
	if err := decodeObject(event, &sub); err != nil {
		return nil, err
	}
	if sub.Customer != nil {
		header.Customer = sub.Customer.ID
	}
	header.Subscription = sub.ID

	snapshot := billing.SubscriptionSnapshot{
		ID:                sub.ID,
		Status:            mapStripeSubscriptionStatus(sub.Status),
		PeriodStart:       unixTime(sub.CurrentPeriodStart),
		PeriodEnd:         unixTime(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		if plan, ok := d.config.PlanForPrice(sub.Items.Data[0].Price.ID); ok {
			snapshot.PlanName = plan
		}
	}

	switch string(event.Type) {
	case eventSubscriptionCreated:
		return billing.SubscriptionCreated{EventHeader: header, Snapshot: snapshot}, nil
	case eventSubscriptionUpdated:
		return billing.SubscriptionUpdated{EventHeader: header, Snapshot: snapshot}, nil
	default:
		return billing.SubscriptionDeleted{EventHeader: header, Snapshot: snapshot}, nil
	}
}

func (d *StripeWebhookDecoder) decodeInvoiceEvent(header billing.EventHeader, event stripe.Event) (billing.ProviderEvent, error) {
	var inv stripe.Invoice
	if err := decodeObject(event, &inv); err != nil {
		return nil, err
	}
	if inv.Customer != nil {
		header.Customer = inv.Customer.ID
	}
	if inv.Subscription != nil {
		header.Subscription = inv.Subscription.ID
	}

	if string(event.Type) == eventInvoicePaymentFailed {
		return billing.InvoicePaymentFailed{EventHeader: header}, nil
	}
	return billing.InvoicePaymentSucceeded{EventHeader: header}, nil
}

func decodeObject(event stripe.Event, v any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return fmt.Errorf("%w: event %s has no data object", billing.ErrMalformedEvent, event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return fmt.Errorf("%w: event %s: %v", billing.ErrMalformedEvent, event.ID, err)
	}
	return nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
