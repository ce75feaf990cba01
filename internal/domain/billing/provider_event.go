package billing

import "time"

// EventKind enumerates the billing-provider events the reconciler understands
type EventKind string

const (
	EventSubscriptionCreated     EventKind = "subscription.created"
	EventSubscriptionUpdated     EventKind = "subscription.updated"
	EventSubscriptionDeleted     EventKind = "subscription.deleted"
	EventInvoicePaymentFailed    EventKind = "invoice.payment_failed"
	EventInvoicePaymentSucceeded EventKind = "invoice.payment_succeeded"
	EventUnhandled               EventKind = "unhandled"
)

// String returns the string representation of EventKind
func (k EventKind) String() string {
	return string(k)
}

// ProviderEvent is a verified, decoded billing-provider event.
// The set of implementations is closed; unknown provider types decode to
// UnhandledEvent.
type ProviderEvent interface {
	EventID() string
	// ProviderType is the event type string as sent by the provider
	ProviderType() string
	Kind() EventKind
	OccurredAt() time.Time
	// CustomerID is the provider customer the event concerns, if any
	CustomerID() string
	// SubscriptionID is the provider subscription the event concerns, if any
	SubscriptionID() string

	providerEvent()
}

// EventHeader holds the fields every provider event carries
type EventHeader struct {
	ID           string
	Type         string
	Created      time.Time
	Customer     string
	Subscription string
}

func (h EventHeader) EventID() string        { return h.ID }
func (h EventHeader) ProviderType() string   { return h.Type }
func (h EventHeader) OccurredAt() time.Time  { return h.Created }
func (h EventHeader) CustomerID() string     { return h.Customer }
func (h EventHeader) SubscriptionID() string { return h.Subscription }
func (h EventHeader) providerEvent()         {}

// SubscriptionSnapshot is the provider's view of a subscription
type SubscriptionSnapshot struct {
	ID                string
	Status            SubscriptionStatus
	PlanName          PlanName // empty when the price maps to no known plan
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd bool
}

// SubscriptionCreated is sent when the provider creates a subscription
type SubscriptionCreated struct {
	EventHeader
	Snapshot SubscriptionSnapshot
}

// SubscriptionUpdated is sent on any provider-side subscription change
type SubscriptionUpdated struct {
	EventHeader
	Snapshot SubscriptionSnapshot
}

// SubscriptionDeleted is sent when a subscription ends
type SubscriptionDeleted struct {
	EventHeader
	Snapshot SubscriptionSnapshot
}

// InvoicePaymentFailed is sent when collecting an invoice fails
type InvoicePaymentFailed struct {
	EventHeader
}

// InvoicePaymentSucceeded is sent when an invoice is paid
type InvoicePaymentSucceeded struct {
	EventHeader
}

// UnhandledEvent is any provider event type outside the reconciled set
type UnhandledEvent struct {
	EventHeader
}

func (SubscriptionCreated) Kind() EventKind     { return EventSubscriptionCreated }
func (SubscriptionUpdated) Kind() EventKind     { return EventSubscriptionUpdated }
func (SubscriptionDeleted) Kind() EventKind     { return EventSubscriptionDeleted }
func (InvoicePaymentFailed) Kind() EventKind    { return EventInvoicePaymentFailed }
func (InvoicePaymentSucceeded) Kind() EventKind { return EventInvoicePaymentSucceeded }
func (UnhandledEvent) Kind() EventKind          { return EventUnhandled }

// TransitionFor maps an event to the subscription fields it sets.
// The second result is false for events that carry no transition.
func TransitionFor(ev ProviderEvent) (ProviderUpdate, bool) {
	switch e := ev.(type) {
	case SubscriptionCreated:
		status := StatusActive
		if e.Snapshot.Status == StatusIncomplete {
			status = StatusIncomplete
		}
		u := snapshotUpdate(e.Snapshot)
		u.Status = &status
		return u, true
	case SubscriptionUpdated:
		u := snapshotUpdate(e.Snapshot)
		if e.Snapshot.Status.IsValid() {
			status := e.Snapshot.Status
			u.Status = &status
		}
		cancel := e.Snapshot.CancelAtPeriodEnd
		u.CancelAtPeriodEnd = &cancel
		return u, true
	case SubscriptionDeleted:
		status := StatusCanceled
		cancel := true
		return ProviderUpdate{Status: &status, CancelAtPeriodEnd: &cancel}, true
	case InvoicePaymentFailed:
		status := StatusPastDue
		return ProviderUpdate{Status: &status}, true
	case InvoicePaymentSucceeded:
		status := StatusActive
		return ProviderUpdate{Status: &status}, true
	default:
		return ProviderUpdate{}, false
	}
}

func snapshotUpdate(s SubscriptionSnapshot) ProviderUpdate {
	u := ProviderUpdate{
		PeriodStart: s.PeriodStart,
		PeriodEnd:   s.PeriodEnd,
	}
	if s.ID != "" {
		id := s.ID
		u.ProviderSubscriptionID = &id
	}
	if s.PlanName.IsValid() {
		plan := s.PlanName
		u.PlanName = &plan
	}
	return u
}
