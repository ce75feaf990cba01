package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/transcribe/backend/internal/domain/shared"
)

// LedgerStore is the storage contract of the ledger: keyed lookup plus
// per-account atomic read-modify-write through WithAccountLock.
type LedgerStore interface {
	// FindSubscription returns the account's subscription or shared.ErrNotFound
	FindSubscription(ctx context.Context, accountID uuid.UUID) (*Subscription, error)

	// CreateSubscriptionIfAbsent inserts sub unless the account already has a
	// subscription, and returns whichever subscription is stored afterwards.
	CreateSubscriptionIfAbsent(ctx context.Context, sub *Subscription) (*Subscription, error)

	// WithAccountLock runs fn in a unit of work that holds the account's
	// exclusive lock. Writes made through tx become visible atomically when fn
	// returns nil and are discarded otherwise.
	WithAccountLock(ctx context.Context, accountID uuid.UUID, fn func(tx LedgerTx) error) error

	// FindReservation returns a reservation by ID or shared.ErrNotFound
	FindReservation(ctx context.Context, id uuid.UUID) (*Reservation, error)

	// ListPendingReservations returns the account's unsettled reservations, oldest first
	ListPendingReservations(ctx context.Context, accountID uuid.UUID) ([]*Reservation, error)

	// ListUsageEvents returns the account's usage events charged to the usage
	// period starting at periodStart, oldest first
	ListUsageEvents(ctx context.Context, accountID uuid.UUID, periodStart time.Time) ([]*UsageEvent, error)

	// ListSubscriptions pages through all subscriptions ordered by account ID
	ListSubscriptions(ctx context.Context, page shared.Page) ([]*Subscription, error)
}

// LedgerTx is the view of the store inside WithAccountLock.
// All methods operate on the locked account.
type LedgerTx interface {
	// Subscription returns the locked subscription
	Subscription(ctx context.Context) (*Subscription, error)

	// SaveSubscription writes the subscription and increments its version.
	// Returns shared.ErrConcurrencyConflict if the stored version moved.
	SaveSubscription(ctx context.Context, sub *Subscription) error

	// Reservation returns one of the account's reservations or shared.ErrNotFound
	Reservation(ctx context.Context, id uuid.UUID) (*Reservation, error)

	// SaveReservation inserts or updates a reservation
	SaveReservation(ctx context.Context, r *Reservation) error

	// AppendUsageEvent appends a usage event
	AppendUsageEvent(ctx context.Context, e *UsageEvent) error

	// IndexCustomer records customerID in the directory side index
	IndexCustomer(ctx context.Context, customerID string) error
}

// Directory resolves billing-provider identifiers to accounts.
// Lookups report found=false rather than an error when nothing matches.
type Directory interface {
	AccountIDForProviderCustomer(ctx context.Context, customerID string) (uuid.UUID, bool, error)
	AccountIDForProviderSubscription(ctx context.Context, subscriptionID string) (uuid.UUID, bool, error)
}
