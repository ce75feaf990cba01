package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transcribe/backend/internal/domain/billing"
	"github.com/transcribe/backend/internal/domain/shared"
)

// MemoryLedgerStore is an in-process LedgerStore and Directory.
// Each account has its own lock; mu only guards the maps. Values are copied
// on the way in and out so callers never share state with the store.
type MemoryLedgerStore struct {
	mu            sync.Mutex
	locks         map[uuid.UUID]chan struct{}
	subscriptions map[uuid.UUID]*billing.Subscription
	reservations  map[uuid.UUID]*billing.Reservation
	events        []*billing.UsageEvent
	customers     map[string]uuid.UUID
}

// NewMemoryLedgerStore creates an empty store
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		locks:         make(map[uuid.UUID]chan struct{}),
		subscriptions: make(map[uuid.UUID]*billing.Subscription),
		reservations:  make(map[uuid.UUID]*billing.Reservation),
		customers:     make(map[string]uuid.UUID),
	}
}

// FindSubscription implements billing.LedgerStore
func (s *MemoryLedgerStore) FindSubscription(ctx context.Context, accountID uuid.UUID) (*billing.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[accountID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneSubscription(sub), nil
}

// CreateSubscriptionIfAbsent implements billing.LedgerStore
func (s *MemoryLedgerStore) CreateSubscriptionIfAbsent(ctx context.Context, sub *billing.Subscription) (*billing.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.subscriptions[sub.AccountID]; ok {
		return cloneSubscription(existing), nil
	}
	s.subscriptions[sub.AccountID] = cloneSubscription(sub)
	if sub.ProviderCustomerID != "" {
		s.customers[sub.ProviderCustomerID] = sub.AccountID
	}
	return cloneSubscription(sub), nil
}

// WithAccountLock implements billing.LedgerStore. Writes are staged in the
// unit of work and published together when fn succeeds.
func (s *MemoryLedgerStore) WithAccountLock(ctx context.Context, accountID uuid.UUID, fn func(tx billing.LedgerTx) error) error {
	lock := s.accountLock(accountID)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock }()

	tx := &memoryLedgerTx{store: s, accountID: accountID}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// FindReservation implements billing.LedgerStore
func (s *MemoryLedgerStore) FindReservation(ctx context.Context, id uuid.UUID) (*billing.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneReservation(r), nil
}

// ListPendingReservations implements billing.LedgerStore
func (s *MemoryLedgerStore) ListPendingReservations(ctx context.Context, accountID uuid.UUID) ([]*billing.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*billing.Reservation
	for _, r := range s.reservations {
		if r.AccountID == accountID && r.IsPending() {
			out = append(out, cloneReservation(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListUsageEvents implements billing.LedgerStore
func (s *MemoryLedgerStore) ListUsageEvents(ctx context.Context, accountID uuid.UUID, periodStart time.Time) ([]*billing.UsageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*billing.UsageEvent
	for _, e := range s.events {
		if e.AccountID == accountID && e.UsagePeriodStart.Equal(periodStart) {
			ev := *e
			out = append(out, &ev)
		}
	}
	return out, nil
}

// ListSubscriptions implements billing.LedgerStore
func (s *MemoryLedgerStore) ListSubscriptions(ctx context.Context, page shared.Page) ([]*billing.Subscription, error) {
	page = page.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*billing.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		all = append(all, sub)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].AccountID.String() < all[j].AccountID.String() })

	if page.Skip >= len(all) {
		return []*billing.Subscription{}, nil
	}
	end := page.Skip + page.Limit
	if end > len(all) {
		end = len(all)
	}
	out := make([]*billing.Subscription, 0, end-page.Skip)
	for _, sub := range all[page.Skip:end] {
		out = append(out, cloneSubscription(sub))
	}
	return out, nil
}

// AccountIDForProviderCustomer implements billing.Directory
func (s *MemoryLedgerStore) AccountIDForProviderCustomer(ctx context.Context, customerID string) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.customers[customerID]
	return id, ok, nil
}

// AccountIDForProviderSubscription implements billing.Directory
func (s *MemoryLedgerStore) AccountIDForProviderSubscription(ctx context.Context, subscriptionID string) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subscriptions {
		if sub.ProviderSubscriptionID == subscriptionID {
			return sub.AccountID, true, nil
		}
	}
	return uuid.Nil, false, nil
}

func (s *MemoryLedgerStore) accountLock(accountID uuid.UUID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[accountID]
	if !ok {
		lock = make(chan struct{}, 1)
		s.locks[accountID] = lock
	}
	return lock
}

// memoryLedgerTx stages writes of one unit of work
type memoryLedgerTx struct {
	store        *MemoryLedgerStore
	accountID    uuid.UUID
	subscription *billing.Subscription
	reservations []*billing.Reservation
	events       []*billing.UsageEvent
	customers    []string
}

func (tx *memoryLedgerTx) Subscription(ctx context.Context) (*billing.Subscription, error) {
	if tx.subscription != nil {
		return cloneSubscription(tx.subscription), nil
	}
	return tx.store.FindSubscription(ctx, tx.accountID)
}

func (tx *memoryLedgerTx) SaveSubscription(ctx context.Context, sub *billing.Subscription) error {
	if sub.AccountID != tx.accountID {
		return shared.ErrInvalidInput
	}
	current, err := tx.Subscription(ctx)
	if err != nil {
		return err
	}
	if current.Version != sub.Version {
		return shared.ErrConcurrencyConflict
	}
	sub.IncrementVersion()
	tx.subscription = cloneSubscription(sub)
	return nil
}

func (tx *memoryLedgerTx) Reservation(ctx context.Context, id uuid.UUID) (*billing.Reservation, error) {
	for i := len(tx.reservations) - 1; i >= 0; i-- {
		if tx.reservations[i].ID == id {
			return cloneReservation(tx.reservations[i]), nil
		}
	}
	r, err := tx.store.FindReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.AccountID != tx.accountID {
		return nil, shared.ErrNotFound
	}
	return r, nil
}

func (tx *memoryLedgerTx) SaveReservation(ctx context.Context, r *billing.Reservation) error {
	if r.AccountID != tx.accountID {
		return shared.ErrInvalidInput
	}
	tx.reservations = append(tx.reservations, cloneReservation(r))
	return nil
}

func (tx *memoryLedgerTx) AppendUsageEvent(ctx context.Context, e *billing.UsageEvent) error {
	if e.AccountID != tx.accountID {
		return shared.ErrInvalidInput
	}
	ev := *e
	tx.events = append(tx.events, &ev)
	return nil
}

func (tx *memoryLedgerTx) IndexCustomer(ctx context.Context, customerID string) error {
	if customerID == "" {
		return shared.ErrInvalidInput
	}
	tx.customers = append(tx.customers, customerID)
	return nil
}

func (tx *memoryLedgerTx) commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.subscription != nil {
		s.subscriptions[tx.accountID] = tx.subscription
	}
	for _, r := range tx.reservations {
		s.reservations[r.ID] = r
	}
	s.events = append(s.events, tx.events...)
	for _, c := range tx.customers {
		s.customers[c] = tx.accountID
	}
	return nil
}

func cloneSubscription(sub *billing.Subscription) *billing.Subscription {
	c := *sub
	if sub.PeriodStart != nil {
		t := *sub.PeriodStart
		c.PeriodStart = &t
	}
	if sub.PeriodEnd != nil {
		t := *sub.PeriodEnd
		c.PeriodEnd = &t
	}
	return &c
}

func cloneReservation(r *billing.Reservation) *billing.Reservation {
	c := *r
	if r.SettledAt != nil {
		t := *r.SettledAt
		c.SettledAt = &t
	}
	return &c
}
