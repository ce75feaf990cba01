package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/transcribe/backend/internal/domain/shared"
)

// InMemoryIdempotencyStore implements IdempotencyStore with a bounded,
// expiring LRU: it remembers at most maxEntries event IDs, each for at most
// the configured TTL.
// This is suitable for single-instance deployments and testing
type InMemoryIdempotencyStore struct {
	mu      sync.Mutex // makes check-then-add atomic
	entries *expirable.LRU[string, time.Time]
}

// NewInMemoryIdempotencyStore creates a new in-memory idempotency store
func NewInMemoryIdempotencyStore(cfg shared.IdempotencyConfig) *InMemoryIdempotencyStore {
	defaults := shared.DefaultIdempotencyConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaults.MaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	return &InMemoryIdempotencyStore{
		entries: expirable.NewLRU[string, time.Time](cfg.MaxEntries, nil, cfg.TTL),
	}
}

// MarkProcessed marks an event as processed with a TTL
// Returns true if the event was newly marked, false if it was already processed.
// A ttl longer than the store's TTL is capped by the store.
func (s *InMemoryIdempotencyStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if expiresAt, ok := s.entries.Peek(eventID); ok && now.Before(expiresAt) {
		return false, nil
	}
	s.entries.Add(eventID, now.Add(ttl))
	return true, nil
}

// IsProcessed checks if an event has already been processed
func (s *InMemoryIdempotencyStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.entries.Peek(eventID)
	return ok && time.Now().Before(expiresAt), nil
}

// Forget drops an event ID from the window
func (s *InMemoryIdempotencyStore) Forget(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries.Remove(eventID)
	return nil
}

// Close releases resources
// Safe to call multiple times
func (s *InMemoryIdempotencyStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries.Purge()
	return nil
}

// Size returns the number of entries in the store (for testing/monitoring)
func (s *InMemoryIdempotencyStore) Size() int {
	return s.entries.Len()
}

// Ensure InMemoryIdempotencyStore implements IdempotencyStore
var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
