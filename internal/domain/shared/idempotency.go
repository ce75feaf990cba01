package shared

import (
	"context"
	"time"
)

// IdempotencyStore is the dedup window for externally delivered events.
// It remembers processed event IDs for a bounded time (and, for in-process
// implementations, a bounded count).
type IdempotencyStore interface {
	// MarkProcessed claims an event ID for processing.
	// Returns true if the ID was newly claimed, false if it was already seen.
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)

	// IsProcessed checks if an event has already been claimed
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	// Forget removes a claim so a redelivery of the event is processed again.
	// Used when processing fails after the claim was taken.
	Forget(ctx context.Context, eventID string) error

	// Close closes the store and releases resources
	Close() error
}

// IdempotencyConfig holds configuration for idempotency handling
type IdempotencyConfig struct {
	// TTL is how long a processed event ID stays in the window
	// Default: 24 hours
	TTL time.Duration

	// MaxEntries bounds in-process windows
	// Default: 100000
	MaxEntries int

	// Enabled determines whether idempotency checking is enabled
	// Default: true
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:        24 * time.Hour,
		MaxEntries: 100000,
		Enabled:    true,
	}
}
