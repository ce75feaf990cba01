package billing

import (
	"fmt"
	"net/http"

	"github.com/transcribe/backend/internal/domain/shared"
)

// Error codes of the billing context
const (
	CodeQuotaExceeded      = "QUOTA_EXCEEDED"
	CodeInvalidReservation = "INVALID_RESERVATION"
	CodeInvalidSignature   = "INVALID_SIGNATURE"
	CodeUnknownAccount     = "UNKNOWN_ACCOUNT"
	CodeInvalidPlan        = "INVALID_PLAN"
	CodeInvalidMinutes     = "INVALID_MINUTES"
	CodeMalformedEvent     = "MALFORMED_EVENT"
	CodeNoSubscription     = "NO_SUBSCRIPTION"
)

var (
	// ErrQuotaExceeded matches every QuotaExceededError
	ErrQuotaExceeded = shared.NewDomainError(CodeQuotaExceeded, "Transcription quota exceeded")

	// ErrInvalidReservation is returned when a reservation is unknown or already settled
	ErrInvalidReservation = shared.NewDomainError(CodeInvalidReservation, "Reservation is unknown or already settled")

	// ErrInvalidSignature is returned when a webhook payload fails verification
	ErrInvalidSignature = shared.NewDomainError(CodeInvalidSignature, "Webhook signature verification failed")

	// ErrUnknownAccount is returned when provider identifiers map to no account
	ErrUnknownAccount = shared.NewDomainError(CodeUnknownAccount, "No account is linked to the provider identifiers")

	// ErrInvalidPlan is returned for unknown plan names
	ErrInvalidPlan = shared.NewDomainError(CodeInvalidPlan, "Unknown plan")

	// ErrInvalidMinutes is returned for negative minute amounts
	ErrInvalidMinutes = shared.NewDomainError(CodeInvalidMinutes, "Minutes must not be negative")

	// ErrMalformedEvent is returned when a verified payload cannot be decoded
	ErrMalformedEvent = shared.NewDomainError(CodeMalformedEvent, "Webhook payload is malformed")

	// ErrNoSubscription is returned when an operation needs a provider subscription
	ErrNoSubscription = shared.NewDomainError(CodeNoSubscription, "No active subscription found")
)

// QuotaExceededError is returned when a reservation would exceed the plan limit
type QuotaExceededError struct {
	Requested int64
	Used      int64
	Limit     int64
}

// Error implements the error interface
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: requested %d minutes, %d of %d used", e.Requested, e.Used, e.Limit)
}

// Is makes errors.Is(err, ErrQuotaExceeded) hold
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Remaining returns the minutes still available in the period
func (e *QuotaExceededError) Remaining() int64 {
	if e.Used >= e.Limit {
		return 0
	}
	return e.Limit - e.Used
}

// HTTPStatusCode returns the HTTP status code for quota exceeded errors
func (e *QuotaExceededError) HTTPStatusCode() int {
	return http.StatusTooManyRequests
}
