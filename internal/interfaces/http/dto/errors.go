package dto

import (
	"net/http"
	"strings"
)

// Error codes returned in the envelope. Format: ERR_<DESCRIPTION>
const (
	ErrCodeInternal    = "ERR_INTERNAL"
	ErrCodeValidation  = "ERR_VALIDATION"
	ErrCodeBadRequest  = "ERR_BAD_REQUEST"
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"

	ErrCodeUnauthorized  = "ERR_UNAUTHORIZED"
	ErrCodeForbidden     = "ERR_FORBIDDEN"
	ErrCodeTokenExpired  = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid  = "ERR_TOKEN_INVALID"
	ErrCodeInvalidAPIKey = "ERR_INVALID_API_KEY"

	ErrCodeInvalidCredentials = "ERR_INVALID_CREDENTIALS"

	ErrCodeNotFound            = "ERR_NOT_FOUND"
	ErrCodeAlreadyExists       = "ERR_ALREADY_EXISTS"
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
	ErrCodeInvalidState        = "ERR_INVALID_STATE"
	ErrCodeBusinessRule        = "ERR_BUSINESS_RULE"

	ErrCodeQuotaExceeded      = "ERR_QUOTA_EXCEEDED"
	ErrCodeInvalidReservation = "ERR_INVALID_RESERVATION"
	ErrCodeInvalidSignature   = "ERR_INVALID_SIGNATURE"
	ErrCodeMalformedEvent     = "ERR_MALFORMED_EVENT"
	ErrCodeNoSubscription     = "ERR_NO_SUBSCRIPTION"

	ErrCodeProviderUnavailable  = "ERR_PROVIDER_UNAVAILABLE"
	ErrCodeProviderRejected     = "ERR_PROVIDER_REJECTED"
	ErrCodeTranscriptionTimeout = "ERR_TRANSCRIPTION_TIMEOUT"
	ErrCodeFileTooLarge         = "ERR_FILE_TOO_LARGE"
	ErrCodeRequestTooLarge      = "ERR_REQUEST_TOO_LARGE"
	ErrCodeRateLimited          = "ERR_RATE_LIMITED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:    http.StatusInternalServerError,
	ErrCodeValidation:  http.StatusBadRequest,
	ErrCodeBadRequest:  http.StatusBadRequest,
	ErrCodeInvalidJSON: http.StatusBadRequest,

	ErrCodeUnauthorized:  http.StatusUnauthorized,
	ErrCodeForbidden:     http.StatusForbidden,
	ErrCodeTokenExpired:  http.StatusUnauthorized,
	ErrCodeTokenInvalid:  http.StatusUnauthorized,
	ErrCodeInvalidAPIKey: http.StatusUnauthorized,

	ErrCodeInvalidCredentials: http.StatusUnauthorized,

	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeInvalidState:        http.StatusConflict,
	ErrCodeBusinessRule:        http.StatusUnprocessableEntity,

	ErrCodeQuotaExceeded:      http.StatusTooManyRequests,
	ErrCodeInvalidReservation: http.StatusConflict,
	ErrCodeInvalidSignature:   http.StatusBadRequest,
	ErrCodeMalformedEvent:     http.StatusBadRequest,
	ErrCodeNoSubscription:     http.StatusNotFound,

	ErrCodeProviderUnavailable:  http.StatusServiceUnavailable,
	ErrCodeProviderRejected:     http.StatusBadGateway,
	ErrCodeTranscriptionTimeout: http.StatusGatewayTimeout,
	ErrCodeFileTooLarge:         http.StatusRequestEntityTooLarge,
	ErrCodeRequestTooLarge:      http.StatusRequestEntityTooLarge,
	ErrCodeRateLimited:          http.StatusTooManyRequests,
}

// domainCodeMapping maps domain error codes to envelope codes where the two
// differ
var domainCodeMapping = map[string]string{
	"NOT_FOUND":            ErrCodeNotFound,
	"ALREADY_EXISTS":       ErrCodeAlreadyExists,
	"INVALID_INPUT":        ErrCodeBadRequest,
	"INVALID_STATE":        ErrCodeInvalidState,
	"UNAUTHORIZED":         ErrCodeUnauthorized,
	"FORBIDDEN":            ErrCodeForbidden,
	"CONCURRENCY_CONFLICT": ErrCodeConcurrencyConflict,
	"ACCOUNT_INACTIVE":     ErrCodeForbidden,
	"EMAIL_TAKEN":          ErrCodeAlreadyExists,
	"ALREADY_REVOKED":      ErrCodeInvalidState,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Unknown ERR_INVALID_* codes are 400, other unknown codes 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	if strings.HasPrefix(code, "ERR_INVALID_") {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// CodeForDomainError converts a domain error code to the envelope format.
// Domain codes without an explicit mapping become ERR_<CODE>; codes that
// are neither mapped nor INVALID_* are business rule violations.
func CodeForDomainError(code string) string {
	if mapped, ok := domainCodeMapping[code]; ok {
		return mapped
	}
	prefixed := "ERR_" + code
	if _, ok := ErrorCodeHTTPStatus[prefixed]; ok || strings.HasPrefix(code, "INVALID_") {
		return prefixed
	}
	return ErrCodeBusinessRule
}
