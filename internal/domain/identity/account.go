// Package identity holds accounts and the credentials they authenticate with.
package identity

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/transcribe/backend/internal/domain/shared"
	"golang.org/x/crypto/bcrypt"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

const (
	passwordBcryptCost = 12

	minPasswordLen = 8
	// bcrypt ignores input past 72 bytes
	maxPasswordBytes = 72

	maxFullNameLen = 200
)

// Account is the identity that owns a subscription and its usage
type Account struct {
	shared.BaseAggregateRoot
	Email    string
	FullName string
	// PasswordHash is empty for accounts that only authenticate with API keys
	PasswordHash string
	Active       bool
}

// NewAccount creates an active account
func NewAccount(email string) (*Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	return &Account{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Email:             email,
		Active:            true,
	}, nil
}

// SetFullName sets the display name
func (a *Account) SetFullName(name string) error {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxFullNameLen {
		return shared.NewDomainError("INVALID_FULL_NAME", "Full name cannot exceed 200 characters")
	}
	a.FullName = name
	return nil
}

// SetPassword replaces the password hash
func (a *Account) SetPassword(password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordBcryptCost)
	if err != nil {
		return shared.NewDomainError("PASSWORD_HASH_ERROR", "Failed to hash password")
	}
	a.PasswordHash = string(hash)
	a.IncrementVersion()
	return nil
}

// HasPassword reports whether the account can log in with a password
func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// VerifyPassword verifies if the provided password matches
func (a *Account) VerifyPassword(password string) bool {
	if !a.HasPassword() {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
}

// Deactivate blocks the account from authenticating
func (a *Account) Deactivate() {
	a.Active = false
	a.IncrementVersion()
}

// Activate re-enables the account
func (a *Account) Activate() {
	a.Active = true
	a.IncrementVersion()
}

// AccountIDOf parses an account ID, rejecting the nil UUID
func AccountIDOf(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, shared.NewDomainError("INVALID_ACCOUNT", "Invalid account ID")
	}
	return id, nil
}

func validateEmail(email string) error {
	if email == "" {
		return shared.NewDomainError("INVALID_EMAIL", "Email cannot be empty")
	}
	if len(email) > 254 {
		return shared.NewDomainError("INVALID_EMAIL", "Email cannot exceed 254 characters")
	}
	if !emailRegex.MatchString(email) {
		return shared.NewDomainError("INVALID_EMAIL", "Invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	if password == "" {
		return shared.NewDomainError("INVALID_PASSWORD", "Password cannot be empty")
	}
	if len(password) < minPasswordLen {
		return shared.NewDomainError("INVALID_PASSWORD", "Password must be at least 8 characters")
	}
	if len(password) > maxPasswordBytes {
		return shared.NewDomainError("INVALID_PASSWORD", "Password cannot exceed 72 bytes")
	}
	return nil
}
