package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/transcribe/backend/internal/domain/identity"
)

// AccountModel is the persistence model for the Account domain entity.
type AccountModel struct {
	AggregateModel
	Email        string `gorm:"type:varchar(254);not null;uniqueIndex"`
	FullName     string `gorm:"type:varchar(200);not null;default:''"`
	PasswordHash string `gorm:"type:varchar(255);not null;default:''"`
	Active       bool   `gorm:"not null;default:true"`
}

// TableName returns the table name for GORM
func (AccountModel) TableName() string {
	return "accounts"
}

// ToDomain converts the persistence model to a domain Account entity.
func (m *AccountModel) ToDomain() *identity.Account {
	return &identity.Account{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		Email:             m.Email,
		FullName:          m.FullName,
		PasswordHash:      m.PasswordHash,
		Active:            m.Active,
	}
}

// FromDomain populates the persistence model from a domain Account entity.
func (m *AccountModel) FromDomain(a *identity.Account) {
	m.FromDomainAggregateRoot(a.BaseAggregateRoot)
	m.Email = a.Email
	m.FullName = a.FullName
	m.PasswordHash = a.PasswordHash
	m.Active = a.Active
}

// AccountModelFromDomain creates a new persistence model from a domain Account entity.
func AccountModelFromDomain(a *identity.Account) *AccountModel {
	m := &AccountModel{}
	m.FromDomain(a)
	return m
}

// APIKeyModel is the persistence model for API keys. Only the bcrypt hash
// of a key is stored.
type APIKeyModel struct {
	BaseModel
	AccountID    uuid.UUID `gorm:"type:uuid;not null;index"`
	Name         string    `gorm:"type:varchar(100);not null"`
	LookupPrefix string    `gorm:"type:varchar(32);not null;uniqueIndex"`
	Last4        string    `gorm:"type:varchar(4);not null"`
	Hash         string    `gorm:"type:varchar(255);not null"`
	LastUsedAt   *time.Time
	RevokedAt    *time.Time
}

// TableName returns the table name for GORM
func (APIKeyModel) TableName() string {
	return "api_keys"
}

// ToDomain converts the persistence model to a domain APIKey entity.
func (m *APIKeyModel) ToDomain() *identity.APIKey {
	return &identity.APIKey{
		BaseEntity:   m.BaseModel.ToDomain(),
		AccountID:    m.AccountID,
		Name:         m.Name,
		LookupPrefix: m.LookupPrefix,
		Last4:        m.Last4,
		Hash:         m.Hash,
		LastUsedAt:   utcPtr(m.LastUsedAt),
		RevokedAt:    utcPtr(m.RevokedAt),
	}
}

// APIKeyModelFromDomain creates a new persistence model from a domain APIKey entity.
func APIKeyModelFromDomain(k *identity.APIKey) *APIKeyModel {
	m := &APIKeyModel{
		AccountID:    k.AccountID,
		Name:         k.Name,
		LookupPrefix: k.LookupPrefix,
		Last4:        k.Last4,
		Hash:         k.Hash,
		LastUsedAt:   utcPtr(k.LastUsedAt),
		RevokedAt:    utcPtr(k.RevokedAt),
	}
	m.FromDomainBaseEntity(k.BaseEntity)
	return m
}
