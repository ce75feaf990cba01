package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/transcribe/backend/internal/domain/billing"
	"github.com/transcribe/backend/internal/domain/shared"
	"github.com/transcribe/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLedgerStore implements billing.LedgerStore and billing.Directory on a
// relational database. The account lock is a row lock on the subscription
// (SELECT ... FOR UPDATE) held for the transaction; writes additionally
// check the version so a lost lock never turns into a lost update.
type GormLedgerStore struct {
	db *gorm.DB
}

var (
	_ billing.LedgerStore = (*GormLedgerStore)(nil)
	_ billing.Directory   = (*GormLedgerStore)(nil)
)

// NewGormLedgerStore creates a new GORM-backed ledger store
func NewGormLedgerStore(db *gorm.DB) *GormLedgerStore {
	return &GormLedgerStore{db: db}
}

// FindSubscription returns the account's subscription
func (s *GormLedgerStore) FindSubscription(ctx context.Context, accountID uuid.UUID) (*billing.Subscription, error) {
	return findSubscription(s.db.WithContext(ctx), accountID)
}

// CreateSubscriptionIfAbsent inserts sub unless the account already has one
func (s *GormLedgerStore) CreateSubscriptionIfAbsent(ctx context.Context, sub *billing.Subscription) (*billing.Subscription, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			DoNothing: true,
		}).Create(models.SubscriptionModelFromDomain(sub))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 && sub.ProviderCustomerID != "" {
			return indexCustomer(tx, sub.ProviderCustomerID, sub.AccountID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.FindSubscription(ctx, sub.AccountID)
}

// WithAccountLock runs fn in a transaction holding the subscription row lock
func (s *GormLedgerStore) WithAccountLock(ctx context.Context, accountID uuid.UUID, fn func(tx billing.LedgerTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ltx := &gormLedgerTx{db: tx, accountID: accountID}

		var model models.SubscriptionModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_id = ?", accountID).
			First(&model).Error
		switch {
		case err == nil:
			ltx.subscription = model.ToDomain()
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		return fn(ltx)
	})
}

// FindReservation returns a reservation by ID
func (s *GormLedgerStore) FindReservation(ctx context.Context, id uuid.UUID) (*billing.Reservation, error) {
	var model models.ReservationModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListPendingReservations returns the account's unsettled reservations, oldest first
func (s *GormLedgerStore) ListPendingReservations(ctx context.Context, accountID uuid.UUID) ([]*billing.Reservation, error) {
	var rows []models.ReservationModel
	if err := s.db.WithContext(ctx).
		Where("account_id = ? AND status = ?", accountID, billing.ReservationPending).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*billing.Reservation, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDomain())
	}
	return out, nil
}

// ListUsageEvents returns the account's events charged to a usage period, oldest first
func (s *GormLedgerStore) ListUsageEvents(ctx context.Context, accountID uuid.UUID, periodStart time.Time) ([]*billing.UsageEvent, error) {
	var rows []models.UsageEventModel
	if err := s.db.WithContext(ctx).
		Where("account_id = ? AND usage_period_start = ?", accountID, periodStart.UTC()).
		Order("occurred_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*billing.UsageEvent, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDomain())
	}
	return out, nil
}

// ListSubscriptions pages through all subscriptions ordered by account ID
func (s *GormLedgerStore) ListSubscriptions(ctx context.Context, page shared.Page) ([]*billing.Subscription, error) {
	page = page.Normalize()
	var rows []models.SubscriptionModel
	if err := s.db.WithContext(ctx).
		Order("account_id ASC").
		Offset(page.Skip).
		Limit(page.Limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*billing.Subscription, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDomain())
	}
	return out, nil
}

// AccountIDForProviderCustomer resolves a provider customer through the side index
func (s *GormLedgerStore) AccountIDForProviderCustomer(ctx context.Context, customerID string) (uuid.UUID, bool, error) {
	var model models.ProviderCustomerModel
	err := s.db.WithContext(ctx).Where("customer_id = ?", customerID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return model.AccountID, true, nil
}

// AccountIDForProviderSubscription resolves a provider subscription ID
func (s *GormLedgerStore) AccountIDForProviderSubscription(ctx context.Context, subscriptionID string) (uuid.UUID, bool, error) {
	var model models.SubscriptionModel
	err := s.db.WithContext(ctx).
		Select("account_id").
		Where("provider_subscription_id = ?", subscriptionID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return model.AccountID, true, nil
}

// gormLedgerTx is the unit of work of WithAccountLock. Every statement runs
// on the transaction handle.
type gormLedgerTx struct {
	db           *gorm.DB
	accountID    uuid.UUID
	subscription *billing.Subscription
}

func (tx *gormLedgerTx) Subscription(ctx context.Context) (*billing.Subscription, error) {
	if tx.subscription == nil {
		return nil, shared.ErrNotFound
	}
	c := *tx.subscription
	return &c, nil
}

func (tx *gormLedgerTx) SaveSubscription(ctx context.Context, sub *billing.Subscription) error {
	if sub.AccountID != tx.accountID {
		return shared.ErrInvalidInput
	}
	if tx.subscription == nil {
		return shared.ErrNotFound
	}

	expected := sub.Version
	sub.IncrementVersion()
	model := models.SubscriptionModelFromDomain(sub)

	result := tx.db.WithContext(ctx).
		Model(&models.SubscriptionModel{}).
		Where("id = ? AND version = ?", sub.ID, expected).
		Updates(map[string]interface{}{
			"plan_name":                model.PlanName,
			"status":                   model.Status,
			"provider_customer_id":     model.ProviderCustomerID,
			"provider_subscription_id": model.ProviderSubscriptionID,
			"period_start":             model.PeriodStart,
			"period_end":               model.PeriodEnd,
			"cancel_at_period_end":     model.CancelAtPeriodEnd,
			"quota_limit_minutes":      model.QuotaLimitMinutes,
			"quota_used_minutes":       model.QuotaUsedMinutes,
			"usage_period_start":       model.UsagePeriodStart,
			"provider_state_at":        model.ProviderStateAt,
			"limit_review_required":    model.LimitReviewRequired,
			"version":                  model.Version,
			"updated_at":               model.UpdatedAt,
		})
	if result.Error != nil {
		sub.Version = expected
		return result.Error
	}
	if result.RowsAffected == 0 {
		sub.Version = expected
		return shared.ErrConcurrencyConflict
	}

	c := *sub
	tx.subscription = &c
	return nil
}

func (tx *gormLedgerTx) Reservation(ctx context.Context, id uuid.UUID) (*billing.Reservation, error) {
	var model models.ReservationModel
	err := tx.db.WithContext(ctx).
		Where("id = ? AND account_id = ?", id, tx.accountID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

func (tx *gormLedgerTx) SaveReservation(ctx context.Context, r *billing.Reservation) error {
	if r.AccountID != tx.accountID {
		return shared.ErrInvalidInput
	}
	return tx.db.WithContext(ctx).Save(models.ReservationModelFromDomain(r)).Error
}

func (tx *gormLedgerTx) AppendUsageEvent(ctx context.Context, e *billing.UsageEvent) error {
	if e.AccountID != tx.accountID {
		return shared.ErrInvalidInput
	}
	return tx.db.WithContext(ctx).Create(models.UsageEventModelFromDomain(e)).Error
}

func (tx *gormLedgerTx) IndexCustomer(ctx context.Context, customerID string) error {
	if customerID == "" {
		return shared.ErrInvalidInput
	}
	return indexCustomer(tx.db.WithContext(ctx), customerID, tx.accountID)
}

func findSubscription(db *gorm.DB, accountID uuid.UUID) (*billing.Subscription, error) {
	var model models.SubscriptionModel
	if err := db.Where("account_id = ?", accountID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

func indexCustomer(db *gorm.DB, customerID string, accountID uuid.UUID) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "customer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"account_id"}),
	}).Create(&models.ProviderCustomerModel{
		CustomerID: customerID,
		AccountID:  accountID,
		CreatedAt:  time.Now().UTC(),
	}).Error
}
