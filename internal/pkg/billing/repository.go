package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/feedbax/feedbax/app/models"
	"github.com/feedbax/feedbax/internal/pkg/entitlements"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service. Lookups
// return ErrRecordNotFound (not a driver error) so callers and test fakes
// stay storage-agnostic.
type Repository interface {
	GetRecordByUserID(userID uint) (*models.BillingRecord, error)
	GetRecordByEmail(email string) (*models.BillingRecord, error)
	GetRecordByRemoteCustomerID(customerID string) (*models.BillingRecord, error)
	GetRecordByRemoteSubscriptionID(subscriptionID string) (*models.BillingRecord, error)
	ListRecords() ([]models.BillingRecord, error)
	UpdateRecord(rec *models.BillingRecord, patch *UpdatePatch) error
	ActivePlanMappings(provider string) (map[string]entitlements.Plan, error)
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) getRecord(query string, args ...interface{}) (*models.BillingRecord, error) {
	var rec models.BillingRecord
	err := r.db.Where(query, args...).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *gormRepository) GetRecordByUserID(userID uint) (*models.BillingRecord, error) {
	return r.getRecord("user_id = ?", userID)
}

func (r *gormRepository) GetRecordByEmail(email string) (*models.BillingRecord, error) {
	if email == "" {
		return nil, ErrRecordNotFound
	}
	return r.getRecord("email = ?", email)
}

func (r *gormRepository) GetRecordByRemoteCustomerID(customerID string) (*models.BillingRecord, error) {
	if customerID == "" {
		return nil, ErrRecordNotFound
	}
	return r.getRecord("remote_customer_id = ?", customerID)
}

func (r *gormRepository) GetRecordByRemoteSubscriptionID(subscriptionID string) (*models.BillingRecord, error) {
	if subscriptionID == "" {
		return nil, ErrRecordNotFound
	}
	return r.getRecord("remote_subscription_id = ?", subscriptionID)
}

func (r *gormRepository) ListRecords() ([]models.BillingRecord, error) {
	var recs []models.BillingRecord
	err := r.db.Order("user_id ASC").Find(&recs).Error
	return recs, err
}

func (r *gormRepository) UpdateRecord(rec *models.BillingRecord, patch *UpdatePatch) error {
	cols := patch.Columns()
	if len(cols) == 0 {
		return nil
	}
	if err := r.db.Model(&models.BillingRecord{}).Where("id = ?", rec.ID).Updates(cols).Error; err != nil {
		return fmt.Errorf("persisting billing record patch for user %d: %w", rec.UserID, err)
	}
	patch.Apply(rec)
	return nil
}

func (r *gormRepository) ActivePlanMappings(provider string) (map[string]entitlements.Plan, error) {
	var mappings []models.BillingPlanMapping
	err := r.db.
		Where("provider = ? AND is_active = ?", provider, true).
		Find(&mappings).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]entitlements.Plan, len(mappings))
	for _, m := range mappings {
		out[m.ProviderPlanRef] = entitlements.Normalize(m.InternalPlan)
	}
	return out, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
