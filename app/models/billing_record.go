package models

import (
	"time"

	"gorm.io/gorm"
)

// Billing provider constants used across billing-related models.
const (
	BillingProviderStripe = "stripe"
)

const (
	BillingStatusActive   = "active"
	BillingStatusTrialing = "trialing"
	BillingStatusPastDue  = "past_due"
	BillingStatusCanceled = "canceled"
)

// BillingRecord is the local source of truth for a user's entitlement. The
// payment provider stays the source of truth for money; reconciliation keeps
// the two aligned. One record exists per user, created with the account and
// never deleted while the account exists.
type BillingRecord struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	UserID                uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	Email                 string     `gorm:"type:varchar(200);default:'';index" json:"email"`
	RemoteCustomerID      string     `gorm:"type:varchar(191);default:'';index" json:"remote_customer_id"`
	RemoteSubscriptionID  string     `gorm:"type:varchar(191);default:'';index" json:"remote_subscription_id"`
	Plan                  string     `gorm:"type:varchar(50);not null;default:'free';index" json:"plan"`
	SubscriptionStatus    string     `gorm:"type:varchar(32);not null;default:'canceled'" json:"subscription_status"`
	PlanUpdatedAt         *time.Time `gorm:"type:timestamp;default:null" json:"plan_updated_at,omitempty"`
	SubscriptionUpdatedAt *time.Time `gorm:"type:timestamp;default:null" json:"subscription_updated_at,omitempty"`
	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsDrifted reports the record invariant violation: a paid plan must never
// pair with a canceled (or missing) subscription status.
func (r *BillingRecord) IsDrifted() bool {
	return r.Plan != "" && r.Plan != "free" &&
		(r.SubscriptionStatus == "" || r.SubscriptionStatus == BillingStatusCanceled)
}

// GetOrCreateBillingRecord fetches the billing record for a user, creating
// the default free record when none exists yet.
func GetOrCreateBillingRecord(db *gorm.DB, userID uint, email string) (*BillingRecord, error) {
	var rec BillingRecord
	err := db.Where("user_id = ?", userID).First(&rec).Error
	if err == nil {
		return &rec, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	rec = BillingRecord{
		UserID:             userID,
		Email:              email,
		Plan:               "free",
		SubscriptionStatus: BillingStatusCanceled,
	}
	if err := db.Create(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}
