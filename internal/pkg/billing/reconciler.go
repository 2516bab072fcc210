package billing

import (
	"strings"
	"time"

	"github.com/feedbax/feedbax/app/models"
)

// UpdatePatch is a minimal field-level patch against a billing record. Nil
// pointers mean "leave untouched"; the reconciler never deletes a field.
type UpdatePatch struct {
	Plan                  *string
	SubscriptionStatus    *string
	RemoteCustomerID      *string
	RemoteSubscriptionID  *string
	Email                 *string
	PlanUpdatedAt         *time.Time
	SubscriptionUpdatedAt *time.Time
}

// Columns renders the patch as a column map for the record store.
func (p *UpdatePatch) Columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if p.Plan != nil {
		cols["plan"] = *p.Plan
	}
	if p.SubscriptionStatus != nil {
		cols["subscription_status"] = *p.SubscriptionStatus
	}
	if p.RemoteCustomerID != nil {
		cols["remote_customer_id"] = *p.RemoteCustomerID
	}
	if p.RemoteSubscriptionID != nil {
		cols["remote_subscription_id"] = *p.RemoteSubscriptionID
	}
	if p.Email != nil {
		cols["email"] = *p.Email
	}
	if p.PlanUpdatedAt != nil {
		cols["plan_updated_at"] = *p.PlanUpdatedAt
	}
	if p.SubscriptionUpdatedAt != nil {
		cols["subscription_updated_at"] = *p.SubscriptionUpdatedAt
	}
	return cols
}

// Apply mutates rec with the patched values after a successful write.
func (p *UpdatePatch) Apply(rec *models.BillingRecord) {
	if p.Plan != nil {
		rec.Plan = *p.Plan
	}
	if p.SubscriptionStatus != nil {
		rec.SubscriptionStatus = *p.SubscriptionStatus
	}
	if p.RemoteCustomerID != nil {
		rec.RemoteCustomerID = *p.RemoteCustomerID
	}
	if p.RemoteSubscriptionID != nil {
		rec.RemoteSubscriptionID = *p.RemoteSubscriptionID
	}
	if p.Email != nil {
		rec.Email = *p.Email
	}
	if p.PlanUpdatedAt != nil {
		rec.PlanUpdatedAt = p.PlanUpdatedAt
	}
	if p.SubscriptionUpdatedAt != nil {
		rec.SubscriptionUpdatedAt = p.SubscriptionUpdatedAt
	}
}

// BuildPatch compares a local record against the resolved remote state and
// returns the minimal patch that removes the drift, or nil when every tracked
// field already matches. Reconciling a freshly patched record therefore
// yields nil: the operation converges.
//
// Email is backfilled one way only: set when the local record has none and
// the remote customer has one, never overwriting a non-empty local value
// with provider data.
func BuildPatch(rec *models.BillingRecord, remote ResolvedState, now time.Time) *UpdatePatch {
	patch := &UpdatePatch{}
	changed := false

	if rec.Plan != string(remote.Plan) {
		plan := string(remote.Plan)
		patch.Plan = &plan
		patch.PlanUpdatedAt = &now
		changed = true
	}
	if rec.SubscriptionStatus != remote.Status {
		status := remote.Status
		patch.SubscriptionStatus = &status
		patch.SubscriptionUpdatedAt = &now
		changed = true
	}
	if remote.CustomerID != "" && rec.RemoteCustomerID != remote.CustomerID {
		id := remote.CustomerID
		patch.RemoteCustomerID = &id
		changed = true
	}
	if remote.SubscriptionID != "" && rec.RemoteSubscriptionID != remote.SubscriptionID {
		id := remote.SubscriptionID
		patch.RemoteSubscriptionID = &id
		changed = true
	}
	if strings.TrimSpace(rec.Email) == "" && strings.TrimSpace(remote.CustomerEmail) != "" {
		email := strings.TrimSpace(remote.CustomerEmail)
		patch.Email = &email
		changed = true
	}

	if !changed {
		return nil
	}
	return patch
}

// Snapshot captures the reconciliation-relevant fields of a record.
func Snapshot(rec *models.BillingRecord) RecordSnapshot {
	return RecordSnapshot{
		UserID:               rec.UserID,
		Email:                rec.Email,
		RemoteCustomerID:     rec.RemoteCustomerID,
		RemoteSubscriptionID: rec.RemoteSubscriptionID,
		Plan:                 rec.Plan,
		SubscriptionStatus:   rec.SubscriptionStatus,
	}
}
