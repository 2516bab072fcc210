package billing

import (
	"time"

	"github.com/feedbax/feedbax/internal/pkg/entitlements"
)

// RemoteCustomer is a read-only snapshot of a provider customer. It is owned
// entirely by the provider and never mutated locally.
type RemoteCustomer struct {
	ID    string
	Email string
}

// RemoteSubscriptionItem carries the price reference of one subscription line
// item plus the plan tag encoded in the price metadata (may be empty).
type RemoteSubscriptionItem struct {
	PriceRef string
	PlanTag  string
}

// RemoteSubscription is a read-only snapshot of a provider subscription. A
// customer may have several (historical, canceled, one active); only one is
// canonical at any time.
type RemoteSubscription struct {
	ID         string
	CustomerID string
	Status     string
	CreatedAt  time.Time
	Items      []RemoteSubscriptionItem
}

// ResolvedState is the canonical (plan, status) pair derived for a customer
// at a point in time.
type ResolvedState struct {
	Plan           entitlements.Plan
	Status         string
	SubscriptionID string
	CustomerID     string
	CustomerEmail  string
}

// RecordSnapshot captures the reconciliation-relevant fields of a billing
// record for before/after reporting.
type RecordSnapshot struct {
	UserID               uint   `json:"user_id"`
	Email                string `json:"email"`
	RemoteCustomerID     string `json:"remote_customer_id"`
	RemoteSubscriptionID string `json:"remote_subscription_id"`
	Plan                 string `json:"plan"`
	SubscriptionStatus   string `json:"subscription_status"`
}

// ReconcileOutcome reports the result of reconciling one record.
type ReconcileOutcome struct {
	Updated  bool
	Previous RecordSnapshot
	Current  RecordSnapshot
	Resolved ResolvedState
}

// RecordResult is the per-record entry in a sweep summary.
type RecordResult struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Status string `json:"status"` // updated | already_synced | error
	Plan   string `json:"plan,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SweepSummary aggregates one full batch reconciliation pass. The counters
// hold Succeeded+Failed == Total and Updated+AlreadySynced == Succeeded; when
// the sweep deadline expires, Partial is set and the counters cover only the
// records processed so far.
type SweepSummary struct {
	SweepID       string         `json:"sweep_id"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Total         int            `json:"total"`
	Succeeded     int            `json:"succeeded"`
	Failed        int            `json:"failed"`
	Updated       int            `json:"updated"`
	AlreadySynced int            `json:"already_synced"`
	Partial       bool           `json:"partial"`
	Results       []RecordResult `json:"results"`
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}
