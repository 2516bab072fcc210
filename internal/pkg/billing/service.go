package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/feedbax/feedbax/app/models"
	"github.com/feedbax/feedbax/internal/pkg/entitlements"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service drives billing-state reconciliation: it compares local billing
// records against the provider's canonical subscription state and applies
// the minimal patch that removes the drift.
type Service struct {
	repo Repository
	gw   Gateway
	lock SweepLocker
}

// NewService creates a billing service from injected dependencies. No sweep
// lock is attached; tests and single-user paths don't need one.
func NewService(repo Repository, gw Gateway) *Service {
	return &Service{repo: repo, gw: gw}
}

// NewServiceFromDB creates a billing service from a GORM DB handle with the
// shared-cache sweep lock attached.
func NewServiceFromDB(db *gorm.DB, gw Gateway) *Service {
	return &Service{repo: NewRepository(db), gw: gw, lock: cacheSweepLocker{}}
}

// WithSweepLocker replaces the sweep locker, mainly for tests.
func (s *Service) WithSweepLocker(lock SweepLocker) *Service {
	s.lock = lock
	return s
}

// RecordWebhookEvent persists webhook payloads idempotently. Events without
// a provider id are keyed by a payload hash so redeliveries still dedupe.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// ApplyCheckoutCompleted directly applies a completed checkout to the user's
// record. Checkout is the most authoritative and lowest-latency signal of a
// new paid plan, so this sets absolute values instead of running a full
// reconcile. Idempotent: replaying the same checkout changes nothing.
func (s *Service) ApplyCheckoutCompleted(ctx context.Context, userID uint, plan entitlements.Plan, customerID, subscriptionID string) error {
	_ = ctx
	rec, err := s.repo.GetRecordByUserID(userID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	patch := &UpdatePatch{}
	changed := false
	if rec.Plan != string(plan) {
		p := string(plan)
		patch.Plan = &p
		patch.PlanUpdatedAt = &now
		changed = true
	}
	if rec.SubscriptionStatus != models.BillingStatusActive {
		status := models.BillingStatusActive
		patch.SubscriptionStatus = &status
		patch.SubscriptionUpdatedAt = &now
		changed = true
	}
	if customerID != "" && rec.RemoteCustomerID != customerID {
		id := customerID
		patch.RemoteCustomerID = &id
		changed = true
	}
	if subscriptionID != "" && rec.RemoteSubscriptionID != subscriptionID {
		id := subscriptionID
		patch.RemoteSubscriptionID = &id
		changed = true
	}
	if !changed {
		return nil
	}
	return s.repo.UpdateRecord(rec, patch)
}

// lookupStrategy is one way of resolving a provider-side identity to a local
// record. Strategies are tried in order; referential integrity between the
// two systems is weak enough that no single key can be relied on.
type lookupStrategy func() (*models.BillingRecord, error)

func (s *Service) findRecord(strategies ...lookupStrategy) (*models.BillingRecord, error) {
	for _, strategy := range strategies {
		rec, err := strategy()
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, ErrRecordNotFound
}

// findRecordForSubscription locates the local record for a subscription
// event: by the cached customer id first, then by the subscription id itself
// (covers records whose customer id changed or was never persisted).
func (s *Service) findRecordForSubscription(customerID, subscriptionID string) (*models.BillingRecord, error) {
	return s.findRecord(
		func() (*models.BillingRecord, error) { return s.repo.GetRecordByRemoteCustomerID(customerID) },
		func() (*models.BillingRecord, error) { return s.repo.GetRecordByRemoteSubscriptionID(subscriptionID) },
	)
}

// ApplySubscriptionUpdated applies a provider-pushed status change directly.
// The event is authoritative for its own subscription id. A canceled status
// also drops the plan to free to keep the paid-implies-not-canceled
// invariant intact.
func (s *Service) ApplySubscriptionUpdated(ctx context.Context, customerID, subscriptionID, status string) error {
	_ = ctx
	rec, err := s.findRecordForSubscription(customerID, subscriptionID)
	if err != nil {
		return err
	}

	status = strings.ToLower(strings.TrimSpace(status))
	now := time.Now().UTC()
	patch := &UpdatePatch{}
	changed := false
	if rec.SubscriptionStatus != status {
		st := status
		patch.SubscriptionStatus = &st
		patch.SubscriptionUpdatedAt = &now
		changed = true
	}
	if status == models.BillingStatusCanceled && rec.Plan != string(entitlements.PlanFree) {
		free := string(entitlements.PlanFree)
		patch.Plan = &free
		patch.PlanUpdatedAt = &now
		changed = true
	}
	if customerID != "" && rec.RemoteCustomerID != customerID {
		id := customerID
		patch.RemoteCustomerID = &id
		changed = true
	}
	if subscriptionID != "" && rec.RemoteSubscriptionID != subscriptionID {
		id := subscriptionID
		patch.RemoteSubscriptionID = &id
		changed = true
	}
	if !changed {
		return nil
	}
	return s.repo.UpdateRecord(rec, patch)
}

// ApplySubscriptionDeleted forces the record back to free/canceled.
// Idempotent: a redelivered delete finds nothing left to change.
func (s *Service) ApplySubscriptionDeleted(ctx context.Context, customerID, subscriptionID string) error {
	_ = ctx
	rec, err := s.findRecordForSubscription(customerID, subscriptionID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	patch := &UpdatePatch{}
	changed := false
	if rec.Plan != string(entitlements.PlanFree) {
		free := string(entitlements.PlanFree)
		patch.Plan = &free
		patch.PlanUpdatedAt = &now
		changed = true
	}
	if rec.SubscriptionStatus != models.BillingStatusCanceled {
		canceled := models.BillingStatusCanceled
		patch.SubscriptionStatus = &canceled
		patch.SubscriptionUpdatedAt = &now
		changed = true
	}
	if !changed {
		return nil
	}
	return s.repo.UpdateRecord(rec, patch)
}

// resolveRemoteState derives the canonical state for one record from the
// provider: customer lookup by cached id first, then by email. A customer
// missing everywhere resolves to free/canceled, the same as a customer with
// no live subscription. Provider outages propagate as errors instead, so an
// unreachable provider never downgrades anyone.
func (s *Service) resolveRemoteState(ctx context.Context, rec *models.BillingRecord) (ResolvedState, error) {
	var cust *RemoteCustomer
	var err error

	if rec.RemoteCustomerID != "" {
		cust, err = s.gw.FindCustomer(ctx, rec.RemoteCustomerID)
		if err != nil && !errors.Is(err, ErrCustomerNotFound) {
			return ResolvedState{}, err
		}
	}
	if cust == nil && rec.Email != "" {
		cust, err = s.gw.FindCustomerByEmail(ctx, rec.Email)
		if err != nil && !errors.Is(err, ErrCustomerNotFound) {
			return ResolvedState{}, err
		}
	}
	if cust == nil {
		return ResolvedState{
			Plan:   entitlements.PlanFree,
			Status: models.BillingStatusCanceled,
		}, nil
	}

	subs, err := s.gw.ListSubscriptions(ctx, cust.ID)
	if err != nil {
		return ResolvedState{}, err
	}
	planMap, err := s.repo.ActivePlanMappings(models.BillingProviderStripe)
	if err != nil {
		return ResolvedState{}, err
	}

	resolved := Resolve(subs, planMap)
	resolved.CustomerID = cust.ID
	resolved.CustomerEmail = cust.Email
	return resolved, nil
}

// ReconcileRecord reconciles one record against the provider and persists
// the patch when the record has drifted.
func (s *Service) ReconcileRecord(ctx context.Context, rec *models.BillingRecord) (*ReconcileOutcome, error) {
	resolved, err := s.resolveRemoteState(ctx, rec)
	if err != nil {
		return nil, err
	}

	outcome := &ReconcileOutcome{
		Previous: Snapshot(rec),
		Resolved: resolved,
	}

	patch := BuildPatch(rec, resolved, time.Now().UTC())
	if patch == nil {
		outcome.Current = outcome.Previous
		return outcome, nil
	}
	if err := s.repo.UpdateRecord(rec, patch); err != nil {
		return nil, err
	}
	outcome.Updated = true
	outcome.Current = Snapshot(rec)
	return outcome, nil
}

// ReconcileUserByEmail is the single-user reconcile entry point. When no
// record carries the email directly, the provider may still know it: the
// customer found by email leads back to a record via the cached customer id.
func (s *Service) ReconcileUserByEmail(ctx context.Context, email string) (*ReconcileOutcome, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrRecordNotFound
	}

	rec, err := s.findRecord(
		func() (*models.BillingRecord, error) { return s.repo.GetRecordByEmail(email) },
		func() (*models.BillingRecord, error) {
			cust, err := s.gw.FindCustomerByEmail(ctx, email)
			if err != nil {
				if errors.Is(err, ErrCustomerNotFound) {
					return nil, ErrRecordNotFound
				}
				return nil, err
			}
			return s.repo.GetRecordByRemoteCustomerID(cust.ID)
		},
	)
	if err != nil {
		return nil, err
	}
	return s.ReconcileRecord(ctx, rec)
}

const sweepLockTTL = 30 * time.Minute

// ReconcileAll sweeps every local record. Each record is isolated: a
// provider timeout or bad record is counted and reported, never aborts the
// sweep. The context deadline is checked between records; on expiry the
// summary is returned partial rather than failing outright.
func (s *Service) ReconcileAll(ctx context.Context) (*SweepSummary, error) {
	if s.lock != nil {
		ok, err := s.lock.Acquire(sweepLockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquiring sweep lock: %w", err)
		}
		if !ok {
			return nil, ErrSweepInProgress
		}
		defer s.lock.Release()
	}

	summary := &SweepSummary{
		SweepID:   uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Results:   []RecordResult{},
	}

	records, err := s.repo.ListRecords()
	if err != nil {
		return nil, fmt.Errorf("listing billing records: %w", err)
	}

	for i := range records {
		if ctx.Err() != nil {
			summary.Partial = true
			break
		}

		rec := &records[i]
		result := RecordResult{UserID: rec.UserID, Email: rec.Email}
		summary.Total++

		outcome, err := s.ReconcileRecord(ctx, rec)
		if err != nil {
			summary.Failed++
			result.Status = "error"
			result.Error = err.Error()
			summary.Results = append(summary.Results, result)
			continue
		}

		summary.Succeeded++
		result.Plan = rec.Plan
		if outcome.Updated {
			summary.Updated++
			result.Status = "updated"
		} else {
			summary.AlreadySynced++
			result.Status = "already_synced"
		}
		summary.Results = append(summary.Results, result)
	}

	summary.FinishedAt = time.Now().UTC()
	return summary, nil
}
