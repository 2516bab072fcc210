package billing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/feedbax/feedbax/app/models"
	"github.com/feedbax/feedbax/internal/pkg/entitlements"
	stripe "github.com/stripe/stripe-go/v82"
)

// fakeRepository is an in-memory Repository for service tests.
type fakeRepository struct {
	records     map[uint]*models.BillingRecord
	mappings    map[string]entitlements.Plan
	events      map[string]*models.BillingWebhookEvent
	processed   map[uint]string
	nextEventID uint
	updateCount int
	updateErr   error
}

func newFakeRepository(records ...*models.BillingRecord) *fakeRepository {
	r := &fakeRepository{
		records:   map[uint]*models.BillingRecord{},
		mappings:  map[string]entitlements.Plan{},
		events:    map[string]*models.BillingWebhookEvent{},
		processed: map[uint]string{},
	}
	for _, rec := range records {
		r.records[rec.UserID] = rec
	}
	return r
}

func (r *fakeRepository) GetRecordByUserID(userID uint) (*models.BillingRecord, error) {
	if rec, ok := r.records[userID]; ok {
		return rec, nil
	}
	return nil, ErrRecordNotFound
}

func (r *fakeRepository) GetRecordByEmail(email string) (*models.BillingRecord, error) {
	if email == "" {
		return nil, ErrRecordNotFound
	}
	for _, rec := range r.records {
		if rec.Email == email {
			return rec, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (r *fakeRepository) GetRecordByRemoteCustomerID(customerID string) (*models.BillingRecord, error) {
	if customerID == "" {
		return nil, ErrRecordNotFound
	}
	for _, rec := range r.records {
		if rec.RemoteCustomerID == customerID {
			return rec, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (r *fakeRepository) GetRecordByRemoteSubscriptionID(subscriptionID string) (*models.BillingRecord, error) {
	if subscriptionID == "" {
		return nil, ErrRecordNotFound
	}
	for _, rec := range r.records {
		if rec.RemoteSubscriptionID == subscriptionID {
			return rec, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (r *fakeRepository) ListRecords() ([]models.BillingRecord, error) {
	ids := make([]uint, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]models.BillingRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.records[id])
	}
	return out, nil
}

func (r *fakeRepository) UpdateRecord(rec *models.BillingRecord, patch *UpdatePatch) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	if len(patch.Columns()) == 0 {
		return nil
	}
	r.updateCount++
	patch.Apply(rec)
	if stored, ok := r.records[rec.UserID]; ok && stored != rec {
		patch.Apply(stored)
	}
	return nil
}

func (r *fakeRepository) ActivePlanMappings(provider string) (map[string]entitlements.Plan, error) {
	return r.mappings, nil
}

func (r *fakeRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	key := event.Provider + ":" + event.ProviderEventID
	if stored, ok := r.events[key]; ok {
		return false, stored, nil
	}
	r.nextEventID++
	event.ID = r.nextEventID
	r.events[key] = event
	return true, event, nil
}

func (r *fakeRepository) MarkWebhookProcessed(id uint, processingError string) error {
	r.processed[id] = processingError
	for _, event := range r.events {
		if event.ID == id {
			now := time.Now()
			event.ProcessedAt = &now
			event.ProcessingError = processingError
		}
	}
	return nil
}

// fakeGateway is an in-memory Gateway for service and processor tests.
type fakeGateway struct {
	customers        map[string]*RemoteCustomer
	customersByEmail map[string]*RemoteCustomer
	subscriptions    map[string][]RemoteSubscription
	customerErr      map[string]error
	listErr          map[string]error
	event            *stripe.Event
	verifyErr        error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		customers:        map[string]*RemoteCustomer{},
		customersByEmail: map[string]*RemoteCustomer{},
		subscriptions:    map[string][]RemoteSubscription{},
		customerErr:      map[string]error{},
		listErr:          map[string]error{},
	}
}

func (g *fakeGateway) addCustomer(id, email string, subs ...RemoteSubscription) {
	cust := &RemoteCustomer{ID: id, Email: email}
	g.customers[id] = cust
	if email != "" {
		g.customersByEmail[email] = cust
	}
	g.subscriptions[id] = subs
}

func (g *fakeGateway) FindCustomer(ctx context.Context, customerID string) (*RemoteCustomer, error) {
	if err, ok := g.customerErr[customerID]; ok {
		return nil, err
	}
	if cust, ok := g.customers[customerID]; ok {
		return cust, nil
	}
	return nil, ErrCustomerNotFound
}

func (g *fakeGateway) FindCustomerByEmail(ctx context.Context, email string) (*RemoteCustomer, error) {
	if cust, ok := g.customersByEmail[email]; ok {
		return cust, nil
	}
	return nil, ErrCustomerNotFound
}

func (g *fakeGateway) ListSubscriptions(ctx context.Context, customerID string) ([]RemoteSubscription, error) {
	if err, ok := g.listErr[customerID]; ok {
		return nil, err
	}
	return g.subscriptions[customerID], nil
}

func (g *fakeGateway) VerifyWebhook(payload []byte, signatureHeader string) (*stripe.Event, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	if g.event != nil {
		return g.event, nil
	}
	return nil, fmt.Errorf("%w: no event configured", ErrSignatureInvalid)
}

// fakeLocker simulates the sweep lock.
type fakeLocker struct {
	available bool
	held      bool
}

func (l *fakeLocker) Acquire(ttl time.Duration) (bool, error) {
	if !l.available {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLocker) Release() error {
	l.held = false
	return nil
}
