package billing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/feedbax/feedbax/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
)

func stripeEvent(id, eventType, raw string) *stripe.Event {
	return &stripe.Event{
		ID:   id,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: json.RawMessage(raw)},
	}
}

func TestProcessRejectsInvalidSignature(t *testing.T) {
	repo := newFakeRepository()
	gw := newFakeGateway()
	gw.verifyErr = ErrSignatureInvalid
	svc := NewService(repo, gw)
	p := NewProcessor(svc, gw)

	outcome, err := p.Process(context.Background(), []byte(`{"id":"evt_1"}`), "bad-sig")
	assert.ErrorIs(t, err, ErrSignatureInvalid)
	assert.Nil(t, outcome)

	// The rejected delivery is still recorded for the audit trail.
	require.Len(t, repo.events, 1)
	for _, event := range repo.events {
		assert.False(t, event.SignatureValid)
	}
}

func TestProcessDeduplicatesRedelivery(t *testing.T) {
	rec := freeRecord(7, "a@b.com")
	repo := newFakeRepository(rec)
	gw := newFakeGateway()
	gw.event = stripeEvent("evt_1", "checkout.session.completed",
		`{"id":"cs_1","customer":"cus_7","subscription":"sub_7","metadata":{"userId":"7","plan":"pro"}}`)
	svc := NewService(repo, gw)
	p := NewProcessor(svc, gw)

	outcome, err := p.Process(context.Background(), []byte(`payload`), "sig")
	require.NoError(t, err)
	assert.False(t, outcome.Duplicate)
	assert.Equal(t, "pro", rec.Plan)
	assert.Equal(t, 1, repo.updateCount)

	outcome, err = p.Process(context.Background(), []byte(`payload`), "sig")
	require.NoError(t, err)
	assert.True(t, outcome.Duplicate)
	assert.Equal(t, 1, repo.updateCount, "redelivery must not reprocess")
}

func TestProcessRetriesDeliveryAfterFailedHandling(t *testing.T) {
	rec := freeRecord(7, "a@b.com")
	repo := newFakeRepository(rec)
	gw := newFakeGateway()
	gw.event = stripeEvent("evt_1", "checkout.session.completed",
		`{"id":"cs_1","customer":"cus_7","subscription":"sub_7","metadata":{"userId":"7","plan":"pro"}}`)
	p := NewProcessor(NewService(repo, gw), gw)

	// First delivery: the event row is persisted, then the record write
	// fails. The provider gets a 5xx and will redeliver.
	repo.updateErr = errors.New("deadlock on billing_records")
	_, err := p.Process(context.Background(), []byte(`payload`), "sig")
	require.Error(t, err)
	assert.Equal(t, "free", rec.Plan)

	// The redelivery must be routed again, not swallowed as a duplicate:
	// the stored row still carries the processing error.
	repo.updateErr = nil
	outcome, err := p.Process(context.Background(), []byte(`payload`), "sig")
	require.NoError(t, err)
	assert.False(t, outcome.Duplicate)
	assert.Equal(t, "pro", rec.Plan)

	// Only after a clean run does the same event dedupe.
	outcome, err = p.Process(context.Background(), []byte(`payload`), "sig")
	require.NoError(t, err)
	assert.True(t, outcome.Duplicate)
	assert.Equal(t, 1, repo.updateCount)
}

func TestProcessCheckoutCompleted(t *testing.T) {
	rec := freeRecord(7, "a@b.com")
	repo := newFakeRepository(rec)
	gw := newFakeGateway()
	gw.event = stripeEvent("evt_1", "checkout.session.completed",
		`{"id":"cs_1","customer":"cus_7","subscription":"sub_7","metadata":{"userId":"7","plan":"business"}}`)
	svc := NewService(repo, gw)
	p := NewProcessor(svc, gw)

	outcome, err := p.Process(context.Background(), []byte(`payload`), "sig")
	require.NoError(t, err)
	assert.False(t, outcome.Dropped)

	assert.Equal(t, "business", rec.Plan)
	assert.Equal(t, models.BillingStatusActive, rec.SubscriptionStatus)
	assert.Equal(t, "cus_7", rec.RemoteCustomerID)
	assert.Equal(t, "sub_7", rec.RemoteSubscriptionID)
	assert.Empty(t, repo.processed[1], "processed without error")
}

func TestProcessCheckoutMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "missing metadata", raw: `{"id":"cs_1","metadata":{}}`},
		{name: "non-numeric user id", raw: `{"id":"cs_1","metadata":{"userId":"abc","plan":"pro"}}`},
		{name: "free plan", raw: `{"id":"cs_1","metadata":{"userId":"7","plan":"free"}}`},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := freeRecord(7, "a@b.com")
			repo := newFakeRepository(rec)
			gw := newFakeGateway()
			gw.event = stripeEvent("evt_"+tt.name, "checkout.session.completed", tt.raw)
			p := NewProcessor(NewService(repo, gw), gw)

			outcome, err := p.Process(context.Background(), []byte(`payload`), "sig")
			require.NoError(t, err, "malformed events are acknowledged, not retried")
			assert.True(t, outcome.Dropped, "case %d", i)
			assert.NotEmpty(t, outcome.Reason)
			assert.Equal(t, 0, repo.updateCount)
		})
	}
}

func TestProcessSubscriptionUpdated(t *testing.T) {
	rec := paidRecord(1, "a@b.com", "cus_1", "sub_1")
	repo := newFakeRepository(rec)
	gw := newFakeGateway()
	gw.event = stripeEvent("evt_1", "customer.subscription.updated",
		`{"id":"sub_1","customer":"cus_1","status":"past_due"}`)
	p := NewProcessor(NewService(repo, gw), gw)

	outcome, err := p.Process(context.Background(), []byte(`payload`), "sig")
	require.NoError(t, err)
	assert.False(t, outcome.Dropped)
	assert.Equal(t, models.BillingStatusPastDue, rec.SubscriptionStatus)
	assert.Equal(t, "pro", rec.Plan)
}

func TestProcessSubscriptionDeleted(t *testing.T) {
	rec := paidRecord(1, "a@b.com", "cus_1", "sub_1")
	repo := newFakeRepository(rec)
	gw := newFakeGateway()
	gw.event = stripeEvent("evt_1", "customer.subscription.deleted",
		`{"id":"sub_1","customer":"cus_1","status":"canceled"}`)
	p := NewProcessor(NewService(repo, gw), gw)

	outcome, err := p.Process(context.Background(), []byte(`payload`), "sig")
	require.NoError(t, err)
	assert.False(t, outcome.Dropped)
	assert.Equal(t, "free", rec.Plan)
	assert.Equal(t, models.BillingStatusCanceled, rec.SubscriptionStatus)
}

func TestProcessSubscriptionEventNoLocalRecord(t *testing.T) {
	repo := newFakeRepository()
	gw := newFakeGateway()
	gw.event = stripeEvent("evt_1", "customer.subscription.updated",
		`{"id":"sub_ghost","customer":"cus_ghost","status":"active"}`)
	p := NewProcessor(NewService(repo, gw), gw)

	outcome, err := p.Process(context.Background(), []byte(`payload`), "sig")
	require.NoError(t, err)
	assert.True(t, outcome.Dropped)
	assert.Equal(t, "no matching local record", outcome.Reason)
}

func TestProcessUnknownEventTypeIgnored(t *testing.T) {
	repo := newFakeRepository()
	gw := newFakeGateway()
	gw.event = stripeEvent("evt_1", "invoice.payment_succeeded", `{"id":"in_1"}`)
	p := NewProcessor(NewService(repo, gw), gw)

	outcome, err := p.Process(context.Background(), []byte(`payload`), "sig")
	require.NoError(t, err)
	assert.True(t, outcome.Ignored)
	assert.False(t, outcome.Dropped)
}

func TestProcessSubscriptionEventMissingID(t *testing.T) {
	repo := newFakeRepository()
	gw := newFakeGateway()
	gw.event = stripeEvent("evt_1", "customer.subscription.deleted", `{"status":"canceled"}`)
	p := NewProcessor(NewService(repo, gw), gw)

	outcome, err := p.Process(context.Background(), []byte(`payload`), "sig")
	require.NoError(t, err)
	assert.True(t, outcome.Dropped)
}
