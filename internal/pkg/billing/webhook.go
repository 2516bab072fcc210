package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/feedbax/feedbax/app/models"
	"github.com/feedbax/feedbax/internal/pkg/entitlements"
	stripe "github.com/stripe/stripe-go/v82"
)

// Checkout session metadata keys set by the checkout flow when the session
// is created. Without them the completed event cannot be attributed to a
// local account.
const (
	MetadataUserIDKey = "userId"
	MetadataPlanKey   = "plan"
)

// WebhookOutcome describes what happened to an accepted webhook delivery.
// Dropped events are still acknowledged with success: the data needed to act
// on them is missing from the event itself, so a provider retry cannot help.
type WebhookOutcome struct {
	EventType string
	Duplicate bool
	Ignored   bool
	Dropped   bool
	Reason    string
}

// Processor verifies signed webhook payloads and routes them by event type.
// No event is ever processed unverified; forged entitlement grants are the
// attack this guards against.
type Processor struct {
	svc *Service
	gw  Gateway
}

// NewProcessor creates a webhook processor.
func NewProcessor(svc *Service, gw Gateway) *Processor {
	return &Processor{svc: svc, gw: gw}
}

// Process handles one webhook delivery. Every branch resolves to a definite
// outcome or error so the HTTP layer always answers deterministically and
// the provider's delivery retry policy stays predictable. Handlers only set
// absolute values, so redelivering any event reproduces the same final
// record state.
func (p *Processor) Process(ctx context.Context, payload []byte, signatureHeader string) (*WebhookOutcome, error) {
	event, verifyErr := p.gw.VerifyWebhook(payload, signatureHeader)
	if verifyErr != nil {
		// Keep a trace of rejected deliveries, then refuse.
		created, stored, err := p.svc.RecordWebhookEvent(ctx, WebhookEventInput{
			Provider:       models.BillingProviderStripe,
			PayloadJSON:    string(payload),
			SignatureValid: false,
		})
		if err == nil && created {
			_ = p.svc.MarkWebhookProcessed(ctx, stored.ID, verifyErr)
		}
		return nil, verifyErr
	}

	outcome := &WebhookOutcome{EventType: string(event.Type)}

	created, stored, err := p.svc.RecordWebhookEvent(ctx, WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(payload),
		SignatureValid:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("persisting webhook event: %w", err)
	}
	if !created {
		if eventHandled(stored) {
			outcome.Duplicate = true
			return outcome, nil
		}
		// The row exists but an earlier delivery failed before handling
		// finished. The provider retried for exactly this case; route the
		// event again instead of deduplicating it.
	}

	handleErr := p.route(ctx, event, outcome)
	_ = p.svc.MarkWebhookProcessed(ctx, stored.ID, handleErr)

	if handleErr != nil {
		switch {
		case errors.Is(handleErr, ErrRecordNotFound):
			// No user to update; nothing a redelivery could fix.
			log.Printf("billing webhook: dropping %s, no matching local record", event.Type)
			outcome.Dropped = true
			outcome.Reason = "no matching local record"
			return outcome, nil
		case errors.Is(handleErr, ErrMalformedEvent):
			log.Printf("billing webhook: dropping %s: %v", event.Type, handleErr)
			outcome.Dropped = true
			outcome.Reason = handleErr.Error()
			return outcome, nil
		default:
			return nil, handleErr
		}
	}
	return outcome, nil
}

// eventHandled reports whether a stored event row was routed to completion.
// A row written before its handler failed keeps the processing error; only a
// clean run counts, so provider retries of half-processed deliveries are not
// mistaken for duplicates.
func eventHandled(event *models.BillingWebhookEvent) bool {
	return event.ProcessedAt != nil && event.ProcessingError == ""
}

func (p *Processor) route(ctx context.Context, event *stripe.Event, outcome *WebhookOutcome) error {
	switch string(event.Type) {
	case "checkout.session.completed":
		return p.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.updated":
		return p.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return p.handleSubscriptionDeleted(ctx, event)
	default:
		// The provider adds event types at will; failing unknown ones would
		// only cause delivery retry storms.
		outcome.Ignored = true
		return nil
	}
}

func (p *Processor) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("%w: undecodable checkout session: %v", ErrMalformedEvent, err)
	}

	rawUserID := strings.TrimSpace(session.Metadata[MetadataUserIDKey])
	rawPlan := strings.TrimSpace(session.Metadata[MetadataPlanKey])
	if rawUserID == "" || rawPlan == "" {
		return fmt.Errorf("%w: checkout session missing userId/plan metadata", ErrMalformedEvent)
	}
	userID, err := strconv.ParseUint(rawUserID, 10, 32)
	if err != nil {
		return fmt.Errorf("%w: checkout session userId %q is not numeric", ErrMalformedEvent, rawUserID)
	}
	plan := entitlements.Normalize(rawPlan)
	if !entitlements.IsPaid(plan) {
		return fmt.Errorf("%w: checkout session plan %q is not a paid plan", ErrMalformedEvent, rawPlan)
	}

	customerID := ""
	if session.Customer != nil {
		customerID = session.Customer.ID
	}
	subscriptionID := ""
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
	}

	return p.svc.ApplyCheckoutCompleted(ctx, uint(userID), plan, customerID, subscriptionID)
}

func (p *Processor) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event) error {
	sub, err := decodeEventSubscription(event)
	if err != nil {
		return err
	}
	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	return p.svc.ApplySubscriptionUpdated(ctx, customerID, sub.ID, string(sub.Status))
}

func (p *Processor) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	sub, err := decodeEventSubscription(event)
	if err != nil {
		return err
	}
	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	return p.svc.ApplySubscriptionDeleted(ctx, customerID, sub.ID)
}

func decodeEventSubscription(event *stripe.Event) (*stripe.Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("%w: undecodable subscription payload: %v", ErrMalformedEvent, err)
	}
	if sub.ID == "" {
		return nil, fmt.Errorf("%w: subscription event missing id", ErrMalformedEvent)
	}
	return &sub, nil
}
