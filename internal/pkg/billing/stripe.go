package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/feedbax/feedbax/internal/pkg/env"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// PlanMetadataKey is the price metadata key carrying the internal plan tag.
const PlanMetadataKey = "plan"

// Gateway is the typed client against the payment provider. All methods are
// reads; no writes are ever issued against the provider. Implementations map
// provider failures onto the package error taxonomy so callers can tell a
// missing customer from a provider outage.
type Gateway interface {
	FindCustomer(ctx context.Context, customerID string) (*RemoteCustomer, error)
	FindCustomerByEmail(ctx context.Context, email string) (*RemoteCustomer, error)
	ListSubscriptions(ctx context.Context, customerID string) ([]RemoteSubscription, error)
	VerifyWebhook(payload []byte, signatureHeader string) (*stripe.Event, error)
}

// StripeGateway wraps an injected stripe client. No package-level singleton:
// tests substitute a fake through the Gateway interface.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway creates a gateway from an API key and webhook secret.
func NewStripeGateway(apiKey, webhookSecret string) *StripeGateway {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeGateway{
		api:           api,
		webhookSecret: webhookSecret,
	}
}

// NewStripeGatewayFromEnv creates a gateway from STRIPE_SECRET_KEY and
// STRIPE_WEBHOOK_SECRET.
func NewStripeGatewayFromEnv() *StripeGateway {
	return NewStripeGateway(
		strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
	)
}

func (g *StripeGateway) FindCustomer(ctx context.Context, customerID string) (*RemoteCustomer, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, ErrCustomerNotFound
	}

	params := &stripe.CustomerParams{Params: stripe.Params{Context: ctx}}
	cust, err := g.api.Customers.Get(customerID, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	// A deleted customer is equivalent to no customer.
	if cust.Deleted {
		return nil, ErrCustomerNotFound
	}
	return toRemoteCustomer(cust), nil
}

func (g *StripeGateway) FindCustomerByEmail(ctx context.Context, email string) (*RemoteCustomer, error) {
	if strings.TrimSpace(email) == "" {
		return nil, ErrCustomerNotFound
	}

	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := g.api.Customers.List(params)
	for iter.Next() {
		cust := iter.Customer()
		if cust.Deleted {
			continue
		}
		return toRemoteCustomer(cust), nil
	}
	if err := iter.Err(); err != nil {
		return nil, mapStripeError(err)
	}
	return nil, ErrCustomerNotFound
}

func (g *StripeGateway) ListSubscriptions(ctx context.Context, customerID string) ([]RemoteSubscription, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, ErrCustomerNotFound
	}

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx

	var subs []RemoteSubscription
	iter := g.api.Subscriptions.List(params)
	for iter.Next() {
		subs = append(subs, toRemoteSubscription(iter.Subscription()))
	}
	if err := iter.Err(); err != nil {
		return nil, mapStripeError(err)
	}
	return subs, nil
}

func (g *StripeGateway) VerifyWebhook(payload []byte, signatureHeader string) (*stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return &event, nil
}

func toRemoteCustomer(cust *stripe.Customer) *RemoteCustomer {
	return &RemoteCustomer{
		ID:    cust.ID,
		Email: strings.TrimSpace(cust.Email),
	}
}

func toRemoteSubscription(sub *stripe.Subscription) RemoteSubscription {
	out := RemoteSubscription{
		ID:        sub.ID,
		Status:    string(sub.Status),
		CreatedAt: time.Unix(sub.Created, 0).UTC(),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item.Price == nil {
				continue
			}
			out.Items = append(out.Items, RemoteSubscriptionItem{
				PriceRef: item.Price.ID,
				PlanTag:  item.Price.Metadata[PlanMetadataKey],
			})
		}
	}
	return out
}

// mapStripeError sorts provider failures into "the customer does not exist"
// vs "the provider could not answer". Callers must never treat an outage as
// a missing customer, that would downgrade paying users.
func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return ErrCustomerNotFound
		}
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
