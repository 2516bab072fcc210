package billing

import (
	"strings"

	"github.com/feedbax/feedbax/app/models"
	"github.com/feedbax/feedbax/internal/pkg/entitlements"
)

// isLiveStatus reports whether a subscription status still grants access.
func isLiveStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.BillingStatusActive, models.BillingStatusTrialing, models.BillingStatusPastDue:
		return true
	default:
		return false
	}
}

// Resolve derives the canonical (plan, status) pair from a customer's remote
// subscriptions. planByPriceRef maps provider price references to internal
// plans for prices that carry no plan tag in their metadata.
//
// Among live subscriptions the most recently created one wins; overlapping
// subscriptions appear during plan changes and the newer one reflects the
// customer's latest decision. With no live subscription the customer is on
// free/canceled. Deterministic and side-effect free.
func Resolve(subs []RemoteSubscription, planByPriceRef map[string]entitlements.Plan) ResolvedState {
	var chosen *RemoteSubscription
	for i := range subs {
		if !isLiveStatus(subs[i].Status) {
			continue
		}
		if chosen == nil || subs[i].CreatedAt.After(chosen.CreatedAt) {
			chosen = &subs[i]
		}
	}

	if chosen == nil {
		return ResolvedState{
			Plan:   entitlements.PlanFree,
			Status: models.BillingStatusCanceled,
		}
	}

	return ResolvedState{
		Plan:           planForSubscription(chosen, planByPriceRef),
		Status:         strings.ToLower(strings.TrimSpace(chosen.Status)),
		SubscriptionID: chosen.ID,
		CustomerID:     chosen.CustomerID,
	}
}

// planForSubscription reads the plan from the first line item: metadata tag
// first, then the operator-maintained price mapping, then the lowest paid
// tier. A missing tag must not block entitlement for a live subscription.
func planForSubscription(sub *RemoteSubscription, planByPriceRef map[string]entitlements.Plan) entitlements.Plan {
	if len(sub.Items) == 0 {
		return entitlements.PlanPro
	}

	item := sub.Items[0]
	if tag := strings.TrimSpace(item.PlanTag); tag != "" {
		if plan := entitlements.Normalize(tag); entitlements.IsPaid(plan) {
			return plan
		}
	}
	if plan, ok := planByPriceRef[item.PriceRef]; ok && entitlements.IsPaid(plan) {
		return plan
	}
	return entitlements.PlanPro
}
