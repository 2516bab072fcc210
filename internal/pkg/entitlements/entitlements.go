package entitlements

import "strings"

type Plan string

const (
	PlanFree     Plan = "free"
	PlanPro      Plan = "pro"
	PlanBusiness Plan = "business"
)

// Normalize maps arbitrary input to a known plan, defaulting to free.
func Normalize(plan string) Plan {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(PlanPro):
		return PlanPro
	case string(PlanBusiness):
		return PlanBusiness
	default:
		return PlanFree
	}
}

// Rank orders plans so the highest entitlement wins when several apply.
func Rank(plan Plan) int {
	switch plan {
	case PlanBusiness:
		return 2
	case PlanPro:
		return 1
	default:
		return 0
	}
}

// IsPaid reports whether the plan requires an active subscription.
func IsPaid(plan Plan) bool {
	return plan != PlanFree
}

// MaxBoards returns how many feedback boards a plan may own (0 = unlimited).
func MaxBoards(plan Plan) int {
	switch plan {
	case PlanBusiness:
		return 0
	case PlanPro:
		return 10
	default:
		return 1
	}
}

// MaxResponsesPerMonth returns the monthly response quota (0 = unlimited).
func MaxResponsesPerMonth(plan Plan) int {
	switch plan {
	case PlanBusiness:
		return 0
	case PlanPro:
		return 5000
	default:
		return 100
	}
}

// CanExportCSV reports whether response exports are available.
func CanExportCSV(plan Plan) bool {
	return plan == PlanPro || plan == PlanBusiness
}

// CanRemoveBranding reports whether forms may hide the product branding.
func CanRemoveBranding(plan Plan) bool {
	return plan == PlanBusiness
}
