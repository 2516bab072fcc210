package entitlements

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want Plan
	}{
		{in: "free", want: PlanFree},
		{in: "pro", want: PlanPro},
		{in: "business", want: PlanBusiness},
		{in: "BUSINESS", want: PlanBusiness},
		{in: "  pro  ", want: PlanPro},
		{in: "enterprise", want: PlanFree},
		{in: "", want: PlanFree},
	}

	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRank(t *testing.T) {
	if Rank(PlanFree) >= Rank(PlanPro) {
		t.Fatalf("expected pro to outrank free")
	}
	if Rank(PlanPro) >= Rank(PlanBusiness) {
		t.Fatalf("expected business to outrank pro")
	}
}

func TestIsPaid(t *testing.T) {
	if IsPaid(PlanFree) {
		t.Fatalf("free must not count as paid")
	}
	for _, plan := range []Plan{PlanPro, PlanBusiness} {
		if !IsPaid(plan) {
			t.Fatalf("expected plan %q to be paid", plan)
		}
	}
}

func TestLimits(t *testing.T) {
	if MaxBoards(PlanFree) != 1 {
		t.Fatalf("free plan should be limited to one board")
	}
	if MaxBoards(PlanBusiness) != 0 {
		t.Fatalf("business plan boards should be unlimited")
	}
	if MaxResponsesPerMonth(PlanPro) <= MaxResponsesPerMonth(PlanFree) {
		t.Fatalf("pro quota should exceed free quota")
	}
	if CanExportCSV(PlanFree) {
		t.Fatalf("free plan must not export CSV")
	}
	if !CanRemoveBranding(PlanBusiness) {
		t.Fatalf("business plan should remove branding")
	}
}
