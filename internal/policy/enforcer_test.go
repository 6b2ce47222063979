package policy

import (
	"errors"
	"testing"
)

func testQuotas() Quotas {
	return Quotas{
		MaxToolCalls: 3,
		MaxTokens:    1000,
		MaxWallMS:    30000,
		MaxCostUSD:   1.00,
		MaxMemoryMB:  100,
	}
}

func TestCheckToolCallDenyList(t *testing.T) {
	e := NewEnforcer(SecurityPolicy{DenyList: []string{"execCommand"}}, testQuotas())

	err := e.CheckToolCall("execCommand")
	if err == nil {
		t.Fatal("expected denial for deny-listed tool")
	}
	var verr *ViolationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ViolationError, got %T", err)
	}
	if verr.Violation.Kind != ViolationToolDenied {
		t.Errorf("kind = %s, want %s", verr.Violation.Kind, ViolationToolDenied)
	}

	if err := e.CheckToolCall("echo"); err != nil {
		t.Errorf("unrelated tool denied: %v", err)
	}
}

// Denial monotonicity: once denied by the deny list, always denied.
func TestCheckToolCallDenialMonotonic(t *testing.T) {
	e := NewEnforcer(SecurityPolicy{DenyList: []string{"patchFile"}}, testQuotas())
	for i := 0; i < 5; i++ {
		if err := e.CheckToolCall("patchFile"); err == nil {
			t.Fatalf("call %d: deny-listed tool slipped through", i)
		}
	}
	if got := len(e.Violations()); got != 5 {
		t.Errorf("violations = %d, want 5", got)
	}
}

func TestCheckToolCallAllowList(t *testing.T) {
	e := NewEnforcer(SecurityPolicy{AllowList: []string{"echo"}}, testQuotas())

	if err := e.CheckToolCall("echo"); err != nil {
		t.Errorf("allow-listed tool denied: %v", err)
	}

	err := e.CheckToolCall("httpGet")
	var verr *ViolationError
	if !errors.As(err, &verr) || verr.Violation.Kind != ViolationToolNotAllowed {
		t.Errorf("expected tool_not_allowed, got %v", err)
	}
}

func TestCheckToolCallQuota(t *testing.T) {
	e := NewEnforcer(SecurityPolicy{}, testQuotas())
	for i := 0; i < 3; i++ {
		if err := e.CheckToolCall("echo"); err != nil {
			t.Fatalf("call %d denied early: %v", i, err)
		}
		e.RecordToolCall()
	}

	before := e.Usage()
	err := e.CheckToolCall("echo")
	var verr *ViolationError
	if !errors.As(err, &verr) || verr.Violation.Kind != ViolationQuotaExceeded {
		t.Fatalf("expected quota_exceeded, got %v", err)
	}
	// A denied check leaves the counters untouched.
	if after := e.Usage(); after != before {
		t.Errorf("usage changed on denial: before %+v after %+v", before, after)
	}
	if verr.Violation.Usage.ToolCalls != 3 {
		t.Errorf("violation snapshot tool_calls = %d, want 3", verr.Violation.Usage.ToolCalls)
	}
}

func TestCheckTokenUsage(t *testing.T) {
	e := NewEnforcer(SecurityPolicy{}, testQuotas())

	if err := e.CheckTokenUsage(1000); err != nil {
		t.Errorf("exact-cap request denied: %v", err)
	}
	if err := e.CheckTokenUsage(1001); err == nil {
		t.Error("over-cap request allowed")
	}

	e.RecordTokenUsage(900)
	if err := e.CheckTokenUsage(200); err == nil {
		t.Error("request exceeding remaining budget allowed")
	}
}

func TestReconcileTokenUsage(t *testing.T) {
	e := NewEnforcer(SecurityPolicy{}, testQuotas())
	e.RecordTokenUsage(100)

	// Actual above the estimate replaces it.
	e.ReconcileTokenUsage(100, 150)
	if got := e.Usage().Tokens; got != 150 {
		t.Errorf("tokens = %d, want 150", got)
	}

	// Counters never decrease: a lower actual keeps the estimate.
	e.ReconcileTokenUsage(150, 60)
	if got := e.Usage().Tokens; got != 150 {
		t.Errorf("tokens = %d, want 150 after low actual", got)
	}
}

func TestCheckWallAndCost(t *testing.T) {
	e := NewEnforcer(SecurityPolicy{}, testQuotas())

	if err := e.CheckWall(30000); err != nil {
		t.Errorf("at-cap wall denied: %v", err)
	}
	if err := e.CheckWall(30001); err == nil {
		t.Error("over-cap wall allowed")
	}

	e.RecordCost(0.90)
	if err := e.CheckCost(0.05); err != nil {
		t.Errorf("affordable cost denied: %v", err)
	}
	if err := e.CheckCost(0.20); err == nil {
		t.Error("unaffordable cost allowed")
	}
}

func TestQuotasMerge(t *testing.T) {
	base := testQuotas()
	merged := base.Merge(&Quotas{MaxTokens: 50, MaxWallMS: 100})
	if merged.MaxTokens != 50 || merged.MaxWallMS != 100 {
		t.Errorf("overrides not applied: %+v", merged)
	}
	if merged.MaxToolCalls != base.MaxToolCalls || merged.MaxCostUSD != base.MaxCostUSD {
		t.Errorf("unset fields changed: %+v", merged)
	}
	if got := base.Merge(nil); got != base {
		t.Errorf("nil merge changed quotas: %+v", got)
	}
}

func TestPolicyMerge(t *testing.T) {
	base := SecurityPolicy{DenyList: []string{"execCommand"}, MaxScriptLength: 50000}
	merged := base.Merge(&SecurityPolicy{AllowList: []string{"echo"}, AllowNetwork: true})
	if len(merged.AllowList) != 1 || !merged.AllowNetwork {
		t.Errorf("overrides not applied: %+v", merged)
	}
	if len(merged.DenyList) != 1 || merged.MaxScriptLength != 50000 {
		t.Errorf("unset fields changed: %+v", merged)
	}
}
