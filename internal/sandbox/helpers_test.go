package sandbox

import (
	"github.com/haasonsaas/scripthost/internal/policy"
	"github.com/haasonsaas/scripthost/internal/trace"
)

func policyAllowAll() policy.SecurityPolicy {
	return policy.SecurityPolicy{}
}

func policyWithDeny(names ...string) policy.SecurityPolicy {
	return policy.SecurityPolicy{DenyList: names}
}

// newRunPair builds a fresh tracer and enforcer with a small token
// budget for quota tests.
func newRunPair(pol policy.SecurityPolicy) (*trace.Tracer, *policy.Enforcer) {
	return trace.New(), policy.NewEnforcer(pol, policy.Quotas{
		MaxToolCalls: 10,
		MaxTokens:    1000,
		MaxWallMS:    5000,
		MaxCostUSD:   1,
		MaxMemoryMB:  100,
	})
}
