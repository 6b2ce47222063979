package policy

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Enforcer is the per-run reference monitor. Check* operations are
// predicates over current state; the only side effect of a failed check
// is a record appended to the violations list. Record* operations bump
// the usage counters after a privileged call succeeds.
//
// An Enforcer belongs to exactly one run and must not be reused.
type Enforcer struct {
	mu sync.Mutex

	policy SecurityPolicy
	quotas Quotas

	allow map[string]struct{}
	deny  map[string]struct{}

	usage      Usage
	violations []Violation
}

// NewEnforcer builds an enforcer for one run.
func NewEnforcer(pol SecurityPolicy, quotas Quotas) *Enforcer {
	e := &Enforcer{
		policy: pol,
		quotas: quotas,
		allow:  make(map[string]struct{}, len(pol.AllowList)),
		deny:   make(map[string]struct{}, len(pol.DenyList)),
	}
	for _, name := range pol.AllowList {
		e.allow[name] = struct{}{}
	}
	for _, name := range pol.DenyList {
		e.deny[name] = struct{}{}
	}
	return e
}

// Policy returns the effective policy for the run.
func (e *Enforcer) Policy() SecurityPolicy { return e.policy }

// Quotas returns the effective quotas for the run.
func (e *Enforcer) Quotas() Quotas { return e.quotas }

// CheckToolCall gates one tool invocation. It returns a ViolationError
// when the tool is denied, not on the allow list, or the tool-call quota
// is spent; usage counters are not modified.
func (e *Enforcer) CheckToolCall(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, denied := e.deny[name]; denied {
		return e.violationLocked(ViolationToolDenied,
			fmt.Sprintf("tool %q is on the deny list", name))
	}
	if len(e.allow) > 0 {
		if _, ok := e.allow[name]; !ok {
			return e.violationLocked(ViolationToolNotAllowed,
				fmt.Sprintf("tool %q is not on the allow list", name))
		}
	}
	if e.usage.ToolCalls >= e.quotas.MaxToolCalls {
		return e.violationLocked(ViolationQuotaExceeded,
			fmt.Sprintf("tool call quota exhausted (%d/%d)", e.usage.ToolCalls, e.quotas.MaxToolCalls))
	}
	return nil
}

// CheckTokenUsage gates a prospective token spend.
func (e *Enforcer) CheckTokenUsage(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.usage.Tokens+n > e.quotas.MaxTokens {
		return e.violationLocked(ViolationQuotaExceeded,
			fmt.Sprintf("Token quota exceeded: %d used, %d requested, %d maximum",
				e.usage.Tokens, n, e.quotas.MaxTokens))
	}
	return nil
}

// CheckWall gates elapsed wall-clock time.
func (e *Enforcer) CheckWall(ms int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ms > e.quotas.MaxWallMS {
		return e.violationLocked(ViolationQuotaExceeded,
			fmt.Sprintf("wall clock quota exceeded: %d ms elapsed, %d ms maximum", ms, e.quotas.MaxWallMS))
	}
	return nil
}

// CheckCost gates a prospective spend in USD.
func (e *Enforcer) CheckCost(usd float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.usage.CostUSD+usd > e.quotas.MaxCostUSD {
		return e.violationLocked(ViolationQuotaExceeded,
			fmt.Sprintf("cost quota exceeded: $%.4f spent, $%.4f requested, $%.2f maximum",
				e.usage.CostUSD, usd, e.quotas.MaxCostUSD))
	}
	return nil
}

// RecordToolCall counts one successful tool dispatch.
func (e *Enforcer) RecordToolCall() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.usage.ToolCalls++
}

// RecordTokenUsage adds n tokens to the counters.
func (e *Enforcer) RecordTokenUsage(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.usage.Tokens += n
}

// ReconcileTokenUsage replaces a previously recorded estimate with the
// actual usage reported by the completion client. Counters never
// decrease: when the actual is below the estimate the estimate stands.
func (e *Enforcer) ReconcileTokenUsage(estimate, actual int) {
	if actual <= estimate {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.usage.Tokens += actual - estimate
}

// RecordCost adds a realised spend to the counters.
func (e *Enforcer) RecordCost(usd float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.usage.CostUSD += usd
}

// RecordWall updates the observed wall-clock counter.
func (e *Enforcer) RecordWall(ms int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ms > e.usage.WallMS {
		e.usage.WallMS = ms
	}
}

// Usage snapshots the current counters.
func (e *Enforcer) Usage() Usage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.usage
}

// Violations returns a copy of the violations recorded so far.
func (e *Enforcer) Violations() []Violation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Violation, len(e.violations))
	copy(out, e.violations)
	return out
}

func (e *Enforcer) recordViolation(kind ViolationKind, msg string) *ViolationError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.violationLocked(kind, msg)
}

func (e *Enforcer) violationLocked(kind ViolationKind, msg string) *ViolationError {
	v := Violation{
		ID:        uuid.NewString(),
		Kind:      kind,
		Message:   msg,
		Timestamp: time.Now(),
		Usage:     e.usage,
	}
	e.violations = append(e.violations, v)
	return &ViolationError{Violation: v}
}
