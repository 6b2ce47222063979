// Package executor orchestrates a single sandboxed script run: policy
// validation, isolate construction, host-bridge wiring, and result
// composition. One Executor runs one script at a time; callers wanting
// cross-request concurrency create one Executor per request.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/scripthost/internal/observability"
	"github.com/haasonsaas/scripthost/internal/policy"
	"github.com/haasonsaas/scripthost/internal/providers"
	"github.com/haasonsaas/scripthost/internal/sandbox"
	"github.com/haasonsaas/scripthost/internal/trace"
	"github.com/haasonsaas/scripthost/pkg/models"
)

// Request is the immutable input for one run.
type Request struct {
	// Script is the program text, supplied in-memory.
	Script string `json:"script"`

	// Context is an optional map exposed read-only to the script as
	// the `context` global.
	Context map[string]any `json:"context,omitempty"`

	// Quotas overrides the executor defaults component-wise.
	Quotas *policy.Quotas `json:"quotas,omitempty"`

	// Policy overrides the executor defaults.
	Policy *policy.SecurityPolicy `json:"policy,omitempty"`
}

// Result is composed once per run and always carries the trace, the
// artifacts, and the console output produced before any fault.
type Result struct {
	Success       bool                  `json:"success"`
	Error         string                `json:"error,omitempty"`
	Result        any                   `json:"result,omitempty"`
	Trace         *trace.ExecutionTrace `json:"trace"`
	Artifacts     []models.Artifact     `json:"artifacts"`
	ConsoleOutput []string              `json:"console_output"`
	Violations    []policy.Violation    `json:"violations,omitempty"`
}

// DefaultQuotas are the authoritative per-run caps used when the
// request does not override them.
func DefaultQuotas() policy.Quotas {
	return policy.Quotas{
		MaxToolCalls: 50,
		MaxTokens:    10000,
		MaxWallMS:    30000,
		MaxCostUSD:   1.00,
		MaxMemoryMB:  100,
	}
}

// DefaultPolicy is the authoritative default security policy.
func DefaultPolicy() policy.SecurityPolicy {
	return policy.SecurityPolicy{
		DenyList:        []string{"execCommand", "writeFileChunk", "patchFile"},
		MaxScriptLength: 50000,
	}
}

// Archiver receives finished traces, best-effort.
type Archiver interface {
	SaveTrace(ctx context.Context, tr *trace.ExecutionTrace) error
}

// Executor runs scripts. The registry and completion client are shared
// collaborators; tracer, enforcer, bridge, and isolate are created
// fresh for every run.
type Executor struct {
	registry sandbox.ToolDispatcher
	client   providers.CompletionClient

	quotas policy.Quotas
	policy policy.SecurityPolicy

	logger  *slog.Logger
	metrics *observability.Metrics
	archive Archiver
}

// Option configures an Executor.
type Option func(*Executor)

// WithDefaultQuotas replaces the built-in default quotas.
func WithDefaultQuotas(q policy.Quotas) Option {
	return func(e *Executor) { e.quotas = q }
}

// WithDefaultPolicy replaces the built-in default policy.
func WithDefaultPolicy(p policy.SecurityPolicy) Option {
	return func(e *Executor) { e.policy = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithMetrics wires engine metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithArchive persists finished traces to the given sink.
func WithArchive(a Archiver) Option {
	return func(e *Executor) { e.archive = a }
}

// New creates an executor over the shared registry and completion
// client. Either collaborator may be nil; the corresponding host calls
// then fail as catchable script errors.
func New(registry sandbox.ToolDispatcher, client providers.CompletionClient, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		client:   client,
		quotas:   DefaultQuotas(),
		policy:   DefaultPolicy(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one request to completion. Every failure mode returns a
// Result with Success=false, a non-empty Error, and the trace intact;
// the error return is reserved for a nil request.
func (e *Executor) Execute(ctx context.Context, req *Request) (*Result, error) {
	if req == nil {
		return nil, errors.New("nil execution request")
	}

	quotas := e.quotas.Merge(req.Quotas)
	pol := e.policy.Merge(req.Policy)

	tracer := trace.New()
	enforcer := policy.NewEnforcer(pol, quotas)

	ctx, span := observability.StartSpan(ctx, "executor.execute")
	defer span.End()

	if e.metrics != nil {
		e.metrics.RunStarted()
	}
	started := time.Now()

	tracer.Emit(trace.EventExecutionStart, map[string]any{
		"script_length": len(req.Script),
		"quotas": map[string]any{
			"max_tool_calls": quotas.MaxToolCalls,
			"max_tokens":     quotas.MaxTokens,
			"max_wall_ms":    quotas.MaxWallMS,
			"max_cost_usd":   quotas.MaxCostUSD,
			"max_memory_mb":  quotas.MaxMemoryMB,
		},
		"policy": map[string]any{
			"allow_list":        pol.AllowList,
			"deny_list":         pol.DenyList,
			"max_script_length": pol.MaxScriptLength,
			"allow_network":     pol.AllowNetwork,
			"allow_filesystem":  pol.AllowFilesystem,
		},
	})

	if validation := enforcer.ValidateScript(req.Script); !validation.Valid {
		issues := make([]any, 0, len(validation.Issues))
		for _, issue := range validation.Issues {
			issues = append(issues, issue.Message)
		}
		tracer.Emit(trace.EventScriptValidationFailed, map[string]any{"issues": issues})
		e.logger.Warn("script validation failed", "run_id", tracer.ID(), "issues", len(issues))
		return e.compose(ctx, nil, enforcer, tracer, false, firstIssue(validation)), nil
	}
	tracer.Emit("validated", nil)

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(quotas.MaxWallMS)*time.Millisecond)
	defer cancel()

	bridge := sandbox.NewBridge(runCtx, tracer, enforcer, e.registry, e.client, req.Context)
	rt := sandbox.NewRuntime(tracer, sandbox.Options{
		MaxMemoryMB: quotas.MaxMemoryMB,
		MaxWall:     time.Duration(quotas.MaxWallMS) * time.Millisecond,
	})

	result, runErr := e.run(runCtx, rt, req.Script, bridge)

	enforcer.RecordWall(time.Since(started).Milliseconds())

	if runErr != nil {
		var fault *sandbox.FaultError
		if errors.As(runErr, &fault) && fault.Kind == sandbox.FaultTimeout {
			tracer.Emit(trace.EventExecutionTimeout, map[string]any{
				"after_ms": fault.After.Milliseconds(),
			})
		}
		tracer.Emit(trace.EventExecutionError, map[string]any{"error": runErr.Error()})
		e.logger.Error("execution failed", "run_id", tracer.ID(), "error", runErr)
		return e.compose(ctx, bridge, enforcer, tracer, false, runErr.Error()), nil
	}

	tracer.Emit(trace.EventExecutionComplete, map[string]any{
		"usage": usagePayload(enforcer.Usage(), tracer.CurrentUsage()),
	})
	e.logger.Info("execution complete", "run_id", tracer.ID(), "wall_ms", time.Since(started).Milliseconds())
	out := e.compose(ctx, bridge, enforcer, tracer, true, "")
	out.Result = result
	return out, nil
}

// run isolates the sandbox invocation so a host-side panic below the
// executor is caught and surfaced with the trace intact.
func (e *Executor) run(ctx context.Context, rt *sandbox.Runtime, script string, bridge *sandbox.Bridge) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal executor fault: %v", r)
		}
	}()
	return rt.Run(ctx, script, bridge)
}

func (e *Executor) compose(ctx context.Context, bridge *sandbox.Bridge, enforcer *policy.Enforcer, tracer *trace.Tracer, success bool, errMsg string) *Result {
	tr := tracer.Trace()
	if !success && errMsg == "" {
		errMsg = tr.Error
	}
	if !success {
		tr.Success = false
		if tr.Error == "" {
			tr.Error = errMsg
		}
	}

	result := &Result{
		Success:       success,
		Error:         errMsg,
		Trace:         tr,
		Artifacts:     []models.Artifact{},
		ConsoleOutput: []string{},
		Violations:    enforcer.Violations(),
	}
	if bridge != nil {
		result.Artifacts = bridge.Artifacts()
		result.ConsoleOutput = bridge.ConsoleOutput()
	}

	if e.metrics != nil {
		e.metrics.RunCompleted(success, tr.Metrics)
		for range result.Violations {
			e.metrics.ViolationRecorded()
		}
	}

	if e.archive != nil {
		if err := e.archive.SaveTrace(ctx, tr); err != nil {
			e.logger.Warn("trace archive failed", "run_id", tr.ID, "error", err)
		}
	}

	return result
}

func usagePayload(u policy.Usage, t trace.Usage) map[string]any {
	return map[string]any{
		"tool_calls": u.ToolCalls,
		"tokens":     u.Tokens,
		"wall_ms":    t.WallMS,
		"cost_usd":   u.CostUSD,
	}
}

func firstIssue(v policy.ValidationResult) string {
	if len(v.Issues) == 0 {
		return "script validation failed"
	}
	return fmt.Sprintf("script validation failed: %s", v.Issues[0].Message)
}
