package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/scripthost/internal/trace"
)

// Metrics collects engine-level Prometheus metrics.
//
// Tracked series:
//   - Script runs started/completed, labelled by outcome
//   - Run duration in seconds
//   - Tool calls, LLM calls, and tokens consumed per run
//   - Policy violations recorded
type Metrics struct {
	// RunsStarted counts script runs accepted by the executor.
	RunsStarted prometheus.Counter

	// RunsCompleted counts finished runs.
	// Labels: outcome (success|failure)
	RunsCompleted *prometheus.CounterVec

	// RunDuration measures run wall time in seconds.
	// Buckets: 10ms .. 60s
	RunDuration prometheus.Histogram

	// ToolCalls counts tool invocations across runs.
	ToolCalls prometheus.Counter

	// LLMCalls counts model invocations across runs.
	LLMCalls prometheus.Counter

	// Tokens counts token consumption.
	// Labels: type (prompt|completion)
	Tokens *prometheus.CounterVec

	// CostUSD accumulates realised model spend.
	CostUSD prometheus.Counter

	// Violations counts recorded policy violations.
	Violations prometheus.Counter
}

// NewMetrics creates the metric set and registers it on reg. Passing
// prometheus.DefaultRegisterer wires the standard /metrics endpoint.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scripthost",
			Name:      "runs_started_total",
			Help:      "Script runs accepted by the executor.",
		}),
		RunsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scripthost",
			Name:      "runs_completed_total",
			Help:      "Finished script runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scripthost",
			Name:      "run_duration_seconds",
			Help:      "Script run wall time.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		ToolCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scripthost",
			Name:      "tool_calls_total",
			Help:      "Tool invocations across all runs.",
		}),
		LLMCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scripthost",
			Name:      "llm_calls_total",
			Help:      "Model invocations across all runs.",
		}),
		Tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scripthost",
			Name:      "tokens_total",
			Help:      "Token consumption across all runs.",
		}, []string{"type"}),
		CostUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scripthost",
			Name:      "cost_usd_total",
			Help:      "Realised model spend in USD.",
		}),
		Violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scripthost",
			Name:      "policy_violations_total",
			Help:      "Policy violations recorded by the enforcer.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RunsStarted, m.RunsCompleted, m.RunDuration,
			m.ToolCalls, m.LLMCalls, m.Tokens, m.CostUSD, m.Violations,
		)
	}
	return m
}

// RunStarted records one accepted run.
func (m *Metrics) RunStarted() {
	m.RunsStarted.Inc()
}

// RunCompleted records a finished run and folds its trace metrics in.
func (m *Metrics) RunCompleted(success bool, tm trace.Metrics) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.RunsCompleted.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(float64(tm.WallMS) / 1000)
	m.ToolCalls.Add(float64(tm.ToolCallCount))
	m.LLMCalls.Add(float64(tm.LLMCallCount))
	m.Tokens.WithLabelValues("prompt").Add(float64(tm.TokenUsage.PromptTokens))
	m.Tokens.WithLabelValues("completion").Add(float64(tm.TokenUsage.CompletionTokens))
	m.CostUSD.Add(tm.CostUSD)
}

// ViolationRecorded counts one policy violation.
func (m *Metrics) ViolationRecorded() {
	m.Violations.Inc()
}
