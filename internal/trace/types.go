// Package trace provides the append-only execution timeline for a single
// script run. Every privileged action, state transition, and failure is
// recorded as an event; metrics are derived as events are appended so the
// caller can observe running totals without replaying the log.
package trace

import (
	"time"

	"github.com/haasonsaas/scripthost/pkg/models"
)

// Event type tags emitted by the engine. The tracer itself accepts any
// tag; these constants cover the types the metrics aggregator and the
// executor rely on and form the stable serialisation contract.
const (
	EventExecutionStart    = "execution_start"
	EventExecutionComplete = "execution_complete"
	EventExecutionError    = "execution_error"
	EventExecutionTimeout  = "execution_timeout"

	EventScriptValidationFailed = "script_validation_failed"

	EventToolCallStart   = "tool_call_start"
	EventToolCallSuccess = "tool_call_success"
	EventToolCallError   = "tool_call_error"

	EventLLMCallStart   = "llm_call_start"
	EventLLMCallSuccess = "llm_call_success"
	EventLLMCallError   = "llm_call_error"

	EventCostRecorded = "cost_recorded"

	EventRedactionFailed = "redaction_failed"
)

// Event is a single entry in the run timeline. Events are never mutated
// or removed once appended; insertion order is temporal order.
type Event struct {
	// ID is unique within the run.
	ID string `json:"id"`

	// Type is the event tag (EventToolCallStart, ...).
	Type string `json:"type"`

	// Timestamp is milliseconds since the Unix epoch, non-decreasing
	// across the run.
	Timestamp int64 `json:"timestamp"`

	// Data is the redacted payload.
	Data map[string]any `json:"data,omitempty"`
}

// Metrics is derived state maintained as events are appended.
type Metrics struct {
	WallMS        int64             `json:"wall_ms"`
	ToolCallCount int               `json:"tool_call_count"`
	LLMCallCount  int               `json:"llm_call_count"`
	TokenUsage    models.TokenUsage `json:"token_usage"`
	CostUSD       float64           `json:"cost_usd"`
}

// Usage is the snapshot returned by Tracer.CurrentUsage.
type Usage struct {
	ToolCalls int     `json:"tool_calls"`
	Tokens    int     `json:"tokens"`
	WallMS    int64   `json:"wall_ms"`
	CostUSD   float64 `json:"cost_usd"`
}

// ExecutionTrace is the finished timeline produced once at the end of a
// run.
type ExecutionTrace struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Events    []Event   `json:"events"`
	Metrics   Metrics   `json:"metrics"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}
