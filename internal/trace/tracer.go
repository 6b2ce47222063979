package trace

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/scripthost/pkg/models"
)

// Tracer records the timeline of one run. It is created by the executor
// at the start of a run and is never shared between runs.
//
// Emit never fails: a payload that cannot be redacted is replaced by a
// redaction_failed placeholder so the timeline stays intact.
type Tracer struct {
	mu sync.Mutex

	id      string
	start   time.Time
	lastTS  int64
	events  []Event
	metrics Metrics
	cost    float64
}

// New creates a tracer for a fresh run.
func New() *Tracer {
	now := time.Now()
	return &Tracer{
		id:     uuid.NewString(),
		start:  now,
		lastTS: now.UnixMilli(),
	}
}

// ID returns the run identifier shared by the trace and its events.
func (t *Tracer) ID() string {
	return t.id
}

// Emit appends one event with a fresh id and the current timestamp.
// Timestamps are clamped to be non-decreasing; two events observed in
// the same millisecond keep their insertion order.
func (t *Tracer) Emit(eventType string, data map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Metrics are aggregated from the raw payload; the stored copy is
	// redacted.
	t.updateMetrics(eventType, data)

	redacted := t.safeRedact(data)

	ts := time.Now().UnixMilli()
	if ts < t.lastTS {
		ts = t.lastTS
	}
	t.lastTS = ts
	t.metrics.WallMS = ts - t.start.UnixMilli()

	t.events = append(t.events, Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: ts,
		Data:      redacted,
	})
}

func (t *Tracer) safeRedact(data map[string]any) (out map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			out = map[string]any{"reason": EventRedactionFailed}
		}
	}()
	return RedactMap(data)
}

func (t *Tracer) updateMetrics(eventType string, data map[string]any) {
	switch eventType {
	case EventToolCallStart:
		t.metrics.ToolCallCount++
	case EventLLMCallStart:
		t.metrics.LLMCallCount++
	case EventLLMCallSuccess:
		usage, ok := data["usage"].(map[string]any)
		if !ok {
			return
		}
		t.metrics.TokenUsage.Add(models.TokenUsage{
			PromptTokens:     intField(usage, "prompt"),
			CompletionTokens: intField(usage, "completion"),
			TotalTokens:      intField(usage, "total"),
		})
	}
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// RecordCost emits a cost_recorded event and adds to the running cost.
func (t *Tracer) RecordCost(usd float64) {
	t.mu.Lock()
	t.cost += usd
	t.metrics.CostUSD = t.cost
	t.mu.Unlock()

	t.Emit(EventCostRecorded, map[string]any{"usd": usd})
}

// CurrentUsage snapshots the running totals.
func (t *Tracer) CurrentUsage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Usage{
		ToolCalls: t.metrics.ToolCallCount,
		Tokens:    t.metrics.TokenUsage.TotalTokens,
		WallMS:    time.Now().UnixMilli() - t.start.UnixMilli(),
		CostUSD:   t.cost,
	}
}

// Trace produces the final execution trace. Success is false when any
// emitted event type contains "error". Calling Trace does not stop the
// tracer, but a finished run emits nothing further by construction.
func (t *Tracer) Trace() *ExecutionTrace {
	t.mu.Lock()
	defer t.mu.Unlock()

	end := time.Now()
	if end.UnixMilli() < t.lastTS {
		end = time.UnixMilli(t.lastTS)
	}

	success := true
	var firstErr string
	for _, e := range t.events {
		if strings.Contains(e.Type, "error") {
			success = false
			if firstErr == "" {
				firstErr = e.Type
			}
		}
	}

	events := make([]Event, len(t.events))
	copy(events, t.events)

	metrics := t.metrics
	metrics.WallMS = end.UnixMilli() - t.start.UnixMilli()

	return &ExecutionTrace{
		ID:        t.id,
		StartTime: t.start,
		EndTime:   end,
		Events:    events,
		Metrics:   metrics,
		Success:   success,
		Error:     firstErr,
	}
}

// Events returns a copy of the timeline so far.
func (t *Tracer) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}
