package trace

import (
	"fmt"
	"testing"
)

func TestEmitPreservesInsertionOrder(t *testing.T) {
	tr := New()
	for i := 0; i < 20; i++ {
		tr.Emit(fmt.Sprintf("step_%d", i), nil)
	}

	final := tr.Trace()
	if len(final.Events) != 20 {
		t.Fatalf("got %d events, want 20", len(final.Events))
	}
	for i, e := range final.Events {
		if e.Type != fmt.Sprintf("step_%d", i) {
			t.Errorf("event %d: got type %q", i, e.Type)
		}
		if i > 0 && e.Timestamp < final.Events[i-1].Timestamp {
			t.Errorf("event %d: timestamp decreased", i)
		}
	}
}

func TestEventTimestampsWithinTraceWindow(t *testing.T) {
	tr := New()
	tr.Emit("one", nil)
	tr.Emit("two", nil)

	final := tr.Trace()
	start := final.StartTime.UnixMilli()
	end := final.EndTime.UnixMilli()
	if end < start {
		t.Fatalf("end_time %d before start_time %d", end, start)
	}
	for _, e := range final.Events {
		if e.Timestamp < start || e.Timestamp > end {
			t.Errorf("event %s timestamp %d outside [%d, %d]", e.Type, e.Timestamp, start, end)
		}
	}
}

func TestEventIDsUnique(t *testing.T) {
	tr := New()
	for i := 0; i < 50; i++ {
		tr.Emit("tick", nil)
	}
	seen := map[string]bool{}
	for _, e := range tr.Events() {
		if seen[e.ID] {
			t.Fatalf("duplicate event id %s", e.ID)
		}
		seen[e.ID] = true
	}
}

func TestMetricsCountToolAndLLMCalls(t *testing.T) {
	tr := New()
	tr.Emit(EventToolCallStart, map[string]any{"tool": "echo"})
	tr.Emit(EventToolCallSuccess, nil)
	tr.Emit(EventToolCallStart, map[string]any{"tool": "echo"})
	tr.Emit(EventToolCallError, nil)
	tr.Emit(EventLLMCallStart, nil)

	final := tr.Trace()
	if final.Metrics.ToolCallCount != 2 {
		t.Errorf("tool_call_count = %d, want 2", final.Metrics.ToolCallCount)
	}
	if final.Metrics.LLMCallCount != 1 {
		t.Errorf("llm_call_count = %d, want 1", final.Metrics.LLMCallCount)
	}
}

func TestMetricsAggregateTokenUsage(t *testing.T) {
	tr := New()
	tr.Emit(EventLLMCallStart, nil)
	tr.Emit(EventLLMCallSuccess, map[string]any{
		"usage": map[string]any{"prompt": 100, "completion": 40, "total": 140},
	})
	tr.Emit(EventLLMCallSuccess, map[string]any{
		"usage": map[string]any{"prompt": 10, "completion": 5, "total": 15},
	})

	m := tr.Trace().Metrics
	if m.TokenUsage.PromptTokens != 110 || m.TokenUsage.CompletionTokens != 45 || m.TokenUsage.TotalTokens != 155 {
		t.Errorf("token usage = %+v", m.TokenUsage)
	}
}

func TestTraceSuccessFalseOnErrorEvent(t *testing.T) {
	tr := New()
	tr.Emit("tool_call_start", nil)
	if !tr.Trace().Success {
		t.Fatal("trace without error events should be successful")
	}

	tr.Emit(EventToolCallError, map[string]any{"error": "boom"})
	final := tr.Trace()
	if final.Success {
		t.Error("trace with an error event should not be successful")
	}
	if final.Error == "" {
		t.Error("expected error type recorded")
	}
}

func TestRecordCost(t *testing.T) {
	tr := New()
	tr.RecordCost(0.25)
	tr.RecordCost(0.50)

	usage := tr.CurrentUsage()
	if usage.CostUSD != 0.75 {
		t.Errorf("cost = %f, want 0.75", usage.CostUSD)
	}

	events := tr.Events()
	count := 0
	for _, e := range events {
		if e.Type == EventCostRecorded {
			count++
		}
	}
	if count != 2 {
		t.Errorf("cost_recorded events = %d, want 2", count)
	}
}

func TestEmitRedactsPayload(t *testing.T) {
	tr := New()
	tr.Emit("tool_call_start", map[string]any{
		"tool":    "httpGet",
		"api_key": "sk-verysecret",
	})

	e := tr.Events()[0]
	if e.Data["api_key"] != RedactedValue {
		t.Errorf("api_key stored as %v", e.Data["api_key"])
	}
	if e.Data["tool"] != "httpGet" {
		t.Errorf("tool stored as %v", e.Data["tool"])
	}
}
