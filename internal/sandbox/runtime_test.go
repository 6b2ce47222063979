package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/scripthost/internal/policy"
	"github.com/haasonsaas/scripthost/internal/providers"
	"github.com/haasonsaas/scripthost/internal/trace"
)

func testEnforcer() *policy.Enforcer {
	return policy.NewEnforcer(policy.SecurityPolicy{}, policy.Quotas{
		MaxToolCalls: 10,
		MaxTokens:    10000,
		MaxWallMS:    5000,
		MaxCostUSD:   1,
		MaxMemoryMB:  100,
	})
}

// runScript executes a script with a fresh tracer/enforcer and the
// given collaborators.
func runScript(t *testing.T, script string, registry ToolDispatcher, client providers.CompletionClient, maxWall time.Duration) (any, error, *trace.Tracer, *policy.Enforcer) {
	t.Helper()

	tracer := trace.New()
	enforcer := testEnforcer()

	ctx, cancel := context.WithTimeout(context.Background(), maxWall)
	defer cancel()

	bridge := NewBridge(ctx, tracer, enforcer, registry, client, nil)
	rt := NewRuntime(tracer, Options{MaxMemoryMB: 100, MaxWall: maxWall})

	result, err := rt.Run(ctx, script, bridge)
	return result, err, tracer, enforcer
}

func TestRunReturnStatement(t *testing.T) {
	result, err, _, _ := runScript(t, "return 1 + 2", nil, nil, time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result != float64(3) {
		t.Errorf("result = %v (%T), want 3", result, result)
	}
}

func TestRunLastExpressionValue(t *testing.T) {
	result, err, _, _ := runScript(t, "1 + 2", nil, nil, time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result != float64(3) {
		t.Errorf("result = %v (%T), want 3", result, result)
	}
}

func TestRunNoReturnYieldsNil(t *testing.T) {
	result, err, _, _ := runScript(t, "const x = 5; return;", nil, nil, time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result != nil {
		t.Errorf("result = %v, want nil", result)
	}
}

func TestRunCompileError(t *testing.T) {
	_, err, _, _ := runScript(t, "return ((", nil, nil, time.Second)
	var fault *FaultError
	if !errors.As(err, &fault) || fault.Kind != FaultCompile {
		t.Fatalf("expected compile fault, got %v", err)
	}
}

func TestRunUncaughtThrow(t *testing.T) {
	_, err, _, _ := runScript(t, `throw new Error("user error")`, nil, nil, time.Second)
	var fault *FaultError
	if !errors.As(err, &fault) || fault.Kind != FaultRuntime {
		t.Fatalf("expected runtime fault, got %v", err)
	}
	if !strings.Contains(fault.Message, "user error") {
		t.Errorf("fault message %q missing thrown text", fault.Message)
	}
}

func TestRunWallClockTimeout(t *testing.T) {
	start := time.Now()
	_, err, tracer, _ := runScript(t, "while (true) {}", nil, nil, 100*time.Millisecond)
	elapsed := time.Since(start)

	var fault *FaultError
	if !errors.As(err, &fault) || fault.Kind != FaultTimeout {
		t.Fatalf("expected timeout fault, got %v", err)
	}
	if !strings.Contains(fault.Error(), "timed out after 100") {
		t.Errorf("fault = %q", fault.Error())
	}
	if elapsed > 3*time.Second {
		t.Errorf("interrupt took %s", elapsed)
	}

	var sawTimedOut bool
	for _, e := range tracer.Events() {
		if e.Type == StateTimedOut {
			sawTimedOut = true
		}
	}
	if !sawTimedOut {
		t.Error("timed_out state event missing")
	}
}

func TestRunStateEventsEmitted(t *testing.T) {
	_, err, tracer, _ := runScript(t, "return 1", nil, nil, time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{StateIsolateCreated, StateCapabilitiesInstalled, StateCompiled, StateRunning, StateCompleted}
	got := map[string]bool{}
	for _, e := range tracer.Events() {
		got[e.Type] = true
	}
	for _, state := range want {
		if !got[state] {
			t.Errorf("state event %q missing", state)
		}
	}
}

func TestRunNoAmbientAuthority(t *testing.T) {
	// The isolate must not expose module loaders, timers, or process
	// handles; referencing them is a runtime error inside the script.
	for _, global := range []string{"require", "process", "setTimeout", "fetch"} {
		script := "return typeof " + global
		result, err, _, _ := runScript(t, script, nil, nil, time.Second)
		if err != nil {
			t.Fatalf("%s: %v", global, err)
		}
		if result != "undefined" {
			t.Errorf("global %q reachable: typeof = %v", global, result)
		}
	}
}

func TestRunAwaitSupported(t *testing.T) {
	registry := &fakeRegistry{results: map[string]string{"echo": `{"ok": true}`}}
	script := `
		const r = await call_tool("echo", {message: "hi"});
		return r.ok;
	`
	result, err, _, _ := runScript(t, script, registry, nil, time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result != true {
		t.Errorf("result = %v, want true", result)
	}
}
