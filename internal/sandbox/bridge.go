package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/haasonsaas/scripthost/internal/policy"
	"github.com/haasonsaas/scripthost/internal/providers"
	"github.com/haasonsaas/scripthost/internal/trace"
	"github.com/haasonsaas/scripthost/pkg/models"
)

// ExecutorToolName is the tool id of the script executor itself. Calls
// targeting it from inside a script are always refused.
const ExecutorToolName = "executeScript"

// errNestedExecution is the fixed refusal for recursive script runs.
const errNestedExecution = "nested script execution is not permitted"

const (
	// maxSleepMS caps the sleep capability.
	maxSleepMS = 2000

	// Console capture limits so a hostile script cannot balloon host
	// memory through logging.
	maxConsoleEntries  = 10000
	maxConsoleEntryLen = 10000
)

// Tracer is the subset of the tracer the bridge calls.
type Tracer interface {
	Emit(eventType string, data map[string]any)
	RecordCost(usd float64)
	CurrentUsage() trace.Usage
}

// Enforcer is the subset of the policy enforcer the bridge calls.
type Enforcer interface {
	CheckToolCall(name string) error
	CheckTokenUsage(n int) error
	CheckCost(usd float64) error
	RecordToolCall()
	RecordTokenUsage(n int)
	ReconcileTokenUsage(estimate, actual int)
	RecordCost(usd float64)
	Usage() policy.Usage
}

// ToolDispatcher dispatches one tool call. Satisfied by
// *tools.Registry.
type ToolDispatcher interface {
	Call(ctx context.Context, call models.ToolCall) (*models.ToolResult, error)
}

// Bridge installs the curated host API into an isolate and mediates
// every crossing of the trust boundary. A Bridge belongs to exactly one
// run.
type Bridge struct {
	ctx      context.Context
	tracer   Tracer
	enforcer Enforcer
	registry ToolDispatcher
	client   providers.CompletionClient

	// contextData is the caller-supplied context map, exposed read-only
	// (by copy) inside the isolate.
	contextData map[string]any

	vm        *goja.Runtime
	artifacts []models.Artifact
	console   []string
	truncated bool
}

// NewBridge wires a bridge to the run's collaborators. ctx bounds every
// host call made on behalf of the script.
func NewBridge(ctx context.Context, tracer Tracer, enforcer Enforcer, registry ToolDispatcher, client providers.CompletionClient, contextData map[string]any) *Bridge {
	return &Bridge{
		ctx:         ctx,
		tracer:      tracer,
		enforcer:    enforcer,
		registry:    registry,
		client:      client,
		contextData: contextData,
	}
}

// Artifacts returns the artifacts created during the run.
func (b *Bridge) Artifacts() []models.Artifact {
	out := make([]models.Artifact, len(b.artifacts))
	copy(out, b.artifacts)
	return out
}

// ConsoleOutput returns the captured console lines.
func (b *Bridge) ConsoleOutput() []string {
	out := make([]string, len(b.console))
	copy(out, b.console)
	return out
}

// Install registers the complete capability surface on the isolate.
// These globals, plus the standard ECMAScript builtins the isolate
// ships with, are everything a script can reach.
func (b *Bridge) Install(vm *goja.Runtime) error {
	b.vm = vm

	if err := vm.Set("call_tool", b.jsCallTool); err != nil {
		return err
	}
	if err := vm.Set("llm", b.jsLLM); err != nil {
		return err
	}
	if err := vm.Set("sleep", b.jsSleep); err != nil {
		return err
	}
	if err := vm.Set("create_artifact", b.jsCreateArtifact); err != nil {
		return err
	}
	if err := vm.Set("get_quota_usage", b.jsQuotaUsage); err != nil {
		return err
	}
	if err := vm.Set("context", intoVM(vm, b.contextData)); err != nil {
		return err
	}

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error"} {
		level := level
		if err := console.Set(level, func(call goja.FunctionCall) goja.Value {
			b.captureConsole(level, call.Arguments)
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}

// throw raises a catchable error inside the isolate.
func (b *Bridge) throw(err error) {
	panic(b.vm.NewGoError(err))
}

func (b *Bridge) throwf(format string, args ...any) {
	b.throw(fmt.Errorf(format, args...))
}

// jsCallTool implements call_tool(name, params).
func (b *Bridge) jsCallTool(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	if name == "" || goja.IsUndefined(call.Argument(0)) {
		b.throwf("call_tool requires a tool name")
	}
	if name == ExecutorToolName {
		b.throwf("%s", errNestedExecution)
	}

	if err := b.enforcer.CheckToolCall(name); err != nil {
		b.throwf("tool call denied: %s: %s", name, err.Error())
	}

	args, err := exportJSON(call.Argument(1))
	if err != nil {
		b.throw(err)
	}

	var params any
	_ = json.Unmarshal([]byte(args), &params)
	b.tracer.Emit(trace.EventToolCallStart, map[string]any{
		"tool":   name,
		"params": params,
	})
	b.enforcer.RecordToolCall()

	if b.registry == nil {
		b.tracer.Emit(trace.EventToolCallError, map[string]any{
			"tool":  name,
			"error": "no tool registry configured",
		})
		b.throwf("no tool registry configured")
	}

	result, err := b.registry.Call(b.ctx, models.ToolCall{
		ID:   uuid.NewString(),
		Kind: "function",
		Function: models.FunctionCall{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		b.tracer.Emit(trace.EventToolCallError, map[string]any{
			"tool":  name,
			"error": err.Error(),
		})
		if b.ctx.Err() != nil {
			b.throwf("tool %s timed out: %v", name, b.ctx.Err())
		}
		b.throw(err)
	}
	if result.IsError {
		b.tracer.Emit(trace.EventToolCallError, map[string]any{
			"tool":  name,
			"error": result.Content,
		})
		b.throwf("tool %s failed: %s", name, result.Content)
	}

	b.tracer.Emit(trace.EventToolCallSuccess, map[string]any{
		"tool":         name,
		"result_bytes": len(result.Content),
	})

	// Tool results that are JSON become structured values in the
	// script; everything else arrives as a string.
	var structured any
	if json.Unmarshal([]byte(result.Content), &structured) == nil {
		return intoVM(b.vm, structured)
	}
	return b.vm.ToValue(result.Content)
}

// estimateTokens approximates the prompt size as ceil(len/4) over all
// string content fields.
func estimateTokens(messages []providers.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return int(math.Ceil(float64(total) / 4))
}

// jsLLM implements llm(messages, options).
func (b *Bridge) jsLLM(call goja.FunctionCall) goja.Value {
	raw, err := exportValue(call.Argument(0))
	if err != nil {
		b.throw(err)
	}
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		b.throwf("llm requires a non-empty message list")
	}

	req := &providers.CompletionRequest{}
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			b.throwf("llm messages must be objects with role and content")
		}
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		req.Messages = append(req.Messages, providers.Message{Role: role, Content: content})
	}

	providerHint := ""
	if opts, err := exportValue(call.Argument(1)); err == nil {
		if m, ok := opts.(map[string]any); ok {
			if model, ok := m["model"].(string); ok {
				req.Model = model
			}
			if hint, ok := m["provider"].(string); ok {
				providerHint = hint
			}
			if mt, ok := m["max_tokens"].(float64); ok {
				req.MaxTokens = int(mt)
			}
		}
	}

	estimate := estimateTokens(req.Messages)
	if err := b.enforcer.CheckCost(0); err != nil {
		b.throw(err)
	}
	if err := b.enforcer.CheckTokenUsage(estimate); err != nil {
		b.throw(err)
	}

	b.tracer.Emit(trace.EventLLMCallStart, map[string]any{
		"model":            req.Model,
		"provider":         providerHint,
		"message_count":    len(req.Messages),
		"estimated_tokens": estimate,
	})
	b.enforcer.RecordTokenUsage(estimate)

	if b.client == nil {
		b.tracer.Emit(trace.EventLLMCallError, map[string]any{
			"error": providers.ErrNoProvider.Error(),
		})
		b.throw(providers.ErrNoProvider)
	}

	completion, err := b.client.CreateCompletion(b.ctx, providerHint, req)
	if err != nil {
		b.tracer.Emit(trace.EventLLMCallError, map[string]any{"error": err.Error()})
		if b.ctx.Err() != nil {
			b.throwf("llm call timed out: %v", b.ctx.Err())
		}
		b.throw(err)
	}

	b.tracer.Emit(trace.EventLLMCallSuccess, map[string]any{
		"model": completion.Model,
		"usage": map[string]any{
			"prompt":     completion.Usage.PromptTokens,
			"completion": completion.Usage.CompletionTokens,
			"total":      completion.Usage.TotalTokens,
		},
	})

	// The estimate was recorded before the call; the provider-reported
	// total replaces it when larger. Token usage never decreases.
	b.enforcer.ReconcileTokenUsage(estimate, completion.Usage.TotalTokens)
	b.enforcer.RecordCost(completion.USDCost)
	b.tracer.RecordCost(completion.USDCost)

	return intoVM(b.vm, completion)
}

// jsSleep implements sleep(ms): 0 <= ms <= 2000.
func (b *Bridge) jsSleep(call goja.FunctionCall) goja.Value {
	ms := call.Argument(0).ToInteger()
	if ms < 0 || ms > maxSleepMS {
		b.throwf("sleep duration must be between 0 and %d ms, got %d", maxSleepMS, ms)
	}

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-b.ctx.Done():
		b.throwf("sleep interrupted: %v", b.ctx.Err())
	}
	return goja.Undefined()
}

// jsCreateArtifact implements create_artifact(name, content, type).
func (b *Bridge) jsCreateArtifact(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	content := call.Argument(1).String()
	artifactType := models.ArtifactType(call.Argument(2).String())

	if name == "" || goja.IsUndefined(call.Argument(0)) {
		b.throwf("create_artifact requires a name")
	}
	if !models.ValidArtifactType(artifactType) {
		b.throwf("unsupported artifact type %q", artifactType)
	}

	artifact := models.Artifact{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      artifactType,
		Content:   content,
		CreatedAt: time.Now(),
	}
	b.artifacts = append(b.artifacts, artifact)

	b.tracer.Emit("artifact_created", map[string]any{
		"artifact_id": artifact.ID,
		"name":        artifact.Name,
		"type":        string(artifact.Type),
		"bytes":       len(artifact.Content),
	})

	return intoVM(b.vm, artifact)
}

// jsQuotaUsage implements get_quota_usage().
func (b *Bridge) jsQuotaUsage(goja.FunctionCall) goja.Value {
	usage := b.enforcer.Usage()
	wall := b.tracer.CurrentUsage().WallMS
	return intoVM(b.vm, map[string]any{
		"tool_calls": usage.ToolCalls,
		"tokens":     usage.Tokens,
		"wall_ms":    wall,
		"cost_usd":   usage.CostUSD,
	})
}

func (b *Bridge) captureConsole(level string, args []goja.Value) {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, stringifyArg(a))
	}
	line := strings.Join(parts, " ")
	if len(line) > maxConsoleEntryLen {
		line = line[:maxConsoleEntryLen] + "...[truncated]"
	}

	if len(b.console) < maxConsoleEntries {
		b.console = append(b.console, line)
	} else if !b.truncated {
		b.truncated = true
		b.console = append(b.console, "...[console output truncated]")
	}

	b.tracer.Emit("console_"+level, map[string]any{"message": line})
}

func stringifyArg(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	exported := v.Export()
	switch val := exported.(type) {
	case string:
		return val
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return v.String()
		}
		return string(raw)
	}
}
