package sandbox

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/dop251/goja"
)

// Run states reflected into the trace as the isolate advances.
const (
	StateIsolateCreated        = "isolate_created"
	StateCapabilitiesInstalled = "capabilities_installed"
	StateCompiled              = "compiled"
	StateRunning               = "running"
	StateCompleted             = "completed"
	StateFailed                = "failed"
	StateTimedOut              = "timed_out"
	StateOOM                   = "oom"
)

// Options bound one isolate run.
type Options struct {
	// MaxMemoryMB is the heap ceiling. The guard samples the process
	// heap against the level observed at run start, so the ceiling is
	// enforced approximately rather than per-isolate exactly.
	MaxMemoryMB int

	// MaxWall is the wall-clock ceiling.
	MaxWall time.Duration

	// MemCheckInterval controls the memory guard cadence. Zero means
	// 50 ms.
	MemCheckInterval time.Duration
}

// Runtime owns one isolate for one run. The isolate and every resource
// attached to it are disposed deterministically when Run returns.
type Runtime struct {
	opts   Options
	tracer Tracer
	vm     *goja.Runtime
}

// NewRuntime creates a runtime for a single run.
func NewRuntime(tracer Tracer, opts Options) *Runtime {
	if opts.MemCheckInterval <= 0 {
		opts.MemCheckInterval = 50 * time.Millisecond
	}
	return &Runtime{opts: opts, tracer: tracer}
}

// Run compiles and executes the script with the bridge's API installed.
// The returned value is the script's result detached from the isolate;
// failures are *FaultError.
//
// The script runs under two independent ceilings: the caller's context
// (which bounds in-flight host calls) and the isolate interrupt armed
// here (which stops pure script execution). Whichever fires first
// cancels the run.
func (r *Runtime) Run(ctx context.Context, script string, bridge *Bridge) (result any, err error) {
	vm := goja.New()
	r.vm = vm
	r.tracer.Emit(StateIsolateCreated, map[string]any{
		"max_memory_mb": r.opts.MaxMemoryMB,
		"max_wall_ms":   r.opts.MaxWall.Milliseconds(),
	})

	if err := bridge.Install(vm); err != nil {
		r.tracer.Emit(StateFailed, map[string]any{"reason": err.Error()})
		return nil, &FaultError{Kind: FaultRuntime, Message: fmt.Sprintf("install capabilities: %v", err)}
	}
	r.tracer.Emit(StateCapabilitiesInstalled, nil)

	prog, wrapped, compileErr := compileScript(script)
	if compileErr != nil {
		r.tracer.Emit(StateFailed, map[string]any{"reason": compileErr.Error()})
		return nil, &FaultError{Kind: FaultCompile, Message: compileErr.Error()}
	}
	r.tracer.Emit(StateCompiled, map[string]any{"async_wrapper": wrapped})

	// Isolate-side execution guard.
	wallTimer := time.AfterFunc(r.opts.MaxWall, func() {
		vm.Interrupt(reasonWallTimeout)
	})
	defer wallTimer.Stop()

	// Memory guard.
	memStop := make(chan struct{})
	defer close(memStop)
	go r.watchMemory(vm, memStop)

	// Caller cancellation propagates into the isolate.
	cancelStop := make(chan struct{})
	defer close(cancelStop)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-cancelStop:
		}
	}()

	defer r.dispose()

	r.tracer.Emit(StateRunning, nil)
	value, runErr := vm.RunProgram(prog)
	if runErr != nil {
		fault := r.classify(runErr)
		r.emitTerminal(fault)
		return nil, fault
	}

	if wrapped {
		value, runErr = settlePromise(vm, value)
		if runErr != nil {
			fault := r.classify(runErr)
			r.emitTerminal(fault)
			return nil, fault
		}
	}

	r.tracer.Emit(StateCompleted, nil)
	return sanitizeResult(value), nil
}

// compileScript tries the raw text first so a bare expression keeps its
// completion value, then falls back to an async function wrapper so
// top-level return and await work.
func compileScript(script string) (prog *goja.Program, wrapped bool, err error) {
	if p, directErr := goja.Compile("script", script, false); directErr == nil {
		return p, false, nil
	}
	wrappedSrc := "(async function() {\n" + script + "\n})()"
	p, wrapErr := goja.Compile("script", wrappedSrc, false)
	if wrapErr != nil {
		return nil, false, wrapErr
	}
	return p, true, nil
}

// settlePromise unwraps the async wrapper's promise. Host calls are
// synchronous, so by the time RunProgram returns the job queue has
// drained and the promise is settled.
func settlePromise(vm *goja.Runtime, value goja.Value) (goja.Value, error) {
	promise, ok := value.Export().(*goja.Promise)
	if !ok {
		return value, nil
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return promise.Result(), nil
	case goja.PromiseStateRejected:
		reason := promise.Result()
		return nil, &FaultError{Kind: FaultRuntime, Message: reason.String()}
	default:
		return nil, &FaultError{Kind: FaultRuntime, Message: "script did not run to completion"}
	}
}

func (r *Runtime) watchMemory(vm *goja.Runtime, stop <-chan struct{}) {
	if r.opts.MaxMemoryMB <= 0 {
		return
	}
	limit := uint64(r.opts.MaxMemoryMB) << 20

	var base runtime.MemStats
	runtime.ReadMemStats(&base)

	ticker := time.NewTicker(r.opts.MemCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			var now runtime.MemStats
			runtime.ReadMemStats(&now)
			if now.HeapAlloc > base.HeapAlloc && now.HeapAlloc-base.HeapAlloc > limit {
				vm.Interrupt(reasonMemLimit)
				return
			}
		}
	}
}

func (r *Runtime) classify(err error) *FaultError {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		switch v := interrupted.Value().(type) {
		case interruptReason:
			if v == reasonMemLimit {
				return &FaultError{Kind: FaultOOM, LimitMB: r.opts.MaxMemoryMB}
			}
			return &FaultError{Kind: FaultTimeout, After: r.opts.MaxWall}
		case error:
			if errors.Is(v, context.DeadlineExceeded) {
				return &FaultError{Kind: FaultTimeout, After: r.opts.MaxWall}
			}
			return &FaultError{Kind: FaultRuntime, Message: v.Error()}
		default:
			return &FaultError{Kind: FaultRuntime, Message: fmt.Sprintf("interrupted: %v", v)}
		}
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		return &FaultError{Kind: FaultRuntime, Message: exception.Value().String()}
	}

	return &FaultError{Kind: FaultRuntime, Message: err.Error()}
}

func (r *Runtime) emitTerminal(fault *FaultError) {
	switch fault.Kind {
	case FaultTimeout:
		r.tracer.Emit(StateTimedOut, map[string]any{"after_ms": fault.After.Milliseconds()})
	case FaultOOM:
		r.tracer.Emit(StateOOM, map[string]any{"limit_mb": fault.LimitMB})
	default:
		r.tracer.Emit(StateFailed, map[string]any{"reason": fault.Error()})
	}
}

// dispose releases the isolate. goja runtimes hold no OS resources, so
// dropping the interrupt and the reference is sufficient; the heap is
// reclaimed by the collector.
func (r *Runtime) dispose() {
	if r.vm != nil {
		r.vm.ClearInterrupt()
		r.vm = nil
	}
}
