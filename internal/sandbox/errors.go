// Package sandbox runs untrusted scripts inside a memory- and
// time-capped ECMAScript isolate and exposes the curated host API to
// them through the Bridge.
package sandbox

import (
	"fmt"
	"time"
)

// FaultKind classifies a sandbox fault.
type FaultKind string

const (
	// FaultCompile means the script failed to parse or compile.
	FaultCompile FaultKind = "compile"

	// FaultRuntime means the script threw and did not catch.
	FaultRuntime FaultKind = "runtime"

	// FaultTimeout means a wall-clock ceiling fired.
	FaultTimeout FaultKind = "timeout"

	// FaultOOM means the memory ceiling fired.
	FaultOOM FaultKind = "oom"
)

// FaultError is the error surfaced for any failure at or below the
// sandbox runtime. It is not retryable within the same run.
type FaultError struct {
	Kind    FaultKind
	Message string

	// After is set for timeout faults: the configured ceiling.
	After time.Duration

	// LimitMB is set for oom faults: the configured ceiling.
	LimitMB int
}

func (e *FaultError) Error() string {
	switch e.Kind {
	case FaultTimeout:
		return fmt.Sprintf("script timed out after %d ms", e.After.Milliseconds())
	case FaultOOM:
		return fmt.Sprintf("script exceeded memory ceiling of %d MB", e.LimitMB)
	case FaultCompile:
		return fmt.Sprintf("script failed to compile: %s", e.Message)
	default:
		return fmt.Sprintf("script fault: %s", e.Message)
	}
}

// interruptReason distinguishes which ceiling fired an isolate
// interrupt.
type interruptReason string

const (
	reasonWallTimeout interruptReason = "wall_timeout"
	reasonMemLimit    interruptReason = "memory_limit"
)
