package sandbox

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
)

// Values crossing the trust boundary are deep-copied through a JSON
// round trip in both directions. Nothing that reaches the isolate holds
// a live host reference, and nothing exported from the isolate can be
// mutated by the script after the host observes it.

// exportValue detaches a script value into plain host data.
func exportValue(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	raw, err := json.Marshal(v.Export())
	if err != nil {
		return nil, fmt.Errorf("value cannot cross the sandbox boundary: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// exportJSON detaches a script value into its JSON encoding.
func exportJSON(v goja.Value) (string, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "{}", nil
	}
	raw, err := json.Marshal(v.Export())
	if err != nil {
		return "", fmt.Errorf("value cannot cross the sandbox boundary: %w", err)
	}
	return string(raw), nil
}

// intoVM copies plain host data into the isolate.
func intoVM(vm *goja.Runtime, v any) goja.Value {
	if v == nil {
		return goja.Null()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return goja.Null()
	}
	var plain any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return goja.Null()
	}
	return vm.ToValue(plain)
}

// sanitizeResult detaches the script's final value for the caller.
// Values with no JSON form (functions, symbols) degrade to their string
// representation rather than failing the run.
func sanitizeResult(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	out, err := exportValue(v)
	if err != nil {
		return v.String()
	}
	return out
}
