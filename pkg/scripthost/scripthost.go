// Package scripthost executes a verified interpreter script against a
// pool's JSON payload. The interpreter is a process-wide singleton guarded
// by a single mutex, matching the single-threaded cooperative contract
// spec.md §4.6 and §5 require of the embedded runtime.
package scripthost

import (
	"encoding/json"
	"sync"

	"github.com/dop251/goja"

	"github.com/Mindburn-Labs/enclave/pkg/errs"
)

// Host runs verified scripts against one shared, mutex-guarded runtime.
type Host struct {
	mu sync.Mutex
	rt *goja.Runtime
}

// NewHost builds a Host with its own goja.Runtime, created once and reused
// across every Run call -- "process-wide state initialised once at enclave
// startup; only one invocation at a time" (spec.md §4.6).
func NewHost() *Host {
	return &Host{rt: goja.New()}
}

// Run serializes data to a JSON string bound under the global name "data",
// executes source once to define exec, evaluates exec(JSON.parse(data)),
// expects a string return, and parses that string as the JSON aggregate.
func (h *Host) Run(source string, data map[string]any) (map[string]any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, errs.Wrap(errs.Format, "ScriptInputFormat", err)
	}

	if err := h.rt.Set("data", string(dataJSON)); err != nil {
		return nil, errs.Wrap(errs.Execution, "ScriptExec", err)
	}

	if _, err := h.rt.RunString(source); err != nil {
		return nil, errs.Wrap(errs.Execution, "ScriptExec", err)
	}

	execVal := h.rt.Get("exec")
	if execVal == nil || goja.IsUndefined(execVal) {
		return nil, errs.New(errs.Execution, "ScriptExec", "script does not define exec")
	}
	execFn, ok := goja.AssertFunction(execVal)
	if !ok {
		return nil, errs.New(errs.Execution, "ScriptExec", "exec is not callable")
	}

	parsed, err := h.callJSONParse(string(dataJSON))
	if err != nil {
		return nil, errs.Wrap(errs.Execution, "ScriptExec", err)
	}

	resultVal, err := execFn(goja.Undefined(), parsed)
	if err != nil {
		return nil, errs.Wrap(errs.Execution, "ScriptExec", err)
	}

	resultStr, ok := resultVal.Export().(string)
	if !ok {
		return nil, errs.New(errs.Execution, "ScriptExec", "exec did not return a string")
	}

	var aggregate map[string]any
	if err := json.Unmarshal([]byte(resultStr), &aggregate); err != nil {
		return nil, errs.Wrap(errs.Format, "ScriptOutputFormat", err)
	}
	return aggregate, nil
}

// callJSONParse evaluates JSON.parse(raw) inside the shared runtime and
// returns the resulting goja value, so exec receives the same object shape
// a caller typing JSON.parse(data) inside the script would see.
func (h *Host) callJSONParse(raw string) (goja.Value, error) {
	jsonGlobal := h.rt.GlobalObject().Get("JSON")
	if jsonGlobal == nil || goja.IsUndefined(jsonGlobal) {
		return nil, errs.New(errs.Execution, "ScriptExec", "runtime has no JSON global")
	}
	jsonObj := jsonGlobal.ToObject(h.rt)
	parseVal := jsonObj.Get("parse")
	parseFn, ok := goja.AssertFunction(parseVal)
	if !ok {
		return nil, errs.New(errs.Execution, "ScriptExec", "JSON.parse is not callable")
	}
	return parseFn(goja.Undefined(), h.rt.ToValue(raw))
}
