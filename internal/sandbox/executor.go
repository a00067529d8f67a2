// Package sandbox implements the Sandbox executor (C4): spawns a goja
// isolate per invocation, installs a capability-checked host-call
// surface, loads a FunctionVersion's code as a single module, and runs
// its default export under a wall-clock deadline.
//
// goja's Runtime is the "isolate": single-threaded, one per invocation,
// never shared across concurrent work, matching the teacher's use of
// dop251/goja for an embedded JS console (its actual console wiring was
// not part of the retrieved slice, so this package is written fresh
// against goja's public API rather than adapted from a teacher file).
package sandbox

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/dop251/goja"

	"github.com/tos-network/gtos-faas/internal/hostcall"
	"github.com/tos-network/gtos-faas/internal/registry"
	"github.com/tos-network/gtos-faas/log"
)

// defaultProgramCacheBytes bounds the compiled-program cache's marker
// set; mirrors the teacher's trie-node fastcache sizing order of
// magnitude, scaled down for compiled source rather than state nodes.
const defaultProgramCacheBytes = 8 * 1024 * 1024

// programCache bounds compiled *goja.Program memory using fastcache's
// byte-budgeted eviction as the membership oracle: fastcache holds a
// one-byte marker per FunctionVersion content hash, so its internal
// eviction reclaims slots under memory pressure, while progs holds the
// actual Program objects (fastcache itself only stores []byte, so it
// cannot hold the compiled bytecode directly).
type programCache struct {
	marks *fastcache.Cache
	mu    sync.Mutex
	progs map[string]*goja.Program
}

func newProgramCache(maxBytes int) *programCache {
	return &programCache{marks: fastcache.New(maxBytes), progs: make(map[string]*goja.Program)}
}

func (c *programCache) get(hash string) (*goja.Program, bool) {
	if !c.marks.Has([]byte(hash)) {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.progs[hash]
	return p, ok
}

func (c *programCache) put(hash string, prog *goja.Program) {
	c.marks.Set([]byte(hash), []byte{1})
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progs[hash] = prog
	if len(c.progs) > 4096 {
		c.sweep()
	}
}

// sweep drops entries fastcache has already evicted from its marker set.
func (c *programCache) sweep() {
	for h := range c.progs {
		if !c.marks.Has([]byte(h)) {
			delete(c.progs, h)
		}
	}
}

// Outcome tags the terminal state of one invocation.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeCompileError Outcome = "compile_error"
	OutcomeEvalError    Outcome = "eval_error"
	OutcomeRuntimeError Outcome = "runtime_error"
	OutcomeTimeout      Outcome = "timeout"
)

// Result is what one invocation of the executor produces.
type Result struct {
	Outcome      Outcome
	Output       interface{}
	ErrorMessage string
	ExecutionMs  int64
	MemoryPeakMB float64
}

// TerminationLatencyBound is the ε from spec.md §8: the executor must
// return within max_execution_time + ε.
const TerminationLatencyBound = time.Second

// Executor runs FunctionVersion invocations. It is safe for concurrent
// use by multiple workers; every call creates its own goja.Runtime.
type Executor struct {
	surface hostcall.Surface
	log     log.Logger
	progs   *programCache
	// GasQuery returns the caller's current gas balance for the
	// `gas.balance()` host call; optional.
	GasQuery func(principal string) (uint64, error)
	// Runner, if set, wraps Run in an additional OS-level hard stop.
	// Nil means in-process caps are the only enforcement.
	Runner ContainerRunner
}

// RunHardened runs fn under both the in-process wall-clock cap and an
// outer ContainerLimits hard stop, if a Runner is configured.
func (e *Executor) RunHardened(ctx context.Context, fn *registry.FunctionVersion, input map[string]interface{}, limits ContainerLimits) *Result {
	if e.Runner == nil {
		return e.Run(ctx, fn, input)
	}
	return e.Runner.RunHardened(ctx, limits, func(hardCtx context.Context) *Result {
		return e.Run(hardCtx, fn, input)
	})
}

// New creates an Executor with the given leaf-service surface and the
// default compiled-program cache size.
func New(surface hostcall.Surface) *Executor {
	return NewWithCacheSize(surface, defaultProgramCacheBytes)
}

// NewWithCacheSize creates an Executor whose compiled-program cache is
// bounded to cacheBytes, overriding defaultProgramCacheBytes; a
// deployment with many large functions can raise this via
// gtos-faasd's `--sandbox.program-cache-bytes` flag.
func NewWithCacheSize(surface hostcall.Surface, cacheBytes int) *Executor {
	if cacheBytes <= 0 {
		cacheBytes = defaultProgramCacheBytes
	}
	return &Executor{
		surface: surface,
		log:     log.New("component", "sandbox"),
		progs:   newProgramCache(cacheBytes),
	}
}

// Run executes fn's default export with input, under fn.SecurityLevel's
// caps, returning within its timeout + TerminationLatencyBound.
func (e *Executor) Run(ctx context.Context, fn *registry.FunctionVersion, input map[string]interface{}) *Result {
	caps := CapsForLevel(fn.SecurityLevel)
	perms := EffectivePermissions(fn.SecurityLevel, fn.Permissions)

	start := time.Now()
	var memBefore runtime.MemStats
	runtime.ReadMemStats(&memBefore)

	type runOutcome struct {
		res *Result
	}
	done := make(chan runOutcome, 1)
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runOutcome{res: &Result{Outcome: OutcomeRuntimeError, ErrorMessage: fmt.Sprintf("panic: %v", r)}}
			}
		}()
		done <- runOutcome{res: e.runInIsolate(vm, fn, perms, input)}
	}()

	select {
	case out := <-done:
		out.res.ExecutionMs = time.Since(start).Milliseconds()
		out.res.MemoryPeakMB = peakMemoryMB(memBefore)
		return out.res
	case <-time.After(caps.Timeout):
		vm.Interrupt("timeout")
		<-done // goja returns promptly once interrupted; allow cleanup to finish
		return &Result{
			Outcome:      OutcomeTimeout,
			ErrorMessage: "execution exceeded wall-clock timeout",
			ExecutionMs:  time.Since(start).Milliseconds(),
			MemoryPeakMB: peakMemoryMB(memBefore),
		}
	}
}

func peakMemoryMB(before runtime.MemStats) float64 {
	var after runtime.MemStats
	runtime.ReadMemStats(&after)
	// goja does not expose V8-style per-isolate heap statistics; this
	// approximates peak usage from the host process's own heap delta
	// around the single invocation goroutine. Documented as an
	// approximation in DESIGN.md.
	delta := int64(after.HeapAlloc) - int64(before.HeapAlloc)
	if delta < 0 {
		delta = 0
	}
	return float64(delta) / (1 << 20)
}

// runInIsolate performs steps 2-5 of spec.md §4.4's lifecycle.
func (e *Executor) runInIsolate(vm *goja.Runtime, fn *registry.FunctionVersion, perms registry.Permissions, input map[string]interface{}) *Result {
	installHostSurface(vm, e.surface, perms, e.GasQuery, fn.Principal)

	moduleObj := vm.NewObject()
	moduleObj.Set("exports", vm.NewObject())
	vm.Set("module", moduleObj)

	prog, cached := e.progs.get(fn.Hash)
	if !cached {
		compiled, err := goja.Compile(fn.ID, wrapCommonJS(fn.Code), true)
		if err != nil {
			return &Result{Outcome: OutcomeCompileError, ErrorMessage: err.Error()}
		}
		prog = compiled
		if fn.Hash != "" {
			e.progs.put(fn.Hash, prog)
		}
	}

	if _, err := vm.RunProgram(prog); err != nil {
		return &Result{Outcome: OutcomeEvalError, ErrorMessage: err.Error()}
	}

	moduleVal := vm.Get("module")
	if moduleVal == nil {
		return &Result{Outcome: OutcomeEvalError, ErrorMessage: "module did not execute"}
	}
	exportsVal := moduleVal.ToObject(vm).Get("exports")
	callable, ok := goja.AssertFunction(exportsVal)
	if !ok {
		return &Result{Outcome: OutcomeEvalError, ErrorMessage: "module.exports is not a function (expected a default export)"}
	}

	result, err := callable(goja.Undefined(), vm.ToValue(input))
	if err != nil {
		if ex, ok := err.(*goja.Exception); ok {
			return &Result{Outcome: OutcomeRuntimeError, ErrorMessage: ex.Error()}
		}
		return &Result{Outcome: OutcomeRuntimeError, ErrorMessage: err.Error()}
	}

	output, errMsg, isErr := resolveResult(result)
	if isErr {
		return &Result{Outcome: OutcomeRuntimeError, ErrorMessage: errMsg}
	}
	return &Result{Outcome: OutcomeSuccess, Output: output}
}

// resolveResult unwraps a plain value or an already-settled goja Promise
// (host calls in this surface are synchronous, so any `await` inside user
// code settles within the same call). A Promise still Pending once the
// handler returns is treated as an error: the executor does not run an
// event loop.
func resolveResult(v goja.Value) (output interface{}, errMsg string, isErr bool) {
	if v == nil || goja.IsUndefined(v) {
		return nil, "", false
	}
	if p, ok := v.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			return p.Result().Export(), "", false
		case goja.PromiseStateRejected:
			return nil, fmt.Sprintf("%v", p.Result().Export()), true
		default:
			return nil, "function returned a pending promise; host calls are synchronous and no event loop is run", true
		}
	}
	return v.Export(), "", false
}

// wrapCommonJS wraps user code in a minimal CommonJS shell so "export
// default" style handlers translate to `module.exports = ...`, matching
// the single-module load step of spec.md §4.4 step 3 without requiring a
// full ES module loader inside the isolate.
func wrapCommonJS(code string) string {
	return "(function(module, exports) {\n" + code + "\n})(module, module.exports);"
}
