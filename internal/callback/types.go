// Package callback implements the Callback orchestrator (C7): the
// per-trigger-fire lifecycle that invokes C4, records the outcome, and
// bills C2, per spec.md §4.7.
package callback

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	TableCallbacks   = "callbacks"
	TableInvocations = "invocations"
)

// Status is the terminal or in-flight state of one CallbackResult.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// FailureReason further tags a Failed status.
type FailureReason string

const (
	ReasonNone        FailureReason = ""
	ReasonGasExhausted FailureReason = "gas_exhausted"
	ReasonRuntimeError FailureReason = "runtime_error"
)

// CallbackResult is the persisted record of one trigger-fire's
// processing, keyed by CallbackID in the `callbacks` table.
type CallbackResult struct {
	CallbackID  string        `json:"callback_id"`
	TriggerID   string        `json:"trigger_id"`
	Principal   string        `json:"principal"`
	FunctionID  string        `json:"function_id"`
	Status      Status        `json:"status"`
	Reason      FailureReason `json:"reason,omitempty"`
	Result      interface{}   `json:"result,omitempty"`
	Message     string        `json:"message,omitempty"`
	DurationMs  int64         `json:"duration_ms"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	EventHash   string        `json:"event_hash"`
}

// Invocation is the derived, append-only audit record of one sandbox
// call underlying a CallbackResult, keyed by InvocationID in the
// `invocations` table.
type Invocation struct {
	InvocationID string    `json:"invocation_id"`
	CallbackID   string    `json:"callback_id"`
	FunctionID   string    `json:"function_id"`
	Principal    string    `json:"principal"`
	ExecutionMs  int64     `json:"execution_ms"`
	MemoryPeakMB float64   `json:"memory_peak_mb"`
	GasCharged   uint64    `json:"gas_charged"`
	Status       Status    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
}

// GasCoefficients configures the billing formula of spec.md §4.7 step 7:
// gas = baseline + per_ms*execution_ms + per_mb*memory_peak_mb.
type GasCoefficients struct {
	Baseline uint64
	PerMs    uint64
	PerMB    uint64
}

// ComputeGas applies the coefficients to measured resource usage.
func (c GasCoefficients) ComputeGas(executionMs int64, memoryPeakMB float64) uint64 {
	if executionMs < 0 {
		executionMs = 0
	}
	if memoryPeakMB < 0 {
		memoryPeakMB = 0
	}
	return c.Baseline + c.PerMs*uint64(executionMs) + c.PerMB*uint64(memoryPeakMB)
}

var (
	ErrAlreadyProcessed = errors.New("callback: event already processed for this (function, trigger, event) identity")
	ErrNotFound         = errors.New("callback: not found")
)

func marshalCallback(c *CallbackResult) ([]byte, error) { return json.Marshal(c) }
func unmarshalCallback(b []byte) (*CallbackResult, error) {
	var c CallbackResult
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func marshalInvocation(i *Invocation) ([]byte, error) { return json.Marshal(i) }
func unmarshalInvocation(b []byte) (*Invocation, error) {
	var i Invocation
	if err := json.Unmarshal(b, &i); err != nil {
		return nil, err
	}
	return &i, nil
}
