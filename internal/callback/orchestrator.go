package callback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tos-network/gtos-faas/internal/events"
	"github.com/tos-network/gtos-faas/internal/gasbank"
	"github.com/tos-network/gtos-faas/internal/registry"
	"github.com/tos-network/gtos-faas/internal/sandbox"
	"github.com/tos-network/gtos-faas/kvstore"
	"github.com/tos-network/gtos-faas/log"
)

const tableDedup = "callback_dedup"

// Orchestrator runs the 8-step lifecycle of spec.md §4.7 for one fired
// trigger at a time, dispatching concurrently across (function, trigger,
// event) identities while serializing duplicates of the same identity
// via a per-identity lock, mirroring gasbank.Ledger's per-principal lock
// pattern.
type Orchestrator struct {
	store   kvstore.Store
	exec    *sandbox.Executor
	ledger  *gasbank.Ledger
	coeffs  GasCoefficients
	log     log.Logger
	mu      sync.Mutex
	locks   map[string]*sync.Mutex

	// OnInvocation, if set, observes every completed invocation. Wired
	// to an observability sink; nil is a no-op.
	OnInvocation func(functionID, principal, status string, executionMs int64, memoryPeakMB float64, gasCharged uint64)
}

// New creates an Orchestrator. coeffs configures the gas-billing formula.
func New(store kvstore.Store, exec *sandbox.Executor, ledger *gasbank.Ledger, coeffs GasCoefficients) *Orchestrator {
	return &Orchestrator{
		store:  store,
		exec:   exec,
		ledger: ledger,
		coeffs: coeffs,
		log:    log.New("component", "callback"),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (o *Orchestrator) lockFor(identity string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[identity]
	if !ok {
		l = &sync.Mutex{}
		o.locks[identity] = l
	}
	return l
}

// eventIdentityHash hashes the event value for the dedup key of spec.md
// §4.7: "event-identity (hash of the event value)".
func eventIdentityHash(ev events.Event) (string, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func dedupKey(functionID, triggerID, eventHash string) string {
	return functionID + ":" + triggerID + ":" + eventHash
}

// Fire runs the full lifecycle for one (principal, function, trigger, event)
// occurrence. It is safe to call concurrently for distinct identities; a
// duplicate identity blocks on the same identity's lock and then returns
// ErrAlreadyProcessed with the prior CallbackResult.
func (o *Orchestrator) Fire(ctx context.Context, fn *registry.FunctionVersion, triggerID string, ev events.Event, maxExecutionTime time.Duration) (*CallbackResult, error) {
	eventHash, err := eventIdentityHash(ev)
	if err != nil {
		return nil, fmt.Errorf("callback: hash event: %w", err)
	}
	identity := dedupKey(fn.ID, triggerID, eventHash)
	lock := o.lockFor(identity)
	lock.Lock()
	defer lock.Unlock()

	if existing, found, err := o.lookupDedup(identity); err != nil {
		return nil, err
	} else if found {
		return existing, ErrAlreadyProcessed
	}

	// Step 1: allocate callback_id, Pending.
	callbackID := uuid.NewString()
	now := time.Now()
	result := &CallbackResult{
		CallbackID: callbackID,
		TriggerID:  triggerID,
		Principal:  fn.Principal,
		FunctionID: fn.ID,
		Status:     StatusPending,
		EventHash:  eventHash,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.persistCallback(result); err != nil {
		return nil, err
	}

	// Step 2: Executing.
	result.Status = StatusExecuting
	result.UpdatedAt = time.Now()
	if err := o.persistCallback(result); err != nil {
		return nil, err
	}

	// Step 3: invoke C4 under max_execution_time.
	input := map[string]interface{}{
		"callback_id": callbackID,
		"trigger_id":  triggerID,
		"principal":   fn.Principal,
		"function_id": fn.ID,
		"event":       ev,
		"ts":          now.Unix(),
	}
	_ = maxExecutionTime // not applied: the executor's only wall-clock cap is fn.SecurityLevel's (sandbox.CapsForLevel)

	execRes := o.exec.Run(ctx, fn, input)

	// Steps 4-6: map outcome to status.
	switch execRes.Outcome {
	case sandbox.OutcomeSuccess:
		result.Status = StatusSuccess
		result.Result = execRes.Output
	case sandbox.OutcomeTimeout:
		result.Status = StatusTimeout
		result.Message = execRes.ErrorMessage
	default:
		result.Status = StatusFailed
		result.Reason = ReasonRuntimeError
		result.Message = execRes.ErrorMessage
	}
	result.DurationMs = execRes.ExecutionMs

	// Step 7: bill gas for measured resources.
	gasAmount := o.coeffs.ComputeGas(execRes.ExecutionMs, execRes.MemoryPeakMB)
	txHash := "callback:" + callbackID
	if _, payErr := o.ledger.PayGas(txHash, fn.Principal, gasAmount); payErr != nil {
		if payErr == gasbank.ErrInsufficientFunds {
			result.Status = StatusFailed
			result.Reason = ReasonGasExhausted
			// No rollback of any on-chain effect the function already
			// emitted; spec.md §7 InsufficientFunds handling.
		} else {
			o.log.Warn("pay_gas failed", "callback_id", callbackID, "err", payErr)
		}
	}

	result.UpdatedAt = time.Now()

	// Step 8: persist final CallbackResult + derived Invocation.
	if err := o.persistCallback(result); err != nil {
		return nil, err
	}
	inv := &Invocation{
		InvocationID: uuid.NewString(),
		CallbackID:   callbackID,
		FunctionID:   fn.ID,
		Principal:    fn.Principal,
		ExecutionMs:  execRes.ExecutionMs,
		MemoryPeakMB: execRes.MemoryPeakMB,
		GasCharged:   gasAmount,
		Status:       result.Status,
		Timestamp:    time.Now(),
	}
	if err := o.persistInvocation(inv); err != nil {
		return nil, err
	}
	if err := o.markDedup(identity, callbackID); err != nil {
		return nil, err
	}
	if o.OnInvocation != nil {
		o.OnInvocation(fn.ID, fn.Principal, string(result.Status), execRes.ExecutionMs, execRes.MemoryPeakMB, gasAmount)
	}

	return result, nil
}

func (o *Orchestrator) lookupDedup(identity string) (*CallbackResult, bool, error) {
	raw, err := o.store.Get(tableDedup, []byte(identity))
	if err == kvstore.ErrNoSuchKey {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	cbRaw, err := o.store.Get(TableCallbacks, raw)
	if err != nil {
		return nil, false, err
	}
	cb, err := unmarshalCallback(cbRaw)
	if err != nil {
		return nil, false, err
	}
	return cb, true, nil
}

func (o *Orchestrator) markDedup(identity, callbackID string) error {
	return o.store.Put(tableDedup, []byte(identity), []byte(callbackID), kvstore.PutOptions{})
}

func (o *Orchestrator) persistCallback(c *CallbackResult) error {
	b, err := marshalCallback(c)
	if err != nil {
		return err
	}
	return o.store.Put(TableCallbacks, []byte(c.CallbackID), b, kvstore.PutOptions{})
}

func (o *Orchestrator) persistInvocation(i *Invocation) error {
	b, err := marshalInvocation(i)
	if err != nil {
		return err
	}
	return o.store.Put(TableInvocations, []byte(i.InvocationID), b, kvstore.PutOptions{})
}

// GetCallback fetches a persisted CallbackResult by id.
func (o *Orchestrator) GetCallback(id string) (*CallbackResult, error) {
	raw, err := o.store.Get(TableCallbacks, []byte(id))
	if err == kvstore.ErrNoSuchKey {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return unmarshalCallback(raw)
}
