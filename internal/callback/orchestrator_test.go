package callback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tos-network/gtos-faas/internal/events"
	"github.com/tos-network/gtos-faas/internal/gasbank"
	"github.com/tos-network/gtos-faas/internal/hostcall"
	"github.com/tos-network/gtos-faas/internal/registry"
	"github.com/tos-network/gtos-faas/internal/sandbox"
	"github.com/tos-network/gtos-faas/kvstore"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *gasbank.Ledger, kvstore.Store) {
	t.Helper()
	store := kvstore.NewMemStore()
	ledger := gasbank.New(store)
	exec := sandbox.New(hostcall.Surface{})
	coeffs := GasCoefficients{Baseline: 1, PerMs: 1, PerMB: 1}
	return New(store, exec, ledger, coeffs), ledger, store
}

func TestFire_SuccessPath(t *testing.T) {
	orch, ledger, _ := newTestOrchestrator(t)
	_, err := ledger.CreateAccount("alice", gasbank.NewFreeFee(), 0)
	require.NoError(t, err)
	_, err = ledger.Deposit("seed-tx", "alice", 1_000_000)
	require.NoError(t, err)

	fn := &registry.FunctionVersion{
		ID:            "fn-1",
		Principal:     "alice",
		SecurityLevel: registry.SecurityHigh,
		Code:          `module.exports = function(input) { return input.event.event_name; };`,
	}
	ev := events.Event{Tag: events.TagCustom, EventName: "order_placed"}

	res, err := orch.Fire(context.Background(), fn, "trig-1", ev, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, "order_placed", res.Result)

	acct, err := ledger.GetAccount("alice")
	require.NoError(t, err)
	require.Less(t, acct.Balance, uint64(1_000_000))
}

func TestFire_DuplicateEventIdentityIsDeduplicated(t *testing.T) {
	orch, ledger, _ := newTestOrchestrator(t)
	_, err := ledger.CreateAccount("alice", gasbank.NewFreeFee(), 0)
	require.NoError(t, err)
	_, err = ledger.Deposit("seed-tx", "alice", 1_000_000)
	require.NoError(t, err)

	fn := &registry.FunctionVersion{
		ID:            "fn-1",
		Principal:     "alice",
		SecurityLevel: registry.SecurityHigh,
		Code:          `module.exports = function(input) { return 1; };`,
	}
	ev := events.Event{Tag: events.TagCustom, EventName: "order_placed"}

	first, err := orch.Fire(context.Background(), fn, "trig-1", ev, 5*time.Second)
	require.NoError(t, err)

	second, err := orch.Fire(context.Background(), fn, "trig-1", ev, 5*time.Second)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	require.Equal(t, first.CallbackID, second.CallbackID)
}

func TestFire_InsufficientFundsOverridesStatus(t *testing.T) {
	orch, ledger, _ := newTestOrchestrator(t)
	_, err := ledger.CreateAccount("bob", gasbank.NewFreeFee(), 0)
	require.NoError(t, err)
	// No deposit: balance stays zero, PayGas must fail.

	fn := &registry.FunctionVersion{
		ID:            "fn-2",
		Principal:     "bob",
		SecurityLevel: registry.SecurityHigh,
		Code:          `module.exports = function(input) { return "ok"; };`,
	}
	ev := events.Event{Tag: events.TagCustom, EventName: "x"}

	res, err := orch.Fire(context.Background(), fn, "trig-2", ev, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, ReasonGasExhausted, res.Reason)
}

func TestFire_RuntimeErrorIsRecorded(t *testing.T) {
	orch, ledger, _ := newTestOrchestrator(t)
	_, err := ledger.CreateAccount("carol", gasbank.NewFreeFee(), 0)
	require.NoError(t, err)
	_, err = ledger.Deposit("seed", "carol", 100)
	require.NoError(t, err)

	fn := &registry.FunctionVersion{
		ID:            "fn-3",
		Principal:     "carol",
		SecurityLevel: registry.SecurityHigh,
		Code:          `module.exports = function(input) { throw new Error("bad"); };`,
	}
	ev := events.Event{Tag: events.TagCustom, EventName: "x"}

	res, err := orch.Fire(context.Background(), fn, "trig-3", ev, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, res.Status)
	require.Contains(t, res.Message, "bad")
}

func TestGasCoefficients_ComputeGas(t *testing.T) {
	c := GasCoefficients{Baseline: 10, PerMs: 2, PerMB: 3}
	require.Equal(t, uint64(10+2*5+3*4), c.ComputeGas(5, 4))
}
