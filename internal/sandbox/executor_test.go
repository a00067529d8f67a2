package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tos-network/gtos-faas/internal/hostcall"
	"github.com/tos-network/gtos-faas/internal/registry"
)

func fnWithCode(code string, level registry.SecurityLevel, perms registry.Permissions) *registry.FunctionVersion {
	return &registry.FunctionVersion{
		ID:            "fn-1",
		Principal:     "alice",
		Version:       1,
		SecurityLevel: level,
		Code:          code,
		Permissions:   perms,
	}
}

func TestExecutor_SyncDefaultExport(t *testing.T) {
	exec := New(hostcall.Surface{})
	fn := fnWithCode(`module.exports = function(input) { return input.x + 1; };`, registry.SecurityHigh, registry.Permissions{})
	res := exec.Run(context.Background(), fn, map[string]interface{}{"x": int64(41)})
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.EqualValues(t, 42, res.Output)
}

func TestExecutor_CompileError(t *testing.T) {
	exec := New(hostcall.Surface{})
	fn := fnWithCode(`this is not valid javascript (((`, registry.SecurityHigh, registry.Permissions{})
	res := exec.Run(context.Background(), fn, nil)
	require.Equal(t, OutcomeCompileError, res.Outcome)
}

func TestExecutor_NoDefaultExport(t *testing.T) {
	exec := New(hostcall.Surface{})
	fn := fnWithCode(`var x = 1;`, registry.SecurityHigh, registry.Permissions{})
	res := exec.Run(context.Background(), fn, nil)
	require.Equal(t, OutcomeEvalError, res.Outcome)
}

func TestExecutor_RuntimeErrorThrow(t *testing.T) {
	exec := New(hostcall.Surface{})
	fn := fnWithCode(`module.exports = function(input) { throw new Error("boom"); };`, registry.SecurityHigh, registry.Permissions{})
	res := exec.Run(context.Background(), fn, nil)
	require.Equal(t, OutcomeRuntimeError, res.Outcome)
	require.Contains(t, res.ErrorMessage, "boom")
}

func TestExecutor_Timeout(t *testing.T) {
	exec := New(hostcall.Surface{})
	fn := &registry.FunctionVersion{
		ID:            "fn-loop",
		SecurityLevel: registry.SecurityHigh,
		Code:          `module.exports = function(input) { while (true) {} };`,
	}
	start := time.Now()
	res := exec.Run(context.Background(), fn, nil)
	elapsed := time.Since(start)
	require.Equal(t, OutcomeTimeout, res.Outcome)
	require.Contains(t, res.ErrorMessage, "timeout")
	require.LessOrEqual(t, elapsed, CapsForLevel(registry.SecurityHigh).Timeout+TerminationLatencyBound)
}

func TestHostCall_DeniedPermission_DoesNotPanic(t *testing.T) {
	exec := New(hostcall.Surface{Oracle: hostcall.NewMockOracle()})
	fn := fnWithCode(
		`module.exports = function(input) { return oracle.getPrice("BTC/USD"); };`,
		registry.SecurityHigh,
		registry.Permissions{Oracle: false},
	)
	require.NotPanics(t, func() {
		res := exec.Run(context.Background(), fn, nil)
		require.Equal(t, OutcomeRuntimeError, res.Outcome)
		require.Contains(t, res.ErrorMessage, "permission denied")
	})
}

func TestHostCall_GrantedPermission_ReturnsValue(t *testing.T) {
	mock := hostcall.NewMockOracle()
	mock.Prices["BTC/USD"] = 65000.5
	exec := New(hostcall.Surface{Oracle: mock})
	fn := fnWithCode(
		`module.exports = function(input) { return oracle.getPrice("BTC/USD"); };`,
		registry.SecurityMedium,
		registry.Permissions{Oracle: true},
	)
	res := exec.Run(context.Background(), fn, nil)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.EqualValues(t, 65000.5, res.Output)
}

func TestContainerLimits_HardStopAfterWallClock(t *testing.T) {
	exec := New(hostcall.Surface{})
	exec.Runner = NoopRunner{}
	fn := &registry.FunctionVersion{
		ID:            "fn-slow",
		SecurityLevel: registry.SecurityHigh,
		Code:          `module.exports = function(input) { while (true) {} };`,
	}
	limits := ContainerLimits{HardStopTimeout: 200 * time.Millisecond}
	start := time.Now()
	res := exec.RunHardened(context.Background(), fn, nil, limits)
	elapsed := time.Since(start)
	require.Equal(t, OutcomeTimeout, res.Outcome)
	require.Less(t, elapsed, CapsForLevel(registry.SecurityHigh).Timeout)
}

func TestEffectivePermissionsIntersection(t *testing.T) {
	perms := EffectivePermissions(registry.SecurityHigh, registry.Permissions{Network: true, Oracle: true})
	require.False(t, perms.Network) // high level caps Network to false regardless of request
	require.True(t, perms.Oracle)   // oracle is ungated by level
}

func TestExecutor_ProgramCacheReusesCompiledProgram(t *testing.T) {
	exec := New(hostcall.Surface{})
	fn := fnWithCode(`module.exports = function(input) { return input.x * 2; };`, registry.SecurityHigh, registry.Permissions{})
	fn.Hash = "deadbeef"

	res1 := exec.Run(context.Background(), fn, map[string]interface{}{"x": int64(3)})
	require.Equal(t, OutcomeSuccess, res1.Outcome)
	require.EqualValues(t, 6, res1.Output)

	prog, ok := exec.progs.get(fn.Hash)
	require.True(t, ok)
	require.NotNil(t, prog)

	res2 := exec.Run(context.Background(), fn, map[string]interface{}{"x": int64(5)})
	require.Equal(t, OutcomeSuccess, res2.Outcome)
	require.EqualValues(t, 10, res2.Output)
}
