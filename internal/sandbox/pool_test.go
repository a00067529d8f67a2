package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tos-network/gtos-faas/internal/hostcall"
	"github.com/tos-network/gtos-faas/internal/registry"
)

func TestPool_RunAllPreservesOrderUnderConcurrency(t *testing.T) {
	exec := New(hostcall.Surface{})
	pool := NewPool(exec, 4)

	jobs := make([]Job, 0, 10)
	for i := 0; i < 10; i++ {
		jobs = append(jobs, Job{
			Fn:    fnWithCode(`module.exports = function(input) { return input.x; };`, registry.SecurityHigh, registry.Permissions{}),
			Input: map[string]interface{}{"x": int64(i)},
		})
	}

	results := pool.RunAll(context.Background(), jobs)
	require.Len(t, results, 10)
	for i, res := range results {
		require.Equal(t, OutcomeSuccess, res.Outcome)
		require.EqualValues(t, i, res.Output)
	}
}

func TestPool_RunAllEmpty(t *testing.T) {
	pool := NewPool(New(hostcall.Surface{}), 2)
	require.Nil(t, pool.RunAll(context.Background(), nil))
}
