package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBucket_ExhaustsThenRejects(t *testing.T) {
	b := NewBucket(3)
	require.True(t, b.Allow())
	require.True(t, b.Allow())
	require.True(t, b.Allow())
	require.False(t, b.Allow())
}

func TestLimiter_PerPrincipalIndependentFromPerIP(t *testing.T) {
	l := NewLimiter(1000, 2, 2)
	require.True(t, l.Allow("1.2.3.4", "alice"))
	require.True(t, l.Allow("1.2.3.4", "alice"))
	require.False(t, l.Allow("1.2.3.4", "alice")) // per-IP and per-principal both exhausted

	// A different principal behind the same IP still hits the IP gate.
	require.False(t, l.Allow("1.2.3.4", "bob"))

	// A different IP with a fresh principal passes.
	require.True(t, l.Allow("5.6.7.8", "carol"))
}

func TestLimiter_GlobalGateAppliesAcrossPrincipals(t *testing.T) {
	l := NewLimiter(1, 100, 100)
	require.True(t, l.Allow("ip1", "alice"))
	require.False(t, l.Allow("ip2", "bob"))
}
