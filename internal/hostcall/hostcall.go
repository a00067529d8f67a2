// Package hostcall defines the leaf-service clients a sandboxed function
// may reach through the executor's host-call surface: oracle price/random
// feeds, and TEE/FHE/ZK attestation/compute stubs. Each is an opaque
// typed RPC, named by permission so a denied call raises inside the
// isolate rather than crashing the host (spec.md §4.4 step 2, §7
// SandboxViolation). The sandbox calls these clients with
// context.Background(), so a host call is not cancelled at the invocation
// deadline.
//
// Supplements the oracle/TEE/FHE/ZK host-call stubs original_source drops
// into r3e-oracle/r3e-tee/r3e-fhe/r3e-zk, per SPEC_FULL.md §5.
package hostcall

import (
	"context"
	"errors"
	"fmt"
)

// ErrPermissionDenied is raised into the isolate (never crashes the
// host) when a function calls a host function its permission set does
// not grant.
var ErrPermissionDenied = errors.New("hostcall: permission denied")

// OracleClient resolves external data feeds (price, randomness) for
// user code running under the `oracle` permission.
type OracleClient interface {
	GetPrice(ctx context.Context, assetPair string) (float64, error)
	GetRandom(ctx context.Context, seed string) ([]byte, error)
}

// TEEClient performs trusted-execution attestation/compute requests
// under the `tee` permission.
type TEEClient interface {
	Attest(ctx context.Context, payload []byte) (attestation []byte, err error)
}

// FHEClient performs homomorphic compute requests under the `fhe`
// permission.
type FHEClient interface {
	Compute(ctx context.Context, op string, ciphertexts [][]byte) ([]byte, error)
}

// ZKClient issues/verifies zero-knowledge proofs under the `zk`
// permission.
type ZKClient interface {
	Prove(ctx context.Context, circuit string, witness []byte) (proof []byte, err error)
	Verify(ctx context.Context, circuit string, proof []byte) (bool, error)
}

// Surface bundles the leaf clients installed into one invocation. A nil
// field means that service was not wired by the deployment; calling it
// from inside the isolate raises a catchable exception rather than a Go
// nil-pointer panic: ErrPermissionDenied if the permission is not
// granted (the gate runs first), otherwise "no <service> client wired".
type Surface struct {
	Oracle OracleClient
	TEE    TEEClient
	FHE    FHEClient
	ZK     ZKClient
}

// MockOracle is an in-memory OracleClient for tests and local development.
type MockOracle struct {
	Prices map[string]float64
}

func NewMockOracle() *MockOracle { return &MockOracle{Prices: make(map[string]float64)} }

func (m *MockOracle) GetPrice(_ context.Context, assetPair string) (float64, error) {
	p, ok := m.Prices[assetPair]
	if !ok {
		return 0, fmt.Errorf("hostcall: no mock price for %q", assetPair)
	}
	return p, nil
}

func (m *MockOracle) GetRandom(_ context.Context, seed string) ([]byte, error) {
	out := make([]byte, 32)
	copy(out, seed)
	return out, nil
}

// MockTEE/MockFHE/MockZK are pass-through mocks used in tests; a real
// deployment wires a genuine attestation/FHE/ZK backend behind the same
// interfaces (those backends are explicitly out of scope per spec.md §1).
type MockTEE struct{}

func (MockTEE) Attest(_ context.Context, payload []byte) ([]byte, error) {
	return append([]byte("attested:"), payload...), nil
}

type MockFHE struct{}

func (MockFHE) Compute(_ context.Context, op string, ciphertexts [][]byte) ([]byte, error) {
	if len(ciphertexts) == 0 {
		return nil, fmt.Errorf("hostcall: fhe compute %q requires at least one ciphertext", op)
	}
	return ciphertexts[0], nil
}

type MockZK struct{}

func (MockZK) Prove(_ context.Context, circuit string, witness []byte) ([]byte, error) {
	return append([]byte(circuit+":"), witness...), nil
}

func (MockZK) Verify(_ context.Context, _ string, proof []byte) (bool, error) {
	return len(proof) > 0, nil
}
