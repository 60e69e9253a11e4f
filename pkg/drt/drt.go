// Package drt models Data Rights Token redemption: the on-chain token
// program is an external collaborator, represented here only by the
// authorization interface the Router calls before performing any
// operation. Nothing in this package talks to a real ledger.
package drt

import (
	"context"
	"sync"
	"time"

	"github.com/Mindburn-Labs/enclave/pkg/errs"
)

// Kind is a tagged variant of the operation a redeemed DRT entitles its
// bearer to perform, derived once by the Router rather than matched on
// strings at each call site (spec.md §9 design note).
type Kind int

const (
	Append Kind = iota
	WasmAggregate
	ScriptAggregate
)

func (k Kind) String() string {
	switch k {
	case Append:
		return "append"
	case WasmAggregate:
		return "wasm-aggregate"
	case ScriptAggregate:
		return "script-aggregate"
	default:
		return "unknown"
	}
}

// Receipt is the redemption evidence produced by the external token
// program. The enclave trusts the receipt's authenticity (out of scope)
// but enforces that PoolID and Kind match the requested operation.
type Receipt struct {
	PoolID     string
	Kind       Kind
	RedeemedAt time.Time
}

// Authorizer models the external DRT ledger: given a pool and an
// operation kind, it reports whether a matching, unspent DRT exists and
// burns it on success.
type Authorizer interface {
	CheckDRT(ctx context.Context, poolID string, kind Kind) (Receipt, error)
}

// StubAuthorizer is an in-memory Authorizer for tests and local
// development: it honours a pre-seeded table of (poolID, kind) -> count
// and decrements on each successful check, modeling single-use burn
// semantics without a real chain.
type StubAuthorizer struct {
	mu       sync.Mutex
	balances map[balanceKey]int
	now      func() time.Time
}

type balanceKey struct {
	poolID string
	kind   Kind
}

// NewStubAuthorizer builds a StubAuthorizer with no entitlements; call
// Grant to seed redeemable DRTs before use.
func NewStubAuthorizer() *StubAuthorizer {
	return &StubAuthorizer{
		balances: make(map[balanceKey]int),
		now:      time.Now,
	}
}

// Grant credits n redeemable DRTs for (poolID, kind).
func (s *StubAuthorizer) Grant(poolID string, kind Kind, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[balanceKey{poolID, kind}] += n
}

// CheckDRT burns one matching DRT if available, else fails with
// Unauthorized.
func (s *StubAuthorizer) CheckDRT(_ context.Context, poolID string, kind Kind) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := balanceKey{poolID, kind}
	if s.balances[key] <= 0 {
		return Receipt{}, errs.New(errs.Authorization, "Unauthorized",
			"no redeemable DRT for this pool and operation kind")
	}
	s.balances[key]--
	return Receipt{PoolID: poolID, Kind: kind, RedeemedAt: s.now()}, nil
}
