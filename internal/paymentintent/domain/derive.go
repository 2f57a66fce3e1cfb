package domain

import (
	"time"

	"github.com/rentfold/rentfold/internal/gateway"
	"github.com/rentfold/rentfold/internal/paymentintent/failurecode"
)

// Derivation is the outcome of reading one gateway snapshot. It carries no
// side effects; applying it to a stored intent is a separate step.
type Derivation struct {
	State       State
	SettledAt   *time.Time
	FailureCode *string
}

// DeriveStateFromGateway computes the settlement state a snapshot implies,
// in priority order: a recognized failure code wins; an
// internal-and-pending transaction is pending; an internal transaction past
// its pending window settled; a non-internal transaction cleared outside
// the gateway's pending window and is settled too; with no internal/external
// signal at all the intent stays submitted. The same snapshot always yields
// the same derivation.
func DeriveStateFromGateway(snapshot *gateway.Transaction, codes *failurecode.Cache) Derivation {
	if code, ok := codes.Lookup(snapshot.ResultCode); ok {
		failure := code.Code
		return Derivation{State: StateFailed, FailureCode: &failure}
	}

	if snapshot.IsInternal == nil {
		return Derivation{State: StateSubmitted}
	}

	if *snapshot.IsInternal && snapshot.IsPending {
		return Derivation{State: StatePending}
	}

	return Derivation{State: StateSettled, SettledAt: snapshot.SettledAt()}
}

// Regresses reports whether moving from current to next would undo a
// settled or failed outcome. Stale replays of old snapshots must never
// apply such a transition.
func Regresses(current, next State) bool {
	return current.Terminal() && next != current
}
