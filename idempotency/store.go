// Package idempotency provides a key store that lets retried requests be
// recognized as the same logical request. Callers claim a key before
// executing; a completed claim short-circuits to the cached result, an
// in-progress claim signals a concurrent duplicate that must not execute.
package idempotency

import (
	"context"
	"time"
)

// State is the lifecycle state of an idempotency claim.
type State int

const (
	// StateNew means the key was unseen; the caller now holds the claim
	// and must Complete or Fail it.
	StateNew State = iota
	// StateInProgress means another execution currently holds the claim.
	StateInProgress
	// StateCompleted means a prior execution finished; Claim.Result holds
	// its cached output.
	StateCompleted
)

// Claim is the outcome of Begin.
type Claim struct {
	State  State
	Result []byte
}

// Store defines the idempotency key contract.
type Store interface {
	// Begin attempts to claim the key. A StateNew claim obligates the
	// caller to eventually call Complete or Fail. The ttl bounds how long
	// an in-progress claim blocks duplicates: after it lapses (e.g. the
	// owning process crashed), the key becomes claimable again.
	Begin(ctx context.Context, key string, ttl time.Duration) (Claim, error)

	// Complete records the terminal result for the key. Subsequent Begin
	// calls return StateCompleted with this result.
	Complete(ctx context.Context, key string, result []byte) error

	// Fail releases an in-progress claim without recording a result,
	// allowing the operation to be retried with the same key.
	Fail(ctx context.Context, key string) error
}
