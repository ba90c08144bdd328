package allowance

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"subledger/crypto"
)

// BatchUpdate is the payload submitted to the enforcement substrate's
// batch_update(sub_account, new_allowance, tokens[], balances[]) entrypoint
// (spec §4.3).
type BatchUpdate struct {
	Sequence     int64
	SubAccount   crypto.Address
	NewAllowance *big.Int
	Tokens       []crypto.Address
	Balances     []*big.Int
}

// Submitter is the narrow on-chain submission surface the Pusher drives.
// Grounded on the gateway node-client's sequence-tagged submission pattern
// used elsewhere in this stack for ordered on-chain writes.
type Submitter interface {
	SubmitBatchUpdate(ctx context.Context, update BatchUpdate) error
}

// ConfirmationTracker records a sub-account's last confirmed update time,
// used by ShouldUpdate's staleness check.
type ConfirmationTracker interface {
	LastUpdateTimestamp(sub crypto.Address) (int64, bool, error)
	RecordConfirmed(sub crypto.Address, at int64) error
}

// Pusher submits batch_update calls, tagging each with a monotonically
// increasing sequence number so a cycle's batched submissions are applied in
// order, and records the update time through its ConfirmationTracker once
// SubmitBatchUpdate returns without error. Push does not wait for an
// on-chain receipt: with EVMSubmitter that return happens as soon as the
// signed transaction is broadcast, so the recorded time marks a successful
// send, not a mined transaction.
type Pusher struct {
	mu        sync.Mutex
	sequence  int64
	submitter Submitter
	tracker   ConfirmationTracker
	clock     func() time.Time
}

// NewPusher constructs a Pusher backed by submitter and tracker.
func NewPusher(submitter Submitter, tracker ConfirmationTracker) *Pusher {
	return &Pusher{submitter: submitter, tracker: tracker, clock: time.Now}
}

// SetClock overrides the time source for deterministic tests.
func (p *Pusher) SetClock(clock func() time.Time) {
	if p == nil || clock == nil {
		return
	}
	p.clock = clock
}

// Push submits one batch_update, stamping it with the next sequence number,
// and records the confirmation timestamp only once the submission succeeds.
func (p *Pusher) Push(ctx context.Context, sub crypto.Address, newAllowance *big.Int, tokens []crypto.Address, balances []*big.Int) error {
	p.mu.Lock()
	p.sequence++
	seq := p.sequence
	p.mu.Unlock()

	update := BatchUpdate{
		Sequence:     seq,
		SubAccount:   sub,
		NewAllowance: newAllowance,
		Tokens:       tokens,
		Balances:     balances,
	}
	if err := p.submitter.SubmitBatchUpdate(ctx, update); err != nil {
		return fmt.Errorf("allowance: submit batch_update seq=%d: %w", seq, err)
	}
	return p.tracker.RecordConfirmed(sub, p.clock().UTC().Unix())
}
