package allowance

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"subledger/crypto"
)

// S5 — allowance ceiling rejection (spec §8).
func TestComputeNewAllowanceRejectsAbsoluteCeiling(t *testing.T) {
	policy := DefaultPolicy(9_000) // 90% spending budget, well above the 20% ceiling
	safeValue := big.NewInt(1_000_000)
	spent := big.NewInt(0)

	_, err := ComputeNewAllowance(safeValue, spent, policy)
	require.ErrorIs(t, err, ErrExceedsAbsoluteCeiling)
}

func TestComputeNewAllowanceWithinCeiling(t *testing.T) {
	policy := DefaultPolicy(1_000) // 10%, below the 20% ceiling
	safeValue := big.NewInt(1_000_000)
	spent := big.NewInt(50_000)

	got, err := ComputeNewAllowance(safeValue, spent, policy)
	require.NoError(t, err)
	require.Equal(t, 0, got.Cmp(big.NewInt(50_000)))
}

func TestShouldUpdatePriorityOrder(t *testing.T) {
	policy := DefaultPolicy(1_000)

	ok, reason := ShouldUpdate(UpdateDecisionInput{
		NewAllowance: big.NewInt(100), OnChainAllowance: big.NewInt(100),
		BalancesChanged: true, Policy: policy,
	})
	require.True(t, ok)
	require.Equal(t, "acquired_balance_changed", reason)

	ok, reason = ShouldUpdate(UpdateDecisionInput{
		NewAllowance: big.NewInt(50), OnChainAllowance: big.NewInt(100), Policy: policy,
	})
	require.True(t, ok)
	require.Equal(t, "allowance_decreased", reason)

	ok, reason = ShouldUpdate(UpdateDecisionInput{
		NewAllowance: big.NewInt(200), OnChainAllowance: big.NewInt(0), Policy: policy,
	})
	require.True(t, ok)
	require.Equal(t, "increase_from_zero", reason)

	ok, reason = ShouldUpdate(UpdateDecisionInput{
		NewAllowance: big.NewInt(101), OnChainAllowance: big.NewInt(100), Policy: policy,
	})
	require.False(t, ok)
	require.Equal(t, "no_update_needed", reason)

	ok, reason = ShouldUpdate(UpdateDecisionInput{
		NewAllowance: big.NewInt(101), OnChainAllowance: big.NewInt(100),
		Now: 10_000, LastUpdateTimestamp: 0, Policy: policy,
	})
	require.True(t, ok)
	require.Equal(t, "stale", reason)
}

type fakeSubmitter struct {
	calls []BatchUpdate
	err   error
}

func (f *fakeSubmitter) SubmitBatchUpdate(ctx context.Context, update BatchUpdate) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, update)
	return nil
}

type fakeTracker struct {
	confirmedAt map[string]int64
}

func (f *fakeTracker) LastUpdateTimestamp(sub crypto.Address) (int64, bool, error) {
	ts, ok := f.confirmedAt[string(sub.Bytes())]
	return ts, ok, nil
}

func (f *fakeTracker) RecordConfirmed(sub crypto.Address, at int64) error {
	if f.confirmedAt == nil {
		f.confirmedAt = make(map[string]int64)
	}
	f.confirmedAt[string(sub.Bytes())] = at
	return nil
}

func TestPusherAssignsSequenceAndRecordsOnlyOnConfirmation(t *testing.T) {
	sub := crypto.MustNewAddress(crypto.SubAccountPrefix, make([]byte, 20))
	submitter := &fakeSubmitter{}
	tracker := &fakeTracker{}
	pusher := NewPusher(submitter, tracker)

	require.NoError(t, pusher.Push(context.Background(), sub, big.NewInt(1), nil, nil))
	require.NoError(t, pusher.Push(context.Background(), sub, big.NewInt(2), nil, nil))
	require.Len(t, submitter.calls, 2)
	require.Equal(t, int64(1), submitter.calls[0].Sequence)
	require.Equal(t, int64(2), submitter.calls[1].Sequence)

	_, ok, _ := tracker.LastUpdateTimestamp(sub)
	require.True(t, ok)
}

func TestPusherDoesNotRecordOnFailedSubmission(t *testing.T) {
	sub := crypto.MustNewAddress(crypto.SubAccountPrefix, make([]byte, 20))
	submitter := &fakeSubmitter{err: context.DeadlineExceeded}
	tracker := &fakeTracker{}
	pusher := NewPusher(submitter, tracker)

	err := pusher.Push(context.Background(), sub, big.NewInt(1), nil, nil)
	require.Error(t, err)
	_, ok, _ := tracker.LastUpdateTimestamp(sub)
	require.False(t, ok)
}
