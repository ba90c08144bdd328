// Package allowance computes each sub-account's spending allowance from its
// safe (acquired) balance and pushes batched updates to the enforcement
// substrate, honoring an absolute ceiling and an update-worthiness policy
// that avoids needless on-chain writes (spec §4.3).
package allowance

import (
	"errors"
	"fmt"
	"math/big"
)

// BpsDenominator is the basis-point scale (10000 = 100%).
const BpsDenominator = 10_000

// DefaultAbsoluteMaxSpendingBps is the hard ceiling fraction of safe value
// (spec §4.3: default 2000 = 20%).
const DefaultAbsoluteMaxSpendingBps = 2_000

// DefaultIncreaseThresholdBps is the minimum significant increase that
// triggers an update even without a decrease (spec §4.3: default 200 = 2%).
const DefaultIncreaseThresholdBps = 200

// DefaultMaxStalenessSeconds forces a refresh after this many seconds even
// with no material balance change (spec §4.3: default 2700).
const DefaultMaxStalenessSeconds = 2_700

// ErrExceedsAbsoluteCeiling is returned when a computed allowance would
// exceed safe_value * absolute_max_spending_bps / 10000.
var ErrExceedsAbsoluteCeiling = errors.New("allowance: exceeds absolute max spending ceiling")

// Policy bundles the configurable thresholds governing allowance updates.
type Policy struct {
	MaxSpendingBps         int64
	AbsoluteMaxSpendingBps int64
	IncreaseThresholdBps   int64
	MaxStalenessSeconds    int64
}

// DefaultPolicy returns the spec's documented defaults, leaving
// MaxSpendingBps for the caller to set per sub-account risk tier.
func DefaultPolicy(maxSpendingBps int64) Policy {
	return Policy{
		MaxSpendingBps:         maxSpendingBps,
		AbsoluteMaxSpendingBps: DefaultAbsoluteMaxSpendingBps,
		IncreaseThresholdBps:   DefaultIncreaseThresholdBps,
		MaxStalenessSeconds:    DefaultMaxStalenessSeconds,
	}
}

// ComputeNewAllowance implements spec §4.3's formula:
// new_allowance = max(safe_value_usd * max_spending_bps / 10000 -
// total_spending_in_window, 0), then checks the absolute ceiling.
func ComputeNewAllowance(safeValueUSD, totalSpendingInWindow *big.Int, policy Policy) (*big.Int, error) {
	if safeValueUSD == nil {
		safeValueUSD = big.NewInt(0)
	}
	if totalSpendingInWindow == nil {
		totalSpendingInWindow = big.NewInt(0)
	}
	budget := new(big.Int).Div(new(big.Int).Mul(safeValueUSD, big.NewInt(policy.MaxSpendingBps)), big.NewInt(BpsDenominator))
	newAllowance := new(big.Int).Sub(budget, totalSpendingInWindow)
	if newAllowance.Sign() < 0 {
		newAllowance = big.NewInt(0)
	}

	ceiling := new(big.Int).Div(new(big.Int).Mul(safeValueUSD, big.NewInt(policy.AbsoluteMaxSpendingBps)), big.NewInt(BpsDenominator))
	if newAllowance.Cmp(ceiling) > 0 {
		return nil, fmt.Errorf("%w: computed %s exceeds ceiling %s", ErrExceedsAbsoluteCeiling, newAllowance, ceiling)
	}
	return newAllowance, nil
}

// TokenBalance pairs a token with the rebuilt acquired balance to push, or a
// zero value for a stale on-chain token absent from the rebuild (spec §4.3:
// "Stale acquired tokens ... are included in the update with value 0").
type TokenBalance struct {
	Token   [20]byte
	Balance *big.Int
}

// UpdateDecisionInput captures everything ShouldUpdate needs to decide
// whether a batch_update is worth submitting.
type UpdateDecisionInput struct {
	NewAllowance        *big.Int
	OnChainAllowance     *big.Int
	BalancesChanged      bool
	LastUpdateTimestamp  int64
	Now                  int64
	Policy               Policy
}

// ShouldUpdate implements the update policy of spec §4.3, evaluated in the
// documented priority order.
func ShouldUpdate(in UpdateDecisionInput) (bool, string) {
	if in.BalancesChanged {
		return true, "acquired_balance_changed"
	}
	if in.NewAllowance.Cmp(in.OnChainAllowance) < 0 {
		return true, "allowance_decreased"
	}
	if in.NewAllowance.Cmp(in.OnChainAllowance) > 0 {
		if in.OnChainAllowance.Sign() == 0 {
			return true, "increase_from_zero"
		}
		delta := new(big.Int).Sub(in.NewAllowance, in.OnChainAllowance)
		thresholdAmount := new(big.Int).Div(new(big.Int).Mul(in.OnChainAllowance, big.NewInt(in.Policy.IncreaseThresholdBps)), big.NewInt(BpsDenominator))
		if delta.Cmp(thresholdAmount) > 0 {
			return true, "significant_increase"
		}
	}
	if in.Policy.MaxStalenessSeconds > 0 && in.Now-in.LastUpdateTimestamp > in.Policy.MaxStalenessSeconds {
		return true, "stale"
	}
	return false, "no_update_needed"
}
