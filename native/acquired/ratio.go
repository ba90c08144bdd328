package acquired

import "math/big"

// InputAggregate summarizes the consumption across every input token of a
// Swap or Deposit event (spec §4.2: "Consuming input").
type InputAggregate struct {
	TotalAmountIn     *big.Int
	TotalConsumed     *big.Int
	HasAllPrices      bool
	TotalValueInUSD   *big.Int
	ConsumedValueUSD  *big.Int
	// OldestConsumedTimestamp is the minimum OriginalTimestamp across every
	// consumed portion, used by the mixed-acquisition deposit-record split.
	OldestConsumedTimestamp int64
	HasConsumed             bool
}

// AcquiredRatio computes acquired_ratio per spec §4.2 step 1: USD-weighted
// when every input token has a cached price and total_value_in_usd > 0,
// otherwise falls back to the amount-weighted ratio.
func AcquiredRatio(agg InputAggregate) *big.Int {
	if agg.HasAllPrices && agg.TotalValueInUSD != nil && agg.TotalValueInUSD.Sign() > 0 {
		return new(big.Int).Div(new(big.Int).Mul(agg.ConsumedValueUSD, Precision), agg.TotalValueInUSD)
	}
	if agg.TotalAmountIn == nil || agg.TotalAmountIn.Sign() == 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Div(new(big.Int).Mul(agg.TotalConsumed, Precision), agg.TotalAmountIn)
}

// SplitOutput computes output_from_acquired and output_from_non_acquired for
// one output amount (spec §4.2 step 2).
func SplitOutput(amountOut *big.Int, ratio *big.Int) (fromAcquired, fromNonAcquired *big.Int) {
	fromAcquired = new(big.Int).Div(new(big.Int).Mul(amountOut, ratio), Precision)
	fromNonAcquired = new(big.Int).Sub(amountOut, fromAcquired)
	return fromAcquired, fromNonAcquired
}

// AllocateAcquiredPortion splits outputFromAcquired proportionally across the
// consumed entries by their amounts, inheriting each entry's original
// timestamp. The last consumed entry absorbs the integer-truncation
// remainder so no dust is lost (spec §4.2 step 3).
func AllocateAcquiredPortion(consumed []ConsumedPortion, totalConsumed *big.Int, outputFromAcquired *big.Int) []AcquiredEntry {
	if len(consumed) == 0 || totalConsumed == nil || totalConsumed.Sign() == 0 || outputFromAcquired == nil || outputFromAcquired.Sign() <= 0 {
		return nil
	}
	entries := make([]AcquiredEntry, 0, len(consumed))
	allocated := big.NewInt(0)
	for i, portion := range consumed {
		var share *big.Int
		if i == len(consumed)-1 {
			share = new(big.Int).Sub(outputFromAcquired, allocated)
		} else {
			share = new(big.Int).Div(new(big.Int).Mul(outputFromAcquired, portion.Amount), totalConsumed)
			allocated = new(big.Int).Add(allocated, share)
		}
		if share.Sign() > 0 {
			entries = append(entries, AcquiredEntry{Amount: share, OriginalTimestamp: portion.OriginalTimestamp})
		}
	}
	return entries
}
