package acquired

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"subledger/crypto"
	"subledger/native/ledger"
)

func testAddr(prefix crypto.AddressPrefix, b byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = b
	return crypto.MustNewAddress(prefix, raw)
}

func sub() crypto.Address    { return testAddr(crypto.SubAccountPrefix, 1) }
func usdc() crypto.Address   { return testAddr(crypto.SubAccountPrefix, 2) }
func weth() crypto.Address   { return testAddr(crypto.SubAccountPrefix, 3) }
func target() crypto.Address { return testAddr(crypto.SubAccountPrefix, 9) }

func swapEvent(ts int64, logIndex uint32, tokenIn, tokenOut crypto.Address, amtIn, amtOut *big.Int) ledger.Event {
	return ledger.Event{
		Ref:          ledger.Ref{LogIndex: logIndex, BlockNumber: uint64(ts)},
		Kind:         ledger.KindProtocolExecution,
		OpType:       ledger.OpSwap,
		SubAccount:   sub(),
		Timestamp:    ts,
		Target:       target(),
		TokensIn:     []crypto.Address{tokenIn},
		AmountsIn:    []*big.Int{amtIn},
		TokensOut:    []crypto.Address{tokenOut},
		AmountsOut:   []*big.Int{amtOut},
		SpendingCost: big.NewInt(0),
	}
}

// S3 — Swap timestamp inheritance (spec §8).
func TestRebuildSwapTimestampInheritance(t *testing.T) {
	// At T=1000, sub deposits 100 USDC originally acquired funds into a swap
	// producing 0.03 WETH; the WETH output is entirely non-acquired (no
	// acquired queue entries to consume from), so it is appended with
	// original_timestamp = 1000.
	amtUSDC := big.NewInt(100)
	amtWETH := big.NewInt(3) // scaled down for integer-friendly test math

	evt1 := swapEvent(1000, 0, usdc(), weth(), amtUSDC, amtWETH)

	state := Rebuild(sub(), []ledger.Event{evt1}, nil, 1000)
	wethBalance := state.queue(weth()).Balance()
	require.Equal(t, 0, wethBalance.Cmp(amtWETH))
	require.Len(t, state.queue(weth()), 1)
	require.Equal(t, int64(1000), state.queue(weth())[0].OriginalTimestamp)

	// At T=50000, the WETH acquired at T=1000 is swapped back into USDC; the
	// USDC output inherits the original T=1000 timestamp.
	evt2 := swapEvent(50000, 0, weth(), usdc(), amtWETH, big.NewInt(120))
	state2 := Rebuild(sub(), []ledger.Event{evt1, evt2}, nil, 50000)
	usdcQueue := state2.queue(usdc())
	require.Len(t, usdcQueue, 1)
	require.Equal(t, int64(1000), usdcQueue[0].OriginalTimestamp)
	require.Equal(t, 0, usdcQueue[0].Amount.Cmp(big.NewInt(120)))

	// Past the window relative to the original acquisition, the inherited
	// entry is pruned away.
	expiredNow := int64(1000 + WindowDuration + 1)
	state3 := Rebuild(sub(), []ledger.Event{evt1, evt2}, nil, expiredNow)
	require.Equal(t, 0, state3.queue(usdc()).Balance().Sign())
}

// S4 — Deposit/withdraw match (spec §8).
func TestRebuildDepositWithdrawMatch(t *testing.T) {
	depositIn := big.NewInt(1000)
	depositOut := big.NewInt(500) // aToken minted at deposit

	deposit := ledger.Event{
		Ref:        ledger.Ref{LogIndex: 0, BlockNumber: 1},
		Kind:       ledger.KindProtocolExecution,
		OpType:     ledger.OpDeposit,
		SubAccount: sub(),
		Timestamp:  1000,
		Target:     target(),
		TokensIn:   []crypto.Address{usdc()},
		AmountsIn:  []*big.Int{depositIn},
		TokensOut:  []crypto.Address{weth()},
		AmountsOut: []*big.Int{depositOut},
	}

	withdraw := ledger.Event{
		Ref:        ledger.Ref{LogIndex: 0, BlockNumber: 2},
		Kind:       ledger.KindProtocolExecution,
		OpType:     ledger.OpWithdraw,
		SubAccount: sub(),
		Timestamp:  2000,
		Target:     target(),
		TokensOut:  []crypto.Address{usdc()},
		AmountsOut: []*big.Int{big.NewInt(400)},
	}

	state := Rebuild(sub(), []ledger.Event{deposit, withdraw}, nil, 2000)
	require.Len(t, state.Records, 1)
	require.Equal(t, 0, state.Records[0].RemainingAmount.Cmp(big.NewInt(600)))

	// The matched 400 becomes tracked acquired balance, inheriting the
	// deposit's own timestamp (it has completed a deposit/withdraw round
	// trip and is no longer "fresh" original money).
	usdcQueue := state.queue(usdc())
	require.Len(t, usdcQueue, 1)
	require.Equal(t, 0, usdcQueue[0].Amount.Cmp(big.NewInt(400)))
	require.Equal(t, int64(1000), usdcQueue[0].OriginalTimestamp)
}

func TestConsumeFromQueueExpiresHeadWithoutConsuming(t *testing.T) {
	queue := AcquiredQueue{
		{Amount: big.NewInt(10), OriginalTimestamp: 0},
		{Amount: big.NewInt(20), OriginalTimestamp: 90000},
	}
	updated, result := ConsumeFromQueue(queue, big.NewInt(15), 100000, WindowDuration)
	require.Equal(t, 0, result.Total.Cmp(big.NewInt(15)))
	require.Equal(t, 0, result.Remainder.Sign())
	require.Len(t, updated, 1)
	require.Equal(t, 0, updated[0].Amount.Cmp(big.NewInt(5)))
}

func TestPruneExpiredScansWholeQueue(t *testing.T) {
	queue := AcquiredQueue{
		{Amount: big.NewInt(1), OriginalTimestamp: 100000}, // fresh, placed first
		{Amount: big.NewInt(2), OriginalTimestamp: 0},       // expired, placed second
	}
	pruned := PruneExpired(queue, 100000, WindowDuration)
	require.Len(t, pruned, 1)
	require.Equal(t, int64(100000), pruned[0].OriginalTimestamp)
}

// AcquiredRatio — spec §4.2 step 1: USD-weighted when every input price is
// cached, otherwise amount-weighted fallback.
func TestAcquiredRatio(t *testing.T) {
	cases := []struct {
		name string
		agg  InputAggregate
		want *big.Int
	}{
		{
			name: "USD-weighted 60/40 mixed acquisition",
			agg: InputAggregate{
				HasAllPrices:     true,
				TotalValueInUSD:  big.NewInt(100),
				ConsumedValueUSD: big.NewInt(60),
			},
			want: new(big.Int).Div(new(big.Int).Mul(big.NewInt(60), Precision), big.NewInt(100)),
		},
		{
			name: "amount-weighted fallback when prices missing",
			agg: InputAggregate{
				HasAllPrices:  false,
				TotalAmountIn: big.NewInt(1000),
				TotalConsumed: big.NewInt(400),
			},
			want: new(big.Int).Div(new(big.Int).Mul(big.NewInt(400), Precision), big.NewInt(1000)),
		},
		{
			name: "zero total_value_in_usd falls back to amount-weighted",
			agg: InputAggregate{
				HasAllPrices:    true,
				TotalValueInUSD: big.NewInt(0),
				TotalAmountIn:   big.NewInt(200),
				TotalConsumed:   big.NewInt(50),
			},
			want: new(big.Int).Div(new(big.Int).Mul(big.NewInt(50), Precision), big.NewInt(200)),
		},
		{
			name: "zero total_amount_in yields zero ratio",
			agg:  InputAggregate{TotalAmountIn: big.NewInt(0)},
			want: big.NewInt(0),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := AcquiredRatio(tc.agg)
			require.Equal(t, 0, got.Cmp(tc.want), "got %s want %s", got, tc.want)
		})
	}
}

// BuildPairings — spec §4.2 pairing rule: N->1 equal split with remainder to
// the last input, 1->M USD-weighted split (equal-split fallback), and
// matching-index pairing (with index-0 fallback for a mismatched side).
func TestBuildPairings(t *testing.T) {
	t.Run("N inputs to 1 output splits equally, remainder to last", func(t *testing.T) {
		pairs := BuildPairings([]*big.Int{big.NewInt(60), big.NewInt(40)}, []*big.Int{big.NewInt(101)}, nil)
		require.Len(t, pairs, 2)
		require.Equal(t, 0, pairs[0].InputShare.Cmp(big.NewInt(60)))
		require.Equal(t, 0, pairs[0].OutputShare.Cmp(big.NewInt(50)))
		require.Equal(t, 0, pairs[1].InputShare.Cmp(big.NewInt(40)))
		require.Equal(t, 0, pairs[1].OutputShare.Cmp(big.NewInt(51)))
		total := new(big.Int).Add(pairs[0].OutputShare, pairs[1].OutputShare)
		require.Equal(t, 0, total.Cmp(big.NewInt(101)))
	})

	t.Run("1 input to M outputs weighted by USD value", func(t *testing.T) {
		pairs := BuildPairings([]*big.Int{big.NewInt(100)}, []*big.Int{big.NewInt(30), big.NewInt(70)},
			[]*big.Int{big.NewInt(30), big.NewInt(70)})
		require.Len(t, pairs, 2)
		require.Equal(t, 0, pairs[0].InputShare.Cmp(big.NewInt(30)))
		require.Equal(t, 0, pairs[1].InputShare.Cmp(big.NewInt(70)))
		total := new(big.Int).Add(pairs[0].InputShare, pairs[1].InputShare)
		require.Equal(t, 0, total.Cmp(big.NewInt(100)))
	})

	t.Run("1 input to M outputs falls back to equal split without USD values", func(t *testing.T) {
		pairs := BuildPairings([]*big.Int{big.NewInt(100)}, []*big.Int{big.NewInt(1), big.NewInt(1)}, nil)
		require.Len(t, pairs, 2)
		require.Equal(t, 0, pairs[0].InputShare.Cmp(big.NewInt(50)))
		require.Equal(t, 0, pairs[1].InputShare.Cmp(big.NewInt(50)))
	})

	t.Run("matching index pairing when inputs and outputs are equal length", func(t *testing.T) {
		pairs := BuildPairings([]*big.Int{big.NewInt(10), big.NewInt(20)}, []*big.Int{big.NewInt(5), big.NewInt(15)}, nil)
		require.Len(t, pairs, 2)
		require.Equal(t, 0, pairs[0].InputIndex)
		require.Equal(t, 0, pairs[0].OutputIndex)
		require.Equal(t, 1, pairs[1].InputIndex)
		require.Equal(t, 1, pairs[1].OutputIndex)
	})

	t.Run("extra inputs beyond matched outputs fall back to output index 0", func(t *testing.T) {
		pairs := BuildPairings(
			[]*big.Int{big.NewInt(10), big.NewInt(20), big.NewInt(30)},
			[]*big.Int{big.NewInt(100), big.NewInt(200)},
			nil,
		)
		require.Len(t, pairs, 3)
		require.Equal(t, 2, pairs[2].InputIndex)
		require.Equal(t, 0, pairs[2].OutputIndex)
		require.Equal(t, 0, pairs[2].OutputShare.Sign())
	})

	t.Run("extra outputs beyond matched inputs fall back to input index 0", func(t *testing.T) {
		pairs := BuildPairings(
			[]*big.Int{big.NewInt(10), big.NewInt(20)},
			[]*big.Int{big.NewInt(100), big.NewInt(200), big.NewInt(300)},
			nil,
		)
		require.Len(t, pairs, 3)
		require.Equal(t, 0, pairs[2].InputIndex)
		require.Equal(t, 2, pairs[2].OutputIndex)
		require.Equal(t, 0, pairs[2].InputShare.Sign())
	})
}

// AllocateAcquiredPortion — spec §4.2 step 3: proportional split across
// consumed entries by amount, inheriting each entry's original timestamp,
// with the last entry absorbing the integer-truncation remainder.
func TestAllocateAcquiredPortion(t *testing.T) {
	t.Run("single consumed entry gets the full output", func(t *testing.T) {
		consumed := []ConsumedPortion{{Amount: big.NewInt(100), OriginalTimestamp: 500}}
		entries := AllocateAcquiredPortion(consumed, big.NewInt(100), big.NewInt(40))
		require.Len(t, entries, 1)
		require.Equal(t, 0, entries[0].Amount.Cmp(big.NewInt(40)))
		require.Equal(t, int64(500), entries[0].OriginalTimestamp)
	})

	t.Run("multiple entries split proportionally, last absorbs remainder", func(t *testing.T) {
		consumed := []ConsumedPortion{
			{Amount: big.NewInt(30), OriginalTimestamp: 100},
			{Amount: big.NewInt(70), OriginalTimestamp: 200},
		}
		entries := AllocateAcquiredPortion(consumed, big.NewInt(100), big.NewInt(101))
		require.Len(t, entries, 2)
		require.Equal(t, int64(100), entries[0].OriginalTimestamp)
		require.Equal(t, int64(200), entries[1].OriginalTimestamp)
		total := new(big.Int).Add(entries[0].Amount, entries[1].Amount)
		require.Equal(t, 0, total.Cmp(big.NewInt(101)))
	})

	t.Run("zero output_from_acquired yields no entries", func(t *testing.T) {
		consumed := []ConsumedPortion{{Amount: big.NewInt(30), OriginalTimestamp: 100}}
		entries := AllocateAcquiredPortion(consumed, big.NewInt(30), big.NewInt(0))
		require.Nil(t, entries)
	})

	t.Run("no consumed entries yields no entries", func(t *testing.T) {
		entries := AllocateAcquiredPortion(nil, big.NewInt(0), big.NewInt(50))
		require.Nil(t, entries)
	})
}

// OpClaim — spec §4.2 "Withdraw / Claim": an unmatched Claim remainder
// inherits the oldest recorded deposit's timestamp for the same target,
// regardless of whether that deposit's token pairing matches the claimed
// token; Withdraw always discards its remainder instead.
func TestProcessClaimRemainderInheritsOldestDepositTimestamp(t *testing.T) {
	state := NewState(sub())
	state.Records = append(state.Records, &DepositRecord{
		SubAccount:                   sub(),
		Target:                       target(),
		TokenIn:                      usdc(),
		TokenOut:                     usdc(),
		RemainingAmount:              big.NewInt(0), // fully consumed, no match possible
		RemainingOutputAmount:        big.NewInt(0),
		OriginalAcquisitionTimestamp: 500,
		EventTimestamp:               500,
	})

	claim := ledger.Event{
		Ref:        ledger.Ref{LogIndex: 0, BlockNumber: 3},
		Kind:       ledger.KindProtocolExecution,
		OpType:     ledger.OpClaim,
		SubAccount: sub(),
		Timestamp:  2000,
		Target:     target(),
		TokensOut:  []crypto.Address{weth()},
		AmountsOut: []*big.Int{big.NewInt(75)},
	}
	processWithdrawOrClaim(state, claim)

	wethQueue := state.queue(weth())
	require.Len(t, wethQueue, 1)
	require.Equal(t, 0, wethQueue[0].Amount.Cmp(big.NewInt(75)))
	require.Equal(t, int64(500), wethQueue[0].OriginalTimestamp)
}

func TestProcessClaimRemainderDiscardedWithoutAnyDepositRecord(t *testing.T) {
	state := NewState(sub())

	claim := ledger.Event{
		Ref:        ledger.Ref{LogIndex: 0, BlockNumber: 3},
		Kind:       ledger.KindProtocolExecution,
		OpType:     ledger.OpClaim,
		SubAccount: sub(),
		Timestamp:  2000,
		Target:     target(),
		TokensOut:  []crypto.Address{weth()},
		AmountsOut: []*big.Int{big.NewInt(75)},
	}
	processWithdrawOrClaim(state, claim)

	require.Empty(t, state.queue(weth()))
}

func TestProcessWithdrawRemainderAlwaysDiscarded(t *testing.T) {
	state := NewState(sub())
	state.Records = append(state.Records, &DepositRecord{
		SubAccount:                   sub(),
		Target:                       target(),
		TokenIn:                      usdc(),
		TokenOut:                     usdc(),
		RemainingAmount:              big.NewInt(0),
		RemainingOutputAmount:        big.NewInt(0),
		OriginalAcquisitionTimestamp: 500,
		EventTimestamp:               500,
	})

	withdraw := ledger.Event{
		Ref:        ledger.Ref{LogIndex: 0, BlockNumber: 3},
		Kind:       ledger.KindProtocolExecution,
		OpType:     ledger.OpWithdraw,
		SubAccount: sub(),
		Timestamp:  2000,
		Target:     target(),
		TokensOut:  []crypto.Address{weth()},
		AmountsOut: []*big.Int{big.NewInt(75)},
	}
	processWithdrawOrClaim(state, withdraw)

	require.Empty(t, state.queue(weth()))
}
