package acquired

import (
	"math/big"
	"sort"

	"subledger/crypto"
	"subledger/native/ledger"
)

// Rebuild implements the Acquired-Balance Rebuilder's per-event processing
// loop (spec §4.2). Events must already belong to a single sub-account;
// Rebuild sorts them by (timestamp, block_number, log_index) before
// processing, then prunes every queue that ever saw activity.
func Rebuild(sub crypto.Address, events []ledger.Event, prices PriceLookup, now int64) *State {
	sorted := make([]ledger.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.Ref.BlockNumber != b.Ref.BlockNumber {
			return a.Ref.BlockNumber < b.Ref.BlockNumber
		}
		return a.Ref.LogIndex < b.Ref.LogIndex
	})

	state := NewState(sub)

	for _, evt := range sorted {
		processEvent(state, evt, prices, now)
	}

	for key, token := range state.tokens {
		state.Queues[key] = PruneExpired(state.Queues[key], now, WindowDuration)
		_ = token
	}
	return state
}

func processEvent(state *State, evt ledger.Event, prices PriceLookup, now int64) {
	windowStart := now - WindowDuration
	inWindow := evt.Timestamp >= windowStart && evt.Timestamp <= now

	switch evt.Kind {
	case ledger.KindTransferExecuted:
		if inWindow {
			state.TotalSpendingInWindow = addSpending(state.TotalSpendingInWindow, evt.SpendingCost)
		}
		consumeTransfer(state, evt)
	case ledger.KindProtocolExecution:
		switch evt.OpType {
		case ledger.OpApprove:
			// guard-only; never affects queues or spending.
		case ledger.OpSwap, ledger.OpDeposit:
			if inWindow {
				state.TotalSpendingInWindow = addSpending(state.TotalSpendingInWindow, evt.SpendingCost)
			}
			processSwapOrDeposit(state, evt, prices)
		case ledger.OpWithdraw, ledger.OpClaim:
			processWithdrawOrClaim(state, evt)
		}
	}
}

// outputUSDValuesFor computes per-output USD values for the 1-input/M-output
// pairing weight (spec §4.2: "weighted by the output's USD value (fallback:
// equal split)"). Returns nil when any output token lacks a cached price, so
// BuildPairings falls back to an equal split.
func outputUSDValuesFor(evt ledger.Event, prices PriceLookup) []*big.Int {
	if prices == nil || len(evt.TokensOut) == 0 {
		return nil
	}
	values := make([]*big.Int, len(evt.TokensOut))
	for i, token := range evt.TokensOut {
		amt := evt.AmountsOut[i]
		if amt == nil {
			return nil
		}
		price18, ok := prices(token)
		if !ok {
			return nil
		}
		values[i] = new(big.Int).Div(new(big.Int).Mul(amt, price18), Precision)
	}
	return values
}

func addSpending(total, cost *big.Int) *big.Int {
	if cost == nil {
		return total
	}
	return new(big.Int).Add(total, cost)
}

func consumeTransfer(state *State, evt ledger.Event) {
	if evt.Amount == nil || evt.Amount.Sign() <= 0 {
		return
	}
	q := state.queue(evt.Token)
	updated, _ := ConsumeFromQueue(q, evt.Amount, evt.Timestamp, WindowDuration)
	state.setQueue(evt.Token, updated)
}

func processSwapOrDeposit(state *State, evt ledger.Event, prices PriceLookup) {
	type consumedInput struct {
		amount   *big.Int
		consumed *ConsumeResult
	}

	totalAmountIn := big.NewInt(0)
	totalConsumed := big.NewInt(0)
	totalValueUSD := big.NewInt(0)
	consumedValueUSD := big.NewInt(0)
	hasAllPrices := len(evt.TokensIn) > 0

	var (
		perInput []consumedInput
		oldest   int64
		haveAny  bool
	)

	for i, token := range evt.TokensIn {
		amtIn := evt.AmountsIn[i]
		if amtIn == nil || amtIn.Sign() <= 0 {
			perInput = append(perInput, consumedInput{amount: big.NewInt(0), consumed: &ConsumeResult{Total: big.NewInt(0), Remainder: big.NewInt(0)}})
			continue
		}
		totalAmountIn = new(big.Int).Add(totalAmountIn, amtIn)
		q := state.queue(token)
		updated, result := ConsumeFromQueue(q, amtIn, evt.Timestamp, WindowDuration)
		state.setQueue(token, updated)
		totalConsumed = new(big.Int).Add(totalConsumed, result.Total)
		perInput = append(perInput, consumedInput{amount: amtIn, consumed: &result})

		if prices != nil {
			if price18, ok := prices(token); ok {
				valueUSD := new(big.Int).Div(new(big.Int).Mul(amtIn, price18), Precision)
				totalValueUSD = new(big.Int).Add(totalValueUSD, valueUSD)
				consumedUSD := new(big.Int).Div(new(big.Int).Mul(result.Total, price18), Precision)
				consumedValueUSD = new(big.Int).Add(consumedValueUSD, consumedUSD)
			} else {
				hasAllPrices = false
			}
		} else {
			hasAllPrices = false
		}

		for _, c := range result.Consumed {
			if !haveAny || c.OriginalTimestamp < oldest {
				oldest = c.OriginalTimestamp
				haveAny = true
			}
		}
	}

	agg := InputAggregate{
		TotalAmountIn:           totalAmountIn,
		TotalConsumed:           totalConsumed,
		HasAllPrices:            hasAllPrices,
		TotalValueInUSD:         totalValueUSD,
		ConsumedValueUSD:        consumedValueUSD,
		OldestConsumedTimestamp: oldest,
		HasConsumed:             haveAny,
	}
	ratio := AcquiredRatio(agg)

	// Combine all consumed portions across inputs for proportional output
	// allocation, in input order.
	var allConsumed []ConsumedPortion
	for _, ci := range perInput {
		allConsumed = append(allConsumed, ci.consumed.Consumed...)
	}

	outputUSDValues := outputUSDValuesFor(evt, prices)

	amountsOut := evt.AmountsOut
	outputShares := BuildPairings(evt.AmountsIn, amountsOut, outputUSDValues)

	for j, token := range evt.TokensOut {
		amtOut := amountsOut[j]
		if amtOut == nil || amtOut.Sign() <= 0 {
			continue
		}
		fromAcquired, fromNonAcquired := SplitOutput(amtOut, ratio)
		q := state.queue(token)
		acquiredEntries := AllocateAcquiredPortion(allConsumed, totalConsumed, fromAcquired)
		for _, e := range acquiredEntries {
			q = append(q, e)
		}
		q = AppendEntry(q, fromNonAcquired, evt.Timestamp)
		state.setQueue(token, q)
	}

	buildDepositRecords(state, evt, outputShares, totalConsumed, ratio, oldest, haveAny)
}

func buildDepositRecords(state *State, evt ledger.Event, pairs []pairing, totalConsumed *big.Int, ratio *big.Int, oldestConsumedTS int64, hasConsumed bool) {
	for _, p := range pairs {
		if p.InputIndex >= len(evt.TokensIn) || p.OutputIndex >= len(evt.TokensOut) {
			continue
		}
		tokenIn := evt.TokensIn[p.InputIndex]
		tokenOut := evt.TokensOut[p.OutputIndex]
		inputShare := p.InputShare
		outputShare := p.OutputShare
		if inputShare == nil || inputShare.Sign() <= 0 {
			continue
		}

		acquiredInputShare := new(big.Int).Div(new(big.Int).Mul(inputShare, ratio), Precision)
		nonAcquiredInputShare := new(big.Int).Sub(inputShare, acquiredInputShare)
		acquiredOutputShare := new(big.Int).Div(new(big.Int).Mul(outputShare, ratio), Precision)
		nonAcquiredOutputShare := new(big.Int).Sub(outputShare, acquiredOutputShare)

		if hasConsumed && acquiredInputShare.Sign() > 0 && nonAcquiredInputShare.Sign() > 0 {
			state.Records = append(state.Records, &DepositRecord{
				SubAccount:                   state.SubAccount,
				Target:                       evt.Target,
				TokenIn:                      tokenIn,
				TokenOut:                     tokenOut,
				AmountIn:                     new(big.Int).Set(acquiredInputShare),
				AmountOut:                    new(big.Int).Set(acquiredOutputShare),
				RemainingAmount:              new(big.Int).Set(acquiredInputShare),
				RemainingOutputAmount:        new(big.Int).Set(acquiredOutputShare),
				OriginalAcquisitionTimestamp: oldestConsumedTS,
				EventTimestamp:               evt.Timestamp,
			})
			state.Records = append(state.Records, &DepositRecord{
				SubAccount:                   state.SubAccount,
				Target:                       evt.Target,
				TokenIn:                      tokenIn,
				TokenOut:                     tokenOut,
				AmountIn:                     new(big.Int).Set(nonAcquiredInputShare),
				AmountOut:                    new(big.Int).Set(nonAcquiredOutputShare),
				RemainingAmount:              new(big.Int).Set(nonAcquiredInputShare),
				RemainingOutputAmount:        new(big.Int).Set(nonAcquiredOutputShare),
				OriginalAcquisitionTimestamp: evt.Timestamp,
				EventTimestamp:               evt.Timestamp,
			})
			continue
		}

		ts := evt.Timestamp
		if hasConsumed && acquiredInputShare.Sign() > 0 {
			ts = oldestConsumedTS
		}
		state.Records = append(state.Records, &DepositRecord{
			SubAccount:                   state.SubAccount,
			Target:                       evt.Target,
			TokenIn:                      tokenIn,
			TokenOut:                     tokenOut,
			AmountIn:                     new(big.Int).Set(inputShare),
			AmountOut:                    new(big.Int).Set(outputShare),
			RemainingAmount:              new(big.Int).Set(inputShare),
			RemainingOutputAmount:        new(big.Int).Set(outputShare),
			OriginalAcquisitionTimestamp: ts,
			EventTimestamp:               evt.Timestamp,
		})
	}
}

func processWithdrawOrClaim(state *State, evt ledger.Event) {
	for j, token := range evt.TokensOut {
		amount := evt.AmountsOut[j]
		if amount == nil || amount.Sign() <= 0 {
			continue
		}
		matches, remainder := MatchWithdrawOrClaim(state.Records, evt.Target, token, state.SubAccount, amount)

		q := state.queue(token)
		for _, m := range matches {
			toConsume := new(big.Int)
			if m.Record.AmountIn.Sign() > 0 {
				toConsume = new(big.Int).Div(new(big.Int).Mul(m.Record.AmountOut, m.ConsumedInput), m.Record.AmountIn)
			}
			if toConsume.Cmp(m.Record.RemainingOutputAmount) > 0 {
				toConsume = new(big.Int).Set(m.Record.RemainingOutputAmount)
			}
			if toConsume.Sign() > 0 {
				outQ := state.queue(m.Record.TokenOut)
				updatedOutQ, consumeResult := ConsumeFromQueue(outQ, toConsume, evt.Timestamp, WindowDuration)
				state.setQueue(m.Record.TokenOut, updatedOutQ)
				m.Record.RemainingOutputAmount = new(big.Int).Sub(m.Record.RemainingOutputAmount, consumeResult.Total)
			}
			q = AppendEntry(q, m.ConsumedInput, m.OriginalTimestamp)
		}

		if remainder.Sign() > 0 {
			if evt.OpType == ledger.OpClaim {
				if oldest, ok := oldestMatchingDepositTimestamp(state.Records, evt.Target, state.SubAccount); ok {
					q = AppendEntry(q, remainder, oldest)
				}
				// else: discard, no deposit on record against this target.
			}
			// Withdraw: remainder is never acquired; discard.
		}
		state.setQueue(token, q)
	}
}

// oldestMatchingDepositTimestamp returns the oldest
// OriginalAcquisitionTimestamp among every deposit record the sub-account has
// ever recorded against target, regardless of whether it is fully consumed
// (spec §4.2: "CLAIM allocation ... inherits the oldest deposit's timestamp").
func oldestMatchingDepositTimestamp(records []*DepositRecord, target, sub crypto.Address) (int64, bool) {
	var oldest int64
	found := false
	for _, rec := range records {
		if !sameAddress(rec.SubAccount, sub) || !sameAddress(rec.Target, target) {
			continue
		}
		if !found || rec.OriginalAcquisitionTimestamp < oldest {
			oldest = rec.OriginalAcquisitionTimestamp
			found = true
		}
	}
	return oldest, found
}
