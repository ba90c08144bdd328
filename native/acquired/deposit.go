package acquired

import (
	"math/big"

	"subledger/crypto"
)

// pairing describes one input->output allocation used to build deposit
// records (spec §4.2: "Pairing rule").
type pairing struct {
	InputIndex  int
	OutputIndex int
	// InputShare is the portion of amounts_in[InputIndex] allocated to this
	// pairing (equals the full input amount except in the 1-input/M-output
	// case).
	InputShare *big.Int
	// OutputShare is the portion of amounts_out[OutputIndex] allocated to
	// this pairing.
	OutputShare *big.Int
}

// BuildPairings implements the pairing rule: N inputs -> 1 output splits the
// output equally across inputs; 1 input -> M outputs splits the input across
// outputs weighted by USD value (equal-split fallback), remainder to the
// last; otherwise pairs by matching index, falling back to index 0.
func BuildPairings(amountsIn, amountsOut []*big.Int, outputUSDValues []*big.Int) []pairing {
	n, m := len(amountsIn), len(amountsOut)
	if n == 0 || m == 0 {
		return nil
	}
	if m == 1 {
		out := make([]pairing, 0, n)
		for i, amtIn := range amountsIn {
			out = append(out, pairing{
				InputIndex:  i,
				OutputIndex: 0,
				InputShare:  new(big.Int).Set(amtIn),
				OutputShare: divideShare(amountsOut[0], i, n, amountsIn),
			})
		}
		return out
	}
	if n == 1 {
		return splitSingleInputAcrossOutputs(amountsIn[0], amountsOut, outputUSDValues)
	}
	out := make([]pairing, 0)
	for i := 0; i < n && i < m; i++ {
		out = append(out, pairing{InputIndex: i, OutputIndex: i, InputShare: new(big.Int).Set(amountsIn[i]), OutputShare: new(big.Int).Set(amountsOut[i])})
	}
	if n != m {
		// Fallback to index 0 for any unmatched side, per spec.
		if n > m {
			for i := m; i < n; i++ {
				out = append(out, pairing{InputIndex: i, OutputIndex: 0, InputShare: new(big.Int).Set(amountsIn[i]), OutputShare: big.NewInt(0)})
			}
		} else {
			for j := n; j < m; j++ {
				out = append(out, pairing{InputIndex: 0, OutputIndex: j, InputShare: big.NewInt(0), OutputShare: new(big.Int).Set(amountsOut[j])})
			}
		}
	}
	return out
}

// divideShare gives input i an equal 1/N share of a single output, with the
// last input absorbing the remainder.
func divideShare(output *big.Int, index int, n int, amountsIn []*big.Int) *big.Int {
	share := new(big.Int).Div(output, big.NewInt(int64(n)))
	if index == n-1 {
		allocated := new(big.Int).Mul(share, big.NewInt(int64(n-1)))
		return new(big.Int).Sub(output, allocated)
	}
	return share
}

func splitSingleInputAcrossOutputs(input *big.Int, amountsOut []*big.Int, outputUSDValues []*big.Int) []pairing {
	m := len(amountsOut)
	out := make([]pairing, m)
	weights := make([]*big.Int, m)
	totalWeight := big.NewInt(0)
	haveUSD := len(outputUSDValues) == m
	if haveUSD {
		for _, v := range outputUSDValues {
			if v == nil {
				haveUSD = false
				break
			}
		}
	}
	if haveUSD {
		for i, v := range outputUSDValues {
			weights[i] = new(big.Int).Set(v)
			totalWeight = new(big.Int).Add(totalWeight, v)
		}
	}
	if !haveUSD || totalWeight.Sign() == 0 {
		for i := range amountsOut {
			weights[i] = big.NewInt(1)
		}
		totalWeight = big.NewInt(int64(m))
	}
	allocated := big.NewInt(0)
	for i := 0; i < m; i++ {
		var share *big.Int
		if i == m-1 {
			share = new(big.Int).Sub(input, allocated)
		} else {
			share = new(big.Int).Div(new(big.Int).Mul(input, weights[i]), totalWeight)
			allocated = new(big.Int).Add(allocated, share)
		}
		out[i] = pairing{InputIndex: 0, OutputIndex: i, InputShare: share, OutputShare: new(big.Int).Set(amountsOut[i])}
	}
	return out
}

// MatchedDeposit is one deposit record's contribution to a Withdraw/Claim
// output.
type MatchedDeposit struct {
	Record            *DepositRecord
	ConsumedInput     *big.Int
	OriginalTimestamp int64
}

// MatchWithdrawOrClaim walks records in slice order (oldest-first as Rebuild
// appends them; EventTimestamp is not consulted),
// matching (sub_account, target, token_in == token_out) with
// remaining_amount > 0, consuming min(remaining_to_match,
// deposit.remaining_amount) per record (spec §4.2: "Withdraw / Claim" step 1).
func MatchWithdrawOrClaim(records []*DepositRecord, target, token crypto.Address, sub crypto.Address, amount *big.Int) ([]MatchedDeposit, *big.Int) {
	remaining := new(big.Int).Set(amount)
	var matches []MatchedDeposit
	for _, rec := range records {
		if remaining.Sign() <= 0 {
			break
		}
		if !sameAddress(rec.SubAccount, sub) || !sameAddress(rec.Target, target) || !sameAddress(rec.TokenIn, token) {
			continue
		}
		if rec.RemainingAmount.Sign() <= 0 {
			continue
		}
		take := new(big.Int).Set(remaining)
		if rec.RemainingAmount.Cmp(take) < 0 {
			take = new(big.Int).Set(rec.RemainingAmount)
		}
		rec.RemainingAmount = new(big.Int).Sub(rec.RemainingAmount, take)
		matches = append(matches, MatchedDeposit{Record: rec, ConsumedInput: take, OriginalTimestamp: rec.OriginalAcquisitionTimestamp})
		remaining = new(big.Int).Sub(remaining, take)
	}
	return matches, remaining
}

func sameAddress(a, b crypto.Address) bool {
	return string(a.Bytes()) == string(b.Bytes())
}
