// Package acquired implements the Acquired-Balance Rebuilder (spec §4.2):
// given a chronological event stream for one sub-account, it reconstructs,
// per token, which portion of the current balance traces back to
// previously-acquired funds versus freshly deposited ("original") funds, and
// tracks total spending within the rolling window.
package acquired

import (
	"math/big"

	"subledger/crypto"
)

// Precision is the fixed-point scale used for acquired-ratio arithmetic
// (spec §4.2: PRECISION = 10^18).
var Precision = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// WindowDuration is the rolling accounting window, shared with the Spend
// Authorizer's daily window (spec §6: window_duration_seconds).
const WindowDuration = 24 * 60 * 60

// AcquiredEntry is a single atom of previously-acquired balance for one
// token, tagged with the timestamp of its original (non-acquired)
// acquisition.
type AcquiredEntry struct {
	Amount            *big.Int
	OriginalTimestamp int64
}

// Clone returns a deep copy so queue mutation never aliases a caller's entry.
func (e AcquiredEntry) Clone() AcquiredEntry {
	return AcquiredEntry{Amount: new(big.Int).Set(e.Amount), OriginalTimestamp: e.OriginalTimestamp}
}

// AcquiredQueue is the ordered (but not timestamp-sorted) list of acquired
// entries for one token. Order reflects insertion/consumption history, not
// chronology — swap timestamp inheritance can place an older timestamp after
// a newer one, which is why expiry pruning must scan the full queue.
type AcquiredQueue []AcquiredEntry

// Balance sums the remaining entries.
func (q AcquiredQueue) Balance() *big.Int {
	sum := big.NewInt(0)
	for _, e := range q {
		sum = new(big.Int).Add(sum, e.Amount)
	}
	return sum
}

// DepositRecord lets a later Withdraw/Claim match back to the deposit (or
// swap) that produced the held output token, so the correct acquired
// timestamp can be inherited downstream.
type DepositRecord struct {
	SubAccount crypto.Address
	Target     crypto.Address
	TokenIn    crypto.Address
	TokenOut   crypto.Address

	AmountIn  *big.Int
	AmountOut *big.Int

	RemainingAmount       *big.Int
	RemainingOutputAmount *big.Int

	OriginalAcquisitionTimestamp int64

	// EventTimestamp records when the deposit itself occurred. Withdraw/claim
	// matching does not read it: it walks records in the order Rebuild
	// appended them, which is event order, oldest first.
	EventTimestamp int64
}

// PriceLookup resolves a token's 18-decimal USD price. ok is false when no
// price is cached, forcing the amount-weighted fallback ratio (spec §4.2).
type PriceLookup func(token crypto.Address) (price18 *big.Int, ok bool)

// State is the rebuilder's working state for a single sub-account across the
// whole processed event stream.
type State struct {
	SubAccount crypto.Address

	Queues  map[string]AcquiredQueue
	Records []*DepositRecord

	TotalSpendingInWindow *big.Int

	// tokens tracks every token symbol (address bytes) that ever had
	// acquired activity, so expiry pruning covers exactly the queues the
	// spec requires and no more.
	tokens map[string]crypto.Address
}

// NewState returns an empty rebuild state for sub.
func NewState(sub crypto.Address) *State {
	return &State{
		SubAccount:            sub,
		Queues:                make(map[string]AcquiredQueue),
		TotalSpendingInWindow: big.NewInt(0),
		tokens:                make(map[string]crypto.Address),
	}
}

func tokenKey(token crypto.Address) string {
	return string(token.Bytes())
}

func (s *State) queue(token crypto.Address) AcquiredQueue {
	return s.Queues[tokenKey(token)]
}

func (s *State) setQueue(token crypto.Address, q AcquiredQueue) {
	key := tokenKey(token)
	s.Queues[key] = q
	s.tokens[key] = token
}

// AcquiredBalances returns the final per-token acquired balances (spec §4.2:
// "Final acquired_balances[token] = sum of remaining entries").
func (s *State) AcquiredBalances() map[string]*big.Int {
	out := make(map[string]*big.Int, len(s.Queues))
	for key, q := range s.Queues {
		out[key] = q.Balance()
	}
	return out
}

// TokenAddresses returns every token that ever had acquired activity, in no
// particular order.
func (s *State) TokenAddresses() []crypto.Address {
	addrs := make([]crypto.Address, 0, len(s.tokens))
	for _, a := range s.tokens {
		addrs = append(addrs, a)
	}
	return addrs
}
