// Package ledger implements the append-only event store that backs the
// Acquired-Balance Rebuilder and the Event Source. Every ingested event is
// keyed by (tx hash, log index); re-ingesting the same key is a no-op, which
// is what makes reorg rewind-and-replay safe.
package ledger

import (
	"math/big"

	"subledger/crypto"
)

// OpType enumerates the protocol execution kinds the rebuilder understands.
// Approve is guard-only and never mutates queues or spending.
type OpType uint8

const (
	OpSwap OpType = iota
	OpDeposit
	OpWithdraw
	OpClaim
	OpApprove
)

func (t OpType) String() string {
	switch t {
	case OpSwap:
		return "swap"
	case OpDeposit:
		return "deposit"
	case OpWithdraw:
		return "withdraw"
	case OpClaim:
		return "claim"
	case OpApprove:
		return "approve"
	default:
		return "unknown"
	}
}

// EventKind distinguishes the two event shapes the rebuilder consumes.
type EventKind uint8

const (
	KindProtocolExecution EventKind = iota
	KindTransferExecuted
)

// Ref uniquely identifies an ingested event and doubles as the ledger store's
// idempotency key.
type Ref struct {
	TxHash      [32]byte
	LogIndex    uint32
	BlockNumber uint64
}

// Event is the canonical, stored representation of a single on-chain event
// relevant to the authorization and accounting core. Only the fields
// meaningful to Kind are populated; the rebuilder ignores the rest.
type Event struct {
	Ref Ref
	Kind EventKind

	SubAccount crypto.Address
	Timestamp  int64

	// ProtocolExecution fields.
	OpType       OpType
	Target       crypto.Address
	TokensIn     []crypto.Address
	AmountsIn    []*big.Int
	TokensOut    []crypto.Address
	AmountsOut   []*big.Int
	SpendingCost *big.Int

	// TransferExecuted fields.
	Token     crypto.Address
	Recipient crypto.Address
	Amount    *big.Int
}

// Clone returns a deep copy so callers (notably the rebuilder, which mutates
// working copies of queues derived from events) never alias slices or big
// integers owned by the store.
func (e Event) Clone() Event {
	clone := e
	clone.TokensIn = append([]crypto.Address(nil), e.TokensIn...)
	clone.TokensOut = append([]crypto.Address(nil), e.TokensOut...)
	clone.AmountsIn = cloneBigSlice(e.AmountsIn)
	clone.AmountsOut = cloneBigSlice(e.AmountsOut)
	if e.SpendingCost != nil {
		clone.SpendingCost = new(big.Int).Set(e.SpendingCost)
	}
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	}
	return clone
}

func cloneBigSlice(in []*big.Int) []*big.Int {
	if in == nil {
		return nil
	}
	out := make([]*big.Int, len(in))
	for i, v := range in {
		if v != nil {
			out[i] = new(big.Int).Set(v)
		}
	}
	return out
}

// Before implements the chronological ordering from spec §4.2: sort by
// (timestamp, block_number, log_index).
func (r Ref) Before(other Ref, selfTS, otherTS int64) bool {
	if selfTS != otherTS {
		return selfTS < otherTS
	}
	if r.BlockNumber != other.BlockNumber {
		return r.BlockNumber < other.BlockNumber
	}
	return r.LogIndex < other.LogIndex
}
