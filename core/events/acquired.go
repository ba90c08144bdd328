package events

import (
	"math/big"

	"subledger/core/types"
	"subledger/crypto"
)

// The event types below describe rebuild, push and reorg outcomes; no
// package in this repository constructs or publishes them.
const (
	// TypeAcquiredBalanceUpdated describes a (sub_account, token) whose
	// acquired balance changed in a rebuild cycle.
	TypeAcquiredBalanceUpdated = "acquired.balance_updated"
	// TypeAllowanceUpdated describes one batch_update submitted by the
	// pusher.
	TypeAllowanceUpdated = "allowance.updated"
	// TypeReorgDetected describes an Event Source rewind of the Ledger Store
	// after a reorg.
	TypeReorgDetected = "eventsource.reorg_detected"
)

// AcquiredBalanceUpdated reports a token's recomputed acquired balance for a
// sub-account (spec §4.2).
type AcquiredBalanceUpdated struct {
	SubAccount [20]byte
	Token      [20]byte
	Balance    *big.Int
}

func (AcquiredBalanceUpdated) EventType() string { return TypeAcquiredBalanceUpdated }

func (e AcquiredBalanceUpdated) Event() *types.Event {
	balance := big.NewInt(0)
	if e.Balance != nil {
		balance = new(big.Int).Set(e.Balance)
	}
	return &types.Event{
		Type: TypeAcquiredBalanceUpdated,
		Attributes: map[string]string{
			"subAccount": crypto.MustNewAddress(crypto.SubAccountPrefix, e.SubAccount[:]).String(),
			"token":      crypto.MustNewAddress(crypto.SubAccountPrefix, e.Token[:]).String(),
			"balance":    balance.String(),
		},
	}
}

// AllowanceUpdated mirrors one Pusher.Push submission (spec §4.3).
type AllowanceUpdated struct {
	SubAccount   [20]byte
	NewAllowance *big.Int
	Sequence     int64
}

func (AllowanceUpdated) EventType() string { return TypeAllowanceUpdated }

func (e AllowanceUpdated) Event() *types.Event {
	allowance := big.NewInt(0)
	if e.NewAllowance != nil {
		allowance = new(big.Int).Set(e.NewAllowance)
	}
	return &types.Event{
		Type: TypeAllowanceUpdated,
		Attributes: map[string]string{
			"subAccount":   crypto.MustNewAddress(crypto.SubAccountPrefix, e.SubAccount[:]).String(),
			"newAllowance": allowance.String(),
			"sequence":     big.NewInt(e.Sequence).String(),
		},
	}
}

// ReorgDetected records the height at which the Event Source detected a
// block hash mismatch and rewound (spec §4.4).
type ReorgDetected struct {
	RewindHeight uint64
	PreviousTip  uint64
}

func (ReorgDetected) EventType() string { return TypeReorgDetected }

func (e ReorgDetected) Event() *types.Event {
	return &types.Event{
		Type: TypeReorgDetected,
		Attributes: map[string]string{
			"rewindHeight": big.NewInt(0).SetUint64(e.RewindHeight).String(),
			"previousTip":  big.NewInt(0).SetUint64(e.PreviousTip).String(),
		},
	}
}
