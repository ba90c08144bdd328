// Package spendauth implements the Spend Authorizer: per-sub-account rolling
// daily spend limits, transfer-type policy, and monotonic nonce assignment.
// It never moves funds — it only decides whether a spend intent may proceed
// and, if so, stamps it with a nonce for the execution layer to act on.
package spendauth

import "math/big"

// TransferType enumerates the allowed spend categories. The bitmap stored on
// a SubAccount is built by OR-ing 1<<t for each allowed type.
type TransferType uint8

const (
	TransferTypePayment TransferType = iota
	TransferTypeTransfer
	TransferTypeInterbank
)

// MaxTransferType is the highest transfer type value accepted by
// register_eoa/update_allowed_types (spec §4.1: "any type > 7" is rejected).
const MaxTransferType = 7

// WindowDuration is the rolling spend window (spec §6: window_duration_seconds).
const WindowDuration = 24 * 60 * 60

// MaxRecordsPerEOA bounds the live SpendRecord count per EOA (spec §6).
const MaxRecordsPerEOA = 200

// SubAccount is a registered EOA and its spend policy (spec §3).
type SubAccount struct {
	Avatar       [20]byte
	EOA          [20]byte
	DailyLimit   *big.Int
	AllowedTypes uint8
	Registered   bool
}

// AllowsType reports whether the bitmap permits the given transfer type.
func (s SubAccount) AllowsType(t uint8) bool {
	return s.AllowedTypes&(1<<t) != 0
}

// BuildBitmap ORs 1<<t for each listed transfer type, as register_eoa does.
func BuildBitmap(types []uint8) uint8 {
	var bitmap uint8
	for _, t := range types {
		bitmap |= 1 << t
	}
	return bitmap
}

// SpendRecord is a single packed append to an EOA's rolling spend list
// (spec §3). Amount and Timestamp are both bounded by U128 in the spec;
// *big.Int is used here for uniform arithmetic with the rest of the core.
type SpendRecord struct {
	Amount    *big.Int
	Timestamp int64
}

// AuthorizationRecord is emitted exactly once per successful authorize_spend
// (spec §3/§4.1 step 9).
type AuthorizationRecord struct {
	Avatar        [20]byte
	EOA           [20]byte
	Amount        *big.Int
	RecipientHash [32]byte
	TransferType  uint8
	Nonce         *big.Int
}
