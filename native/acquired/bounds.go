package acquired

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// ErrBalanceExceedsUint256 is returned when a rebuilt acquired balance can no
// longer be represented as an EVM uint256 — the fixed-width domain the
// enforcement substrate's batch_update balances[] argument is encoded into.
var ErrBalanceExceedsUint256 = errors.New("acquired: balance exceeds uint256 range")

// FitsUint256 reports whether v can be represented as an EVM uint256,
// bridging the rebuilder's arbitrary-precision big.Int arithmetic to the
// fixed-width domain the chain submission ultimately encodes into.
func FitsUint256(v *big.Int) bool {
	if v == nil {
		return true
	}
	if v.Sign() < 0 {
		return false
	}
	_, overflow := uint256.FromBig(v)
	return !overflow
}
