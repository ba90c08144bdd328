package spendauth

import (
	"math/big"

	"github.com/holiman/uint256"
)

// ErrAmountExceedsUint256 is returned when a caller-supplied amount cannot be
// represented in the 256-bit unsigned domain the enforcement substrate's
// contracts operate in. Registering a limit or authorizing a spend that
// can't round-trip through uint256 would desynchronize this engine's
// bookkeeping from what the chain could ever actually enforce.
var ErrAmountExceedsUint256 = &amountRangeError{}

type amountRangeError struct{}

func (*amountRangeError) Error() string {
	return "spendauth: amount exceeds uint256 range"
}

// fitsUint256 reports whether v can be represented as an EVM uint256.
func fitsUint256(v *big.Int) bool {
	if v == nil {
		return true
	}
	if v.Sign() < 0 {
		return false
	}
	_, overflow := uint256.FromBig(v)
	return !overflow
}
