package calldata

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"subledger/crypto"
	"subledger/native/ledger"
)

func TestRegistryLookupByTarget(t *testing.T) {
	target := crypto.MustNewAddress(crypto.SubAccountPrefix, make([]byte, 20))
	registry := NewRegistry()
	parser := ConstantParser{OpType: ledger.OpSwap, AcceptSelector: true}
	registry.Register(target, parser)

	got, ok := registry.Lookup(target)
	require.True(t, ok)
	require.Equal(t, ledger.OpSwap, got.GetOperationType([4]byte{}))
}

func TestRegistryMissReturnsNotOk(t *testing.T) {
	target := crypto.MustNewAddress(crypto.SubAccountPrefix, make([]byte, 20))
	registry := NewRegistry()
	_, ok := registry.Lookup(target)
	require.False(t, ok)
}

func TestERC20AmountAt(t *testing.T) {
	data := make([]byte, 4+32)
	amount := big.NewInt(123456)
	amtBytes := amount.Bytes()
	copy(data[4+32-len(amtBytes):], amtBytes)

	got, err := ERC20AmountAt(data, 0)
	require.NoError(t, err)
	require.Equal(t, 0, got.Cmp(amount))
}
