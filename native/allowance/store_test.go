package allowance

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"subledger/crypto"
)

type memoryState struct {
	data map[string][]byte
}

func newMemoryState() *memoryState {
	return &memoryState{data: make(map[string][]byte)}
}

func (m *memoryState) KVGet(key []byte, out interface{}) (bool, error) {
	raw, ok := m.data[string(key)]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	return true, rlp.DecodeBytes(raw, out)
}

func (m *memoryState) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.data[string(key)] = encoded
	return nil
}

func testSub() crypto.Address {
	return crypto.MustNewAddress(crypto.SubAccountPrefix, make([]byte, 20))
}

func testToken(b byte) crypto.Address {
	addr := make([]byte, 20)
	addr[0] = b
	return crypto.MustNewAddress(crypto.SubAccountPrefix, addr)
}

func TestStorePushStateRoundTrip(t *testing.T) {
	store := NewStore(newMemoryState())
	sub := testSub()

	_, ok, err := store.GetPushState(sub)
	require.NoError(t, err)
	require.False(t, ok)

	push := PushState{
		Allowance:           big.NewInt(1_000),
		Tokens:              []crypto.Address{testToken(1), testToken(2)},
		Balances:            []*big.Int{big.NewInt(500), big.NewInt(0)},
		LastUpdateTimestamp: 100,
	}
	require.NoError(t, store.PutPushState(sub, push))

	got, ok, err := store.GetPushState(sub)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, got.Allowance.Cmp(big.NewInt(1_000)))
	require.Len(t, got.Tokens, 2)
	require.EqualValues(t, 100, got.LastUpdateTimestamp)
}

func TestStoreRecordConfirmedPreservesSnapshot(t *testing.T) {
	store := NewStore(newMemoryState())
	sub := testSub()

	push := PushState{Allowance: big.NewInt(42), LastUpdateTimestamp: 1}
	require.NoError(t, store.PutPushState(sub, push))

	require.NoError(t, store.RecordConfirmed(sub, 999))

	got, ok, err := store.GetPushState(sub)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 999, got.LastUpdateTimestamp)
	require.Equal(t, 0, got.Allowance.Cmp(big.NewInt(42)))

	ts, ok, err := store.LastUpdateTimestamp(sub)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 999, ts)
}
