package allowance

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"subledger/crypto"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	return store
}

func TestSQLStorePushStateRoundTrip(t *testing.T) {
	store := newTestSQLStore(t)
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
	require.Len(t, got.Balances, 2)
	require.EqualValues(t, 100, got.LastUpdateTimestamp)
}

func TestSQLStoreRecordConfirmedPreservesSnapshot(t *testing.T) {
	store := newTestSQLStore(t)
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

func TestSQLStoreGetPushStateMissingReturnsNotFound(t *testing.T) {
	store := newTestSQLStore(t)
	_, ok, err := store.GetPushState(testToken(9))
	require.NoError(t, err)
	require.False(t, ok)
}
