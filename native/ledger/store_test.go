package ledger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"subledger/crypto"
	"subledger/native/kvstore"
	"subledger/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(kvstore.New(storage.NewMemDB()))
}

func addr(b byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = b
	return crypto.MustNewAddress(crypto.SubAccountPrefix, raw)
}

func TestStorePutIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	evt := Event{
		Ref:        Ref{TxHash: [32]byte{1}, LogIndex: 0, BlockNumber: 10},
		Kind:       KindTransferExecuted,
		SubAccount: addr(1),
		Timestamp:  1000,
		Token:      addr(2),
		Amount:     big.NewInt(500),
	}
	require.NoError(t, store.Put(evt))
	require.NoError(t, store.Put(evt))

	events, err := store.ForSubAccount(addr(1))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, int64(1000), events[0].Timestamp)
	require.Equal(t, 0, events[0].Amount.Cmp(big.NewInt(500)))
}

func TestStoreForSubAccountOrdersChronologically(t *testing.T) {
	store := newTestStore(t)
	sub := addr(1)
	late := Event{Ref: Ref{TxHash: [32]byte{2}, LogIndex: 0, BlockNumber: 20}, SubAccount: sub, Timestamp: 2000}
	early := Event{Ref: Ref{TxHash: [32]byte{1}, LogIndex: 0, BlockNumber: 10}, SubAccount: sub, Timestamp: 1000}

	require.NoError(t, store.Put(late))
	require.NoError(t, store.Put(early))

	events, err := store.ForSubAccount(sub)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, int64(1000), events[0].Timestamp)
	require.Equal(t, int64(2000), events[1].Timestamp)
}

func TestStorePutRejectsContentDriftOnSameRef(t *testing.T) {
	store := newTestStore(t)
	ref := Ref{TxHash: [32]byte{9}, LogIndex: 0, BlockNumber: 10}
	first := Event{Ref: ref, SubAccount: addr(1), Timestamp: 1000, Token: addr(2), Amount: big.NewInt(500)}
	drifted := Event{Ref: ref, SubAccount: addr(1), Timestamp: 1000, Token: addr(2), Amount: big.NewInt(999)}

	require.NoError(t, store.Put(first))
	require.ErrorIs(t, store.Put(drifted), ErrFingerprintMismatch)
}

func TestStoreRewindRemovesEventsAtOrAboveHeight(t *testing.T) {
	store := newTestStore(t)
	sub := addr(1)
	keep := Event{Ref: Ref{TxHash: [32]byte{1}, LogIndex: 0, BlockNumber: 100}, SubAccount: sub, Timestamp: 1000}
	rewound := Event{Ref: Ref{TxHash: [32]byte{2}, LogIndex: 0, BlockNumber: 105}, SubAccount: sub, Timestamp: 2000}

	require.NoError(t, store.Put(keep))
	require.NoError(t, store.Put(rewound))

	require.NoError(t, store.RewindFrom(105, 110))

	events, err := store.ForSubAccount(sub)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, int64(1000), events[0].Timestamp)

	_, ok, err := store.Get(rewound.Ref)
	require.NoError(t, err)
	require.False(t, ok)
}
