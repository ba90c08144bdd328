package spendauth

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"subledger/native/kvstore"
	"subledger/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(kvstore.New(storage.NewMemDB()))
}

// AdvanceStartIndex advances by a count of expired leading entries in the
// live window, not an absolute index — two successive prune calls must each
// take effect, not just the first.
func TestAdvanceStartIndexAccumulatesAcrossSuccessiveCalls(t *testing.T) {
	store := newTestStore(t)
	eoa := testEOA(1)

	for i, ts := range []int64{0, 1000, 2000} {
		require.NoError(t, store.AppendSpendRecord(eoa, SpendRecord{Amount: big.NewInt(int64(i + 1)), Timestamp: ts}))
	}

	require.NoError(t, store.AdvanceStartIndex(eoa, 1))
	records, err := store.LiveRecords(eoa)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, int64(1000), records[0].Timestamp)

	require.NoError(t, store.AdvanceStartIndex(eoa, 1))
	records, err = store.LiveRecords(eoa)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, int64(2000), records[0].Timestamp)
}

func TestAdvanceStartIndexIgnoresNonPositiveAdvance(t *testing.T) {
	store := newTestStore(t)
	eoa := testEOA(2)
	require.NoError(t, store.AppendSpendRecord(eoa, SpendRecord{Amount: big.NewInt(1), Timestamp: 0}))

	require.NoError(t, store.AdvanceStartIndex(eoa, 0))
	records, err := store.LiveRecords(eoa)
	require.NoError(t, err)
	require.Len(t, records, 1)
}
