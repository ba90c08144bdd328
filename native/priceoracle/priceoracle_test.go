package priceoracle

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"subledger/crypto"
)

func TestNormalizeScalesToEighteenDecimals(t *testing.T) {
	// 8-decimal feed (typical Chainlink USD feed) answering $1.00.
	answer := big.NewInt(100_000_000)
	got := Normalize(answer, 8)
	want := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	require.Equal(t, 0, got.Cmp(want))
}

func TestPrice18RefreshesFromFeed(t *testing.T) {
	token := crypto.MustNewAddress(crypto.SubAccountPrefix, make([]byte, 20))
	cache := NewCache(Config{MaxSafeValueAgeSeconds: 100, MaxPriceFeedAgeSeconds: 3600})
	now := time.Unix(1_700_000_000, 0).UTC()
	cache.SetClock(func() time.Time { return now })

	feed := ConstantFeed{Answer: big.NewInt(200_000_000), Dec: 8, UpdatedAt: now.Unix()}
	cache.RegisterFeed(token, feed)

	price, err := cache.Price18(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, 0, price.Cmp(new(big.Int).Mul(big.NewInt(2), Precision)))
}

func TestPrice18RejectsStaleFeed(t *testing.T) {
	token := crypto.MustNewAddress(crypto.SubAccountPrefix, make([]byte, 20))
	cache := NewCache(Config{MaxSafeValueAgeSeconds: 0, MaxPriceFeedAgeSeconds: 100})
	now := time.Unix(1_700_000_000, 0).UTC()
	cache.SetClock(func() time.Time { return now })

	feed := ConstantFeed{Answer: big.NewInt(100_000_000), Dec: 8, UpdatedAt: now.Unix() - 1000}
	cache.RegisterFeed(token, feed)

	_, err := cache.Price18(context.Background(), token)
	require.ErrorIs(t, err, ErrStaleFeed)
}
