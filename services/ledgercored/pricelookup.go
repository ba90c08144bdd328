package ledgercored

import (
	"context"
	"math/big"

	"subledger/crypto"
	"subledger/native/acquired"
	"subledger/native/priceoracle"
)

// priceLookup adapts priceoracle.Cache's context/error-returning Price18 to
// the acquired.PriceLookup shape the Rebuilder expects, treating any lookup
// failure (unregistered feed, stale round) as "no price", which forces the
// amount-weighted fallback ratio per spec §4.2.
func priceLookup(ctx context.Context, cache *priceoracle.Cache) acquired.PriceLookup {
	return func(token crypto.Address) (*big.Int, bool) {
		price, err := cache.Price18(ctx, token)
		if err != nil || price == nil {
			return nil, false
		}
		return price, true
	}
}
