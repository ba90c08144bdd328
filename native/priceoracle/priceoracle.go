// Package priceoracle normalizes external price feeds to the 18-decimal
// fixed-point format the Acquired-Balance Rebuilder and Allowance Calculator
// use for USD-weighted arithmetic, and caches the result with a staleness
// bound (spec §4.2/§4.3, §6).
package priceoracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"subledger/crypto"
)

// Precision matches native/acquired.Precision (18 decimals); duplicated here
// to avoid a cross-package dependency for a single shared constant.
var Precision = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// RoundData mirrors a Chainlink-style aggregator's latestRoundData response.
type RoundData struct {
	RoundID         *big.Int
	Answer          *big.Int
	StartedAt       int64
	UpdatedAt       int64
	AnsweredInRound *big.Int
}

// Feed is the on-chain price feed surface the oracle adapter consumes.
type Feed interface {
	LatestRoundData(ctx context.Context) (RoundData, error)
	Decimals(ctx context.Context) (uint8, error)
}

// Config bounds feed staleness (spec §6).
type Config struct {
	MaxOracleAgeSeconds     int64
	MaxPriceFeedAgeSeconds  int64
	MaxSafeValueAgeSeconds  int64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxOracleAgeSeconds:    3600,
		MaxPriceFeedAgeSeconds: 86400,
		MaxSafeValueAgeSeconds: 3600,
	}
}

var (
	// ErrStaleFeed is returned when a feed's updatedAt exceeds the
	// configured staleness bound.
	ErrStaleFeed = fmt.Errorf("priceoracle: feed is stale")
	// ErrNoFeed is returned when no feed is registered for a token.
	ErrNoFeed = fmt.Errorf("priceoracle: no feed registered for token")
)

type cachedPrice struct {
	price18   *big.Int
	fetchedAt int64
}

// Cache resolves per-token 18-decimal USD prices, backed by registered feeds
// and a staleness-bounded in-memory cache.
type Cache struct {
	mu     sync.RWMutex
	cfg    Config
	clock  func() time.Time
	feeds  map[string]Feed
	cached map[string]cachedPrice
}

// NewCache constructs a Cache with the supplied config and wall clock.
func NewCache(cfg Config) *Cache {
	return &Cache{
		cfg:    cfg,
		clock:  time.Now,
		feeds:  make(map[string]Feed),
		cached: make(map[string]cachedPrice),
	}
}

// SetClock overrides the time source for deterministic tests.
func (c *Cache) SetClock(clock func() time.Time) {
	if c == nil || clock == nil {
		return
	}
	c.clock = clock
}

// RegisterFeed associates token with a price feed.
func (c *Cache) RegisterFeed(token crypto.Address, feed Feed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feeds[tokenKey(token)] = feed
}

// Price18 returns token's cached 18-decimal USD price, refreshing from the
// feed when the cached value is stale or absent. Normalization follows spec
// §4.2: price_18 = answer × 10^(18 - feed_decimals).
func (c *Cache) Price18(ctx context.Context, token crypto.Address) (*big.Int, error) {
	key := tokenKey(token)

	c.mu.RLock()
	feed, hasFeed := c.feeds[key]
	cached, hasCached := c.cached[key]
	c.mu.RUnlock()

	now := c.clock().UTC().Unix()
	if hasCached && now-cached.fetchedAt <= c.cfg.MaxSafeValueAgeSeconds {
		return new(big.Int).Set(cached.price18), nil
	}
	if !hasFeed {
		if hasCached {
			// Serve the last known value rather than fail outright, but the
			// caller is expected to treat it as stale per MaxSafeValueAgeSeconds.
			return new(big.Int).Set(cached.price18), nil
		}
		return nil, ErrNoFeed
	}

	round, err := feed.LatestRoundData(ctx)
	if err != nil {
		return nil, fmt.Errorf("priceoracle: fetch latest round: %w", err)
	}
	if c.cfg.MaxPriceFeedAgeSeconds > 0 && now-round.UpdatedAt > c.cfg.MaxPriceFeedAgeSeconds {
		return nil, ErrStaleFeed
	}
	decimals, err := feed.Decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("priceoracle: fetch decimals: %w", err)
	}
	price18 := Normalize(round.Answer, decimals)

	c.mu.Lock()
	c.cached[key] = cachedPrice{price18: price18, fetchedAt: now}
	c.mu.Unlock()

	return new(big.Int).Set(price18), nil
}

// Normalize scales answer (expressed with feedDecimals precision) up or down
// to 18-decimal fixed point.
func Normalize(answer *big.Int, feedDecimals uint8) *big.Int {
	if answer == nil {
		return big.NewInt(0)
	}
	if feedDecimals == 18 {
		return new(big.Int).Set(answer)
	}
	if feedDecimals < 18 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-feedDecimals)), nil)
		return new(big.Int).Mul(answer, scale)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(feedDecimals-18)), nil)
	return new(big.Int).Div(answer, scale)
}

// TokenValueUSD computes amount * price18 / 10^tokenDecimals, the USD value
// of a token amount at the given per-unit 18-decimal price.
func TokenValueUSD(amount *big.Int, price18 *big.Int, tokenDecimals uint8) *big.Int {
	if amount == nil || price18 == nil {
		return big.NewInt(0)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(tokenDecimals)), nil)
	return new(big.Int).Div(new(big.Int).Mul(amount, price18), scale)
}

func tokenKey(token crypto.Address) string {
	return string(token.Bytes())
}

// ConstantFeed is a fixed-price feed used for tests and for stablecoins with
// no live aggregator, grounded on the constant/mock oracle pattern used
// elsewhere in this stack for deterministic fixtures.
type ConstantFeed struct {
	Answer    *big.Int
	Dec       uint8
	UpdatedAt int64
}

func (f ConstantFeed) LatestRoundData(ctx context.Context) (RoundData, error) {
	return RoundData{
		RoundID:         big.NewInt(1),
		Answer:          f.Answer,
		StartedAt:       f.UpdatedAt,
		UpdatedAt:       f.UpdatedAt,
		AnsweredInRound: big.NewInt(1),
	}, nil
}

func (f ConstantFeed) Decimals(ctx context.Context) (uint8, error) {
	return f.Dec, nil
}
