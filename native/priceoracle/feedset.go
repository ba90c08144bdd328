package priceoracle

import (
	"fmt"
	"math"
	"math/big"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"subledger/crypto"
)

// FeedEntry binds one token to its on-chain aggregator, or to a fixed price
// for stablecoins and test fixtures with no live aggregator. Field tags
// mirror native/swap.RiskConfig's toml-tagged operator configuration style.
type FeedEntry struct {
	Token             string `toml:"Token"`
	AggregatorAddress string `toml:"AggregatorAddress"`
	ConstantPriceUSD  string `toml:"ConstantPriceUSD"`
	ConstantDecimals  uint8  `toml:"ConstantDecimals"`
}

// FeedSetConfig is the full roster of feeds an operator configures, loaded
// from a TOML file alongside the daemon's YAML configuration.
type FeedSetConfig struct {
	Feeds []FeedEntry `toml:"Feed"`
}

// LoadFeedSet reads a FeedSetConfig from path.
func LoadFeedSet(path string) (FeedSetConfig, error) {
	var cfg FeedSetConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("priceoracle: decode feed set: %w", err)
	}
	return cfg, nil
}

// RegisterAll resolves every entry in cfg against client (for on-chain
// aggregators) and registers it with cache, skipping entries that name
// neither an aggregator nor a constant price.
func (cfg FeedSetConfig) RegisterAll(cache *Cache, client CallerClient) error {
	for _, entry := range cfg.Feeds {
		token, err := crypto.DecodeAddress(entry.Token)
		if err != nil {
			return fmt.Errorf("priceoracle: feed entry token %q: %w", entry.Token, err)
		}
		switch {
		case entry.AggregatorAddress != "":
			feed, err := NewChainlinkFeed(client, common.HexToAddress(entry.AggregatorAddress))
			if err != nil {
				return fmt.Errorf("priceoracle: feed entry %q: %w", entry.Token, err)
			}
			cache.RegisterFeed(token, feed)
		case entry.ConstantPriceUSD != "":
			price, ok := new(big.Int).SetString(entry.ConstantPriceUSD, 10)
			if !ok {
				return fmt.Errorf("priceoracle: feed entry %q: invalid ConstantPriceUSD", entry.Token)
			}
			// A fixed price has no round that can age past
			// MaxPriceFeedAgeSeconds, so it is stamped as never stale.
			cache.RegisterFeed(token, ConstantFeed{Answer: price, Dec: entry.ConstantDecimals, UpdatedAt: math.MaxInt64})
		default:
			return fmt.Errorf("priceoracle: feed entry %q: neither AggregatorAddress nor ConstantPriceUSD set", entry.Token)
		}
	}
	return nil
}

// FeedSetFileExists reports whether the operator configured a feed set file,
// allowing the daemon to run with zero feeds (falling back to the
// amount-weighted allocation ratio) when absent.
func FeedSetFileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
