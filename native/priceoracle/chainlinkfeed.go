package priceoracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// aggregatorABI is the minimal Chainlink AggregatorV3Interface surface this
// feed adapter calls, grounded on services/oracle-attesterd's hand-written
// ABI-JSON-string pattern for narrow on-chain reads.
const aggregatorABI = `[
{"name":"latestRoundData","type":"function","stateMutability":"view","inputs":[],"outputs":[
{"name":"roundId","type":"uint80"},
{"name":"answer","type":"int256"},
{"name":"startedAt","type":"uint256"},
{"name":"updatedAt","type":"uint256"},
{"name":"answeredInRound","type":"uint80"}]},
{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}]`

// CallerClient is the subset of ethclient.Client a read-only ABI call needs.
type CallerClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainlinkFeed implements Feed against a deployed AggregatorV3Interface
// contract, grounded on native/eventsource's ABI-decode-by-selector pattern
// in native/calldata and services/oracle-attesterd's EVMClient adapter.
type ChainlinkFeed struct {
	client     CallerClient
	aggregator common.Address
	abi        abi.ABI
}

// NewChainlinkFeed constructs a ChainlinkFeed reading from aggregator.
func NewChainlinkFeed(client CallerClient, aggregator common.Address) (*ChainlinkFeed, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("priceoracle: parse aggregator abi: %w", err)
	}
	return &ChainlinkFeed{client: client, aggregator: aggregator, abi: parsed}, nil
}

// LatestRoundData implements Feed.
func (f *ChainlinkFeed) LatestRoundData(ctx context.Context) (RoundData, error) {
	data, err := f.abi.Pack("latestRoundData")
	if err != nil {
		return RoundData{}, fmt.Errorf("priceoracle: encode latestRoundData: %w", err)
	}
	out, err := f.client.CallContract(ctx, ethereum.CallMsg{To: &f.aggregator, Data: data}, nil)
	if err != nil {
		return RoundData{}, fmt.Errorf("priceoracle: call latestRoundData: %w", err)
	}
	values, err := f.abi.Unpack("latestRoundData", out)
	if err != nil {
		return RoundData{}, fmt.Errorf("priceoracle: decode latestRoundData: %w", err)
	}
	if len(values) != 5 {
		return RoundData{}, fmt.Errorf("priceoracle: latestRoundData returned %d values", len(values))
	}
	roundID, _ := values[0].(*big.Int)
	answer, _ := values[1].(*big.Int)
	startedAt, _ := values[2].(*big.Int)
	updatedAt, _ := values[3].(*big.Int)
	answeredInRound, _ := values[4].(*big.Int)
	return RoundData{
		RoundID:         roundID,
		Answer:          answer,
		StartedAt:       startedAt.Int64(),
		UpdatedAt:       updatedAt.Int64(),
		AnsweredInRound: answeredInRound,
	}, nil
}

// Decimals implements Feed.
func (f *ChainlinkFeed) Decimals(ctx context.Context) (uint8, error) {
	data, err := f.abi.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("priceoracle: encode decimals: %w", err)
	}
	out, err := f.client.CallContract(ctx, ethereum.CallMsg{To: &f.aggregator, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("priceoracle: call decimals: %w", err)
	}
	values, err := f.abi.Unpack("decimals", out)
	if err != nil {
		return 0, fmt.Errorf("priceoracle: decode decimals: %w", err)
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("priceoracle: decimals returned %d values", len(values))
	}
	dec, _ := values[0].(uint8)
	return dec, nil
}
