package eventsource

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"subledger/crypto"
	"subledger/native/calldata"
	"subledger/native/ledger"
)

var (
	transferEventSignature          = gethcrypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	protocolExecutionEventSignature = gethcrypto.Keccak256Hash([]byte("ProtocolExecution(address,address,bytes32)"))
)

// EVMClient is the subset of the go-ethereum RPC surface the chunked
// fallback client drives, grounded on
// services/oracle-attesterd/evm_confirm.go's EVMClient.
type EVMClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *gethtypes.Transaction, isPending bool, err error)
}

// RPCClient is the chunked-direct-RPC fallback path of the Event Source
// (spec §4.4): it polls block headers and filters logs directly against an
// EVM node rather than an indexer.
type RPCClient struct {
	client    EVMClient
	collector common.Address
	registry  *calldata.Registry
}

// NewRPCClient constructs a fallback ChainClient. collector is the contract
// address whose Transfer/ProtocolExecution logs are relevant; registry
// dispatches ProtocolExecution calldata to the right Parser by target
// address.
func NewRPCClient(client EVMClient, collector common.Address, registry *calldata.Registry) *RPCClient {
	return &RPCClient{client: client, collector: collector, registry: registry}
}

// HeadBlockNumber implements eventsource.ChainClient.
func (c *RPCClient) HeadBlockNumber(ctx context.Context) (uint64, error) {
	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("rpcclient: fetch head header: %w", err)
	}
	if header == nil || header.Number == nil {
		return 0, fmt.Errorf("rpcclient: head header missing number")
	}
	return header.Number.Uint64(), nil
}

// BlockHeader implements eventsource.ChainClient.
func (c *RPCClient) BlockHeader(ctx context.Context, number uint64) (BlockHeader, error) {
	header, err := c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return BlockHeader{}, fmt.Errorf("rpcclient: fetch header %d: %w", number, err)
	}
	if header == nil {
		return BlockHeader{}, fmt.Errorf("rpcclient: header %d missing", number)
	}
	return BlockHeader{Number: number, Hash: header.Hash()}, nil
}

// EventsInRange implements eventsource.ChainClient by filtering the
// collector's logs over [fromBlock, toBlock] and decoding each into a
// ledger.Event: ERC-20 Transfer logs become TransferExecuted events,
// ProtocolExecution logs are decoded via the calldata registry keyed on the
// transaction's target address.
func (c *RPCClient) EventsInRange(ctx context.Context, fromBlock, toBlock uint64) ([]ledger.Event, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.collector},
	}
	logs, err := c.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: filter logs [%d,%d]: %w", fromBlock, toBlock, err)
	}
	blockTimestamps := make(map[uint64]int64)
	timestampFor := func(block uint64) (int64, error) {
		if ts, ok := blockTimestamps[block]; ok {
			return ts, nil
		}
		header, err := c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
		if err != nil {
			return 0, fmt.Errorf("rpcclient: fetch header %d: %w", block, err)
		}
		ts := int64(header.Time)
		blockTimestamps[block] = ts
		return ts, nil
	}

	var events []ledger.Event
	for _, log := range logs {
		if len(log.Topics) == 0 {
			continue
		}
		ts, err := timestampFor(log.BlockNumber)
		if err != nil {
			return nil, err
		}
		switch log.Topics[0] {
		case transferEventSignature:
			evt, ok, err := c.decodeTransfer(log)
			if err != nil {
				return nil, err
			}
			if ok {
				evt.Timestamp = ts
				events = append(events, evt)
			}
		case protocolExecutionEventSignature:
			evt, ok, err := c.decodeProtocolExecution(ctx, log)
			if err != nil {
				return nil, err
			}
			if ok {
				evt.Timestamp = ts
				events = append(events, evt)
			}
		}
	}
	return events, nil
}

func (c *RPCClient) decodeTransfer(log gethtypes.Log) (ledger.Event, bool, error) {
	if len(log.Topics) < 3 {
		return ledger.Event{}, false, nil
	}
	sub, err := addressFromTopic(log.Topics[1])
	if err != nil {
		return ledger.Event{}, false, err
	}
	recipient, err := addressFromTopic(log.Topics[2])
	if err != nil {
		return ledger.Event{}, false, err
	}
	token, err := crypto.NewAddress(crypto.SubAccountPrefix, log.Address.Bytes())
	if err != nil {
		return ledger.Event{}, false, err
	}
	return ledger.Event{
		Ref: ledger.Ref{
			TxHash:      log.TxHash,
			LogIndex:    log.Index,
			BlockNumber: log.BlockNumber,
		},
		Kind:       ledger.KindTransferExecuted,
		SubAccount: sub,
		Token:      token,
		Recipient:  recipient,
		Amount:     new(big.Int).SetBytes(log.Data),
	}, true, nil
}

func (c *RPCClient) decodeProtocolExecution(ctx context.Context, log gethtypes.Log) (ledger.Event, bool, error) {
	if len(log.Topics) < 2 || c.registry == nil {
		return ledger.Event{}, false, nil
	}
	sub, err := addressFromTopic(log.Topics[1])
	if err != nil {
		return ledger.Event{}, false, err
	}
	target, err := crypto.NewAddress(crypto.SubAccountPrefix, log.Address.Bytes())
	if err != nil {
		return ledger.Event{}, false, err
	}
	parser, ok := c.registry.Lookup(target)
	if !ok {
		return ledger.Event{}, false, calldata.ErrUnknownSelector
	}
	tx, _, err := c.client.TransactionByHash(ctx, log.TxHash)
	if err != nil {
		return ledger.Event{}, false, fmt.Errorf("rpcclient: fetch tx %s: %w", log.TxHash.Hex(), err)
	}
	if tx == nil {
		return ledger.Event{}, false, nil
	}
	selector, err := calldata.Selector(tx.Data())
	if err != nil {
		return ledger.Event{}, false, err
	}
	if !parser.SupportsSelector(selector) {
		return ledger.Event{}, false, calldata.ErrUnknownSelector
	}
	tokensIn, err := parser.ExtractInputTokens(tx.Data())
	if err != nil {
		return ledger.Event{}, false, err
	}
	amountsIn, err := parser.ExtractInputAmounts(tx.Data())
	if err != nil {
		return ledger.Event{}, false, err
	}
	tokensOut, err := parser.ExtractOutputTokens(tx.Data())
	if err != nil {
		return ledger.Event{}, false, err
	}
	return ledger.Event{
		Ref: ledger.Ref{
			TxHash:      log.TxHash,
			LogIndex:    log.Index,
			BlockNumber: log.BlockNumber,
		},
		Kind:       ledger.KindProtocolExecution,
		SubAccount: sub,
		OpType:     parser.GetOperationType(selector),
		Target:     target,
		TokensIn:   tokensIn,
		AmountsIn:  amountsIn,
		TokensOut:  tokensOut,
	}, true, nil
}

func addressFromTopic(topic common.Hash) (crypto.Address, error) {
	return crypto.NewAddress(crypto.SubAccountPrefix, common.BytesToAddress(topic.Bytes()).Bytes())
}
