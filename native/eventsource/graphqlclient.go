package eventsource

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"subledger/crypto"
	"subledger/native/ledger"
)

// GraphQLClient is the primary Event Source transport (spec §4.4): a chain
// indexer exposing a GraphQL endpoint. No GraphQL client library is present
// anywhere in the example pack, so this is a minimal hand-rolled
// net/http + encoding/json POST-and-decode client rather than an imported
// one (see DESIGN.md).
type GraphQLClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewGraphQLClient constructs a client against the indexer's GraphQL
// endpoint.
func NewGraphQLClient(endpoint string) *GraphQLClient {
	return &GraphQLClient{endpoint: endpoint, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

func (c *GraphQLClient) post(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("graphqlclient: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("graphqlclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graphqlclient: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("graphqlclient: unexpected status %d", resp.StatusCode)
	}
	var decoded graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("graphqlclient: decode response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return fmt.Errorf("graphqlclient: %s", decoded.Errors[0].Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(decoded.Data, out)
}

// HeadBlockNumber implements eventsource.ChainClient.
func (c *GraphQLClient) HeadBlockNumber(ctx context.Context) (uint64, error) {
	var out struct {
		Meta struct {
			Head uint64 `json:"headBlockNumber"`
		} `json:"_meta"`
	}
	const query = `{ _meta { headBlockNumber } }`
	if err := c.post(ctx, query, nil, &out); err != nil {
		return 0, err
	}
	return out.Meta.Head, nil
}

// BlockHeader implements eventsource.ChainClient.
func (c *GraphQLClient) BlockHeader(ctx context.Context, number uint64) (BlockHeader, error) {
	var out struct {
		Block struct {
			Number uint64 `json:"number"`
			Hash   string `json:"hash"`
		} `json:"block"`
	}
	const query = `query($number: Int!) { block(number: $number) { number hash } }`
	if err := c.post(ctx, query, map[string]interface{}{"number": number}, &out); err != nil {
		return BlockHeader{}, err
	}
	hash, err := decodeHexHash(out.Block.Hash)
	if err != nil {
		return BlockHeader{}, fmt.Errorf("graphqlclient: decode block hash: %w", err)
	}
	return BlockHeader{Number: out.Block.Number, Hash: hash}, nil
}

type graphQLEvent struct {
	TxHash      string   `json:"txHash"`
	LogIndex    uint32   `json:"logIndex"`
	BlockNumber uint64   `json:"blockNumber"`
	Timestamp   int64    `json:"timestamp"`
	Kind        string   `json:"kind"`
	SubAccount  string   `json:"subAccount"`
	OpType      string   `json:"opType"`
	Target      string   `json:"target"`
	TokensIn    []string `json:"tokensIn"`
	AmountsIn   []string `json:"amountsIn"`
	TokensOut   []string `json:"tokensOut"`
	AmountsOut  []string `json:"amountsOut"`
	Token       string   `json:"token"`
	Recipient   string   `json:"recipient"`
	Amount      string   `json:"amount"`
}

// EventsInRange implements eventsource.ChainClient against the indexer's
// events-by-range query.
func (c *GraphQLClient) EventsInRange(ctx context.Context, fromBlock, toBlock uint64) ([]ledger.Event, error) {
	var out struct {
		Events []graphQLEvent `json:"events"`
	}
	const query = `query($from: Int!, $to: Int!) {
		events(fromBlock: $from, toBlock: $to) {
			txHash logIndex blockNumber timestamp kind subAccount opType target
			tokensIn amountsIn tokensOut amountsOut token recipient amount
		}
	}`
	if err := c.post(ctx, query, map[string]interface{}{"from": fromBlock, "to": toBlock}, &out); err != nil {
		return nil, err
	}
	events := make([]ledger.Event, 0, len(out.Events))
	for _, raw := range out.Events {
		evt, err := decodeGraphQLEvent(raw)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, nil
}

func decodeGraphQLEvent(raw graphQLEvent) (ledger.Event, error) {
	txHash, err := decodeHexHash(raw.TxHash)
	if err != nil {
		return ledger.Event{}, fmt.Errorf("graphqlclient: decode tx hash: %w", err)
	}
	sub, err := decodeGraphQLAddress(raw.SubAccount)
	if err != nil {
		return ledger.Event{}, err
	}
	evt := ledger.Event{
		Ref: ledger.Ref{
			TxHash:      txHash,
			LogIndex:    raw.LogIndex,
			BlockNumber: raw.BlockNumber,
		},
		Timestamp:  raw.Timestamp,
		SubAccount: sub,
	}
	switch raw.Kind {
	case "PROTOCOL_EXECUTION":
		evt.Kind = ledger.KindProtocolExecution
	case "TRANSFER_EXECUTED":
		evt.Kind = ledger.KindTransferExecuted
	default:
		return ledger.Event{}, fmt.Errorf("graphqlclient: unknown event kind %q", raw.Kind)
	}
	if evt.Target, err = decodeGraphQLAddress(raw.Target); err != nil {
		return ledger.Event{}, err
	}
	if evt.Token, err = decodeGraphQLAddress(raw.Token); err != nil {
		return ledger.Event{}, err
	}
	if evt.Recipient, err = decodeGraphQLAddress(raw.Recipient); err != nil {
		return ledger.Event{}, err
	}
	for _, s := range raw.TokensIn {
		addr, err := decodeGraphQLAddress(s)
		if err != nil {
			return ledger.Event{}, err
		}
		evt.TokensIn = append(evt.TokensIn, addr)
	}
	for _, s := range raw.TokensOut {
		addr, err := decodeGraphQLAddress(s)
		if err != nil {
			return ledger.Event{}, err
		}
		evt.TokensOut = append(evt.TokensOut, addr)
	}
	for _, s := range raw.AmountsIn {
		evt.AmountsIn = append(evt.AmountsIn, parseGraphQLAmount(s))
	}
	for _, s := range raw.AmountsOut {
		evt.AmountsOut = append(evt.AmountsOut, parseGraphQLAmount(s))
	}
	evt.Amount = parseGraphQLAmount(raw.Amount)
	return evt, nil
}

func parseGraphQLAmount(s string) *big.Int {
	if s == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return v
}

func decodeGraphQLAddress(s string) (crypto.Address, error) {
	if s == "" {
		return crypto.Address{}, nil
	}
	raw, err := decodeHexBytes(s)
	if err != nil {
		return crypto.Address{}, err
	}
	return crypto.NewAddress(crypto.SubAccountPrefix, raw)
}

func decodeHexHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := decodeHexBytes(s)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("graphqlclient: expected 32-byte hash, got %d bytes", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func decodeHexBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
