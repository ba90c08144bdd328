// Package calldata extracts the fields the Acquired-Balance Rebuilder needs
// (input/output tokens and amounts, recipient, operation kind) from raw
// transaction calldata, dispatching by target contract address to a
// registered Parser. Grounded on go-ethereum's ABI selector extraction used
// throughout the rest of this stack's settlement verification code.
package calldata

import (
	"encoding/binary"
	"errors"
	"math/big"
	"sync"

	"subledger/crypto"
	"subledger/native/ledger"
)

// ErrUnknownSelector is returned when no parser recognizes calldata's
// 4-byte function selector.
var ErrUnknownSelector = errors.New("calldata: unknown selector")

// Parser extracts the DeFi Interactor event shape from one protocol's
// calldata.
type Parser interface {
	SupportsSelector(selector [4]byte) bool
	GetOperationType(selector [4]byte) ledger.OpType
	ExtractInputTokens(data []byte) ([]crypto.Address, error)
	ExtractInputAmounts(data []byte) ([]*big.Int, error)
	ExtractOutputTokens(data []byte) ([]crypto.Address, error)
	ExtractRecipient(data []byte) (crypto.Address, error)
}

// Registry dispatches calldata to the parser registered for its target
// contract address.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry returns an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register associates target with parser.
func (r *Registry) Register(target crypto.Address, parser Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[string(target.Bytes())] = parser
}

// Lookup returns the parser registered for target, if any.
func (r *Registry) Lookup(target crypto.Address) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[string(target.Bytes())]
	return p, ok
}

// Selector extracts the 4-byte function selector from the head of calldata.
func Selector(data []byte) ([4]byte, error) {
	var sel [4]byte
	if len(data) < 4 {
		return sel, errors.New("calldata: too short for a selector")
	}
	copy(sel[:], data[:4])
	return sel, nil
}

// ConstantParser is a fixed-shape parser used for tests and for protocols
// whose calldata encoding is out of scope for live decoding; it reports the
// values it was constructed with regardless of calldata contents.
type ConstantParser struct {
	OpType         ledger.OpType
	InputTokens    []crypto.Address
	InputAmounts   []*big.Int
	OutputTokens   []crypto.Address
	Recipient      crypto.Address
	AcceptSelector bool
}

func (p ConstantParser) SupportsSelector(selector [4]byte) bool { return p.AcceptSelector }
func (p ConstantParser) GetOperationType(selector [4]byte) ledger.OpType { return p.OpType }
func (p ConstantParser) ExtractInputTokens(data []byte) ([]crypto.Address, error) {
	return p.InputTokens, nil
}
func (p ConstantParser) ExtractInputAmounts(data []byte) ([]*big.Int, error) {
	return p.InputAmounts, nil
}
func (p ConstantParser) ExtractOutputTokens(data []byte) ([]crypto.Address, error) {
	return p.OutputTokens, nil
}
func (p ConstantParser) ExtractRecipient(data []byte) (crypto.Address, error) {
	return p.Recipient, nil
}

// ERC20AmountAt reads a big-endian uint256 word at the given 32-byte-aligned
// argument offset within ABI-encoded calldata (after the 4-byte selector),
// the standard layout go-ethereum's abi package produces for simple
// transfer/approve-style calls.
func ERC20AmountAt(data []byte, argIndex int) (*big.Int, error) {
	offset := 4 + argIndex*32
	if len(data) < offset+32 {
		return nil, errors.New("calldata: argument out of range")
	}
	return new(big.Int).SetBytes(data[offset : offset+32]), nil
}

// Uint64At reads a big-endian uint64 from the low 8 bytes of the given
// 32-byte argument word.
func Uint64At(data []byte, argIndex int) (uint64, error) {
	offset := 4 + argIndex*32
	if len(data) < offset+32 {
		return 0, errors.New("calldata: argument out of range")
	}
	return binary.BigEndian.Uint64(data[offset+24 : offset+32]), nil
}
