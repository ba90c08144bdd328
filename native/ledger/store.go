package ledger

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"subledger/crypto"
)

// ErrFingerprintMismatch is returned when an event re-ingested under an
// already-stored (tx_hash, log_index) key encodes different content than
// what was first stored there — the indexer replayed the same log position
// with a different payload, which should never happen on a canonical chain.
var ErrFingerprintMismatch = fmt.Errorf("ledger: re-ingested event content does not match stored fingerprint")

// StoreState is the narrow persistence surface the ledger needs, matching the
// shape every other native module in this repository uses
// (KVGet/KVPut/KVAppend/KVGetList/KVDelete).
type StoreState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	KVDelete(key []byte) error
}

// storedEvent is the RLP-friendly wire shape for Event. big.Int and
// crypto.Address do not round-trip through RLP directly in the shapes used
// above, so the store persists flat byte/string fields instead.
type storedEvent struct {
	TxHash      []byte
	LogIndex    uint32
	BlockNumber uint64
	Kind        uint8
	SubAccount  []byte
	Timestamp   int64

	OpType       uint8
	Target       []byte
	TokensIn     [][]byte
	AmountsIn    []string
	TokensOut    [][]byte
	AmountsOut   []string
	SpendingCost string

	Token     []byte
	Recipient []byte
	Amount    string

	Fingerprint []byte
}

// Store is the append-only, idempotent Ledger Store described in spec §4.7.
type Store struct {
	state StoreState
}

// NewStore constructs a Store backed by the provided persistence surface.
func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("ledger: store not initialised")
	}
	return s.state, nil
}

// Put idempotently upserts an event keyed by (tx_hash, log_index). Re-ingesting
// an event already stored under the same key is a no-op (spec §7, §8 property 6).
func (s *Store) Put(evt Event) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	key := eventKey(evt.Ref)
	stored := toStored(evt)
	fp, err := fingerprint(stored)
	if err != nil {
		return fmt.Errorf("ledger: fingerprint event: %w", err)
	}
	stored.Fingerprint = fp

	var existing storedEvent
	ok, err := state.KVGet(key, &existing)
	if err != nil {
		return fmt.Errorf("ledger: load event: %w", err)
	}
	if ok {
		if !bytes.Equal(existing.Fingerprint, fp) {
			return ErrFingerprintMismatch
		}
		return nil
	}
	if err := state.KVPut(key, stored); err != nil {
		return fmt.Errorf("ledger: persist event: %w", err)
	}
	if err := state.KVAppend(subIndexKey(evt.SubAccount), key); err != nil {
		return fmt.Errorf("ledger: update sub-account index: %w", err)
	}
	if err := state.KVAppend(blockIndexKey(evt.Ref.BlockNumber), key); err != nil {
		return fmt.Errorf("ledger: update block index: %w", err)
	}
	return nil
}

// Get returns the event stored under ref, if any.
func (s *Store) Get(ref Ref) (Event, bool, error) {
	state, err := s.withState()
	if err != nil {
		return Event{}, false, err
	}
	var stored storedEvent
	ok, err := state.KVGet(eventKey(ref), &stored)
	if err != nil || !ok {
		return Event{}, false, err
	}
	evt, err := fromStored(stored)
	return evt, true, err
}

// ForSubAccount returns every event recorded for the sub-account, sorted
// chronologically per spec §4.2's (timestamp, block_number, log_index) order.
func (s *Store) ForSubAccount(sub crypto.Address) ([]Event, error) {
	state, err := s.withState()
	if err != nil {
		return nil, err
	}
	var keys [][]byte
	if err := state.KVGetList(subIndexKey(sub), &keys); err != nil {
		return nil, fmt.Errorf("ledger: load sub-account index: %w", err)
	}
	events := make([]Event, 0, len(keys))
	for _, key := range keys {
		var stored storedEvent
		ok, err := state.KVGet(key, &stored)
		if err != nil {
			return nil, fmt.Errorf("ledger: load indexed event: %w", err)
		}
		if !ok {
			// A reorg rewind removed this event; the index entry is stale
			// and simply skipped rather than treated as corruption.
			continue
		}
		evt, err := fromStored(stored)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.Ref.BlockNumber != b.Ref.BlockNumber {
			return a.Ref.BlockNumber < b.Ref.BlockNumber
		}
		return a.Ref.LogIndex < b.Ref.LogIndex
	})
	return events, nil
}

// RewindFrom deletes every stored event at or above the supplied block
// height, satisfying spec §4.4/§8 property 7: after a detected reorg, no
// state may reflect events from the rewound range until re-ingested from the
// canonical chain. The block index itself is also pruned.
func (s *Store) RewindFrom(height uint64, tip uint64) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	for h := height; h <= tip; h++ {
		idxKey := blockIndexKey(h)
		var keys [][]byte
		if err := state.KVGetList(idxKey, &keys); err != nil {
			return fmt.Errorf("ledger: load block index %d: %w", h, err)
		}
		for _, key := range keys {
			if err := state.KVDelete(key); err != nil {
				return fmt.Errorf("ledger: delete rewound event: %w", err)
			}
		}
		if err := state.KVDelete(idxKey); err != nil {
			return fmt.Errorf("ledger: delete block index %d: %w", h, err)
		}
	}
	return nil
}

func toStored(evt Event) storedEvent {
	stored := storedEvent{
		TxHash:      append([]byte(nil), evt.Ref.TxHash[:]...),
		LogIndex:    evt.Ref.LogIndex,
		BlockNumber: evt.Ref.BlockNumber,
		Kind:        uint8(evt.Kind),
		SubAccount:  evt.SubAccount.Bytes(),
		Timestamp:   evt.Timestamp,
		OpType:      uint8(evt.OpType),
		Target:      addrBytesOrNil(evt.Target),
		Token:       addrBytesOrNil(evt.Token),
		Recipient:   addrBytesOrNil(evt.Recipient),
	}
	for _, a := range evt.TokensIn {
		stored.TokensIn = append(stored.TokensIn, a.Bytes())
	}
	for _, a := range evt.TokensOut {
		stored.TokensOut = append(stored.TokensOut, a.Bytes())
	}
	for _, v := range evt.AmountsIn {
		stored.AmountsIn = append(stored.AmountsIn, bigString(v))
	}
	for _, v := range evt.AmountsOut {
		stored.AmountsOut = append(stored.AmountsOut, bigString(v))
	}
	stored.SpendingCost = bigString(evt.SpendingCost)
	stored.Amount = bigString(evt.Amount)
	return stored
}

func fromStored(stored storedEvent) (Event, error) {
	var txHash [32]byte
	copy(txHash[:], stored.TxHash)
	evt := Event{
		Ref: Ref{
			TxHash:      txHash,
			LogIndex:    stored.LogIndex,
			BlockNumber: stored.BlockNumber,
		},
		Kind:      EventKind(stored.Kind),
		Timestamp: stored.Timestamp,
		OpType:    OpType(stored.OpType),
	}
	var err error
	if evt.SubAccount, err = decodeAddr(crypto.SubAccountPrefix, stored.SubAccount); err != nil {
		return Event{}, err
	}
	if evt.Target, err = decodeAddr(crypto.SubAccountPrefix, stored.Target); err != nil {
		return Event{}, err
	}
	if evt.Token, err = decodeAddr(crypto.SubAccountPrefix, stored.Token); err != nil {
		return Event{}, err
	}
	if evt.Recipient, err = decodeAddr(crypto.SubAccountPrefix, stored.Recipient); err != nil {
		return Event{}, err
	}
	for _, b := range stored.TokensIn {
		addr, err := decodeAddr(crypto.SubAccountPrefix, b)
		if err != nil {
			return Event{}, err
		}
		evt.TokensIn = append(evt.TokensIn, addr)
	}
	for _, b := range stored.TokensOut {
		addr, err := decodeAddr(crypto.SubAccountPrefix, b)
		if err != nil {
			return Event{}, err
		}
		evt.TokensOut = append(evt.TokensOut, addr)
	}
	for _, s := range stored.AmountsIn {
		evt.AmountsIn = append(evt.AmountsIn, parseBig(s))
	}
	for _, s := range stored.AmountsOut {
		evt.AmountsOut = append(evt.AmountsOut, parseBig(s))
	}
	evt.SpendingCost = parseBig(stored.SpendingCost)
	evt.Amount = parseBig(stored.Amount)
	return evt, nil
}

func addrBytesOrNil(a crypto.Address) []byte {
	if a.Bytes() == nil {
		return nil
	}
	return a.Bytes()
}

func decodeAddr(prefix crypto.AddressPrefix, b []byte) (crypto.Address, error) {
	if len(b) == 0 {
		return crypto.Address{}, nil
	}
	return crypto.NewAddress(prefix, b)
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func parseBig(s string) *big.Int {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return v
}

// fingerprint hashes stored's content (excluding the Fingerprint field
// itself) with blake3, giving Put a cheap way to detect an impossible
// re-ingestion of the same (tx_hash, log_index) key with different content.
func fingerprint(stored storedEvent) ([]byte, error) {
	stored.Fingerprint = nil
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return nil, err
	}
	sum := blake3.Sum256(encoded)
	return sum[:], nil
}

func eventKey(ref Ref) []byte {
	return []byte(fmt.Sprintf("ledger/event/%x/%d", ref.TxHash, ref.LogIndex))
}

func subIndexKey(sub crypto.Address) []byte {
	return []byte(fmt.Sprintf("ledger/index/sub/%x", sub.Bytes()))
}

func blockIndexKey(block uint64) []byte {
	return []byte(fmt.Sprintf("ledger/index/block/%d", block))
}
