package allowance

import (
	"fmt"
	"math/big"

	"subledger/crypto"
)

// StoreState is the narrow persistence surface this package needs, matching
// the KVGet/KVPut shape shared by every native module in this repository.
type StoreState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// storedPushState is the RLP-friendly wire shape for PushState.
type storedPushState struct {
	Allowance           string
	Tokens              [][]byte
	Balances            []string
	LastUpdateTimestamp int64
	HasUpdate           bool
}

// PushState is the last batch_update this process submitted without error
// for a sub-account (no transaction receipt is awaited). The Pusher has no read path back to the
// enforcement substrate's own allowance storage, so this is the source of
// truth ShouldUpdate compares against for on_chain_allowance and
// balances_changed (spec §4.3).
type PushState struct {
	Allowance           *big.Int
	Tokens              []crypto.Address
	Balances            []*big.Int
	LastUpdateTimestamp int64
}

// Store persists each sub-account's PushState and implements
// allowance.ConfirmationTracker against it.
type Store struct {
	state StoreState
}

// NewStore constructs a Store backed by the provided persistence surface.
func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("allowance: store not initialised")
	}
	return s.state, nil
}

// GetPushState loads the last confirmed push for sub, if any.
func (s *Store) GetPushState(sub crypto.Address) (PushState, bool, error) {
	state, err := s.withState()
	if err != nil {
		return PushState{}, false, err
	}
	var stored storedPushState
	ok, err := state.KVGet(pushStateKey(sub), &stored)
	if err != nil || !ok {
		return PushState{}, false, err
	}
	out := PushState{
		Allowance:           parseBigOrZero(stored.Allowance),
		LastUpdateTimestamp: stored.LastUpdateTimestamp,
	}
	for _, b := range stored.Tokens {
		addr, err := crypto.NewAddress(crypto.SubAccountPrefix, b)
		if err != nil {
			return PushState{}, false, err
		}
		out.Tokens = append(out.Tokens, addr)
	}
	for _, b := range stored.Balances {
		out.Balances = append(out.Balances, parseBigOrZero(b))
	}
	return out, true, nil
}

// PutPushState persists the result of a successful batch_update submission.
func (s *Store) PutPushState(sub crypto.Address, push PushState) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	stored := storedPushState{
		Allowance:           bigStringOrEmpty(push.Allowance),
		LastUpdateTimestamp: push.LastUpdateTimestamp,
		HasUpdate:           true,
	}
	for _, a := range push.Tokens {
		stored.Tokens = append(stored.Tokens, a.Bytes())
	}
	for _, b := range push.Balances {
		stored.Balances = append(stored.Balances, bigStringOrEmpty(b))
	}
	return state.KVPut(pushStateKey(sub), stored)
}

// LastUpdateTimestamp implements allowance.ConfirmationTracker.
func (s *Store) LastUpdateTimestamp(sub crypto.Address) (int64, bool, error) {
	push, ok, err := s.GetPushState(sub)
	if err != nil || !ok {
		return 0, ok, err
	}
	return push.LastUpdateTimestamp, true, nil
}

// RecordConfirmed implements allowance.ConfirmationTracker: it stamps the
// confirmation time without disturbing the allowance/balance snapshot, which
// Push's caller updates separately via PutPushState once it knows the new
// values being pushed.
func (s *Store) RecordConfirmed(sub crypto.Address, at int64) error {
	push, _, err := s.GetPushState(sub)
	if err != nil {
		return err
	}
	push.LastUpdateTimestamp = at
	return s.PutPushState(sub, push)
}

func pushStateKey(sub crypto.Address) []byte {
	return []byte(fmt.Sprintf("allowance/push/%x", sub.Bytes()))
}

func bigStringOrEmpty(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func parseBigOrZero(s string) *big.Int {
	if s == "" {
		return big.NewInt(0)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}
