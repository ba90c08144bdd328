// Package quotas persists per-(module, epoch, address) request/amount
// counters for native/common.Apply, grounded on the Ledger Store's
// KVGet/KVPut/KVAppend shape. It backs the admin CLI's per-caller rate limit
// on register_eoa/revoke_eoa/update_limit/update_allowed_types/pause/unpause
// (spec §4.1's Owner-only operations have no on-chain throttling of their
// own; the admin surface adds one here so a compromised or buggy caller
// cannot hammer the authorizer).
package quotas

import (
	"fmt"

	nativecommon "subledger/native/common"
)

type counterRecord struct {
	ReqCount   uint32
	AmountUsed uint64
}

// StoreState is the narrow persistence surface this package needs, matching
// the KVGet/KVPut/KVAppend/KVGetList/KVDelete shape shared by every native
// module in this repository.
type StoreState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	KVDelete(key []byte) error
}

// Store implements nativecommon.Store against a flat KV surface.
type Store struct {
	state StoreState
}

// NewStore constructs a Store backed by the provided persistence surface.
func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("quota store not initialised")
	}
	return s.state, nil
}

// Load returns the persisted counters for (module, epoch, addr).
func (s *Store) Load(module string, epoch uint64, addr []byte) (nativecommon.QuotaNow, bool, error) {
	state, err := s.withState()
	if err != nil {
		return nativecommon.QuotaNow{}, false, err
	}
	if len(addr) == 0 {
		return nativecommon.QuotaNow{}, false, fmt.Errorf("quota: address required")
	}
	key := counterKey(module, epoch, addr)
	var stored counterRecord
	ok, err := state.KVGet(key, &stored)
	if err != nil {
		return nativecommon.QuotaNow{}, false, fmt.Errorf("quota: load counters: %w", err)
	}
	if !ok {
		return nativecommon.QuotaNow{EpochID: epoch}, false, nil
	}
	now := nativecommon.QuotaNow{EpochID: epoch, ReqCount: stored.ReqCount, AmountUsed: stored.AmountUsed}
	return now, true, nil
}

// Save persists counters for (module, epoch, addr) and records addr in the
// epoch's enumeration index so PruneEpoch can find it later.
func (s *Store) Save(module string, epoch uint64, addr []byte, counters nativecommon.QuotaNow) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	if len(addr) == 0 {
		return fmt.Errorf("quota: address required")
	}
	record := counterRecord{ReqCount: counters.ReqCount, AmountUsed: counters.AmountUsed}
	if err := state.KVPut(counterKey(module, epoch, addr), record); err != nil {
		return fmt.Errorf("quota: persist counters: %w", err)
	}
	if err := state.KVAppend(epochIndexKey(module, epoch), append([]byte(nil), addr...)); err != nil {
		return fmt.Errorf("quota: update epoch index: %w", err)
	}
	return nil
}

// PruneEpoch deletes every counter recorded for (module, epoch).
func (s *Store) PruneEpoch(module string, epoch uint64) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	indexKey := epochIndexKey(module, epoch)
	var addrs [][]byte
	if err := state.KVGetList(indexKey, &addrs); err != nil {
		return fmt.Errorf("quota: load epoch index: %w", err)
	}
	for _, addr := range addrs {
		if err := state.KVDelete(counterKey(module, epoch, addr)); err != nil {
			return fmt.Errorf("quota: prune counter: %w", err)
		}
	}
	if err := state.KVDelete(indexKey); err != nil {
		return fmt.Errorf("quota: prune index: %w", err)
	}
	return nil
}
