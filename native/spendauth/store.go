package spendauth

import (
	"fmt"
	"math/big"

	"subledger/crypto"
)

// StoreState is the narrow persistence surface the authorizer needs, matching
// the KVGet/KVPut/KVAppend/KVGetList/KVDelete shape shared by every native
// module in this repository.
type StoreState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	KVDelete(key []byte) error
	KVDeleteList(key []byte) error
}

// storedSubAccount is the RLP-friendly wire shape for SubAccount.
type storedSubAccount struct {
	Avatar       []byte
	EOA          []byte
	DailyLimit   string
	AllowedTypes uint8
	Registered   bool
}

// storedSpendWindow is the wire shape for an EOA's rolling spend list. Entries
// below StartIndex are logically pruned but stay on disk; the slice is never
// compacted, matching the "never physically remove, only advance a logical
// start index" discipline spec §4.1/§6 requires for backward-scan safety.
type storedSpendWindow struct {
	Amounts    []string
	Timestamps []int64
	StartIndex int
}

// Store persists SubAccount registrations and their rolling spend windows.
type Store struct {
	state StoreState
	nonce StoreState
}

// NewStore constructs a Store backed by the provided persistence surface.
func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("spendauth: store not initialised")
	}
	return s.state, nil
}

// GetSubAccount loads the registration for eoa, if any.
func (s *Store) GetSubAccount(eoa crypto.Address) (SubAccount, bool, error) {
	state, err := s.withState()
	if err != nil {
		return SubAccount{}, false, err
	}
	var stored storedSubAccount
	ok, err := state.KVGet(subAccountKey(eoa), &stored)
	if err != nil || !ok {
		return SubAccount{}, false, err
	}
	return fromStoredSubAccount(stored), true, nil
}

// PutSubAccount persists sub and appends it to the avatar's enumeration index
// when newly registered.
func (s *Store) PutSubAccount(sub SubAccount) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	eoa := crypto.MustNewAddress(crypto.SubAccountPrefix, sub.EOA[:])
	if err := state.KVPut(subAccountKey(eoa), toStoredSubAccount(sub)); err != nil {
		return fmt.Errorf("spendauth: persist sub-account: %w", err)
	}
	avatar := crypto.MustNewAddress(crypto.AvatarPrefix, sub.Avatar[:])
	if err := state.KVAppend(avatarIndexKey(avatar), eoa.Bytes()); err != nil {
		return err
	}
	return state.KVAppend(allEOAsIndexKey(), eoa.Bytes())
}

// RemoveSubAccount clears the registration and removes eoa from the
// avatar's enumeration index, matching revoke_eoa's swap-and-pop removal
// (spec §4.1). The rolling spend window is left in place: an EOA may be
// re-registered after revocation, and its prior spend history must still
// be there for AuthorizeSpend's backward-scan pruning to run against
// rather than starting from a clean slate.
func (s *Store) RemoveSubAccount(sub SubAccount) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	eoa := crypto.MustNewAddress(crypto.SubAccountPrefix, sub.EOA[:])
	if err := state.KVDelete(subAccountKey(eoa)); err != nil {
		return fmt.Errorf("spendauth: delete sub-account: %w", err)
	}
	avatar := crypto.MustNewAddress(crypto.AvatarPrefix, sub.Avatar[:])
	var keys [][]byte
	if err := state.KVGetList(avatarIndexKey(avatar), &keys); err != nil {
		return fmt.Errorf("spendauth: load avatar index: %w", err)
	}
	filtered := keys
	for i, k := range keys {
		if string(k) == string(eoa.Bytes()) {
			last := len(keys) - 1
			keys[i] = keys[last]
			filtered = keys[:last]
			break
		}
	}
	if err := state.KVDeleteList(avatarIndexKey(avatar)); err != nil {
		return fmt.Errorf("spendauth: clear avatar index: %w", err)
	}
	for _, k := range filtered {
		if err := state.KVAppend(avatarIndexKey(avatar), k); err != nil {
			return fmt.Errorf("spendauth: rebuild avatar index: %w", err)
		}
	}
	return nil
}

// ListEOAs returns every EOA registered under avatar, in registration order
// except where a revocation has moved the last entry into the revoked slot.
func (s *Store) ListEOAs(avatar crypto.Address) ([]crypto.Address, error) {
	state, err := s.withState()
	if err != nil {
		return nil, err
	}
	var keys [][]byte
	if err := state.KVGetList(avatarIndexKey(avatar), &keys); err != nil {
		return nil, fmt.Errorf("spendauth: load avatar index: %w", err)
	}
	addrs := make([]crypto.Address, 0, len(keys))
	for _, k := range keys {
		a, err := crypto.NewAddress(crypto.SubAccountPrefix, k)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

// ListAllEOAs returns every EOA ever registered, across every avatar, in
// registration order, skipping entries since revoked. The rebuild cycle
// driving the Acquired-Balance Rebuilder and Allowance Pusher uses this to
// enumerate the sub-accounts it must process each cycle.
func (s *Store) ListAllEOAs() ([]crypto.Address, error) {
	state, err := s.withState()
	if err != nil {
		return nil, err
	}
	var keys [][]byte
	if err := state.KVGetList(allEOAsIndexKey(), &keys); err != nil {
		return nil, fmt.Errorf("spendauth: load global eoa index: %w", err)
	}
	addrs := make([]crypto.Address, 0, len(keys))
	for _, k := range keys {
		a, err := crypto.NewAddress(crypto.SubAccountPrefix, k)
		if err != nil {
			return nil, err
		}
		if _, ok, err := s.GetSubAccount(a); err != nil {
			return nil, err
		} else if !ok {
			continue
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

// spendWindow returns the full on-disk spend window for eoa, including the
// logically pruned entries below StartIndex.
func (s *Store) spendWindow(eoa crypto.Address) (storedSpendWindow, error) {
	state, err := s.withState()
	if err != nil {
		return storedSpendWindow{}, err
	}
	var window storedSpendWindow
	if _, err := state.KVGet(spendWindowKey(eoa), &window); err != nil {
		return storedSpendWindow{}, fmt.Errorf("spendauth: load spend window: %w", err)
	}
	return window, nil
}

// LiveRecords returns SpendRecords from StartIndex onward, oldest first.
func (s *Store) LiveRecords(eoa crypto.Address) ([]SpendRecord, error) {
	window, err := s.spendWindow(eoa)
	if err != nil {
		return nil, err
	}
	records := make([]SpendRecord, 0, len(window.Amounts)-window.StartIndex)
	for i := window.StartIndex; i < len(window.Amounts); i++ {
		amt, ok := new(big.Int).SetString(window.Amounts[i], 10)
		if !ok {
			return nil, fmt.Errorf("spendauth: corrupt spend record at index %d", i)
		}
		records = append(records, SpendRecord{Amount: amt, Timestamp: window.Timestamps[i]})
	}
	return records, nil
}

// AppendSpendRecord adds a new record to the rolling window.
func (s *Store) AppendSpendRecord(eoa crypto.Address, record SpendRecord) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	window, err := s.spendWindow(eoa)
	if err != nil {
		return err
	}
	window.Amounts = append(window.Amounts, record.Amount.String())
	window.Timestamps = append(window.Timestamps, record.Timestamp)
	if err := state.KVPut(spendWindowKey(eoa), window); err != nil {
		return fmt.Errorf("spendauth: persist spend window: %w", err)
	}
	return nil
}

// AdvanceStartIndex moves the logical start index forward by advanceBy
// (a count of expired leading entries in the *live* window, as returned by
// LiveRecords, not an absolute index into the full on-disk slice) to drop
// expired records without physically shrinking the underlying slice,
// matching the "logical pruning only" discipline of spec §4.1/§6.
func (s *Store) AdvanceStartIndex(eoa crypto.Address, advanceBy int) error {
	if advanceBy <= 0 {
		return nil
	}
	state, err := s.withState()
	if err != nil {
		return err
	}
	window, err := s.spendWindow(eoa)
	if err != nil {
		return err
	}
	window.StartIndex += advanceBy
	return state.KVPut(spendWindowKey(eoa), window)
}

// NextNonce returns a process-wide monotonically increasing nonce and
// persists the counter so restarts never reuse a nonce (spec §4.1 step 9).
func (s *Store) NextNonce() (*big.Int, error) {
	state, err := s.withState()
	if err != nil {
		return nil, err
	}
	var current string
	ok, err := state.KVGet(nonceCounterKey(), &current)
	if err != nil {
		return nil, fmt.Errorf("spendauth: load nonce counter: %w", err)
	}
	// Nonces start at 0 and increment only on success, so the first
	// authorize_spend ever granted is nonce 0 (spec §8 scenario S1).
	next := big.NewInt(0)
	if ok {
		parsed, valid := new(big.Int).SetString(current, 10)
		if !valid {
			return nil, fmt.Errorf("spendauth: corrupt nonce counter")
		}
		next = new(big.Int).Add(parsed, big.NewInt(1))
	}
	if err := state.KVPut(nonceCounterKey(), next.String()); err != nil {
		return nil, fmt.Errorf("spendauth: persist nonce counter: %w", err)
	}
	return next, nil
}

// Paused reports whether authorize_spend is currently disabled.
func (s *Store) Paused() (bool, error) {
	state, err := s.withState()
	if err != nil {
		return false, err
	}
	var paused bool
	_, err = state.KVGet(pauseKey(), &paused)
	return paused, err
}

// SetPaused updates the pause flag (spec §4.1: pause/unpause).
func (s *Store) SetPaused(paused bool) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	return state.KVPut(pauseKey(), paused)
}

// IsPaused implements common.PauseView. The Authorizer has a single pause
// flag, so module is ignored; a KVGet error is treated as not-paused rather
// than surfaced, matching common.Guard's own nil-safe contract.
func (s *Store) IsPaused(module string) bool {
	paused, err := s.Paused()
	if err != nil {
		return false
	}
	return paused
}

func toStoredSubAccount(sub SubAccount) storedSubAccount {
	limit := ""
	if sub.DailyLimit != nil {
		limit = sub.DailyLimit.String()
	}
	return storedSubAccount{
		Avatar:       append([]byte(nil), sub.Avatar[:]...),
		EOA:          append([]byte(nil), sub.EOA[:]...),
		DailyLimit:   limit,
		AllowedTypes: sub.AllowedTypes,
		Registered:   sub.Registered,
	}
}

func fromStoredSubAccount(stored storedSubAccount) SubAccount {
	var sub SubAccount
	copy(sub.Avatar[:], stored.Avatar)
	copy(sub.EOA[:], stored.EOA)
	sub.AllowedTypes = stored.AllowedTypes
	sub.Registered = stored.Registered
	if limit, ok := new(big.Int).SetString(stored.DailyLimit, 10); ok {
		sub.DailyLimit = limit
	} else {
		sub.DailyLimit = big.NewInt(0)
	}
	return sub
}

func subAccountKey(eoa crypto.Address) []byte {
	return []byte(fmt.Sprintf("spendauth/account/%x", eoa.Bytes()))
}

func avatarIndexKey(avatar crypto.Address) []byte {
	return []byte(fmt.Sprintf("spendauth/index/avatar/%x", avatar.Bytes()))
}

func allEOAsIndexKey() []byte {
	return []byte("spendauth/index/all-eoas")
}

func spendWindowKey(eoa crypto.Address) []byte {
	return []byte(fmt.Sprintf("spendauth/window/%x", eoa.Bytes()))
}

func nonceCounterKey() []byte {
	return []byte("spendauth/nonce")
}

func pauseKey() []byte {
	return []byte("spendauth/paused")
}
