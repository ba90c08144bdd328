package spendauth

import (
	"bytes"
	"math/big"
	"time"

	"subledger/crypto"
	nativecommon "subledger/native/common"
)

// pauseModule names this module's pause flag for common.Guard/PauseView.
const pauseModule = "spend_authorizer"

// Authorizer is the Spend Authorizer described in spec §3/§4.1: it owns
// registration, per-EOA spend policy, and the rolling daily limit check that
// gates authorize_spend. It never moves funds.
type Authorizer struct {
	store          *Store
	clock          func() time.Time
	windowDuration int64
	maxRecords     int
}

// NewAuthorizer constructs an Authorizer backed by store, using the wall
// clock and the spec's default window_duration_seconds/max_records_per_eoa.
// Tests substitute SetClock for a deterministic time source; operators
// substitute SetWindow/SetMaxRecords from loaded configuration.
func NewAuthorizer(store *Store) *Authorizer {
	return &Authorizer{store: store, clock: time.Now, windowDuration: WindowDuration, maxRecords: MaxRecordsPerEOA}
}

// SetWindow overrides the rolling window duration (spec §6:
// window_duration_seconds).
func (a *Authorizer) SetWindow(seconds int64) {
	if a == nil || seconds <= 0 {
		return
	}
	a.windowDuration = seconds
}

// SetMaxRecords overrides the per-EOA live record cap (spec §6:
// max_records_per_eoa).
func (a *Authorizer) SetMaxRecords(max int) {
	if a == nil || max <= 0 {
		return
	}
	a.maxRecords = max
}

// SetClock overrides the time source, grounded on the risk engine's injectable
// clock pattern used elsewhere in this codebase for deterministic tests.
func (a *Authorizer) SetClock(clock func() time.Time) {
	if a == nil || clock == nil {
		return
	}
	a.clock = clock
}

func (a *Authorizer) now() int64 {
	return a.clock().UTC().Unix()
}

// RegisterEOA implements register_eoa (spec §4.1, Owner only).
func (a *Authorizer) RegisterEOA(avatar, eoa crypto.Address, dailyLimit *big.Int, transferTypes []uint8) error {
	if len(eoa.Bytes()) == 0 || isZeroBytes(eoa.Bytes()) {
		return ErrInvalidAddress
	}
	if bytes.Equal(eoa.Bytes(), avatar.Bytes()) {
		return ErrCannotRegisterCoreAddress
	}
	existing, ok, err := a.store.GetSubAccount(eoa)
	if err != nil {
		return err
	}
	if ok && existing.Registered {
		return ErrEOAAlreadyRegistered
	}
	if dailyLimit == nil || dailyLimit.Sign() <= 0 {
		return ErrInvalidDailyLimit
	}
	if !fitsUint256(dailyLimit) {
		return ErrAmountExceedsUint256
	}
	for _, t := range transferTypes {
		if t > MaxTransferType {
			return ErrInvalidTransferType
		}
	}
	var avatarBytes, eoaBytes [20]byte
	copy(avatarBytes[:], avatar.Bytes())
	copy(eoaBytes[:], eoa.Bytes())
	sub := SubAccount{
		Avatar:       avatarBytes,
		EOA:          eoaBytes,
		DailyLimit:   new(big.Int).Set(dailyLimit),
		AllowedTypes: BuildBitmap(transferTypes),
		Registered:   true,
	}
	return a.store.PutSubAccount(sub)
}

// RevokeEOA implements revoke_eoa (spec §4.1, Owner only).
func (a *Authorizer) RevokeEOA(eoa crypto.Address) error {
	sub, ok, err := a.store.GetSubAccount(eoa)
	if err != nil {
		return err
	}
	if !ok || !sub.Registered {
		return ErrEOANotRegistered
	}
	return a.store.RemoveSubAccount(sub)
}

// UpdateLimit implements update_limit (spec §4.1, Owner only, live EOA only).
func (a *Authorizer) UpdateLimit(eoa crypto.Address, newLimit *big.Int) error {
	sub, ok, err := a.store.GetSubAccount(eoa)
	if err != nil {
		return err
	}
	if !ok || !sub.Registered {
		return ErrEOANotRegistered
	}
	if newLimit == nil || newLimit.Sign() <= 0 {
		return ErrInvalidDailyLimit
	}
	if !fitsUint256(newLimit) {
		return ErrAmountExceedsUint256
	}
	sub.DailyLimit = new(big.Int).Set(newLimit)
	return a.store.PutSubAccount(sub)
}

// UpdateAllowedTypes implements update_allowed_types (spec §4.1, Owner only,
// live EOA only).
func (a *Authorizer) UpdateAllowedTypes(eoa crypto.Address, transferTypes []uint8) error {
	sub, ok, err := a.store.GetSubAccount(eoa)
	if err != nil {
		return err
	}
	if !ok || !sub.Registered {
		return ErrEOANotRegistered
	}
	for _, t := range transferTypes {
		if t > MaxTransferType {
			return ErrInvalidTransferType
		}
	}
	sub.AllowedTypes = BuildBitmap(transferTypes)
	return a.store.PutSubAccount(sub)
}

// Pause implements pause (spec §4.1 Emergency, Owner only).
func (a *Authorizer) Pause() error {
	return a.store.SetPaused(true)
}

// Unpause implements unpause (spec §4.1 Emergency, Owner only).
func (a *Authorizer) Unpause() error {
	return a.store.SetPaused(false)
}

// AuthorizeSpend implements authorize_spend's nine-step algorithm (spec
// §4.1). Caller identity is the EOA itself.
func (a *Authorizer) AuthorizeSpend(eoa crypto.Address, amount *big.Int, recipientHash [32]byte, transferType uint8) (*AuthorizationRecord, error) {
	if err := nativecommon.Guard(a.store, pauseModule); err != nil {
		if err == nativecommon.ErrModulePaused {
			return nil, ErrPaused
		}
		return nil, err
	}
	// Step 1: ZeroAmount.
	if amount == nil || amount.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	if !fitsUint256(amount) {
		return nil, ErrAmountExceedsUint256
	}
	// Step 2: EOANotRegistered.
	sub, ok, err := a.store.GetSubAccount(eoa)
	if err != nil {
		return nil, err
	}
	if !ok || !sub.Registered {
		return nil, ErrEOANotRegistered
	}
	// Step 3: TransferTypeNotAllowed.
	if !sub.AllowsType(transferType) {
		return nil, &TransferTypeNotAllowedError{TransferType: transferType}
	}

	now := a.now()
	windowStart := now - a.windowDuration

	// Step 4: rolling_spend by backward scan with early stop.
	records, err := a.store.LiveRecords(eoa)
	if err != nil {
		return nil, err
	}
	current := big.NewInt(0)
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Timestamp < windowStart {
			break
		}
		current = new(big.Int).Add(current, records[i].Amount)
	}

	// Step 5: remaining = max(daily_limit - current, 0); DailyLimitExceeded.
	remaining := new(big.Int).Sub(sub.DailyLimit, current)
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	if amount.Cmp(remaining) > 0 {
		return nil, &DailyLimitExceededError{Requested: new(big.Int).Set(amount), Remaining: remaining}
	}

	// Step 6: prune expired records by advancing the logical start index.
	newStart := 0
	for newStart < len(records) && records[newStart].Timestamp < windowStart {
		newStart++
	}
	if newStart > 0 {
		if err := a.store.AdvanceStartIndex(eoa, newStart); err != nil {
			return nil, err
		}
		records = records[newStart:]
	}

	// Step 7: TooManySpendRecords when the live count is already at the cap.
	if len(records) >= a.maxRecords {
		return nil, ErrTooManySpendRecords
	}

	// Append the new record and emit the nonce (step 9), only on success so
	// nonces never gap on failed attempts.
	if err := a.store.AppendSpendRecord(eoa, SpendRecord{Amount: new(big.Int).Set(amount), Timestamp: now}); err != nil {
		return nil, err
	}
	nonce, err := a.store.NextNonce()
	if err != nil {
		return nil, err
	}

	return &AuthorizationRecord{
		Avatar:        sub.Avatar,
		EOA:           sub.EOA,
		Amount:        new(big.Int).Set(amount),
		RecipientHash: recipientHash,
		TransferType:  transferType,
		Nonce:         nonce,
	}, nil
}

// GetRollingSpend implements get_rolling_spend: the current in-window sum.
func (a *Authorizer) GetRollingSpend(eoa crypto.Address) (*big.Int, error) {
	records, err := a.store.LiveRecords(eoa)
	if err != nil {
		return nil, err
	}
	windowStart := a.now() - a.windowDuration
	sum := big.NewInt(0)
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Timestamp < windowStart {
			break
		}
		sum = new(big.Int).Add(sum, records[i].Amount)
	}
	return sum, nil
}

// GetRemainingLimit implements get_remaining_limit.
func (a *Authorizer) GetRemainingLimit(eoa crypto.Address) (*big.Int, error) {
	sub, ok, err := a.store.GetSubAccount(eoa)
	if err != nil {
		return nil, err
	}
	if !ok || !sub.Registered {
		return nil, ErrEOANotRegistered
	}
	spent, err := a.GetRollingSpend(eoa)
	if err != nil {
		return nil, err
	}
	remaining := new(big.Int).Sub(sub.DailyLimit, spent)
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	return remaining, nil
}

func isZeroBytes(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// GetDailyLimit implements get_daily_limit.
func (a *Authorizer) GetDailyLimit(eoa crypto.Address) (*big.Int, error) {
	sub, ok, err := a.store.GetSubAccount(eoa)
	if err != nil {
		return nil, err
	}
	if !ok || !sub.Registered {
		return nil, ErrEOANotRegistered
	}
	return new(big.Int).Set(sub.DailyLimit), nil
}
