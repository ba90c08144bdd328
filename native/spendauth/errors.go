package spendauth

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrZeroAmount is returned when authorize_spend is called with amount == 0.
	ErrZeroAmount = errors.New("spendauth: amount must be positive")
	// ErrInvalidAddress is returned for a null or self-referential EOA.
	ErrInvalidAddress = errors.New("spendauth: invalid eoa address")
	// ErrCannotRegisterCoreAddress is returned when the EOA equals the avatar.
	ErrCannotRegisterCoreAddress = errors.New("spendauth: eoa must not equal avatar")
	// ErrEOAAlreadyRegistered is returned by register_eoa on a live EOA.
	ErrEOAAlreadyRegistered = errors.New("spendauth: eoa already registered")
	// ErrInvalidDailyLimit is returned when daily_limit is zero.
	ErrInvalidDailyLimit = errors.New("spendauth: daily limit must be positive")
	// ErrInvalidTransferType is returned when a transfer type exceeds 7.
	ErrInvalidTransferType = errors.New("spendauth: transfer type out of range")
	// ErrEOANotRegistered is returned when the caller is not a live EOA.
	ErrEOANotRegistered = errors.New("spendauth: eoa not registered")
	// ErrTransferTypeNotAllowed is returned when the bitmap forbids the type.
	ErrTransferTypeNotAllowed = errors.New("spendauth: transfer type not allowed")
	// ErrTooManySpendRecords is returned when the live record count is
	// already MaxRecordsPerEOA or more.
	ErrTooManySpendRecords = errors.New("spendauth: too many spend records")
	// ErrPaused is returned by authorize_spend while the module is paused.
	ErrPaused = errors.New("spendauth: module paused")
	// ErrNotOwner is returned when a caller invokes an Owner-only operation
	// without the owner role.
	ErrNotOwner = errors.New("spendauth: caller is not owner")
)

// DailyLimitExceededError carries the requested and remaining amounts so
// callers can render a precise rejection (spec §7).
type DailyLimitExceededError struct {
	Requested *big.Int
	Remaining *big.Int
}

func (e *DailyLimitExceededError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("spendauth: daily limit exceeded: requested %s, remaining %s", e.Requested, e.Remaining)
}

// TransferTypeNotAllowedError carries the rejected type for structured
// logging/alerting, while still satisfying errors.Is(err, ErrTransferTypeNotAllowed).
type TransferTypeNotAllowedError struct {
	TransferType uint8
}

func (e *TransferTypeNotAllowedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("spendauth: transfer type %d not allowed", e.TransferType)
}

func (e *TransferTypeNotAllowedError) Unwrap() error { return ErrTransferTypeNotAllowed }
