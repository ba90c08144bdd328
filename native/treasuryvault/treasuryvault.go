// Package treasuryvault describes the Treasury Vault interface the
// authorization and accounting core's downstream execution layer relies on.
// It is an external collaborator (spec §4.5): this package defines the
// contract shape only, so callers can be typed against it, but nothing in
// this core implements or invokes these operations directly.
package treasuryvault

import "math/big"

// Role enumerates the vault's privilege tiers, with monotonic USD limits:
// operator_limit <= manager_limit <= infinity.
type Role uint8

const (
	RoleNone Role = iota
	RoleOperator
	RoleManager
	RoleDirector
)

// RoleLimits captures the USD ceilings associated with each non-Director
// role. Director has no ceiling.
type RoleLimits struct {
	OperatorLimitUSD *big.Int
	ManagerLimitUSD  *big.Int
}

// Valid reports whether operator_limit <= manager_limit, the monotonicity
// invariant the vault must uphold.
func (l RoleLimits) Valid() bool {
	if l.OperatorLimitUSD == nil || l.ManagerLimitUSD == nil {
		return false
	}
	return l.OperatorLimitUSD.Cmp(l.ManagerLimitUSD) <= 0
}

// ReserveRequirement enforces balance_after_transfer >= reserve for a token.
type ReserveRequirement struct {
	Token     [20]byte
	MinimumWei *big.Int
}

// Satisfied reports whether a transfer leaving balanceAfter respects the
// reserve requirement.
func (r ReserveRequirement) Satisfied(balanceAfter *big.Int) bool {
	if r.MinimumWei == nil {
		return true
	}
	return balanceAfter.Cmp(r.MinimumWei) >= 0
}

// OperationState is the time-delay queue's operation lifecycle:
// Unset -> Pending -> (Ready once delay elapsed) -> Executed | Cancelled.
type OperationState uint8

const (
	OperationUnset OperationState = iota
	OperationPending
	OperationReady
	OperationExecuted
	OperationCancelled
)

// ScheduledOperation is one entry in the time-delay queue.
type ScheduledOperation struct {
	OperationID [32]byte
	To          [20]byte
	Value       *big.Int
	Data        []byte
	USDAmount   *big.Int
	Salt        [32]byte
	ScheduledAt int64
	MinDelay    int64
	State       OperationState
}

// ReadyAt reports whether the operation has cleared its minimum delay as of
// now, transitioning Pending -> Ready.
func (op ScheduledOperation) ReadyAt(now int64) bool {
	return op.State == OperationPending && now >= op.ScheduledAt+op.MinDelay
}

// Vault is the operation surface the core's downstream execution layer
// consumes. It is declared here only to give calling code a stable type to
// depend on; the vault itself lives outside this repository.
type Vault interface {
	AssignRole(target [20]byte, role Role) error
	WhitelistTarget(target [20]byte, allowed bool) error
	SetReserveRequirement(token [20]byte, requirement ReserveRequirement) error

	Schedule(to [20]byte, value *big.Int, data []byte, usdAmount *big.Int, salt [32]byte) (operationID [32]byte, err error)
	Execute(operationID [32]byte) error
	Cancel(operationID [32]byte) error
}
