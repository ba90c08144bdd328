package events

import (
	"math/big"
	"strconv"

	"subledger/core/types"
	"subledger/crypto"
)

// The event types below describe authorize_spend outcomes; the Authorizer
// returns its AuthorizationRecord and does not construct or publish them.
const (
	// TypeSpendAuthorized describes a successful authorize_spend.
	TypeSpendAuthorized = "spendauth.authorized"
	// TypeSpendRejectedLimit indicates a spend was rejected for exceeding the
	// daily limit.
	TypeSpendRejectedLimit = "spendauth.rejected.daily_limit"
	// TypeSpendRejectedType indicates a spend was rejected for an
	// unauthorized transfer type.
	TypeSpendRejectedType = "spendauth.rejected.transfer_type"
)

// SpendAuthorized mirrors a successful authorize_spend call's
// AuthorizationRecord (spec §3/§4.1 step 9).
type SpendAuthorized struct {
	Avatar        [20]byte
	EOA           [20]byte
	Amount        *big.Int
	RecipientHash [32]byte
	TransferType  uint8
	Nonce         *big.Int
}

func (SpendAuthorized) EventType() string { return TypeSpendAuthorized }

// Event renders the event payload for downstream consumers.
func (e SpendAuthorized) Event() *types.Event {
	amount := big.NewInt(0)
	if e.Amount != nil {
		amount = new(big.Int).Set(e.Amount)
	}
	nonce := big.NewInt(0)
	if e.Nonce != nil {
		nonce = new(big.Int).Set(e.Nonce)
	}
	return &types.Event{
		Type: TypeSpendAuthorized,
		Attributes: map[string]string{
			"avatar":        crypto.MustNewAddress(crypto.AvatarPrefix, e.Avatar[:]).String(),
			"eoa":           crypto.MustNewAddress(crypto.SubAccountPrefix, e.EOA[:]).String(),
			"amount":        amount.String(),
			"recipientHash": hexEncode(e.RecipientHash[:]),
			"transferType":  strconv.Itoa(int(e.TransferType)),
			"nonce":         nonce.String(),
		},
	}
}

// SpendRejectedLimit captures a DailyLimitExceeded rejection for alerting.
type SpendRejectedLimit struct {
	EOA       [20]byte
	Requested *big.Int
	Remaining *big.Int
}

func (SpendRejectedLimit) EventType() string { return TypeSpendRejectedLimit }

func (e SpendRejectedLimit) Event() *types.Event {
	requested, remaining := big.NewInt(0), big.NewInt(0)
	if e.Requested != nil {
		requested = new(big.Int).Set(e.Requested)
	}
	if e.Remaining != nil {
		remaining = new(big.Int).Set(e.Remaining)
	}
	return &types.Event{
		Type: TypeSpendRejectedLimit,
		Attributes: map[string]string{
			"eoa":       crypto.MustNewAddress(crypto.SubAccountPrefix, e.EOA[:]).String(),
			"requested": requested.String(),
			"remaining": remaining.String(),
		},
	}
}

// SpendRejectedType captures a TransferTypeNotAllowed rejection for alerting.
type SpendRejectedType struct {
	EOA          [20]byte
	TransferType uint8
}

func (SpendRejectedType) EventType() string { return TypeSpendRejectedType }

func (e SpendRejectedType) Event() *types.Event {
	return &types.Event{
		Type: TypeSpendRejectedType,
		Attributes: map[string]string{
			"eoa":          crypto.MustNewAddress(crypto.SubAccountPrefix, e.EOA[:]).String(),
			"transferType": strconv.Itoa(int(e.TransferType)),
		},
	}
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0f]
	}
	return string(out)
}
