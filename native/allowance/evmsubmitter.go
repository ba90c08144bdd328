package allowance

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxSender is the subset of ethclient.Client the EVM submitter drives,
// grounded on services/oracle-attesterd/evm_confirm.go's narrow EVMClient
// pattern.
type TxSender interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	ChainID(ctx context.Context) (*big.Int, error)
}

const batchUpdateABI = `[{"name":"batch_update","type":"function","inputs":[
{"name":"subAccount","type":"address"},
{"name":"newAllowance","type":"uint256"},
{"name":"tokens","type":"address[]"},
{"name":"balances","type":"uint256[]"}]}]`

// EVMSubmitter implements Submitter against the enforcement substrate's
// batch_update entrypoint over go-ethereum's ethclient, grounded on
// services/oracle-attesterd/evm_confirm.go's EVMClient/ethclient pattern.
type EVMSubmitter struct {
	client    TxSender
	contract  common.Address
	signer    *ecdsa.PrivateKey
	gasLimit  uint64
	methodABI abi.ABI
}

// NewEVMSubmitter constructs an EVMSubmitter sending batch_update calls to
// contract, signed by signer.
func NewEVMSubmitter(client TxSender, contract common.Address, signer *ecdsa.PrivateKey) (*EVMSubmitter, error) {
	parsed, err := abi.JSON(strings.NewReader(batchUpdateABI))
	if err != nil {
		return nil, fmt.Errorf("allowance: parse batch_update abi: %w", err)
	}
	return &EVMSubmitter{client: client, contract: contract, signer: signer, gasLimit: 250_000, methodABI: parsed}, nil
}

// SubmitBatchUpdate implements allowance.Submitter.
func (s *EVMSubmitter) SubmitBatchUpdate(ctx context.Context, update BatchUpdate) error {
	tokens := make([]common.Address, len(update.Tokens))
	for i, t := range update.Tokens {
		tokens[i] = common.BytesToAddress(t.Bytes())
	}
	balances := make([]*big.Int, len(update.Balances))
	for i, b := range update.Balances {
		if b == nil {
			b = big.NewInt(0)
		}
		balances[i] = b
	}
	data, err := s.methodABI.Pack("batch_update", common.BytesToAddress(update.SubAccount.Bytes()), update.NewAllowance, tokens, balances)
	if err != nil {
		return fmt.Errorf("allowance: encode batch_update: %w", err)
	}

	from := gethcrypto.PubkeyToAddress(s.signer.PublicKey)
	nonce, err := s.client.PendingNonceAt(ctx, from)
	if err != nil {
		return fmt.Errorf("allowance: fetch nonce: %w", err)
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("allowance: suggest gas price: %w", err)
	}
	chainID, err := s.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("allowance: fetch chain id: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &s.contract,
		Value:    big.NewInt(0),
		Gas:      s.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), s.signer)
	if err != nil {
		return fmt.Errorf("allowance: sign batch_update tx: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("allowance: broadcast batch_update tx: %w", err)
	}
	return nil
}
