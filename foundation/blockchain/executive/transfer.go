package executive

import (
	"fmt"
	"math/big"

	"github.com/ardanlabs/ethcore/foundation/blockchain/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// Transfer implements the Executor interface for value transfers. A
// transaction with a payload and a recipient emits one log carrying the
// payload; contract code is never run.
type Transfer struct {
	signer types.Signer
}

// NewTransfer constructs a transfer executor using the signer to recover
// transaction senders.
func NewTransfer(signer types.Signer) *Transfer {
	return &Transfer{
		signer: signer,
	}
}

// Execute applies the transaction to the state.
func (t *Transfer) Execute(env Env, state *accounts.State, tx *types.Transaction) (*types.Receipt, error) {
	from, err := types.Sender(t.signer, tx)
	if err != nil {
		return nil, &Fault{Kind: InvalidSignature, Err: err}
	}

	if nonce := state.Nonce(from); tx.Nonce() != nonce {
		return nil, newFault(InvalidNonce, nonce, tx.Nonce())
	}

	intrinsic := IntrinsicGas(tx.Data(), tx.To() == nil)
	if tx.Gas() < intrinsic {
		return nil, newFault(OutOfGasIntrinsic, intrinsic, tx.Gas())
	}

	var remaining uint64
	if env.GasLimit > env.GasUsed {
		remaining = env.GasLimit - env.GasUsed
	}
	if tx.Gas() > remaining {
		return nil, newFault(BlockGasLimitReached, remaining, tx.Gas())
	}

	price, overflow := uint256.FromBig(tx.GasPrice())
	if overflow {
		return nil, &Fault{Kind: InvalidTransaction, Err: fmt.Errorf("gas price %v overflows", tx.GasPrice())}
	}
	value, overflow := uint256.FromBig(tx.Value())
	if overflow {
		return nil, &Fault{Kind: InvalidTransaction, Err: fmt.Errorf("value %v overflows", tx.Value())}
	}

	upfront, overflow := new(uint256.Int).MulOverflow(price, uint256.NewInt(tx.Gas()))
	if overflow {
		return nil, &Fault{Kind: InvalidTransaction, Err: fmt.Errorf("gas cost overflows")}
	}
	cost, overflow := new(uint256.Int).AddOverflow(upfront, value)
	if overflow {
		return nil, &Fault{Kind: InvalidTransaction, Err: fmt.Errorf("total cost overflows")}
	}

	if balance := state.Balance(from); balance.Lt(cost) {
		return nil, &Fault{Kind: NotEnoughCash, Required: cost.ToBig(), Got: balance.ToBig()}
	}

	// Every rule has passed so the state can be changed.

	var to common.Address
	var contract common.Address
	switch tx.To() {
	case nil:
		contract = crypto.CreateAddress(from, tx.Nonce())
		to = contract
	default:
		to = *tx.To()
	}

	if err := state.SubBalance(from, cost); err != nil {
		return nil, &Fault{Kind: NotEnoughCash, Err: err}
	}
	state.IncNonce(from)
	state.AddBalance(to, value)

	gasUsed := intrinsic
	refund := new(uint256.Int).Mul(price, uint256.NewInt(tx.Gas()-gasUsed))
	state.AddBalance(from, refund)

	fee := new(uint256.Int).Mul(price, uint256.NewInt(gasUsed))
	state.AddBalance(env.Author, fee)

	var logs []*types.Log
	if len(tx.Data()) > 0 && tx.To() != nil {
		logs = append(logs, &types.Log{
			Address:     to,
			Topics:      []common.Hash{crypto.Keccak256Hash(tx.Data())},
			Data:        common.CopyBytes(tx.Data()),
			BlockNumber: env.Number,
			TxHash:      tx.Hash(),
		})
	}

	receipt := types.Receipt{
		Type:              types.LegacyTxType,
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: env.GasUsed + gasUsed,
		Logs:              logs,
		TxHash:            tx.Hash(),
		ContractAddress:   contract,
		GasUsed:           gasUsed,
		BlockNumber:       new(big.Int).SetUint64(env.Number),
	}
	receipt.Bloom = types.CreateBloom(&receipt)

	return &receipt, nil
}

// IntrinsicGas returns the gas a transaction costs before any execution.
func IntrinsicGas(data []byte, creation bool) uint64 {
	gas := params.TxGas
	if creation {
		gas = params.TxGasContractCreation
	}

	for _, b := range data {
		switch b {
		case 0:
			gas += params.TxDataZeroGas
		default:
			gas += params.TxDataNonZeroGasFrontier
		}
	}

	return gas
}
