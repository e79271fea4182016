// Package executive applies a single transaction to an account state and
// produces its receipt. Rule violations are reported as Fault values.
package executive

import (
	"fmt"
	"math/big"

	"github.com/ardanlabs/ethcore/foundation/blockchain/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// FaultKind identifies the rule a transaction broke.
type FaultKind int

// Set of fault kinds.
const (
	InvalidSignature FaultKind = iota + 1
	InvalidNonce
	OutOfGasIntrinsic
	BlockGasLimitReached
	NotEnoughCash
	InvalidTransaction
)

// String implements the fmt.Stringer interface.
func (k FaultKind) String() string {
	switch k {
	case InvalidSignature:
		return "invalid signature"
	case InvalidNonce:
		return "invalid nonce"
	case OutOfGasIntrinsic:
		return "out of gas (intrinsic)"
	case BlockGasLimitReached:
		return "block gas limit reached"
	case NotEnoughCash:
		return "not enough cash"
	case InvalidTransaction:
		return "invalid transaction"
	}
	return "unknown fault"
}

// Fault is returned when a transaction can't be applied. Required and Got
// carry the values the rule compared: nonces for InvalidNonce, gas for the
// gas kinds and wei for NotEnoughCash.
type Fault struct {
	Kind     FaultKind
	Required *big.Int
	Got      *big.Int
	Err      error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	switch {
	case f.Err != nil:
		return fmt.Sprintf("%s: %s", f.Kind, f.Err)
	case f.Required != nil || f.Got != nil:
		return fmt.Sprintf("%s: required %v, got %v", f.Kind, f.Required, f.Got)
	}
	return f.Kind.String()
}

// Unwrap returns the underlying error if one exists.
func (f *Fault) Unwrap() error {
	return f.Err
}

// newFault constructs a fault comparing two unsigned values.
func newFault(kind FaultKind, required uint64, got uint64) *Fault {
	return &Fault{
		Kind:     kind,
		Required: new(big.Int).SetUint64(required),
		Got:      new(big.Int).SetUint64(got),
	}
}

// =============================================================================

// Env is the block context a transaction executes in.
type Env struct {
	Number     uint64
	Author     common.Address
	Timestamp  uint64
	Difficulty *big.Int
	GasLimit   uint64
	GasUsed    uint64
	LastHashes []common.Hash
}

// Executor interface represents the behavior required to be implemented by
// any package providing transaction execution. On success the state holds
// the effects of the transaction. On a fault the state is unchanged.
type Executor interface {
	Execute(env Env, state *accounts.State, tx *types.Transaction) (*types.Receipt, error)
}
