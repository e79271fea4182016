// Package seal defines the consensus engine contract used by the node and
// provides a keccak proof of work engine.
package seal

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Set of error variables for header and block verification.
var (
	ErrInvalidSeal             = errors.New("invalid seal")
	ErrInvalidDifficulty       = errors.New("invalid difficulty")
	ErrInvalidGasLimit         = errors.New("invalid gas limit")
	ErrInvalidGasUsed          = errors.New("gas used exceeds gas limit")
	ErrInvalidNumber           = errors.New("invalid block number")
	ErrInvalidTimestamp        = errors.New("timestamp not after parent")
	ErrInvalidParentHash       = errors.New("parent hash does not match parent")
	ErrExtraDataTooLong        = errors.New("extra data too long")
	ErrInvalidTransactionsRoot = errors.New("transactions root does not match body")
	ErrInvalidUnclesHash       = errors.New("uncles hash does not match body")
	ErrMalformedBlock          = errors.New("malformed block")
	ErrInvalidSignature        = errors.New("invalid transaction signature")
)

// Strictness represents how much of a header is verified.
type Strictness int

// Set of strictness levels for Verify.
const (
	CheckEverything Strictness = iota
	IgnoreSeal
)

// Requirements is a set of checks VerifyTransaction applies.
type Requirements uint

// Set of transaction checks.
const (
	RequireSignature Requirements = 1 << iota
	RequireLowS

	RequireEverything = RequireSignature | RequireLowS
)

// EventHandler defines a function that is called when events
// occur in the processing of sealing blocks.
type EventHandler func(v string, args ...any)

// Engine interface represents the behavior required to be implemented by any
// package providing consensus rules for the chain.
type Engine interface {
	Name() string
	BlockReward(number uint64) *uint256.Int
	PopulateFromParent(header *types.Header, parent *types.Header)
	Verify(s Strictness, header *types.Header, parent *types.Header, block []byte) error
	VerifyTransaction(req Requirements, tx *types.Transaction, header *types.Header) error
	Seal(ctx context.Context, header *types.Header) (*types.Header, error)
}
