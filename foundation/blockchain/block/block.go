// Package block implements the working block: the state transition engine
// that applies transactions to a parent state, derives the roots a header
// commits to and verifies those roots when importing a block.
package block

import (
	"fmt"
	"math/big"

	"github.com/ardanlabs/ethcore/foundation/blockchain/accounts"
	"github.com/ardanlabs/ethcore/foundation/blockchain/executive"
	"github.com/ardanlabs/ethcore/foundation/blockchain/overlay"
	"github.com/ardanlabs/ethcore/foundation/blockchain/seal"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EventHandler defines a function that is called when events
// occur in the processing of a block.
type EventHandler func(v string, args ...any)

// Params are the chain parameters a block needs.
type Params struct {
	AccountStartNonce uint64
	EIP158Block       uint64
}

// Chain interface represents the behavior required from the blockchain a
// working block is built on.
type Chain interface {
	Engine() seal.Engine
	Executor() executive.Executor
	Signer() types.Signer
	Params() Params
	GenesisHash() common.Hash
	CurrentHeader() *types.Header
	Header(hash common.Hash) (*types.Header, error)
	Children(hash common.Hash) []common.Hash
	AllKinFrom(parent common.Hash, generations int) mapset.Set[common.Hash]
	LastHashes(parent common.Hash) []common.Hash
}

// Phase represents where a block is in its lifecycle.
type Phase int

// Set of lifecycle phases.
const (
	PhaseEmpty Phase = iota
	PhaseResetting
	PhaseExecuting
	PhaseCommitted
	PhaseSealed
)

func (p Phase) String() string {
	switch p {
	case PhaseEmpty:
		return "empty"
	case PhaseResetting:
		return "resetting"
	case PhaseExecuting:
		return "executing"
	case PhaseCommitted:
		return "committed"
	case PhaseSealed:
		return "sealed"
	}
	return "unknown"
}

// Config represents the configuration required to construct a block.
type Config struct {
	Chain     Chain
	DB        *overlay.Overlay
	Author    common.Address
	EvHandler EventHandler
}

// =============================================================================

// Block represents a block under construction or being imported. A block is
// not safe for concurrent use.
type Block struct {
	chain     Chain
	author    common.Address
	evHandler EventHandler

	state    *accounts.State
	previous *types.Header
	current  *types.Header
	txs      []*types.Transaction
	receipts []*types.Receipt
	txSet    mapset.Set[common.Hash]
	uncles   []*types.Header
	phase    Phase
}

// New constructs an empty block over the overlay. Use Sync to adopt the
// head of the chain.
func New(cfg Config) *Block {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	var startNonce uint64
	if cfg.Chain != nil {
		startNonce = cfg.Chain.Params().AccountStartNonce
	}

	return &Block{
		chain:     cfg.Chain,
		author:    cfg.Author,
		evHandler: ev,
		state:     accounts.New(cfg.DB, startNonce),
		txSet:     mapset.NewThreadUnsafeSet[common.Hash](),
		phase:     PhaseEmpty,
	}
}

// Copy returns an independent copy of the block. The copy gets its own
// overlay handle over the same backing store and must be closed.
func (b *Block) Copy() *Block {
	cpy := Block{
		chain:     b.chain,
		author:    b.author,
		evHandler: b.evHandler,
		state:     b.state.Copy(),
		txs:       append([]*types.Transaction(nil), b.txs...),
		receipts:  append([]*types.Receipt(nil), b.receipts...),
		txSet:     b.txSet.Clone(),
		uncles:    append([]*types.Header(nil), b.uncles...),
		phase:     b.phase,
	}

	if b.previous != nil {
		cpy.previous = types.CopyHeader(b.previous)
	}
	if b.current != nil {
		cpy.current = types.CopyHeader(b.current)
	}

	return &cpy
}

// Close releases the overlay handle held by the block.
func (b *Block) Close() {
	b.state.Close()
}

// =============================================================================

// ResetCurrent discards the transactions and starts a new current header on
// top of the previous header. The state is rewound to the previous root.
func (b *Block) ResetCurrent(timestamp uint64) error {
	if b.phase == PhaseSealed {
		return ErrInvalidOperationOnSealedBlock
	}

	return b.resetCurrent(timestamp)
}

func (b *Block) resetCurrent(timestamp uint64) error {
	if b.chain == nil {
		return ErrUnknownChain
	}
	if b.previous == nil {
		return fmt.Errorf("reset current: %w", ErrInvalidParentHash)
	}

	b.phase = PhaseResetting

	b.txs = nil
	b.receipts = nil
	b.uncles = nil
	b.txSet.Clear()

	b.current = &types.Header{
		Coinbase:    b.author,
		Time:        max(b.previous.Time+1, timestamp),
		UncleHash:   types.EmptyUncleHash,
		TxHash:      types.EmptyTxsHash,
		ReceiptHash: types.EmptyReceiptsHash,
	}
	b.chain.Engine().PopulateFromParent(b.current, b.previous)

	if err := b.state.SetRoot(b.previous.Root); err != nil {
		return fmt.Errorf("reset current: %w", err)
	}

	return nil
}

// Sync brings the block up to date with the head of the chain. It reports
// if the previous header changed.
func (b *Block) Sync() (bool, error) {
	if b.chain == nil {
		return false, ErrUnknownChain
	}

	return b.SyncTo(b.chain.CurrentHeader())
}

// SyncTo brings the block up to date with the specified head. A sealed
// block only accepts its own header as the new head, which promotes it to
// the previous header of a fresh block.
func (b *Block) SyncTo(head *types.Header) (bool, error) {
	if b.chain == nil {
		return false, ErrUnknownChain
	}

	switch {
	case b.current != nil && head.Hash() == b.current.Hash():
		b.evHandler("block: SyncTo: promote: blk[%d] hash[%s]", head.Number, head.Hash())

		b.previous = b.current
		if err := b.resetCurrent(0); err != nil {
			return false, err
		}
		return true, nil

	case b.previous != nil && head.Hash() == b.previous.Hash():
		return false, nil

	case b.phase == PhaseSealed:
		return false, ErrInvalidOperationOnSealedBlock
	}

	if !b.state.DB().Exists(head.Root) {
		b.evHandler("block: SyncTo: ERROR: database may be corrupt: blk[%d] hash[%s] missing state root[%s]: a rescue is required", head.Number, head.Hash(), head.Root)
		return false, &MismatchError{Err: ErrInvalidStateRoot, Expected: head.Root, Got: "not found in database"}
	}

	b.evHandler("block: SyncTo: adopt: blk[%d] hash[%s]", head.Number, head.Hash())

	b.previous = types.CopyHeader(head)
	if err := b.resetCurrent(0); err != nil {
		return false, err
	}

	return true, nil
}

// =============================================================================

// Phase returns where the block is in its lifecycle.
func (b *Block) Phase() Phase {
	return b.phase
}

// IsSealed reports if the block has been sealed.
func (b *Block) IsSealed() bool {
	return b.phase == PhaseSealed
}

// Author returns the beneficiary of blocks built from this block.
func (b *Block) Author() common.Address {
	return b.author
}

// SetAuthor changes the beneficiary used by the next reset.
func (b *Block) SetAuthor(author common.Address) error {
	if b.phase == PhaseSealed {
		return ErrInvalidOperationOnSealedBlock
	}

	b.author = author
	return nil
}

// State returns the account state of the block.
func (b *Block) State() *accounts.State {
	return b.state
}

// Previous returns a copy of the previous header.
func (b *Block) Previous() *types.Header {
	if b.previous == nil {
		return nil
	}
	return types.CopyHeader(b.previous)
}

// Header returns a copy of the current header.
func (b *Block) Header() *types.Header {
	if b.current == nil {
		return nil
	}
	return types.CopyHeader(b.current)
}

// Transactions returns the transactions applied so far.
func (b *Block) Transactions() []*types.Transaction {
	return append([]*types.Transaction(nil), b.txs...)
}

// Receipts returns the receipts of the transactions applied so far.
func (b *Block) Receipts() []*types.Receipt {
	return append([]*types.Receipt(nil), b.receipts...)
}

// Uncles returns the uncles the block committed to.
func (b *Block) Uncles() []*types.Header {
	return append([]*types.Header(nil), b.uncles...)
}

// Contains reports if the transaction was applied to this block.
func (b *Block) Contains(hash common.Hash) bool {
	return b.txSet.Contains(hash)
}

// TxSet returns a copy of the set of applied transaction hashes.
func (b *Block) TxSet() mapset.Set[common.Hash] {
	return b.txSet.Clone()
}

// GasUsed returns the cumulative gas used by the applied transactions.
func (b *Block) GasUsed() uint64 {
	if len(b.receipts) == 0 {
		return 0
	}
	return b.receipts[len(b.receipts)-1].CumulativeGasUsed
}

// GasRemaining returns the gas still available in the block.
func (b *Block) GasRemaining() uint64 {
	if b.current == nil || b.current.GasLimit < b.GasUsed() {
		return 0
	}
	return b.current.GasLimit - b.GasUsed()
}

// Difficulty returns the difficulty of the current header.
func (b *Block) Difficulty() *big.Int {
	if b.current == nil || b.current.Difficulty == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.current.Difficulty)
}

// Block assembles the block from the current header and body.
func (b *Block) Block() *types.Block {
	return types.NewBlockWithHeader(b.current).WithBody(types.Body{
		Transactions: b.txs,
		Uncles:       b.uncles,
	})
}
