package state

import (
	"fmt"
	"math/big"

	"github.com/ardanlabs/ethcore/foundation/blockchain/block"
	"github.com/ardanlabs/ethcore/foundation/blockchain/blockqueue"
	"github.com/ardanlabs/ethcore/foundation/blockchain/database"
	"github.com/ardanlabs/ethcore/foundation/blockchain/genesis"
	"github.com/ardanlabs/ethcore/foundation/blockchain/mempool"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// View selects which state a query reads.
type View int

// Set of views.
const (
	Latest View = iota
	Pending
)

// ParseView converts the query string form of a view.
func ParseView(v string) (View, error) {
	switch v {
	case "", "latest":
		return Latest, nil
	case "pending":
		return Pending, nil
	}
	return Latest, fmt.Errorf("unknown view %q", v)
}

// =============================================================================

// Balance returns the balance of the account in the view.
func (s *State) Balance(addr common.Address, view View) *uint256.Int {
	if view == Pending {
		s.postSealMu.RLock()
		defer s.postSealMu.RUnlock()

		return s.postSeal.State().Balance(addr)
	}

	s.headMu.RLock()
	defer s.headMu.RUnlock()

	return s.head.Balance(addr)
}

// Nonce returns the nonce of the account in the view.
func (s *State) Nonce(addr common.Address, view View) uint64 {
	if view == Pending {
		s.postSealMu.RLock()
		defer s.postSealMu.RUnlock()

		return s.postSeal.State().Nonce(addr)
	}

	return s.chainNonce(addr)
}

// PendingTransactions returns the transactions applied on top of the head.
func (s *State) PendingTransactions() []*types.Transaction {
	s.postSealMu.RLock()
	defer s.postSealMu.RUnlock()

	return s.postSeal.Transactions()
}

// PendingHeader returns the header of the block being built.
func (s *State) PendingHeader() *types.Header {
	s.postSealMu.RLock()
	defer s.postSealMu.RUnlock()

	return s.postSeal.Header()
}

// Call executes the transaction on a private copy of the pending state and
// returns the receipt. The sender is credited enough to pay for it first.
func (s *State) Call(tx *types.Transaction) (*types.Receipt, error) {
	from, err := types.Sender(s.chain.Signer(), tx)
	if err != nil {
		return nil, fmt.Errorf("call: %w", err)
	}

	s.postSealMu.RLock()
	b := s.postSeal.Copy()
	s.postSealMu.RUnlock()

	defer b.Close()

	cost := new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas()), tx.GasPrice())
	cost.Add(cost, tx.Value())

	funds, overflow := uint256.FromBig(cost)
	if overflow {
		return nil, fmt.Errorf("call: cost %v overflows", cost)
	}
	b.State().AddBalance(from, funds)

	return b.Execute(s.chain.LastHashes(b.Header().ParentHash), tx)
}

// =============================================================================

// Author returns the account credited for mined blocks.
func (s *State) Author() common.Address {
	return s.author
}

// Genesis returns the genesis the chain was built from.
func (s *State) Genesis() genesis.Genesis {
	return s.chain.Genesis()
}

// CurrentHeader returns the head of the canonical chain.
func (s *State) CurrentHeader() *types.Header {
	return s.chain.CurrentHeader()
}

// BlockByNumber returns the canonical block at number.
func (s *State) BlockByNumber(number uint64) (*types.Block, error) {
	return s.chain.BlockByNumber(number)
}

// BlockByHash returns the block.
func (s *State) BlockByHash(hash common.Hash) (*types.Block, error) {
	return s.chain.Block(hash)
}

// Details returns what the chain knows about the block.
func (s *State) Details(hash common.Hash) (database.Details, error) {
	return s.chain.Details(hash)
}

// PoolTransactions returns a copy of the transactions in the pool.
func (s *State) PoolTransactions() []*types.Transaction {
	return s.pool.Copy()
}

// PoolStatus returns the transaction counts of the pool.
func (s *State) PoolStatus() mempool.Status {
	return s.pool.Status()
}

// QueueStatus returns the block counts of the import queue.
func (s *State) QueueStatus() blockqueue.Status {
	return s.queue.Status()
}

// WorkingPhase returns the lifecycle phase of the working block.
func (s *State) WorkingPhase() block.Phase {
	s.workingMu.RLock()
	defer s.workingMu.RUnlock()

	return s.working.Phase()
}
