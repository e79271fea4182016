package state

import (
	"context"
	"fmt"

	"github.com/ardanlabs/ethcore/foundation/blockchain/seal"
	"github.com/ethereum/go-ethereum/core/types"
)

// SubmitTransaction accepts a transaction from a wallet for inclusion.
func (s *State) SubmitTransaction(tx *types.Transaction) error {
	if err := s.validateTransaction(tx); err != nil {
		return err
	}

	if err := s.pool.Submit(tx); err != nil {
		return err
	}

	s.Worker.SignalSyncTransactions()

	return nil
}

// validateTransaction checks the signature and shape of the transaction
// against the head of the chain.
func (s *State) validateTransaction(tx *types.Transaction) error {
	head := s.chain.CurrentHeader()

	if err := s.chain.Engine().VerifyTransaction(seal.RequireEverything, tx, head); err != nil {
		return fmt.Errorf("verify transaction: %w", err)
	}

	return nil
}

// SyncTransactions fills the working block from the pool and refreshes the
// post-seal view. It reports if there may be more transactions to apply.
func (s *State) SyncTransactions(ctx context.Context) ([]*types.Receipt, bool, error) {
	s.workingMu.Lock()
	defer s.workingMu.Unlock()

	receipts, more, err := s.working.SyncPool(ctx, s.pool, s.gasPricer, s.syncTimeout)
	if err != nil {
		return nil, false, err
	}

	s.postSealMu.Lock()
	defer s.postSealMu.Unlock()

	s.postSeal.Close()
	s.postSeal = s.working.Copy()

	if len(receipts) > 0 {
		s.evHandler("state: SyncTransactions: applied[%d] pending[%d] more[%t]", len(receipts), len(s.working.Transactions()), more)
		s.Worker.SignalStartMining()
	}

	return receipts, more, nil
}
