package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardanlabs/ethcore/foundation/blockchain/blockqueue"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrNoTransactions is returned when a block is requested to be created
// and there are not enough transactions.
var ErrNoTransactions = errors.New("no transactions in working block")

// maxSyncBlocks bounds how many queued blocks are imported along with a
// freshly mined one.
const maxSyncBlocks = 128

// =============================================================================

// MineNewBlock seals a copy of the working block and imports it into the
// chain. The search for the seal stops when the context is cancelled.
func (s *State) MineNewBlock(ctx context.Context) (*types.Block, error) {
	s.evHandler("state: MineNewBlock: MINING: check working block")

	s.workingMu.RLock()
	if len(s.working.Transactions()) == 0 {
		s.workingMu.RUnlock()
		return nil, ErrNoTransactions
	}
	sealing := s.working.Copy()
	s.workingMu.RUnlock()

	defer sealing.Close()

	if err := sealing.CommitToSeal(s.extra); err != nil {
		return nil, fmt.Errorf("commit to seal: %w", err)
	}

	s.evHandler("state: MineNewBlock: MINING: perform POW: blk[%d] txs[%d]", sealing.Header().Number, len(sealing.Transactions()))

	sealed, err := s.chain.Engine().Seal(ctx, sealing.Header())
	if err != nil {
		return nil, err
	}

	// Just check one more time we were not cancelled.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if err := sealing.SealBlock(sealed); err != nil {
		return nil, err
	}

	data, err := sealing.Bytes()
	if err != nil {
		return nil, err
	}
	blk := sealing.Block()

	s.evHandler("state: MineNewBlock: MINING: import: blk[%d] hash[%s]", blk.NumberU64(), blk.Hash())

	if result := s.queue.Import(data, true); result != blockqueue.Success {
		return nil, fmt.Errorf("queue mined block: %s", result)
	}

	s.syncQueue(context.Background(), maxSyncBlocks)

	if !s.chain.IsKnown(blk.Hash()) {
		return nil, fmt.Errorf("mined block %s was not imported", blk.Hash())
	}

	return blk, nil
}
