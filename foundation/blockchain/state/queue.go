package state

import (
	"context"

	"github.com/ardanlabs/ethcore/foundation/blockchain/blockqueue"
	"github.com/ardanlabs/ethcore/foundation/blockchain/database"
)

// QueueBlock hands an encoded block to the import queue. When the queue is
// backed up the caller is slowed down before the block is accepted.
func (s *State) QueueBlock(data []byte, isSafe bool) blockqueue.ImportResult {
	if size := s.queue.Size(); size > s.maxQueued {
		s.evHandler("state: QueueBlock: queue full[%d]: backing off", size)
		s.sleep(DefaultQueueBackoff)
	}

	result := s.queue.Import(data, isSafe)
	s.evHandler("state: QueueBlock: result[%s]", result)

	if result == blockqueue.Success {
		s.Worker.SignalSyncQueue()
	}

	return result
}

// SyncQueue imports up to max blocks from the queue and, if the canonical
// chain moved, rebuilds the block views on the new head. It reports if the
// queue holds more ready blocks.
func (s *State) SyncQueue(ctx context.Context, max int) (database.ImportRoute, bool, int) {
	route, more, count := s.syncQueue(ctx, max)

	// A block from elsewhere moved the head. Whatever is being mined is
	// now stale.
	if len(route.Live) > 0 {
		done := s.Worker.SignalCancelMining()
		done()

		s.Worker.SignalStartMining()
	}

	return route, more, count
}

func (s *State) syncQueue(ctx context.Context, max int) (database.ImportRoute, bool, int) {
	s.queue.Tick()

	route, more, count := s.chain.Sync(ctx, s.queue, max)
	if count == 0 {
		return route, more, count
	}

	s.evHandler("state: SyncQueue: imported[%d] dead[%d] live[%d] more[%t]", count, len(route.Dead), len(route.Live), more)

	if len(route.Live) > 0 {
		s.onChainChanged(route)
	}

	return route, more, count
}

// onChainChanged returns the transactions of blocks that left the canonical
// chain to the pool, removes the ones that joined it and resets the block
// views on the new head.
func (s *State) onChainChanged(route database.ImportRoute) {
	if err := s.resetViews(); err != nil {
		s.evHandler("state: onChainChanged: ERROR: %s", err)
	}

	for _, hash := range route.Dead {
		blk, err := s.chain.Block(hash)
		if err != nil {
			s.evHandler("state: onChainChanged: ERROR: dead blk[%s]: %s", hash, err)
			continue
		}

		for _, tx := range blk.Transactions() {
			if err := s.pool.Submit(tx); err != nil {
				s.evHandler("state: onChainChanged: resubmit tx[%s]: %s", tx.Hash(), err)
			}
		}
	}

	for _, hash := range route.Live {
		blk, err := s.chain.Block(hash)
		if err != nil {
			s.evHandler("state: onChainChanged: ERROR: live blk[%s]: %s", hash, err)
			continue
		}

		for _, tx := range blk.Transactions() {
			s.pool.Drop(tx.Hash())
		}
	}

	if n := s.pool.Reconcile(); n > 0 {
		s.evHandler("state: onChainChanged: reconcile: removed[%d]", n)
	}

	s.Worker.SignalSyncTransactions()
}

// resetViews syncs every block view with the head of the chain.
func (s *State) resetViews() error {
	s.preSealMu.Lock()
	defer s.preSealMu.Unlock()

	if _, err := s.preSeal.Sync(); err != nil {
		return err
	}

	s.headMu.Lock()
	s.head.Close()
	s.head = s.preSeal.State().Copy()
	s.headMu.Unlock()

	s.workingMu.Lock()
	defer s.workingMu.Unlock()

	s.working.Close()
	s.working = s.preSeal.Copy()

	s.postSealMu.Lock()
	defer s.postSealMu.Unlock()

	s.postSeal.Close()
	s.postSeal = s.working.Copy()

	return nil
}
