package worker

import "context"

// importOperations imports the blocks waiting in the queue.
func (w *Worker) importOperations() {
	w.evHandler("worker: importOperations: G started")
	defer w.evHandler("worker: importOperations: G completed")

	for {
		select {
		case <-w.syncQueue:
			if !w.isShutdown() {
				w.runImportOperation()
			}
		case <-w.ticker.C:
			if !w.isShutdown() {
				w.runImportOperation()
				w.SignalSyncTransactions()
			}
		case <-w.shut:
			w.evHandler("worker: importOperations: received shut signal")
			return
		}
	}
}

// runImportOperation drains the queue into the chain.
func (w *Worker) runImportOperation() {
	_, more, count := w.state.SyncQueue(context.Background(), maxSyncBlocks)
	if count > 0 {
		w.evHandler("worker: runImportOperation: imported[%d] more[%t]", count, more)
	}

	if more {
		w.SignalSyncQueue()
	}
}

// txSyncOperations applies pooled transactions to the working block.
func (w *Worker) txSyncOperations() {
	w.evHandler("worker: txSyncOperations: G started")
	defer w.evHandler("worker: txSyncOperations: G completed")

	for {
		select {
		case <-w.syncTxs:
			if !w.isShutdown() {
				w.runTxSyncOperation()
			}
		case <-w.shut:
			w.evHandler("worker: txSyncOperations: received shut signal")
			return
		}
	}
}

// runTxSyncOperation fills the working block from the pool.
func (w *Worker) runTxSyncOperation() {
	receipts, more, err := w.state.SyncTransactions(context.Background())
	if err != nil {
		w.evHandler("worker: runTxSyncOperation: ERROR: %s", err)
		return
	}

	if len(receipts) > 0 {
		w.evHandler("worker: runTxSyncOperation: applied[%d] more[%t]", len(receipts), more)
	}

	if more {
		w.SignalSyncTransactions()
	}
}
