package block

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ardanlabs/ethcore/foundation/blockchain/executive"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// MaxSyncTransactions is the largest batch pulled from the pool per sync.
const MaxSyncTransactions = 1024

// Pool interface represents the behavior required from the transaction pool
// a block is built from.
type Pool interface {
	TopTransactions(limit int, exclude mapset.Set[common.Hash]) []*types.Transaction
	Drop(hash common.Hash) bool
	SetFuture(hash common.Hash)
	Waiting(from common.Address) int
}

// GasPricer interface represents the behavior required to price gas.
type GasPricer interface {
	Ask(b *Block) *big.Int
	Bid() *big.Int
}

// TrivialGasPricer asks and bids fixed prices.
type TrivialGasPricer struct {
	ask *big.Int
	bid *big.Int
}

// NewTrivialGasPricer constructs a pricer with fixed prices.
func NewTrivialGasPricer(ask *big.Int, bid *big.Int) TrivialGasPricer {
	tgp := TrivialGasPricer{
		ask: new(big.Int),
		bid: new(big.Int),
	}
	if ask != nil {
		tgp.ask.Set(ask)
	}
	if bid != nil {
		tgp.bid.Set(bid)
	}
	return tgp
}

// Ask returns the minimum gas price a transaction must pay to be included.
func (tgp TrivialGasPricer) Ask(*Block) *big.Int {
	return new(big.Int).Set(tgp.ask)
}

// Bid returns the gas price to offer for our own transactions.
func (tgp TrivialGasPricer) Bid() *big.Int {
	return new(big.Int).Set(tgp.bid)
}

// =============================================================================

// Execute applies the transaction to the block. On error the block is
// unchanged.
func (b *Block) Execute(lastHashes []common.Hash, tx *types.Transaction) (*types.Receipt, error) {
	if b.phase == PhaseSealed {
		return nil, ErrInvalidOperationOnSealedBlock
	}
	if b.chain == nil {
		return nil, ErrUnknownChain
	}
	if b.current == nil {
		return nil, ErrNotReset
	}

	env := executive.Env{
		Number:     b.current.Number.Uint64(),
		Author:     b.current.Coinbase,
		Timestamp:  b.current.Time,
		Difficulty: b.current.Difficulty,
		GasLimit:   b.current.GasLimit,
		GasUsed:    b.GasUsed(),
		LastHashes: lastHashes,
	}

	receipt, err := b.chain.Executor().Execute(env, b.state, tx)
	if err != nil {
		return nil, err
	}

	receipt.TransactionIndex = uint(len(b.txs))

	b.txs = append(b.txs, tx)
	b.receipts = append(b.receipts, receipt)
	b.txSet.Add(tx.Hash())
	b.phase = PhaseExecuting

	return receipt, nil
}

// =============================================================================

// action is what the pool should do with a transaction that failed.
type action int

const (
	actionKeep action = iota
	actionDrop
	actionSetFuture
)

func (a action) String() string {
	switch a {
	case actionKeep:
		return "keep"
	case actionDrop:
		return "drop"
	case actionSetFuture:
		return "future"
	}
	return "unknown"
}

// classify decides what happens to a pooled transaction that failed to
// execute. A nonce ahead of the state is kept only while the sender has
// enough future transactions to close the gap.
func classify(err error, gasLimit uint64, waiting int) action {
	var fault *executive.Fault
	if !errors.As(err, &fault) {
		return actionDrop
	}

	switch fault.Kind {
	case executive.InvalidNonce:
		switch {
		case fault.Required.Cmp(fault.Got) > 0:
			return actionDrop
		case fault.Got.Cmp(new(big.Int).Add(fault.Required, big.NewInt(int64(waiting)))) > 0:
			return actionDrop
		}
		return actionSetFuture

	case executive.BlockGasLimitReached:
		if fault.Got.Cmp(new(big.Int).SetUint64(gasLimit)) > 0 {
			return actionDrop
		}
		return actionKeep
	}

	return actionDrop
}

// SyncPool executes the best transactions from the pool until a pass over
// them adds nothing new, the timeout passes or the context is cancelled.
// Transaction faults are absorbed by dropping, deferring or keeping the
// transaction in the pool. The returned flag reports there may be more
// work to do.
func (b *Block) SyncPool(ctx context.Context, pool Pool, gp GasPricer, timeout time.Duration) ([]*types.Receipt, bool, error) {
	if b.phase == PhaseSealed {
		return nil, false, ErrInvalidOperationOnSealedBlock
	}
	if b.chain == nil {
		return nil, false, ErrUnknownChain
	}
	if b.current == nil {
		return nil, false, ErrNotReset
	}

	txs := pool.TopTransactions(MaxSyncTransactions, b.txSet)
	more := len(txs) == MaxSyncTransactions

	var (
		receipts   []*types.Receipt
		lastHashes []common.Hash
		deadline   = time.Now().Add(timeout)
		signer     = b.chain.Signer()
	)

	for {
		var good int

		for _, tx := range txs {
			if time.Now().After(deadline) || ctx.Err() != nil {
				return receipts, true, nil
			}

			if b.txSet.Contains(tx.Hash()) {
				continue
			}

			ask := gp.Ask(b)
			if tx.GasPrice().Cmp(ask) < 0 {
				floor := new(big.Int).Div(new(big.Int).Mul(ask, big.NewInt(9)), big.NewInt(10))
				if tx.GasPrice().Cmp(floor) < 0 {
					b.evHandler("block: SyncPool: drop: tx[%s]: price %v below 90%% of ask %v", tx.Hash(), tx.GasPrice(), ask)
					pool.Drop(tx.Hash())
				}
				continue
			}

			if lastHashes == nil {
				lastHashes = b.chain.LastHashes(b.current.ParentHash)
			}

			receipt, err := b.Execute(lastHashes, tx)
			if err == nil {
				receipts = append(receipts, receipt)
				good++
				continue
			}

			var waiting int
			if from, err := types.Sender(signer, tx); err == nil {
				waiting = pool.Waiting(from)
			}

			switch classify(err, b.current.GasLimit, waiting) {
			case actionDrop:
				b.evHandler("block: SyncPool: drop: tx[%s]: %s", tx.Hash(), err)
				pool.Drop(tx.Hash())

			case actionSetFuture:
				b.evHandler("block: SyncPool: future: tx[%s]: %s", tx.Hash(), err)
				pool.SetFuture(tx.Hash())

			case actionKeep:
				b.evHandler("block: SyncPool: keep: tx[%s]: %s", tx.Hash(), err)
			}
		}

		if good == 0 {
			break
		}
	}

	return receipts, more, nil
}
