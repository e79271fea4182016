// Package state is the core API for the blockchain node. It ties the chain,
// the block queue and the transaction pool together and keeps the working
// views blocks are built on.
package state

import (
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardanlabs/ethcore/foundation/blockchain/accounts"
	"github.com/ardanlabs/ethcore/foundation/blockchain/block"
	"github.com/ardanlabs/ethcore/foundation/blockchain/blockqueue"
	"github.com/ardanlabs/ethcore/foundation/blockchain/database"
	"github.com/ardanlabs/ethcore/foundation/blockchain/mempool"
	"github.com/ethereum/go-ethereum/common"
)

// Defaults for the node configuration.
const (
	DefaultSyncTimeout  = 100 * time.Millisecond
	DefaultMaxQueued    = 10000
	DefaultQueueBackoff = 500 * time.Millisecond
)

// EventHandler defines a function that is called when events
// occur in the processing of the node.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for block import, transaction syncing and mining.
type Worker interface {
	Shutdown()
	SignalStartMining()
	SignalCancelMining() (done func())
	SignalSyncQueue()
	SignalSyncTransactions()
}

// =============================================================================

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	Author         common.Address
	ExtraData      []byte
	Chain          *database.BlockChain
	Queue          *blockqueue.Queue
	PoolLimits     mempool.Limits
	SelectStrategy string
	AskPrice       *big.Int
	BidPrice       *big.Int
	SyncTimeout    time.Duration
	MaxQueued      int
	Mining         bool
	Sleep          func(time.Duration)
	EvHandler      EventHandler
}

// State manages the node's view of the chain. The three block views are
// locked in the order preSeal, working, postSeal.
type State struct {
	author      common.Address
	extra       []byte
	chain       *database.BlockChain
	queue       *blockqueue.Queue
	pool        *mempool.Mempool
	gasPricer   block.GasPricer
	syncTimeout time.Duration
	maxQueued   int
	sleep       func(time.Duration)
	mining      atomic.Bool
	evHandler   EventHandler

	// preSeal is the head of the chain with nothing applied on top.
	preSealMu sync.RWMutex
	preSeal   *block.Block

	// working is the block being filled from the pool.
	workingMu sync.RWMutex
	working   *block.Block

	// postSeal is a snapshot of working for queries.
	postSealMu sync.RWMutex
	postSeal   *block.Block

	// head is the account state at the head of the chain. No other lock is
	// taken while holding headMu.
	headMu sync.RWMutex
	head   *accounts.State

	Worker Worker
}

// New constructs the node core on top of the chain.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Chain == nil {
		return nil, errors.New("node requires a chain")
	}

	queue := cfg.Queue
	if queue == nil {
		queue = blockqueue.New(blockqueue.Config{
			Chain:     cfg.Chain,
			EvHandler: blockqueue.EventHandler(ev),
		})
	}

	syncTimeout := cfg.SyncTimeout
	if syncTimeout <= 0 {
		syncTimeout = DefaultSyncTimeout
	}

	maxQueued := cfg.MaxQueued
	if maxQueued <= 0 {
		maxQueued = DefaultMaxQueued
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	ask := cfg.AskPrice
	if ask == nil {
		ask = big.NewInt(1)
	}

	preSeal, err := cfg.Chain.NewBlock(cfg.Author)
	if err != nil {
		return nil, err
	}

	s := State{
		author:      cfg.Author,
		extra:       cfg.ExtraData,
		chain:       cfg.Chain,
		queue:       queue,
		gasPricer:   block.NewTrivialGasPricer(ask, cfg.BidPrice),
		syncTimeout: syncTimeout,
		maxQueued:   maxQueued,
		sleep:       sleep,
		evHandler:   ev,
		preSeal:     preSeal,
		working:     preSeal.Copy(),
		postSeal:    preSeal.Copy(),
		head:        preSeal.State().Copy(),
		Worker:      nopWorker{},
	}
	s.mining.Store(cfg.Mining)

	pool, err := mempool.New(mempool.Config{
		Signer:         cfg.Chain.Signer(),
		NonceFn:        s.chainNonce,
		Limits:         cfg.PoolLimits,
		SelectStrategy: cfg.SelectStrategy,
		EvHandler:      mempool.EventHandler(ev),
	})
	if err != nil {
		s.closeViews()
		return nil, err
	}
	s.pool = pool

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &s, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Stop all blockchain writing activity.
	s.Worker.Shutdown()

	s.closeViews()

	// Make sure the database is properly closed.
	return s.chain.Close()
}

// closeViews releases the overlay handles held by the block views.
func (s *State) closeViews() {
	s.preSealMu.Lock()
	defer s.preSealMu.Unlock()
	s.workingMu.Lock()
	defer s.workingMu.Unlock()
	s.postSealMu.Lock()
	defer s.postSealMu.Unlock()

	s.headMu.Lock()
	defer s.headMu.Unlock()

	s.preSeal.Close()
	s.working.Close()
	s.postSeal.Close()
	s.head.Close()
}

// SetMining turns the mining of new blocks on or off.
func (s *State) SetMining(on bool) {
	s.mining.Store(on)

	if on {
		s.Worker.SignalStartMining()
		return
	}

	done := s.Worker.SignalCancelMining()
	done()
}

// IsMiningAllowed reports if the node mines new blocks.
func (s *State) IsMiningAllowed() bool {
	return s.mining.Load()
}

// =============================================================================

// chainNonce returns the account nonce as of the head of the chain.
func (s *State) chainNonce(addr common.Address) uint64 {
	s.headMu.RLock()
	defer s.headMu.RUnlock()

	return s.head.Nonce(addr)
}

// nopWorker is used until a worker registers itself.
type nopWorker struct{}

func (nopWorker) Shutdown() {}
func (nopWorker) SignalStartMining() {}
func (nopWorker) SignalCancelMining() func() { return func() {} }
func (nopWorker) SignalSyncQueue() {}
func (nopWorker) SignalSyncTransactions() {}
