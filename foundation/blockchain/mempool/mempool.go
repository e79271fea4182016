// Package mempool maintains the pool of pending transactions for the
// blockchain. Transactions whose nonce follows on from the account's chain
// nonce without a gap are current and eligible for a block; the rest wait
// in the future partition until the gap closes.
package mempool

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ardanlabs/ethcore/foundation/blockchain/mempool/selector"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Set of error variables for transaction admission.
var (
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrInvalidNonce         = errors.New("invalid nonce")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrUnderpriced          = errors.New("replacement transaction underpriced")
)

// EventHandler defines a function that is called when events
// occur in the processing of the pool.
type EventHandler func(v string, args ...any)

// Limits bounds the size of the pool. A zero value means no bound.
type Limits struct {
	Current int
	Future  int
	Bytes   uint64
}

// DefaultLimits are used when the configuration provides none.
var DefaultLimits = Limits{
	Current: 1024,
	Future:  1024,
}

// Status represents the number of transactions in each partition.
type Status struct {
	Current int
	Future  int
	Bytes   uint64
}

// Config represents the configuration for the pool.
type Config struct {
	Signer         types.Signer
	NonceFn        func(addr common.Address) uint64
	Limits         Limits
	SelectStrategy string
	EvHandler      EventHandler
}

// =============================================================================

// Mempool represents a cache of transactions organized by sender and nonce.
type Mempool struct {
	mu        sync.RWMutex
	signer    types.Signer
	nonceFn   func(addr common.Address) uint64
	limits    Limits
	selectFn  selector.Func
	evHandler EventHandler

	known   map[common.Hash]selector.Tx
	current map[common.Address][]selector.Tx
	future  map[common.Address]map[uint64]selector.Tx
	nCur    int
	nFut    int
	bytes   uint64
	arrival uint64
}

// New constructs a new mempool.
func New(cfg Config) (*Mempool, error) {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	strategy := cfg.SelectStrategy
	if strategy == "" {
		strategy = selector.StrategyPrice
	}

	selectFn, err := selector.Retrieve(strategy)
	if err != nil {
		return nil, err
	}

	if cfg.Signer == nil || cfg.NonceFn == nil {
		return nil, errors.New("mempool requires a signer and a nonce function")
	}

	limits := cfg.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits
	}

	mp := Mempool{
		signer:    cfg.Signer,
		nonceFn:   cfg.NonceFn,
		limits:    limits,
		selectFn:  selectFn,
		evHandler: ev,
		known:     make(map[common.Hash]selector.Tx),
		current:   make(map[common.Address][]selector.Tx),
		future:    make(map[common.Address]map[uint64]selector.Tx),
	}

	return &mp, nil
}

// SetNonceFn replaces the function used to look up account chain nonces.
func (mp *Mempool) SetNonceFn(fn func(addr common.Address) uint64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.nonceFn = fn
}

// =============================================================================

// Submit adds a transaction to the pool. A transaction with the same sender
// and nonce as a pooled one replaces it only if it pays a higher gas price.
func (mp *Mempool) Submit(tx *types.Transaction) error {
	hash := tx.Hash()

	from, err := types.Sender(mp.signer, tx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.known[hash]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, hash)
	}

	chainNonce := mp.nonceFn(from)
	if tx.Nonce() < chainNonce {
		return fmt.Errorf("%w: required >= %d, got %d", ErrInvalidNonce, chainNonce, tx.Nonce())
	}

	mp.arrival++
	item := selector.Tx{Transaction: tx, From: from, Arrival: mp.arrival}

	if old, exists := mp.lookup(from, tx.Nonce()); exists {
		if tx.GasPrice().Cmp(old.GasPrice()) <= 0 {
			return fmt.Errorf("%w: existing %s pays %v", ErrUnderpriced, old.Hash(), old.GasPrice())
		}
		mp.replace(old, item)
		mp.evHandler("mempool: Submit: replaced: tx[%s] with tx[%s]", old.Hash(), hash)
		return nil
	}

	mp.known[hash] = item
	mp.bytes += tx.Size()

	switch next := mp.nextNonce(from, chainNonce); tx.Nonce() {
	case next:
		mp.current[from] = append(mp.current[from], item)
		mp.nCur++
		mp.promote(from)
		mp.evHandler("mempool: Submit: current: tx[%s] from[%s] nonce[%d]", hash, from, tx.Nonce())

	default:
		mp.addFuture(item)
		mp.evHandler("mempool: Submit: future: tx[%s] from[%s] nonce[%d] expected[%d]", hash, from, tx.Nonce(), next)
	}

	mp.enforceLimits()

	return nil
}

// TopTransactions returns up to limit current transactions in priority order,
// skipping any in exclude. A negative limit returns all of them.
func (mp *Mempool) TopTransactions(limit int, exclude mapset.Set[common.Hash]) []*types.Transaction {
	m := make(map[common.Address][]selector.Tx)

	mp.mu.RLock()
	{
		for from, txs := range mp.current {
			for _, tx := range txs {
				if exclude != nil && exclude.Contains(tx.Hash()) {
					continue
				}
				m[from] = append(m[from], tx)
			}
		}
	}
	mp.mu.RUnlock()

	best := mp.selectFn(m, limit)

	txs := make([]*types.Transaction, len(best))
	for i, tx := range best {
		txs[i] = tx.Transaction
	}

	return txs
}

// Drop removes the transaction from the pool. Later transactions of the same
// sender in the current partition move to the future partition.
func (mp *Mempool) Drop(hash common.Hash) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	item, exists := mp.known[hash]
	if !exists {
		return false
	}

	if i := mp.currentIndex(item); i >= 0 {
		mp.demote(item.From, i+1)
		mp.current[item.From] = mp.current[item.From][:i]
		mp.nCur--
		if len(mp.current[item.From]) == 0 {
			delete(mp.current, item.From)
		}
	} else {
		mp.removeFuture(item)
	}

	delete(mp.known, hash)
	mp.bytes -= item.Size()

	mp.evHandler("mempool: Drop: tx[%s] from[%s] nonce[%d]", hash, item.From, item.Nonce())

	return true
}

// SetFuture moves the transaction and every later transaction of the same
// sender from the current partition to the future partition.
func (mp *Mempool) SetFuture(hash common.Hash) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	item, exists := mp.known[hash]
	if !exists {
		return
	}

	if i := mp.currentIndex(item); i >= 0 {
		mp.demote(item.From, i)
		mp.evHandler("mempool: SetFuture: tx[%s] from[%s] nonce[%d]", hash, item.From, item.Nonce())
	}
}

// Waiting returns the number of future transactions for the sender.
func (mp *Mempool) Waiting(from common.Address) int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.future[from])
}

// Reconcile removes transactions made stale by the chain and rebuilds the
// current partition from each sender's chain nonce. It returns the number
// of transactions removed.
func (mp *Mempool) Reconcile() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	senders := make(map[common.Address]struct{})
	for from := range mp.current {
		senders[from] = struct{}{}
	}
	for from := range mp.future {
		senders[from] = struct{}{}
	}

	var removed int
	for from := range senders {
		chainNonce := mp.nonceFn(from)

		txs := append([]selector.Tx{}, mp.current[from]...)
		for _, tx := range mp.future[from] {
			txs = append(txs, tx)
		}
		sort.Slice(txs, func(i, j int) bool { return txs[i].Nonce() < txs[j].Nonce() })

		mp.nCur -= len(mp.current[from])
		mp.nFut -= len(mp.future[from])
		delete(mp.current, from)
		delete(mp.future, from)

		next := chainNonce
		for _, tx := range txs {
			switch {
			case tx.Nonce() < chainNonce:
				delete(mp.known, tx.Hash())
				mp.bytes -= tx.Size()
				removed++

			case tx.Nonce() == next:
				mp.current[from] = append(mp.current[from], tx)
				mp.nCur++
				next++

			default:
				mp.addFuture(tx)
			}
		}
	}

	if removed > 0 {
		mp.evHandler("mempool: Reconcile: removed[%d]", removed)
	}

	return removed
}

// =============================================================================

// Count returns the current number of transaction in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.known)
}

// Status returns the size of each partition.
func (mp *Mempool) Status() Status {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return Status{
		Current: mp.nCur,
		Future:  mp.nFut,
		Bytes:   mp.bytes,
	}
}

// Known reports if the transaction is in the pool.
func (mp *Mempool) Known(hash common.Hash) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	_, exists := mp.known[hash]
	return exists
}

// Copy returns every transaction in the pool, current transactions in
// priority order followed by future transactions in arrival order.
func (mp *Mempool) Copy() []*types.Transaction {
	txs := mp.TopTransactions(-1, nil)

	mp.mu.RLock()
	var fut []selector.Tx
	for _, byNonce := range mp.future {
		for _, tx := range byNonce {
			fut = append(fut, tx)
		}
	}
	mp.mu.RUnlock()

	sort.Slice(fut, func(i, j int) bool { return fut[i].Arrival < fut[j].Arrival })
	for _, tx := range fut {
		txs = append(txs, tx.Transaction)
	}

	return txs
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.known = make(map[common.Hash]selector.Tx)
	mp.current = make(map[common.Address][]selector.Tx)
	mp.future = make(map[common.Address]map[uint64]selector.Tx)
	mp.nCur = 0
	mp.nFut = 0
	mp.bytes = 0
}

// =============================================================================

// nextNonce returns the nonce that extends the sender's current chain.
func (mp *Mempool) nextNonce(from common.Address, chainNonce uint64) uint64 {
	txs := mp.current[from]
	if len(txs) == 0 {
		return chainNonce
	}
	return txs[len(txs)-1].Nonce() + 1
}

// lookup finds the pooled transaction for the sender and nonce.
func (mp *Mempool) lookup(from common.Address, nonce uint64) (selector.Tx, bool) {
	for _, tx := range mp.current[from] {
		if tx.Nonce() == nonce {
			return tx, true
		}
	}

	tx, exists := mp.future[from][nonce]
	return tx, exists
}

// replace swaps old for item in whichever partition old lives.
func (mp *Mempool) replace(old selector.Tx, item selector.Tx) {
	delete(mp.known, old.Hash())
	mp.bytes -= old.Size()

	mp.known[item.Hash()] = item
	mp.bytes += item.Size()

	if i := mp.currentIndex(old); i >= 0 {
		mp.current[old.From][i] = item
		return
	}

	mp.future[old.From][old.Nonce()] = item
}

// currentIndex returns the position of the item in its sender's current
// list or -1.
func (mp *Mempool) currentIndex(item selector.Tx) int {
	for i, tx := range mp.current[item.From] {
		if tx.Hash() == item.Hash() {
			return i
		}
	}
	return -1
}

// promote moves future transactions that now extend the current chain.
func (mp *Mempool) promote(from common.Address) {
	for {
		next := mp.nextNonce(from, 0)
		tx, exists := mp.future[from][next]
		if !exists {
			return
		}

		mp.removeFuture(tx)
		mp.current[from] = append(mp.current[from], tx)
		mp.nCur++
	}
}

// demote moves the sender's current transactions from position i onward to
// the future partition.
func (mp *Mempool) demote(from common.Address, i int) {
	txs := mp.current[from]
	if i >= len(txs) {
		return
	}

	for _, tx := range txs[i:] {
		mp.addFuture(tx)
	}

	mp.nCur -= len(txs) - i
	mp.current[from] = txs[:i]
	if i == 0 {
		delete(mp.current, from)
	}
}

func (mp *Mempool) addFuture(tx selector.Tx) {
	if mp.future[tx.From] == nil {
		mp.future[tx.From] = make(map[uint64]selector.Tx)
	}
	mp.future[tx.From][tx.Nonce()] = tx
	mp.nFut++
}

func (mp *Mempool) removeFuture(tx selector.Tx) {
	if _, exists := mp.future[tx.From][tx.Nonce()]; !exists {
		return
	}

	delete(mp.future[tx.From], tx.Nonce())
	mp.nFut--
	if len(mp.future[tx.From]) == 0 {
		delete(mp.future, tx.From)
	}
}

// =============================================================================

// enforceLimits evicts transactions until the pool fits its limits. The
// current partition loses the tail of the sender with the lowest priority
// tail and the future partition loses its oldest arrival. Over the byte
// limit, current entries go before future ones.
func (mp *Mempool) enforceLimits() {
	for mp.limits.Current > 0 && mp.nCur > mp.limits.Current {
		mp.evictCurrent()
	}

	for mp.limits.Future > 0 && mp.nFut > mp.limits.Future {
		mp.evictFuture()
	}

	for mp.limits.Bytes > 0 && mp.bytes > mp.limits.Bytes {
		switch {
		case mp.nCur > 0:
			mp.evictCurrent()
		case mp.nFut > 0:
			mp.evictFuture()
		default:
			return
		}
	}
}

func (mp *Mempool) evictCurrent() {
	var victim *selector.Tx
	for _, txs := range mp.current {
		tail := txs[len(txs)-1]
		if victim == nil || lowerPriority(tail, *victim) {
			victim = &tail
		}
	}
	if victim == nil {
		return
	}

	txs := mp.current[victim.From]
	mp.current[victim.From] = txs[:len(txs)-1]
	if len(txs) == 1 {
		delete(mp.current, victim.From)
	}
	mp.nCur--

	delete(mp.known, victim.Hash())
	mp.bytes -= victim.Size()

	mp.evHandler("mempool: evict: current: tx[%s] from[%s] nonce[%d]", victim.Hash(), victim.From, victim.Nonce())
}

func (mp *Mempool) evictFuture() {
	var victim *selector.Tx
	for _, byNonce := range mp.future {
		for _, tx := range byNonce {
			tx := tx
			if victim == nil || tx.Arrival < victim.Arrival {
				victim = &tx
			}
		}
	}
	if victim == nil {
		return
	}

	mp.removeFuture(*victim)
	delete(mp.known, victim.Hash())
	mp.bytes -= victim.Size()

	mp.evHandler("mempool: evict: future: tx[%s] from[%s] nonce[%d]", victim.Hash(), victim.From, victim.Nonce())
}

// lowerPriority reports if a should be evicted before b.
func lowerPriority(a selector.Tx, b selector.Tx) bool {
	switch a.GasPrice().Cmp(b.GasPrice()) {
	case -1:
		return true
	case 1:
		return false
	}
	return a.Arrival > b.Arrival
}
