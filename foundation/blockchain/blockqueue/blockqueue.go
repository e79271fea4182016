// Package blockqueue holds blocks received from peers or mined locally until
// their parents are in the chain, verifying them in parallel before they are
// handed to the chain for import.
package blockqueue

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ardanlabs/ethcore/foundation/blockchain/seal"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/sync/errgroup"
)

// ImportResult represents what happened to a block handed to the queue.
type ImportResult int

// Set of import results.
const (
	Success ImportResult = iota
	UnknownParent
	FutureTimeKnown
	FutureTimeUnknown
	AlreadyInChain
	AlreadyKnown
	Malformed
	BadChain
)

func (r ImportResult) String() string {
	switch r {
	case Success:
		return "success"
	case UnknownParent:
		return "unknown parent"
	case FutureTimeKnown:
		return "future time, parent known"
	case FutureTimeUnknown:
		return "future time, parent unknown"
	case AlreadyInChain:
		return "already in chain"
	case AlreadyKnown:
		return "already known"
	case Malformed:
		return "malformed"
	case BadChain:
		return "bad chain"
	}
	return fmt.Sprintf("ImportResult(%d)", int(r))
}

// DefaultMaxUnknown is the number of blocks with unknown parents held before
// the newest are discarded.
const DefaultMaxUnknown = 1024

// EventHandler defines a function that is called when events
// occur in the processing of queued blocks.
type EventHandler func(v string, args ...any)

// Chain interface represents the behavior the queue needs from the chain.
type Chain interface {
	IsKnown(hash common.Hash) bool
	Engine() seal.Engine
}

// Config represents the configuration required to start the queue.
type Config struct {
	Chain      Chain
	MaxUnknown int
	Workers    int
	Now        func() time.Time
	EvHandler  EventHandler
}

// Status represents the number of blocks in each part of the queue.
type Status struct {
	Ready   int
	Unknown int
	Future  int
	Bad     int
}

// item is a decoded block waiting in the queue.
type item struct {
	block *types.Block
	data  []byte
}

// =============================================================================

// Queue manages the blocks waiting to be imported.
type Queue struct {
	chain      Chain
	maxUnknown int
	workers    int
	now        func() time.Time
	evHandler  EventHandler

	mu       sync.Mutex
	ready    []item
	readySet mapset.Set[common.Hash]
	unknown  map[common.Hash][]item
	unknownN int
	future   []item
	bad      mapset.Set[common.Hash]
	known    mapset.Set[common.Hash]
}

// New constructs a queue over the chain.
func New(cfg Config) *Queue {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	maxUnknown := cfg.MaxUnknown
	if maxUnknown <= 0 {
		maxUnknown = DefaultMaxUnknown
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Queue{
		chain:      cfg.Chain,
		maxUnknown: maxUnknown,
		workers:    workers,
		now:        now,
		evHandler:  ev,
		readySet:   mapset.NewThreadUnsafeSet[common.Hash](),
		unknown:    make(map[common.Hash][]item),
		bad:        mapset.NewThreadUnsafeSet[common.Hash](),
		known:      mapset.NewThreadUnsafeSet[common.Hash](),
	}
}

// Import decodes the block and places it in the queue. Blocks that are not
// safe get their header checked before they are accepted.
func (q *Queue) Import(data []byte, isSafe bool) ImportResult {
	var blk types.Block
	if err := rlp.DecodeBytes(data, &blk); err != nil {
		q.evHandler("blockqueue: Import: malformed: %s", err)
		return Malformed
	}

	hash := blk.Hash()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.known.Contains(hash) {
		return AlreadyKnown
	}
	if q.bad.Contains(hash) {
		return BadChain
	}
	if q.chain.IsKnown(hash) {
		return AlreadyInChain
	}

	if !isSafe {
		if err := q.chain.Engine().Verify(seal.IgnoreSeal, blk.Header(), nil, data); err != nil {
			q.evHandler("blockqueue: Import: blk[%d] hash[%s]: malformed: %s", blk.NumberU64(), hash, err)
			return Malformed
		}
	}

	return q.place(item{block: &blk, data: data})
}

// place files the item according to its time and parent.
func (q *Queue) place(it item) ImportResult {
	hash := it.block.Hash()
	parent := it.block.ParentHash()

	if q.bad.Contains(parent) {
		q.bad.Add(hash)
		q.evHandler("blockqueue: place: blk[%d] hash[%s]: bad parent[%s]", it.block.NumberU64(), hash, parent)
		return BadChain
	}

	parentKnown := q.readySet.Contains(parent) || q.chain.IsKnown(parent)

	if it.block.Time() > uint64(q.now().Unix()) {
		q.future = append(q.future, it)
		q.known.Add(hash)

		q.evHandler("blockqueue: place: blk[%d] hash[%s]: future time[%d]", it.block.NumberU64(), hash, it.block.Time())

		if parentKnown {
			return FutureTimeKnown
		}
		return FutureTimeUnknown
	}

	if !parentKnown {
		q.addUnknown(it)
		return UnknownParent
	}

	q.addReady(it)

	return Success
}

// addReady queues the item and releases every waiting descendant.
func (q *Queue) addReady(it item) {
	release := []item{it}

	for len(release) > 0 {
		it := release[0]
		release = release[1:]

		hash := it.block.Hash()
		q.ready = append(q.ready, it)
		q.readySet.Add(hash)
		q.known.Add(hash)

		if children, exists := q.unknown[hash]; exists {
			delete(q.unknown, hash)
			q.unknownN -= len(children)
			release = append(release, children...)
		}
	}
}

// addUnknown holds the item until its parent arrives. When the queue is full
// the newest waiting block is discarded.
func (q *Queue) addUnknown(it item) {
	if q.unknownN+1 > q.maxUnknown {
		newest, newestParent := -1, common.Hash{}
		for parent, children := range q.unknown {
			for i, child := range children {
				if newest < 0 || child.block.Time() > q.unknown[newestParent][newest].block.Time() {
					newest, newestParent = i, parent
				}
			}
		}

		if newest >= 0 {
			if it.block.Time() > q.unknown[newestParent][newest].block.Time() {
				return
			}
			q.removeUnknown(newestParent, newest)
		}
	}

	hash := it.block.Hash()
	parent := it.block.ParentHash()

	q.unknown[parent] = append(q.unknown[parent], it)
	q.unknownN++
	q.known.Add(hash)

	q.evHandler("blockqueue: addUnknown: blk[%d] hash[%s]: waiting for parent[%s]", it.block.NumberU64(), hash, parent)
}

func (q *Queue) removeUnknown(parent common.Hash, index int) {
	children := q.unknown[parent]
	q.known.Remove(children[index].block.Hash())

	children = append(children[:index], children[index+1:]...)
	q.unknownN--

	if len(children) == 0 {
		delete(q.unknown, parent)
		return
	}
	q.unknown[parent] = children
}

// =============================================================================

// Drain removes up to max ready blocks, verifies their seals in parallel and
// returns the ones that passed in queue order. It reports if more blocks are
// ready. Blocks left unverified because the context ended go back to the
// front of the ready list.
func (q *Queue) Drain(ctx context.Context, max int) ([]*types.Block, bool) {
	q.mu.Lock()
	n := min(max, len(q.ready))
	batch := append([]item(nil), q.ready[:n]...)
	q.ready = q.ready[n:]
	for _, it := range batch {
		q.readySet.Remove(it.block.Hash())
	}
	q.mu.Unlock()

	if len(batch) == 0 {
		return nil, false
	}

	results := make([]error, len(batch))
	verified := make([]bool, len(batch))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(q.workers)

	for i, it := range batch {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = q.chain.Engine().Verify(seal.CheckEverything, it.block.Header(), nil, it.data)
			verified[i] = true
			return nil
		})
	}
	g.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()

	var requeue []item
	blocks := make([]*types.Block, 0, len(batch))
	for i, it := range batch {
		hash := it.block.Hash()

		if !verified[i] {
			requeue = append(requeue, it)
			q.readySet.Add(hash)
			continue
		}

		q.known.Remove(hash)

		switch {
		case q.bad.Contains(it.block.ParentHash()):
			q.bad.Add(hash)
			q.evHandler("blockqueue: Drain: blk[%d] hash[%s]: bad parent", it.block.NumberU64(), hash)

		case results[i] != nil:
			q.bad.Add(hash)
			q.evHandler("blockqueue: Drain: blk[%d] hash[%s]: verify: %s", it.block.NumberU64(), hash, results[i])

		default:
			blocks = append(blocks, it.block)
		}
	}

	if len(requeue) > 0 {
		q.evHandler("blockqueue: Drain: %d blocks requeued: %s", len(requeue), ctx.Err())
		q.ready = append(requeue, q.ready...)
	}

	return blocks, len(q.ready) > 0
}

// NoteImported releases the blocks that were waiting for the imported block.
func (q *Queue) NoteImported(hash common.Hash) {
	q.mu.Lock()
	defer q.mu.Unlock()

	children, exists := q.unknown[hash]
	if !exists {
		return
	}

	delete(q.unknown, hash)
	q.unknownN -= len(children)

	for _, it := range children {
		q.known.Remove(it.block.Hash())
		q.addReady(it)
	}
}

// NoteBad marks the block as bad. Its descendants are refused.
func (q *Queue) NoteBad(hash common.Hash) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.bad.Add(hash)

	drop := []common.Hash{hash}
	for len(drop) > 0 {
		parent := drop[0]
		drop = drop[1:]

		for _, it := range q.unknown[parent] {
			child := it.block.Hash()
			q.known.Remove(child)
			q.bad.Add(child)
			drop = append(drop, child)
		}
		q.unknownN -= len(q.unknown[parent])
		delete(q.unknown, parent)
	}
}

// Tick moves the future blocks whose time has come into the queue.
func (q *Queue) Tick() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := uint64(q.now().Unix())

	var waiting []item
	for _, it := range q.future {
		if it.block.Time() > now {
			waiting = append(waiting, it)
			continue
		}

		q.known.Remove(it.block.Hash())
		result := q.place(it)

		q.evHandler("blockqueue: Tick: blk[%d] hash[%s]: %s", it.block.NumberU64(), it.block.Hash(), result)
	}
	q.future = waiting
}

// Status returns the number of blocks in each part of the queue.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Status{
		Ready:   len(q.ready),
		Unknown: q.unknownN,
		Future:  len(q.future),
		Bad:     q.bad.Cardinality(),
	}
}

// Size returns the number of blocks waiting for import.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.ready) + q.unknownN + len(q.future)
}

// Clear discards every queued block and forgets the bad ones.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ready = nil
	q.readySet.Clear()
	q.unknown = make(map[common.Hash][]item)
	q.unknownN = 0
	q.future = nil
	q.bad.Clear()
	q.known.Clear()
}
