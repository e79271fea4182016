package database

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ardanlabs/ethcore/foundation/blockchain/blockqueue"
	"github.com/ardanlabs/ethcore/foundation/blockchain/seal"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// Import verifies the block, replays it on its parent's state and stores it.
// If the chain ending with the block carries more total difficulty than the
// current head, it becomes the canonical chain and the route describes the
// blocks that left and joined it.
func (bc *BlockChain) Import(blk *types.Block) (ImportRoute, error) {
	bc.importMu.Lock()
	defer bc.importMu.Unlock()

	hash := blk.Hash()
	number := blk.NumberU64()

	if bc.IsKnown(hash) {
		return ImportRoute{}, ErrAlreadyKnown
	}

	parent, err := bc.Header(blk.ParentHash())
	if err != nil {
		return ImportRoute{}, fmt.Errorf("%w: %s", ErrUnknownParent, blk.ParentHash())
	}

	parentDetails, err := bc.Details(parent.Hash())
	if err != nil {
		return ImportRoute{}, fmt.Errorf("parent details: %w", err)
	}

	// -------------------------------------------------------------------------
	// Verify the header and body against the consensus rules.

	bc.evHandler("database: Import: validate: blk[%d]: check: header and body", number)

	data, err := rlp.EncodeToBytes(blk)
	if err != nil {
		return ImportRoute{}, fmt.Errorf("encode block: %w", err)
	}

	if err := bc.engine.Verify(seal.CheckEverything, blk.Header(), parent, data); err != nil {
		return ImportRoute{}, fmt.Errorf("verify block: %w", err)
	}

	// -------------------------------------------------------------------------
	// Replay the transactions on the parent state.

	bc.evHandler("database: Import: validate: blk[%d]: check: state transition", number)

	b := bc.newBlock(bc, blk.Coinbase())
	defer b.Close()

	tdIncrease, err := b.EnactOn(blk)
	if err != nil {
		return ImportRoute{}, fmt.Errorf("enact block: %w", err)
	}

	if err := b.State().DB().Commit(); err != nil {
		return ImportRoute{}, fmt.Errorf("write state: %w", err)
	}

	// -------------------------------------------------------------------------
	// Store the block and choose the canonical chain.

	td := new(big.Int).Add(parentDetails.TotalDifficulty, tdIncrease)

	details := Details{
		Number:          number,
		TotalDifficulty: td,
		Parent:          parent.Hash(),
	}

	entries, err := blockEntries(blk, details)
	if err != nil {
		return ImportRoute{}, err
	}

	parentDetails.Children = append(parentDetails.Children, hash)
	entry, err := detailsEntry(parent.Hash(), parentDetails)
	if err != nil {
		return ImportRoute{}, err
	}
	entries = append(entries, entry)

	head := bc.CurrentHeader()
	headTD, err := bc.TotalDifficulty(head.Hash())
	if err != nil {
		return ImportRoute{}, fmt.Errorf("head details: %w", err)
	}

	var route ImportRoute
	if td.Cmp(headTD) > 0 {
		route, err = bc.route(head, blk.Header())
		if err != nil {
			return ImportRoute{}, err
		}

		first := number - uint64(len(route.Live)) + 1
		for i, live := range route.Live {
			entries = append(entries, canonicalEntry(first+uint64(i), live))
		}
		entries = append(entries, headEntry(hash))
	}

	if err := bc.store.Write(entries); err != nil {
		return ImportRoute{}, fmt.Errorf("write block: %w", err)
	}

	if len(route.Live) > 0 {
		bc.headMu.Lock()
		bc.head = blk.Header()
		bc.headMu.Unlock()

		bc.evHandler("database: Import: new head: blk[%d] hash[%s] td[%d] dead[%d] live[%d]", number, hash, td, len(route.Dead), len(route.Live))
	} else {
		bc.evHandler("database: Import: side chain: blk[%d] hash[%s] td[%d]", number, hash, td)
	}

	return route, nil
}

// route walks back from the old and new heads to their common ancestor.
// The new head is not stored yet so the walk starts at its parent.
func (bc *BlockChain) route(from *types.Header, to *types.Header) (ImportRoute, error) {
	var dead []common.Hash
	live := []common.Hash{to.Hash()}

	a := from
	b, err := bc.Header(to.ParentHash)
	if err != nil {
		return ImportRoute{}, fmt.Errorf("route: %w", err)
	}

	step := func(h *types.Header) (*types.Header, error) {
		p, err := bc.Header(h.ParentHash)
		if err != nil {
			return nil, fmt.Errorf("route: %w", err)
		}
		return p, nil
	}

	for a.Number.Cmp(b.Number) > 0 {
		dead = append(dead, a.Hash())
		if a, err = step(a); err != nil {
			return ImportRoute{}, err
		}
	}

	for b.Number.Cmp(a.Number) > 0 {
		live = append(live, b.Hash())
		if b, err = step(b); err != nil {
			return ImportRoute{}, err
		}
	}

	for a.Hash() != b.Hash() {
		dead = append(dead, a.Hash())
		live = append(live, b.Hash())
		if a, err = step(a); err != nil {
			return ImportRoute{}, err
		}
		if b, err = step(b); err != nil {
			return ImportRoute{}, err
		}
	}

	for i, j := 0, len(live)-1; i < j; i, j = i+1, j-1 {
		live[i], live[j] = live[j], live[i]
	}

	return ImportRoute{Dead: dead, Live: live}, nil
}

// =============================================================================

// Sync imports up to max verified blocks from the queue. It returns the
// combined route, whether the queue holds more ready blocks and the number of
// blocks imported.
func (bc *BlockChain) Sync(ctx context.Context, q *blockqueue.Queue, max int) (ImportRoute, bool, int) {
	blocks, more := q.Drain(ctx, max)

	var route ImportRoute
	var count int

	for _, blk := range blocks {
		r, err := bc.Import(blk)
		switch {
		case err == nil:
			route.Merge(r)
			count++
			q.NoteImported(blk.Hash())

		case errors.Is(err, ErrAlreadyKnown):
			q.NoteImported(blk.Hash())

		case errors.Is(err, ErrUnknownParent):
			data, encErr := rlp.EncodeToBytes(blk)
			if encErr != nil {
				q.NoteBad(blk.Hash())
				continue
			}
			result := q.Import(data, true)
			bc.evHandler("database: Sync: blk[%d] hash[%s]: requeued: %s", blk.NumberU64(), blk.Hash(), result)

		default:
			bc.evHandler("database: Sync: ERROR: blk[%d] hash[%s]: %s", blk.NumberU64(), blk.Hash(), err)
			q.NoteBad(blk.Hash())
		}
	}

	return route, more, count
}
