// Package database handles all the lower level support for maintaining the
// blockchain on disk: block headers, bodies and chain details next to the
// account state trie, and the choice of the canonical chain.
package database

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ardanlabs/ethcore/foundation/blockchain/block"
	"github.com/ardanlabs/ethcore/foundation/blockchain/executive"
	"github.com/ardanlabs/ethcore/foundation/blockchain/genesis"
	"github.com/ardanlabs/ethcore/foundation/blockchain/overlay"
	"github.com/ardanlabs/ethcore/foundation/blockchain/seal"
	"github.com/ardanlabs/ethcore/foundation/blockchain/storage"
	"github.com/ardanlabs/ethcore/foundation/blockchain/storage/memory"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// Set of error variables for the chain database.
var (
	ErrAlreadyKnown    = errors.New("block already known")
	ErrUnknownParent   = errors.New("block parent unknown")
	ErrGenesisMismatch = errors.New("database was built from a different genesis")
)

// headerCacheSize is the number of recent headers kept in memory.
const headerCacheSize = 512

// EventHandler defines a function that is called when events
// occur in the processing of the chain.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to open the chain.
type Config struct {
	Store     storage.Store
	Genesis   genesis.Genesis
	Engine    seal.Engine
	Executor  executive.Executor
	EvHandler EventHandler
	DBOptions []overlay.Option
}

// =============================================================================

// BlockChain manages the blocks and state stored on disk.
type BlockChain struct {
	importMu sync.Mutex
	headMu   sync.RWMutex

	store     storage.Store
	db        *overlay.Overlay
	genesis   genesis.Genesis
	engine    seal.Engine
	executor  executive.Executor
	signer    types.Signer
	evHandler EventHandler

	genesisHeader *types.Header
	head          *types.Header
	headers       *lru.Cache[common.Hash, *types.Header]
}

// New opens the chain stored in the store, writing the genesis block first
// if the store is empty.
func New(cfg Config) (*BlockChain, error) {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Engine == nil {
		return nil, errors.New("chain requires a seal engine")
	}

	executor := cfg.Executor
	if executor == nil {
		executor = executive.NewTransfer(cfg.Genesis.Signer())
	}

	options := append([]overlay.Option{overlay.WithEvHandler(overlay.EventHandler(ev))}, cfg.DBOptions...)

	bc := BlockChain{
		store:     cfg.Store,
		db:        overlay.New(cfg.Store, options...),
		genesis:   cfg.Genesis,
		engine:    cfg.Engine,
		executor:  executor,
		signer:    cfg.Genesis.Signer(),
		evHandler: ev,
		headers:   lru.NewCache[common.Hash, *types.Header](headerCacheSize),
	}

	genesisHeader, err := bc.genesisHeaderOf(cfg.Genesis)
	if err != nil {
		return nil, err
	}
	bc.genesisHeader = genesisHeader

	head, err := bc.store.Get(lastBlockKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if err := bc.writeGenesis(); err != nil {
			return nil, err
		}
		bc.head = genesisHeader

	case err != nil:
		return nil, fmt.Errorf("read head: %w", err)

	default:
		stored, err := bc.CanonicalHash(0)
		if err != nil {
			return nil, fmt.Errorf("read genesis: %w", err)
		}
		if stored != genesisHeader.Hash() {
			return nil, fmt.Errorf("%w: stored %s, genesis %s", ErrGenesisMismatch, stored, genesisHeader.Hash())
		}

		header, err := bc.Header(common.BytesToHash(head))
		if err != nil {
			return nil, fmt.Errorf("read head header: %w", err)
		}
		bc.head = header
	}

	ev("database: New: head: blk[%d] hash[%s]", bc.head.Number, bc.head.Hash())

	return &bc, nil
}

// genesisHeaderOf builds the genesis header without touching the store.
func (bc *BlockChain) genesisHeaderOf(gen genesis.Genesis) (*types.Header, error) {
	scratch := overlay.New(memory.New())
	defer scratch.Close()

	header, err := gen.Commit(scratch)
	if err != nil {
		return nil, fmt.Errorf("build genesis: %w", err)
	}

	return header, nil
}

// writeGenesis commits the genesis state and block to the store.
func (bc *BlockChain) writeGenesis() error {
	header, err := bc.genesis.Commit(bc.db)
	if err != nil {
		return fmt.Errorf("build genesis: %w", err)
	}

	if err := bc.db.Commit(); err != nil {
		return fmt.Errorf("write genesis state: %w", err)
	}

	blk := types.NewBlockWithHeader(header)
	details := Details{
		Number:          0,
		TotalDifficulty: new(big.Int).Set(header.Difficulty),
	}

	entries, err := blockEntries(blk, details)
	if err != nil {
		return err
	}
	entries = append(entries, canonicalEntry(0, header.Hash()), headEntry(header.Hash()))

	if err := bc.store.Write(entries); err != nil {
		return fmt.Errorf("write genesis block: %w", err)
	}

	bc.evHandler("database: writeGenesis: hash[%s] root[%s]", header.Hash(), header.Root)

	return nil
}

// Close releases the state overlay and closes the store.
func (bc *BlockChain) Close() error {
	bc.db.Close()
	return bc.store.Close()
}

// DB returns the state overlay. Callers building blocks should take a Copy.
func (bc *BlockChain) DB() *overlay.Overlay {
	return bc.db
}

// Genesis returns the genesis the chain was built from.
func (bc *BlockChain) Genesis() genesis.Genesis {
	return bc.genesis
}

// =============================================================================

// IsKnown reports if the block is stored.
func (bc *BlockChain) IsKnown(hash common.Hash) bool {
	if bc.headers.Contains(hash) {
		return true
	}

	exists, err := bc.store.Has(headerKey(hash))
	return err == nil && exists
}

// Header returns the header of the block.
func (bc *BlockChain) Header(hash common.Hash) (*types.Header, error) {
	if h, exists := bc.headers.Get(hash); exists {
		return types.CopyHeader(h), nil
	}

	data, err := bc.store.Get(headerKey(hash))
	if err != nil {
		return nil, fmt.Errorf("header %s: %w", hash, err)
	}

	var h types.Header
	if err := rlp.DecodeBytes(data, &h); err != nil {
		return nil, fmt.Errorf("decode header %s: %w", hash, err)
	}
	bc.headers.Add(hash, &h)

	return types.CopyHeader(&h), nil
}

// Body returns the transactions and uncles of the block.
func (bc *BlockChain) Body(hash common.Hash) (*types.Body, error) {
	data, err := bc.store.Get(bodyKey(hash))
	if err != nil {
		return nil, fmt.Errorf("body %s: %w", hash, err)
	}

	var body types.Body
	if err := rlp.DecodeBytes(data, &body); err != nil {
		return nil, fmt.Errorf("decode body %s: %w", hash, err)
	}

	return &body, nil
}

// Block returns the full block.
func (bc *BlockChain) Block(hash common.Hash) (*types.Block, error) {
	header, err := bc.Header(hash)
	if err != nil {
		return nil, err
	}

	body, err := bc.Body(hash)
	if err != nil {
		return nil, err
	}

	return types.NewBlockWithHeader(header).WithBody(*body), nil
}

// Details returns the chain details of the block.
func (bc *BlockChain) Details(hash common.Hash) (Details, error) {
	data, err := bc.store.Get(detailsKey(hash))
	if err != nil {
		return Details{}, fmt.Errorf("details %s: %w", hash, err)
	}

	var details Details
	if err := rlp.DecodeBytes(data, &details); err != nil {
		return Details{}, fmt.Errorf("decode details %s: %w", hash, err)
	}

	return details, nil
}

// CanonicalHash returns the hash of the canonical block at number.
func (bc *BlockChain) CanonicalHash(number uint64) (common.Hash, error) {
	if head := bc.CurrentHeader(); head != nil && number > head.Number.Uint64() {
		return common.Hash{}, fmt.Errorf("block %d: %w", number, storage.ErrNotFound)
	}

	data, err := bc.store.Get(canonicalKey(number))
	if err != nil {
		return common.Hash{}, fmt.Errorf("block %d: %w", number, err)
	}

	return common.BytesToHash(data), nil
}

// BlockByNumber returns the canonical block at number.
func (bc *BlockChain) BlockByNumber(number uint64) (*types.Block, error) {
	hash, err := bc.CanonicalHash(number)
	if err != nil {
		return nil, err
	}

	return bc.Block(hash)
}

// TotalDifficulty returns the total difficulty of the chain ending at hash.
func (bc *BlockChain) TotalDifficulty(hash common.Hash) (*big.Int, error) {
	details, err := bc.Details(hash)
	if err != nil {
		return nil, err
	}

	return details.TotalDifficulty, nil
}

// =============================================================================

// Iterator walks the canonical chain starting with block number 1.
type Iterator struct {
	bc      *BlockChain
	current uint64
	last    uint64
}

// ForEach returns an iterator over the canonical chain as of now.
func (bc *BlockChain) ForEach() *Iterator {
	return &Iterator{
		bc:   bc,
		last: bc.CurrentHeader().Number.Uint64(),
	}
}

// Next retrieves the next canonical block.
func (it *Iterator) Next() (*types.Block, error) {
	if it.Done() {
		return nil, storage.ErrNotFound
	}

	it.current++
	return it.bc.BlockByNumber(it.current)
}

// Done returns the end of chain value.
func (it *Iterator) Done() bool {
	return it.current >= it.last
}

// =============================================================================

// newBlock constructs a working block over its own overlay handle.
func (bc *BlockChain) newBlock(chain block.Chain, author common.Address) *block.Block {
	return block.New(block.Config{
		Chain:     chain,
		DB:        bc.db.Copy(),
		Author:    author,
		EvHandler: block.EventHandler(bc.evHandler),
	})
}

// NewBlock constructs a working block synced to the head of the chain. The
// caller must close it.
func (bc *BlockChain) NewBlock(author common.Address) (*block.Block, error) {
	b := bc.newBlock(bc, author)

	if _, err := b.Sync(); err != nil {
		b.Close()
		return nil, err
	}

	return b, nil
}
