package database

import (
	"github.com/ardanlabs/ethcore/foundation/blockchain/block"
	"github.com/ardanlabs/ethcore/foundation/blockchain/executive"
	"github.com/ardanlabs/ethcore/foundation/blockchain/seal"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// lastHashesDepth is the number of ancestor hashes handed to the executor.
const lastHashesDepth = 256

// Engine returns the seal engine that governs the chain.
func (bc *BlockChain) Engine() seal.Engine {
	return bc.engine
}

// Executor returns the transaction execution engine.
func (bc *BlockChain) Executor() executive.Executor {
	return bc.executor
}

// Signer returns the signer used to recover transaction senders.
func (bc *BlockChain) Signer() types.Signer {
	return bc.signer
}

// Params returns the chain parameters blocks are built with.
func (bc *BlockChain) Params() block.Params {
	return block.Params{
		AccountStartNonce: bc.genesis.AccountStartNonce,
		EIP158Block:       bc.genesis.EIP158Block,
	}
}

// GenesisHash returns the hash of block zero.
func (bc *BlockChain) GenesisHash() common.Hash {
	return bc.genesisHeader.Hash()
}

// CurrentHeader returns a copy of the head of the canonical chain.
func (bc *BlockChain) CurrentHeader() *types.Header {
	bc.headMu.RLock()
	defer bc.headMu.RUnlock()

	if bc.head == nil {
		return nil
	}

	return types.CopyHeader(bc.head)
}

// Children returns the known children of the block.
func (bc *BlockChain) Children(hash common.Hash) []common.Hash {
	details, err := bc.Details(hash)
	if err != nil {
		return nil
	}

	return details.Children
}

// AllKinFrom returns the parent, the ancestors for the number of generations
// and every uncle those ancestors reference.
func (bc *BlockChain) AllKinFrom(parent common.Hash, generations int) mapset.Set[common.Hash] {
	kin := mapset.NewThreadUnsafeSet(parent)
	genesis := bc.GenesisHash()

	p := parent
	for i := 0; i < generations && p != genesis; i++ {
		blk, err := bc.Block(p)
		if err != nil {
			bc.evHandler("database: AllKinFrom: ERROR: blk[%s]: %s", p, err)
			break
		}

		kin.Add(blk.ParentHash())
		for _, u := range blk.Uncles() {
			kin.Add(u.Hash())
		}

		p = blk.ParentHash()
	}

	return kin
}

// LastHashes returns the hashes of up to 256 blocks ending with parent,
// newest first.
func (bc *BlockChain) LastHashes(parent common.Hash) []common.Hash {
	hashes := make([]common.Hash, 0, lastHashesDepth)

	p := parent
	for len(hashes) < lastHashesDepth {
		h, err := bc.Header(p)
		if err != nil {
			break
		}

		hashes = append(hashes, p)
		if h.Number.Sign() == 0 {
			break
		}
		p = h.ParentHash
	}

	return hashes
}
