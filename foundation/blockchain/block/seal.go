package block

import (
	"fmt"

	"github.com/ardanlabs/ethcore/foundation/blockchain/seal"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
)

// CommitToSeal picks the uncles, applies the rewards, commits the state and
// fills in every header field except the seal.
func (b *Block) CommitToSeal(extra []byte) error {
	if b.phase == PhaseSealed {
		return ErrInvalidOperationOnSealedBlock
	}
	if b.chain == nil {
		return ErrUnknownChain
	}
	if b.current == nil || b.previous == nil {
		return ErrNotReset
	}

	uncles, err := b.uncleCandidates()
	if err != nil {
		return err
	}

	number := b.current.Number.Uint64()

	b.uncles = uncles
	b.current.UncleHash = types.CalcUncleHash(uncles)
	b.current.TxHash = types.DeriveSha(types.Transactions(b.txs), trie.NewStackTrie(nil))
	b.current.ReceiptHash = types.DeriveSha(types.Receipts(b.receipts), trie.NewStackTrie(nil))
	b.current.Bloom = types.MergeBloom(b.receipts)
	b.current.GasUsed = b.GasUsed()
	b.current.Extra = append([]byte(nil), extra...)

	if err := b.ApplyRewards(uncles, b.chain.Engine().BlockReward(number)); err != nil {
		return err
	}

	root, err := b.state.Commit(number >= b.chain.Params().EIP158Block)
	if err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	b.current.Root = root

	b.phase = PhaseCommitted

	b.evHandler("block: CommitToSeal: blk[%d] txs[%d] uncles[%d] root[%s]", number, len(b.txs), len(uncles), root)

	return nil
}

// uncleCandidates returns up to MaxUncles children of recent ancestors that
// no block within MaxUncleDepth generations has already referenced.
func (b *Block) uncleCandidates() ([]*types.Header, error) {
	if b.previous.Number.Sign() == 0 {
		return nil, nil
	}

	excluded := b.chain.AllKinFrom(b.current.ParentHash, MaxUncleDepth)
	genesis := b.chain.GenesisHash()

	var uncles []*types.Header
	p := b.previous.ParentHash

	for gen := 0; gen < MaxUncleDepth && p != genesis && len(uncles) < MaxUncles; gen++ {
		for _, hash := range b.chain.Children(p) {
			if excluded.Contains(hash) {
				continue
			}

			uncle, err := b.chain.Header(hash)
			if err != nil {
				return nil, fmt.Errorf("uncle candidate %s: %w", hash, err)
			}

			uncles = append(uncles, uncle)
			excluded.Add(hash)
			if len(uncles) == MaxUncles {
				break
			}
		}

		ancestor, err := b.chain.Header(p)
		if err != nil {
			return nil, fmt.Errorf("uncle ancestor %s: %w", p, err)
		}
		p = ancestor.ParentHash
	}

	return uncles, nil
}

// SealBlock attaches the seal to the committed header. The sealed header
// must carry the same content as the committed one.
func (b *Block) SealBlock(sealed *types.Header) error {
	if b.phase == PhaseSealed {
		return ErrInvalidOperationOnSealedBlock
	}
	if b.phase != PhaseCommitted {
		return ErrNotCommitted
	}

	if seal.SealHash(sealed) != seal.SealHash(b.current) {
		return ErrSealMismatch
	}

	if err := b.chain.Engine().Verify(seal.CheckEverything, sealed, b.previous, nil); err != nil {
		return fmt.Errorf("seal block: %w", err)
	}

	b.current = types.CopyHeader(sealed)
	b.phase = PhaseSealed

	b.evHandler("block: SealBlock: blk[%d] hash[%s]", b.current.Number, b.current.Hash())

	return nil
}

// Bytes returns the encoded sealed block.
func (b *Block) Bytes() ([]byte, error) {
	if b.phase != PhaseSealed {
		return nil, ErrNotCommitted
	}

	return rlp.EncodeToBytes(b.Block())
}
