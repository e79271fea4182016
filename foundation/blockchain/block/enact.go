package block

import (
	"fmt"
	"math/big"

	"github.com/ardanlabs/ethcore/foundation/blockchain/seal"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"
)

// Uncle inclusion rules.
const (
	MaxUncles     = 2
	MaxUncleDepth = 6
)

// EnactOn replays the block on top of its parent's state. The block must
// already have passed header verification. It returns the increase in total
// difficulty the block brings.
func (b *Block) EnactOn(blk *types.Block) (*big.Int, error) {
	if b.phase == PhaseSealed {
		return nil, ErrInvalidOperationOnSealedBlock
	}
	if b.chain == nil {
		return nil, ErrUnknownChain
	}

	parent, err := b.chain.Header(blk.ParentHash())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnknownParent, blk.ParentHash(), err)
	}

	if err := b.chain.Engine().Verify(seal.IgnoreSeal, blk.Header(), parent, nil); err != nil {
		return nil, err
	}

	if b.previous == nil || b.previous.Hash() != parent.Hash() {
		if !b.state.DB().Exists(parent.Root) {
			return nil, &MismatchError{Err: ErrInvalidStateRoot, Expected: parent.Root, Got: "not found in database"}
		}
		b.previous = types.CopyHeader(parent)
	}

	if err := b.ResetCurrent(blk.Time()); err != nil {
		return nil, err
	}

	return b.Enact(blk)
}

// Enact replays the block on top of the previous header. The current header
// must have been reset against that previous header. Any failure during the
// replay leaves the overlay rolled back.
func (b *Block) Enact(blk *types.Block) (*big.Int, error) {
	if b.phase == PhaseSealed {
		return nil, ErrInvalidOperationOnSealedBlock
	}
	if b.chain == nil {
		return nil, ErrUnknownChain
	}
	if b.current == nil || b.previous == nil {
		return nil, ErrNotReset
	}

	tdIncrease, err := b.enact(blk)
	if err != nil {
		b.state.DB().Rollback()
		return nil, err
	}

	return tdIncrease, nil
}

func (b *Block) enact(blk *types.Block) (*big.Int, error) {
	if b.current.ParentHash != b.previous.Hash() || blk.ParentHash() != b.previous.Hash() {
		return nil, &MismatchError{Err: ErrInvalidParentHash, Expected: b.previous.Hash(), Got: blk.ParentHash()}
	}

	b.current = blk.Header()

	lastHashes := b.chain.LastHashes(b.current.ParentHash)

	for i, tx := range blk.Transactions() {
		if _, err := b.Execute(lastHashes, tx); err != nil {
			return nil, &TxError{Index: i, Err: err}
		}
	}

	receiptsRoot := types.DeriveSha(types.Receipts(b.receipts), trie.NewStackTrie(nil))
	if receiptsRoot != b.current.ReceiptHash {
		return nil, &MismatchError{Err: ErrInvalidReceiptsStateRoot, Expected: b.current.ReceiptHash, Got: receiptsRoot}
	}

	if bloom := types.MergeBloom(b.receipts); bloom != b.current.Bloom {
		return nil, &MismatchError{Err: ErrInvalidLogBloom, Expected: b.current.Bloom, Got: bloom}
	}

	tdIncrease := new(big.Int).Set(b.current.Difficulty)

	uncles := blk.Uncles()
	if len(uncles) > MaxUncles {
		return nil, &MismatchError{Err: ErrTooManyUncles, Expected: MaxUncles, Got: len(uncles)}
	}

	rewarded, err := b.verifyUncles(uncles)
	if err != nil {
		return nil, err
	}

	number := b.current.Number.Uint64()
	if err := b.ApplyRewards(rewarded, b.chain.Engine().BlockReward(number)); err != nil {
		return nil, err
	}

	removeEmpty := number >= b.chain.Params().EIP158Block
	root, err := b.state.Commit(removeEmpty)
	if err != nil {
		return nil, fmt.Errorf("commit state: %w", err)
	}

	if b.current.Root != b.previous.Root && b.current.Root != root {
		return nil, &MismatchError{Err: ErrInvalidStateRoot, Expected: b.current.Root, Got: root}
	}

	if b.current.GasUsed != b.GasUsed() {
		return nil, &MismatchError{Err: ErrInvalidGasUsed, Expected: b.current.GasUsed, Got: b.GasUsed()}
	}

	b.uncles = uncles
	b.phase = PhaseCommitted

	return tdIncrease, nil
}

// verifyUncles checks the uncles against the chain and returns the ones that
// earn a reward.
func (b *Block) verifyUncles(uncles []*types.Header) ([]*types.Header, error) {
	excluded := b.chain.AllKinFrom(b.current.ParentHash, MaxUncleDepth)
	excluded.Add(b.current.Hash())

	rewarded := make([]*types.Header, 0, len(uncles))
	for i, uncle := range uncles {
		hash := uncle.Hash()
		if excluded.Contains(hash) {
			return nil, &UncleError{Index: i, Err: fmt.Errorf("%w: %s", ErrUncleInChain, hash)}
		}
		excluded.Add(hash)

		uncleParent, err := b.chain.Header(uncle.ParentHash)
		if err != nil {
			return nil, &UncleError{Index: i, Err: fmt.Errorf("%w: %s: %w", ErrUnknownParent, uncle.ParentHash, err)}
		}

		depth := new(big.Int).Sub(b.current.Number, uncle.Number)
		switch {
		case depth.Cmp(big.NewInt(MaxUncleDepth)) > 0:
			return nil, &UncleError{Index: i, Err: &MismatchError{Err: ErrUncleTooOld, Expected: b.current.Number, Got: uncle.Number}}
		case depth.Cmp(common.Big1) < 0:
			return nil, &UncleError{Index: i, Err: &MismatchError{Err: ErrUncleIsBrother, Expected: b.current.Number, Got: uncle.Number}}
		}

		// The uncle's parent must be the ancestor one generation above the
		// uncle's own depth.
		expected, err := b.chain.Header(b.current.ParentHash)
		if err != nil {
			return nil, &UncleError{Index: i, Err: fmt.Errorf("%w: %s: %w", ErrUnknownParent, b.current.ParentHash, err)}
		}
		for gen := int64(0); gen < depth.Int64(); gen++ {
			if expected, err = b.chain.Header(expected.ParentHash); err != nil {
				return nil, &UncleError{Index: i, Err: fmt.Errorf("%w: %w", ErrUncleParentNotInChain, err)}
			}
		}
		if expected.Hash() != uncleParent.Hash() {
			return nil, &UncleError{Index: i, Err: &MismatchError{Err: ErrUncleParentNotInChain, Expected: expected.Hash(), Got: uncleParent.Hash()}}
		}

		if err := b.chain.Engine().Verify(seal.IgnoreSeal, uncle, uncleParent, nil); err != nil {
			return nil, &UncleError{Index: i, Err: err}
		}

		rewarded = append(rewarded, uncle)
	}

	return rewarded, nil
}

// ApplyRewards credits the author with the block reward plus a bonus for
// each uncle, and each uncle's author with a reward that shrinks with the
// uncle's depth.
func (b *Block) ApplyRewards(uncles []*types.Header, reward *uint256.Int) error {
	if b.phase == PhaseSealed {
		return ErrInvalidOperationOnSealedBlock
	}
	if b.current == nil {
		return ErrNotReset
	}

	number := b.current.Number.Uint64()

	total := new(uint256.Int).Set(reward)
	bonus := new(uint256.Int).Rsh(reward, 5)

	for _, uncle := range uncles {
		depthFactor := uint256.NewInt(8 + uncle.Number.Uint64() - number)

		uncleReward := new(uint256.Int).Mul(reward, depthFactor)
		uncleReward.Rsh(uncleReward, 3)
		b.state.AddBalance(uncle.Coinbase, uncleReward)

		total.Add(total, bonus)
	}

	b.state.AddBalance(b.current.Coinbase, total)

	return nil
}
