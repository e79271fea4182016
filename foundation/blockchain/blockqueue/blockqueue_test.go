package blockqueue_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ardanlabs/ethcore/foundation/blockchain/blockqueue"
	"github.com/ardanlabs/ethcore/foundation/blockchain/seal"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

type chain struct {
	known  mapset.Set[common.Hash]
	engine *seal.PoW
}

func newChain(known ...common.Hash) *chain {
	return &chain{
		known:  mapset.NewSet(known...),
		engine: seal.NewPoW(seal.Config{BlockReward: uint256.NewInt(1), NoProof: true}),
	}
}

func (c *chain) IsKnown(hash common.Hash) bool { return c.known.Contains(hash) }
func (c *chain) Engine() seal.Engine { return c.engine }

func newQueue(c *chain, maxUnknown int) *blockqueue.Queue {
	return blockqueue.New(blockqueue.Config{
		Chain:      c,
		MaxUnknown: maxUnknown,
		Now:        func() time.Time { return now },
	})
}

// child returns an empty block on top of parent. A zero gas limit makes
// the block fail verification.
func child(parent common.Hash, number int64, at time.Time, gasLimit uint64) ([]byte, *types.Block) {
	header := types.Header{
		ParentHash:  parent,
		UncleHash:   types.EmptyUncleHash,
		TxHash:      types.EmptyTxsHash,
		ReceiptHash: types.EmptyReceiptsHash,
		Number:      big.NewInt(number),
		Difficulty:  big.NewInt(131072),
		GasLimit:    gasLimit,
		Time:        uint64(at.Unix()),
	}
	blk := types.NewBlockWithHeader(&header)

	data, err := rlp.EncodeToBytes(blk)
	if err != nil {
		panic(err)
	}

	return data, blk
}

// =============================================================================

func TestImport(t *testing.T) {
	genesis := common.Hash{0x01}
	past := now.Add(-time.Minute)

	d1, b1 := child(genesis, 1, past, params.GenesisGasLimit)
	d2, b2 := child(b1.Hash(), 2, past, params.GenesisGasLimit)
	d3, _ := child(b2.Hash(), 3, past, params.GenesisGasLimit)

	t.Run("results", func(t *testing.T) {
		c := newChain(genesis)
		q := newQueue(c, 0)

		require.Equal(t, blockqueue.Malformed, q.Import([]byte{0xc0, 0x01}, false))

		_, invalid := child(genesis, 1, past, 1)
		data, err := rlp.EncodeToBytes(invalid)
		require.NoError(t, err)
		require.Equal(t, blockqueue.Malformed, q.Import(data, false), "unsafe blocks get their header checked")

		require.Equal(t, blockqueue.UnknownParent, q.Import(d3, false))
		require.Equal(t, blockqueue.UnknownParent, q.Import(d2, false))
		require.Equal(t, blockqueue.AlreadyKnown, q.Import(d2, false))
		require.Equal(t, blockqueue.Success, q.Import(d1, false))

		require.Equal(t, blockqueue.Status{Ready: 3}, q.Status())

		blocks, more := q.Drain(context.Background(), 2)
		require.True(t, more)
		require.Len(t, blocks, 2)
		require.Equal(t, b1.Hash(), blocks[0].Hash())
		require.Equal(t, b2.Hash(), blocks[1].Hash())

		blocks, more = q.Drain(context.Background(), 2)
		require.False(t, more)
		require.Len(t, blocks, 1)

		c.known.Add(b1.Hash())
		require.Equal(t, blockqueue.AlreadyInChain, q.Import(d1, false))
	})

	t.Run("future", func(t *testing.T) {
		c := newChain(genesis)
		q := newQueue(c, 0)

		later := now.Add(time.Minute)
		df, bf := child(genesis, 1, later, params.GenesisGasLimit)
		du, _ := child(bf.Hash(), 2, later.Add(time.Second), params.GenesisGasLimit)

		require.Equal(t, blockqueue.FutureTimeKnown, q.Import(df, false))
		require.Equal(t, blockqueue.FutureTimeUnknown, q.Import(du, false))
		require.Equal(t, 2, q.Status().Future)

		q.Tick()
		require.Equal(t, 2, q.Status().Future, "nothing is due yet")

		now = now.Add(2 * time.Minute)
		defer func() { now = now.Add(-2 * time.Minute) }()

		q.Tick()
		require.Equal(t, blockqueue.Status{Ready: 2}, q.Status())
	})

	t.Run("bad", func(t *testing.T) {
		c := newChain(genesis)
		q := newQueue(c, 0)

		require.Equal(t, blockqueue.UnknownParent, q.Import(d2, false))
		require.Equal(t, blockqueue.UnknownParent, q.Import(d3, false))

		q.NoteBad(b1.Hash())
		require.Equal(t, blockqueue.Status{Bad: 3}, q.Status())
		require.Equal(t, blockqueue.BadChain, q.Import(d2, false))
		require.Equal(t, blockqueue.BadChain, q.Import(d1, false), "a block is refused once its hash is bad")
	})

	t.Run("verify", func(t *testing.T) {
		c := newChain(genesis)
		q := newQueue(c, 0)

		dBad, bBad := child(genesis, 1, past, 1)
		dAfter, _ := child(bBad.Hash(), 2, past, params.GenesisGasLimit)

		require.Equal(t, blockqueue.Success, q.Import(dBad, true))
		require.Equal(t, blockqueue.Success, q.Import(dAfter, true))
		require.Equal(t, blockqueue.Success, q.Import(d1, true))

		blocks, more := q.Drain(context.Background(), 10)
		require.False(t, more)
		require.Len(t, blocks, 1)
		require.Equal(t, b1.Hash(), blocks[0].Hash())
		require.Equal(t, 2, q.Status().Bad)
	})

	t.Run("cancelled", func(t *testing.T) {
		c := newChain(genesis)
		q := newQueue(c, 0)

		require.Equal(t, blockqueue.Success, q.Import(d1, true))
		require.Equal(t, blockqueue.Success, q.Import(d2, true))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		blocks, more := q.Drain(ctx, 10)
		require.Empty(t, blocks)
		require.True(t, more)
		require.Equal(t, blockqueue.Status{Ready: 2}, q.Status(), "unverified blocks are not bad")
		require.Equal(t, blockqueue.AlreadyKnown, q.Import(d1, true))

		blocks, more = q.Drain(context.Background(), 10)
		require.False(t, more)
		require.Len(t, blocks, 2)
		require.Equal(t, b1.Hash(), blocks[0].Hash())
		require.Equal(t, b2.Hash(), blocks[1].Hash())
	})

	t.Run("imported", func(t *testing.T) {
		c := newChain(genesis)
		q := newQueue(c, 0)

		require.Equal(t, blockqueue.UnknownParent, q.Import(d2, false))

		c.known.Add(b1.Hash())
		q.NoteImported(b1.Hash())
		require.Equal(t, blockqueue.Status{Ready: 1}, q.Status())

		q.Clear()
		require.Zero(t, q.Size())
	})
}

func TestMaxUnknown(t *testing.T) {
	q := newQueue(newChain(), 2)

	past := now.Add(-time.Hour)
	d1, _ := child(common.Hash{0x0a}, 5, past, params.GenesisGasLimit)
	d2, _ := child(common.Hash{0x0b}, 5, past.Add(time.Second), params.GenesisGasLimit)
	d3, _ := child(common.Hash{0x0c}, 5, past.Add(2*time.Second), params.GenesisGasLimit)
	d0, _ := child(common.Hash{0x0d}, 5, past.Add(-time.Second), params.GenesisGasLimit)

	require.Equal(t, blockqueue.UnknownParent, q.Import(d1, false))
	require.Equal(t, blockqueue.UnknownParent, q.Import(d2, false))

	q.Import(d3, false)
	require.Equal(t, 2, q.Status().Unknown, "a block newer than every waiting block is dropped")

	q.Import(d0, false)
	require.Equal(t, 2, q.Status().Unknown)
	require.Equal(t, blockqueue.UnknownParent, q.Import(d2, false), "the newest waiting block was evicted")
}
