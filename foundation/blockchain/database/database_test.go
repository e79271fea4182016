package database

import (
	"context"
	"math/big"
	"testing"

	"github.com/ardanlabs/ethcore/foundation/blockchain/blockqueue"
	"github.com/ardanlabs/ethcore/foundation/blockchain/genesis"
	"github.com/ardanlabs/ethcore/foundation/blockchain/seal"
	"github.com/ardanlabs/ethcore/foundation/blockchain/storage"
	"github.com/ardanlabs/ethcore/foundation/blockchain/storage/leveldb"
	"github.com/ardanlabs/ethcore/foundation/blockchain/storage/memory"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"
)

const signPavel = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"

var (
	minerA = common.HexToAddress("0x6Fe6CF3c8fF57c58d24BfC869668F48BCbDb3BD9")
	minerB = common.HexToAddress("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")
	to     = common.HexToAddress("0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76")
)

func testGenesis(t *testing.T) genesis.Genesis {
	pk, err := crypto.HexToECDSA(signPavel)
	require.NoError(t, err)

	gen := genesis.Default()
	gen.Balances = map[string]string{
		crypto.PubkeyToAddress(pk.PublicKey).Hex(): "1000000000000000000",
	}

	return gen
}

func openChain(t *testing.T, store storage.Store, gen genesis.Genesis) *BlockChain {
	reward, err := gen.Reward()
	require.NoError(t, err)

	bc, err := New(Config{
		Store:   store,
		Genesis: gen,
		Engine:  seal.NewPoW(seal.Config{BlockReward: reward, NoProof: true, Signer: gen.Signer()}),
	})
	require.NoError(t, err)

	return bc
}

// mine builds and seals a block on top of parent without importing it.
func mine(t *testing.T, bc *BlockChain, parent *types.Header, author common.Address, txs ...*types.Transaction) *types.Block {
	b := bc.newBlock(bc, author)
	defer b.Close()

	_, err := b.SyncTo(parent)
	require.NoError(t, err)

	lastHashes := bc.LastHashes(parent.Hash())
	for _, tx := range txs {
		_, err := b.Execute(lastHashes, tx)
		require.NoError(t, err)
	}

	require.NoError(t, b.CommitToSeal(nil))

	sealed, err := bc.Engine().Seal(context.Background(), b.Header())
	require.NoError(t, err)
	require.NoError(t, b.SealBlock(sealed))

	return b.Block()
}

func sign(t *testing.T, bc *BlockChain, nonce uint64) *types.Transaction {
	pk, err := crypto.HexToECDSA(signPavel)
	require.NoError(t, err)

	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{Nonce: nonce, GasPrice: big.NewInt(1), Gas: 21000, To: &to, Value: big.NewInt(10)}), bc.Signer(), pk)
	require.NoError(t, err)

	return tx
}

// =============================================================================

func TestGenesis(t *testing.T) {
	gen := testGenesis(t)
	dir := t.TempDir()

	store, err := leveldb.New(dir)
	require.NoError(t, err)

	bc := openChain(t, store, gen)
	head := bc.CurrentHeader()
	require.Equal(t, uint64(0), head.Number.Uint64())
	require.Equal(t, bc.GenesisHash(), head.Hash())

	hash, err := bc.CanonicalHash(0)
	require.NoError(t, err)
	require.Equal(t, head.Hash(), hash)

	td, err := bc.TotalDifficulty(hash)
	require.NoError(t, err)
	require.Zero(t, head.Difficulty.Cmp(td))

	blk := mine(t, bc, head, minerA, sign(t, bc, 0))
	_, err = bc.Import(blk)
	require.NoError(t, err)
	require.NoError(t, bc.Close())

	t.Run("reopen", func(t *testing.T) {
		store, err := leveldb.New(dir)
		require.NoError(t, err)

		bc := openChain(t, store, gen)
		defer bc.Close()

		require.Equal(t, blk.Hash(), bc.CurrentHeader().Hash())
		require.Equal(t, 1, bc.CurrentHeader().Number.Sign())
	})

	t.Run("mismatch", func(t *testing.T) {
		store, err := leveldb.New(dir)
		require.NoError(t, err)
		defer store.Close()

		other := gen
		other.ExtraData = "another chain"

		reward, err := other.Reward()
		require.NoError(t, err)

		_, err = New(Config{
			Store:   store,
			Genesis: other,
			Engine:  seal.NewPoW(seal.Config{BlockReward: reward, NoProof: true, Signer: other.Signer()}),
		})
		require.ErrorIs(t, err, ErrGenesisMismatch)
	})
}

func TestImport(t *testing.T) {
	bc := openChain(t, memory.New(), testGenesis(t))
	defer bc.Close()

	genesisHeader := bc.CurrentHeader()

	b1 := mine(t, bc, genesisHeader, minerA, sign(t, bc, 0), sign(t, bc, 1))
	route, err := bc.Import(b1)
	require.NoError(t, err)
	require.Equal(t, []common.Hash{b1.Hash()}, route.Live)
	require.Empty(t, route.Dead)

	t.Run("stored", func(t *testing.T) {
		got, err := bc.Block(b1.Hash())
		require.NoError(t, err)
		require.Equal(t, b1.Hash(), got.Hash())
		require.Len(t, got.Transactions(), 2)

		byNumber, err := bc.BlockByNumber(1)
		require.NoError(t, err)
		require.Equal(t, b1.Hash(), byNumber.Hash())

		require.Equal(t, []common.Hash{b1.Hash()}, bc.Children(genesisHeader.Hash()))
		require.True(t, bc.IsKnown(b1.Hash()))
	})

	t.Run("state", func(t *testing.T) {
		b, err := bc.NewBlock(minerA)
		require.NoError(t, err)
		defer b.Close()

		require.Equal(t, b1.Hash(), b.Previous().Hash())
		require.Equal(t, uint64(20), b.State().Balance(to).Uint64())
	})

	t.Run("already known", func(t *testing.T) {
		_, err := bc.Import(b1)
		require.ErrorIs(t, err, ErrAlreadyKnown)
	})

	t.Run("unknown parent", func(t *testing.T) {
		orphan := types.NewBlockWithHeader(&types.Header{ParentHash: common.Hash{1}, Number: big.NewInt(5), Difficulty: big.NewInt(1)})
		_, err := bc.Import(orphan)
		require.ErrorIs(t, err, ErrUnknownParent)
	})

	t.Run("bad state", func(t *testing.T) {
		b2 := mine(t, bc, b1.Header(), minerA)
		header := b2.Header()
		header.GasUsed = 1

		sealed, err := bc.Engine().Seal(context.Background(), header)
		require.NoError(t, err)

		_, err = bc.Import(b2.WithSeal(sealed))
		require.Error(t, err)
		require.Equal(t, b1.Hash(), bc.CurrentHeader().Hash())
	})
}

func TestForkChoice(t *testing.T) {
	bc := openChain(t, memory.New(), testGenesis(t))
	defer bc.Close()

	g := bc.CurrentHeader()

	importAll := func(blks ...*types.Block) ImportRoute {
		var route ImportRoute
		for _, blk := range blks {
			r, err := bc.Import(blk)
			require.NoError(t, err)
			route.Merge(r)
		}
		return route
	}

	c1 := mine(t, bc, g, minerA)
	importAll(c1)

	a2 := mine(t, bc, c1.Header(), minerA)
	importAll(a2)
	a3 := mine(t, bc, a2.Header(), minerA)
	importAll(a3)

	b2 := mine(t, bc, c1.Header(), minerB)
	route := importAll(b2)
	require.Empty(t, route.Live, "side chain must not move the head")
	require.Equal(t, a3.Hash(), bc.CurrentHeader().Hash())

	b3 := mine(t, bc, b2.Header(), minerB)
	require.Len(t, b3.Uncles(), 1)
	require.Equal(t, a2.Hash(), b3.Uncles()[0].Hash())

	route = importAll(b3)
	require.Empty(t, route.Live, "equal difficulty keeps the head")
	require.Equal(t, a3.Hash(), bc.CurrentHeader().Hash())

	b4 := mine(t, bc, b3.Header(), minerB)
	route = importAll(b4)
	require.Equal(t, b4.Hash(), bc.CurrentHeader().Hash())
	require.Equal(t, []common.Hash{a3.Hash(), a2.Hash()}, route.Dead)
	require.Equal(t, []common.Hash{b2.Hash(), b3.Hash(), b4.Hash()}, route.Live)

	for n, want := range []common.Hash{g.Hash(), c1.Hash(), b2.Hash(), b3.Hash(), b4.Hash()} {
		hash, err := bc.CanonicalHash(uint64(n))
		require.NoError(t, err)
		require.Equal(t, want, hash)
	}

	t.Run("kin", func(t *testing.T) {
		kin := bc.AllKinFrom(b4.Hash(), 6)
		for _, blk := range []*types.Block{b4, b3, b2, c1} {
			require.True(t, kin.Contains(blk.Hash()))
		}
		require.True(t, kin.Contains(g.Hash()))
		require.True(t, kin.Contains(a2.Hash()), "uncles are kin")
		require.False(t, kin.Contains(a3.Hash()))
	})

	t.Run("last hashes", func(t *testing.T) {
		want := []common.Hash{b4.Hash(), b3.Hash(), b2.Hash(), c1.Hash(), g.Hash()}
		require.Equal(t, want, bc.LastHashes(b4.Hash()))
	})

	t.Run("iterator", func(t *testing.T) {
		var got []common.Hash
		for it := bc.ForEach(); !it.Done(); {
			blk, err := it.Next()
			require.NoError(t, err)
			got = append(got, blk.Hash())
		}
		require.Equal(t, []common.Hash{c1.Hash(), b2.Hash(), b3.Hash(), b4.Hash()}, got)
	})

	t.Run("uncles", func(t *testing.T) {
		b5 := mine(t, bc, b4.Header(), minerB)
		require.Empty(t, b5.Uncles(), "an uncle is referenced once")

		importAll(b5)
		require.Equal(t, b5.Hash(), bc.CurrentHeader().Hash())
	})
}

func TestSync(t *testing.T) {
	gen := testGenesis(t)

	src := openChain(t, memory.New(), gen)
	defer src.Close()

	b1 := mine(t, src, src.CurrentHeader(), minerA, sign(t, src, 0))
	_, err := src.Import(b1)
	require.NoError(t, err)

	b2 := mine(t, src, b1.Header(), minerA, sign(t, src, 1))
	_, err = src.Import(b2)
	require.NoError(t, err)

	bc := openChain(t, memory.New(), gen)
	defer bc.Close()

	q := blockqueue.New(blockqueue.Config{Chain: bc})

	encode := func(blk *types.Block) []byte {
		data, err := rlp.EncodeToBytes(blk)
		require.NoError(t, err)
		return data
	}

	require.Equal(t, blockqueue.UnknownParent, q.Import(encode(b2), false))
	require.Equal(t, blockqueue.Success, q.Import(encode(b1), false))
	require.Equal(t, blockqueue.AlreadyKnown, q.Import(encode(b1), false))

	route, more, count := bc.Sync(context.Background(), q, 10)
	require.False(t, more)
	require.Equal(t, 2, count)
	require.Equal(t, []common.Hash{b1.Hash(), b2.Hash()}, route.Live)
	require.Equal(t, b2.Hash(), bc.CurrentHeader().Hash())

	require.Equal(t, blockqueue.AlreadyInChain, q.Import(encode(b1), false))
	require.Zero(t, q.Size())
}
