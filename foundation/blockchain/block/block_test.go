package block

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ardanlabs/ethcore/foundation/blockchain/executive"
	"github.com/ardanlabs/ethcore/foundation/blockchain/mempool"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

func TestBuildAndEnact(t *testing.T) {
	t.Log("Given the need to replay a mined block on another node.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a block with a transaction is imported.", testID)
		{
			c := newTestChain(t)
			pavel := key(t, signPavel)

			blk := c.mine(t, c.genesis, miner, false, sign(t, c, pavel, 0, 10))

			b := New(Config{Chain: c, DB: c.db.Copy()})
			defer b.Close()

			td, err := b.EnactOn(blk)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to enact the block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to enact the block.", success, testID)

			if td.Cmp(blk.Difficulty()) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould return the block difficulty, got %v.", failed, testID, td)
			}
			t.Logf("\t%s\tTest %d:\tShould return the block difficulty.", success, testID)

			if root := b.State().Root(); root != blk.Root() {
				t.Fatalf("\t%s\tTest %d:\tShould derive the same state root: got %s, exp %s", failed, testID, root, blk.Root())
			}
			if b.Phase() != PhaseCommitted {
				t.Fatalf("\t%s\tTest %d:\tShould be committed, got %s.", failed, testID, b.Phase())
			}
			t.Logf("\t%s\tTest %d:\tShould derive the same state root.", success, testID)

			from := crypto.PubkeyToAddress(pavel.PublicKey)
			if b.State().Nonce(from) != 1 || b.State().Balance(to).Uint64() != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould apply the transfer.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould apply the transfer.", success, testID)
		}
	}
}

func TestEnactMismatch(t *testing.T) {
	type table struct {
		name   string
		tamper func(h *types.Header)
		err    error
	}

	tt := []table{
		{name: "receipts", tamper: func(h *types.Header) { h.ReceiptHash = types.EmptyReceiptsHash }, err: ErrInvalidReceiptsStateRoot},
		{name: "bloom", tamper: func(h *types.Header) { h.Bloom[0] = 0xff }, err: ErrInvalidLogBloom},
		{name: "root", tamper: func(h *types.Header) { h.Root = common.HexToHash("0x01") }, err: ErrInvalidStateRoot},
		{name: "gas", tamper: func(h *types.Header) { h.GasUsed++ }, err: ErrInvalidGasUsed},
	}

	t.Log("Given the need to reject blocks whose header lies about the result.")
	{
		c := newTestChain(t)
		pavel := key(t, signPavel)
		blk := c.mine(t, c.genesis, miner, false, sign(t, c, pavel, 0, 10))

		for testID, tst := range tt {
			f := func(t *testing.T) {
				h := blk.Header()
				tst.tamper(h)
				bad := types.NewBlockWithHeader(h).WithBody(types.Body{Transactions: blk.Transactions()})

				b := New(Config{Chain: c, DB: c.db.Copy()})
				defer b.Close()

				stored := c.store.Len()

				_, err := b.EnactOn(bad)
				if !errors.Is(err, tst.err) {
					t.Fatalf("\t%s\tTest %d:\tShould fail with %v, got %v.", failed, testID, tst.err, err)
				}

				var me *MismatchError
				if !errors.As(err, &me) {
					t.Fatalf("\t%s\tTest %d:\tShould carry expected and actual values.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould fail with %v.", success, testID, tst.err)

				if main, aux := b.State().DB().Dirty(); main != 0 || aux != 0 {
					t.Fatalf("\t%s\tTest %d:\tShould roll back the overlay, got %d/%d dirty.", failed, testID, main, aux)
				}
				t.Logf("\t%s\tTest %d:\tShould roll back the overlay.", success, testID)

				if n := c.store.Len(); n != stored {
					t.Fatalf("\t%s\tTest %d:\tShould leave the store unchanged, got %d keys, exp %d.", failed, testID, n, stored)
				}
				t.Logf("\t%s\tTest %d:\tShould leave the store unchanged.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}

func TestEnactBadTransaction(t *testing.T) {
	t.Log("Given the need to report which transaction broke an import.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the second transaction has a bad nonce.", testID)
		{
			c := newTestChain(t)
			pavel := key(t, signPavel)
			blk := c.mine(t, c.genesis, miner, false, sign(t, c, pavel, 0, 10))

			txs := append(blk.Transactions(), sign(t, c, pavel, 5, 10))
			bad := types.NewBlockWithHeader(blk.Header()).WithBody(types.Body{Transactions: txs})

			b := New(Config{Chain: c, DB: c.db.Copy()})
			defer b.Close()

			_, err := b.EnactOn(bad)

			var txErr *TxError
			if !errors.As(err, &txErr) || txErr.Index != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould fail at index 1, got %v.", failed, testID, err)
			}

			var fault *executive.Fault
			if !errors.As(err, &fault) || fault.Kind != executive.InvalidNonce {
				t.Fatalf("\t%s\tTest %d:\tShould carry the nonce fault, got %v.", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould fail at index 1 with the nonce fault.", success, testID)
		}
	}
}

func TestUncleDepth(t *testing.T) {
	type table struct {
		name  string
		uncle func() *types.Header
		err   error
	}

	c := newTestChain(t)

	canonical := []*types.Header{c.genesis}
	for i := 1; i <= 8; i++ {
		blk := c.mine(t, canonical[i-1], miner, true)
		canonical = append(canonical, blk.Header())
	}

	// Side blocks are built in this order so none picks another as an uncle.
	side := make(map[int]*types.Header)
	for _, depth := range []int{0, 1, 6, 7} {
		side[depth] = c.mine(t, canonical[8-depth], outsider, false).Header()
	}

	tt := []table{
		{name: "depth1", uncle: func() *types.Header { return side[1] }},
		{name: "depth6", uncle: func() *types.Header { return side[6] }},
		{name: "depth0", uncle: func() *types.Header { return side[0] }, err: ErrUncleIsBrother},
		{name: "depth7", uncle: func() *types.Header { return side[7] }, err: ErrUncleTooOld},
		{name: "ancestor", uncle: func() *types.Header { return canonical[7] }, err: ErrUncleInChain},
	}

	t.Log("Given the need to bound how old an uncle may be.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				b := c.newBlock(t, canonical[8], miner)

				_, err := b.verifyUncles([]*types.Header{tst.uncle()})

				switch tst.err {
				case nil:
					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould accept the uncle: %v", failed, testID, err)
					}
					t.Logf("\t%s\tTest %d:\tShould accept the uncle.", success, testID)

				default:
					var ue *UncleError
					if !errors.Is(err, tst.err) || !errors.As(err, &ue) || ue.Index != 0 {
						t.Fatalf("\t%s\tTest %d:\tShould reject the uncle with %v, got %v.", failed, testID, tst.err, err)
					}
					t.Logf("\t%s\tTest %d:\tShould reject the uncle with %v.", success, testID, tst.err)
				}
			}

			t.Run(tst.name, f)
		}
	}

	t.Log("Given the need to cap the number of uncles.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a block names three uncles.", testID)
		{
			b := c.newBlock(t, canonical[8], miner)

			h := b.Header()
			blk := types.NewBlockWithHeader(h).WithBody(types.Body{Uncles: []*types.Header{side[1], side[6], side[7]}})

			if _, err := b.Enact(blk); !errors.Is(err, ErrTooManyUncles) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the block, got %v.", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the block.", success, testID)
		}
	}
}

func TestUncleRewards(t *testing.T) {
	t.Log("Given the need to reward uncles found while mining.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a sibling of the parent exists.", testID)
		{
			c := newTestChain(t)
			uncleAuthor := outsider

			b1 := c.mine(t, c.genesis, miner, true)
			b2 := c.mine(t, b1.Header(), miner, true)
			c.mine(t, b1.Header(), uncleAuthor, false)
			b3 := c.mine(t, b2.Header(), miner, true)

			if len(b3.Uncles()) != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould include one uncle, got %d.", failed, testID, len(b3.Uncles()))
			}
			t.Logf("\t%s\tTest %d:\tShould include one uncle.", success, testID)

			b := New(Config{Chain: c, DB: c.db.Copy()})
			defer b.Close()

			if _, err := b.EnactOn(b3); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to enact the block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to enact the block.", success, testID)

			reward := c.engine.BlockReward(3)

			exp := new(uint256.Int).Mul(reward, uint256.NewInt(7))
			exp.Rsh(exp, 3)
			if got := b.State().Balance(uncleAuthor); !got.Eq(exp) {
				t.Fatalf("\t%s\tTest %d:\tShould pay the uncle 7/8 of the reward: got %s, exp %s", failed, testID, got, exp)
			}
			t.Logf("\t%s\tTest %d:\tShould pay the uncle 7/8 of the reward.", success, testID)

			// Three block rewards plus one nephew bonus.
			exp = new(uint256.Int).Mul(reward, uint256.NewInt(3))
			exp.Add(exp, new(uint256.Int).Rsh(reward, 5))
			if got := b.State().Balance(miner); !got.Eq(exp) {
				t.Fatalf("\t%s\tTest %d:\tShould pay the author the nephew bonus: got %s, exp %s", failed, testID, got, exp)
			}
			t.Logf("\t%s\tTest %d:\tShould pay the author the nephew bonus.", success, testID)
		}
	}
}

func TestSealedImmutable(t *testing.T) {
	t.Log("Given the need to freeze a sealed block.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen mutating a sealed block.", testID)
		{
			c := newTestChain(t)
			pavel := key(t, signPavel)

			other := c.mine(t, c.genesis, outsider, false)

			b := c.newBlock(t, c.genesis, miner)
			if _, err := b.Execute(c.LastHashes(c.genesis.Hash()), sign(t, c, pavel, 0, 10)); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to execute: %v", failed, testID, err)
			}
			if err := b.CommitToSeal(nil); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to commit to seal: %v", failed, testID, err)
			}

			sealed, err := c.engine.Seal(context.Background(), b.Header())
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to seal: %v", failed, testID, err)
			}
			if err := b.SealBlock(sealed); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to attach the seal: %v", failed, testID, err)
			}

			hash := b.Header().Hash()
			previous := b.Previous().Hash()
			root := b.State().Root()
			mainDirty, auxDirty := b.State().DB().Dirty()
			if mainDirty == 0 {
				t.Fatalf("\t%s\tTest %d:\tShould hold unflushed trie nodes.", failed, testID)
			}

			pool, _ := mempool.New(mempool.Config{Signer: c.signer, NonceFn: func(common.Address) uint64 { return 0 }})

			checks := map[string]error{}
			_, checks["execute"] = b.Execute(nil, sign(t, c, pavel, 1, 10))
			_, _, checks["syncpool"] = b.SyncPool(context.Background(), pool, NewTrivialGasPricer(nil, nil), time.Second)
			checks["commit"] = b.CommitToSeal(nil)
			checks["rewards"] = b.ApplyRewards(nil, uint256.NewInt(1))
			checks["seal"] = b.SealBlock(sealed)
			_, checks["enact"] = b.Enact(b.Block())
			_, checks["enacton"] = b.EnactOn(other)
			checks["reset"] = b.ResetCurrent(0)
			_, checks["syncto"] = b.SyncTo(other.Header())
			checks["author"] = b.SetAuthor(outsider)

			for name, err := range checks {
				if !errors.Is(err, ErrInvalidOperationOnSealedBlock) {
					t.Fatalf("\t%s\tTest %d:\tShould reject %s, got %v.", failed, testID, name, err)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould reject every mutation.", success, testID)

			if b.Phase() != PhaseSealed || b.Header().Hash() != hash || b.Previous().Hash() != previous {
				t.Fatalf("\t%s\tTest %d:\tShould keep the sealed header, got phase %s.", failed, testID, b.Phase())
			}
			if len(b.Transactions()) != 1 || len(b.Receipts()) != 1 || b.Author() != miner {
				t.Fatalf("\t%s\tTest %d:\tShould keep the sealed body.", failed, testID)
			}
			if b.State().Root() != root || b.State().Balance(to).Uint64() != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the sealed state.", failed, testID)
			}
			if m, a := b.State().DB().Dirty(); m != mainDirty || a != auxDirty {
				t.Fatalf("\t%s\tTest %d:\tShould keep the buffered nodes, got %d/%d, exp %d/%d.", failed, testID, m, a, mainDirty, auxDirty)
			}
			t.Logf("\t%s\tTest %d:\tShould leave the block untouched.", success, testID)

			if _, err := b.Bytes(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to encode the block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to encode the block.", success, testID)
		}
	}
}

func TestSync(t *testing.T) {
	t.Log("Given the need to follow the head of the chain.")
	{
		c := newTestChain(t)

		testID := 0
		t.Logf("\tTest %d:\tWhen our own sealed block becomes the head.", testID)
		{
			b := c.newBlock(t, c.genesis, miner)
			if err := b.CommitToSeal(nil); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to commit to seal: %v", failed, testID, err)
			}
			sealed, _ := c.engine.Seal(context.Background(), b.Header())
			if err := b.SealBlock(sealed); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to attach the seal: %v", failed, testID, err)
			}
			if err := b.State().DB().Commit(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to flush the state: %v", failed, testID, err)
			}

			changed, err := b.SyncTo(sealed)
			if err != nil || !changed {
				t.Fatalf("\t%s\tTest %d:\tShould promote the sealed block: %v", failed, testID, err)
			}
			if b.Previous().Hash() != sealed.Hash() || b.Header().Number.Uint64() != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould build on the sealed block.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould promote the sealed block.", success, testID)

			changed, err = b.SyncTo(sealed)
			if err != nil || changed {
				t.Fatalf("\t%s\tTest %d:\tShould not change when the head is unchanged: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould not change when the head is unchanged.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the head's state root is missing.", testID)
		{
			b := New(Config{Chain: c, DB: c.db.Copy()})
			defer b.Close()

			head := types.CopyHeader(c.genesis)
			head.Root = common.HexToHash("0xdead")

			if _, err := b.SyncTo(head); !errors.Is(err, ErrInvalidStateRoot) {
				t.Fatalf("\t%s\tTest %d:\tShould fail with an invalid state root, got %v.", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould fail with an invalid state root.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen no chain is associated.", testID)
		{
			b := New(Config{DB: c.db.Copy()})
			defer b.Close()

			if _, err := b.Sync(); !errors.Is(err, ErrUnknownChain) {
				t.Fatalf("\t%s\tTest %d:\tShould fail with an unknown chain, got %v.", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould fail with an unknown chain.", success, testID)
		}
	}
}

func TestSyncPool(t *testing.T) {
	t.Log("Given the need to fill a block from the pool.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the pool holds good, broke and cheap transactions.", testID)
		{
			c := newTestChain(t)
			b := c.newBlock(t, c.genesis, miner)

			pool, err := mempool.New(mempool.Config{
				Signer:  c.signer,
				NonceFn: func(addr common.Address) uint64 { return b.State().Nonce(addr) },
			})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct the pool: %v", failed, testID, err)
			}

			pavel := key(t, signPavel)
			cheapKey, _ := crypto.GenerateKey()

			good0 := sign(t, c, pavel, 0, 100)
			good1 := sign(t, c, pavel, 1, 100)
			broke := sign(t, c, key(t, signBill), 0, 100)
			near := sign(t, c, key(t, signEd), 0, 95)
			cheap := sign(t, c, cheapKey, 0, 50)

			for _, tx := range []*types.Transaction{good1, good0, broke, near, cheap} {
				if err := pool.Submit(tx); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to submit: %v", failed, testID, err)
				}
			}

			receipts, more, err := b.SyncPool(context.Background(), pool, NewTrivialGasPricer(big.NewInt(100), nil), time.Minute)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to sync the pool: %v", failed, testID, err)
			}
			if len(receipts) != 2 || more {
				t.Fatalf("\t%s\tTest %d:\tShould execute 2 transactions, got %d more[%v].", failed, testID, len(receipts), more)
			}
			if txs := b.Transactions(); txs[0].Hash() != good0.Hash() || txs[1].Hash() != good1.Hash() {
				t.Fatalf("\t%s\tTest %d:\tShould execute in nonce order.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould execute the good transactions.", success, testID)

			if pool.Known(broke.Hash()) || pool.Known(cheap.Hash()) {
				t.Fatalf("\t%s\tTest %d:\tShould drop the broke and cheap transactions.", failed, testID)
			}
			if !pool.Known(near.Hash()) {
				t.Fatalf("\t%s\tTest %d:\tShould keep the transaction just under the ask.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould absorb every fault into the pool.", success, testID)

			receipts, _, err = b.SyncPool(context.Background(), pool, NewTrivialGasPricer(big.NewInt(100), nil), time.Minute)
			if err != nil || len(receipts) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould skip included transactions: %d %v", failed, testID, len(receipts), err)
			}
			t.Logf("\t%s\tTest %d:\tShould skip included transactions.", success, testID)
		}
	}
}

func TestClassify(t *testing.T) {
	type table struct {
		name    string
		err     error
		gas     uint64
		waiting int
		exp     action
	}

	fault := func(kind executive.FaultKind, required int64, got int64) error {
		return &executive.Fault{Kind: kind, Required: big.NewInt(required), Got: big.NewInt(got)}
	}

	tt := []table{
		{name: "stale", err: fault(executive.InvalidNonce, 5, 3), exp: actionDrop},
		{name: "ahead", err: fault(executive.InvalidNonce, 3, 5), waiting: 1, exp: actionDrop},
		{name: "gap", err: fault(executive.InvalidNonce, 3, 4), waiting: 1, exp: actionSetFuture},
		{name: "overgassy", err: fault(executive.BlockGasLimitReached, 1000, 30000), gas: 21000, exp: actionDrop},
		{name: "full", err: fault(executive.BlockGasLimitReached, 1000, 21000), gas: 50000, exp: actionKeep},
		{name: "cash", err: fault(executive.NotEnoughCash, 10, 1), exp: actionDrop},
		{name: "other", err: errors.New("boom"), exp: actionDrop},
	}

	t.Log("Given the need to decide what happens to a failed pool transaction.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				if got := classify(tst.err, tst.gas, tst.waiting); got != tst.exp {
					t.Fatalf("\t%s\tTest %d:\tShould %s, got %s.", failed, testID, tst.exp, got)
				}
				t.Logf("\t%s\tTest %d:\tShould %s.", success, testID, tst.exp)
			}

			t.Run(tst.name, f)
		}
	}
}
