package block

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"testing"

	"github.com/ardanlabs/ethcore/foundation/blockchain/executive"
	"github.com/ardanlabs/ethcore/foundation/blockchain/genesis"
	"github.com/ardanlabs/ethcore/foundation/blockchain/overlay"
	"github.com/ardanlabs/ethcore/foundation/blockchain/seal"
	"github.com/ardanlabs/ethcore/foundation/blockchain/storage/memory"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	signPavel = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	signBill  = "9f332e3700d8fc2446eaf6d15034cf96e0c2745e40353deef032a5dbf1dfed93"
	signEd    = "aed31b6b5a341af8f27e66fb0b7633cf20fc27049e3eb7f6f623a4655b719ebb"
)

var (
	miner    = common.HexToAddress("0x6Fe6CF3c8fF57c58d24BfC869668F48BCbDb3BD9")
	to       = common.HexToAddress("0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76")
	outsider = common.HexToAddress("0x3c0A9e4E5a6f7B8c9D0e1F2a3B4c5D6e7F8a9B0c")
)

// testChain is a minimal in-memory chain for driving blocks.
type testChain struct {
	engine   *seal.PoW
	exec     *executive.Transfer
	signer   types.Signer
	store    *memory.Memory
	db       *overlay.Overlay
	genesis  *types.Header
	head     *types.Header
	headers  map[common.Hash]*types.Header
	uncles   map[common.Hash][]*types.Header
	children map[common.Hash][]common.Hash
}

func newTestChain(t *testing.T) *testChain {
	gen := genesis.Default()
	gen.Balances = map[string]string{
		crypto.PubkeyToAddress(key(t, signPavel).PublicKey).Hex(): "1000000000000000000",
	}

	reward, err := gen.Reward()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to parse the reward: %v", failed, err)
	}

	store := memory.New()
	db := overlay.New(store)
	t.Cleanup(db.Close)

	header, err := gen.Commit(db)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to build genesis: %v", failed, err)
	}
	if err := db.Commit(); err != nil {
		t.Fatalf("\t%s\tShould be able to flush genesis: %v", failed, err)
	}

	c := testChain{
		engine:   seal.NewPoW(seal.Config{BlockReward: reward, NoProof: true, Signer: gen.Signer()}),
		exec:     executive.NewTransfer(gen.Signer()),
		signer:   gen.Signer(),
		store:    store,
		db:       db,
		genesis:  header,
		head:     header,
		headers:  map[common.Hash]*types.Header{header.Hash(): header},
		uncles:   make(map[common.Hash][]*types.Header),
		children: make(map[common.Hash][]common.Hash),
	}

	return &c
}

func (c *testChain) Engine() seal.Engine { return c.engine }
func (c *testChain) Executor() executive.Executor { return c.exec }
func (c *testChain) Signer() types.Signer { return c.signer }
func (c *testChain) Params() Params { return Params{} }
func (c *testChain) GenesisHash() common.Hash { return c.genesis.Hash() }
func (c *testChain) CurrentHeader() *types.Header { return c.head }
func (c *testChain) Children(h common.Hash) []common.Hash { return c.children[h] }

func (c *testChain) Header(hash common.Hash) (*types.Header, error) {
	h, exists := c.headers[hash]
	if !exists {
		return nil, fmt.Errorf("header %s not found", hash)
	}
	return h, nil
}

func (c *testChain) AllKinFrom(parent common.Hash, generations int) mapset.Set[common.Hash] {
	kin := mapset.NewThreadUnsafeSet(parent)

	p := parent
	for i := 0; i < generations && p != c.genesis.Hash(); i++ {
		h := c.headers[p]
		kin.Add(h.ParentHash)
		for _, u := range c.uncles[p] {
			kin.Add(u.Hash())
		}
		p = h.ParentHash
	}

	return kin
}

func (c *testChain) LastHashes(parent common.Hash) []common.Hash {
	var hashes []common.Hash
	for p := parent; len(hashes) < 256; {
		h, exists := c.headers[p]
		if !exists {
			break
		}
		hashes = append(hashes, p)
		p = h.ParentHash
	}
	return hashes
}

func (c *testChain) add(blk *types.Block, canonical bool) {
	h := blk.Header()
	c.headers[h.Hash()] = h
	c.uncles[h.Hash()] = blk.Uncles()
	c.children[h.ParentHash] = append(c.children[h.ParentHash], h.Hash())
	if canonical {
		c.head = h
	}
}

// newBlock constructs a block on its own overlay handle synced to parent.
func (c *testChain) newBlock(t *testing.T, parent *types.Header, author common.Address) *Block {
	b := New(Config{Chain: c, DB: c.db.Copy(), Author: author})
	t.Cleanup(b.Close)

	if _, err := b.SyncTo(parent); err != nil {
		t.Fatalf("\t%s\tShould be able to sync to the parent: %v", failed, err)
	}

	return b
}

// mine builds, seals and flushes a block on top of parent.
func (c *testChain) mine(t *testing.T, parent *types.Header, author common.Address, canonical bool, txs ...*types.Transaction) *types.Block {
	b := c.newBlock(t, parent, author)

	lastHashes := c.LastHashes(parent.Hash())
	for _, tx := range txs {
		if _, err := b.Execute(lastHashes, tx); err != nil {
			t.Fatalf("\t%s\tShould be able to execute the transaction: %v", failed, err)
		}
	}

	if err := b.CommitToSeal(nil); err != nil {
		t.Fatalf("\t%s\tShould be able to commit to seal: %v", failed, err)
	}

	sealed, err := c.engine.Seal(context.Background(), b.Header())
	if err != nil {
		t.Fatalf("\t%s\tShould be able to seal: %v", failed, err)
	}

	if err := b.SealBlock(sealed); err != nil {
		t.Fatalf("\t%s\tShould be able to attach the seal: %v", failed, err)
	}

	if err := b.State().DB().Commit(); err != nil {
		t.Fatalf("\t%s\tShould be able to flush the state: %v", failed, err)
	}

	blk := b.Block()
	c.add(blk, canonical)

	return blk
}

// =============================================================================

func key(t *testing.T, hexKey string) *ecdsa.PrivateKey {
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to load key: %v", failed, err)
	}
	return pk
}

func sign(t *testing.T, c *testChain, pk *ecdsa.PrivateKey, nonce uint64, price int64) *types.Transaction {
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{Nonce: nonce, GasPrice: big.NewInt(price), Gas: 21000, To: &to, Value: big.NewInt(1)}), c.signer, pk)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign transaction: %v", failed, err)
	}
	return tx
}
