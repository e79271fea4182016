// Package accounts maintains account balances and nonces on top of the
// overlay and computes the account state root.
package accounts

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/ardanlabs/ethcore/foundation/blockchain/overlay"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"
)

// Set of error variables for account processing.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMissingNode         = errors.New("missing trie node")
	ErrMissingPreimage     = errors.New("missing account preimage")
)

// emptyNode is the encoding of the empty trie. Its hash is the empty root.
var emptyNode = []byte{0x80}

// preimagePrefix marks the aux records mapping a hashed trie key back to
// its account address.
var preimagePrefix = []byte("secure-key-")

// Info represents information stored for an individual account.
type Info struct {
	Balance *uint256.Int
	Nonce   uint64
}

// =============================================================================

// State manages the set of accounts rooted at a single trie root. Accounts
// are read from the trie on first use and cached until the next SetRoot.
type State struct {
	db         *overlay.Overlay
	root       common.Hash
	startNonce uint64

	mu       sync.Mutex
	trie     *trie.Trie
	accounts map[common.Address]*types.StateAccount
	touched  map[common.Address]struct{}
	dbErr    error
}

// New constructs an empty account state on top of the overlay.
func New(db *overlay.Overlay, startNonce uint64) *State {
	return &State{
		db:         db,
		root:       types.EmptyRootHash,
		startNonce: startNonce,
		trie:       trie.NewEmpty(nodeDB{db: db}),
		accounts:   make(map[common.Address]*types.StateAccount),
		touched:    make(map[common.Address]struct{}),
	}
}

// DB returns the overlay handle used by this state.
func (s *State) DB() *overlay.Overlay {
	return s.db
}

// Root returns the root as of the last commit or SetRoot.
func (s *State) Root() common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.root
}

// Error returns the first trie read failure since the last SetRoot. A state
// with an error refuses to commit.
func (s *State) Error() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dbErr
}

// SetRoot discards uncommitted changes and opens the trie stored under the
// specified root. Only the root node is read here.
func (s *State) SetRoot(root common.Hash) error {
	tr, err := openTrie(s.db, root)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.root = root
	s.trie = tr
	s.accounts = make(map[common.Address]*types.StateAccount)
	s.touched = make(map[common.Address]struct{})
	s.dbErr = nil

	return nil
}

// Copy returns an independent state with its own overlay handle.
func (s *State) Copy() *State {
	s.mu.Lock()
	defer s.mu.Unlock()

	cpy := State{
		db:         s.db.Copy(),
		root:       s.root,
		startNonce: s.startNonce,
		accounts:   make(map[common.Address]*types.StateAccount, len(s.accounts)),
		touched:    make(map[common.Address]struct{}, len(s.touched)),
		dbErr:      s.dbErr,
	}

	tr, err := openTrie(cpy.db, s.root)
	if err != nil {
		tr = trie.NewEmpty(nodeDB{db: cpy.db})
		if cpy.dbErr == nil {
			cpy.dbErr = err
		}
	}
	cpy.trie = tr

	for addr, acc := range s.accounts {
		cpy.accounts[addr] = copyAccount(acc)
	}
	for addr := range s.touched {
		cpy.touched[addr] = struct{}{}
	}

	return &cpy
}

// Close releases the overlay handle.
func (s *State) Close() {
	s.db.Close()
}

// =============================================================================

// Exists reports if the account is present.
func (s *State) Exists(addr common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.get(addr) != nil
}

// Balance returns a copy of the balance for the account.
func (s *State) Balance(addr common.Address) *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.get(addr)
	if acc == nil {
		return new(uint256.Int)
	}

	return new(uint256.Int).Set(acc.Balance)
}

// Nonce returns the nonce for the account.
func (s *State) Nonce(addr common.Address) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.get(addr)
	if acc == nil {
		return s.startNonce
	}

	return acc.Nonce
}

// AddBalance credits the account, creating it when needed. A zero amount
// still touches the account.
func (s *State) AddBalance(addr common.Address, amount *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.account(addr)
	acc.Balance.Add(acc.Balance, amount)
}

// SubBalance debits the account.
func (s *State) SubBalance(addr common.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal := new(uint256.Int)
	if acc := s.get(addr); acc != nil {
		bal = acc.Balance
	}
	if bal.Lt(amount) {
		return fmt.Errorf("%w: account %s has %s, need %s", ErrInsufficientBalance, addr, bal, amount)
	}

	acc := s.account(addr)
	acc.Balance.Sub(acc.Balance, amount)

	return nil
}

// IncNonce increments the nonce for the account.
func (s *State) IncNonce(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.account(addr)
	acc.Nonce++
}

// Infos returns a copy of the information for all accounts, walking the
// whole trie. It is meant for tooling, not for block processing.
func (s *State) Infos() (map[common.Address]Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos, err := s.walk()
	if err != nil {
		return nil, err
	}

	for addr := range s.touched {
		switch acc := s.accounts[addr]; acc {
		case nil:
			delete(infos, addr)
		default:
			infos[addr] = Info{Balance: new(uint256.Int).Set(acc.Balance), Nonce: acc.Nonce}
		}
	}

	return infos, nil
}

// =============================================================================

// Commit writes the touched accounts into the trie, buffers the new trie
// nodes in the overlay and returns the new root. When removeEmpty is set,
// touched accounts with no nonce and no balance are removed first.
func (s *State) Commit(removeEmpty bool) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dbErr != nil {
		return common.Hash{}, s.dbErr
	}

	for addr := range s.touched {
		acc := s.accounts[addr]
		key := crypto.Keccak256(addr[:])

		if acc == nil || (removeEmpty && isEmpty(acc)) {
			if err := s.trie.Delete(key); err != nil {
				return common.Hash{}, fmt.Errorf("%w: delete account %s: %w", ErrMissingNode, addr, err)
			}
			s.accounts[addr] = nil
			continue
		}

		enc, err := rlp.EncodeToBytes(acc)
		if err != nil {
			return common.Hash{}, fmt.Errorf("encode account %s: %w", addr, err)
		}
		if err := s.trie.Update(key, enc); err != nil {
			return common.Hash{}, fmt.Errorf("%w: update account %s: %w", ErrMissingNode, addr, err)
		}

		s.db.InsertAux(preimageKey(common.BytesToHash(key)), addr[:], true)
	}

	root, nodes := s.trie.Commit(false)
	if nodes != nil {
		for _, n := range nodes.Nodes {
			if len(n.Blob) > 0 {
				s.db.Insert(n.Hash, n.Blob)
			}
		}
	}
	if root == types.EmptyRootHash {
		s.db.Insert(types.EmptyRootHash, emptyNode)
	}

	// A committed trie cannot be used again.
	tr, err := openTrie(s.db, root)
	if err != nil {
		return common.Hash{}, err
	}

	s.root = root
	s.trie = tr
	s.touched = make(map[common.Address]struct{})

	return root, nil
}

// =============================================================================

// get returns the cached account, reading it from the trie on a miss. A nil
// account does not exist. The caller must hold the lock.
func (s *State) get(addr common.Address) *types.StateAccount {
	if acc, exists := s.accounts[addr]; exists {
		return acc
	}

	acc, err := s.read(addr)
	if err != nil {
		if s.dbErr == nil {
			s.dbErr = err
		}
		return nil
	}

	s.accounts[addr] = acc

	return acc
}

// account returns the account, creating it when it does not exist, and
// marks it as touched. The caller must hold the lock.
func (s *State) account(addr common.Address) *types.StateAccount {
	s.touched[addr] = struct{}{}

	acc := s.get(addr)
	if acc == nil {
		acc = types.NewEmptyStateAccount()
		acc.Nonce = s.startNonce
		s.accounts[addr] = acc
	}

	return acc
}

// isEmpty reports if the account has no nonce, no balance and no code.
func isEmpty(acc *types.StateAccount) bool {
	return acc.Nonce == 0 && acc.Balance.IsZero() && bytes.Equal(acc.CodeHash, types.EmptyCodeHash[:])
}

// copyAccount returns a deep copy of the account.
func copyAccount(acc *types.StateAccount) *types.StateAccount {
	if acc == nil {
		return nil
	}

	return &types.StateAccount{
		Nonce:    acc.Nonce,
		Balance:  new(uint256.Int).Set(acc.Balance),
		Root:     acc.Root,
		CodeHash: common.CopyBytes(acc.CodeHash),
	}
}

// preimageKey returns the aux key holding the address for a hashed key.
func preimageKey(hash common.Hash) []byte {
	return append(common.CopyBytes(preimagePrefix), hash[:]...)
}
