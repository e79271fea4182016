package accounts

import (
	"errors"
	"fmt"

	"github.com/ardanlabs/ethcore/foundation/blockchain/overlay"
	"github.com/ardanlabs/ethcore/foundation/blockchain/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb/database"
)

// nodeDB serves trie nodes out of the overlay. Nodes are keyed by hash
// alone, so every state root shares the same reader.
type nodeDB struct {
	db *overlay.Overlay
}

// NodeReader implements the database.NodeDatabase interface.
func (n nodeDB) NodeReader(stateRoot common.Hash) (database.NodeReader, error) {
	return n, nil
}

// Node implements the database.NodeReader interface. A missing node is
// reported as an empty blob, which the trie turns into a missing node error.
func (n nodeDB) Node(owner common.Hash, path []byte, hash common.Hash) ([]byte, error) {
	blob, err := n.db.Lookup(hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return blob, nil
}

// =============================================================================

// openTrie opens the account trie stored under root.
func openTrie(db *overlay.Overlay, root common.Hash) (*trie.Trie, error) {
	tr, err := trie.New(trie.StateTrieID(root), nodeDB{db: db})
	if err != nil {
		return nil, fmt.Errorf("%w: root %s: %w", ErrMissingNode, root, err)
	}

	return tr, nil
}

// read decodes the account stored in the trie. A nil account with a nil
// error means the account does not exist.
func (s *State) read(addr common.Address) (*types.StateAccount, error) {
	enc, err := s.trie.Get(crypto.Keccak256(addr[:]))
	if err != nil {
		return nil, fmt.Errorf("%w: account %s: %w", ErrMissingNode, addr, err)
	}
	if len(enc) == 0 {
		return nil, nil
	}

	var acc types.StateAccount
	if err := rlp.DecodeBytes(enc, &acc); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", addr, err)
	}

	return &acc, nil
}

// walk iterates every leaf of the trie and maps it back to its address
// through the preimage records.
func (s *State) walk() (map[common.Address]Info, error) {
	nodes, err := s.trie.NodeIterator(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: iterate root %s: %w", ErrMissingNode, s.root, err)
	}

	infos := make(map[common.Address]Info)

	it := trie.NewIterator(nodes)
	for it.Next() {
		hash := common.BytesToHash(it.Key)

		addr, err := s.db.LookupAux(preimageKey(hash))
		if err != nil {
			return nil, fmt.Errorf("%w: key %s: %w", ErrMissingPreimage, hash, err)
		}

		var acc types.StateAccount
		if err := rlp.DecodeBytes(it.Value, &acc); err != nil {
			return nil, fmt.Errorf("decode account %x: %w", addr, err)
		}

		infos[common.BytesToAddress(addr)] = Info{Balance: acc.Balance, Nonce: acc.Nonce}
	}

	if it.Err != nil {
		return nil, fmt.Errorf("%w: iterate root %s: %w", ErrMissingNode, s.root, it.Err)
	}

	return infos, nil
}
