package database

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ardanlabs/ethcore/foundation/blockchain/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// Key prefixes for the chain records. Chain keys are one byte longer than
// trie node keys so the two never collide in the shared key space.
var (
	headerPrefix    = []byte("h")
	bodyPrefix      = []byte("b")
	detailsPrefix   = []byte("d")
	canonicalPrefix = []byte("n")
	lastBlockKey    = []byte("LastBlock")
)

// Details represents what the chain knows about a block beyond its content.
type Details struct {
	Number          uint64
	TotalDifficulty *big.Int
	Parent          common.Hash
	Children        []common.Hash
}

// ImportRoute represents the change to the canonical chain an import caused.
// Dead lists the blocks that left the canonical chain, newest first. Live
// lists the blocks that joined it, oldest first.
type ImportRoute struct {
	Dead []common.Hash
	Live []common.Hash
}

// Merge appends the route of a later import to this one.
func (r *ImportRoute) Merge(other ImportRoute) {
	r.Dead = append(r.Dead, other.Dead...)
	r.Live = append(r.Live, other.Live...)
}

// =============================================================================

func headerKey(hash common.Hash) []byte {
	return append(append([]byte{}, headerPrefix...), hash[:]...)
}

func bodyKey(hash common.Hash) []byte {
	return append(append([]byte{}, bodyPrefix...), hash[:]...)
}

func detailsKey(hash common.Hash) []byte {
	return append(append([]byte{}, detailsPrefix...), hash[:]...)
}

func canonicalKey(number uint64) []byte {
	key := append([]byte{}, canonicalPrefix...)
	return binary.BigEndian.AppendUint64(key, number)
}

// =============================================================================

// blockEntries returns the records that persist a block.
func blockEntries(blk *types.Block, details Details) ([]storage.Entry, error) {
	hash := blk.Hash()

	header, err := rlp.EncodeToBytes(blk.Header())
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}

	body, err := rlp.EncodeToBytes(blk.Body())
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}

	entry, err := detailsEntry(hash, details)
	if err != nil {
		return nil, err
	}

	entries := []storage.Entry{
		{Key: headerKey(hash), Value: header},
		{Key: bodyKey(hash), Value: body},
		entry,
	}

	return entries, nil
}

func detailsEntry(hash common.Hash, details Details) (storage.Entry, error) {
	data, err := rlp.EncodeToBytes(details)
	if err != nil {
		return storage.Entry{}, fmt.Errorf("encode details: %w", err)
	}

	return storage.Entry{Key: detailsKey(hash), Value: data}, nil
}

func canonicalEntry(number uint64, hash common.Hash) storage.Entry {
	return storage.Entry{Key: canonicalKey(number), Value: hash.Bytes()}
}

func headEntry(hash common.Hash) storage.Entry {
	return storage.Entry{Key: lastBlockKey, Value: hash.Bytes()}
}
