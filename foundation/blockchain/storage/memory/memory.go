// Package memory implements the storage.Store interface on top of the
// go-ethereum in-memory key/value database.
package memory

import (
	"github.com/ardanlabs/ethcore/foundation/blockchain/storage"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
)

// Memory represents the in-memory implementation of a store. It is used by
// tests and by nodes running without a data directory.
type Memory struct {
	db *memorydb.Database
}

// New constructs a Memory value for use.
func New() *Memory {
	return &Memory{
		db: memorydb.New(),
	}
}

// Get returns the value for the specified key.
func (m *Memory) Get(key []byte) ([]byte, error) {
	ok, err := m.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storage.ErrNotFound
	}

	return m.db.Get(key)
}

// Has reports if the specified key exists.
func (m *Memory) Has(key []byte) (bool, error) {
	return m.db.Has(key)
}

// Write applies the batch of entries in a single call.
func (m *Memory) Write(batch []storage.Entry) error {
	b := m.db.NewBatch()
	for _, e := range batch {
		if err := b.Put(e.Key, e.Value); err != nil {
			return err
		}
	}

	return b.Write()
}

// Len returns the number of keys held in memory.
func (m *Memory) Len() int {
	return m.db.Len()
}

// Close releases the in-memory database.
func (m *Memory) Close() error {
	return m.db.Close()
}
