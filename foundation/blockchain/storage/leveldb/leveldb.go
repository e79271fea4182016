// Package leveldb implements the storage.Store interface on disk using
// goleveldb.
package leveldb

import (
	"github.com/ardanlabs/ethcore/foundation/blockchain/storage"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDB represents the on-disk store.
type LevelDB struct {
	ldb *leveldb.DB
}

// New opens the database at the specified path, creating it if it does
// not exist. A corrupted database is recovered before use.
func New(path string) (*LevelDB, error) {
	options := opt.Options{
		Compression: opt.NoCompression,
	}

	ldb, err := leveldb.OpenFile(path, &options)
	if ldberrors.IsCorrupted(err) {
		ldb, err = leveldb.RecoverFile(path, &options)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return &LevelDB{ldb: ldb}, nil
}

// Get returns the value for the specified key.
func (db *LevelDB) Get(key []byte) ([]byte, error) {
	data, err := db.ldb.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get key %x", key)
	}

	return data, nil
}

// Has reports if the specified key exists.
func (db *LevelDB) Has(key []byte) (bool, error) {
	ok, err := db.ldb.Has(key, nil)
	if err != nil {
		return false, errors.Wrapf(err, "has key %x", key)
	}

	return ok, nil
}

// Write applies the batch of entries atomically.
func (db *LevelDB) Write(batch []storage.Entry) error {
	b := new(leveldb.Batch)
	for _, e := range batch {
		b.Put(e.Key, e.Value)
	}

	if err := db.ldb.Write(b, nil); err != nil {
		return errors.Wrapf(err, "write batch of %d entries", len(batch))
	}

	return nil
}

// Close closes the underlying database.
func (db *LevelDB) Close() error {
	return errors.WithStack(db.ldb.Close())
}
