// Package storage defines the key/value contract the node uses for persisting
// trie nodes, auxiliary records and chain data.
package storage

import "errors"

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("key not found")

// Entry represents a single key/value pair to be written in a batch.
type Entry struct {
	Key   []byte
	Value []byte
}

// Store interface represents the behavior required to be implemented by any
// package providing support for reading and writing key/value pairs. A call
// to Write must be atomic: either every entry is persisted or none are.
type Store interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Write(batch []Entry) error
	Close() error
}

// Copy returns an independent copy of the specified bytes.
func Copy(b []byte) []byte {
	if b == nil {
		return nil
	}

	c := make([]byte, len(b))
	copy(c, b)
	return c
}
