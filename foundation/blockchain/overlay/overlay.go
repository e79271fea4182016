// Package overlay buffers trie node and auxiliary writes in memory on top of
// a persistent store and flushes them as a single atomic batch.
package overlay

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardanlabs/ethcore/foundation/blockchain/storage"
	"github.com/ethereum/go-ethereum/common"
)

// AuxSuffix is appended to every auxiliary key before it reaches the store
// so aux records never collide with trie node hashes.
const AuxSuffix byte = 0xff

// CommitAttempts is the number of times a batch write is attempted before
// the failure is treated as fatal.
const CommitAttempts = 10

// ErrCommitFailed is returned when the batch can't be written after all
// the attempts have been used.
var ErrCommitFailed = errors.New("unable to write to the database")

// EventHandler defines a function that is called when events
// occur in the processing of the overlay.
type EventHandler func(v string, args ...any)

// =============================================================================

// entry is a buffered value with a flag marking it for the next flush.
type entry struct {
	value []byte
	dirty bool
}

// backing is the store shared by every handle created through Copy.
type backing struct {
	store storage.Store
	refs  atomic.Int32
}

// Option represents a functional option for the overlay.
type Option func(o *Overlay)

// WithBackoff sets the base delay between commit attempts. Attempt n waits
// n times this value.
func WithBackoff(d time.Duration) Option {
	return func(o *Overlay) {
		o.backoff = d
	}
}

// WithSleep replaces the function used to wait between commit attempts.
func WithSleep(fn func(time.Duration)) Option {
	return func(o *Overlay) {
		o.sleep = fn
	}
}

// WithFatal replaces the function called when every commit attempt failed.
// The default logs the error and terminates the process.
func WithFatal(fn func(err error)) Option {
	return func(o *Overlay) {
		o.fatal = fn
	}
}

// WithEvHandler sets the event handler for the overlay.
func WithEvHandler(ev EventHandler) Option {
	return func(o *Overlay) {
		if ev != nil {
			o.evHandler = ev
		}
	}
}

// =============================================================================

// Overlay is a handle on a backing store with its own dirty buffers.
type Overlay struct {
	backing   *backing
	mu        sync.RWMutex
	main      map[common.Hash]entry
	aux       map[string]entry
	backoff   time.Duration
	sleep     func(time.Duration)
	fatal     func(err error)
	evHandler EventHandler
}

// New constructs an overlay on top of the specified store.
func New(store storage.Store, options ...Option) *Overlay {
	o := Overlay{
		backing:   &backing{store: store},
		main:      make(map[common.Hash]entry),
		aux:       make(map[string]entry),
		backoff:   time.Second,
		sleep:     time.Sleep,
		evHandler: func(v string, args ...any) {},
	}

	for _, option := range options {
		option(&o)
	}

	if o.fatal == nil {
		o.fatal = func(err error) {
			o.evHandler("overlay: commit: FATAL: %s: database is unusable, shutting down", err)
			os.Exit(1)
		}
	}

	o.backing.refs.Store(1)

	return &o
}

// Store returns the backing store.
func (o *Overlay) Store() storage.Store {
	return o.backing.store
}

// Copy returns a new handle sharing the backing store with a private copy
// of the dirty buffers.
func (o *Overlay) Copy() *Overlay {
	o.mu.RLock()
	defer o.mu.RUnlock()

	cpy := Overlay{
		backing:   o.backing,
		main:      make(map[common.Hash]entry, len(o.main)),
		aux:       make(map[string]entry, len(o.aux)),
		backoff:   o.backoff,
		sleep:     o.sleep,
		fatal:     o.fatal,
		evHandler: o.evHandler,
	}
	for k, e := range o.main {
		cpy.main[k] = e
	}
	for k, e := range o.aux {
		cpy.aux[k] = e
	}

	o.backing.refs.Add(1)

	return &cpy
}

// Close releases this handle. The backing store stays open; it is owned by
// whoever constructed it.
func (o *Overlay) Close() {
	if o.backing.refs.Add(-1) == 0 {
		o.evHandler("overlay: close: last handle on the state database released")
	}
}

// =============================================================================

// Lookup returns the value for the trie node key, reading the dirty buffer
// before the backing store.
func (o *Overlay) Lookup(key common.Hash) ([]byte, error) {
	o.mu.RLock()
	e, exists := o.main[key]
	o.mu.RUnlock()

	if exists {
		return e.value, nil
	}

	return o.backing.store.Get(key[:])
}

// Exists reports if the trie node key is buffered or persisted.
func (o *Overlay) Exists(key common.Hash) bool {
	o.mu.RLock()
	_, exists := o.main[key]
	o.mu.RUnlock()

	if exists {
		return true
	}

	ok, err := o.backing.store.Has(key[:])
	return err == nil && ok
}

// Insert buffers a trie node for the next flush.
func (o *Overlay) Insert(key common.Hash, value []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.main[key] = entry{value: storage.Copy(value), dirty: true}
}

// LookupAux returns the auxiliary value for the key.
func (o *Overlay) LookupAux(key []byte) ([]byte, error) {
	o.mu.RLock()
	e, exists := o.aux[string(key)]
	o.mu.RUnlock()

	if exists {
		return e.value, nil
	}

	return o.backing.store.Get(auxKey(key))
}

// InsertAux buffers an auxiliary value. Only entries marked dirty are
// written by the next flush; clean entries are visible to lookups until
// then.
func (o *Overlay) InsertAux(key []byte, value []byte, dirty bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.aux[string(key)] = entry{value: storage.Copy(value), dirty: dirty}
}

// Dirty returns the number of entries marked for the next flush.
func (o *Overlay) Dirty() (main int, aux int) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	for _, e := range o.main {
		if e.dirty {
			main++
		}
	}
	for _, e := range o.aux {
		if e.dirty {
			aux++
		}
	}

	return main, aux
}

// Rollback discards everything buffered since the last flush.
func (o *Overlay) Rollback() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.main = make(map[common.Hash]entry)
	o.aux = make(map[string]entry)
}

// =============================================================================

// Commit writes every dirty entry to the backing store in one batch. A failed
// write is retried with the same batch, waiting attempt times the backoff in
// between. When the last attempt fails the fatal handler is called.
func (o *Overlay) Commit() error {
	batch, flushedMain, flushedAux := o.snapshot()

	if len(batch) > 0 {
		for attempt := 1; ; attempt++ {
			err := o.backing.store.Write(batch)
			if err == nil {
				break
			}

			if attempt == CommitAttempts {
				err = fmt.Errorf("%w: attempts[%d]: %w", ErrCommitFailed, attempt, err)
				o.evHandler("overlay: commit: ERROR: %s", err)
				o.fatal(err)
				return err
			}

			delay := time.Duration(attempt) * o.backoff
			o.evHandler("overlay: commit: WARNING: write failed: attempt[%d]: retry in %v: %s", attempt, delay, err)
			o.sleep(delay)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for k, e := range o.main {
		if v, ok := flushedMain[k]; !e.dirty || (ok && bytes.Equal(v, e.value)) {
			delete(o.main, k)
		}
	}
	for k, e := range o.aux {
		if v, ok := flushedAux[k]; !e.dirty || (ok && bytes.Equal(v, e.value)) {
			delete(o.aux, k)
		}
	}

	return nil
}

// snapshot builds the batch from the dirty entries under the read lock.
func (o *Overlay) snapshot() ([]storage.Entry, map[common.Hash][]byte, map[string][]byte) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	batch := make([]storage.Entry, 0, len(o.main)+len(o.aux))
	flushedMain := make(map[common.Hash][]byte)
	flushedAux := make(map[string][]byte)

	for k, e := range o.main {
		if !e.dirty {
			continue
		}
		batch = append(batch, storage.Entry{Key: storage.Copy(k[:]), Value: e.value})
		flushedMain[k] = e.value
	}

	for k, e := range o.aux {
		if !e.dirty {
			continue
		}
		batch = append(batch, storage.Entry{Key: auxKey([]byte(k)), Value: e.value})
		flushedAux[k] = e.value
	}

	return batch, flushedMain, flushedAux
}

// auxKey returns the store key for an auxiliary key.
func auxKey(key []byte) []byte {
	k := make([]byte, len(key)+1)
	copy(k, key)
	k[len(key)] = AuxSuffix
	return k
}
