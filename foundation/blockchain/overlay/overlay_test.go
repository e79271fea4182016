package overlay_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ardanlabs/ethcore/foundation/blockchain/overlay"
	"github.com/ardanlabs/ethcore/foundation/blockchain/storage"
	"github.com/ardanlabs/ethcore/foundation/blockchain/storage/memory"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// failingStore fails the first n writes and then delegates to memory.
type failingStore struct {
	*memory.Memory
	fail   int
	writes int
}

func (fs *failingStore) Write(batch []storage.Entry) error {
	fs.writes++
	if fs.writes <= fs.fail {
		return errors.New("disk full")
	}
	return fs.Memory.Write(batch)
}

// =============================================================================

func TestLookupAndCommit(t *testing.T) {
	t.Log("Given the need to buffer writes on top of a store.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen inserting a node and an aux record.", testID)
		{
			store := memory.New()
			db := overlay.New(store)

			node := []byte{0xc2, 0x01, 0x02}
			key := crypto.Keccak256Hash(node)
			db.Insert(key, node)
			db.InsertAux([]byte("pre"), []byte("image"), true)

			v, err := db.Lookup(key)
			if err != nil || string(v) != string(node) {
				t.Fatalf("\t%s\tTest %d:\tShould read the buffered node before commit: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould read the buffered node before commit.", success, testID)

			if store.Len() != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould not touch the store before commit.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not touch the store before commit.", success, testID)

			if err := db.Commit(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to commit: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to commit.", success, testID)

			if m, a := db.Dirty(); m != 0 || a != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould clear the buffers: main[%d] aux[%d]", failed, testID, m, a)
			}
			t.Logf("\t%s\tTest %d:\tShould clear the buffers.", success, testID)

			if _, err := store.Get(append([]byte("pre"), overlay.AuxSuffix)); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould store aux keys with the reserved suffix: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould store aux keys with the reserved suffix.", success, testID)

			if _, err := store.Get([]byte("pre")); !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("\t%s\tTest %d:\tShould not store the aux key without the suffix.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not store the aux key without the suffix.", success, testID)

			v, err = db.LookupAux([]byte("pre"))
			if err != nil || string(v) != "image" {
				t.Fatalf("\t%s\tTest %d:\tShould read the aux record through the store: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould read the aux record through the store.", success, testID)

			if !db.Exists(key) {
				t.Fatalf("\t%s\tTest %d:\tShould find the committed node.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould find the committed node.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen inserting a clean aux record.", testID)
		{
			store := memory.New()
			db := overlay.New(store)

			db.InsertAux([]byte("clean"), []byte{1}, false)
			if err := db.Commit(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to commit: %v", failed, testID, err)
			}

			if store.Len() != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould only flush dirty entries.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould only flush dirty entries.", success, testID)
		}
	}
}

func TestRollback(t *testing.T) {
	t.Log("Given the need to discard buffered writes.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen rolling back before a commit.", testID)
		{
			store := memory.New()
			db := overlay.New(store)

			node := []byte{0xc1, 0x05}
			key := crypto.Keccak256Hash(node)
			db.Insert(key, node)
			db.InsertAux([]byte("k"), []byte("v"), true)
			db.Rollback()

			if m, a := db.Dirty(); m != 0 || a != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould leave the buffers empty.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould leave the buffers empty.", success, testID)

			if err := db.Commit(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to commit: %v", failed, testID, err)
			}

			if store.Len() != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould leave the store unchanged.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould leave the store unchanged.", success, testID)

			if db.Exists(key) {
				t.Fatalf("\t%s\tTest %d:\tShould not find the discarded node.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not find the discarded node.", success, testID)
		}
	}
}

func TestCommitRetry(t *testing.T) {
	type table struct {
		name      string
		fail      int
		writes    int
		sleeps    []time.Duration
		fatal     bool
		persisted bool
	}

	tt := []table{
		{
			name:      "first",
			fail:      0,
			writes:    1,
			persisted: true,
		},
		{
			name:      "third",
			fail:      2,
			writes:    3,
			sleeps:    []time.Duration{time.Second, 2 * time.Second},
			persisted: true,
		},
		{
			name:      "last",
			fail:      9,
			writes:    10,
			sleeps:    []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9},
			persisted: true,
		},
		{
			name:   "exhausted",
			fail:   10,
			writes: 10,
			sleeps: []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9},
			fatal:  true,
		},
	}

	t.Log("Given the need to retry failed writes.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen the store fails %d times.", testID, tst.fail)
				{
					store := failingStore{Memory: memory.New(), fail: tst.fail}

					backoff := time.Second
					if tst.name == "last" || tst.name == "exhausted" {
						backoff = 1
					}

					var sleeps []time.Duration
					var fatalErr error
					db := overlay.New(&store,
						overlay.WithBackoff(backoff),
						overlay.WithSleep(func(d time.Duration) { sleeps = append(sleeps, d) }),
						overlay.WithFatal(func(err error) { fatalErr = err }),
					)

					node := []byte{0xc1, 0x07}
					db.Insert(crypto.Keccak256Hash(node), node)

					err := db.Commit()

					if store.writes != tst.writes {
						t.Fatalf("\t%s\tTest %d:\tShould attempt %d writes, got %d.", failed, testID, tst.writes, store.writes)
					}
					t.Logf("\t%s\tTest %d:\tShould attempt %d writes.", success, testID, tst.writes)

					if len(sleeps) != len(tst.sleeps) {
						t.Fatalf("\t%s\tTest %d:\tShould sleep %d times, got %d.", failed, testID, len(tst.sleeps), len(sleeps))
					}
					for i := range sleeps {
						if sleeps[i] != tst.sleeps[i] {
							t.Fatalf("\t%s\tTest %d:\tShould back off linearly, got %v exp %v.", failed, testID, sleeps[i], tst.sleeps[i])
						}
					}
					t.Logf("\t%s\tTest %d:\tShould back off linearly.", success, testID)

					switch tst.fatal {
					case true:
						if fatalErr == nil || !errors.Is(err, overlay.ErrCommitFailed) {
							t.Fatalf("\t%s\tTest %d:\tShould treat the last failure as fatal.", failed, testID)
						}
						t.Logf("\t%s\tTest %d:\tShould treat the last failure as fatal.", success, testID)

						if m, _ := db.Dirty(); m != 1 {
							t.Fatalf("\t%s\tTest %d:\tShould keep the buffers after a fatal failure.", failed, testID)
						}
						t.Logf("\t%s\tTest %d:\tShould keep the buffers after a fatal failure.", success, testID)

					default:
						if err != nil || fatalErr != nil {
							t.Fatalf("\t%s\tTest %d:\tShould commit without a fatal error: %v", failed, testID, err)
						}
						t.Logf("\t%s\tTest %d:\tShould commit without a fatal error.", success, testID)
					}

					if (store.Len() == 1) != tst.persisted {
						t.Fatalf("\t%s\tTest %d:\tShould persist the batch: %v.", failed, testID, tst.persisted)
					}
					t.Logf("\t%s\tTest %d:\tShould persist the batch: %v.", success, testID, tst.persisted)
				}
			}

			t.Run(tst.name, f)
		}
	}
}

func TestCopy(t *testing.T) {
	t.Log("Given the need to share a store between handles.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen copying a handle with buffered writes.", testID)
		{
			var events []string
			ev := func(v string, args ...any) { events = append(events, v) }

			store := memory.New()
			db := overlay.New(store, overlay.WithEvHandler(ev))

			a := []byte{0xc1, 0x0a}
			db.Insert(crypto.Keccak256Hash(a), a)

			cpy := db.Copy()

			b := []byte{0xc1, 0x0b}
			cpy.Insert(crypto.Keccak256Hash(b), b)

			if db.Exists(crypto.Keccak256Hash(b)) {
				t.Fatalf("\t%s\tTest %d:\tShould keep copy buffers private.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould keep copy buffers private.", success, testID)

			if !cpy.Exists(crypto.Keccak256Hash(a)) {
				t.Fatalf("\t%s\tTest %d:\tShould carry the parent buffers into the copy.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould carry the parent buffers into the copy.", success, testID)

			if err := cpy.Commit(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to commit the copy: %v", failed, testID, err)
			}

			if !db.Exists(crypto.Keccak256Hash(b)) {
				t.Fatalf("\t%s\tTest %d:\tShould see the copy's flush through the shared store.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould see the copy's flush through the shared store.", success, testID)

			cpy.Close()
			if len(events) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould not report release while a handle is open.", failed, testID)
			}
			db.Close()
			if len(events) != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould report the last handle released.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould report the last handle released.", success, testID)
		}
	}
}
