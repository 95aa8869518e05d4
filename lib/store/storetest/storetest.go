package storetest

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/hexmirror/hexmirror/lib/store"
)

// StoreFactory is a function that creates a new instance of an IStore
// implementation.
type StoreFactory func() store.IStore

// RunStoreTests runs a conformance test suite for an IStore implementation.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("WriteAndRead", func(t *testing.T) {
			testWriteAndRead(t, factory())
		})

		t.Run("ReadYourWrites", func(t *testing.T) {
			testReadYourWrites(t, factory())
		})

		t.Run("RollbackOnError", func(t *testing.T) {
			testRollbackOnError(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Select", func(t *testing.T) {
			testSelect(t, factory())
		})

		t.Run("DirtyRead", func(t *testing.T) {
			testDirtyRead(t, factory())
		})

		t.Run("UnknownTable", func(t *testing.T) {
			testUnknownTable(t, factory())
		})

		t.Run("ConcurrentCounter", func(t *testing.T) {
			testConcurrentCounter(t, factory())
		})

		t.Run("ConcurrentCreateIfAbsent", func(t *testing.T) {
			testConcurrentCreateIfAbsent(t, factory())
		})

		t.Run("WriteIndexAdvances", func(t *testing.T) {
			testWriteIndexAdvances(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// retryConflict runs a transaction until it no longer loses the optimistic
// race. The store retries once internally; under heavy deliberate contention
// the caller loops like any real writer would.
func retryConflict(t testing.TB, s store.IStore, fn store.TxFunc) {
	for {
		err := s.Transaction(fn)
		if err == nil {
			return
		}
		if store.IsConflict(err) {
			continue
		}
		t.Fatalf("transaction failed: %v", err)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testWriteAndRead(t *testing.T, s store.IStore) {
	defer s.Close()

	err := s.Transaction(func(tx store.Tx) error {
		return tx.Write(store.TablePackages, "local:foo", []byte("v1"))
	})
	if err != nil {
		t.Fatalf("write transaction failed: %v", err)
	}

	err = s.Transaction(func(tx store.Tx) error {
		rec, found, err := tx.Read(store.TablePackages, "local:foo")
		if err != nil {
			return err
		}
		if !found {
			t.Errorf("expected key local:foo to exist after commit")
		}
		if !bytes.Equal(rec.Value, []byte("v1")) {
			t.Errorf("expected value v1, got %s", rec.Value)
		}

		_, found, err = tx.Read(store.TablePackages, "local:missing")
		if err != nil {
			return err
		}
		if found {
			t.Errorf("expected missing key to return found=false")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read transaction failed: %v", err)
	}
}

func testReadYourWrites(t *testing.T, s store.IStore) {
	defer s.Close()

	err := s.Transaction(func(tx store.Tx) error {
		if err := tx.Write(store.TableOwners, "foo#alice", []byte("owner")); err != nil {
			return err
		}

		rec, found, err := tx.Read(store.TableOwners, "foo#alice")
		if err != nil {
			return err
		}
		if !found {
			t.Errorf("expected staged write to be visible within the transaction")
		}
		if !bytes.Equal(rec.Value, []byte("owner")) {
			t.Errorf("expected staged value owner, got %s", rec.Value)
		}

		// A staged delete must hide the record again.
		if err := tx.Delete(store.TableOwners, "foo#alice"); err != nil {
			return err
		}
		_, found, err = tx.Read(store.TableOwners, "foo#alice")
		if err != nil {
			return err
		}
		if found {
			t.Errorf("expected staged delete to hide the record")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

func testRollbackOnError(t *testing.T, s store.IStore) {
	defer s.Close()

	abort := fmt.Errorf("abort")
	err := s.Transaction(func(tx store.Tx) error {
		if err := tx.Write(store.TablePackages, "local:doomed", []byte("x")); err != nil {
			return err
		}
		return abort
	})
	if err != abort {
		t.Fatalf("expected the abort error to surface unchanged, got %v", err)
	}

	_, found, err := s.DirtyRead(store.TablePackages, "local:doomed")
	if err != nil {
		t.Fatalf("dirty read failed: %v", err)
	}
	if found {
		t.Errorf("expected aborted write to be rolled back")
	}
}

func testDelete(t *testing.T, s store.IStore) {
	defer s.Close()

	err := s.Transaction(func(tx store.Tx) error {
		return tx.Write(store.TableReleases, "local:foo@1.0.0", []byte("rel"))
	})
	if err != nil {
		t.Fatalf("write transaction failed: %v", err)
	}

	err = s.Transaction(func(tx store.Tx) error {
		return tx.Delete(store.TableReleases, "local:foo@1.0.0")
	})
	if err != nil {
		t.Fatalf("delete transaction failed: %v", err)
	}

	_, found, err := s.DirtyRead(store.TableReleases, "local:foo@1.0.0")
	if err != nil {
		t.Fatalf("dirty read failed: %v", err)
	}
	if found {
		t.Errorf("expected deleted record to be gone")
	}
}

func testSelect(t *testing.T, s store.IStore) {
	defer s.Close()

	err := s.Transaction(func(tx store.Tx) error {
		for i := 0; i < 5; i++ {
			if err := tx.Write(store.TablePackages, fmt.Sprintf("cached:pkg%d", i), []byte("c")); err != nil {
				return err
			}
		}
		return tx.Write(store.TablePackages, "local:pkg0", []byte("l"))
	})
	if err != nil {
		t.Fatalf("write transaction failed: %v", err)
	}

	err = s.Transaction(func(tx store.Tx) error {
		cached, err := tx.Select(store.TablePackages, func(rec store.Record) bool {
			return bytes.Equal(rec.Value, []byte("c"))
		})
		if err != nil {
			return err
		}
		if len(cached) != 5 {
			t.Errorf("expected 5 cached records, got %d", len(cached))
		}

		// Staged writes of the running transaction must be part of the
		// select result.
		if err := tx.Write(store.TablePackages, "cached:pkg5", []byte("c")); err != nil {
			return err
		}
		cached, err = tx.Select(store.TablePackages, func(rec store.Record) bool {
			return bytes.Equal(rec.Value, []byte("c"))
		})
		if err != nil {
			return err
		}
		if len(cached) != 6 {
			t.Errorf("expected 6 cached records after staged write, got %d", len(cached))
		}
		return fmt.Errorf("abort, select only")
	})
	if err == nil {
		t.Fatalf("expected abort error")
	}
}

func testDirtyRead(t *testing.T, s store.IStore) {
	defer s.Close()

	err := s.Transaction(func(tx store.Tx) error {
		return tx.Write(store.TableVersion, "registry", []byte("42"))
	})
	if err != nil {
		t.Fatalf("write transaction failed: %v", err)
	}

	rec, found, err := s.DirtyRead(store.TableVersion, "registry")
	if err != nil {
		t.Fatalf("dirty read failed: %v", err)
	}
	if !found || !bytes.Equal(rec.Value, []byte("42")) {
		t.Errorf("expected dirty read to observe the committed value")
	}

	rows, err := s.DirtySelect(store.TableVersion, nil)
	if err != nil {
		t.Fatalf("dirty select failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected 1 record, got %d", len(rows))
	}
}

func testUnknownTable(t *testing.T, s store.IStore) {
	defer s.Close()

	err := s.Transaction(func(tx store.Tx) error {
		_, _, err := tx.Read(store.Table("bogus"), "key")
		return err
	})
	if err == nil {
		t.Fatalf("expected an error for an unknown table")
	}
}

func testConcurrentCounter(t *testing.T, s store.IStore) {
	defer s.Close()

	const writers = 16

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			retryConflict(t, s, func(tx store.Tx) error {
				rec, found, err := tx.Read(store.TableVersion, "counter")
				if err != nil {
					return err
				}
				n := byte(0)
				if found {
					n = rec.Value[0]
				}
				return tx.Write(store.TableVersion, "counter", []byte{n + 1})
			})
		}()
	}
	wg.Wait()

	rec, found, err := s.DirtyRead(store.TableVersion, "counter")
	if err != nil || !found {
		t.Fatalf("counter not found after writes: %v", err)
	}
	if rec.Value[0] != writers {
		t.Errorf("lost update: expected counter %d, got %d", writers, rec.Value[0])
	}
}

func testConcurrentCreateIfAbsent(t *testing.T, s store.IStore) {
	defer s.Close()

	const writers = 8

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			retryConflict(t, s, func(tx store.Tx) error {
				_, found, err := tx.Read(store.TablePackages, "cached:bar")
				if err != nil {
					return err
				}
				if found {
					return nil
				}
				return tx.Write(store.TablePackages, "cached:bar", []byte("filled"))
			})
		}()
	}
	wg.Wait()

	rows, err := s.DirtySelect(store.TablePackages, func(rec store.Record) bool {
		return rec.Key == "cached:bar"
	})
	if err != nil {
		t.Fatalf("dirty select failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected exactly one record, got %d", len(rows))
	}
}

func testWriteIndexAdvances(t *testing.T, s store.IStore) {
	defer s.Close()

	before, err := s.WriteIndex()
	if err != nil {
		t.Fatalf("write index failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("local:idx_%d", i)
		retryConflict(t, s, func(tx store.Tx) error {
			return tx.Write(store.TablePackages, key, []byte("v"))
		})
	}

	after, err := s.WriteIndex()
	if err != nil {
		t.Fatalf("write index failed: %v", err)
	}
	if after <= before {
		t.Errorf("write index did not advance: %d -> %d", before, after)
	}

	// Read-only transactions commit nothing and must not move the index.
	err = s.Transaction(func(tx store.Tx) error {
		_, _, err := tx.Read(store.TablePackages, "local:idx_0")
		return err
	})
	if err != nil {
		t.Fatalf("read transaction failed: %v", err)
	}
	final, err := s.WriteIndex()
	if err != nil {
		t.Fatalf("write index failed: %v", err)
	}
	if final != after {
		t.Errorf("read-only transaction moved the write index: %d -> %d", after, final)
	}
}
