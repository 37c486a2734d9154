// lsmkv-demo exercises the store's public API end to end: writes,
// reads, a secondary index, and a reopen after Terminate to show data
// survives a restart. Grounded on the teacher's cmd/test-lsm smoke
// test, extended to this module's transaction and secondary-index API.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/coldfront/lsmkv/pkg/kv"
	"github.com/coldfront/lsmkv/pkg/store"
	"github.com/coldfront/lsmkv/pkg/txn"
)

// csvExtractor treats a PV as comma-separated fields and extracts the
// field at spec.Path[0]; a real deployment would supply its own codec.
type csvExtractor struct{}

func (csvExtractor) Extract(spec kv.SVSpec, pv kv.Value) (kv.Key, bool) {
	fields := strings.Split(string(pv.Bytes()), ",")
	if len(spec.Path) != 1 || spec.Path[0] >= len(fields) {
		return nil, false
	}
	return kv.RawKey(fields[spec.Path[0]]), true
}

func main() {
	dir := "./data/lsmkv-demo"
	os.RemoveAll(dir)

	opts := store.DefaultOptions(dir)
	opts.Extractor = csvExtractor{}

	fmt.Println("Opening store...")
	s, err := store.Open(opts)
	if err != nil {
		log.Fatalf("Open: %v", err)
	}

	fmt.Println("Writing rows...")
	rows := map[string]string{
		"user:1": "red,alice",
		"user:2": "blue,bob",
		"user:3": "red,carol",
	}
	if err := s.RunTransaction(0, func(tx *txn.Txn) (txn.Outcome, error) {
		for pk, pv := range rows {
			if err := tx.Put(kv.RawKey(pk), kv.Some(kv.RawValue(pv))); err != nil {
				return txn.Abort, err
			}
		}
		return txn.Commit, nil
	}); err != nil {
		log.Fatalf("RunTransaction (write): %v", err)
	}

	fmt.Println("Reading back...")
	if err := s.RunTransaction(0, func(tx *txn.Txn) (txn.Outcome, error) {
		for pk := range rows {
			val, ok, err := tx.GetPKOne(kv.RawKey(pk))
			if err != nil {
				return txn.Abort, err
			}
			if !ok {
				fmt.Printf("  %s = NOT FOUND\n", pk)
				continue
			}
			fmt.Printf("  %s = %s\n", pk, val.Bytes())
		}
		return txn.Abort, nil
	}); err != nil {
		log.Fatalf("RunTransaction (read): %v", err)
	}

	colorSpec := kv.SVSpec{Path: []int{0}, ExpectedType: "string"}
	fmt.Println("Creating secondary index on field 0 (color)...")
	if err := s.CreateSecondaryIndex(colorSpec); err != nil {
		log.Fatalf("CreateSecondaryIndex: %v", err)
	}

	fmt.Println("Querying secondary index for color=red...")
	if err := s.RunTransaction(0, func(tx *txn.Txn) (txn.Outcome, error) {
		entries, err := tx.GetSVRange(colorSpec, kv.RawKey("red"), kv.RawKey("red"))
		if err != nil {
			return txn.Abort, err
		}
		for _, e := range entries {
			ck := e.Key.(kv.CompositeKey)
			fmt.Printf("  pk=%s\n", ck.PK.Bytes())
		}
		return txn.Abort, nil
	}); err != nil {
		log.Fatalf("RunTransaction (secondary read): %v", err)
	}

	fmt.Println("Terminating store...")
	if err := s.Terminate(); err != nil {
		log.Fatalf("Terminate: %v", err)
	}

	fmt.Println("Reopening store...")
	s2, err := store.Open(opts)
	if err != nil {
		log.Fatalf("reopen: %v", err)
	}
	defer s2.Terminate()

	if err := s2.RunTransaction(0, func(tx *txn.Txn) (txn.Outcome, error) {
		val, ok, err := tx.GetPKOne(kv.RawKey("user:1"))
		if err != nil {
			return txn.Abort, err
		}
		if !ok {
			fmt.Println("  user:1 NOT FOUND after reopen")
		} else {
			fmt.Printf("  user:1 = %s (survived reopen)\n", val.Bytes())
		}
		return txn.Abort, nil
	}); err != nil {
		log.Fatalf("RunTransaction (post-reopen read): %v", err)
	}

	fmt.Println("Done.")
}
