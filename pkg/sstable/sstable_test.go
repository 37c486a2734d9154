package sstable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/coldfront/lsmkv/pkg/kv"
	"github.com/coldfront/lsmkv/pkg/memlog"
)

func pair(k, v string) Pair {
	return Pair{Key: kv.RawKey(k), Val: kv.Some(kv.RawValue(v))}
}

func tombstonePair(k string) Pair {
	return Pair{Key: kv.RawKey(k), Val: kv.None()}
}

func TestWriteAndGetOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sst")
	pairs := []Pair{pair("a", "1"), pair("b", "2"), pair("c", "3")}
	st, err := Write(path, pairs)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if st.Len() != 3 {
		t.Errorf("Len() = %d, want 3", st.Len())
	}

	e, ok, err := st.GetOne(kv.RawKey("b"))
	if err != nil || !ok {
		t.Fatalf("GetOne(b): ok=%v err=%v", ok, err)
	}
	if string(e.Val.Value.Bytes()) != "2" {
		t.Errorf("GetOne(b) = %q, want %q", e.Val.Value.Bytes(), "2")
	}

	_, ok, err = st.GetOne(kv.RawKey("missing"))
	if err != nil {
		t.Fatalf("GetOne(missing): %v", err)
	}
	if ok {
		t.Error("GetOne(missing) should report ok=false")
	}
}

func TestWriteRejectsNonIncreasingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sst")
	pairs := []Pair{pair("b", "1"), pair("a", "2")}
	if _, err := Write(path, pairs); err == nil {
		t.Error("Write should reject keys that are not strictly increasing")
	}
}

func TestWriteTombstonePreserved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sst")
	pairs := []Pair{tombstonePair("a"), pair("b", "1")}
	st, err := Write(path, pairs)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	e, ok, err := st.GetOne(kv.RawKey("a"))
	if err != nil || !ok {
		t.Fatalf("GetOne(a): ok=%v err=%v", ok, err)
	}
	if !e.Val.IsTombstone() {
		t.Error("GetOne(a) should report a tombstone")
	}
}

func TestLoadReconstructsIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sst")
	var pairs []Pair
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		pairs = append(pairs, pair(k, k+k))
	}
	if _, err := Write(path, pairs); err != nil {
		t.Fatalf("Write: %v", err)
	}

	st, err := Load(path, memlog.RawCodec{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.Len() != len(pairs) {
		t.Fatalf("Len() = %d, want %d", st.Len(), len(pairs))
	}
	e, ok, err := st.GetOne(kv.RawKey("f"))
	if err != nil || !ok {
		t.Fatalf("GetOne(f) after Load: ok=%v err=%v", ok, err)
	}
	if string(e.Val.Value.Bytes()) != "ff" {
		t.Errorf("GetOne(f) = %q, want %q", e.Val.Value.Bytes(), "ff")
	}
}

func TestRangeBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sst")
	var pairs []Pair
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		pairs = append(pairs, pair(k, k))
	}
	st, err := Write(path, pairs)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	it, err := st.Range(kv.RawKey("b"), kv.RawKey("d"))
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, string(it.Entry().Key.Bytes()))
	}
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("Range(b, d) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Range(b, d) = %v, want %v", got, want)
			break
		}
	}
}

func TestRangeUnboundedReturnsEverything(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sst")
	pairs := []Pair{pair("a", "1"), pair("b", "2"), pair("c", "3")}
	st, err := Write(path, pairs)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	it, err := st.Range(nil, nil)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	defer it.Close()
	count := 0
	for it.Next() {
		count++
	}
	if count != len(pairs) {
		t.Errorf("unbounded Range returned %d entries, want %d", count, len(pairs))
	}
}

func TestCompressedValueRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sst")
	big := ""
	for i := 0; i < 500; i++ {
		big += "repeat-me-"
	}
	pairs := []Pair{{Key: kv.RawKey("a"), Val: kv.Some(kv.RawValue(big))}}
	if _, err := Write(path, pairs); err != nil {
		t.Fatalf("Write: %v", err)
	}
	st, err := Load(path, memlog.RawCodec{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	e, ok, err := st.GetOne(kv.RawKey("a"))
	if err != nil || !ok {
		t.Fatalf("GetOne: ok=%v err=%v", ok, err)
	}
	if string(e.Val.Value.Bytes()) != big {
		t.Error("compressed value did not round-trip intact")
	}
}

func TestChecksumMismatchDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sst")
	pairs := []Pair{pair("a", "1")}
	if _, err := Write(path, pairs); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// Flip a byte inside the value payload (after the 4-byte klen, 1-byte
	// key, 4-byte clen header) to corrupt the checksum.
	data[9] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path, memlog.RawCodec{}); err == nil {
		t.Error("Load should detect a checksum mismatch after corruption")
	}
}
