// Package sstable implements the immutable sorted-file unit: a
// concatenation of (key, optional-value) pairs in ascending key order
// with no duplicates, read through a sparse in-memory offset index
// rebuilt on load. Framing is adapted from the teacher's pkg/lsm
// SSTable writer/reader (sstable_create.go, sstable_read.go).
package sstable

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"

	"github.com/golang/snappy"

	"github.com/coldfront/lsmkv/pkg/entry"
	"github.com/coldfront/lsmkv/pkg/entryset"
	"github.com/coldfront/lsmkv/pkg/kv"
	"github.com/coldfront/lsmkv/pkg/memlog"
	"github.com/coldfront/lsmkv/pkg/pools"
)

// checksumPool supplies the scratch buffer writePair/readPairAt use to
// compute a pair's CRC32, avoiding one allocation per pair on the
// write and scan paths.
var checksumPool = pools.NewBytePool()

// SparseIndexInterval is the sampling period for the sparse index: one
// entry captured every N-th pair. Small for testability, matching the
// source's own choice of 3.
const SparseIndexInterval = 3

type indexEntry struct {
	key    kv.Key
	offset int64
}

// Pair is a sorted (key, optional-value) row ready for Write, the
// shape a k-way merge (pkg/merge) hands to the SSTable writer.
type Pair struct {
	Key kv.Key
	Val kv.OptionalValue
}

// SSTable is an immutable sorted file plus a sparse in-memory
// key->offset index, reconstructed on load rather than persisted.
type SSTable struct {
	path  string
	count int
	index []indexEntry
	bloom *bloomFilter
}

// Write serializes pairs (already sorted ascending, deduplicated by
// the caller's k-way merge) to path in the SSTable wire format and
// returns the resulting in-memory SSTable view.
func Write(path string, pairs []Pair) (*SSTable, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	st := &SSTable{path: path, bloom: newBloomFilter(len(pairs), 0.01)}

	var offset int64
	var lastKey kv.Key
	for i, p := range pairs {
		if lastKey != nil && p.Key.Compare(lastKey) <= 0 {
			return nil, fmt.Errorf("sstable: keys not strictly increasing at index %d", i)
		}
		lastKey = p.Key

		n, err := writePair(w, p.Key, p.Val)
		if err != nil {
			return nil, err
		}
		if i%SparseIndexInterval == 0 {
			st.index = append(st.index, indexEntry{key: p.Key, offset: offset})
		}
		st.bloom.add(p.Key.Bytes())
		offset += n
		st.count++
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	if err := f.Sync(); err != nil {
		return nil, err
	}
	return st, nil
}

// writePair serializes one (key, optional-value) row. The value bytes
// are snappy-compressed on disk (values are typically the larger,
// more compressible half of a row; keys stay plaintext since the
// sparse index and bloom filter need to compare them without a
// decompress step).
func writePair(w *bufio.Writer, k kv.Key, v kv.OptionalValue) (int64, error) {
	kb := k.Bytes()
	cvb := snappy.Encode(nil, v.Bytes())
	var n int64
	if err := binary.Write(w, binary.BigEndian, uint32(len(kb))); err != nil {
		return 0, err
	}
	n += 4
	if _, err := w.Write(kb); err != nil {
		return 0, err
	}
	n += int64(len(kb))
	if err := binary.Write(w, binary.BigEndian, uint32(len(cvb))); err != nil {
		return 0, err
	}
	n += 4
	if _, err := w.Write(cvb); err != nil {
		return 0, err
	}
	n += int64(len(cvb))
	buf := checksumPool.Get(len(kb) + len(cvb))
	buf = append(buf, kb...)
	buf = append(buf, cvb...)
	sum := crc32.ChecksumIEEE(buf)
	checksumPool.Put(buf)
	if err := binary.Write(w, binary.BigEndian, sum); err != nil {
		return 0, err
	}
	n += 4
	return n, nil
}

func readPairAt(f *os.File, offset int64, codec memlog.Codec) (kv.Key, kv.OptionalValue, int64, error) {
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, kv.OptionalValue{}, 0, err
	}
	r := bufio.NewReader(f)

	var klen uint32
	if err := binary.Read(r, binary.BigEndian, &klen); err != nil {
		return nil, kv.OptionalValue{}, 0, err
	}
	kb := make([]byte, klen)
	if _, err := io.ReadFull(r, kb); err != nil {
		return nil, kv.OptionalValue{}, 0, err
	}
	var clen uint32
	if err := binary.Read(r, binary.BigEndian, &clen); err != nil {
		return nil, kv.OptionalValue{}, 0, err
	}
	cvb := make([]byte, clen)
	if _, err := io.ReadFull(r, cvb); err != nil {
		return nil, kv.OptionalValue{}, 0, err
	}
	var sum uint32
	if err := binary.Read(r, binary.BigEndian, &sum); err != nil {
		return nil, kv.OptionalValue{}, 0, err
	}
	check := checksumPool.Get(len(kb) + len(cvb))
	check = append(check, kb...)
	check = append(check, cvb...)
	got := crc32.ChecksumIEEE(check)
	checksumPool.Put(check)
	if got != sum {
		return nil, kv.OptionalValue{}, 0, fmt.Errorf("sstable: checksum mismatch at offset %d", offset)
	}
	k, err := codec.DecodeKey(kb)
	if err != nil {
		return nil, kv.OptionalValue{}, 0, err
	}
	vb, err := snappy.Decode(nil, cvb)
	if err != nil {
		return nil, kv.OptionalValue{}, 0, fmt.Errorf("sstable: decompress value at offset %d: %w", offset, err)
	}
	v, err := codec.DecodeOptionalValue(vb)
	if err != nil {
		return nil, kv.OptionalValue{}, 0, err
	}
	return k, v, 4 + int64(klen) + 4 + int64(clen) + 4, nil
}

// Load reconstructs the sparse index and bloom filter for an existing
// SSTable file by scanning it once.
func Load(path string, codec memlog.Codec) (*SSTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st := &SSTable{path: path}
	var keys [][]byte
	var offset int64
	for {
		k, _, n, err := readPairAt(f, offset, codec)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sstable: load %s: %w", path, err)
		}
		if st.count%SparseIndexInterval == 0 {
			st.index = append(st.index, indexEntry{key: k, offset: offset})
		}
		keys = append(keys, k.Bytes())
		offset += n
		st.count++
	}
	st.bloom = newBloomFilter(st.count, 0.01)
	for _, kb := range keys {
		st.bloom.add(kb)
	}
	return st, nil
}

func (st *SSTable) Len() int { return st.count }

// GetOne performs a point lookup: binary-search the sparse index for
// the largest captured key <= query key, seek there, then linearly
// read pairs until EOF or a key greater than the query.
func (st *SSTable) GetOne(k kv.Key) (entry.Entry, bool, error) {
	if st.bloom != nil && !st.bloom.mayContain(k.Bytes()) {
		return entry.Entry{}, false, nil
	}

	codec := memlog.RawCodec{}
	i := sort.Search(len(st.index), func(i int) bool {
		return st.index[i].key.Compare(k) > 0
	}) - 1
	var offset int64
	if i >= 0 {
		offset = st.index[i].offset
	}

	f, err := os.Open(st.path)
	if err != nil {
		return entry.Entry{}, false, err
	}
	defer f.Close()

	for {
		key, val, n, err := readPairAt(f, offset, codec)
		if err == io.EOF {
			return entry.Entry{}, false, nil
		}
		if err != nil {
			return entry.NewOwnedErr(err), false, err
		}
		cmp := key.Compare(k)
		if cmp == 0 {
			return entry.NewOwned(key, val), true, nil
		}
		if cmp > 0 {
			return entry.Entry{}, false, nil
		}
		offset += n
	}
}

// Range seeks to the sparse-index position at or before lo (or the
// start of the file if lo is nil) and linearly reads until hi is
// exceeded (or EOF if hi is nil).
func (st *SSTable) Range(lo, hi kv.Key) (entryset.Iterator, error) {
	var offset int64
	if lo != nil {
		i := sort.Search(len(st.index), func(i int) bool {
			return st.index[i].key.Compare(lo) > 0
		}) - 1
		if i >= 0 {
			offset = st.index[i].offset
		}
	}
	f, err := os.Open(st.path)
	if err != nil {
		return nil, err
	}
	return &rangeIter{f: f, offset: offset, lo: lo, hi: hi, codec: memlog.RawCodec{}}, nil
}

type rangeIter struct {
	f       *os.File
	offset  int64
	lo, hi  kv.Key
	codec   memlog.Codec
	current entry.Entry
	done    bool
}

func (it *rangeIter) Next() bool {
	if it.done {
		return false
	}
	for {
		k, v, n, err := readPairAt(it.f, it.offset, it.codec)
		if err == io.EOF {
			it.done = true
			return false
		}
		if err != nil {
			it.current = entry.NewOwnedErr(err)
			it.done = true
			return true
		}
		it.offset += n
		if it.lo != nil && k.Compare(it.lo) < 0 {
			continue
		}
		if it.hi != nil && k.Compare(it.hi) > 0 {
			it.done = true
			return false
		}
		it.current = entry.NewOwned(k, v)
		return true
	}
}

func (it *rangeIter) Entry() entry.Entry { return it.current }
func (it *rangeIter) Close() error       { return it.f.Close() }
