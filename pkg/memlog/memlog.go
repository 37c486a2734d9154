// Package memlog implements the two memlog unit variants: a Writable
// memlog staged by one transaction, and a Readonly memlog that is the
// durable write-ahead log of a committed transaction. Framing is
// adapted from the teacher's pkg/wal append-only log.
package memlog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/coldfront/lsmkv/pkg/entry"
	"github.com/coldfront/lsmkv/pkg/entryset"
	"github.com/coldfront/lsmkv/pkg/kv"
	"github.com/coldfront/lsmkv/pkg/pools"
)

// checksumPool supplies the scratch buffer writeRecord/readRecord use
// to compute a record's CRC32 over its concatenated key and value,
// avoiding one allocation per record on the hot append/load paths.
var checksumPool = pools.NewBytePool()

// DefaultLogFileName is the primary memlog's filename within a unit
// directory. Secondary-index memlogs use unit.ScndFileName(num)
// instead, so a single staging unit directory can hold one writable
// memlog per defined index without collision.
const DefaultLogFileName = "prim.kv"

type kvPair struct {
	key kv.Key
	val kv.OptionalValue
}

// Writable is a per-transaction staging memlog: an in-memory sorted
// map backed by an append-only durable log on disk. Keys are kept
// sorted lazily (on Freeze) rather than on every Put, since reads
// during staging go through the transaction's own overlay first.
type Writable struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	writer  *bufio.Writer
	entries map[string]kvPair // keyed by key.Bytes() string
	keyOrd  []string          // insertion order, for iteration fallback
}

// NewWritable creates the durable log file named filename (typically
// DefaultLogFileName for the primary index, or unit.ScndFileName(num)
// for a secondary index) inside dir for a fresh staging unit.
func NewWritable(dir, filename string) (*Writable, error) {
	path := dir + string(os.PathSeparator) + filename
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("create memlog: %w", err)
	}
	return &Writable{
		path:    path,
		file:    f,
		writer:  bufio.NewWriter(f),
		entries: map[string]kvPair{},
	}, nil
}

// Put buffers key/value in memory and appends it to the durable log.
// It does not fsync; durability happens once at commit-attempt time
// via Flush.
func (w *Writable) Put(key kv.Key, val kv.OptionalValue) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := writeRecord(w.writer, key, val); err != nil {
		return err
	}
	k := string(key.Bytes())
	if _, exists := w.entries[k]; !exists {
		w.keyOrd = append(w.keyOrd, k)
	}
	w.entries[k] = kvPair{key: key, val: val}
	return nil
}

// GetOne returns the most recently staged value for key, if any.
func (w *Writable) GetOne(key kv.Key) (kv.OptionalValue, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.entries[string(key.Bytes())]
	return p.val, ok
}

// Len reports the number of distinct staged keys.
func (w *Writable) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Flush durably persists the append-only log: the caller (commit
// attempt) must call this before considering the staging unit safe to
// promote to Committed.
func (w *Writable) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close releases the underlying file handle without removing data;
// directory removal is the caller's (unit.Unit.Close) responsibility.
func (w *Writable) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Range returns entries in [lo, hi] (either bound nil for unbounded)
// over the currently staged keys, sorted ascending. Unlike Readonly's
// Range, this re-sorts the queried slice on every call rather than
// once at Freeze, since a Writable's key order only stabilizes then.
func (w *Writable) Range(lo, hi kv.Key) (entryset.Iterator, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var pairs []kvPair
	for _, k := range w.keyOrd {
		p := w.entries[k]
		if lo != nil && p.key.Compare(lo) < 0 {
			continue
		}
		if hi != nil && p.key.Compare(hi) > 0 {
			continue
		}
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key.Compare(pairs[j].key) < 0 })
	return &rangeIter{pairs: pairs, idx: -1}, nil
}

// Freeze closes out the writable log and returns the equivalent
// Readonly view sorted by key, the shape a freshly committed memlog
// unit presents to readers.
func (w *Writable) Freeze() *Readonly {
	w.mu.Lock()
	defer w.mu.Unlock()

	pairs := make([]kvPair, 0, len(w.entries))
	for _, k := range w.keyOrd {
		pairs = append(pairs, w.entries[k])
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].key.Compare(pairs[j].key) < 0
	})
	return &Readonly{pairs: pairs}
}

func writeRecord(w *bufio.Writer, key kv.Key, val kv.OptionalValue) error {
	kb := key.Bytes()
	vb := val.Bytes()
	if err := binary.Write(w, binary.BigEndian, uint32(len(kb))); err != nil {
		return err
	}
	if _, err := w.Write(kb); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(vb))); err != nil {
		return err
	}
	if _, err := w.Write(vb); err != nil {
		return err
	}
	sum := checksumPool.Get(len(kb) + len(vb))
	sum = append(sum, kb...)
	sum = append(sum, vb...)
	crc := crc32.ChecksumIEEE(sum)
	checksumPool.Put(sum)
	return binary.Write(w, binary.BigEndian, crc)
}

func readRecord(r *bufio.Reader) (kb, vb []byte, err error) {
	var klen uint32
	if err := binary.Read(r, binary.BigEndian, &klen); err != nil {
		return nil, nil, err
	}
	kb = make([]byte, klen)
	if _, err := io.ReadFull(r, kb); err != nil {
		return nil, nil, err
	}
	var vlen uint32
	if err := binary.Read(r, binary.BigEndian, &vlen); err != nil {
		return nil, nil, err
	}
	vb = make([]byte, vlen)
	if _, err := io.ReadFull(r, vb); err != nil {
		return nil, nil, err
	}
	var sum uint32
	if err := binary.Read(r, binary.BigEndian, &sum); err != nil {
		return nil, nil, err
	}
	check := checksumPool.Get(len(kb) + len(vb))
	check = append(check, kb...)
	check = append(check, vb...)
	got := crc32.ChecksumIEEE(check)
	checksumPool.Put(check)
	if got != sum {
		return nil, nil, fmt.Errorf("memlog: checksum mismatch")
	}
	return kb, vb, nil
}

// Codec decodes raw key/value bytes read from a memlog or SSTable file
// into typed kv.Key/kv.OptionalValue. It is the external collaborator
// named in spec.md §1: the byte-level serialization of individual key
// and value types is out of this module's scope.
type Codec interface {
	DecodeKey(b []byte) (kv.Key, error)
	DecodeOptionalValue(b []byte) (kv.OptionalValue, error)
}

// RawCodec treats keys and values as raw bytes (kv.RawKey / a
// tag-prefixed kv.RawValue), used by tests and by callers that don't
// need a richer external codec.
type RawCodec struct{}

func (RawCodec) DecodeKey(b []byte) (kv.Key, error) {
	return kv.RawKey(append([]byte{}, b...)), nil
}

func (RawCodec) DecodeOptionalValue(b []byte) (kv.OptionalValue, error) {
	if len(b) == 0 {
		return kv.OptionalValue{}, fmt.Errorf("memlog: empty optional-value encoding")
	}
	if kv.Tag(b[0]) == kv.Tombstone {
		return kv.None(), nil
	}
	return kv.Some(kv.RawValue(append([]byte{}, b[1:]...))), nil
}

// LoadReadonly reconstructs a Readonly memlog from its durable log
// file named filename inside dir, as happens on database load.
func LoadReadonly(dir, filename string, codec Codec) (*Readonly, error) {
	path := dir + string(os.PathSeparator) + filename
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var pairs []kvPair
	for {
		kb, vb, err := readRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("memlog: load %s: %w", dir, err)
		}
		k, err := codec.DecodeKey(kb)
		if err != nil {
			return nil, err
		}
		v, err := codec.DecodeOptionalValue(vb)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, kvPair{key: k, val: v})
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].key.Compare(pairs[j].key) < 0
	})
	// Last writer for a given key wins: drop earlier duplicates after
	// the stable sort groups them together.
	dedup := pairs[:0]
	for i, p := range pairs {
		if i+1 < len(pairs) && pairs[i+1].key.Compare(p.key) == 0 {
			continue
		}
		dedup = append(dedup, p)
	}
	return &Readonly{pairs: dedup}, nil
}

// Readonly is a frozen in-memory sorted table, the form a committed
// memlog unit presents to readers. It implements entryset.EntrySet.
type Readonly struct {
	pairs []kvPair
}

func (r *Readonly) Len() int { return len(r.pairs) }

func (r *Readonly) search(k kv.Key) int {
	return sort.Search(len(r.pairs), func(i int) bool {
		return r.pairs[i].key.Compare(k) >= 0
	})
}

func (r *Readonly) GetOne(k kv.Key) (entry.Entry, bool, error) {
	i := r.search(k)
	if i < len(r.pairs) && r.pairs[i].key.Compare(k) == 0 {
		return entry.NewBorrowed(r.pairs[i].key, r.pairs[i].val), true, nil
	}
	return entry.Entry{}, false, nil
}

func (r *Readonly) Range(lo, hi kv.Key) (entryset.Iterator, error) {
	start := 0
	if lo != nil {
		start = r.search(lo)
	}
	end := len(r.pairs)
	if hi != nil {
		end = sort.Search(len(r.pairs), func(i int) bool {
			return r.pairs[i].key.Compare(hi) > 0
		})
	}
	if start > end {
		start = end
	}
	return &rangeIter{pairs: r.pairs[start:end], idx: -1}, nil
}

type rangeIter struct {
	pairs []kvPair
	idx   int
}

func (it *rangeIter) Next() bool {
	it.idx++
	return it.idx < len(it.pairs)
}

func (it *rangeIter) Entry() entry.Entry {
	p := it.pairs[it.idx]
	return entry.NewBorrowed(p.key, p.val)
}

func (it *rangeIter) Close() error { return nil }
