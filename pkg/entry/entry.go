// Package entry defines the row type returned by every lookup path in
// the storage core: a borrowed-or-owned variant so in-memory hits avoid
// copying while disk hits carry their own storage and may carry a
// deferred I/O error.
package entry

import "github.com/coldfront/lsmkv/pkg/kv"

// Kind distinguishes the two Entry variants.
type Kind uint8

const (
	// Borrowed entries reference a key/value owned by the unit that
	// produced them (typically an in-memory memlog). Valid only for
	// the lifetime of the snapshot that produced it.
	Borrowed Kind = iota
	// Owned entries carry their own key/value, read off disk, and may
	// carry a deferred I/O error discovered while materializing them.
	Owned
)

// Entry is a key/value pair plus an OptionalValue payload (a live value
// or a tombstone), tagged with which variant produced it.
type Entry struct {
	Kind Kind
	Key  kv.Key
	Val  kv.OptionalValue
	// Err is set only for Owned entries whose materialization failed;
	// callers must check it before trusting Key/Val.
	Err error
}

// NewBorrowed wraps a key/value pair referenced from an in-memory
// source without copying.
func NewBorrowed(k kv.Key, v kv.OptionalValue) Entry {
	return Entry{Kind: Borrowed, Key: k, Val: v}
}

// NewOwned wraps a key/value pair read from disk.
func NewOwned(k kv.Key, v kv.OptionalValue) Entry {
	return Entry{Kind: Owned, Key: k, Val: v}
}

// NewOwnedErr wraps a deferred I/O error discovered while reading an
// entry from disk; Key and Val are not valid.
func NewOwnedErr(err error) Entry {
	return Entry{Kind: Owned, Err: err}
}

// IsTombstone reports whether this entry represents a deletion.
func (e Entry) IsTombstone() bool {
	return e.Err == nil && e.Val.IsTombstone()
}
