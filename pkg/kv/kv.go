// Package kv defines the capability interfaces that the storage core
// requires of primary keys, primary values, and sub-values, plus the
// OptionalValue tombstone wrapper and the sub-value specification that
// defines secondary-index identity. Concrete key/value codecs are an
// external collaborator; this package only names what they must support.
package kv

import "bytes"

// Key is the capability required of a primary key or a sub-value: total
// order and byte-level serialization.
type Key interface {
	// Compare returns <0, 0, >0 as k is less than, equal to, or greater
	// than other. The implementations in this package have no separate
	// handling for keys whose bytes cannot be parsed: RawKey compares
	// against any other Key by raw bytes, and CompositeKey compares its
	// SV against any non-composite Key. Conflict detection and merge
	// ordering use the same result.
	Compare(other Key) int
	Bytes() []byte
}

// Value is the capability required of a primary value: byte-level
// serialization only. Values are not ordered.
type Value interface {
	Bytes() []byte
}

// RawKey is a Key backed directly by a byte slice, comparing
// lexicographically. It is the reference Key implementation used by
// tests and by components that don't need a richer codec.
type RawKey []byte

func (k RawKey) Compare(other Key) int {
	o, ok := other.(RawKey)
	if !ok {
		return bytes.Compare(k, other.Bytes())
	}
	return bytes.Compare(k, o)
}

func (k RawKey) Bytes() []byte { return []byte(k) }

// RawValue is a Value backed directly by a byte slice.
type RawValue []byte

func (v RawValue) Bytes() []byte { return []byte(v) }

// Tag distinguishes a live value from a tombstone inside OptionalValue.
type Tag uint8

const (
	Tombstone Tag = iota
	Present
)

// OptionalValue models a value-or-deletion uniformly, the way every
// write path in the core represents deletes: not as a distinct
// operation, but as a put of Tombstone.
type OptionalValue struct {
	Tag   Tag
	Value Value
}

func Some(v Value) OptionalValue { return OptionalValue{Tag: Present, Value: v} }
func None() OptionalValue        { return OptionalValue{Tag: Tombstone} }

func (o OptionalValue) IsTombstone() bool { return o.Tag == Tombstone }

// Bytes serializes the tag and, if present, the value, in the wire
// format used by memlog and SSTable units: one tag byte followed by the
// value's own bytes (empty for a tombstone).
func (o OptionalValue) Bytes() []byte {
	if o.Tag == Tombstone {
		return []byte{byte(Tombstone)}
	}
	return append([]byte{byte(Present)}, o.Value.Bytes()...)
}

// SVSpec is a sub-value specification: a nested member-index path plus
// an expected datum type, applied to a PV to extract a sub-value.
// Equality of two SVSpecs defines secondary-index identity.
type SVSpec struct {
	Path         []int
	ExpectedType string
}

// Equal reports whether two specs identify the same secondary index.
func (s SVSpec) Equal(other SVSpec) bool {
	if s.ExpectedType != other.ExpectedType || len(s.Path) != len(other.Path) {
		return false
	}
	for i, p := range s.Path {
		if other.Path[i] != p {
			return false
		}
	}
	return true
}

// Key returns a stable catalog key for this spec, used as the map key
// of the in-memory secondary-index catalog (the on-disk catalog line is
// written by dbstate's own formatter).
func (s SVSpec) Key() string {
	buf := make([]byte, 0, 4*len(s.Path)+len(s.ExpectedType)+1)
	for _, p := range s.Path {
		buf = append(buf, byte(p>>24), byte(p>>16), byte(p>>8), byte(p))
	}
	buf = append(buf, '|')
	buf = append(buf, s.ExpectedType...)
	return string(buf)
}

// SubValueExtractor extracts the sub-portion of a PV described by an
// SVSpec. It returns ok=false if the PV does not have a sub-value at
// that path/type (e.g. a tuple too short, or a type mismatch).
type SubValueExtractor interface {
	Extract(spec SVSpec, pv Value) (sv Key, ok bool)
}

// CompositeKey is the (sv, pk) key of a secondary-index entry-set
// (spec.md §2), ordered lexicographically by sv then by pk. Compared
// against a Key that is not a CompositeKey (a bare sub-value used as a
// secondary-index range bound), only the SV part is compared.
type CompositeKey struct {
	SV Key
	PK Key
}

func (c CompositeKey) Compare(other Key) int {
	o, ok := other.(CompositeKey)
	if !ok {
		return c.SV.Compare(other)
	}
	if cmp := c.SV.Compare(o.SV); cmp != 0 {
		return cmp
	}
	return c.PK.Compare(o.PK)
}

// Bytes serializes as a 4-byte big-endian SV length prefix followed by
// the SV bytes and then the PK bytes, so a codec that knows how to
// split an SV/PK pair back out of a flat byte slice can decode it on
// load. memlog.RawCodec does not attempt this split: it decodes the
// bytes back as a single RawKey.
func (c CompositeKey) Bytes() []byte {
	sv := c.SV.Bytes()
	pk := c.PK.Bytes()
	buf := make([]byte, 4, 4+len(sv)+len(pk))
	buf[0] = byte(len(sv) >> 24)
	buf[1] = byte(len(sv) >> 16)
	buf[2] = byte(len(sv) >> 8)
	buf[3] = byte(len(sv))
	buf = append(buf, sv...)
	buf = append(buf, pk...)
	return buf
}
