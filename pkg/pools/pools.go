// Package pools provides object pooling for reducing GC pressure on
// the hot paths that build and verify on-disk records.
//
// BytePool is the one pool wired into this module: memlog and SSTable
// writers borrow a scratch buffer from it to compute each entry's
// checksum, then return the buffer once the checksum is computed; the
// checksum itself is written after the record's key and value.
package pools
