// Package storage provides an ordered key-value abstraction (§3's "the
// on-disk key-value store (an ordered map with range scans)") plus typed
// table views over it matching the schemas of §4.9.
package storage

import "errors"

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// KV is the minimal ordered key-value contract every storage backend
// (memory, goleveldb, pebble) implements. Keys sort lexicographically by
// byte value, which is why every typed key encoding in schemas.go is
// built to preserve the intended sort order (big-endian integers, fixed
// width fields).
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// NewIterator returns keys in [start, end) in ascending order. A nil
	// end means "no upper bound".
	NewIterator(start, end []byte) (Iterator, error)
	// NewBatch groups several writes for atomic, single-fsync
	// application — §4.9's durability requirement for propose/vote/commit
	// writes.
	NewBatch() Batch
	Close() error
}

// Iterator walks a key range in ascending order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// Batch accumulates writes for atomic application via Commit.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Commit() error
}
