// Package kvstore defines the persistent KV store boundary spec.md §6
// calls for ("ordered key/value with atomic batch writes and a
// range-scan iterator") and provides two concrete backends, grounded
// on the teacher's own dual-backend split (storage/database/
// leveldb_database.go and badger_database.go): the Database interface
// mirrors the teacher's Put/Get/Has/Delete/NewBatch shape, generalized
// from a package-level type switch to an interface every responder
// store and action store can depend on directly.
package kvstore

import "errors"

// ErrNotFound is returned by Get when a key is absent, mirroring the
// teacher's leveldb.ErrNotFound passthrough.
var ErrNotFound = errors.New("kvstore: key not found")

// Database is the persistent KV store boundary. Implementations must
// support atomic batched writes and a prefix range-scan iterator.
type Database interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	NewBatch() Batch
	NewIteratorWithPrefix(prefix []byte) Iterator
	Close() error
}

// Batch accumulates writes for one atomic commit, mirroring the
// teacher's Batch interface (storage/database/badger_database.go).
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	ValueSize() int
	Write() error
	Reset()
}

// Iterator walks a range of keys sharing a prefix, ordered by key.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}
