package kvstore

import (
	"bytes"
	"fmt"
	"os"

	"github.com/dgraph-io/badger"
)

// badgerDB is a Database backed by BadgerDB, grounded directly on the
// teacher's storage/database/badger_database.go: one-shot
// transactions for Put/Has/Get/Delete, a long-lived write transaction
// backing a Batch. The teacher's periodic value-log GC loop is a
// deployment concern (it trades a background goroutine for disk
// reclaim); it is out of scope for the in-process Database interface
// this package exposes.
type badgerDB struct {
	path string
	db   *badger.DB
}

func badgerDefaultOptions(dir string) badger.Options {
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	return opts
}

// OpenBadgerDB opens (or creates) a BadgerDB database at dir.
func OpenBadgerDB(dir string) (Database, error) {
	if fi, err := os.Stat(dir); err == nil {
		if !fi.IsDir() {
			return nil, fmt.Errorf("kvstore: %s is not a directory", dir)
		}
	} else if os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("kvstore: mkdir %s: %w", dir, err)
		}
	} else {
		return nil, fmt.Errorf("kvstore: stat %s: %w", dir, err)
	}

	db, err := badger.Open(badgerDefaultOptions(dir))
	if err != nil {
		return nil, fmt.Errorf("kvstore: open badger at %s: %w", dir, err)
	}
	return &badgerDB{path: dir, db: db}, nil
}

func (d *badgerDB) Put(key, value []byte) error {
	txn := d.db.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Set(key, value); err != nil {
		return err
	}
	return txn.Commit(nil)
}

func (d *badgerDB) Has(key []byte) (bool, error) {
	txn := d.db.NewTransaction(false)
	defer txn.Discard()
	_, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *badgerDB) Get(key []byte) ([]byte, error) {
	txn := d.db.NewTransaction(false)
	defer txn.Discard()
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.Value()
}

func (d *badgerDB) Delete(key []byte) error {
	txn := d.db.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Delete(key); err != nil {
		return err
	}
	return txn.Commit(nil)
}

func (d *badgerDB) NewBatch() Batch {
	return &badgerBatch{db: d.db, txn: d.db.NewTransaction(true)}
}

func (d *badgerDB) NewIteratorWithPrefix(prefix []byte) Iterator {
	txn := d.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	it := txn.NewIterator(opts)
	it.Seek(prefix)
	return &badgerIterator{txn: txn, it: it, prefix: append([]byte(nil), prefix...), started: false}
}

func (d *badgerDB) Close() error { return d.db.Close() }

type badgerBatch struct {
	db   *badger.DB
	txn  *badger.Txn
	size int
}

func (b *badgerBatch) Put(key, value []byte) error {
	b.size += len(key) + len(value)
	return b.txn.Set(key, value)
}

func (b *badgerBatch) Delete(key []byte) error {
	b.size += len(key)
	return b.txn.Delete(key)
}

func (b *badgerBatch) ValueSize() int { return b.size }
func (b *badgerBatch) Write() error   { return b.txn.Commit(nil) }

func (b *badgerBatch) Reset() {
	b.txn = b.db.NewTransaction(true)
	b.size = 0
}

type badgerIterator struct {
	txn     *badger.Txn
	it      *badger.Iterator
	prefix  []byte
	started bool
}

func (i *badgerIterator) Next() bool {
	if i.started {
		i.it.Next()
	}
	i.started = true
	return i.it.ValidForPrefix(i.prefix)
}

func (i *badgerIterator) Key() []byte {
	return i.it.Item().KeyCopy(nil)
}

func (i *badgerIterator) Value() []byte {
	v, _ := i.it.Item().Value()
	return bytes.Clone(v)
}

func (i *badgerIterator) Release() {
	i.it.Close()
	i.txn.Discard()
}

func (i *badgerIterator) Error() error { return nil }
