package kvstore

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	gleveldbiter "github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// levelDB is a Database backed by goleveldb, grounded on the teacher's
// storage/database/leveldb_database.go. Metrics collection and the
// open-file-handle tuning knobs the teacher exposes are out of scope
// here; the metrics package instruments call sites above this layer
// instead (SPEC_FULL.md §4.10).
type levelDB struct {
	path string
	db   *leveldb.DB
}

// OpenLevelDB opens (or creates) a LevelDB database at path, recovering
// from a corrupted database the same way NewLDBDatabase does.
func OpenLevelDB(path string) (Database, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, err
	}
	return &levelDB{path: path, db: db}, nil
}

func (d *levelDB) Put(key, value []byte) error { return d.db.Put(key, value, nil) }
func (d *levelDB) Has(key []byte) (bool, error) { return d.db.Has(key, nil) }

func (d *levelDB) Get(key []byte) ([]byte, error) {
	v, err := d.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (d *levelDB) Delete(key []byte) error { return d.db.Delete(key, nil) }

func (d *levelDB) NewBatch() Batch {
	return &levelDBBatch{db: d.db, batch: new(leveldb.Batch)}
}

func (d *levelDB) NewIteratorWithPrefix(prefix []byte) Iterator {
	return &levelDBIterator{it: d.db.NewIterator(util.BytesPrefix(prefix), nil)}
}

func (d *levelDB) Close() error { return d.db.Close() }

type levelDBBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
	size  int
}

func (b *levelDBBatch) Put(key, value []byte) error {
	b.batch.Put(key, value)
	b.size += len(key) + len(value)
	return nil
}

func (b *levelDBBatch) Delete(key []byte) error {
	b.batch.Delete(key)
	b.size += len(key)
	return nil
}

func (b *levelDBBatch) ValueSize() int { return b.size }
func (b *levelDBBatch) Write() error   { return b.db.Write(b.batch, nil) }
func (b *levelDBBatch) Reset()         { b.batch.Reset(); b.size = 0 }

type levelDBIterator struct {
	it gleveldbiter.Iterator
}

func (i *levelDBIterator) Next() bool    { return i.it.Next() }
func (i *levelDBIterator) Key() []byte   { return i.it.Key() }
func (i *levelDBIterator) Value() []byte { return i.it.Value() }
func (i *levelDBIterator) Release()      { i.it.Release() }
func (i *levelDBIterator) Error() error  { return i.it.Error() }
