package storage

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelKV is a goleveldb-backed KV, the default production storage
// backend (§4.9).
type LevelKV struct {
	db *leveldb.DB
}

// NewLevelKV opens (creating if absent) a goleveldb database at path.
func NewLevelKV(path string) (*LevelKV, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, err
	}
	return &LevelKV{db: db}, nil
}

func (l *LevelKV) Get(key []byte) ([]byte, error) {
	v, err := l.db.Get(key, nil)
	if err == errors.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (l *LevelKV) Put(key, value []byte) error {
	// Sync: true — §4.9 requires durable writes before the corresponding
	// network message goes out, for headers, votes, and commits.
	return l.db.Put(key, value, &opt.WriteOptions{Sync: true})
}

func (l *LevelKV) Delete(key []byte) error {
	return l.db.Delete(key, &opt.WriteOptions{Sync: true})
}

func (l *LevelKV) NewIterator(start, end []byte) (Iterator, error) {
	rng := &util.Range{Start: start, Limit: end}
	it := l.db.NewIterator(rng, nil)
	return &levelIterator{it: it}, nil
}

type levelIterator struct {
	it iterator.Iterator
}

func (it *levelIterator) Next() bool    { return it.it.Next() }
func (it *levelIterator) Key() []byte   { return it.it.Key() }
func (it *levelIterator) Value() []byte { return it.it.Value() }
func (it *levelIterator) Release()      { it.it.Release() }
func (it *levelIterator) Error() error  { return it.it.Error() }

type levelBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

func (l *LevelKV) NewBatch() Batch {
	return &levelBatch{db: l.db, batch: new(leveldb.Batch)}
}

func (b *levelBatch) Put(key, value []byte) { b.batch.Put(key, value) }
func (b *levelBatch) Delete(key []byte)     { b.batch.Delete(key) }
func (b *levelBatch) Commit() error {
	return b.db.Write(b.batch, &opt.WriteOptions{Sync: true})
}

func (l *LevelKV) Close() error { return l.db.Close() }
