package storage

import (
	"github.com/cockroachdb/pebble"
)

// PebbleKV is an alternate production storage backend, wired so both
// pack-provided ordered key-value engines (goleveldb and pebble) are
// exercised behind the same KV interface — see SPEC_FULL.md §4.9.
type PebbleKV struct {
	db *pebble.DB
}

func NewPebbleKV(path string) (*PebbleKV, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleKV{db: db}, nil
}

func (p *PebbleKV) Get(key []byte) ([]byte, error) {
	v, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	_ = closer.Close()
	return out, nil
}

func (p *PebbleKV) Put(key, value []byte) error {
	return p.db.Set(key, value, pebble.Sync)
}

func (p *PebbleKV) Delete(key []byte) error {
	return p.db.Delete(key, pebble.Sync)
}

func (p *PebbleKV) NewIterator(start, end []byte) (Iterator, error) {
	it, err := p.db.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	if err != nil {
		return nil, err
	}
	return &pebbleIterator{it: it, started: false}, nil
}

type pebbleIterator struct {
	it      *pebble.Iterator
	started bool
}

func (it *pebbleIterator) Next() bool {
	if !it.started {
		it.started = true
		return it.it.First()
	}
	return it.it.Next()
}

func (it *pebbleIterator) Key() []byte   { return it.it.Key() }
func (it *pebbleIterator) Value() []byte { return it.it.Value() }
func (it *pebbleIterator) Release()      { _ = it.it.Close() }
func (it *pebbleIterator) Error() error  { return it.it.Error() }

type pebbleBatch struct {
	db    *pebble.DB
	batch *pebble.Batch
}

func (p *PebbleKV) NewBatch() Batch {
	return &pebbleBatch{db: p.db, batch: p.db.NewBatch()}
}

func (b *pebbleBatch) Put(key, value []byte) { _ = b.batch.Set(key, value, nil) }
func (b *pebbleBatch) Delete(key []byte)     { _ = b.batch.Delete(key, nil) }
func (b *pebbleBatch) Commit() error         { return b.batch.Commit(pebble.Sync) }

func (p *PebbleKV) Close() error { return p.db.Close() }
