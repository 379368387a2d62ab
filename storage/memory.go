package storage

import (
	"bytes"
	"sort"
	"sync"
)

// MemKV is an in-memory, sorted KV used by tests and by single-node
// development setups. Range scans are O(log n + k) via binary search over
// a maintained sorted key slice.
type MemKV struct {
	mu   sync.RWMutex
	data map[string][]byte
	keys []string // kept sorted
}

func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string][]byte)}
}

func (m *MemKV) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemKV) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(key, value)
	return nil
}

func (m *MemKV) putLocked(key, value []byte) {
	k := string(key)
	if _, exists := m.data[k]; !exists {
		i := sort.SearchStrings(m.keys, k)
		m.keys = append(m.keys, "")
		copy(m.keys[i+1:], m.keys[i:])
		m.keys[i] = k
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.data[k] = v
}

func (m *MemKV) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(key)
	return nil
}

func (m *MemKV) deleteLocked(key []byte) {
	k := string(key)
	if _, ok := m.data[k]; !ok {
		return
	}
	delete(m.data, k)
	i := sort.SearchStrings(m.keys, k)
	if i < len(m.keys) && m.keys[i] == k {
		m.keys = append(m.keys[:i], m.keys[i+1:]...)
	}
}

func (m *MemKV) NewIterator(start, end []byte) (Iterator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	from := sort.SearchStrings(m.keys, string(start))
	var keys []string
	for i := from; i < len(m.keys); i++ {
		if end != nil && bytes.Compare([]byte(m.keys[i]), end) >= 0 {
			break
		}
		keys = append(keys, m.keys[i])
	}
	return &memIterator{kv: m, keys: keys, pos: -1}, nil
}

type memIterator struct {
	kv   *MemKV
	keys []string
	pos  int
	key  []byte
	val  []byte
}

func (it *memIterator) Next() bool {
	it.pos++
	if it.pos >= len(it.keys) {
		return false
	}
	it.kv.mu.RLock()
	defer it.kv.mu.RUnlock()
	it.key = []byte(it.keys[it.pos])
	it.val = it.kv.data[it.keys[it.pos]]
	return true
}

func (it *memIterator) Key() []byte   { return it.key }
func (it *memIterator) Value() []byte { return it.val }
func (it *memIterator) Release()      {}
func (it *memIterator) Error() error  { return nil }

type memBatch struct {
	kv      *MemKV
	puts    map[string][]byte
	deletes map[string]bool
	order   []string
}

func (m *MemKV) NewBatch() Batch {
	return &memBatch{kv: m, puts: make(map[string][]byte), deletes: make(map[string]bool)}
}

func (b *memBatch) Put(key, value []byte) {
	k := string(key)
	if !b.deletes[k] {
		if _, exists := b.puts[k]; !exists {
			b.order = append(b.order, k)
		}
	} else {
		delete(b.deletes, k)
		b.order = append(b.order, k)
	}
	v := make([]byte, len(value))
	copy(v, value)
	b.puts[k] = v
}

func (b *memBatch) Delete(key []byte) {
	k := string(key)
	delete(b.puts, k)
	if !b.deletes[k] {
		b.deletes[k] = true
		b.order = append(b.order, k)
	}
}

func (b *memBatch) Commit() error {
	b.kv.mu.Lock()
	defer b.kv.mu.Unlock()
	for _, k := range b.order {
		if b.deletes[k] {
			b.kv.deleteLocked([]byte(k))
			continue
		}
		if v, ok := b.puts[k]; ok {
			b.kv.putLocked([]byte(k), v)
		}
	}
	return nil
}

func (m *MemKV) Close() error { return nil }
