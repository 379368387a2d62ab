// Package worker implements one authority's batch pipeline: assembling
// batches from the execution pool, broadcasting them to sibling workers
// and waiting for quorum, storing and serving them, and fetching batches
// this worker lacks (§4.1, §4.2).
package worker

import (
	"bytes"
	"encoding/gob"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/telcoin-network/tn-consensus-core/storage"
	"github.com/telcoin-network/tn-consensus-core/types"
)

// storeCacheBytes sizes the in-memory front cache Store keeps over its
// durable batch table, avoiding a KV round trip (and, for LevelKV/Pebble,
// a disk read) for batches requested repeatedly in a short window.
const storeCacheBytes = 32 * 1024 * 1024

// Store is the append-only local batch map: authoritative for batches
// this worker produced, and a cache for batches fetched from peers (§4.2
// "Store contract").
type Store struct {
	table *storage.BatchTable
	cache *fastcache.Cache
}

// NewStore wraps kv's batch table with a bounded in-memory front cache.
func NewStore(kv storage.KV) *Store {
	return &Store{table: storage.NewBatchTable(kv), cache: fastcache.New(storeCacheBytes)}
}

// Put persists b, keyed by its own digest, and seeds the front cache.
func (s *Store) Put(b *types.Batch) error {
	if err := s.table.Put(b); err != nil {
		return err
	}
	s.cacheStore(b)
	return nil
}

// Get returns the batch for digest, or storage.ErrNotFound.
func (s *Store) Get(digest types.BatchDigest) (*types.Batch, error) {
	if raw, ok := s.cache.HasGet(nil, digest[:]); ok {
		var b types.Batch
		if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&b); err == nil {
			return &b, nil
		}
		// Corrupt cache entry: fall through to the durable table.
	}
	b, err := s.table.Get(digest)
	if err != nil {
		return nil, err
	}
	s.cacheStore(b)
	return b, nil
}

// Has reports whether digest is already stored locally.
func (s *Store) Has(digest types.BatchDigest) bool {
	if s.cache.Has(digest[:]) {
		return true
	}
	return s.table.Has(digest)
}

// GetMany returns every requested digest that is present locally.
func (s *Store) GetMany(digests []types.BatchDigest) map[types.BatchDigest]types.Batch {
	out := make(map[types.BatchDigest]types.Batch, len(digests))
	for _, d := range digests {
		if b, err := s.Get(d); err == nil {
			out[d] = *b
		}
	}
	return out
}

func (s *Store) cacheStore(b *types.Batch) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return
	}
	digest := b.Digest()
	s.cache.Set(digest[:], buf.Bytes())
}
