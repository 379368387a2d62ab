package worker

import (
	"context"
	"testing"

	"github.com/telcoin-network/tn-consensus-core/storage"
	"github.com/telcoin-network/tn-consensus-core/types"
)

func TestStorePutGet(t *testing.T) {
	kv := storage.NewMemKV()
	store := NewStore(kv)

	batch := &types.Batch{Transactions: [][]byte{{1, 2}, {3, 4}}, Timestamp: 100}
	if err := store.Put(batch); err != nil {
		t.Fatalf("put: %v", err)
	}
	digest := batch.Digest()
	if !store.Has(digest) {
		t.Fatalf("expected store to have %v", digest)
	}
	got, err := store.Get(digest)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(got.Transactions))
	}
}

func TestStoreGetManySkipsMissing(t *testing.T) {
	kv := storage.NewMemKV()
	store := NewStore(kv)

	present := &types.Batch{Transactions: [][]byte{{9}}, Timestamp: 1}
	if err := store.Put(present); err != nil {
		t.Fatalf("put: %v", err)
	}
	missingDigest := types.BatchDigest{0xaa}

	got := store.GetMany([]types.BatchDigest{present.Digest(), missingDigest})
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 resolved batch, got %d", len(got))
	}
	if _, ok := got[missingDigest]; ok {
		t.Fatalf("did not expect missing digest to resolve")
	}
}

type fakePool struct {
	ch  chan struct{}
	txs [][]byte
}

func (p *fakePool) Pending() <-chan struct{} { return p.ch }
func (p *fakePool) Drain(max int) [][]byte {
	if len(p.txs) < max {
		max = len(p.txs)
	}
	out := p.txs[:max]
	p.txs = p.txs[max:]
	return out
}

func TestInstantPolicyWaitsForPendingSignal(t *testing.T) {
	pool := &fakePool{ch: make(chan struct{}, 1)}
	pool.ch <- struct{}{}
	if err := (InstantPolicy{}).Wait(context.Background(), pool); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
