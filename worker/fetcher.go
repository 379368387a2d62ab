package worker

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/telcoin-network/tn-consensus-core/committee"
	"github.com/telcoin-network/tn-consensus-core/rpc"
	"github.com/telcoin-network/tn-consensus-core/types"
	"github.com/telcoin-network/tn-consensus-core/xlog"
)

// Fetcher retrieves batches this worker is missing, given a set of digests
// and candidate authorities, contacting a random subset of their workers
// and retrying with fresh peers on timeout (§4.2 "Fetcher contract").
// Concurrent requests whose missing digests form the same list, in the
// same order, are coalesced with singleflight so a burst of identical
// synchronizer calls does not multiply network load; merely overlapping
// lists are fetched separately.
type Fetcher struct {
	self      types.AuthorityIdentifier
	workerID  types.WorkerID
	comm      *committee.Committee
	cache     *committee.WorkerCache
	transport rpc.Transport
	store     *Store
	group     singleflight.Group
	maxRetries int
	backoff   time.Duration

	log *xlog.Logger
}

// NewFetcher constructs a Fetcher for one worker slot.
func NewFetcher(self types.AuthorityIdentifier, workerID types.WorkerID, comm *committee.Committee, cache *committee.WorkerCache, transport rpc.Transport, store *Store, maxRetries int, backoff time.Duration) *Fetcher {
	return &Fetcher{
		self: self, workerID: workerID, comm: comm, cache: cache, transport: transport,
		store: store, maxRetries: maxRetries, backoff: backoff,
		log: xlog.New("worker.fetcher", "worker_id", workerID),
	}
}

// Fetch resolves every digest in digests to its Batch, preferring the
// local store, then contacting candidateAuthorities' workers for the
// remainder.
func (f *Fetcher) Fetch(ctx context.Context, digests []types.BatchDigest, candidateAuthorities []types.AuthorityIdentifier) (map[types.BatchDigest]types.Batch, error) {
	out := make(map[types.BatchDigest]types.Batch, len(digests))
	var missing []types.BatchDigest
	for _, d := range digests {
		if b, err := f.store.Get(d); err == nil {
			out[d] = *b
			continue
		}
		missing = append(missing, d)
	}
	if len(missing) == 0 {
		return out, nil
	}

	key := coalesceKey(missing)
	v, err, _ := f.group.Do(key, func() (interface{}, error) {
		return f.fetchRemote(ctx, missing, candidateAuthorities)
	})
	if err != nil {
		return out, err
	}
	fetched := v.(map[types.BatchDigest]types.Batch)
	for d, b := range fetched {
		b := b
		out[d] = b
		_ = f.store.Put(&b)
	}
	return out, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, digests []types.BatchDigest, candidates []types.AuthorityIdentifier) (map[types.BatchDigest]types.Batch, error) {
	remaining := make(map[types.BatchDigest]struct{}, len(digests))
	for _, d := range digests {
		remaining[d] = struct{}{}
	}
	result := make(map[types.BatchDigest]types.Batch, len(digests))

	peers := shufflePeers(candidates, f.self)
	for attempt := 0; attempt < f.maxRetries && len(remaining) > 0; attempt++ {
		if len(peers) == 0 {
			peers = shufflePeers(candidates, f.self)
		}
		if len(peers) == 0 {
			break
		}
		peer := peers[0]
		peers = peers[1:]

		addr, err := f.cache.Address(peer, f.workerID)
		if err != nil {
			continue
		}
		reqDigests := make([]types.BatchDigest, 0, len(remaining))
		for d := range remaining {
			reqDigests = append(reqDigests, d)
		}
		req := &rpc.RequestBatchesRequest{Digests: reqDigests}
		var resp rpc.RequestBatchesResponse
		if err := f.transport.Call(ctx, addr, "RequestBatches", req, &resp); err != nil {
			f.log.Warn("fetch attempt failed", "peer", peer, "err", err)
			time.Sleep(f.backoff)
			continue
		}
		for d, b := range resp.Batches {
			result[d] = b
			delete(remaining, d)
		}
	}
	if len(remaining) > 0 {
		return result, fmt.Errorf("worker: fetcher could not retrieve %d of %d digests", len(remaining), len(digests))
	}
	return result, nil
}

// coalesceKey concatenates the digests in the given order, so concurrent
// fetches of the same ordered digest list coalesce via singleflight.
func coalesceKey(digests []types.BatchDigest) string {
	key := make([]byte, 0, len(digests)*32)
	for _, d := range digests {
		key = append(key, d[:]...)
	}
	return string(key)
}

func shufflePeers(candidates []types.AuthorityIdentifier, self types.AuthorityIdentifier) []types.AuthorityIdentifier {
	out := make([]types.AuthorityIdentifier, 0, len(candidates))
	for _, c := range candidates {
		if c != self {
			out = append(out, c)
		}
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// HandleRequestBatches is the server-side handler for a RequestBatches
// call from a sibling worker.
func (f *Fetcher) HandleRequestBatches(req *rpc.RequestBatchesRequest, maxResponseBatches int) *rpc.RequestBatchesResponse {
	resp := &rpc.RequestBatchesResponse{Batches: make(map[types.BatchDigest]types.Batch)}
	for _, d := range req.Digests {
		if len(resp.Batches) >= maxResponseBatches {
			resp.IsSizeLimitReached = true
			break
		}
		if b, err := f.store.Get(d); err == nil {
			resp.Batches[d] = *b
		}
	}
	return resp
}
