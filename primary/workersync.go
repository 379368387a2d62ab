package primary

import (
	"context"

	"github.com/telcoin-network/tn-consensus-core/committee"
	"github.com/telcoin-network/tn-consensus-core/rpc"
	"github.com/telcoin-network/tn-consensus-core/storage"
	"github.com/telcoin-network/tn-consensus-core/types"
)

// LocalWorkerSync implements WorkerSynchronizer against this node's own
// worker(s), in-process over the same Transport used for remote calls
// (§6 "Primary <-> Worker (local, in-process or loopback)").
type LocalWorkerSync struct {
	comm      *committee.Committee
	cache     *committee.WorkerCache
	self      types.AuthorityIdentifier
	transport rpc.Transport
	payload   *storage.PayloadTable
}

// NewLocalWorkerSync constructs a LocalWorkerSync.
func NewLocalWorkerSync(comm *committee.Committee, cache *committee.WorkerCache, self types.AuthorityIdentifier, transport rpc.Transport, payload *storage.PayloadTable) *LocalWorkerSync {
	return &LocalWorkerSync{comm: comm, cache: cache, self: self, transport: transport, payload: payload}
}

// SynchronizePayload ensures every digest is present on one of this
// node's own workers, fetching from target's worker(s) if not.
func (l *LocalWorkerSync) SynchronizePayload(ctx context.Context, digests []types.BatchDigest, target types.AuthorityIdentifier) error {
	var missing []types.BatchDigest
	for _, d := range digests {
		found := false
		for _, w := range l.cache.WorkersOf(l.self) {
			if l.payload.IsPresent(d, w) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, d)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	for _, w := range l.cache.WorkersOf(l.self) {
		addr, err := l.cache.Address(l.self, w)
		if err != nil {
			continue
		}
		req := &rpc.WorkerSynchronizeRequest{Digests: missing, Target: target, IsCertified: false}
		var resp struct{}
		_ = l.transport.Call(ctx, addr, "WorkerSynchronize", req, &resp)
	}

	var stillMissing []types.BatchDigest
	for _, d := range missing {
		present := false
		for _, w := range l.cache.WorkersOf(l.self) {
			if l.payload.IsPresent(d, w) {
				present = true
				break
			}
		}
		if !present {
			stillMissing = append(stillMissing, d)
		}
	}
	if len(stillMissing) > 0 {
		return types.NewError(types.KindNetwork, "worker sync: batches still missing after synchronize", nil)
	}
	return nil
}
