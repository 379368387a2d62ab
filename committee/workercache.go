package committee

import (
	"fmt"

	"github.com/telcoin-network/tn-consensus-core/types"
)

// WorkerCache maps (authority, worker id) to the worker's transport
// address, so primaries can dispatch WorkerSynchronize/FetchBatches calls
// and workers can find their siblings for quorum broadcast.
type WorkerCache struct {
	byAuthority map[types.AuthorityIdentifier]map[types.WorkerID]string
}

// NewWorkerCache builds a WorkerCache from the genesis worker index.
func NewWorkerCache(validators []types.ValidatorInfo) *WorkerCache {
	wc := &WorkerCache{byAuthority: make(map[types.AuthorityIdentifier]map[types.WorkerID]string)}
	for _, v := range validators {
		workers := make(map[types.WorkerID]string, len(v.WorkerIndex))
		for id, addr := range v.WorkerIndex {
			workers[id] = addr
		}
		wc.byAuthority[v.AuthorityID] = workers
	}
	return wc
}

// Address returns the transport address of authority a's worker w.
func (wc *WorkerCache) Address(a types.AuthorityIdentifier, w types.WorkerID) (string, error) {
	workers, ok := wc.byAuthority[a]
	if !ok {
		return "", fmt.Errorf("workercache: unknown authority %s", a)
	}
	addr, ok := workers[w]
	if !ok {
		return "", fmt.Errorf("workercache: authority %s has no worker %d", a, w)
	}
	return addr, nil
}

// WorkersOf returns the worker ids known for an authority.
func (wc *WorkerCache) WorkersOf(a types.AuthorityIdentifier) []types.WorkerID {
	workers := wc.byAuthority[a]
	out := make([]types.WorkerID, 0, len(workers))
	for id := range workers {
		out = append(out, id)
	}
	return out
}

// Siblings returns every (authority, address) pair serving worker id w,
// excluding self — the quorum waiter's broadcast target list.
func (wc *WorkerCache) Siblings(self types.AuthorityIdentifier, w types.WorkerID) map[types.AuthorityIdentifier]string {
	out := make(map[types.AuthorityIdentifier]string)
	for a, workers := range wc.byAuthority {
		if a == self {
			continue
		}
		if addr, ok := workers[w]; ok {
			out[a] = addr
		}
	}
	return out
}
