package worker

import (
	"context"
	"time"

	"github.com/telcoin-network/tn-consensus-core/committee"
	"github.com/telcoin-network/tn-consensus-core/crypto"
	"github.com/telcoin-network/tn-consensus-core/eventbus"
	"github.com/telcoin-network/tn-consensus-core/rpc"
	"github.com/telcoin-network/tn-consensus-core/storage"
	"github.com/telcoin-network/tn-consensus-core/types"
	"github.com/telcoin-network/tn-consensus-core/xlog"
)

// Worker wires together the store, batch maker, quorum waiter and fetcher
// for one (authority, worker_id) slot, and serves the worker<->worker and
// primary<->worker RPC surfaces of §6.
type Worker struct {
	ID      types.WorkerID
	Store   *Store
	Maker   *BatchMaker
	Waiter  *QuorumWaiter
	Fetcher *Fetcher

	maxResponseBatches int
	log                *xlog.Logger
}

// Config bundles the construction-time dependencies a Worker needs beyond
// the committee and transport, which are shared process-wide.
type Config struct {
	Self               types.AuthorityIdentifier
	WorkerID           types.WorkerID
	Committee          *committee.Committee
	WorkerCache        *committee.WorkerCache
	Signer             *crypto.BLSPrivateKey
	Transport          rpc.Transport
	KV                 storage.KV
	Pool               TransactionPool
	Builder            ExecutionBuilder
	Policy             MiningPolicy
	MaxBatchTxs        int
	GenesisParentHash  [32]byte
	Beneficiary        [20]byte
	MaxFetchRetries    int
	FetchBackoff       time.Duration
	MaxResponseBatches int
	MaxBaseFee         uint64
}

// New constructs a fully wired Worker ready to Run.
func New(cfg Config) *Worker {
	store := NewStore(cfg.KV)
	waiter := NewQuorumWaiter(cfg.Self, cfg.WorkerID, cfg.Committee, cfg.WorkerCache, cfg.Signer, cfg.Transport)
	maker := NewBatchMaker(cfg.WorkerID, cfg.Policy, cfg.Pool, cfg.Builder, store, waiter, cfg.MaxBatchTxs, cfg.GenesisParentHash, cfg.Beneficiary, cfg.MaxBaseFee)
	fetcher := NewFetcher(cfg.Self, cfg.WorkerID, cfg.Committee, cfg.WorkerCache, cfg.Transport, store, cfg.MaxFetchRetries, cfg.FetchBackoff)
	maxResp := cfg.MaxResponseBatches
	if maxResp == 0 {
		maxResp = 256
	}
	return &Worker{
		ID: cfg.WorkerID, Store: store, Maker: maker, Waiter: waiter, Fetcher: fetcher,
		maxResponseBatches: maxResp, log: xlog.New("worker", "worker_id", cfg.WorkerID),
	}
}

// Run starts the batch maker loop until bus's context is cancelled.
func (w *Worker) Run(ctx context.Context, bus *eventbus.ConsensusBus) {
	w.Maker.Run(ctx, bus)
}

// RegisterRPC wires the worker's RPC surface onto server: ReportBatch and
// RequestBatches for sibling workers, WorkerSynchronize and FetchBatches
// for the local primary (§6).
func (w *Worker) RegisterRPC(server *rpc.Server) {
	server.Register("ReportBatch", func() any { return &rpc.ReportBatchRequest{} }, func(ctx context.Context, req any) (any, error) {
		return w.Waiter.HandleReportBatch(w.Store, req.(*rpc.ReportBatchRequest))
	})
	server.Register("RequestBatches", func() any { return &rpc.RequestBatchesRequest{} }, func(ctx context.Context, req any) (any, error) {
		return w.Fetcher.HandleRequestBatches(req.(*rpc.RequestBatchesRequest), w.maxResponseBatches), nil
	})
	server.Register("FetchBatches", func() any { return &rpc.FetchBatchesRequest{} }, func(ctx context.Context, req any) (any, error) {
		r := req.(*rpc.FetchBatchesRequest)
		batches, err := w.Fetcher.Fetch(ctx, r.Digests, r.KnownWorkers)
		if err != nil {
			w.log.Warn("FetchBatches incomplete", "err", err)
		}
		return &rpc.FetchBatchesResponse{Batches: batches}, nil
	})
}
