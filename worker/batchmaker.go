package worker

import (
	"context"
	"time"

	"github.com/holiman/uint256"

	"github.com/telcoin-network/tn-consensus-core/eventbus"
	"github.com/telcoin-network/tn-consensus-core/types"
	"github.com/telcoin-network/tn-consensus-core/xlog"
)

// TransactionPool is the execution-layer pending-transaction source a
// BatchMaker pulls from (§4.1 "a pending-transactions notifier from the
// execution pool").
type TransactionPool interface {
	// Pending is closed (or signalled) whenever new transactions are
	// available. Implementations should treat repeated signals
	// idempotently.
	Pending() <-chan struct{}
	// Drain removes and returns up to maxTxs pending transactions.
	Drain(maxTxs int) [][]byte
}

// ExecutionBuilder seals the execution-side half of a batch: given the
// parent execution hash and the drained transactions, it produces a new
// execution header and post-state, returning the new parent hash and base
// fee to stamp onto the Batch (§4.1 "a build callback").
type ExecutionBuilder interface {
	BuildBatchHeader(ctx context.Context, parentHash [32]byte, txs [][]byte) (newParentHash [32]byte, baseFee uint64, err error)
}

// MiningPolicy decides when to cut a batch. "instant" triggers as soon as
// any transaction is pending; "interval" batches on a fixed timer
// regardless of pool pressure (§4.1 "under a mining policy").
type MiningPolicy interface {
	// Wait blocks until it is time to attempt a cut, or ctx is done.
	Wait(ctx context.Context, pool TransactionPool) error
}

// InstantPolicy cuts a batch as soon as the pool signals pending work.
type InstantPolicy struct{}

func (InstantPolicy) Wait(ctx context.Context, pool TransactionPool) error {
	select {
	case <-pool.Pending():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IntervalPolicy cuts a batch every Interval regardless of pool signals.
type IntervalPolicy struct {
	Interval time.Duration
}

func (p IntervalPolicy) Wait(ctx context.Context, pool TransactionPool) error {
	t := time.NewTimer(p.Interval)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BatchMaker assembles sealed batches under a MiningPolicy and hands each
// to the QuorumWaiter, announcing success to the primary via
// bus.OwnBatches (§4.1).
type BatchMaker struct {
	id       types.WorkerID
	policy   MiningPolicy
	pool     TransactionPool
	builder  ExecutionBuilder
	store    *Store
	waiter   *QuorumWaiter
	maxTxs   int
	parentHash [32]byte
	beneficiary [20]byte
	maxBaseFee *uint256.Int

	log *xlog.Logger
}

// NewBatchMaker wires a BatchMaker; parentHash is the execution chain's
// genesis or tip hash at startup. maxBaseFee clamps a misbehaving
// ExecutionBuilder's reported base fee, computed with overflow-safe
// 256-bit arithmetic the way execution-layer fee math is done.
func NewBatchMaker(id types.WorkerID, policy MiningPolicy, pool TransactionPool, builder ExecutionBuilder, store *Store, waiter *QuorumWaiter, maxTxs int, genesisParentHash [32]byte, beneficiary [20]byte, maxBaseFee uint64) *BatchMaker {
	return &BatchMaker{
		id: id, policy: policy, pool: pool, builder: builder, store: store,
		waiter: waiter, maxTxs: maxTxs, parentHash: genesisParentHash,
		beneficiary: beneficiary, maxBaseFee: uint256.NewInt(maxBaseFee),
		log: xlog.New("worker.batchmaker", "worker_id", id),
	}
}

// Run loops until ctx is done, cutting and sealing batches per the
// configured MiningPolicy.
func (m *BatchMaker) Run(ctx context.Context, bus *eventbus.ConsensusBus) {
	for {
		if err := m.policy.Wait(ctx, m.pool); err != nil {
			return
		}
		txs := m.pool.Drain(m.maxTxs)
		if len(txs) == 0 {
			continue
		}
		if err := m.cutBatch(ctx, bus, txs); err != nil {
			m.log.Error("batch cut failed", "err", err)
		}
	}
}

func (m *BatchMaker) cutBatch(ctx context.Context, bus *eventbus.ConsensusBus, txs [][]byte) error {
	newParentHash, baseFee, err := m.builder.BuildBatchHeader(ctx, m.parentHash, txs)
	if err != nil {
		return err
	}
	feeU256 := uint256.NewInt(baseFee)
	if m.maxBaseFee.Sign() > 0 && feeU256.Cmp(m.maxBaseFee) > 0 {
		m.log.Warn("execution builder reported base fee above configured ceiling, clamping", "reported", baseFee, "ceiling", m.maxBaseFee.Uint64())
		feeU256 = m.maxBaseFee
	}

	now := types.TimestampSec(time.Now().Unix())
	batch := &types.Batch{
		Transactions: txs,
		ParentHash:   m.parentHash,
		Beneficiary:  m.beneficiary,
		Timestamp:    now,
		BaseFee:      feeU256.Uint64(),
	}
	digest := batch.Digest()
	if err := m.store.Put(batch); err != nil {
		return err
	}
	m.parentHash = newParentHash

	if err := m.waiter.Broadcast(ctx, batch); err != nil {
		// The batch is persisted locally regardless so the primary can
		// still reference it (§4.1) even if quorum could not be reached
		// in time; log and continue rather than dropping it.
		m.log.Warn("quorum wait failed, batch still stored locally", "digest", digest, "err", err)
	}

	select {
	case bus.OwnBatches <- eventbus.OwnBatchMessage{Digest: digest, WorkerID: m.id, Timestamp: now}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

