// Package executor bridges Bullshark's CommittedSubDag stream to the
// execution layer: hydrating each sub-DAG's certificates into the batches
// they reference, appending the digest-only commit record to the durable
// consensus log, and broadcasting the hydrated ConsensusOutput to
// execution subscribers (§4.8).
package executor

import (
	"container/list"
	"context"

	"github.com/telcoin-network/tn-consensus-core/committee"
	"github.com/telcoin-network/tn-consensus-core/eventbus"
	"github.com/telcoin-network/tn-consensus-core/storage"
	"github.com/telcoin-network/tn-consensus-core/types"
	"github.com/telcoin-network/tn-consensus-core/xlog"
)

// BatchSource resolves batch digests to their content, consulting a local
// store first and fetching from peers for whatever is missing. A
// worker.Fetcher (wrapping worker.Store) satisfies this.
type BatchSource interface {
	Fetch(ctx context.Context, digests []types.BatchDigest, candidateAuthorities []types.AuthorityIdentifier) (map[types.BatchDigest]types.Batch, error)
}

// Bridge consumes bus.CommittedSubDags, hydrates each sub-DAG into a
// ConsensusOutput, durably logs the digest-only commit record, and
// publishes the hydrated output on bus.ConsensusOutput.
type Bridge struct {
	source BatchSource
	comm   *committee.Committee
	log    *storage.ConsensusLogTable
	lastIndex types.SequenceNumber
	haveLast  bool

	xl *xlog.Logger
}

// New constructs a Bridge, recovering lastIndex from the durable
// consensus log so Run can skip commits already appended on a prior run
// (§4.8 "crash recovery: resume from the highest logged sub_dag_index").
// comm resolves each commit's leader authority to the execution address
// ConsensusOutput.Beneficiary reports, so the beneficiary varies per commit
// with whichever authority led that sub-DAG rather than staying fixed to
// this node.
func New(kv storage.KV, source BatchSource, comm *committee.Committee) (*Bridge, error) {
	logTable := storage.NewConsensusLogTable(kv)
	b := &Bridge{source: source, comm: comm, log: logTable, xl: xlog.New("executor.bridge")}

	commits, err := logTable.RangeFrom(0)
	if err != nil {
		return nil, err
	}
	// RangeFrom excludes its bound, so index 0 is read separately.
	if first, err := logTable.Get(0); err == nil {
		commits = append([]types.ConsensusCommit{*first}, commits...)
	}
	for _, c := range commits {
		if !b.haveLast || c.SubDagIndex > b.lastIndex {
			b.lastIndex = c.SubDagIndex
			b.haveLast = true
		}
	}
	return b, nil
}

// Recover replays every logged commit with index > after past replay,
// hydrating and republishing it on bus.ConsensusOutput, so an executor
// that crashed mid-stream re-observes every commit it may have missed
// (§4.8 property 6, "consensus output is re-derivable from the log").
func (b *Bridge) Recover(ctx context.Context, bus *eventbus.ConsensusBus, after types.SequenceNumber, certOf func(types.CertificateDigest) (*types.Certificate, bool)) error {
	commits, err := b.log.RangeFrom(after)
	if err != nil {
		return err
	}
	for _, c := range commits {
		sub := b.reconstructSubDag(c, certOf)
		if sub == nil {
			b.xl.Warn("cannot reconstruct sub-dag for replay, certificates missing", "sub_dag_index", c.SubDagIndex)
			continue
		}
		out, err := b.hydrate(ctx, sub)
		if err != nil {
			b.xl.Warn("hydration failed during replay", "sub_dag_index", c.SubDagIndex, "err", err)
			continue
		}
		bus.ConsensusOutput.SendNonBlocking(out)
	}
	return nil
}

func (b *Bridge) reconstructSubDag(c types.ConsensusCommit, certOf func(types.CertificateDigest) (*types.Certificate, bool)) *types.CommittedSubDag {
	leader, ok := certOf(c.LeaderDigest)
	if !ok {
		return nil
	}
	certs := make([]*types.Certificate, 0, len(c.CertificateDigests))
	for _, d := range c.CertificateDigests {
		cert, ok := certOf(d)
		if !ok {
			return nil
		}
		certs = append(certs, cert)
	}
	return &types.CommittedSubDag{Certificates: certs, Leader: leader, SubDagIndex: c.SubDagIndex, ReputationScores: c.ReputationScores}
}

// Run subscribes to bus.CommittedSubDags and processes each commit in
// arrival order until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, bus *eventbus.ConsensusBus) {
	sub := bus.CommittedSubDags.Subscribe()
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case commit, ok := <-sub.Chan():
			if !ok {
				return
			}
			b.process(ctx, bus, commit)
		}
	}
}

func (b *Bridge) process(ctx context.Context, bus *eventbus.ConsensusBus, commit *types.CommittedSubDag) {
	if b.haveLast && commit.SubDagIndex <= b.lastIndex {
		// Already durably logged on a prior run; Bullshark itself should
		// never re-emit a committed index, but skip defensively so a
		// replayed feed cannot double-append the log.
		return
	}

	record := types.ConsensusCommitFromSubDag(commit)
	if err := b.log.Append(record); err != nil {
		b.xl.Error("append consensus log failed", "sub_dag_index", commit.SubDagIndex, "err", err)
		return
	}
	b.lastIndex = commit.SubDagIndex
	b.haveLast = true

	out, err := b.hydrate(ctx, commit)
	if err != nil {
		b.xl.Error("hydration failed", "sub_dag_index", commit.SubDagIndex, "err", err)
		return
	}
	bus.ConsensusOutput.SendNonBlocking(out)
}

// hydrate resolves every certificate's payload digests to their Batch
// content, in certificate order, building the FIFO digest queue execution
// consumes from (§4.8).
func (b *Bridge) hydrate(ctx context.Context, sub *types.CommittedSubDag) (*types.ConsensusOutput, error) {
	blocks := make([][]types.Batch, len(sub.Certificates))
	digestQueue := list.New()

	for i, cert := range sub.Certificates {
		if len(cert.Header.Payload) == 0 {
			continue
		}
		digests := make([]types.BatchDigest, len(cert.Header.Payload))
		for j, e := range cert.Header.Payload {
			digests[j] = e.Digest
		}
		found, err := b.source.Fetch(ctx, digests, []types.AuthorityIdentifier{cert.Author()})
		if err != nil {
			return nil, err
		}
		batches := make([]types.Batch, 0, len(digests))
		for _, d := range digests {
			batch, ok := found[d]
			if !ok {
				return nil, types.NewError(types.KindNetwork, "executor: missing batch after fetch", nil)
			}
			batches = append(batches, batch)
			digestQueue.PushBack(d)
		}
		blocks[i] = batches
	}

	return &types.ConsensusOutput{SubDag: sub, Blocks: blocks, Beneficiary: b.beneficiaryOf(sub), BlockDigests: digestQueue}, nil
}

// beneficiaryOf resolves the sub-DAG's leader authority to its execution
// address. An unknown leader (should not happen for a committee-validated
// leader certificate) falls back to the zero address rather than panicking.
func (b *Bridge) beneficiaryOf(sub *types.CommittedSubDag) [20]byte {
	a, ok := b.comm.Authority(sub.Leader.Author())
	if !ok {
		return [20]byte{}
	}
	return a.ExecutionAddress
}
